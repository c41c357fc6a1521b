package mainconfig

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/oh-ehr-portal/internal/config"
)

// localServices are the AWS services the portal talks to, and therefore the
// ones routed to AWS_ENDPOINT_OVERRIDE (LocalStack) when it is set.
var localServices = map[string]bool{
	sqs.ServiceID:   true,
	s3.ServiceID:    true,
	sesv2.ServiceID: true,
}

// LoadAWSConfig builds the SDK config shared by the API and the notification
// worker. Static keys are used only when both halves are present; otherwise
// the default chain (env, shared profile, task role) applies.
func LoadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.AWSRegion)}
	if key, secret := strings.TrimSpace(cfg.AWSAccessKeyID), strings.TrimSpace(cfg.AWSSecretAccessKey); key != "" && secret != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(key, secret, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	if endpoint := strings.TrimSpace(cfg.AWSEndpointOverride); endpoint != "" {
		awsCfg.EndpointResolverWithOptions = localResolver(endpoint, cfg.AWSRegion)
	}
	return awsCfg, nil
}

func localResolver(endpoint, region string) aws.EndpointResolverWithOptions {
	return aws.EndpointResolverWithOptionsFunc(func(service, _ string, _ ...interface{}) (aws.Endpoint, error) {
		if !localServices[service] {
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		}
		return aws.Endpoint{
			URL:               endpoint,
			PartitionID:       "aws",
			SigningRegion:     region,
			HostnameImmutable: true,
		}, nil
	})
}

// NewS3Client builds the documents bucket client. LocalStack only serves
// path-style addressing.
func NewS3Client(awsCfg aws.Config, cfg *appconfig.Config) *s3.Client {
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = strings.TrimSpace(cfg.AWSEndpointOverride) != ""
	})
}
