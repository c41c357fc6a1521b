package mainconfig

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/oh-ehr-portal/internal/config"
)

func TestLocalResolver(t *testing.T) {
	r := localResolver("http://localstack:4566", "eu-west-2")

	ep, err := r.ResolveEndpoint(sqs.ServiceID, "eu-west-2")
	require.NoError(t, err)
	assert.Equal(t, "http://localstack:4566", ep.URL)
	assert.Equal(t, "eu-west-2", ep.SigningRegion)
	assert.True(t, ep.HostnameImmutable)

	_, err = r.ResolveEndpoint("DynamoDB", "eu-west-2")
	var notFound *aws.EndpointNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestLoadAWSConfigWithStaticKeys(t *testing.T) {
	cfg := &appconfig.Config{
		AWSRegion:           "eu-west-2",
		AWSAccessKeyID:      "test",
		AWSSecretAccessKey:  "secret",
		AWSEndpointOverride: "http://localstack:4566",
	}
	awsCfg, err := LoadAWSConfig(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "eu-west-2", awsCfg.Region)
	require.NotNil(t, awsCfg.EndpointResolverWithOptions)

	creds, err := awsCfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test", creds.AccessKeyID)

	assert.True(t, NewS3Client(awsCfg, cfg).Options().UsePathStyle)
	assert.False(t, NewS3Client(awsCfg, &appconfig.Config{}).Options().UsePathStyle)
}
