package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	LogLevel       string
	PublicBaseURL  string
	DatabaseURL    string
	MetricsEnabled bool

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Authentication
	JWTSecret              string
	JWTExpiration          time.Duration
	RefreshTokenExpiration time.Duration
	PasswordResetTTL       time.Duration
	TOTPIssuer             string
	LoginMaxFailures       int
	LoginFailureWindow     time.Duration

	EncryptionSecretKey string

	CORSAllowedOrigins []string
	TrustedProxies     []string
	RateLimitRPS       float64
	RateLimitBurst     int

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Documents
	DocumentsBucket  string
	DocumentMaxBytes int64

	// Notifications
	NotificationQueueURL     string
	UseMemoryQueue           bool
	WorkerCount              int
	NotificationPollInterval time.Duration
	NotificationMaxAttempts  int
	ReminderLeadTime         time.Duration
	EmailProvider            string
	SendGridAPIKey           string
	EmailFromAddress         string
	EmailFromName            string

	// Video
	STUNServers []string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		PublicBaseURL:  getEnv("PUBLIC_BASE_URL", "http://localhost:3000"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		JWTSecret:              getEnv("JWT_SECRET", ""),
		JWTExpiration:          getEnvAsDuration("JWT_EXPIRATION", 24*time.Hour),
		RefreshTokenExpiration: getEnvAsDuration("REFRESH_TOKEN_EXPIRATION", 7*24*time.Hour),
		PasswordResetTTL:       getEnvAsDuration("PASSWORD_RESET_TTL", 24*time.Hour),
		TOTPIssuer:             getEnv("TOTP_ISSUER", "OH-EHR"),
		LoginMaxFailures:       getEnvAsInt("LOGIN_MAX_FAILURES", 5),
		LoginFailureWindow:     getEnvAsDuration("LOGIN_FAILURE_WINDOW", 15*time.Minute),

		EncryptionSecretKey: getEnv("ENCRYPTION_SECRET_KEY", ""),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		TrustedProxies:     getEnvAsList("TRUSTED_PROXIES", nil),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),

		AWSRegion:           getEnv("AWS_REGION", "eu-west-2"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		DocumentsBucket:  getEnv("DOCUMENTS_BUCKET", ""),
		DocumentMaxBytes: int64(getEnvAsInt("DOCUMENT_MAX_BYTES", 10<<20)),

		NotificationQueueURL:     getEnv("NOTIFICATION_QUEUE_URL", ""),
		UseMemoryQueue:           getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:              getEnvAsInt("WORKER_COUNT", 2),
		NotificationPollInterval: getEnvAsDuration("NOTIFICATION_POLL_INTERVAL", 30*time.Second),
		NotificationMaxAttempts:  getEnvAsInt("NOTIFICATION_MAX_ATTEMPTS", 5),
		ReminderLeadTime:         getEnvAsDuration("REMINDER_LEAD_TIME", 24*time.Hour),
		EmailProvider:            strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "stub"))),
		SendGridAPIKey:           getEnv("SENDGRID_API_KEY", ""),
		EmailFromAddress:         getEnv("EMAIL_FROM_ADDRESS", "no-reply@oh-ehr.local"),
		EmailFromName:            getEnv("EMAIL_FROM_NAME", "Occupational Health"),

		STUNServers: getEnvAsList("STUN_SERVERS", []string{
			"stun:stun.l.google.com:19302",
			"stun:stun1.l.google.com:19302",
		}),
	}
}

// Validate reports settings the API cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("config: JWT_SECRET is required"))
	} else if len(c.JWTSecret) < 32 && c.Env == "production" {
		errs = append(errs, errors.New("config: JWT_SECRET must be at least 32 bytes in production"))
	}
	if strings.TrimSpace(c.EncryptionSecretKey) == "" {
		errs = append(errs, errors.New("config: ENCRYPTION_SECRET_KEY is required"))
	}
	if c.JWTExpiration <= 0 || c.RefreshTokenExpiration <= 0 {
		errs = append(errs, errors.New("config: token expirations must be positive"))
	}
	switch c.EmailProvider {
	case "stub", "ses":
	case "sendgrid":
		if c.SendGridAPIKey == "" {
			errs = append(errs, errors.New("config: SENDGRID_API_KEY is required for sendgrid"))
		}
	default:
		errs = append(errs, errors.New("config: EMAIL_PROVIDER must be ses, sendgrid or stub"))
	}
	return errors.Join(errs...)
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
