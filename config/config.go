package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/upb/queue-trigger-api/utils"
)

// defaultRegion is used when AWS_REGION is not set
const defaultRegion = "us-east-1"

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	AWS           AWSConfig
	Deployment    DeploymentConfig
	Auth          AuthConfig
	Observability ObservabilityConfig
	CORS          CORSConfig
	Environment   string `validate:"required"`

	// Warnings are problems found while loading that do not stop startup.
	// They are logged once a logger exists.
	Warnings []string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int           `validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `validate:"gt=0"`
	WriteTimeout    time.Duration `validate:"gt=0"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
	RequestTimeout  time.Duration `validate:"gt=0"`
	// BasePath is stripped from incoming API Gateway paths, e.g. "/pipeline-1"
	BasePath string
}

// AWSConfig holds the runtime's AWS settings
type AWSConfig struct {
	Region           string `validate:"required"`
	ExecutionEnv     string
	LambdaRuntimeAPI string
}

// DeploymentConfig identifies this deployment for trust discovery
type DeploymentConfig struct {
	DeploymentID             string
	PipelineID               string
	InfrastructureConfigJSON string
}

// AuthConfig holds identity token verification settings
type AuthConfig struct {
	IDTokenHeader          string        `validate:"required"`
	JWKSTimeout            time.Duration `validate:"gt=0"`
	JWKSCacheTTL           time.Duration `validate:"gte=0"`
	JWKSMinRefreshInterval time.Duration `validate:"gte=0"`
	RetryOnNetworkError    bool
	RetryDelay             time.Duration `validate:"gte=0"`
	ClockLeeway            time.Duration `validate:"gte=0"`
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=json text"` // json or text
}

// CORSConfig holds cross-origin settings for local HTTP mode
type CORSConfig struct {
	AllowedOrigins []string
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			RequestTimeout:  getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 60*time.Second),
		},
		AWS: AWSConfig{
			Region:           getEnv("AWS_REGION", ""),
			ExecutionEnv:     getEnv("AWS_EXECUTION_ENV", ""),
			LambdaRuntimeAPI: getEnv("AWS_LAMBDA_RUNTIME_API", ""),
		},
		Deployment: DeploymentConfig{
			DeploymentID:             getEnv("DEPLOYMENT_ID", ""),
			PipelineID:               getEnv("PIPELINE_ID", ""),
			InfrastructureConfigJSON: getEnv("INFRASTRUCTURE_CONFIG_JSON", ""),
		},
		Auth: AuthConfig{
			IDTokenHeader:          getEnv("ID_TOKEN_HEADER", "X-Id-Token"),
			JWKSTimeout:            getEnvAsDuration("JWKS_HTTP_TIMEOUT", 10*time.Second),
			JWKSCacheTTL:           getEnvAsDuration("JWKS_CACHE_TTL", time.Hour),
			JWKSMinRefreshInterval: getEnvAsDuration("JWKS_MIN_REFRESH_INTERVAL", time.Minute),
			RetryOnNetworkError:    getEnvAsBool("JWKS_RETRY_ON_NETWORK_ERROR", true),
			RetryDelay:             getEnvAsDuration("JWKS_RETRY_DELAY", 100*time.Millisecond),
			ClockLeeway:            getEnvAsDuration("TOKEN_CLOCK_LEEWAY", 0),
		},
		Observability: ObservabilityConfig{
			LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "json")),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:*", "https://*"}),
		},
	}

	if cfg.AWS.Region == "" {
		cfg.AWS.Region = defaultRegion
		cfg.Warnings = append(cfg.Warnings, "AWS_REGION is not set, defaulting to "+defaultRegion)
	}
	if cfg.Deployment.DeploymentID == "" {
		cfg.Warnings = append(cfg.Warnings, "DEPLOYMENT_ID is not set, trust configuration will be incomplete")
	}
	if cfg.Deployment.PipelineID != "" {
		cfg.Server.BasePath = "/" + strings.Trim(cfg.Deployment.PipelineID, "/")
	}
	cfg.Server.BasePath = getEnv("API_BASE_PATH", cfg.Server.BasePath)

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if err := utils.ValidateStruct(c); err != nil {
		if fields := utils.GetValidationFields(err); len(fields) > 0 {
			return fmt.Errorf("%w: %v", err, fields)
		}
		return err
	}

	if strings.EqualFold(c.Auth.IDTokenHeader, "cookie") {
		return fmt.Errorf("id token header cannot be %q", c.Auth.IDTokenHeader)
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("API base path must start with '/': %q", c.Server.BasePath)
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// IsLambda reports whether the process runs inside the Lambda runtime
func (c *Config) IsLambda() bool {
	return c.AWS.ExecutionEnv != "" || c.AWS.LambdaRuntimeAPI != ""
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma-separated value, dropping blanks
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var values []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}
