// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	Redis       RedisConfig
	AWS         AWSConfig
	Payment     PaymentConfig
	Backend     BackendConfig
	Polling     PollingConfig
	Workflow    WorkflowConfig
	Search      SearchConfig
	OpenAI      OpenAIConfig
	I18n        I18nConfig
	Frontend    FrontendConfig
}

type FrontendConfig struct {
	BaseURL        string
	LoginRoute     string
	AllowedOrigins []string
}

type ServerConfig struct {
	Port         string
	Host         string
	ReadTimeout  int
	WriteTimeout int
	IdleTimeout  int
}

type DatabaseConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  int
	LogLevel     string
	AutoMigrate  bool
}

type JWTConfig struct {
	SecretKey string
	Issuer    string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	// Lifetime of a cached product search result
	SearchTTL time.Duration
}

type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	S3Bucket        string
	PresignTTL      time.Duration
	LocalExportDir  string
}

type PaymentConfig struct {
	StripeSecretKey      string
	StripePublishableKey string
	ReturnURL            string
	// Product type sent to the orders API for report generation
	ProductType string
	// Backend order confirmation after the provider reports success
	ConfirmInterval    time.Duration
	ConfirmMaxAttempts int
	// Order metadata backfill and download re-gate retries
	BackfillAttempts     int
	BackfillInitialDelay time.Duration
	RegateAttempts       int
	RegateInitialDelay   time.Duration
}

type BackendConfig struct {
	BaseURL string
	Timeout time.Duration
}

type PollingConfig struct {
	AnalysisInterval    time.Duration
	AnalysisMaxDuration time.Duration
	ResultsFirstDelay   time.Duration
	ResultsInterval     time.Duration
	ResultsMaxDuration  time.Duration
	SearchDebounce      time.Duration
	DownloadInterval    time.Duration
}

type WorkflowConfig struct {
	// "product-code" asks for an FDA product code first, "intended-use" skips straight to intended use
	FlowVariant string
	// Live workflows idle this long are unloaded; persisted state is kept
	IdleTimeout   time.Duration
	SweepInterval time.Duration
}

type SearchConfig struct {
	OpenFDABaseURL string
	OpenFDAKey     string
	DataGovBaseURL string
	DataGovKey     string
	OpenAlexURL    string
	OpenAlexMailto string
	ScopusBaseURL  string
	ScopusKey      string
	ResultLimit    int
	RatePerMinute  int
	Timeout        time.Duration
}

type OpenAIConfig struct {
	APIKey string
	Model  string
}

type I18nConfig struct {
	DefaultLocale string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	config := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "localhost"),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 0),
			IdleTimeout:  getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", ""),
			Database:     getEnv("DB_NAME", "pha_gateway"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  getEnvAsInt("DB_MAX_LIFETIME", 300),
			LogLevel:     getEnv("DB_LOG_LEVEL", "silent"),
			AutoMigrate:  getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		JWT: JWTConfig{
			SecretKey: getEnv("JWT_SECRET", defaultJWTSecret),
			Issuer:    getEnv("JWT_ISSUER", ""),
		},
		Redis: RedisConfig{
			Host:      getEnv("REDIS_HOST", ""),
			Port:      getEnv("REDIS_PORT", "6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			SearchTTL: getEnvAsDuration("REDIS_SEARCH_TTL", 24*time.Hour),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			S3Bucket:        getEnv("AWS_S3_BUCKET", "pha-report-exports"),
			PresignTTL:      getEnvAsDuration("AWS_PRESIGN_TTL", 15*time.Minute),
			LocalExportDir:  getEnv("LOCAL_EXPORT_DIR", "./exports"),
		},
		Payment: PaymentConfig{
			StripeSecretKey:      getEnv("STRIPE_SECRET_KEY", ""),
			StripePublishableKey: getEnv("STRIPE_PUBLISHABLE_KEY", ""),
			ReturnURL:            getEnv("STRIPE_RETURN_URL", ""),
			ProductType:          getEnv("PAYMENT_PRODUCT_TYPE", "pha_analysis"),
			ConfirmInterval:      getEnvAsDuration("PAYMENT_CONFIRM_INTERVAL", time.Second),
			ConfirmMaxAttempts:   getEnvAsInt("PAYMENT_CONFIRM_MAX_ATTEMPTS", 30),
			BackfillAttempts:     getEnvAsInt("PAYMENT_BACKFILL_ATTEMPTS", 5),
			BackfillInitialDelay: getEnvAsDuration("PAYMENT_BACKFILL_DELAY", 500*time.Millisecond),
			RegateAttempts:       getEnvAsInt("PAYMENT_REGATE_ATTEMPTS", 3),
			RegateInitialDelay:   getEnvAsDuration("PAYMENT_REGATE_DELAY", 500*time.Millisecond),
		},
		Backend: BackendConfig{
			BaseURL: getEnv("BACKEND_BASE_URL", "http://localhost:8000/api"),
			Timeout: getEnvAsDuration("BACKEND_TIMEOUT", 30*time.Second),
		},
		Polling: PollingConfig{
			AnalysisInterval:    getEnvAsDuration("POLL_ANALYSIS_INTERVAL", 5*time.Second),
			AnalysisMaxDuration: getEnvAsDuration("POLL_ANALYSIS_MAX_DURATION", 2*time.Hour),
			ResultsFirstDelay:   getEnvAsDuration("POLL_RESULTS_FIRST_DELAY", 2*time.Second),
			ResultsInterval:     getEnvAsDuration("POLL_RESULTS_INTERVAL", 7*time.Second),
			ResultsMaxDuration:  getEnvAsDuration("POLL_RESULTS_MAX_DURATION", 2*time.Hour),
			SearchDebounce:      getEnvAsDuration("POLL_SEARCH_DEBOUNCE", 500*time.Millisecond),
			DownloadInterval:    getEnvAsDuration("POLL_DOWNLOAD_INTERVAL", 3*time.Second),
		},
		Workflow: WorkflowConfig{
			FlowVariant:   getEnv("WORKFLOW_FLOW_VARIANT", "product-code"),
			IdleTimeout:   getEnvAsDuration("WORKFLOW_IDLE_TIMEOUT", 30*time.Minute),
			SweepInterval: getEnvAsDuration("WORKFLOW_SWEEP_INTERVAL", 5*time.Minute),
		},
		Search: SearchConfig{
			OpenFDABaseURL: getEnv("OPENFDA_BASE_URL", "https://api.fda.gov"),
			OpenFDAKey:     getEnv("OPENFDA_API_KEY", ""),
			DataGovBaseURL: getEnv("DATAGOV_BASE_URL", "https://catalog.data.gov/api/3"),
			DataGovKey:     getEnv("DATAGOV_API_KEY", ""),
			OpenAlexURL:    getEnv("OPENALEX_BASE_URL", "https://api.openalex.org"),
			OpenAlexMailto: getEnv("OPENALEX_MAILTO", ""),
			ScopusBaseURL:  getEnv("SCOPUS_BASE_URL", "https://api.elsevier.com/content"),
			ScopusKey:      getEnv("SCOPUS_API_KEY", ""),
			ResultLimit:    getEnvAsInt("SEARCH_RESULT_LIMIT", 20),
			RatePerMinute:  getEnvAsInt("SEARCH_RATE_PER_MINUTE", 60),
			Timeout:        getEnvAsDuration("SEARCH_TIMEOUT", 15*time.Second),
		},
		OpenAI: OpenAIConfig{
			APIKey: getEnv("OPENAI_API_KEY", ""),
			Model:  getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		},
		I18n: I18nConfig{
			DefaultLocale: getEnv("DEFAULT_LOCALE", "en"),
		},
		Frontend: FrontendConfig{
			BaseURL:    getEnv("FRONTEND_BASE_URL", "http://localhost:3000"),
			LoginRoute: getEnv("FRONTEND_LOGIN_ROUTE", "/login"),
		},
	}
	config.Frontend.AllowedOrigins = getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{config.Frontend.BaseURL})

	return config, config.Validate()
}

func (c *Config) Validate() error {
	if c.Workflow.FlowVariant != "product-code" && c.Workflow.FlowVariant != "intended-use" {
		return fmt.Errorf("unknown workflow flow variant %q", c.Workflow.FlowVariant)
	}

	if c.Payment.ConfirmMaxAttempts < 1 {
		return fmt.Errorf("payment confirmation needs at least one attempt")
	}

	if c.Environment != "production" {
		return nil
	}

	if c.JWT.SecretKey == defaultJWTSecret {
		return fmt.Errorf("JWT secret key must be changed in production")
	}

	if c.Payment.StripeSecretKey == "" {
		return fmt.Errorf("stripe secret key is required in production")
	}

	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend base URL is required in production")
	}

	if c.Database.Password == "" {
		return fmt.Errorf("database password is required in production")
	}

	return nil
}

func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(strings.ToLower(value)); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("5s") or a bare number of milliseconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

// getEnvAsSlice splits a comma-separated value, dropping empty entries.
func getEnvAsSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
