package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration.
type Config struct {
	ListenAddr   string             `yaml:"listen_addr" env:"LISTEN_ADDR"`
	LogLevel     string             `yaml:"log_level" env:"LOG_LEVEL"`
	PublicURL    string             `yaml:"public_url" env:"PUBLIC_URL"` // Base URL used in confirmation links
	Logging      LoggingConfig      `yaml:"logging"`
	Store        StoreConfig        `yaml:"store"`
	Crypto       CryptoConfig       `yaml:"crypto"`
	Auth         AuthConfig         `yaml:"auth"`
	Registration RegistrationConfig `yaml:"registration"`
	Credentials  CredentialsConfig  `yaml:"credentials"`
	Mail         MailConfig         `yaml:"mail"`
	TLS          TLSConfig          `yaml:"tls"`
	Server       ServerConfig       `yaml:"server"`
	Tracing      TracingConfig      `yaml:"tracing"`
}

// LoggingConfig holds access log configuration.
type LoggingConfig struct {
	AccessLogFormat string   `yaml:"access_log_format" env:"LOGGING_ACCESS_LOG_FORMAT"` // default, json, clf
	RedactHeaders   []string `yaml:"redact_headers" env:"LOGGING_REDACT_HEADERS"`
}

// StoreConfig selects and configures the document store.
type StoreConfig struct {
	Driver   string         `yaml:"driver" env:"STORE_DRIVER"` // memory, mongo, postgres
	Mongo    MongoConfig    `yaml:"mongo"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// MongoConfig holds MongoDB connection settings.
type MongoConfig struct {
	URI            string        `yaml:"uri" env:"MONGODB_URI"`
	Database       string        `yaml:"database" env:"MONGODB_DATABASE"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"MONGODB_CONNECT_TIMEOUT"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	DSN           string `yaml:"dsn" env:"POSTGRES_DSN"`
	MaxOpenConns  int    `yaml:"max_open_conns" env:"POSTGRES_MAX_OPEN_CONNS"`
	RunMigrations bool   `yaml:"run_migrations" env:"POSTGRES_RUN_MIGRATIONS"`
}

// IVSource describes where a fixed IV comes from. Hex takes precedence; a seed
// is stretched to 16 bytes with the key derivation function. An empty link IV
// falls back to the key-wrap IV.
type IVSource struct {
	Seed string `yaml:"seed" env:"SEED"`
	Hex  string `yaml:"hex" env:"HEX"`
}

// CryptoConfig holds envelope encryption settings.
type CryptoConfig struct {
	IVMode        string   `yaml:"iv_mode" env:"CRYPTO_IV_MODE"` // fixed, random
	KDFContext    string   `yaml:"kdf_context" env:"CRYPTO_KDF_CONTEXT"`
	KDFIterations int      `yaml:"kdf_iterations" env:"CRYPTO_KDF_ITERATIONS"`
	KeyWrapIV     IVSource `yaml:"key_wrap_iv" envPrefix:"CRYPTO_KEY_WRAP_IV_"`
	SecretValueIV IVSource `yaml:"secret_value_iv" envPrefix:"CRYPTO_SECRET_VALUE_IV_"`
	LinkIV        IVSource `yaml:"link_iv" envPrefix:"CRYPTO_LINK_IV_"`
	LinkSecret    string   `yaml:"link_secret" env:"CRYPTO_LINK_SECRET"` // Server key for registration links
}

// AuthConfig holds session settings.
type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	TokenTTL   time.Duration `yaml:"token_ttl" env:"AUTH_TOKEN_TTL"`
	BcryptCost int           `yaml:"bcrypt_cost" env:"AUTH_BCRYPT_COST"`
}

// RegistrationConfig holds sign-up settings.
type RegistrationConfig struct {
	RequireConfirmation bool          `yaml:"require_confirmation" env:"SEND_CONFIRMATION_MAIL"`
	LinkTTL             time.Duration `yaml:"link_ttl" env:"REGISTRATION_LINK_TTL"`
	AllowedEmails       []string      `yaml:"allowed_emails" env:"REGISTRATION_ALLOWED_EMAILS"` // Glob patterns, empty allows all
}

// CredentialsConfig holds API credential settings.
type CredentialsConfig struct {
	MaxIssueAttempts int `yaml:"max_issue_attempts" env:"CREDENTIALS_MAX_ISSUE_ATTEMPTS"`
}

// MailConfig selects the confirmation mail sender.
type MailConfig struct {
	Provider     string         `yaml:"provider" env:"MAIL_PROVIDER"` // log, postmark
	SenderEmail  string         `yaml:"sender_email" env:"MAIL_SENDER_EMAIL"`
	SupportEmail string         `yaml:"support_email" env:"MAIL_SUPPORT_EMAIL"`
	Postmark     PostmarkConfig `yaml:"postmark"`
}

// PostmarkConfig holds Postmark API tokens.
type PostmarkConfig struct {
	ServerToken  string `yaml:"server_token" env:"POSTMARK_SERVER_TOKEN"`
	AccountToken string `yaml:"account_token" env:"POSTMARK_ACCOUNT_TOKEN"`
}

// TLSConfig holds TLS configuration.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" env:"TLS_ENABLED"`
	CertFile string `yaml:"cert_file" env:"TLS_CERT_FILE"`
	KeyFile  string `yaml:"key_file" env:"TLS_KEY_FILE"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	ReadTimeout       time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout      time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"SERVER_READ_HEADER_TIMEOUT"`
	MaxHeaderBytes    int           `yaml:"max_header_bytes" env:"SERVER_MAX_HEADER_BYTES"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes" env:"SERVER_MAX_BODY_BYTES"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
}

// TracingConfig holds OpenTelemetry tracing configuration.
type TracingConfig struct {
	Enabled         bool    `yaml:"enabled" env:"TRACING_ENABLED"`
	ServiceName     string  `yaml:"service_name" env:"TRACING_SERVICE_NAME"`
	ServiceVersion  string  `yaml:"service_version" env:"TRACING_SERVICE_VERSION"`
	Exporter        string  `yaml:"exporter" env:"TRACING_EXPORTER"` // stdout, jaeger, otlp
	JaegerEndpoint  string  `yaml:"jaeger_endpoint" env:"TRACING_JAEGER_ENDPOINT"`
	OtlpEndpoint    string  `yaml:"otlp_endpoint" env:"TRACING_OTLP_ENDPOINT"`
	OtlpInsecure    bool    `yaml:"otlp_insecure" env:"TRACING_OTLP_INSECURE"`
	SamplingRatio   float64 `yaml:"sampling_ratio" env:"TRACING_SAMPLING_RATIO"`
	RedactSensitive bool    `yaml:"redact_sensitive" env:"TRACING_REDACT_SENSITIVE"`
}

// Default returns the configuration used before any file or environment overlay.
func Default() *Config {
	return &Config{
		ListenAddr: ":8080",
		LogLevel:   "info",
		PublicURL:  "http://localhost:8080",
		Logging: LoggingConfig{
			AccessLogFormat: "default",
			RedactHeaders:   []string{"authorization", "x-api-key", "cookie"},
		},
		Store: StoreConfig{
			Driver: "memory",
			Mongo: MongoConfig{
				Database:       "envvault",
				ConnectTimeout: 10 * time.Second,
			},
			Postgres: PostgresConfig{
				MaxOpenConns:  10,
				RunMigrations: true,
			},
		},
		Crypto: CryptoConfig{
			IVMode:        "fixed",
			KDFContext:    "salt",
			KDFIterations: 1,
		},
		Auth: AuthConfig{
			TokenTTL:   60 * 24 * time.Hour,
			BcryptCost: 10,
		},
		Registration: RegistrationConfig{
			RequireConfirmation: false,
			LinkTTL:             2 * time.Hour,
		},
		Credentials: CredentialsConfig{
			MaxIssueAttempts: 2,
		},
		Mail: MailConfig{
			Provider: "log",
		},
		Server: ServerConfig{
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			MaxHeaderBytes:    1 << 20, // 1MB
			MaxBodyBytes:      1 << 20,
			ShutdownTimeout:   30 * time.Second,
		},
		Tracing: TracingConfig{
			Enabled:         false,
			ServiceName:     "envvault",
			ServiceVersion:  "dev",
			Exporter:        "stdout",
			SamplingRatio:   1.0,
			RedactSensitive: true,
		},
	}
}

// LoadConfig loads configuration from a file and environment variables.
func LoadConfig(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	for i := range config.Logging.RedactHeaders {
		config.Logging.RedactHeaders[i] = strings.TrimSpace(config.Logging.RedactHeaders[i])
	}
	for i := range config.Registration.AllowedEmails {
		config.Registration.AllowedEmails[i] = strings.TrimSpace(config.Registration.AllowedEmails[i])
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}

	if c.LogLevel != "" {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[c.LogLevel] {
			return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", c.LogLevel)
		}
	}

	switch c.Logging.AccessLogFormat {
	case "", "default", "json", "clf":
	default:
		return fmt.Errorf("invalid logging.access_log_format: %s (must be default, json, or clf)", c.Logging.AccessLogFormat)
	}

	switch c.Store.Driver {
	case "memory":
	case "mongo":
		if c.Store.Mongo.URI == "" {
			return fmt.Errorf("store.mongo.uri is required when driver is mongo")
		}
		if c.Store.Mongo.Database == "" {
			return fmt.Errorf("store.mongo.database is required when driver is mongo")
		}
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn is required when driver is postgres")
		}
	default:
		return fmt.Errorf("invalid store.driver: %s (must be memory, mongo, or postgres)", c.Store.Driver)
	}

	if err := c.Crypto.validate(); err != nil {
		return err
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("auth.bcrypt_cost must be between 4 and 31")
	}

	if c.Registration.RequireConfirmation {
		if c.Crypto.LinkSecret == "" {
			return fmt.Errorf("crypto.link_secret is required when registration.require_confirmation is enabled")
		}
		if c.PublicURL == "" {
			return fmt.Errorf("public_url is required when registration.require_confirmation is enabled")
		}
	}
	if c.Registration.LinkTTL <= 0 {
		return fmt.Errorf("registration.link_ttl must be positive")
	}

	if c.Credentials.MaxIssueAttempts < 1 {
		return fmt.Errorf("credentials.max_issue_attempts must be at least 1")
	}

	switch c.Mail.Provider {
	case "log":
	case "postmark":
		if c.Mail.Postmark.ServerToken == "" || c.Mail.Postmark.AccountToken == "" {
			return fmt.Errorf("mail.postmark tokens are required when provider is postmark")
		}
		if c.Mail.SenderEmail == "" {
			return fmt.Errorf("mail.sender_email is required when provider is postmark")
		}
	default:
		return fmt.Errorf("invalid mail.provider: %s (must be log or postmark)", c.Mail.Provider)
	}

	if c.TLS.Enabled {
		if c.TLS.CertFile == "" {
			return fmt.Errorf("tls.cert_file is required when TLS is enabled")
		}
		if c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.key_file is required when TLS is enabled")
		}
	}

	if c.Tracing.Enabled {
		if c.Tracing.ServiceName == "" {
			return fmt.Errorf("tracing.service_name is required when tracing is enabled")
		}
		validExporters := map[string]bool{
			"stdout": true,
			"jaeger": true,
			"otlp":   true,
		}
		if !validExporters[c.Tracing.Exporter] {
			return fmt.Errorf("invalid tracing.exporter: %s (must be stdout, jaeger, or otlp)", c.Tracing.Exporter)
		}
		if c.Tracing.SamplingRatio < 0.0 || c.Tracing.SamplingRatio > 1.0 {
			return fmt.Errorf("tracing.sampling_ratio must be between 0.0 and 1.0")
		}
		if c.Tracing.Exporter == "jaeger" && c.Tracing.JaegerEndpoint == "" {
			return fmt.Errorf("tracing.jaeger_endpoint is required when exporter is jaeger")
		}
		if c.Tracing.Exporter == "otlp" && c.Tracing.OtlpEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is otlp")
		}
	}

	return nil
}

func (c *CryptoConfig) validate() error {
	switch c.IVMode {
	case "random":
	case "fixed":
		for name, src := range map[string]IVSource{
			"key_wrap_iv":     c.KeyWrapIV,
			"secret_value_iv": c.SecretValueIV,
		} {
			if src.Seed == "" && src.Hex == "" {
				return fmt.Errorf("crypto.%s requires seed or hex when iv_mode is fixed", name)
			}
		}
	default:
		return fmt.Errorf("invalid crypto.iv_mode: %s (must be fixed or random)", c.IVMode)
	}
	if c.KDFContext == "" {
		return fmt.Errorf("crypto.kdf_context is required")
	}
	if c.KDFIterations < 1 {
		return fmt.Errorf("crypto.kdf_iterations must be at least 1")
	}
	return nil
}
