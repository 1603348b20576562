package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-jwt-secret")
	t.Setenv("CRYPTO_KEY_WRAP_IV_SEED", "wrap-seed")
	t.Setenv("CRYPTO_SECRET_VALUE_IV_SEED", "data-seed")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequiredEnv(t)

	config, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.ListenAddr != ":8080" {
		t.Errorf("expected ListenAddr :8080, got %s", config.ListenAddr)
	}
	if config.LogLevel != "info" {
		t.Errorf("expected LogLevel info, got %s", config.LogLevel)
	}
	if config.Store.Driver != "memory" {
		t.Errorf("expected memory store, got %s", config.Store.Driver)
	}
	if config.Crypto.IVMode != "fixed" || config.Crypto.KDFContext != "salt" || config.Crypto.KDFIterations != 1 {
		t.Errorf("unexpected crypto defaults: %+v", config.Crypto)
	}
	if config.Auth.TokenTTL != 60*24*time.Hour {
		t.Errorf("expected 60 day token TTL, got %s", config.Auth.TokenTTL)
	}
	if config.Registration.LinkTTL != 2*time.Hour {
		t.Errorf("expected 2h link TTL, got %s", config.Registration.LinkTTL)
	}
	if config.Credentials.MaxIssueAttempts != 2 {
		t.Errorf("expected 2 issue attempts, got %d", config.Credentials.MaxIssueAttempts)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("STORE_DRIVER", "mongo")
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017")
	t.Setenv("SERVER_READ_TIMEOUT", "5s")
	t.Setenv("REGISTRATION_ALLOWED_EMAILS", "*@example.com, *@corp.example")
	t.Setenv("CRYPTO_LINK_IV_HEX", "000102030405060708090a0b0c0d0e0f")

	config, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ":9090", config.ListenAddr)
	assert.Equal(t, "debug", config.LogLevel)
	assert.Equal(t, "mongo", config.Store.Driver)
	assert.Equal(t, "mongodb://localhost:27017", config.Store.Mongo.URI)
	assert.Equal(t, 5*time.Second, config.Server.ReadTimeout)
	assert.Equal(t, []string{"*@example.com", "*@corp.example"}, config.Registration.AllowedEmails)
	assert.Equal(t, "wrap-seed", config.Crypto.KeyWrapIV.Seed)
	assert.Equal(t, "000102030405060708090a0b0c0d0e0f", config.Crypto.LinkIV.Hex)
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LOG_LEVEL", "warn")

	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `listen_addr: ":7070"
log_level: debug
crypto:
  iv_mode: random
registration:
  require_confirmation: true
  link_ttl: 30m
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	_, err := LoadConfig(path)
	require.Error(t, err, "confirmation without link secret must be rejected")

	t.Setenv("CRYPTO_LINK_SECRET", "link-secret")
	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", config.ListenAddr)
	assert.Equal(t, "warn", config.LogLevel, "environment overrides the file")
	assert.Equal(t, "random", config.Crypto.IVMode)
	assert.True(t, config.Registration.RequireConfirmation)
	assert.Equal(t, 30*time.Minute, config.Registration.LinkTTL)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: [unterminated"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func validConfig() *Config {
	c := Default()
	c.Auth.JWTSecret = "secret"
	c.Crypto.KeyWrapIV.Seed = "wrap"
	c.Crypto.SecretValueIV.Seed = "data"
	return c
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing listen addr", mutate: func(c *Config) { c.ListenAddr = "" }, wantErr: true},
		{name: "invalid log level", mutate: func(c *Config) { c.LogLevel = "verbose" }, wantErr: true},
		{name: "invalid access log format", mutate: func(c *Config) { c.Logging.AccessLogFormat = "xml" }, wantErr: true},
		{name: "unknown store driver", mutate: func(c *Config) { c.Store.Driver = "sqlite" }, wantErr: true},
		{name: "mongo without uri", mutate: func(c *Config) { c.Store.Driver = "mongo" }, wantErr: true},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Store.Driver = "postgres" }, wantErr: true},
		{name: "postgres with dsn", mutate: func(c *Config) {
			c.Store.Driver = "postgres"
			c.Store.Postgres.DSN = "postgres://localhost/envvault"
		}},
		{name: "fixed iv without sources", mutate: func(c *Config) { c.Crypto.SecretValueIV = IVSource{} }, wantErr: true},
		{name: "random iv without sources", mutate: func(c *Config) {
			c.Crypto.IVMode = "random"
			c.Crypto.KeyWrapIV = IVSource{}
			c.Crypto.SecretValueIV = IVSource{}
		}},
		{name: "unknown iv mode", mutate: func(c *Config) { c.Crypto.IVMode = "gcm" }, wantErr: true},
		{name: "zero kdf iterations", mutate: func(c *Config) { c.Crypto.KDFIterations = 0 }, wantErr: true},
		{name: "missing jwt secret", mutate: func(c *Config) { c.Auth.JWTSecret = "" }, wantErr: true},
		{name: "bcrypt cost too low", mutate: func(c *Config) { c.Auth.BcryptCost = 2 }, wantErr: true},
		{name: "zero issue attempts", mutate: func(c *Config) { c.Credentials.MaxIssueAttempts = 0 }, wantErr: true},
		{name: "postmark without tokens", mutate: func(c *Config) { c.Mail.Provider = "postmark" }, wantErr: true},
		{name: "unknown mail provider", mutate: func(c *Config) { c.Mail.Provider = "sendgrid" }, wantErr: true},
		{name: "tls without cert", mutate: func(c *Config) { c.TLS.Enabled = true }, wantErr: true},
		{name: "otlp without endpoint", mutate: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "otlp"
		}, wantErr: true},
		{name: "invalid sampling ratio", mutate: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.SamplingRatio = 1.5
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
