package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/kenneth/envvault/internal/api"
	"github.com/kenneth/envvault/internal/apikey"
	"github.com/kenneth/envvault/internal/auth"
	"github.com/kenneth/envvault/internal/config"
	"github.com/kenneth/envvault/internal/crypto"
	"github.com/kenneth/envvault/internal/mail"
	"github.com/kenneth/envvault/internal/metrics"
	"github.com/kenneth/envvault/internal/middleware"
	"github.com/kenneth/envvault/internal/secrets"
	"github.com/kenneth/envvault/internal/store"
	"github.com/kenneth/envvault/internal/store/mongostore"
	"github.com/kenneth/envvault/internal/store/pgstore"
	"github.com/kenneth/envvault/internal/tracing"
	"github.com/kenneth/envvault/internal/users"
	"github.com/kenneth/envvault/internal/vault"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.WithError(err).Warn("Failed to load .env file")
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	setLogLevel(logger, cfg.LogLevel)

	logger.WithFields(logrus.Fields{
		"version": version,
		"commit":  commit,
		"store":   cfg.Store.Driver,
	}).Info("Starting envvault")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.NewMetrics()
	metrics.SetVersion(version)
	m.StartSystemMetricsCollector(15*time.Second, ctx.Done())

	if cfg.Tracing.ServiceVersion == "" || cfg.Tracing.ServiceVersion == "dev" {
		cfg.Tracing.ServiceVersion = version
	}
	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize tracing")
	}

	backend, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open store")
	}

	suite, err := crypto.BuildSuite(cfg.Crypto, m)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize crypto")
	}
	if suite.LinkKey == nil && cfg.Registration.RequireConfirmation {
		logger.Fatal("crypto.link_secret is required when registration confirmation is enabled")
	}
	logger.WithFields(logrus.Fields{
		"iv_mode":        cfg.Crypto.IVMode,
		"kdf_iterations": cfg.Crypto.KDFIterations,
	}).Info("Envelope encryption configured")

	v := vault.NewFromSuite(suite)

	sessions, err := auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create session manager")
	}

	mailer, err := mail.NewSender(cfg.Mail, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create mail sender")
	}

	policy := config.NewEmailPolicy(cfg.Registration.AllowedEmails)

	secretService := secrets.NewService(backend, v, suite.Cipher, logger, secrets.WithRecorder(m))
	userService := users.NewService(users.Deps{
		Users:        backend,
		Environments: secretService,
		Vault:        v,
		Suite:        suite,
		Sessions:     sessions,
		Mailer:       mailer,
		EmailPolicy:  policy,
		Logger:       logger,
	}, cfg)
	issuer := apikey.NewIssuer(backend, cfg.Credentials.MaxIssueAttempts, logger, apikey.WithRecorder(m))

	handler := api.NewHandler(userService, secretService, issuer, logger, m,
		api.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		api.WithStoreHealth(backend.Ping),
	)

	router := mux.NewRouter()
	router.Use(
		middleware.RecoveryMiddleware(logger),
		middleware.RequestIDMiddleware(),
		middleware.TracingMiddleware(cfg.Tracing.RedactSensitive),
		middleware.LoggingMiddleware(logger, &cfg.Logging),
		middleware.MetricsMiddleware(m),
		middleware.SecurityHeadersMiddleware(),
	)
	handler.RegisterRoutes(router)

	// Log level and the registration allow-list can change without a restart.
	go func() {
		err := config.Watch(ctx, configPath, logger, func(next *config.Config) {
			setLogLevel(logger, next.LogLevel)
			policy.SetPatterns(next.Registration.AllowedEmails)
		})
		if err != nil {
			logger.WithError(err).Warn("Configuration hot reload disabled")
		}
	}()

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		MaxHeaderBytes:    cfg.Server.MaxHeaderBytes,
	}

	go func() {
		var err error
		if cfg.TLS.Enabled {
			logger.WithFields(logrus.Fields{
				"addr":      cfg.ListenAddr,
				"cert_file": cfg.TLS.CertFile,
				"key_file":  cfg.TLS.KeyFile,
			}).Info("Starting HTTPS server")
			err = server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			logger.WithField("addr", cfg.ListenAddr).Info("Starting HTTP server")
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	} else {
		logger.Info("Server stopped gracefully")
	}
	if err := backend.Close(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Failed to close store")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Failed to flush traces")
	}
}

func setLogLevel(logger *logrus.Logger, name string) {
	level, err := logrus.ParseLevel(name)
	if err != nil {
		logger.WithError(err).Warn("Invalid log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger *logrus.Logger) (store.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		logger.Warn("Using in-memory store; data is lost on restart")
		return store.NewMemory(), nil
	case "mongo":
		return mongostore.Open(ctx, cfg.Mongo, logger)
	case "postgres":
		return pgstore.Open(ctx, cfg.Postgres, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
