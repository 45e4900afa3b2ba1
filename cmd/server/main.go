package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/org/sessionvault/internal/api"
	"github.com/org/sessionvault/internal/archive"
	"github.com/org/sessionvault/internal/audit"
	"github.com/org/sessionvault/internal/auth"
	"github.com/org/sessionvault/internal/config"
	"github.com/org/sessionvault/internal/crypto"
	"github.com/org/sessionvault/internal/objstore"
	"github.com/org/sessionvault/internal/secrets"
	"github.com/org/sessionvault/internal/storage"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(config.File("config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx := context.Background()

	// Secrets come first; nothing below runs without the master key.
	provider, err := secrets.Load(secrets.Sources{MasterKeyFile: cfg.MasterKeyFile})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load secrets")
	}
	defer provider.Close()

	codec, err := crypto.NewCodec(provider.MasterKey())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize archive codec")
	}

	// Connect to database
	store, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL, cfg.OpTimeout())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer store.Close()

	// Run migrations
	if err := storage.RunMigrations(cfg.DatabaseURL); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}
	log.Info().Msg("migrations applied")

	// Connect to object store
	accessKey, secretKey := provider.ObjectStoreKeys()
	blobs, err := objstore.New(ctx, objstore.Config{
		Endpoint:  cfg.ObjectStore.Endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		UseSSL:    cfg.ObjectStore.UseSSL,
		Region:    cfg.ObjectStore.Region,
		Buckets:   cfg.ObjectStore.Buckets(),
		OpTimeout: cfg.OpTimeout(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to object store")
	}

	auditor := audit.NewRecorder(store)
	engine := archive.NewEngine(store, blobs, codec, auditor, archive.Config{
		Bucket:               cfg.ObjectStore.ArchiveBucket,
		DefaultRetentionDays: cfg.DefaultRetentionDays,
		CacheSize:            cfg.CacheSize,
		CacheTTL:             cfg.CacheTTL(),
	})

	if cfg.APIToken == "" {
		log.Warn().Msg("api_token not configured, API authentication disabled")
	}

	srv := api.NewServer(engine, store, blobs, auditor, auth.NewVerifier(cfg.APIToken), api.Config{
		ListenAddr:     cfg.ListenAddr,
		TLSCertFile:    cfg.TLSCertFile,
		TLSKeyFile:     cfg.TLSKeyFile,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Msg("server started")
	<-quit

	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
}
