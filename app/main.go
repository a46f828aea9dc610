package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lysyi3m/listing-comb/app/api"
	"github.com/lysyi3m/listing-comb/app/cfg"
	"github.com/lysyi3m/listing-comb/app/database"
	"github.com/lysyi3m/listing-comb/app/feed"
	"github.com/lysyi3m/listing-comb/app/publish"
	"github.com/lysyi3m/listing-comb/app/store"
	"github.com/lysyi3m/listing-comb/app/store/drive"
	"github.com/lysyi3m/listing-comb/app/store/s3"
	"github.com/lysyi3m/listing-comb/app/tasks"
)

func main() {
	appConfig, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	if appConfig == nil {
		// Help was shown
		return
	}

	setupLogger(appConfig.Debug)

	if err := run(appConfig); err != nil {
		slog.Error("Listing Comb stopped with error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

func run(appConfig *cfg.Cfg) error {
	ctx := context.Background()

	slog.Info("Starting Listing Comb", "version", appConfig.Version)

	db, err := database.Open(ctx, appConfig.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("Database ready", "dialect", db.Dialect(), "schema_version", version, "dirty", dirty)

	runRepo := database.NewRunRepository(db)
	assetRepo := database.NewAssetRepository(db)

	configCache := feed.NewConfigCache(appConfig.ProfilesDir)
	if err := configCache.Run(); err != nil {
		return fmt.Errorf("failed to load profiles: %w", err)
	}
	slog.Info("Profiles loaded", "dir", appConfig.ProfilesDir, "count", configCache.GetConfigCount())

	remote, err := openStore(ctx, appConfig)
	if err != nil {
		return fmt.Errorf("failed to open remote store: %w", err)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	generator := feed.NewGenerator(appConfig.Version)

	pipeline := &tasks.Pipeline{
		Fetcher:    feed.NewFetcher(httpClient, appConfig.UserAgent),
		Parser:     feed.NewParser(),
		Generator:  generator,
		HTTPClient: httpClient,
		UserAgent:  appConfig.UserAgent,
		Runs:       runRepo,
	}
	if remote != nil {
		pipeline.Publisher = publish.NewPublisher(remote, publish.Config{
			ImageHost: appConfig.ImageHost,
			TableHost: appConfig.TableHost,
			Attempts:  appConfig.RemoteAttempts,
			Delay:     time.Duration(appConfig.RemoteRetryDelay) * time.Second,
		}, assetRepo)
	}

	scheduler := tasks.NewScheduler(configCache, pipeline, appConfig.WorkerCount,
		time.Duration(appConfig.SchedulerInterval)*time.Second,
		time.Duration(appConfig.TaskTimeout)*time.Second)

	if appConfig.Once {
		slog.Info("Running a single sync cycle for every enabled profile")
		return scheduler.RunOnce(ctx)
	}

	slog.Info("Starting background scheduler", "workers", appConfig.WorkerCount)
	scheduler.Start()
	defer scheduler.Stop()

	// S3 objects have no public web front, so the service serves them itself
	var content api.ContentSource
	if appConfig.StoreBackend == cfg.StoreS3 {
		content, _ = remote.(api.ContentSource)
	}

	apiHandler := api.NewHandler(configCache, runRepo, assetRepo, generator, scheduler, content)
	server := api.NewServer(apiHandler, appConfig.APIAccessKey)

	httpServer := &http.Server{
		Addr:         ":" + appConfig.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", appConfig.Port, "base_url", appConfig.BaseUrl)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case runErr = <-serverErrChan:
		slog.Error("Server error", "error", runErr)
	}

	slog.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	return runErr
}

func openStore(ctx context.Context, appConfig *cfg.Cfg) (store.RemoteStore, error) {
	switch appConfig.StoreBackend {
	case cfg.StoreDrive:
		slog.Info("Using Google Drive store")
		return drive.New(ctx, appConfig.DriveCredentials)
	case cfg.StoreS3:
		slog.Info("Using S3 store", "endpoint", appConfig.S3Endpoint, "bucket", appConfig.S3Bucket)
		return s3.New(ctx, s3.Config{
			Endpoint:  appConfig.S3Endpoint,
			AccessKey: appConfig.S3AccessKey,
			SecretKey: appConfig.S3SecretKey,
			Bucket:    appConfig.S3Bucket,
			Region:    appConfig.S3Region,
			UseSSL:    appConfig.S3UseSSL,
		})
	default:
		slog.Info("Remote store disabled, catalogs stay local")
		return nil, nil
	}
}
