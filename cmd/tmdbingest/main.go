package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/alimane/tmdb-pipeline/pkg/blob"
	"github.com/alimane/tmdb-pipeline/pkg/config"
	"github.com/alimane/tmdb-pipeline/pkg/pipeline"
	"github.com/alimane/tmdb-pipeline/pkg/snapshot"
	"github.com/alimane/tmdb-pipeline/pkg/tmdb"
)

func main() {
	configPath := flag.String("config", "", "Optional YAML config file")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Debug(".env file not found, using existing environment variables")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	store, err := blob.NewMinioStore(blob.MinioConfig{
		Endpoint:     cfg.Minio.Server,
		AccessKey:    cfg.Minio.AccessKeyID,
		SecretKey:    cfg.Minio.SecretAccessKey,
		SessionToken: cfg.Minio.SessionToken,
		Secure:       cfg.Minio.Secure,
	})
	if err != nil {
		slog.Error("failed to connect to object store", "error", err)
		os.Exit(1)
	}

	client := tmdb.NewClient(cfg.TMDB.Key, cfg.TMDB.BaseURL)
	driver := pipeline.NewDriver(client, store, cfg)

	slog.Info("starting pipeline",
		"bucket", cfg.Minio.Bucket,
		"snapshot", snapshot.PublicURL(cfg.Minio.Server, cfg.Minio.Bucket, cfg.Pipeline.SnapshotPath),
		"workers", cfg.Pipeline.Workers,
		"look_back_window", cfg.Pipeline.LookBackWindow)

	start := time.Now()
	if err := driver.Run(context.Background()); err != nil {
		slog.Error("pipeline failed", "error", err)
		os.Exit(1)
	}
	slog.Info("pipeline completed", "duration", time.Since(start).Round(time.Millisecond))
}
