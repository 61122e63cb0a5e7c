// Package config loads the pipeline configuration from defaults, an
// optional YAML file and environment variables, in that order of
// precedence. Components receive the resulting struct at construction;
// nothing reads the environment after loading.
package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	TMDB     TMDBConfig     `koanf:"tmdb"`
	Minio    MinioConfig    `koanf:"minio"`
	Pipeline PipelineConfig `koanf:"pipeline"`
}

type TMDBConfig struct {
	// Key is the bearer token for the TMDB API (TMDB_KEY).
	Key     string `koanf:"key"`
	BaseURL string `koanf:"base_url"`
}

type MinioConfig struct {
	Server          string `koanf:"server"`
	AccessKeyID     string `koanf:"access_key_id"`
	SecretAccessKey string `koanf:"secret_access_key"`
	SessionToken    string `koanf:"session_token"`
	Bucket          string `koanf:"bucket"`
	Secure          bool   `koanf:"secure"`
}

type PipelineConfig struct {
	// StagingPrefix is where per-movie blobs are written, one directory
	// per run date below it.
	StagingPrefix string `koanf:"staging_prefix"`
	// ArchivePrefix is where each run's combined archive lands.
	ArchivePrefix string `koanf:"archive_prefix"`
	// SnapshotPath is the fixed location of the parquet snapshot.
	SnapshotPath string `koanf:"snapshot_path"`
	// LookBackWindow bounds a run to the most recent N ids below the
	// latest; 0 selects the full oldest-to-latest range.
	LookBackWindow int64 `koanf:"look_back_window"`
	// Workers is the size of the staging worker pool.
	Workers int `koanf:"workers"`
}

func defaultConfig() *Config {
	return &Config{
		TMDB: TMDBConfig{
			BaseURL: "https://api.themoviedb.org/3",
		},
		Minio: MinioConfig{
			Secure: true,
		},
		Pipeline: PipelineConfig{
			StagingPrefix: "diffusion/temp_data",
			ArchivePrefix: "diffusion/TMDB_archive",
			SnapshotPath:  "diffusion/TMDB_movies.parquet",
			Workers:       5,
		},
	}
}

// envPrefixes limits which environment variables feed the configuration.
var envPrefixes = []string{"tmdb_", "minio_", "pipeline_"}

// envToPath maps MINIO_ACCESS_KEY_ID to minio.access_key_id and so on.
// Variables outside the known prefixes are ignored.
func envToPath(key string) string {
	lower := strings.ToLower(key)
	for _, p := range envPrefixes {
		if strings.HasPrefix(lower, p) {
			return strings.Replace(lower, "_", ".", 1)
		}
	}
	return ""
}

// Load builds the configuration: struct defaults, then the optional YAML
// file at path, then environment variables on top.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envToPath), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.TMDB.Key == "" {
		return fmt.Errorf("tmdb.key is required (set TMDB_KEY)")
	}
	if c.Minio.Server == "" {
		return fmt.Errorf("minio.server is required (set MINIO_SERVER)")
	}
	if c.Minio.AccessKeyID == "" || c.Minio.SecretAccessKey == "" {
		return fmt.Errorf("minio credentials are required (set MINIO_ACCESS_KEY_ID and MINIO_SECRET_ACCESS_KEY)")
	}
	if c.Minio.Bucket == "" {
		return fmt.Errorf("minio.bucket is required (set MINIO_BUCKET)")
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be positive, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.LookBackWindow < 0 {
		return fmt.Errorf("pipeline.look_back_window must not be negative, got %d", c.Pipeline.LookBackWindow)
	}
	return nil
}
