// Package config reads the paramgraph server configuration from the
// environment.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DatabaseURL string // PARAMGRAPH_DATABASE_URL (optional, empty = in-memory store)
	GRPCAddr    string // PARAMGRAPH_GRPC_ADDR (default ":9090")
	HTTPAddr    string // PARAMGRAPH_HTTP_ADDR (default ":8080")
	NATSURL     string // PARAMGRAPH_NATS_URL (optional, empty = no events)
	AuthToken   string // PARAMGRAPH_AUTH_TOKEN (optional, empty = auth disabled)

	// Compute settings
	CalculatorURL   string        // PARAMGRAPH_CALCULATOR_URL (optional remote calculator)
	CalculatorToken string        // PARAMGRAPH_CALCULATOR_TOKEN (bearer token for the remote calculator)
	ComputeTimeout  time.Duration // PARAMGRAPH_COMPUTE_TIMEOUT (default 30s; 0 = unbounded)
	MaxUploadBytes  int64         // PARAMGRAPH_MAX_UPLOAD_BYTES (default 32 MiB)

	LogLevel  slog.Level // PARAMGRAPH_LOG_LEVEL (debug|info|warn|error, default info)
	LogFormat string     // PARAMGRAPH_LOG_FORMAT (text|json, default text)

	// Sync settings
	SyncInterval   time.Duration // PARAMGRAPH_SYNC_INTERVAL (default 0 = disabled)
	SyncS3Bucket   string        // PARAMGRAPH_SYNC_S3_BUCKET (enables S3 when set)
	SyncS3Endpoint string        // PARAMGRAPH_SYNC_S3_ENDPOINT (custom endpoint for MinIO)
	SyncS3Region   string        // PARAMGRAPH_SYNC_S3_REGION (default "us-east-1")
	SyncS3Key      string        // PARAMGRAPH_SYNC_S3_KEY (default "paramgraph/workbooks.jsonl")
	SyncGitRepo    string        // PARAMGRAPH_SYNC_GIT_REPO (enables git when set; path to clone)
	SyncGitFile    string        // PARAMGRAPH_SYNC_GIT_FILE (default "workbooks.jsonl")
	SyncGitBranch  string        // PARAMGRAPH_SYNC_GIT_BRANCH (default "main")
}

const defaultMaxUploadBytes = 32 << 20

func Load() (*Config, error) {
	c := &Config{
		DatabaseURL:     os.Getenv("PARAMGRAPH_DATABASE_URL"),
		GRPCAddr:        envOrDefault("PARAMGRAPH_GRPC_ADDR", ":9090"),
		HTTPAddr:        envOrDefault("PARAMGRAPH_HTTP_ADDR", ":8080"),
		NATSURL:         os.Getenv("PARAMGRAPH_NATS_URL"),
		AuthToken:       os.Getenv("PARAMGRAPH_AUTH_TOKEN"),
		CalculatorURL:   os.Getenv("PARAMGRAPH_CALCULATOR_URL"),
		CalculatorToken: os.Getenv("PARAMGRAPH_CALCULATOR_TOKEN"),
		LogFormat:       strings.ToLower(envOrDefault("PARAMGRAPH_LOG_FORMAT", "text")),
		SyncS3Bucket:    os.Getenv("PARAMGRAPH_SYNC_S3_BUCKET"),
		SyncS3Endpoint:  os.Getenv("PARAMGRAPH_SYNC_S3_ENDPOINT"),
		SyncS3Region:    envOrDefault("PARAMGRAPH_SYNC_S3_REGION", "us-east-1"),
		SyncS3Key:       envOrDefault("PARAMGRAPH_SYNC_S3_KEY", "paramgraph/workbooks.jsonl"),
		SyncGitRepo:     os.Getenv("PARAMGRAPH_SYNC_GIT_REPO"),
		SyncGitFile:     envOrDefault("PARAMGRAPH_SYNC_GIT_FILE", "workbooks.jsonl"),
		SyncGitBranch:   envOrDefault("PARAMGRAPH_SYNC_GIT_BRANCH", "main"),
	}

	var err error
	if c.ComputeTimeout, err = durationEnv("PARAMGRAPH_COMPUTE_TIMEOUT", "30s"); err != nil {
		return nil, err
	}
	if c.SyncInterval, err = durationEnv("PARAMGRAPH_SYNC_INTERVAL", "0"); err != nil {
		return nil, err
	}

	c.MaxUploadBytes = defaultMaxUploadBytes
	if v := os.Getenv("PARAMGRAPH_MAX_UPLOAD_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("PARAMGRAPH_MAX_UPLOAD_BYTES: invalid size %q", v)
		}
		c.MaxUploadBytes = n
	}

	if err := c.LogLevel.UnmarshalText([]byte(envOrDefault("PARAMGRAPH_LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("PARAMGRAPH_LOG_LEVEL: %w", err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return nil, fmt.Errorf("PARAMGRAPH_LOG_FORMAT: must be text or json, got %q", c.LogFormat)
	}

	return c, nil
}

// NewLogger returns a logger writing to w in the configured format and level.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func durationEnv(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: must not be negative", key)
	}
	return d, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
