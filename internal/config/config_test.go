package config

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"
)

var allEnvVars = []string{
	"PARAMGRAPH_DATABASE_URL", "PARAMGRAPH_GRPC_ADDR", "PARAMGRAPH_HTTP_ADDR",
	"PARAMGRAPH_NATS_URL", "PARAMGRAPH_AUTH_TOKEN", "PARAMGRAPH_CALCULATOR_URL",
	"PARAMGRAPH_CALCULATOR_TOKEN", "PARAMGRAPH_COMPUTE_TIMEOUT", "PARAMGRAPH_MAX_UPLOAD_BYTES",
	"PARAMGRAPH_LOG_LEVEL", "PARAMGRAPH_LOG_FORMAT",
	"PARAMGRAPH_SYNC_INTERVAL", "PARAMGRAPH_SYNC_S3_BUCKET", "PARAMGRAPH_SYNC_S3_ENDPOINT",
	"PARAMGRAPH_SYNC_S3_REGION", "PARAMGRAPH_SYNC_S3_KEY", "PARAMGRAPH_SYNC_GIT_REPO",
	"PARAMGRAPH_SYNC_GIT_FILE", "PARAMGRAPH_SYNC_GIT_BRANCH",
}

func clearAllEnv(t *testing.T) {
	t.Helper()
	for _, key := range allEnvVars {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearAllEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("DatabaseURL = %q, want empty (in-memory)", cfg.DatabaseURL)
	}
	if cfg.GRPCAddr != ":9090" || cfg.HTTPAddr != ":8080" {
		t.Errorf("addrs = %q / %q", cfg.GRPCAddr, cfg.HTTPAddr)
	}
	if cfg.ComputeTimeout != 30*time.Second {
		t.Errorf("ComputeTimeout = %v, want 30s", cfg.ComputeTimeout)
	}
	if cfg.MaxUploadBytes != 32<<20 {
		t.Errorf("MaxUploadBytes = %d", cfg.MaxUploadBytes)
	}
	if cfg.LogLevel != slog.LevelInfo || cfg.LogFormat != "text" {
		t.Errorf("log = %v/%s", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.SyncInterval != 0 {
		t.Errorf("SyncInterval = %v, want 0 (disabled)", cfg.SyncInterval)
	}
	if cfg.SyncS3Region != "us-east-1" || cfg.SyncS3Key != "paramgraph/workbooks.jsonl" {
		t.Errorf("s3 = %q %q", cfg.SyncS3Region, cfg.SyncS3Key)
	}
	if cfg.SyncGitFile != "workbooks.jsonl" || cfg.SyncGitBranch != "main" {
		t.Errorf("git = %q %q", cfg.SyncGitFile, cfg.SyncGitBranch)
	}
}

func TestLoadCustom(t *testing.T) {
	clearAllEnv(t)
	for k, v := range map[string]string{
		"PARAMGRAPH_DATABASE_URL":     "postgres://db:5432/paramgraph",
		"PARAMGRAPH_GRPC_ADDR":        ":5050",
		"PARAMGRAPH_HTTP_ADDR":        ":3000",
		"PARAMGRAPH_NATS_URL":         "nats://localhost:4222",
		"PARAMGRAPH_CALCULATOR_URL":   "http://calc:5000/api/calculate",
		"PARAMGRAPH_COMPUTE_TIMEOUT":  "5s",
		"PARAMGRAPH_MAX_UPLOAD_BYTES": "1024",
		"PARAMGRAPH_LOG_LEVEL":        "DEBUG",
		"PARAMGRAPH_LOG_FORMAT":       "JSON",
		"PARAMGRAPH_SYNC_INTERVAL":    "10m",
		"PARAMGRAPH_SYNC_S3_BUCKET":   "my-bucket",
		"PARAMGRAPH_SYNC_GIT_REPO":    "/tmp/repo",
		"PARAMGRAPH_SYNC_GIT_BRANCH":  "backup",
	} {
		t.Setenv(k, v)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DatabaseURL != "postgres://db:5432/paramgraph" || cfg.NATSURL != "nats://localhost:4222" {
		t.Errorf("urls = %q %q", cfg.DatabaseURL, cfg.NATSURL)
	}
	if cfg.GRPCAddr != ":5050" || cfg.HTTPAddr != ":3000" {
		t.Errorf("addrs = %q / %q", cfg.GRPCAddr, cfg.HTTPAddr)
	}
	if cfg.CalculatorURL != "http://calc:5000/api/calculate" {
		t.Errorf("CalculatorURL = %q", cfg.CalculatorURL)
	}
	if cfg.ComputeTimeout != 5*time.Second || cfg.MaxUploadBytes != 1024 {
		t.Errorf("compute = %v %d", cfg.ComputeTimeout, cfg.MaxUploadBytes)
	}
	if cfg.LogLevel != slog.LevelDebug || cfg.LogFormat != "json" {
		t.Errorf("log = %v/%s", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.SyncInterval != 10*time.Minute || cfg.SyncS3Bucket != "my-bucket" || cfg.SyncGitRepo != "/tmp/repo" || cfg.SyncGitBranch != "backup" {
		t.Errorf("sync = %+v", cfg)
	}
}

func TestLoadInvalid(t *testing.T) {
	for _, tc := range []struct {
		key, value string
	}{
		{"PARAMGRAPH_SYNC_INTERVAL", "not-a-duration"},
		{"PARAMGRAPH_COMPUTE_TIMEOUT", "-1s"},
		{"PARAMGRAPH_MAX_UPLOAD_BYTES", "lots"},
		{"PARAMGRAPH_MAX_UPLOAD_BYTES", "0"},
		{"PARAMGRAPH_LOG_LEVEL", "chatty"},
		{"PARAMGRAPH_LOG_FORMAT", "xml"},
	} {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			clearAllEnv(t)
			t.Setenv(tc.key, tc.value)
			_, err := Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.key) {
				t.Errorf("error %q does not name %s", err, tc.key)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := &Config{LogLevel: slog.LevelWarn, LogFormat: "json"}
	logger := cfg.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "workbook", "wb-1")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info record written at warn level")
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"workbook":"wb-1"`) {
		t.Errorf("json output = %q", out)
	}
}

func TestEnvOrDefault(t *testing.T) {
	for _, tc := range []struct {
		name     string
		key      string
		envVal   string
		fallback string
		want     string
	}{
		{"EmptyUsesDefault", "TEST_ENVDEFAULT_EMPTY", "", "default-val", "default-val"},
		{"SetUsesEnv", "TEST_ENVDEFAULT_SET", "custom", "default-val", "custom"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.envVal)
			got := envOrDefault(tc.key, tc.fallback)
			if got != tc.want {
				t.Errorf("envOrDefault(%q, %q) = %q, want %q", tc.key, tc.fallback, got, tc.want)
			}
		})
	}
}
