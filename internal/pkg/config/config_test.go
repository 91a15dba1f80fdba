package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "oapipe.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if !cfg.Validation.Request || cfg.Validation.Response || cfg.Validation.RequestStatusCode != 422 {
		t.Errorf("validation = %+v", cfg.Validation)
	}
	if cfg.Cache.MaxSize != 100 || cfg.Cache.MaxAge != 0 {
		t.Errorf("cache = %+v", cfg.Cache)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("retry = %+v", cfg.Retry)
	}
	if cfg.Telemetry.ServiceName != "oapipe" {
		t.Errorf("telemetry = %+v", cfg.Telemetry)
	}
	if cfg.Journal.Driver != "none" || cfg.Journal.MaxRuns != 1000 {
		t.Errorf("journal = %+v", cfg.Journal)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	t.Setenv("SPEC_DIR", "/srv/specs")
	t.Setenv("OAPIPE_VALIDATION__REQUEST_STATUS_CODE", "400")
	t.Setenv("OAPIPE_LOGGING__LEVEL", "debug")

	path := writeConfig(t, `
logging:
  level: warn
  format: text
validation:
  response: true
cache:
  max_size: 10
  max_age: 30s
retry:
  scaling_duration: 250ms
journal:
  driver: sqlite
  path: ${SPEC_DIR}/runs.db
versions:
  - name: v1
    document: ${SPEC_DIR}/v1.yaml
  - name: v2
    document: ${SPEC_DIR}/v2.yaml
    inherit_from: v1
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("env should override file, level = %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("format = %q", cfg.Logging.Format)
	}
	if !cfg.Validation.Request || !cfg.Validation.Response || cfg.Validation.RequestStatusCode != 400 {
		t.Errorf("validation = %+v", cfg.Validation)
	}
	if cfg.Cache.MaxSize != 10 || cfg.Cache.MaxAge != 30*time.Second {
		t.Errorf("cache = %+v", cfg.Cache)
	}
	if cfg.Retry.ScalingDuration != 250*time.Millisecond {
		t.Errorf("retry = %+v", cfg.Retry)
	}

	if cfg.Journal.Driver != "sqlite" || cfg.Journal.Path != "/srv/specs/runs.db" {
		t.Errorf("journal = %+v", cfg.Journal)
	}

	v2, ok := cfg.Version("v2")
	if !ok || v2.Document != "/srv/specs/v2.yaml" || v2.InheritFrom != "v1" {
		t.Errorf("v2 = %+v", v2)
	}
}

func TestLoad_InvalidVersions(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing name",
			body: "versions:\n  - document: a.yaml\n",
			want: "name is required",
		},
		{
			name: "duplicate",
			body: "versions:\n  - name: v1\n  - name: v1\n",
			want: "duplicate version",
		},
		{
			name: "inherit from later",
			body: "versions:\n  - name: v1\n    inherit_from: v2\n  - name: v2\n",
			want: "not declared before it",
		},
		{
			name: "cache size",
			body: "cache:\n  max_size: 0\n",
			want: "cache.max_size",
		},
		{
			name: "journal size",
			body: "journal:\n  max_runs: -1\n",
			want: "journal.max_runs",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	if _, err := Load(writeConfig(t, "logging: [unclosed")); err == nil {
		t.Error("expected parse error")
	}
}
