package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
http:
  port: 9090
  timeout: 5s
ml:
  default_model: forest
  top_k: 5
align:
  gap_open: -10
cache:
  size: 0
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Http.Port != 9090 || cfg.Http.Timeout != 5*time.Second {
		t.Fatalf("http section not applied: %+v", cfg.Http)
	}
	if cfg.ML.DefaultModel != "forest" || cfg.ML.TopK != 5 {
		t.Fatalf("ml section not applied: %+v", cfg.ML)
	}
	if cfg.ML.K != 3 || cfg.ML.Dim != 1000 {
		t.Fatalf("defaults lost: %+v", cfg.ML)
	}
	if cfg.Align.GapOpen != -10 || cfg.Align.Match != 2 {
		t.Fatalf("align section not merged: %+v", cfg.Align)
	}
	if cfg.Cache.Size != 0 {
		t.Fatalf("cache size = %d", cfg.Cache.Size)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "zero k", body: "ml:\n  k: 0\n"},
		{name: "negative top_k", body: "ml:\n  top_k: -1\n"},
		{name: "threshold above one", body: "ml:\n  threshold: 1.5\n"},
		{name: "negative cache", body: "cache:\n  size: -1\n"},
		{name: "bad port", body: "http:\n  port: 70000\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not exist, got %v", err)
	}
}

func TestSectionConversions(t *testing.T) {
	cfg := Default()
	if s := cfg.Align.Scheme(); s.Match != 2 || s.Mismatch != -1 || s.GapOpen != -2 || s.GapExtend != -0.5 {
		t.Fatalf("unexpected scheme %+v", s)
	}
	opts := cfg.ML.RegistryOptions()
	if opts.Vectorizer.K != 3 || opts.Vectorizer.Dim != 1000 || opts.DecodeOptions.TopK != 20 {
		t.Fatalf("unexpected registry options %+v", opts)
	}
}
