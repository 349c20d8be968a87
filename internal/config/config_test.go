package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"montage/internal/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, path, exists, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected exists=false for missing file")
	}
	if path == "" {
		t.Fatal("expected resolved path")
	}
	if cfg.Render.FPS != 30 {
		t.Fatalf("default fps = %d, want 30", cfg.Render.FPS)
	}
	if !cfg.Render.Dedupe {
		t.Fatal("dedupe should default to true")
	}
	if cfg.Logging.Format != "console" {
		t.Fatalf("default log format = %q", cfg.Logging.Format)
	}
}

func TestLoadOverridesAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := strings.Join([]string{
		"[render]",
		"fps = 24",
		"trim_frames = 12",
		"[provider]",
		`base_url = "https://api.example.com/v1/"`,
		"[logging]",
		`format = "JSON"`,
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists=true")
	}
	if cfg.Render.FPS != 24 {
		t.Fatalf("fps = %d, want 24", cfg.Render.FPS)
	}
	if cfg.Render.TrimFrames != 12 {
		t.Fatalf("trim_frames = %d, want 12", cfg.Render.TrimFrames)
	}
	if cfg.Provider.BaseURL != "https://api.example.com/v1" {
		t.Fatalf("base_url not trimmed: %q", cfg.Provider.BaseURL)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("format not lowered: %q", cfg.Logging.Format)
	}
	if strings.HasPrefix(cfg.Paths.StagingDir, "~") {
		t.Fatalf("staging dir not expanded: %q", cfg.Paths.StagingDir)
	}
}

func TestLoadRejectsInvalidRender(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"zero fps", "[render]\nfps = 0"},
		{"negative trim", "[render]\ntrim_frames = -1"},
		{"zoom below one", "[render]\nken_burns_max_zoom = 0.9"},
		{"volume above one", "[render]\nbgm_volume = 1.5"},
		{"zero concurrency", "[render]\ngenerate_concurrency = 0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(tc.body), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, _, _, err := config.Load(path); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadRejectsUnknownLogFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[logging]\nformat = \"xml\""), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestCreateSampleRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("sample config should exist")
	}
	if cfg.Render.Width != 720 || cfg.Render.Height != 1280 {
		t.Fatalf("sample resolution = %dx%d", cfg.Render.Width, cfg.Render.Height)
	}
}

func TestHeartbeatTimeoutMustExceedInterval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := "[workflow]\nheartbeat_interval = 30\nheartbeat_timeout = 30"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected heartbeat validation error")
	}
}
