package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func noEnv(string) (string, bool) { return "", false }

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
store:
  backend: sqlite
  dial_timeout: 500ms
search:
  max_distance: 0.8
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Store.Backend != "sqlite" {
		t.Errorf("store backend: got %q", cfg.Store.Backend)
	}
	if cfg.Store.DialTimeout != 500*time.Millisecond {
		t.Errorf("dial timeout: got %v", cfg.Store.DialTimeout)
	}
	if cfg.Search.MaxDistance != 0.8 {
		t.Errorf("max distance: got %v", cfg.Search.MaxDistance)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_missingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
store:
  sqlite_path: "./data/scenes.db"
catalog:
  scenes_dir: "./vpr_data/scenes"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "data", "scenes.db"); cfg.Store.SQLitePath != want {
		t.Errorf("sqlite path: got %q, want %q", cfg.Store.SQLitePath, want)
	}
	if want := filepath.Join(dir, "vpr_data", "scenes"); cfg.Catalog.ScenesDir != want {
		t.Errorf("scenes dir: got %q, want %q", cfg.Catalog.ScenesDir, want)
	}
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	ApplyDefaults(&cfg)
	if cfg.Embedding.ImageSize != 320 {
		t.Errorf("image size: got %d", cfg.Embedding.ImageSize)
	}
	if cfg.Embedding.Dimensions != 2048 {
		t.Errorf("dimensions: got %d", cfg.Embedding.Dimensions)
	}
	if cfg.Search.MaxDistance != 1.5 || cfg.Search.TopK != 5 || cfg.Search.BatchSize != 16 {
		t.Errorf("search defaults: %+v", cfg.Search)
	}
	if cfg.Video.FrameStep != 30 || cfg.Video.PrecisionOrDefault() != 6 {
		t.Errorf("video defaults: %+v", cfg.Video)
	}
	if cfg.Store.Addr() != "localhost:6379" {
		t.Errorf("store addr: got %q", cfg.Store.Addr())
	}
	if cfg.Filter.Window != 5 {
		t.Errorf("filter window: got %d", cfg.Filter.Window)
	}
	if cfg.Geometry.MinInlierRatio != 0.3 || cfg.Geometry.ReprojThreshold != 5.0 {
		t.Errorf("geometry defaults: %+v", cfg.Geometry)
	}
	if !cfg.Video.VerifyOrDefault() {
		t.Error("video verification should default to true")
	}
}

func TestApplyDefaults_keepsExplicitValues(t *testing.T) {
	cfg := Config{Search: SearchConfig{TopK: 9}, Video: VideoConfig{FrameStep: 10}}
	ApplyDefaults(&cfg)
	if cfg.Search.TopK != 9 {
		t.Errorf("top k overwritten: %d", cfg.Search.TopK)
	}
	if cfg.Video.FrameStep != 10 {
		t.Errorf("frame step overwritten: %d", cfg.Video.FrameStep)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"IMAGE_SIZE":   "224",
		"FEATURE_DIM":  "512",
		"MAX_DISTANCE": "0.25",
		"FRAME_STEP":   "10",
		"REDIS_HOST":   "redis.internal",
		"REDIS_PORT":   "6380",
		"SCENES_DIR":   "/data/scenes",
		"VIDEO_VERIFY": "false",
		"DEBUG":        "true",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	var cfg Config
	ApplyEnv(&cfg, lookup)
	ApplyDefaults(&cfg)

	if cfg.Embedding.ImageSize != 224 || cfg.Embedding.Dimensions != 512 {
		t.Errorf("embedding: %+v", cfg.Embedding)
	}
	if cfg.Search.MaxDistance != 0.25 {
		t.Errorf("max distance: %v", cfg.Search.MaxDistance)
	}
	if cfg.Video.FrameStep != 10 {
		t.Errorf("frame step: %d", cfg.Video.FrameStep)
	}
	if cfg.Store.Addr() != "redis.internal:6380" {
		t.Errorf("addr: %s", cfg.Store.Addr())
	}
	if cfg.Catalog.ScenesDir != "/data/scenes" {
		t.Errorf("scenes dir: %s", cfg.Catalog.ScenesDir)
	}
	if cfg.Video.VerifyOrDefault() {
		t.Error("VIDEO_VERIFY=false should disable verification")
	}
	if !cfg.Debug {
		t.Error("DEBUG=true should enable debug")
	}
}

func TestApplyEnv_invalidValuesIgnored(t *testing.T) {
	lookup := func(k string) (string, bool) {
		if k == "IMAGE_SIZE" || k == "MAX_DISTANCE" {
			return "not-a-number", true
		}
		return "", false
	}
	cfg := Config{Embedding: EmbeddingConfig{ImageSize: 256}}
	ApplyEnv(&cfg, lookup)
	ApplyDefaults(&cfg)
	if cfg.Embedding.ImageSize != 256 {
		t.Errorf("image size: got %d, want 256", cfg.Embedding.ImageSize)
	}
	if cfg.Search.MaxDistance != 1.5 {
		t.Errorf("max distance: got %v, want default", cfg.Search.MaxDistance)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("BASHO_TEST_DOTENV=42\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("BASHO_TEST_DOTENV") })
	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("BASHO_TEST_DOTENV"); got != "42" {
		t.Errorf("got %q", got)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	var cfg Config
	ApplyEnv(&cfg, noEnv)
	ApplyDefaults(&cfg)
	cfg.Catalog.ScenesDir = "/srv/scenes"
	if err := Save(path, &cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Catalog.ScenesDir != "/srv/scenes" {
		t.Errorf("scenes dir: got %q", loaded.Catalog.ScenesDir)
	}
}

func TestDedupPrecisionZero(t *testing.T) {
	lookup := func(k string) (string, bool) {
		if k == "DEDUP_PRECISION" {
			return "0", true
		}
		return "", false
	}
	var cfg Config
	ApplyEnv(&cfg, lookup)
	ApplyDefaults(&cfg)
	if got := cfg.Video.PrecisionOrDefault(); got != 0 {
		t.Errorf("precision: got %d, want 0", got)
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("video:\n  precision: 0\n"), 0644); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := loaded.Video.PrecisionOrDefault(); got != 0 {
		t.Errorf("yaml precision: got %d, want 0", got)
	}
}
