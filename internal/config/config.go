// Package config provides configuration loading and structs for the basho service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Index     IndexConfig     `yaml:"index"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Geometry  GeometryConfig  `yaml:"geometry"`
	Video     VideoConfig     `yaml:"video"`
	Filter    FilterConfig    `yaml:"filter"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Publish   PublishConfig   `yaml:"publish"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	MaxUploadMB       int64         `yaml:"max_upload_mb"`
	MaxConcurrentJobs int64         `yaml:"max_concurrent_jobs"`
	UploadRate        float64       `yaml:"upload_rate"`
	UploadBurst       int           `yaml:"upload_burst"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	UploadDir         string        `yaml:"upload_dir"`
}

// StoreConfig selects the key-value backend that holds scene metadata.
type StoreConfig struct {
	Backend     string        `yaml:"backend"` // redis, sqlite, memory
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	SQLitePath  string        `yaml:"sqlite_path"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// Addr returns the host:port of the networked store.
func (s *StoreConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// IndexConfig selects the descriptor index backend.
type IndexConfig struct {
	Type             string `yaml:"type"` // memory, faiss, qdrant
	QdrantAddr       string `yaml:"qdrant_addr"`
	QdrantCollection string `yaml:"qdrant_collection"`
}

// EmbeddingConfig holds descriptor model settings.
type EmbeddingConfig struct {
	Backend    string `yaml:"backend"` // onnx, http, mock
	ModelPath  string `yaml:"model_path"`
	ServiceURL string `yaml:"service_url"`
	InputName  string `yaml:"input_name"`
	OutputName string `yaml:"output_name"`
	ImageSize  int    `yaml:"image_size"`
	Dimensions int    `yaml:"dimensions"`
	CacheSize  int    `yaml:"cache_size"`
}

// SearchConfig holds retrieval settings.
type SearchConfig struct {
	MaxDistance float64 `yaml:"max_distance"`
	TopK        int     `yaml:"top_k"`
	BatchSize   int     `yaml:"batch_size"`
}

// GeometryConfig holds the thresholds of the geometric verifier.
type GeometryConfig struct {
	MaxSide          int     `yaml:"max_side"`
	MaxKeypoints     int     `yaml:"max_keypoints"`
	FastThreshold    int     `yaml:"fast_threshold"`
	MinKeypoints     int     `yaml:"min_keypoints"`
	MinMatches       int     `yaml:"min_matches"`
	ReprojThreshold  float64 `yaml:"reproj_threshold"`
	MinInlierRatio   float64 `yaml:"min_inlier_ratio"`
	RANSACIterations int     `yaml:"ransac_iterations"`
	Seed             uint64  `yaml:"seed"`
}

// VideoConfig holds frame sampling and dedup settings.
type VideoConfig struct {
	FrameStep   int    `yaml:"frame_step"`
	Precision   *int   `yaml:"precision"`
	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`
	Verify      *bool  `yaml:"verify"`
}

// PrecisionOrDefault returns the number of decimals coordinates are rounded to before
// dedup; defaults to 6 when unset. 0 is a valid precision.
func (v *VideoConfig) PrecisionOrDefault() int {
	if v.Precision != nil && *v.Precision >= 0 {
		return *v.Precision
	}
	return 6
}

// VerifyOrDefault returns whether video frames are geometrically verified; defaults to true when unset.
func (v *VideoConfig) VerifyOrDefault() bool {
	if v.Verify != nil {
		return *v.Verify
	}
	return true
}

// FilterConfig holds position smoothing settings.
type FilterConfig struct {
	Window int `yaml:"window"`
}

// CatalogConfig locates the scene catalogue.
type CatalogConfig struct {
	ScenesDir    string `yaml:"scenes_dir"`
	MetadataPath string `yaml:"metadata_path"`
	Watch        bool   `yaml:"watch"`
}

// PublishConfig configures detection fan-out. An empty NATSURL disables publishing.
type PublishConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// Load reads and parses the config file at path, applies environment overrides,
// expands paths, and applies defaults. Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyEnv(&cfg, os.LookupEnv)
	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Store.SQLitePath = expandPath(cfg.Store.SQLitePath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	cfg.Catalog.ScenesDir = expandPath(cfg.Catalog.ScenesDir, configDir)
	cfg.Catalog.MetadataPath = expandPath(cfg.Catalog.MetadataPath, configDir)
	cfg.Server.UploadDir = expandPath(cfg.Server.UploadDir, configDir)

	return &cfg, nil
}

// FromEnv builds a config from defaults and environment variables only.
func FromEnv() *Config {
	var cfg Config
	ApplyEnv(&cfg, os.LookupEnv)
	ApplyDefaults(&cfg)
	return &cfg
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// "~/" is the home directory. Other relative paths are left unchanged.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
