package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 512
	}
	if cfg.Server.MaxConcurrentJobs == 0 {
		cfg.Server.MaxConcurrentJobs = 2
	}
	if cfg.Server.UploadRate == 0 {
		cfg.Server.UploadRate = 1
	}
	if cfg.Server.UploadBurst == 0 {
		cfg.Server.UploadBurst = 4
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 10 * time.Minute
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "redis"
	}
	if cfg.Store.Host == "" {
		cfg.Store.Host = "localhost"
	}
	if cfg.Store.Port == 0 {
		cfg.Store.Port = 6379
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = "/usr/local/var/basho/data/scenes.db"
	}
	if cfg.Store.DialTimeout == 0 {
		cfg.Store.DialTimeout = 2 * time.Second
	}
	if cfg.Index.Type == "" {
		cfg.Index.Type = "memory"
	}
	if cfg.Index.QdrantAddr == "" {
		cfg.Index.QdrantAddr = "localhost:6334"
	}
	if cfg.Index.QdrantCollection == "" {
		cfg.Index.QdrantCollection = "basho_descriptors"
	}
	if cfg.Embedding.Backend == "" {
		cfg.Embedding.Backend = "onnx"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/basho/data/models/megaloc.onnx"
	}
	if cfg.Embedding.ServiceURL == "" {
		cfg.Embedding.ServiceURL = "http://localhost:5001"
	}
	if cfg.Embedding.InputName == "" {
		cfg.Embedding.InputName = "input"
	}
	if cfg.Embedding.OutputName == "" {
		cfg.Embedding.OutputName = "output"
	}
	if cfg.Embedding.ImageSize == 0 {
		cfg.Embedding.ImageSize = 320
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 2048
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1024
	}
	if cfg.Search.MaxDistance == 0 {
		cfg.Search.MaxDistance = 1.5
	}
	if cfg.Search.TopK == 0 {
		cfg.Search.TopK = 5
	}
	if cfg.Search.BatchSize == 0 {
		cfg.Search.BatchSize = 16
	}
	if cfg.Geometry.MaxSide == 0 {
		cfg.Geometry.MaxSide = 640
	}
	if cfg.Geometry.MaxKeypoints == 0 {
		cfg.Geometry.MaxKeypoints = 500
	}
	if cfg.Geometry.FastThreshold == 0 {
		cfg.Geometry.FastThreshold = 20
	}
	if cfg.Geometry.MinKeypoints == 0 {
		cfg.Geometry.MinKeypoints = 4
	}
	if cfg.Geometry.MinMatches == 0 {
		cfg.Geometry.MinMatches = 4
	}
	if cfg.Geometry.ReprojThreshold == 0 {
		cfg.Geometry.ReprojThreshold = 5.0
	}
	if cfg.Geometry.MinInlierRatio == 0 {
		cfg.Geometry.MinInlierRatio = 0.3
	}
	if cfg.Geometry.RANSACIterations == 0 {
		cfg.Geometry.RANSACIterations = 1000
	}
	if cfg.Geometry.Seed == 0 {
		cfg.Geometry.Seed = 1
	}
	if cfg.Video.FrameStep == 0 {
		cfg.Video.FrameStep = 30
	}
	if cfg.Video.FFmpegPath == "" {
		cfg.Video.FFmpegPath = "ffmpeg"
	}
	if cfg.Video.FFprobePath == "" {
		cfg.Video.FFprobePath = "ffprobe"
	}
	if cfg.Filter.Window == 0 {
		cfg.Filter.Window = 5
	}
	if cfg.Catalog.ScenesDir == "" {
		cfg.Catalog.ScenesDir = "vpr_data/scenes"
	}
	if cfg.Catalog.MetadataPath == "" {
		cfg.Catalog.MetadataPath = "vpr_data/scenes.csv"
	}
	if cfg.Publish.Subject == "" {
		cfg.Publish.Subject = "basho.locations"
	}
}
