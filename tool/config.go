package tool

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/moyoez/docdrop/types"
)

var (
	ConfigPath    = "config.yaml" // be aware that it can be changed, default to ./config.yaml
	CurrentConfig types.AppConfig
)

const (
	DefaultChunkSize      = 5 * 1024 * 1024
	DefaultChunkThreshold = 100 * 1024 * 1024
)

func DefaultConfig() types.AppConfig {
	return types.AppConfig{
		Port:            8090,
		DataDir:         "data",
		SpoolDir:        "",                // derived from DataDir when empty
		MaxExtractBytes: 256 * 1024 * 1024, // larger files are stored but not indexed
		Database: types.DatabaseConfig{
			Driver: "sqlite3",
			DSN:    "",
		},
		Blob: types.BlobConfig{
			Driver: "local",
		},
		Sessions: types.SessionConfig{
			Store:         "memory",
			TTL:           60 * time.Minute,
			SweepInterval: 5 * time.Minute,
			MaxChunks:     10000,
			MaxChunkBytes: 2 * DefaultChunkSize,
		},
		Redis: types.RedisConfig{
			Addr:      "127.0.0.1:6379",
			KeyPrefix: "docdrop",
		},
		Query: types.QueryConfig{
			TopK:         3,
			MinRelevance: 0.05,
		},
		RateLimit: types.RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
		},
	}
}

// ApplyDerivedDefaults fills paths that depend on DataDir and clamps zero values.
func ApplyDerivedDefaults(cfg *types.AppConfig) {
	def := DefaultConfig()
	if cfg.DataDir == "" {
		cfg.DataDir = def.DataDir
	}
	if cfg.SpoolDir == "" {
		cfg.SpoolDir = filepath.Join(cfg.DataDir, "spool")
	}
	if cfg.Blob.Dir == "" {
		cfg.Blob.Dir = filepath.Join(cfg.DataDir, "blobs")
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = def.Database.Driver
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = filepath.Join(cfg.DataDir, "docdrop.db")
	}
	if cfg.Sessions.TTL <= 0 {
		cfg.Sessions.TTL = def.Sessions.TTL
	}
	if cfg.Sessions.SweepInterval <= 0 {
		cfg.Sessions.SweepInterval = def.Sessions.SweepInterval
	}
	if cfg.Sessions.MaxChunks <= 0 {
		cfg.Sessions.MaxChunks = def.Sessions.MaxChunks
	}
	if cfg.Sessions.MaxChunkBytes <= 0 {
		cfg.Sessions.MaxChunkBytes = def.Sessions.MaxChunkBytes
	}
	if cfg.Query.TopK <= 0 {
		cfg.Query.TopK = def.Query.TopK
	}
	if cfg.MaxExtractBytes <= 0 {
		cfg.MaxExtractBytes = def.MaxExtractBytes
	}
}

func LoadConfig(path string) (types.AppConfig, error) {
	if path == "" {
		path = ConfigPath
	}
	ConfigPath = path

	cfg := DefaultConfig()

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			if writeErr := writeDefaultConfig(path, cfg); writeErr != nil {
				return cfg, fmt.Errorf("config file not found, and failed to generate default config: %v", writeErr)
			}
			DefaultLogger.Infof("Created new config file at %s", path)
			ApplyDerivedDefaults(&cfg)
			CurrentConfig = cfg
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %v", err)
	}
	if info.IsDir() {
		return cfg, fmt.Errorf("config file path is a directory: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %v", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %v", err)
	}
	ApplyDerivedDefaults(&cfg)

	CurrentConfig = cfg
	return cfg, nil
}

// ApplyFlagOverrides merges CLI flag values over the loaded file config.
func ApplyFlagOverrides(cfg *types.AppConfig, flags types.Config) {
	if flags.UsePort > 0 {
		cfg.Port = flags.UsePort
	}
	if flags.UseDataDir != "" {
		cfg.DataDir = flags.UseDataDir
		cfg.SpoolDir = ""
		cfg.Blob.Dir = ""
		cfg.Database.DSN = ""
	}
	if flags.UseSpoolDir != "" {
		cfg.SpoolDir = flags.UseSpoolDir
	}
	if flags.UseStore != "" {
		cfg.Sessions.Store = flags.UseStore
	}
	if flags.UseBlob != "" {
		cfg.Blob.Driver = flags.UseBlob
	}
	if flags.UseNotifySock != "" {
		cfg.Notify.SocketPath = flags.UseNotifySock
	}
	ApplyDerivedDefaults(cfg)
}

func writeDefaultConfig(path string, cfg types.AppConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func GetCurrentConfig() *types.AppConfig {
	return &CurrentConfig
}
