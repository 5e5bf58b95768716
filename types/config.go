package types

import "time"

// AppConfig represents the application configuration loaded from config file
type AppConfig struct {
	Port            int             `yaml:"port"`
	DataDir         string          `yaml:"dataDir"`
	SpoolDir        string          `yaml:"spoolDir"` // chunk parts live here until complete
	MaxExtractBytes int64           `yaml:"maxExtractBytes"`
	Database        DatabaseConfig  `yaml:"database"`
	Blob            BlobConfig      `yaml:"blob"`
	Sessions        SessionConfig   `yaml:"sessions"`
	Redis           RedisConfig     `yaml:"redis,omitempty"`
	Query           QueryConfig     `yaml:"query"`
	RateLimit       RateLimitConfig `yaml:"rateLimit"`
	Notify          NotifyConfig    `yaml:"notify"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // only sqlite3 for now
	DSN    string `yaml:"dsn"`
}

type BlobConfig struct {
	Driver string      `yaml:"driver"` // local | minio
	Dir    string      `yaml:"dir"`
	Minio  MinioConfig `yaml:"minio,omitempty"`
}

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	UseSSL    bool   `yaml:"useSSL"`
	Bucket    string `yaml:"bucket"`
}

type SessionConfig struct {
	Store         string        `yaml:"store"` // memory | redis
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweepInterval"`
	MaxChunks     int           `yaml:"maxChunks"`
	MaxChunkBytes int64         `yaml:"maxChunkBytes"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Username  string `yaml:"username,omitempty"`
	Password  string `yaml:"password,omitempty"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"keyPrefix"`
}

type QueryConfig struct {
	TopK         int     `yaml:"topK"`
	MinRelevance float64 `yaml:"minRelevance"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requestsPerSecond"` // 0 disables
	Burst             int     `yaml:"burst"`
}

type NotifyConfig struct {
	SocketPath string `yaml:"socketPath"` // empty disables unix socket forwarding
}

// Config holds runtime overrides from CLI flags
type Config struct {
	Log           string
	UseConfigPath string
	UsePort       int
	UseDataDir    string
	UseSpoolDir   string
	UseStore      string // memory | redis
	UseBlob       string // local | minio
	UseNotifySock string
}
