// Package config reads runtime configuration from environment variables and
// exposes it as typed values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every tunable the server, worker, and adapters need.
type Config struct {
	Port int

	MongoURI string
	MongoDB  string

	S3Endpoint         string
	S3Bucket           string
	S3UseSSL           bool
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string

	MaxFileSize      int64
	AllowedFileTypes []string

	BatchSize        int
	WritePause       time.Duration
	LockTimeout      time.Duration
	StaleThreshold   time.Duration
	PollInterval     time.Duration
	RecoveryInterval time.Duration
	MaxAttempts      int

	EnableWorker bool
	WorkerID     string
}

const (
	defaultPort         = 3000
	defaultMongoURI     = "mongodb://localhost:27017"
	defaultMongoDB      = "linehaul"
	defaultS3Endpoint   = "s3.amazonaws.com"
	defaultAWSRegion    = "us-east-1"
	defaultMaxFileSize  = 5 << 30 // 5 GiB
	defaultAllowedTypes = "text/plain,application/json,text/csv"
	defaultBatchSize    = 1000
)

// Load reads configuration from the environment, falling back to defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:               parseInt("PORT", defaultPort),
		MongoURI:           readEnv("MONGODB_URI", defaultMongoURI),
		MongoDB:            readEnv("MONGODB_DB", defaultMongoDB),
		S3Endpoint:         readEnv("S3_ENDPOINT", defaultS3Endpoint),
		S3Bucket:           bucketName(readEnv("S3_BUCKET", "")),
		S3UseSSL:           parseBool("S3_USE_SSL", true),
		AWSRegion:          readEnv("AWS_REGION", defaultAWSRegion),
		AWSAccessKeyID:     readEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey: readEnv("AWS_SECRET_ACCESS_KEY", ""),
		MaxFileSize:        parseInt64("MAX_FILE_SIZE", defaultMaxFileSize),
		AllowedFileTypes:   parseList("ALLOWED_FILE_TYPES", defaultAllowedTypes),
		BatchSize:          parseInt("JOB_BATCH_SIZE", defaultBatchSize),
		WritePause:         parseMillis("JOB_WRITE_PAUSE_MS", 50*time.Millisecond),
		LockTimeout:        parseMillis("JOB_LOCK_TIMEOUT_MS", 5*time.Minute),
		StaleThreshold:     parseMillis("JOB_STALE_THRESHOLD_MS", 10*time.Minute),
		PollInterval:       parseMillis("WORKER_POLL_INTERVAL_MS", time.Second),
		RecoveryInterval:   parseMillis("JOB_RECOVERY_INTERVAL_MS", time.Minute),
		MaxAttempts:        parseInt("MAX_JOB_ATTEMPTS", 3),
		EnableWorker:       parseBool("ENABLE_WORKER", false),
		WorkerID:           readEnv("WORKER_ID", fmt.Sprintf("worker-%d", os.Getpid())),
	}
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET is required")
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = defaultMaxFileSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return cfg, nil
}

// Address returns the listen address derived from Port.
func (c *Config) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// bucketName accepts either a bare bucket name or an s3:// URI and returns the
// bare name. Any path after the bucket is discarded.
func bucketName(raw string) string {
	name := strings.TrimPrefix(strings.TrimSpace(raw), "s3://")
	if i := strings.IndexByte(name, '/'); i >= 0 {
		name = name[:i]
	}
	return name
}

func readEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseList(key, def string) []string {
	val := readEnv(key, def)
	out := strings.Split(val, ",")
	for i := range out {
		out[i] = strings.TrimSpace(out[i])
	}
	return out
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt64(key string, def int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseMillis(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed > 0 {
			return time.Duration(parsed) * time.Millisecond
		}
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}
