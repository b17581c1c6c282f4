package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/gophzip/internal/flagx"
	"github.com/dmitrijs2005/gophzip/internal/timex"
)

// JsonConfig is the on-disk shape of the config file. Durations use
// timex.Duration so both "5s" and integer nanoseconds are accepted. Pointer
// and zero-valued fields that are absent leave the current value untouched.
type JsonConfig struct {
	HTTPAddr        string          `json:"http_addr"`
	GRPCAddr        string          `json:"grpc_addr"`
	LogLevel        string          `json:"log_level"`
	ShutdownTimeout *timex.Duration `json:"shutdown_timeout"`

	MetadataBackend string `json:"metadata_backend"`
	DatabaseDSN     string `json:"database_dsn"`

	BlobBackend    string `json:"blob_backend"`
	BlobDir        string `json:"blob_dir"`
	S3RootUser     string `json:"s3_root_user"`
	S3RootPassword string `json:"s3_root_password"`
	S3Bucket       string `json:"s3_bucket"`
	S3Region       string `json:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`
	MinioEndpoint  string `json:"minio_endpoint"`
	MinioUseSSL    *bool  `json:"minio_use_ssl"`

	ArchiveFormat string `json:"archive_format"`
	MaxUploadSize int64  `json:"max_upload_size"`

	WorkerCount    int             `json:"worker_count"`
	QueueSize      int             `json:"queue_size"`
	RetryBase      *timex.Duration `json:"retry_base"`
	RetryCap       *timex.Duration `json:"retry_cap"`
	RetryAttempts  int             `json:"retry_attempts"`
	AttemptTimeout *timex.Duration `json:"attempt_timeout"`

	LeaseBackend string          `json:"lease_backend"`
	LeaseTTL     *timex.Duration `json:"lease_ttl"`
	RedisAddr    string          `json:"redis_addr"`

	RecoveryInterval *timex.Duration `json:"recovery_interval"`

	KafkaBrokers []string `json:"kafka_brokers"`
	KafkaTopic   string   `json:"kafka_topic"`

	RateLimit float64 `json:"rate_limit"`
}

// parseJson loads the file named by -c/-config, if any, into config.
func parseJson(config *Config, args []string) error {
	path := flagx.ConfigPath(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}

	c.apply(config)
	return nil
}

func (c *JsonConfig) apply(config *Config) {
	setString(&config.HTTPAddr, c.HTTPAddr)
	setString(&config.GRPCAddr, c.GRPCAddr)
	setString(&config.LogLevel, c.LogLevel)
	setDuration(&config.ShutdownTimeout, c.ShutdownTimeout)

	setString(&config.MetadataBackend, c.MetadataBackend)
	setString(&config.DatabaseDSN, c.DatabaseDSN)

	setString(&config.BlobBackend, c.BlobBackend)
	setString(&config.BlobDir, c.BlobDir)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.MinioEndpoint, c.MinioEndpoint)
	if c.MinioUseSSL != nil {
		config.MinioUseSSL = *c.MinioUseSSL
	}

	setString(&config.ArchiveFormat, c.ArchiveFormat)
	if c.MaxUploadSize > 0 {
		config.MaxUploadSize = c.MaxUploadSize
	}

	setInt(&config.WorkerCount, c.WorkerCount)
	setInt(&config.QueueSize, c.QueueSize)
	setDuration(&config.RetryBase, c.RetryBase)
	setDuration(&config.RetryCap, c.RetryCap)
	setInt(&config.RetryAttempts, c.RetryAttempts)
	setDuration(&config.AttemptTimeout, c.AttemptTimeout)

	setString(&config.LeaseBackend, c.LeaseBackend)
	setDuration(&config.LeaseTTL, c.LeaseTTL)
	setString(&config.RedisAddr, c.RedisAddr)

	setDuration(&config.RecoveryInterval, c.RecoveryInterval)

	if len(c.KafkaBrokers) > 0 {
		config.KafkaBrokers = c.KafkaBrokers
	}
	setString(&config.KafkaTopic, c.KafkaTopic)

	if c.RateLimit > 0 {
		config.RateLimit = c.RateLimit
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
