package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	RecordStorePostgres = "postgres"
	RecordStoreMongo    = "mongo"

	BlobStoreDisk   = "disk"
	BlobStoreGDrive = "gdrive"
)

type Config struct {
	Environment string `toml:"environment"`
	Host        string `toml:"host"`
	Port        int    `toml:"port"`

	// logging
	LogLevel      string `toml:"log_level"`
	LogsPath      string `toml:"logs_path"`
	LogToStdout   bool   `toml:"log_to_stdout"`
	LogFormatJSON bool   `toml:"log_format_json"`
	SentryEnabled bool   `toml:"sentry_enabled"`

	// metrics
	PrometheusMetricsHost string `toml:"prometheus_metrics_host"`
	PrometheusMetricsPort string `toml:"prometheus_metrics_port"`

	// record store
	RecordStore    string `toml:"record_store"`
	PostgresHost   string `toml:"postgres_host"`
	PostgresPort   string `toml:"postgres_port"`
	PostgresDBName string `toml:"postgres_db_name"`
	MongoURL       string `toml:"mongo_url"`
	MongoDBName    string `toml:"mongo_db_name"`

	// sessions / rate limiting / idempotency
	RedisHost                   string   `toml:"redis_host"`
	RedisPort                   string   `toml:"redis_port"`
	SessionTTL                  Duration `toml:"session_ttl"`
	LoginRateLimitAllowedPerMin int      `toml:"login_rate_limit_allowed_per_min"`

	// blob store
	BlobStore           string `toml:"blob_store"`
	BlobRootPath        string `toml:"blob_root_path"`
	BlobPublicBaseURL   string `toml:"blob_public_base_url"`
	GDriveFolderName    string `toml:"gdrive_folder_name"`
	MaxImageSizeBytes   int64  `toml:"max_image_size_bytes"`
	ImageCleanupWorkers int    `toml:"image_cleanup_workers"`

	AllowedOrigins []string `toml:"allowed_origins"`
}

// Duration lets TOML carry values like "168h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

type Toml struct {
	Development *Config `toml:"development"`
	Production  *Config `toml:"production"`
}

func (t *Toml) Get(env string) (*Config, error) {
	var cfg *Config
	switch strings.ToLower(env) {
	case "dev", "development":
		cfg = t.Development
	case "prod", "production":
		cfg = t.Production
	default:
		return nil, fmt.Errorf("unknown env: %s", env)
	}
	if cfg == nil {
		return nil, fmt.Errorf("config for env [%s] missing", env)
	}
	return cfg, nil
}

func Load(env, configPath string) (*Config, error) {
	var tomlConfig Toml
	if _, err := toml.DecodeFile(configPath, &tomlConfig); err != nil {
		return nil, fmt.Errorf("decode toml config [%s]: %w", configPath, err)
	}

	cfg, err := tomlConfig.Get(env)
	if err != nil {
		return nil, err
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid [%s] config: %w", env, err)
	}

	return cfg, nil
}

func (c *Config) setDefaults() {
	if c.RecordStore == "" {
		c.RecordStore = RecordStorePostgres
	}
	if c.BlobStore == "" {
		c.BlobStore = BlobStoreDisk
	}
	if c.SessionTTL.Duration == 0 {
		c.SessionTTL.Duration = 24 * 7 * time.Hour
	}
	if c.MaxImageSizeBytes == 0 {
		c.MaxImageSizeBytes = 5 << 20
	}
	if c.ImageCleanupWorkers == 0 {
		c.ImageCleanupWorkers = 1
	}
	if c.LoginRateLimitAllowedPerMin == 0 {
		c.LoginRateLimitAllowedPerMin = 15
	}
	if c.GDriveFolderName == "" {
		c.GDriveFolderName = "postboard-images"
	}
}

func (c *Config) Validate() error {
	if c.Port <= 0 {
		return errors.New("port not set")
	}

	// users live in postgres whatever the record store
	if c.PostgresHost == "" || c.PostgresDBName == "" {
		return errors.New("postgres host and db name required")
	}

	switch c.RecordStore {
	case RecordStorePostgres:
	case RecordStoreMongo:
		if c.MongoURL == "" || c.MongoDBName == "" {
			return errors.New("mongo url and db name required")
		}
	default:
		return fmt.Errorf("unknown record store: %s", c.RecordStore)
	}

	switch c.BlobStore {
	case BlobStoreDisk:
		if c.BlobRootPath == "" {
			return errors.New("blob root path required for disk blob store")
		}
	case BlobStoreGDrive:
	default:
		return fmt.Errorf("unknown blob store: %s", c.BlobStore)
	}

	if c.RedisHost == "" {
		return errors.New("redis host not set")
	}

	return nil
}
