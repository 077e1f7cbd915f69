package microservice

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ghodss/yaml"
	"github.com/imdario/mergo"
)

// Duration is a time.Duration read from strings such as "24h" in config files.
type Duration struct {
	time.Duration
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		d.Duration = parsed
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid duration %s", string(data))
	}
	d.Duration = time.Duration(n)
	return nil
}

// MarshalJSON writes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Config is the service configuration. It is read from YAML; keys follow the
// json tags.
type Config struct {
	LogLevel        string `json:"log_level,omitempty"`
	HTTPPort        string `json:"http_port,omitempty"`
	ProjectID       string `json:"project_id,omitempty"`
	CredentialsFile string `json:"credentials_file,omitempty"`
	ServiceName     string `json:"service_name,omitempty"`

	NotificationPath string   `json:"notification_path,omitempty"`
	MaxBodyBytes     int64    `json:"max_body_bytes,omitempty"`
	ShutdownTimeout  Duration `json:"shutdown_timeout"`

	Pubsub   PubsubConfig   `json:"pubsub"`
	Pipeline PipelineConfig `json:"pipeline"`
	Dedup    DedupConfig    `json:"dedup"`
	Archive  ArchiveConfig  `json:"archive"`
	Ledger   LedgerConfig   `json:"ledger"`
	Authors  AuthorsConfig  `json:"authors"`
}

// PubsubConfig names the topic commits are published to.
type PubsubConfig struct {
	TopicID string `json:"topic_id,omitempty"`
}

// PipelineConfig sizes the in-process commit pipeline.
type PipelineConfig struct {
	NumWorkers int `json:"num_workers,omitempty"`
	BufferSize int `json:"buffer_size,omitempty"`
}

// DedupConfig controls duplicate commit suppression. With RedisAddr empty an
// in-memory cache of MaxEntries is used.
type DedupConfig struct {
	TTL           Duration `json:"ttl"`
	MaxEntries    int      `json:"max_entries,omitempty"`
	RedisAddr     string   `json:"redis_addr,omitempty"`
	RedisPassword string   `json:"redis_password,omitempty"`
	RedisDB       int      `json:"redis_db,omitempty"`
	KeyPrefix     string   `json:"key_prefix,omitempty"`
}

// ArchiveConfig enables archiving of raw deliveries when Bucket is set.
type ArchiveConfig struct {
	Bucket string `json:"bucket,omitempty"`
	Prefix string `json:"prefix,omitempty"`
}

// LedgerConfig enables the BigQuery commit ledger when Dataset and Table are set.
type LedgerConfig struct {
	Dataset       string   `json:"dataset,omitempty"`
	Table         string   `json:"table,omitempty"`
	BatchSize     int      `json:"batch_size,omitempty"`
	FlushInterval Duration `json:"flush_interval"`
}

// AuthorsConfig enables author enrichment from a Firestore collection.
type AuthorsConfig struct {
	Collection string   `json:"collection,omitempty"`
	CacheSize  int      `json:"cache_size,omitempty"`
	CacheTTL   Duration `json:"cache_ttl"`
}

// DefaultConfig returns the configuration used for anything a file or flag
// does not set.
func DefaultConfig() Config {
	return Config{
		LogLevel:         "info",
		HTTPPort:         ":8080",
		ServiceName:      "commitflow",
		NotificationPath: "/notifications",
		MaxBodyBytes:     4 << 20,
		ShutdownTimeout:  Duration{30 * time.Second},
		Pubsub: PubsubConfig{
			TopicID: "commits",
		},
		Pipeline: PipelineConfig{
			NumWorkers: 5,
			BufferSize: 100,
		},
		Dedup: DedupConfig{
			TTL:        Duration{7 * 24 * time.Hour},
			MaxEntries: 10000,
			KeyPrefix:  "commitflow:seen:",
		},
		Archive: ArchiveConfig{
			Prefix: "notifications",
		},
		Ledger: LedgerConfig{
			BatchSize:     50,
			FlushInterval: Duration{5 * time.Second},
		},
		Authors: AuthorsConfig{
			CacheSize: 1000,
			CacheTTL:  Duration{time.Hour},
		},
	}
}

// LoadConfig reads the YAML file at path, if any, over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML config data over DefaultConfig.
func ParseConfig(data []byte) (Config, error) {
	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return MergeConfig(DefaultConfig(), fileCfg)
}

// MergeConfig returns base with every non-zero field of overrides applied.
func MergeConfig(base, overrides Config) (Config, error) {
	if err := mergo.Merge(&base, overrides, mergo.WithOverride); err != nil {
		return Config{}, fmt.Errorf("failed to merge config: %w", err)
	}
	return base, nil
}

// Validate reports configuration the service cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.HTTPPort == "" {
		errs = append(errs, errors.New("http_port is required"))
	}
	if !strings.HasPrefix(c.NotificationPath, "/") {
		errs = append(errs, fmt.Errorf("notification_path %q must start with /", c.NotificationPath))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("max_body_bytes must be positive"))
	}
	if c.ProjectID == "" {
		errs = append(errs, errors.New("project_id is required"))
	}
	if c.Pubsub.TopicID == "" {
		errs = append(errs, errors.New("pubsub.topic_id is required"))
	}
	if c.Dedup.RedisAddr == "" && c.Dedup.MaxEntries <= 0 {
		errs = append(errs, errors.New("dedup.max_entries must be positive without redis"))
	}
	if (c.Ledger.Dataset == "") != (c.Ledger.Table == "") {
		errs = append(errs, errors.New("ledger.dataset and ledger.table must be set together"))
	}
	if c.Authors.Collection != "" && c.Authors.CacheSize <= 0 {
		errs = append(errs, errors.New("authors.cache_size must be positive"))
	}
	return errors.Join(errs...)
}
