// Package config loads passcore settings from a YAML file and applies
// PASSCORE_* environment overrides on top.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"passcore/internal/blob"
	"passcore/internal/core"
	"passcore/internal/links"
	"passcore/internal/logging"
	"passcore/internal/status"
)

// HistoryDisabled turns off the status change archive.
const HistoryDisabled = "none"

// Config is the full passcore configuration.
type Config struct {
	// VocabularyFile names a status vocabulary document. Relative paths are
	// resolved against the directory of the configuration file.
	VocabularyFile string             `yaml:"vocabularyFile"`
	Storage        core.StorageConfig `yaml:"storage"`
	// History configures the blob store that archives status changes. An
	// empty driver or "none" disables the archive.
	History       blob.Config   `yaml:"history"`
	Logging       Logging       `yaml:"logging"`
	Engine        Engine        `yaml:"engine"`
	Links         Links         `yaml:"links"`
	Observability Observability `yaml:"observability"`
}

// Logging controls the zap backend.
type Logging struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Engine tunes the status service.
type Engine struct {
	FetchConcurrency int `yaml:"fetchConcurrency"`
	BatchParallelism int `yaml:"batchParallelism"`
}

// Links overrides identifier patterns per entity type.
type Links struct {
	Patterns map[string]string `yaml:"patterns"`
}

// Observability names optional output files for metrics and spans.
type Observability struct {
	MetricsFile string `yaml:"metricsFile"`
	TraceFile   string `yaml:"traceFile"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Storage: core.StorageConfig{Driver: core.StorageSQLite},
		History: blob.Config{Driver: HistoryDisabled},
		Logging: Logging{Level: "info"},
		Engine: Engine{
			FetchConcurrency: links.DefaultFetchConcurrency,
			BatchParallelism: core.DefaultBatchParallelism,
		},
	}
}

// Load reads path (when non-empty), applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		if cfg.VocabularyFile != "" && !filepath.IsAbs(cfg.VocabularyFile) {
			cfg.VocabularyFile = filepath.Join(filepath.Dir(path), cfg.VocabularyFile)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes a YAML document over the defaults without consulting the
// environment.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := decode(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

func decode(data []byte, cfg *Config) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(cfg)
}

// ApplyEnv overlays PASSCORE_* variables reported by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	var driver string
	str("PASSCORE_STORAGE_DRIVER", &driver)
	if driver != "" {
		c.Storage.Driver = core.StorageDriver(driver)
	}
	str("PASSCORE_SQLITE_PATH", &c.Storage.SQLitePath)
	str("PASSCORE_POSTGRES_DSN", &c.Storage.PostgresDSN)

	var historyDriver string
	str("PASSCORE_HISTORY_DRIVER", &historyDriver)
	if historyDriver != "" {
		c.History.Driver = blob.Driver(historyDriver)
	}
	str("PASSCORE_HISTORY_FS_ROOT", &c.History.FSRoot)
	str("PASSCORE_HISTORY_S3_BUCKET", &c.History.S3.Bucket)
	str("PASSCORE_HISTORY_S3_PREFIX", &c.History.S3.Prefix)
	str("PASSCORE_HISTORY_S3_REGION", &c.History.S3.Region)
	str("PASSCORE_HISTORY_S3_ENDPOINT", &c.History.S3.Endpoint)
	str("PASSCORE_HISTORY_S3_ACCESS_KEY_ID", &c.History.S3.AccessKeyID)
	str("PASSCORE_HISTORY_S3_SECRET_ACCESS_KEY", &c.History.S3.SecretAccessKey)
	flag("PASSCORE_HISTORY_S3_PATH_STYLE", &c.History.S3.PathStyle)

	str("PASSCORE_LOG_LEVEL", &c.Logging.Level)
	flag("PASSCORE_LOG_DEVELOPMENT", &c.Logging.Development)
	str("PASSCORE_VOCABULARY_FILE", &c.VocabularyFile)
	num("PASSCORE_FETCH_CONCURRENCY", &c.Engine.FetchConcurrency)
	num("PASSCORE_BATCH_PARALLELISM", &c.Engine.BatchParallelism)
	str("PASSCORE_METRICS_FILE", &c.Observability.MetricsFile)
	str("PASSCORE_TRACE_FILE", &c.Observability.TraceFile)
	return errors.Join(errs...)
}

// Validate checks driver names, limits and patterns.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case "", core.StorageMemory, core.StorageSQLite, core.StoragePostgres:
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not one of memory, sqlite, postgres", c.Storage.Driver))
	}
	switch c.History.Driver {
	case "", HistoryDisabled, blob.DriverFilesystem:
	case blob.DriverMemory:
		errs = append(errs, errors.New("history.driver memory does not outlive the process; use fs or s3"))
	case blob.DriverS3:
		if c.History.S3.Bucket == "" {
			errs = append(errs, errors.New("history.s3.bucket is required for the s3 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("history.driver %q is not one of none, fs, s3", c.History.Driver))
	}
	if c.Engine.FetchConcurrency < 0 {
		errs = append(errs, errors.New("engine.fetchConcurrency must not be negative"))
	}
	if c.Engine.BatchParallelism < 0 {
		errs = append(errs, errors.New("engine.batchParallelism must not be negative"))
	}
	if _, err := c.Verbosity(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Patterns(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// HistoryEnabled reports whether status changes are archived.
func (c Config) HistoryEnabled() bool {
	return c.History.Driver != "" && c.History.Driver != HistoryDisabled
}

// Verbosity maps the configured level name onto a logr verbosity.
func (c Config) Verbosity() (int, error) {
	return logging.ParseLevel(strings.TrimSpace(c.Logging.Level))
}

// Patterns compiles the identifier pattern overrides.
func (c Config) Patterns() (links.Patterns, error) {
	return links.CompilePatterns(c.Links.Patterns)
}

// Vocabulary loads the configured vocabulary file, or the built-in default.
func (c Config) Vocabulary() (*status.Vocabulary, error) {
	if c.VocabularyFile == "" {
		return status.DefaultVocabulary(), nil
	}
	f, err := os.Open(c.VocabularyFile)
	if err != nil {
		return nil, fmt.Errorf("open vocabulary: %w", err)
	}
	defer func() { _ = f.Close() }()
	v, err := status.LoadVocabulary(f)
	if err != nil {
		return nil, fmt.Errorf("vocabulary %s: %w", c.VocabularyFile, err)
	}
	return v, nil
}
