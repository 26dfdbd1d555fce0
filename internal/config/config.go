// Package config loads catalog service configuration from an optional YAML
// file, an optional .env file and CATALOG_* environment variables, in that
// order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"

	"github.com/jacentio/catalog/batch"
	"github.com/jacentio/catalog/catalog"
	"github.com/jacentio/catalog/internal/logging"
	"github.com/jacentio/catalog/pagination"
	"github.com/jacentio/catalog/store"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverDynamoDB = "dynamodb"
)

// Config is the complete service configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Log        logging.Config   `yaml:"log"`
	Store      StoreConfig      `yaml:"store"`
	Batch      BatchConfig      `yaml:"batch"`
	Pagination PaginationConfig `yaml:"pagination"`
}

// HTTPConfig configures the HTTP listener.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig selects and configures the item store.
type StoreConfig struct {
	Driver      string `yaml:"driver"`
	Table       string `yaml:"table"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	AccessKey   string `yaml:"access_key"`
	SecretKey   string `yaml:"secret_key"`
	CreateTable bool   `yaml:"create_table"`
}

// BatchConfig configures batch execution.
type BatchConfig struct {
	MaxConcurrency int `yaml:"max_concurrency"`
	MaxOps         int `yaml:"max_ops"`
	MaxRequests    int `yaml:"max_requests"`
}

// PaginationConfig configures list page sizes.
type PaginationConfig struct {
	DefaultPageSize int `yaml:"default_page_size"`
	MaxPageSize     int `yaml:"max_page_size"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	bc := batch.DefaultConfig()
	pc := pagination.DefaultConfig()
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Log: logging.DefaultConfig(),
		Store: StoreConfig{
			Driver: DriverMemory,
			Table:  store.DefaultConfig().Table,
			Region: "us-east-1",
		},
		Batch: BatchConfig{
			MaxConcurrency: bc.MaxConcurrentGroups,
			MaxOps:         bc.MaxOpsPerBatch,
			MaxRequests:    bc.MaxRequests,
		},
		Pagination: PaginationConfig{
			DefaultPageSize: pc.DefaultPageSize,
			MaxPageSize:     pc.MaxPageSize,
		},
	}
}

// Load builds the configuration. A missing YAML file or .env file is not an
// error; defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	integer := func(name string, dst *int) error {
		if v, ok := lookup(name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = n
		}
		return nil
	}
	boolean := func(name string, dst *bool) error {
		if v, ok := lookup(name); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = b
		}
		return nil
	}

	str("CATALOG_HTTP_ADDR", &c.HTTP.Addr)
	if v, ok := lookup("CATALOG_HTTP_SHUTDOWN_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CATALOG_HTTP_SHUTDOWN_TIMEOUT: %w", err)
		}
		c.HTTP.ShutdownTimeout = d
	}
	str("CATALOG_LOG_LEVEL", &c.Log.Level)
	str("CATALOG_STORE_DRIVER", &c.Store.Driver)
	str("CATALOG_STORE_TABLE", &c.Store.Table)
	str("CATALOG_STORE_REGION", &c.Store.Region)
	str("CATALOG_STORE_ENDPOINT", &c.Store.Endpoint)
	str("CATALOG_STORE_ACCESS_KEY", &c.Store.AccessKey)
	str("CATALOG_STORE_SECRET_KEY", &c.Store.SecretKey)

	for _, f := range []func() error{
		func() error { return boolean("CATALOG_LOG_PRETTY", &c.Log.Pretty) },
		func() error { return boolean("CATALOG_STORE_CREATE_TABLE", &c.Store.CreateTable) },
		func() error { return integer("CATALOG_BATCH_MAX_CONCURRENCY", &c.Batch.MaxConcurrency) },
		func() error { return integer("CATALOG_BATCH_MAX_OPS", &c.Batch.MaxOps) },
		func() error { return integer("CATALOG_BATCH_MAX_REQUESTS", &c.Batch.MaxRequests) },
		func() error { return integer("CATALOG_PAGINATION_DEFAULT_PAGE_SIZE", &c.Pagination.DefaultPageSize) },
		func() error { return integer("CATALOG_PAGINATION_MAX_PAGE_SIZE", &c.Pagination.MaxPageSize) },
	} {
		if err := f(); err != nil {
			return err
		}
	}
	return nil
}

// validate rejects settings that cannot work and clamps the rest.
func (c *Config) validate() error {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	switch c.Store.Driver {
	case DriverMemory, DriverDynamoDB:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Store.AccessKey != "" && c.Store.SecretKey == "" {
		return fmt.Errorf("store secret_key is required with access_key")
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		c.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if c.Batch.MaxOps < 1 || c.Batch.MaxOps > store.MaxTransactItems {
		c.Batch.MaxOps = store.MaxTransactItems
	}
	if c.Pagination.MaxPageSize > 1000 {
		c.Pagination.MaxPageSize = 1000
	}
	return nil
}

// DynamoConfig returns the DynamoDB store settings.
func (c Config) DynamoConfig() store.Config {
	sc := store.DefaultConfig()
	sc.Table = c.Store.Table
	sc.MaxOpsPerBatch = c.Batch.MaxOps
	return sc
}

// ClientOptions returns the DynamoDB client settings.
func (c Config) ClientOptions() store.ClientOptions {
	return store.ClientOptions{
		Region:    c.Store.Region,
		Endpoint:  c.Store.Endpoint,
		AccessKey: c.Store.AccessKey,
		SecretKey: c.Store.SecretKey,
	}
}

// Catalog returns the service settings.
func (c Config) Catalog() catalog.Config {
	return catalog.Config{
		Batch: batch.Config{
			MaxConcurrentGroups: c.Batch.MaxConcurrency,
			MaxOpsPerBatch:      c.Batch.MaxOps,
			MaxRequests:         c.Batch.MaxRequests,
		},
		Pagination: pagination.Config{
			DefaultPageSize: c.Pagination.DefaultPageSize,
			MaxPageSize:     c.Pagination.MaxPageSize,
		},
	}
}
