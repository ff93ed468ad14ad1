// Package config provides the settings surface for Strata.
// It defines a single Settings structure consumed by managers, drivers and
// caches, so that every adapter built from the same Settings behaves alike.
//
// The settings are organized into logical sections:
//   - Driver: column naming and type-mapping behavior of the columnar driver
//   - Timeouts: operation, cache and row-read bounds
//   - Cache: read-through cache defaults
//   - Executor: bounded execution resource sizing
//   - Store: which store backs the driver and how to reach it
//   - Observability: log level, metrics and tracing
//
// Example usage:
//
//	settings := config.NewSettings()
//	settings.Driver.EnumsAsNumbers = true
//
//	if err := settings.Validate(); err != nil {
//	    log.Fatal(err)
//	}
//
// Settings are passed by value into a manager and never mutated afterwards.
package config

import (
	"fmt"
	"runtime"
	"time"
)

// Store kinds accepted by StoreConfig.Kind.
const (
	StoreMemory  = "memory"
	StoreSQLite  = "sqlite"
	StoreSpanner = "spanner"
)

// Type-check policies accepted by DriverConfig.TypeCheckPolicy.
const (
	PolicyLenient = "lenient"
	PolicyStrict  = "strict"
)

// Settings is the immutable configuration value for one manager.
type Settings struct {
	// Driver controls column naming and type mapping
	Driver DriverConfig `yaml:"driver" json:"driver" envPrefix:"DRIVER_"`

	// Timeouts define operation bounds
	Timeouts TimeoutConfig `yaml:"timeouts" json:"timeouts" envPrefix:"TIMEOUT_"`

	// Cache holds read-through cache defaults
	Cache CacheConfig `yaml:"cache" json:"cache" envPrefix:"CACHE_"`

	// Executor sizes the bounded execution resource
	Executor ExecutorConfig `yaml:"executor" json:"executor" envPrefix:"EXECUTOR_"`

	// Store selects and addresses the backing store
	Store StoreConfig `yaml:"store" json:"store" envPrefix:"STORE_"`

	// Observability settings for logging, metrics and tracing
	Observability ObservabilityConfig `yaml:"observability" json:"observability" envPrefix:"OBSERVABILITY_"`
}

// DriverConfig contains the columnar driver settings.
type DriverConfig struct {
	// PreserveFieldNames uses literal schema field names as column names
	PreserveFieldNames bool `yaml:"preserve_field_names" json:"preserve_field_names" env:"PRESERVE_FIELD_NAMES"`
	// CapitalizedNames upper-cases the first letter of generated column names
	CapitalizedNames bool `yaml:"capitalized_names" json:"capitalized_names" env:"CAPITALIZED_NAMES"`
	// EnumsAsNumbers stores enums as NUMERIC instead of their symbolic name
	EnumsAsNumbers bool `yaml:"enums_as_numbers" json:"enums_as_numbers" env:"ENUMS_AS_NUMBERS"`
	// CheckExpectedTypes cross-checks store-reported column types on read
	CheckExpectedTypes bool `yaml:"check_expected_types" json:"check_expected_types" env:"CHECK_EXPECTED_TYPES"`
	// TypeCheckPolicy decides what a type mismatch does (lenient drops the field, strict fails the read)
	TypeCheckPolicy string `yaml:"type_check_policy" json:"type_check_policy" env:"TYPE_CHECK_POLICY"`
}

// TimeoutConfig contains all timeout-related settings.
type TimeoutConfig struct {
	// Operation bounds synchronous convenience calls
	Operation time.Duration `yaml:"operation" json:"operation" env:"OPERATION"`
	// Cache bounds the wait on a cache lookup
	Cache time.Duration `yaml:"cache" json:"cache" env:"CACHE"`
	// Read bounds a single row read against the store
	Read time.Duration `yaml:"read" json:"read" env:"READ"`
}

// CacheConfig contains read-through cache settings.
type CacheConfig struct {
	// Enabled turns the cache on for fetches that don't override it
	Enabled bool `yaml:"enabled" json:"enabled" env:"ENABLED"`
	// TTL is the default time-to-live for backfilled entries
	TTL time.Duration `yaml:"ttl" json:"ttl" env:"TTL"`
	// Eviction selects the eviction mode (ttl, lru, lfu)
	Eviction string `yaml:"eviction" json:"eviction" env:"EVICTION"`
	// MaxBytes caps the in-memory cache size
	MaxBytes int64 `yaml:"max_bytes" json:"max_bytes" env:"MAX_BYTES"`
	// Compression selects the payload compressor (none, gzip, snappy, lz4, zstd, s2, deflate)
	Compression string `yaml:"compression" json:"compression" env:"COMPRESSION"`
	// Encoding selects the record encoding (binary, json)
	Encoding string `yaml:"encoding" json:"encoding" env:"ENCODING"`
}

// ExecutorConfig sizes the bounded execution resource.
type ExecutorConfig struct {
	// MaxConcurrency limits in-flight asynchronous operations
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency" env:"MAX_CONCURRENCY"`
}

// StoreConfig selects and addresses the backing store.
type StoreConfig struct {
	// Kind is one of memory, sqlite, spanner
	Kind string `yaml:"kind" json:"kind" env:"KIND"`
	// Project is the cloud project hosting the store
	Project string `yaml:"project" json:"project" env:"PROJECT"`
	// Instance is the store instance name
	Instance string `yaml:"instance" json:"instance" env:"INSTANCE"`
	// Database is the default database
	Database string `yaml:"database" json:"database" env:"DATABASE"`
	// Endpoint overrides the service endpoint (emulators)
	Endpoint string `yaml:"endpoint" json:"endpoint" env:"ENDPOINT"`
	// CredentialsFile points at a service account key
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file" env:"CREDENTIALS_FILE"`
	// SQLitePath is the database file for the sqlite store
	SQLitePath string `yaml:"sqlite_path" json:"sqlite_path" env:"SQLITE_PATH"`
}

// ObservabilityConfig contains monitoring and observability settings.
type ObservabilityConfig struct {
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level" env:"LOG_LEVEL"`
	// EnableMetrics activates Prometheus metrics
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics" env:"ENABLE_METRICS"`
	// EnableTracing activates OpenTelemetry tracing
	EnableTracing bool `yaml:"enable_tracing" json:"enable_tracing" env:"ENABLE_TRACING"`
	// TracingSampleRate controls trace sampling (0.0-1.0)
	TracingSampleRate float64 `yaml:"tracing_sample_rate" json:"tracing_sample_rate" env:"TRACING_SAMPLE_RATE"`
}

// NewSettings creates Settings with the documented defaults.
func NewSettings() Settings {
	return Settings{
		Driver: DriverConfig{
			PreserveFieldNames: false,
			CapitalizedNames:   true,
			EnumsAsNumbers:     false,
			CheckExpectedTypes: true,
			TypeCheckPolicy:    PolicyLenient,
		},
		Timeouts: TimeoutConfig{
			Operation: 30 * time.Second,
			Cache:     2 * time.Second,
			Read:      120 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:     true,
			TTL:         time.Hour,
			Eviction:    "ttl",
			MaxBytes:    64 << 20,
			Compression: "snappy",
			Encoding:    "binary",
		},
		Executor: ExecutorConfig{
			MaxConcurrency: runtime.NumCPU() * 4,
		},
		Store: StoreConfig{
			Kind: StoreMemory,
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			EnableMetrics:     true,
			EnableTracing:     false,
			TracingSampleRate: 0.1,
		},
	}
}

// Validate checks the settings for correctness.
func (s Settings) Validate() error {
	if s.Timeouts.Operation <= 0 {
		return fmt.Errorf("timeouts.operation must be positive")
	}
	if s.Timeouts.Cache <= 0 {
		return fmt.Errorf("timeouts.cache must be positive")
	}
	if s.Timeouts.Read <= 0 {
		return fmt.Errorf("timeouts.read must be positive")
	}
	if s.Executor.MaxConcurrency <= 0 {
		return fmt.Errorf("executor.max_concurrency must be positive")
	}
	if s.Cache.MaxBytes < 0 {
		return fmt.Errorf("cache.max_bytes cannot be negative")
	}
	switch s.Cache.Eviction {
	case "ttl", "lru", "lfu":
	default:
		return fmt.Errorf("cache.eviction %q is not one of ttl, lru, lfu", s.Cache.Eviction)
	}
	switch s.Cache.Encoding {
	case "binary", "json":
	default:
		return fmt.Errorf("cache.encoding %q is not one of binary, json", s.Cache.Encoding)
	}
	switch s.Driver.TypeCheckPolicy {
	case PolicyLenient, PolicyStrict:
	default:
		return fmt.Errorf("driver.type_check_policy %q is not one of lenient, strict", s.Driver.TypeCheckPolicy)
	}
	switch s.Store.Kind {
	case StoreMemory:
	case StoreSQLite:
		if s.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path is required for the sqlite store")
		}
	case StoreSpanner:
		if s.Store.Project == "" || s.Store.Instance == "" || s.Store.Database == "" {
			return fmt.Errorf("store.project, store.instance and store.database are required for the spanner store")
		}
	default:
		return fmt.Errorf("store.kind %q is not one of memory, sqlite, spanner", s.Store.Kind)
	}
	if s.Observability.TracingSampleRate < 0 || s.Observability.TracingSampleRate > 1 {
		return fmt.Errorf("observability.tracing_sample_rate must be within [0, 1]")
	}
	return nil
}

// Target identifies the store a manager is bound to.
func (s StoreConfig) Target() string {
	switch s.Kind {
	case StoreSQLite:
		return "sqlite:" + s.SQLitePath
	case StoreSpanner:
		return fmt.Sprintf("projects/%s/instances/%s/databases/%s", s.Project, s.Instance, s.Database)
	default:
		return "memory:" + s.Database
	}
}

// Strict reports whether read type mismatches fail the read.
func (d DriverConfig) Strict() bool {
	return d.TypeCheckPolicy == PolicyStrict
}
