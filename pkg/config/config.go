package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the mediabackups configuration.
//
// A single file configures every subcommand:
//   - Logging behavior
//   - Metadata database (the backups bookkeeping database)
//   - Production databases (the MediaWiki databases media is discovered from)
//   - Backup storage (S3-compatible endpoints)
//   - Swift (the production media store files are downloaded from)
//   - Encryption of non-public media
//   - Worker settings (temporary dir, batch sizes)
//   - MediaWiki API polling
//   - Metrics and telemetry
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (MEDIABACKUPS_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Metadata configures the database where file inventory, backup
	// state and the backups ledger are kept
	Metadata MetadataConfig `mapstructure:"metadata" yaml:"metadata"`

	// Production configures access to the MediaWiki core databases
	// (image, oldimage, filearchive) media metadata is gathered from
	Production ProductionConfig `mapstructure:"production" yaml:"production"`

	// Storage configures the S3-compatible backup endpoints
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Swift configures the production media store client
	Swift SwiftConfig `mapstructure:"swift" yaml:"swift"`

	// Encryption configures age encryption of non-public media
	Encryption EncryptionConfig `mapstructure:"encryption" yaml:"encryption"`

	// Worker contains batch worker settings
	Worker WorkerConfig `mapstructure:"worker" yaml:"worker"`

	// API configures MediaWiki action API polling for recent uploads
	API APIConfig `mapstructure:"api" yaml:"api"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MetadataConfig configures the connection to the backup metadata database.
type MetadataConfig struct {
	// DBType selects the SQL dialect
	// Valid values: mysql, postgres, sqlite
	DBType string `mapstructure:"db_type" validate:"required,oneof=mysql postgres sqlite" yaml:"db_type"`

	// Host of the database server
	Host string `mapstructure:"host" yaml:"host"`

	// Port of the database server
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// Socket is a unix socket path; takes precedence over host/port when set
	Socket string `mapstructure:"socket" yaml:"socket,omitempty"`

	// User to authenticate as
	User string `mapstructure:"user" yaml:"user"`

	// Password to authenticate with
	Password string `mapstructure:"password" yaml:"password,omitempty"`

	// Database name (for sqlite, the file path or ":memory:")
	Database string `mapstructure:"database" yaml:"database"`

	// Batchsize is how many pending files are claimed per worker round
	Batchsize int `mapstructure:"batchsize" validate:"omitempty,gt=0" yaml:"batchsize"`
}

// ProductionConfig configures access to the MediaWiki core databases.
// One connection per wiki is opened against Host; the database name is
// the wiki name itself.
type ProductionConfig struct {
	// Host of the production database replica
	Host string `mapstructure:"host" yaml:"host"`

	// Port of the production database replica
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// Socket is a unix socket path; takes precedence over host/port when set
	Socket string `mapstructure:"socket" yaml:"socket,omitempty"`

	// User to authenticate as
	User string `mapstructure:"user" yaml:"user"`

	// Password to authenticate with
	Password string `mapstructure:"password" yaml:"password,omitempty"`

	// Wiki pins discovery to a single wiki (database name)
	Wiki string `mapstructure:"wiki" yaml:"wiki,omitempty"`

	// DBLists are paths to dblist files enumerating the wikis to process;
	// ignored when Wiki is set
	DBLists []string `mapstructure:"dblists" yaml:"dblists,omitempty"`

	// Batchsize is how many rows are read per fetch while paging results
	Batchsize int `mapstructure:"batchsize" validate:"omitempty,gt=0" yaml:"batchsize"`
}

// StorageConfig configures the S3-compatible backup storage.
// Objects are sharded over Endpoints by the first hex digit of their name.
type StorageConfig struct {
	// Endpoints are the base URLs of the S3-compatible servers, in shard order
	Endpoints []string `mapstructure:"endpoints" yaml:"endpoints"`

	// Bucket that holds the backups on every endpoint
	Bucket string `mapstructure:"bucket" yaml:"bucket"`

	// Region passed to the S3 client
	Region string `mapstructure:"region" yaml:"region,omitempty"`

	// AccessKey for the S3 endpoints
	AccessKey string `mapstructure:"access_key" yaml:"access_key,omitempty"`

	// SecretKey for the S3 endpoints
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key,omitempty"`

	// ForcePathStyle forces path-style bucket addressing (needed by most
	// self-hosted S3 implementations)
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style"`
}

// SwiftConfig configures the production Swift media store client.
type SwiftConfig struct {
	// AuthURL is the Swift v1 auth endpoint
	AuthURL string `mapstructure:"auth_url" yaml:"auth_url"`

	// User to authenticate as
	User string `mapstructure:"user" yaml:"user,omitempty"`

	// Key to authenticate with
	Key string `mapstructure:"key" yaml:"key,omitempty"`

	// ConnectTimeout bounds connection establishment
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout,omitempty"`

	// DownloadTimeout bounds a single object download
	DownloadTimeout time.Duration `mapstructure:"download_timeout" yaml:"download_timeout,omitempty"`
}

// EncryptionConfig configures age encryption of non-public media.
type EncryptionConfig struct {
	// IdentityFile is the path to the age identity (private keys) file.
	// The first recipient derived from it encrypts; all identities decrypt.
	IdentityFile string `mapstructure:"identity_file" yaml:"identity_file,omitempty"`
}

// WorkerConfig contains batch worker settings.
type WorkerConfig struct {
	// TmpDir is the base directory for per-run download scratch space;
	// a subdirectory named after the pid is created inside it
	TmpDir string `mapstructure:"tmpdir" yaml:"tmpdir"`

	// Batchsize caps how many files are processed per claim round;
	// falls back to Metadata.Batchsize when zero
	Batchsize int `mapstructure:"batchsize" validate:"omitempty,gt=0" yaml:"batchsize,omitempty"`
}

// APIConfig configures MediaWiki action API polling for recent uploads.
type APIConfig struct {
	// WaitTime is the pause between polling cycles
	WaitTime time.Duration `mapstructure:"wait_time" yaml:"wait_time"`

	// BatchWaitTime is the pause between continuation pages within a cycle
	BatchWaitTime time.Duration `mapstructure:"batch_wait_time" yaml:"batch_wait_time"`

	// UserAgent identifies this client to the API and to production probes
	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no listener is started.
type MetricsConfig struct {
	// Enabled controls whether the metrics HTTP server is started
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint
	// Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
// When enabled, trace data is exported to an OTLP-compatible collector.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false (opt-in for telemetry)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317" (standard OTLP gRPC port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use insecure (non-TLS) connection
	// Default: true (for local development)
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// Default: 1.0 (sample all)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled
	// Default: false (opt-in for profiling)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL)
	// Default: "http://localhost:4040" (standard Pyroscope port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	// Valid values: cpu, alloc_objects, alloc_space, inuse_objects, inuse_space,
	//               goroutines, mutex_count, mutex_duration, block_count, block_duration
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (MEDIABACKUPS_*)
//  2. Configuration file
//  3. Default values
//
// An empty configPath uses the default location.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	// No config file: environment and defaults still apply
	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks that the config file exists and points the operator at the
// expected location when it does not.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Create one, or point at an existing file:\n"+
				"  mediabackups <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s", configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML form.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// config files carry database and storage credentials
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the MEDIABACKUPS_ prefix and underscores
	// Example: MEDIABACKUPS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("MEDIABACKUPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(defaultConfigDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// durationDecodeHook returns a mapstructure decode hook that converts
// strings like "30s" or "5m" and raw numbers (seconds) to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// deployed config files spell timeouts as plain seconds
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		default:
			return data, nil
		}
	}
}

// defaultConfigDir is where production hosts keep the configuration.
const defaultConfigDir = "/etc/mediabackup"

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(defaultConfigDir, "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}
