package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/gousb"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/dbihost/dbihost/internal/bytesize"
)

// Config represents the dbihost configuration.
//
// This structure captures the static configuration of the install server:
//   - Logging configuration
//   - USB device identification
//   - Transfer tuning (chunk size, timeouts, reconnection)
//   - Metrics HTTP listener
//   - Catalog entries to preload into the file registry at startup
//
// Configuration sources (in order of precedence):
//  1. Environment variables (DBIHOST_*) (highest priority)
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
//
// No configuration value is read from CLI flags; the --config flag only
// selects the file.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// USB identifies the target device and its transfer tuning
	USB USBConfig `mapstructure:"usb" yaml:"usb"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Catalog lists the files to preload into the registry at startup
	Catalog []CatalogEntry `mapstructure:"catalog" yaml:"catalog"`
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

// USBConfig identifies the target device and tunes transfer behavior.
type USBConfig struct {
	// VendorID is the USB vendor ID of the target device.
	// Default: 0x057e (Nintendo)
	VendorID uint16 `mapstructure:"vendor_id" yaml:"vendor_id"`

	// ProductID is the USB product ID of the target device.
	// Default: 0x3000 (Switch, RCM/bulk mode)
	ProductID uint16 `mapstructure:"product_id" yaml:"product_id"`

	// Interface is the USB interface number to claim.
	// Default: 0
	Interface int `mapstructure:"interface" yaml:"interface"`

	// ChunkSize is the size of each streamed FILE_RANGE chunk. Accepts plain
	// byte counts or human-readable sizes like "1MiB" in the config file.
	// Default: 1 MiB
	ChunkSize bytesize.ByteSize `mapstructure:"chunk_size" validate:"omitempty,gt=0" yaml:"chunk_size"`

	// ShortTimeout bounds the command-header poll read. Timeouts here are
	// expected and non-fatal.
	// Default: 100ms
	ShortTimeout time.Duration `mapstructure:"short_timeout" validate:"omitempty,gt=0" yaml:"short_timeout"`

	// LongTimeout bounds reads/writes once a transaction has committed.
	// Default: 30s
	LongTimeout time.Duration `mapstructure:"long_timeout" validate:"omitempty,gt=0" yaml:"long_timeout"`

	// ReconnectAttempts is the number of reconnection attempts made after a
	// no-device transport error before giving up.
	// Default: 3
	ReconnectAttempts int `mapstructure:"reconnect_attempts" validate:"omitempty,gt=0" yaml:"reconnect_attempts"`

	// ReconnectInterval is the sleep between reconnection attempts.
	// Default: 2s
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval" validate:"omitempty,gt=0" yaml:"reconnect_interval"`

	// PipeRetryDelay is the sleep before retrying a transient pipe/IO error.
	// Default: 100ms
	PipeRetryDelay time.Duration `mapstructure:"pipe_retry_delay" validate:"omitempty,gt=0" yaml:"pipe_retry_delay"`
}

// GousbVendorID returns VendorID as a gousb.ID.
func (u USBConfig) GousbVendorID() gousb.ID { return gousb.ID(u.VendorID) }

// GousbProductID returns ProductID as a gousb.ID.
func (u USBConfig) GousbProductID() gousb.ID { return gousb.ID(u.ProductID) }

// ChunkSizeBytes returns ChunkSize as a plain int for installserver.Config.
func (u USBConfig) ChunkSizeBytes() int { return int(u.ChunkSize.Uint64()) }

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP server are enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint
	// Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// CatalogEntry names a file to preload into the registry at startup.
type CatalogEntry struct {
	// Name is the display name the Switch will reference in FILE_RANGE
	// requests. Must be valid UTF-8 and must not contain a newline.
	Name string `mapstructure:"name" validate:"required" yaml:"name"`

	// Path is the absolute filesystem path backing Name.
	Path string `mapstructure:"path" validate:"required" yaml:"path"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DBIHOST_*)
//  2. Configuration file
//  3. Default values
//
// Environment variables override only keys that appear in the configuration
// file. When no configuration file is found, the defaults are returned and
// environment variables are not read.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

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
// It checks if the config file exists and provides user-friendly instructions if not.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  dbihost init\n\n"+
				"Or specify a custom config file:\n"+
				"  dbihost <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  dbihost init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path.
// The configuration is saved in YAML format using proper yaml tags.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks a Config against its struct tags using go-playground/validator,
// then applies cross-field checks the tags can't express.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return err
	}

	seen := make(map[string]bool, len(cfg.Catalog))
	for _, entry := range cfg.Catalog {
		if strings.ContainsRune(entry.Name, '\n') {
			return fmt.Errorf("catalog entry %q: name must not contain a newline", entry.Name)
		}
		if seen[entry.Name] {
			return fmt.Errorf("catalog entry %q: duplicate name", entry.Name)
		}
		seen[entry.Name] = true
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the DBIHOST_ prefix and underscores.
	// Example: DBIHOST_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DBIHOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
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
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook returns a mapstructure decode hook that converts strings
// and integers to bytesize.ByteSize. This enables config files to use
// human-readable sizes like "1MiB", "512Ki", or plain numbers.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook returns a mapstructure decode hook that converts strings
// to time.Duration. This enables config files to use human-readable durations
// like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dbihost")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dbihost")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
