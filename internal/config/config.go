// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// DefaultServiceUUID is the Nordic UART service advertised by FreakWAN nodes
const DefaultServiceUUID = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"

// EnvPrefix prefixes every environment variable read by the configuration
const EnvPrefix = "FREAKBLE"

// Config represents the application configuration
type Config struct {
	Adapter     string        `mapstructure:"adapter"`
	Device      string        `mapstructure:"device"`
	ServiceUUID string        `mapstructure:"service_uuid"`
	Link        LinkConfig    `mapstructure:"link"`
	Send        SendConfig    `mapstructure:"send"`
	Scan        ScanConfig    `mapstructure:"scan"`
	Logging     LoggingConfig `mapstructure:"logging"`
	App         AppConfig     `mapstructure:"app"`
}

// LinkConfig represents link setup configuration
type LinkConfig struct {
	// ConnectionTimeout bounds device resolution, in seconds
	ConnectionTimeout float64 `mapstructure:"connection_timeout"`
	// FilterService restricts characteristic binding to ServiceUUID
	FilterService bool `mapstructure:"filter_service"`
}

// SendConfig represents the send command configuration
type SendConfig struct {
	Loop bool `mapstructure:"loop"`
	// SleepTime is the pause between looped sends, in seconds
	SleepTime float64 `mapstructure:"sleep_time"`
}

// ScanConfig represents the scan command configuration
type ScanConfig struct {
	// ScanTime is the scan duration, in seconds
	ScanTime float64 `mapstructure:"scan_time"`
	// ServiceUUID keeps only devices advertising this service; "" lists every device
	ServiceUUID string `mapstructure:"service_uuid"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

// New returns a viper instance with defaults, environment binding and the optional
// config file search path set up. Flags are bound by the caller before Load.
func New(configFile string) *viper.Viper {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/freakble")
	}

	// Environment variable support
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

// Load reads the optional config file and decodes the configuration
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("adapter", "hci0")
	v.SetDefault("device", "")
	v.SetDefault("service_uuid", DefaultServiceUUID)

	// Link defaults
	v.SetDefault("link.connection_timeout", 10.0)
	v.SetDefault("link.filter_service", false)

	// Send defaults
	v.SetDefault("send.loop", false)
	v.SetDefault("send.sleep_time", 1.0)

	// Scan defaults
	v.SetDefault("scan.scan_time", 5.0)
	v.SetDefault("scan.service_uuid", "")

	// Logging defaults; the CLI prints to stdout so logs stay quiet on stderr
	v.SetDefault("logging.level", "warn")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.max_size", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// App defaults
	v.SetDefault("app.name", "freakble")
	v.SetDefault("app.version", Version)
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Adapter == "" {
		return fmt.Errorf("adapter is required")
	}
	if config.Link.ConnectionTimeout <= 0 {
		return fmt.Errorf("link.connection_timeout must be positive")
	}
	if config.Send.SleepTime < 0 {
		return fmt.Errorf("send.sleep_time must not be negative")
	}
	if config.Scan.ScanTime <= 0 {
		return fmt.Errorf("scan.scan_time must be positive")
	}
	if config.Scan.ServiceUUID != "" {
		if _, err := uuid.Parse(config.Scan.ServiceUUID); err != nil {
			return fmt.Errorf("scan.service_uuid: %w", err)
		}
	}

	// Validate logging level
	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if !contains(validLevels, config.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	validFormats := []string{"json", "console"}
	if !contains(validFormats, config.Logging.Format) {
		return fmt.Errorf("logging.format must be one of: %v", validFormats)
	}

	return nil
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

// Seconds converts a seconds value from flags or config into a duration
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// ConnectTimeout returns the link resolution timeout
func (c *Config) ConnectTimeout() time.Duration {
	return Seconds(c.Link.ConnectionTimeout)
}

// SleepTime returns the pause between looped sends
func (c *Config) SleepTime() time.Duration {
	return Seconds(c.Send.SleepTime)
}

// ScanTime returns the scan duration
func (c *Config) ScanTime() time.Duration {
	return Seconds(c.Scan.ScanTime)
}

// ScanFilter returns the service UUID used to filter scan results, or "" for none
func (c *Config) ScanFilter() string {
	return c.Scan.ServiceUUID
}

// LinkServiceFilter returns the service UUID characteristics must belong to, or "" for any
func (c *Config) LinkServiceFilter() string {
	if !c.Link.FilterService {
		return ""
	}
	return c.ServiceUUID
}
