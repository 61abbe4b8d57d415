// Package config loads service settings from defaults, an optional config
// file, and SCREENING_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// SCREENING_STORAGE_DRIVER.
const EnvPrefix = "SCREENING"

// Storage drivers accepted by storage.driver.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverLevelDB  = "leveldb"
)

// Config holds application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Export      ExportConfig      `mapstructure:"export"`
	Analysis    AnalysisConfig    `mapstructure:"analysis"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Examination ExaminationConfig `mapstructure:"examination"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// StorageConfig selects the persistence gateway backend.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	// DSN is used by the postgres driver.
	DSN string `mapstructure:"dsn"`
	// Path is the sqlite file or the leveldb directory.
	Path string `mapstructure:"path"`
}

// ExportConfig holds document export settings.
type ExportConfig struct {
	Dir string `mapstructure:"dir"`
}

// AnalysisConfig tunes the placeholder risk analyzer.
type AnalysisConfig struct {
	Delay time.Duration `mapstructure:"delay"`
	// Seed fixes the random source; zero seeds from the clock.
	Seed int64 `mapstructure:"seed"`
}

// LoggingConfig holds zap settings.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// ExaminationConfig holds defaults stamped on new examinations.
type ExaminationConfig struct {
	UserID int `mapstructure:"user_id"`
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(".", ".screening")
	}
	return filepath.Join(home, ".local", "share", "lung-screening")
}

func setDefaults(v *viper.Viper) {
	dataDir := defaultDataDir()
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.path", filepath.Join(dataDir, "examinations.db"))
	v.SetDefault("export.dir", filepath.Join(dataDir, "exports"))
	v.SetDefault("analysis.delay", 2*time.Second)
	v.SetDefault("analysis.seed", 0)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("examination.user_id", 1)
}

// Load reads configuration. path may be empty, in which case
// SCREENING_CONFIG is consulted and then the user config directory is
// searched for config.yaml. A missing file is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "lung-screening"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("config: read: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return c, nil
}

func (c *Config) normalize() {
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	c.Storage.Path = strings.TrimSpace(c.Storage.Path)
	c.Export.Dir = strings.TrimSpace(c.Export.Dir)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
}

// Validate checks cross-field requirements.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case DriverSQLite, DriverLevelDB:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the %s driver", c.Storage.Driver)
		}
	case DriverPostgres:
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return fmt.Errorf("storage.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver must be one of sqlite, postgres, leveldb (got %q)", c.Storage.Driver)
	}
	if c.Export.Dir == "" {
		return fmt.Errorf("export.dir is required")
	}
	if c.Analysis.Delay < 0 {
		return fmt.Errorf("analysis.delay must not be negative")
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("server.addr is required")
	}
	return nil
}
