// Package config loads the measure configuration from defaults, an
// optional YAML file and MEASURE_* environment variables.
package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/shizukutanaka/measure/internal/counters"
	"github.com/shizukutanaka/measure/internal/errors"
	"github.com/shizukutanaka/measure/internal/history"
	"github.com/shizukutanaka/measure/internal/logging"
	"github.com/shizukutanaka/measure/internal/measure"
	"github.com/shizukutanaka/measure/internal/metrics"
	"github.com/shizukutanaka/measure/internal/report"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MEASURE"

// CategoryEnv selects the metric category.
const CategoryEnv = "MEASURE_FLAGS"

var (
	// ErrRead wraps a failure to read or decode the config file.
	ErrRead = errors.NewError(errors.ErrorTypeConfiguration, "CONFIG_READ", "failed to read configuration")
	// ErrInvalid is returned by Validate.
	ErrInvalid = errors.NewError(errors.ErrorTypeConfiguration, "CONFIG_INVALID", "invalid configuration")
)

// Config is the complete configuration. It is not modified after Load.
type Config struct {
	// Category is the raw metric category name, see MetricCategory.
	Category string          `mapstructure:"category" yaml:"category"`
	Counters counters.Config `mapstructure:"counters" yaml:"counters"`
	Log      logging.Config  `mapstructure:"log" yaml:"log"`
	Metrics  metrics.Config  `mapstructure:"metrics" yaml:"metrics"`
	Report   report.Config   `mapstructure:"report" yaml:"report"`
	History  history.Config  `mapstructure:"history" yaml:"history"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-" yaml:"-"`
}

// MetricCategory parses Category. Unknown names select the default category.
func (c *Config) MetricCategory() measure.Category {
	return measure.ParseCategory(c.Category)
}

// Load reads configuration. An empty path searches for measure.yaml in the
// working directory and $HOME/.config/measure; a missing file is not an
// error in that case.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("category", CategoryEnv); err != nil {
		return nil, ErrRead.WithError(err)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("measure")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "measure"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !stderrors.As(err, &notFound) {
			return nil, ErrRead.WithError(err).WithContext("path", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, ErrRead.WithError(err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	logDefaults := logging.DefaultConfig()

	v.SetDefault("category", "")

	v.SetDefault("counters.enabled", true)
	v.SetDefault("counters.inherit", false)
	v.SetDefault("counters.include_kernel", false)

	v.SetDefault("log.level", logDefaults.Level)
	v.SetDefault("log.format", logDefaults.Format)
	v.SetDefault("log.output_path", logDefaults.OutputPath)
	v.SetDefault("log.enable_caller", logDefaults.EnableCaller)
	v.SetDefault("log.development", logDefaults.Development)
	v.SetDefault("log.rotation.max_size_mb", logDefaults.Rotation.MaxSize)
	v.SetDefault("log.rotation.max_age_days", logDefaults.Rotation.MaxAge)
	v.SetDefault("log.rotation.max_backups", logDefaults.Rotation.MaxBackups)
	v.SetDefault("log.rotation.compress", logDefaults.Rotation.Compress)

	v.SetDefault("metrics.namespace", "measure")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("metrics.listen_addr", "")

	v.SetDefault("report.format", "text")
	v.SetDefault("report.output", "")

	v.SetDefault("history.driver", "")
	v.SetDefault("history.dsn", "")
}

// Validate checks the values that cannot be defaulted away.
func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return ErrInvalid.WithError(err).WithContext("key", "log.level")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return ErrInvalid.WithContext("key", "log.format").WithContext("value", c.Log.Format)
	}

	if !report.ValidFormat(c.Report.Format) {
		return ErrInvalid.WithContext("key", "report.format").WithContext("value", c.Report.Format)
	}

	if c.History.Enabled() {
		switch c.History.Driver {
		case "sqlite", "sqlite3", "postgres", "postgresql":
		default:
			return ErrInvalid.WithContext("key", "history.driver").WithContext("value", c.History.Driver)
		}
		if c.History.DSN == "" {
			return ErrInvalid.WithContext("key", "history.dsn")
		}
	}
	return nil
}
