package logging

import (
	"go.uber.org/zap/zapcore"
)

// Config is the logging section of the measure configuration.
type Config struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string `mapstructure:"level" yaml:"level"`

	// Format is "json" or "console".
	Format string `mapstructure:"format" yaml:"format"`

	// OutputPath is the log destination: "stdout", "stderr", or a file path.
	// Measurement lines go to stdout, so logs default to stderr.
	OutputPath string `mapstructure:"output_path" yaml:"output_path"`

	// Rotation applies when OutputPath is a file.
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`

	// EnableCaller includes file and line number in log entries.
	EnableCaller bool `mapstructure:"enable_caller" yaml:"enable_caller"`

	// Development colours console levels.
	Development bool `mapstructure:"development" yaml:"development"`
}

// RotationConfig maps onto lumberjack.Logger.
type RotationConfig struct {
	// MaxSize in megabytes.
	MaxSize int `mapstructure:"max_size_mb" yaml:"max_size_mb"`

	// MaxAge in days.
	MaxAge int `mapstructure:"max_age_days" yaml:"max_age_days"`

	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`

	// Compress gzips rotated files.
	Compress bool `mapstructure:"compress" yaml:"compress"`
}

// DefaultConfig logs warnings and above to stderr.
func DefaultConfig() Config {
	return Config{
		Level:      "warn",
		Format:     "console",
		OutputPath: "stderr",
		Rotation: RotationConfig{
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
			Compress:   true,
		},
	}
}

func (c Config) buildEncoderConfig() zapcore.EncoderConfig {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stack",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	if c.Development {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	return encoderConfig
}
