package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New builds a logger from config. Extra fields are attached to every entry.
func New(config Config, fields ...zap.Field) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	writer, err := buildWriter(config)
	if err != nil {
		return nil, err
	}

	var encoder zapcore.Encoder
	switch config.Format {
	case "json":
		encoder = zapcore.NewJSONEncoder(config.buildEncoderConfig())
	case "console", "":
		encoder = zapcore.NewConsoleEncoder(config.buildEncoderConfig())
	default:
		return nil, fmt.Errorf("invalid log format: %q", config.Format)
	}

	core := zapcore.NewCore(encoder, writer, level)
	return zap.New(core, buildOptions(config, fields)...), nil
}

// buildWriter selects the output sink. Files rotate through lumberjack.
func buildWriter(config Config) (zapcore.WriteSyncer, error) {
	switch config.OutputPath {
	case "", "stderr":
		return zapcore.Lock(os.Stderr), nil
	case "stdout":
		return zapcore.Lock(os.Stdout), nil
	}

	if err := os.MkdirAll(filepath.Dir(config.OutputPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   config.OutputPath,
		MaxSize:    config.Rotation.MaxSize,
		MaxBackups: config.Rotation.MaxBackups,
		MaxAge:     config.Rotation.MaxAge,
		Compress:   config.Rotation.Compress,
	}), nil
}

func buildOptions(config Config, fields []zap.Field) []zap.Option {
	options := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}

	if config.EnableCaller {
		options = append(options, zap.AddCaller())
	}
	if config.Development {
		options = append(options, zap.Development())
	}
	if len(fields) > 0 {
		options = append(options, zap.Fields(fields...))
	}
	return options
}

// WithComponent names a logger after the component using it.
func WithComponent(logger *zap.Logger, component string) *zap.Logger {
	return logger.Named(component)
}
