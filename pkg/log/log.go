// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package log

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Fields = logrus.Fields

var globalLogger *logrus.Logger
var ErrorLoggerNotInitialize = fmt.Errorf("Logger not initialized")

func init() {
	_ = InitGlobalLogger(DefaultConfig())
}

// InitGlobalLogger builds the process-wide logger from the given config.
// Subsequent calls replace the logger; callers normally invoke this once
// right after loading configuration.
func InitGlobalLogger(cfg *Config) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	globalLogger = logger
	return nil
}

// NewLogger creates an independent logger instance with the specified level.
// Useful for scenarios that require a logger separate from the global one.
func NewLogger(level string) (*logrus.Logger, error) {
	cfg := DefaultConfig()
	cfg.Level = level
	return newLogger(cfg)
}

func newLogger(cfg *Config) (*logrus.Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(buildOutput(cfg))
	switch cfg.Format {
	case JSONFormat:
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
		})
	}
	return logger, nil
}

func buildOutput(cfg *Config) io.Writer {
	if cfg.FilePath == "" {
		return os.Stdout
	}
	rotated := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	if cfg.AlsoStdout {
		return io.MultiWriter(os.Stdout, rotated)
	}
	return rotated
}

func GlobalLogger() *logrus.Logger {
	if globalLogger == nil {
		panic(ErrorLoggerNotInitialize)
	}
	return globalLogger
}

func SetGlobalLogger(logger *logrus.Logger) {
	globalLogger = logger
}

func WithFields(fields Fields) *logrus.Entry {
	return GlobalLogger().WithFields(logrus.Fields(fields))
}

func WithError(err error) *logrus.Entry {
	return GlobalLogger().WithError(err)
}

func Trace(args ...interface{}) {
	GlobalLogger().Trace(args...)
}

func Tracef(template string, args ...interface{}) {
	GlobalLogger().Tracef(template, args...)
}

func Debug(args ...interface{}) {
	GlobalLogger().Debug(args...)
}

func Debugf(template string, args ...interface{}) {
	GlobalLogger().Debugf(template, args...)
}

func Info(args ...interface{}) {
	GlobalLogger().Info(args...)
}

func Infof(template string, args ...interface{}) {
	GlobalLogger().Infof(template, args...)
}

func Warn(args ...interface{}) {
	GlobalLogger().Warn(args...)
}

func Warnf(template string, args ...interface{}) {
	GlobalLogger().Warnf(template, args...)
}

func Error(args ...interface{}) {
	GlobalLogger().Error(args...)
}

func Errorf(template string, args ...interface{}) {
	GlobalLogger().Errorf(template, args...)
}

func Fatal(args ...interface{}) {
	GlobalLogger().Fatal(args...)
}

func Fatalf(template string, args ...interface{}) {
	GlobalLogger().Fatalf(template, args...)
}
