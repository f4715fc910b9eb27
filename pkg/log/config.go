// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package log

const (
	TextFormat = "text"
	JSONFormat = "json"
)

// Config controls the global logger. FilePath empty means stdout only.
type Config struct {
	Level      string
	Format     string
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	AlsoStdout bool
}

func DefaultConfig() *Config {
	return &Config{
		Level:      "info",
		Format:     TextFormat,
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 7,
	}
}
