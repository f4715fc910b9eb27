// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package daemon

import (
	"flag"
	"fmt"
	"os"
)

// Options are the command line settings. Everything beyond the config file
// location lives in the configuration itself.
type Options struct {
	ConfigPath string
}

// Init parses the command line. An empty config path runs the daemon on
// built-in defaults, which is enough for local development.
func (opt *Options) Init() error {
	if opt == nil {
		return fmt.Errorf("the options is not initialized")
	}
	flag.StringVar(&opt.ConfigPath, "config", "", "Path to the configuration file")
	flag.Parse()

	if opt.ConfigPath != "" {
		if _, err := os.Stat(opt.ConfigPath); err != nil {
			return fmt.Errorf("config file %s not readable: %w", opt.ConfigPath, err)
		}
	}
	return nil
}
