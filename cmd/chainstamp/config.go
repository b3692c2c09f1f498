// Copyright (c) 2024-2026 The chainstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"os"
	"path/filepath"

	flags "github.com/jessevdk/go-flags"
)

const defaultConfigFilename = "chainstamp.conf"

// config defines the configuration file options for chainstamp.  Command
// line flags take precedence over these.
type config struct {
	Calendars []string `long:"calendar" description:"Calendar URL, may be set multiple times"`
	Explorer  string   `long:"explorer" description:"Block explorer URL"`
	StoreDir  string   `long:"storedir" description:"Proof store directory"`
}

func defaultHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chainstamp"
	}
	return filepath.Join(home, ".chainstamp")
}

// loadConfig parses the config file.  A missing file just means defaults.
func loadConfig() (*config, error) {
	home := defaultHomeDir()
	cfg := config{}
	err := flags.IniParse(filepath.Join(home, defaultConfigFilename), &cfg)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err := os.MkdirAll(home, 0700); err != nil {
		return nil, err
	}
	return &cfg, nil
}
