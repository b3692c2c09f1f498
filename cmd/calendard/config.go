// Copyright (c) 2024-2026 The chainstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "calendard.conf"
	defaultLogFilename    = "calendard.log"
	defaultDataDirname    = "data"
	defaultLogLevel       = "info"
	defaultListen         = "127.0.0.1:14788"
	defaultAnchorSchedule = "10 0 * * * *" // On the hour + 10 seconds
	defaultStartHeight    = 100
)

// config defines the configuration options for calendard.
//
// See loadConfig for details on the configuration load process.
type config struct {
	HomeDir        string `long:"appdata" description:"Path to application home directory"`
	ConfigFile     string `long:"configfile" description:"Path to configuration file"`
	DataDir        string `long:"datadir" description:"Directory to store data"`
	LogFile        string `long:"logfile" description:"File to write logs to"`
	DebugLevel     string `long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`
	Listen         string `long:"listen" description:"Address to listen on"`
	PublicURL      string `long:"publicurl" description:"URL clients use to reach this calendar, embedded in pending attestations"`
	AnchorSchedule string `long:"anchorschedule" description:"Cron spec for anchoring accumulated digests"`
	StartHeight    uint64 `long:"startheight" description:"First block height handed out by the development anchor"`
	UseTLS         bool   `long:"tls" description:"Serve HTTPS with a generated self-signed keypair"`
	HTTPSCert      string `long:"httpscert" description:"File containing the https certificate file"`
	HTTPSKey       string `long:"httpskey" description:"File containing the https certificate key"`
}

func defaultHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".calendard")
}

// loadConfig initializes and parses the config using a config file and
// command line options.
func loadConfig() (*config, error) {
	home := defaultHomeDir()
	cfg := config{
		HomeDir:        home,
		ConfigFile:     filepath.Join(home, defaultConfigFilename),
		DataDir:        filepath.Join(home, defaultDataDirname),
		LogFile:        filepath.Join(home, "logs", defaultLogFilename),
		DebugLevel:     defaultLogLevel,
		Listen:         defaultListen,
		AnchorSchedule: defaultAnchorSchedule,
		StartHeight:    defaultStartHeight,
		HTTPSCert:      filepath.Join(home, "https.cert"),
		HTTPSKey:       filepath.Join(home, "https.key"),
	}

	// Pre-parse the command line to pick up an alternate config file.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.IgnoreUnknown)
	if _, err := preParser.Parse(); err != nil {
		return nil, err
	}

	if err := flags.IniParse(preCfg.ConfigFile, &cfg); err != nil {
		// A missing config file is fine; anything else is not.
		if !os.IsNotExist(err) {
			if _, ok := err.(*flags.IniError); ok {
				return nil, err
			}
		}
	}

	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		return nil, err
	}

	if cfg.PublicURL == "" {
		cfg.PublicURL = fmt.Sprintf("http://%v", cfg.Listen)
		if cfg.UseTLS {
			cfg.PublicURL = fmt.Sprintf("https://%v", cfg.Listen)
		}
	}

	if err := os.MkdirAll(cfg.HomeDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create home directory: %v",
			err)
	}

	return &cfg, nil
}
