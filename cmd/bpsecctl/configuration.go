// SPDX-FileCopyrightText: 2022 Matthias Axel Kröll
// SPDX-FileCopyrightText: 2022 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"os"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
)

// tomlConfig describes bpsecctl's own process configuration, separate from
// the BpSec policy config it loads and watches.
type tomlConfig struct {
	Logging logConf
	BpSec   bpSecConf `toml:"bpsec"`
}

// logConf describes the Logging-configuration block.
type logConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// bpSecConf points bpsecctl at a BpSec policy config file and describes how
// to watch and fall back on it.
type bpSecConf struct {
	ConfigPath          string `toml:"config-path"`
	Watch               bool
	RetentionDir        string `toml:"retention-dir"`
	DefaultEventSet     string `toml:"default-event-set"`
	LocalSecuritySource string `toml:"local-security-source"`
}

// parseLogger configures logrus from a logConf block.
func parseLogger(conf logConf) {
	switch conf.Level {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}

	log.SetReportCaller(conf.ReportCaller)

	if conf.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{})
	}
}

// parseConfig reads and applies a bpsecctl TOML process configuration.
func parseConfig(filename string) (conf tomlConfig, err error) {
	if _, err = toml.DecodeFile(filename, &conf); err != nil {
		return
	}

	parseLogger(conf.Logging)

	if conf.BpSec.ConfigPath == "" {
		return conf, os.ErrInvalid
	}

	return conf, nil
}
