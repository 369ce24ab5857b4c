// SPDX-FileCopyrightText: 2025 The spinscp-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/spinscp/spinscp-go/pkg/scp"
	"github.com/spinscp/spinscp-go/pkg/transport"
)

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Connection connectionConf
	Logging    logConf
}

// connectionConf describes the Connection-configuration block.
type connectionConf struct {
	Host          string
	Port          int
	SCPDataLength int `toml:"scp-data-length"`
	NOutstanding  int `toml:"n-outstanding"`
	TimeoutMS     int `toml:"timeout-ms"`
	NTries        int `toml:"n-tries"`
}

// logConf describes the Logging-configuration block.
type logConf struct {
	Level  string
	Format string
}

// parseConfig merges the built-in defaults, the configuration file and the
// command line flags (in increasing precedence) into the connection target
// and Options. The hostname is resolved here; the library itself consumes a
// pre-resolved address.
func parseConfig() (*net.UDPAddr, transport.Options, error) {
	conn := connectionConf{}

	if configFile != "" {
		var conf tomlConfig
		if _, err := toml.DecodeFile(configFile, &conf); err != nil {
			return nil, transport.Options{}, errors.Wrap(err, "parsing configuration file")
		}
		conn = conf.Connection
		applyLogging(conf.Logging)
	}

	if flagHost != "" {
		conn.Host = flagHost
	}
	if flagPort != 0 {
		conn.Port = flagPort
	}
	if flagDataLen != 0 {
		conn.SCPDataLength = flagDataLen
	}
	if flagWindow != 0 {
		conn.NOutstanding = flagWindow
	}
	if flagTimeout != 0 {
		conn.TimeoutMS = flagTimeout
	}
	if flagTries != 0 {
		conn.NTries = flagTries
	}

	if conn.Host == "" {
		return nil, transport.Options{}, fmt.Errorf("no machine given; set connection.host or --host")
	}
	if conn.Port == 0 {
		conn.Port = scp.PortDefault
	}

	opts := transport.DefaultOptions()
	if conn.SCPDataLength != 0 {
		opts.SCPDataLength = conn.SCPDataLength
	}
	if conn.NOutstanding != 0 {
		opts.NOutstanding = conn.NOutstanding
	}
	if conn.TimeoutMS != 0 {
		opts.Timeout = time.Duration(conn.TimeoutMS) * time.Millisecond
	}
	if conn.NTries != 0 {
		opts.NTries = conn.NTries
	}

	addr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", conn.Host, conn.Port))
	if err != nil {
		return nil, transport.Options{}, errors.Wrapf(err, "resolving %s", conn.Host)
	}

	return addr, opts, nil
}

func applyLogging(conf logConf) {
	if conf.Level != "" {
		if lvl, err := log.ParseLevel(conf.Level); err != nil {
			log.WithFields(log.Fields{
				"level":    conf.Level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level. Please select one of the provided ones")
		} else {
			log.SetLevel(lvl)
		}
	}

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		log.Warn("Unknown logging format")
	}
}

// dialFromConfig opens the connection every subcommand starts with.
func dialFromConfig() (*transport.Connection, error) {
	addr, opts, err := parseConfig()
	if err != nil {
		return nil, err
	}

	return transport.Dial(addr, opts)
}
