// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/mintylink/pkg/config"
)

var (
	configPath string

	// WebSocket connection flags
	hostName      string
	wsPort        int
	wsNoSSLVerify bool

	// Serial connection flags
	portName string
	baudRate int

	sessionMode string
	dbPath      string
	userID      string
	logLevel    string

	// Resolved in PersistentPreRunE
	cfg    = config.Default()
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
)

var rootCmd = &cobra.Command{
	Use:   "mintylink",
	Short: "Minty toothbrush holder client",
	Long: `Mintylink - A CLI tool for connecting to Minty smart toothbrush holders.

Finds holders on the local network, follows brushing sessions live and keeps
daily progress toward the three-session goal in a local database.

Connection modes:
  WebSocket: --host 192.168.1.42 [--ws-port 81]
  Serial:    --port /dev/ttyUSB0 [--baud 115200]

Settings are read from $XDG_CONFIG_HOME/mintylink/config.toml (or the file
given with --config, TOML or YAML). Flags override the file.`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath(), "Config file (.toml, .yaml)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&hostName, "host", "H", "", "Holder address (IP, host:port or ws:// URL)")
	rootCmd.PersistentFlags().IntVar(&wsPort, "ws-port", 81, "Holder websocket port")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	rootCmd.PersistentFlags().StringVar(&sessionMode, "mode", "device", "Session validity authority (device or client)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Progress database path")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "", "User identifier sent to the holder")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

// loadConfig reads the config file and applies flags that were set explicitly
func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Device.Host = hostName
	}
	if flags.Changed("ws-port") {
		cfg.Device.Port = wsPort
	}
	if flags.Changed("no-ssl-verify") {
		cfg.Link.SkipSSLVerify = wsNoSSLVerify
	}
	if flags.Changed("port") {
		cfg.Device.SerialPort = portName
	}
	if flags.Changed("baud") {
		cfg.Device.Baud = baudRate
	}
	if flags.Changed("mode") {
		cfg.Session.Mode = sessionMode
	}
	if flags.Changed("db") {
		cfg.Store.Path = dbPath
	}
	if flags.Changed("user") {
		cfg.Identity.UserID = userID
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := config.ParseLogLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
