/*
 * Copyright (C) 2023 Intel Corporation
 * SPDX-License-Identifier: MIT
 */
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/intel/svr-profiler/internal/config"
	"github.com/intel/svr-profiler/internal/rpc"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Environment variables read for flag defaults.
const (
	envConfig   = "PROFILER_CONFIG"
	envLogLevel = "PROFILER_LOG_LEVEL"
)

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	hostname   string
	port       int
	verbose    bool
	logLevel   string
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:           "profiler",
		Short:         "Hardware telemetry profiler",
		Long:          `Profiler samples RAPL energy counters, perf power events, CPU utilization and CPU idle states on this host and serves them over an HTTP RPC interface.`,
		Version:       gVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setupLogging()
		},
	}
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.hostname, "hostname", "n", "", "server host name or address")
	flags.IntVarP(&opts.port, "port", "p", rpc.DefaultPort, "server port")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log informational messages")
	flags.StringVar(&opts.logLevel, "log-level", os.Getenv(envLogLevel), "log level, one of debug, info, warn, error; overrides --verbose")
	flags.StringVar(&opts.configPath, "config", os.Getenv(envConfig), "configuration file")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newStartCmd(opts),
		newStopCmd(opts),
		newReportCmd(opts),
		newSetCmd(opts),
		newRunCmd(opts),
		newListCmd(opts),
	)
	return rootCmd
}

func (opts *globalOptions) setupLogging() error {
	level := log.ErrorLevel
	if opts.verbose {
		level = log.InfoLevel
	}
	if opts.logLevel != "" {
		var err error
		if level, err = log.ParseLevel(opts.logLevel); err != nil {
			return fmt.Errorf("invalid log level: %w", err)
		}
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	return nil
}

// loadConfig reads the configuration file and applies the host and port flags
// when they were given explicitly.
func (opts *globalOptions) loadConfig(cmd *cobra.Command) (cfg *config.Config, err error) {
	if cfg, err = config.Load(opts.configPath); err != nil {
		return
	}
	if cmd.Flags().Changed("hostname") {
		cfg.Host = opts.hostname
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = opts.port
	}
	err = cfg.Validate()
	return
}

func (opts *globalOptions) client(cmd *cobra.Command) (*rpc.Client, error) {
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return rpc.NewClient(rpc.WithHost(cfg.Host), rpc.WithPort(cfg.Port)), nil
}
