/*
 * Copyright (C) 2023 Intel Corporation
 * SPDX-License-Identifier: MIT
 */
package main

import (
	"fmt"
	"io"

	"github.com/intel/svr-profiler/internal/sampler"
	"github.com/intel/svr-profiler/internal/series"
	"github.com/intel/svr-profiler/internal/util"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

func newStartCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start a profiling session on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client(cmd)
			if err != nil {
				return err
			}
			return client.Start(cmd.Context())
		},
	}
}

func newStopCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the profiling session on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client(cmd)
			if err != nil {
				return err
			}
			return client.Stop(cmd.Context())
		},
	}
}

func newReportCmd(opts *globalOptions) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Fetch the report of the last session",
		Long:  `Fetch the report of the last session. With --directory every metric is written to its own file in the directory, otherwise the report is printed.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client(cmd)
			if err != nil {
				return err
			}
			report, err := client.Report(cmd.Context())
			if err != nil {
				return err
			}
			if dir == "" {
				return printReport(cmd.OutOrStdout(), report)
			}
			_, err = writeReport(dir, report)
			return err
		},
	}
	cmd.Flags().StringVarP(&dir, "directory", "d", "", "write one file per metric to this directory")
	return cmd
}

func newSetCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set [args...]",
		Short: "Forward arguments to the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client(cmd)
			if err != nil {
				return err
			}
			return client.Set(cmd.Context(), args)
		},
	}
}

func printReport(w io.Writer, report sampler.Report) (err error) {
	metrics := maps.Keys(report)
	slices.Sort(metrics)
	for _, metric := range metrics {
		if err = series.Write(w, metric, report[metric]); err != nil {
			return
		}
	}
	if len(metrics) == 0 {
		_, err = fmt.Fprintln(w, "no samples")
	}
	return
}

func writeReport(dir string, report sampler.Report) (paths []string, err error) {
	if dir, err = util.CreateDirectory(dir); err != nil {
		return
	}
	if paths, err = series.WriteDir(dir, report); err != nil {
		return
	}
	log.WithFields(log.Fields{"directory": dir, "metrics": len(paths)}).Info("report written")
	return
}
