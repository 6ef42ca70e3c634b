/*
 * Copyright (C) 2023 Intel Corporation
 * SPDX-License-Identifier: MIT
 */
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"emperror.dev/errors"
	"github.com/intel/svr-profiler/internal/progress"
	"github.com/intel/svr-profiler/internal/rpc"
	"github.com/intel/svr-profiler/internal/target"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type runOptions struct {
	dir         string
	duration    time.Duration
	workloadLog string
}

func newRunCmd(opts *globalOptions) *cobra.Command {
	runOpts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run -d DIR [--duration D] [-- workload [args...]]",
		Short: "Profile a workload or a fixed duration and save the report",
		Long: `Start a session, run the workload command locally (or wait for --duration
when no workload is given), stop the session and write the report to DIR.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client(cmd)
			if err != nil {
				return err
			}
			label := opts.hostname
			if label == "" {
				label = "localhost"
			}
			spinner := progress.NewMultiSpinner()
			if err = spinner.AddSpinner(label); err != nil {
				return err
			}
			spinner.Start()
			defer spinner.Finish()
			return runExperiment(cmd.Context(), client, runOpts, args, label, spinner.Status)
		},
	}
	cmd.Flags().StringVarP(&runOpts.dir, "directory", "d", "", "write one file per metric to this directory")
	cmd.Flags().DurationVar(&runOpts.duration, "duration", 10*time.Second, "profiling duration when no workload is given")
	cmd.Flags().StringVar(&runOpts.workloadLog, "workload-log", "", "write the workload's output to this file")
	_ = cmd.MarkFlagRequired("directory")
	return cmd
}

// runExperiment brackets a workload, or a sleep, with a profiling session and
// saves the report. The session is stopped even when the workload fails.
func runExperiment(ctx context.Context, client *rpc.Client, opts *runOptions, workload []string, label string, update progress.MultiSpinnerUpdateFunc) (err error) {
	status := func(s string) {
		if e := update(label, s); e != nil {
			log.WithError(e).Debug("progress update")
		}
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	status("starting profiling")
	if err = client.Start(ctx); err != nil {
		status("failed to start profiling")
		return
	}
	var runErr error
	if len(workload) > 0 {
		status(fmt.Sprintf("running %s", workload[0]))
		runErr = runWorkload(ctx, workload, opts.workloadLog)
	} else {
		status(fmt.Sprintf("profiling for %s", opts.duration))
		select {
		case <-time.After(opts.duration):
		case <-ctx.Done():
		}
	}
	status("stopping profiling")
	// the session must end even if ctx was interrupted
	stopCtx := context.WithoutCancel(ctx)
	if err = client.Stop(stopCtx); err != nil {
		status("failed to stop profiling")
		return
	}
	report, err := client.Report(stopCtx)
	if err != nil {
		return
	}
	paths, err := writeReport(opts.dir, report)
	if err != nil {
		return
	}
	status(fmt.Sprintf("%d metrics written to %s", len(paths), opts.dir))
	if runErr != nil {
		err = errors.WrapIf(runErr, "workload")
	}
	return
}

func runWorkload(ctx context.Context, workload []string, logPath string) (err error) {
	cmd := exec.Command(workload[0], workload[1:]...)
	stdout, stderr, exitCode, err := target.RunLocalCommandWithContext(ctx, cmd)
	log.WithFields(log.Fields{"command": workload[0], "exit_code": exitCode}).Info("workload finished")
	if logPath != "" {
		if e := os.WriteFile(logPath, []byte(stdout+stderr), 0644); e != nil {
			err = errors.Append(err, e)
		}
	}
	return
}
