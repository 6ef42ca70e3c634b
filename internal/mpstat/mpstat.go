/*
Package mpstat samples system-wide CPU utilization with the sysstat mpstat tool.
*/
/*
 * Copyright (C) 2023 Intel Corporation
 * SPDX-License-Identifier: MIT
 */
package mpstat

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/intel/svr-profiler/internal/sampler"
	"github.com/intel/svr-profiler/internal/target"
)

const (
	Name = "mpstat"
	// Metric is the only metric this sampler writes.
	Metric = "cpu_util"
	// SamplingLength is the mpstat interval, one report of one second.
	SamplingLength = time.Second
)

type Options struct {
	Path string // mpstat binary, looked up in PATH when empty
}

// Sampler periodically records 100 minus the idle percentage reported by
// mpstat as cpu_util.
type Sampler struct {
	*sampler.Scheduler
	store *sampler.Store
	path  string
}

func New(period time.Duration, opts Options, schedulerOpts ...sampler.Option) (s *Sampler, err error) {
	config := sampler.Config{SamplingPeriod: period, SamplingLength: SamplingLength}
	if !config.Periodic() {
		err = fmt.Errorf("mpstat sampling period must be positive: %s", period)
		return
	}
	if opts.Path == "" {
		opts.Path = "mpstat"
	}
	s = &Sampler{store: sampler.NewStore(), path: opts.Path}
	s.Scheduler = sampler.NewScheduler(Name, config, s, schedulerOpts...)
	return
}

// ParseUtilization returns 100 - %idle from the Average line of mpstat output.
// ok is false when the output has no Average line.
func ParseUtilization(output string) (util float64, ok bool, err error) {
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "Average") {
			continue
		}
		fields := strings.Fields(line)
		var idle float64
		if idle, err = strconv.ParseFloat(fields[len(fields)-1], 64); err != nil {
			err = errors.WrapIff(err, "parse idle from %q", line)
			return
		}
		util = 100 - idle
		ok = true
		return
	}
	return
}

// Sample runs one second of mpstat. Output without a summary line records
// nothing.
func (s *Sampler) Sample(ctx context.Context, timestamp int64) (err error) {
	cmd := target.ToolCommand(s.path, "1", "1")
	stdout, stderr, _, err := target.RunLocalCommandWithContext(ctx, cmd)
	if err != nil {
		err = errors.WrapIff(err, "run mpstat: %s", strings.TrimSpace(stderr))
		return
	}
	util, ok, err := ParseUtilization(stdout + stderr)
	if err != nil || !ok {
		return
	}
	s.store.Append(Metric, timestamp, sampler.FormatFloat(util))
	return
}

// InterruptSample is a no-op. The one second window is shorter than any
// reasonable stop latency.
func (s *Sampler) InterruptSample() {}

func (s *Sampler) ZeroSample(timestamp int64) {
	s.store.Append(Metric, timestamp, sampler.ZeroValue)
}

func (s *Sampler) Clear() {
	s.store.Clear()
}

func (s *Sampler) Report() sampler.Report {
	return s.store.Report()
}
