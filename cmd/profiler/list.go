/*
 * Copyright (C) 2023 Intel Corporation
 * SPDX-License-Identifier: MIT
 */
package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/intel/svr-profiler/internal/cpuidle"
	"github.com/intel/svr-profiler/internal/mpstat"
	"github.com/intel/svr-profiler/internal/perfevent"
	"github.com/intel/svr-profiler/internal/rapl"
	"github.com/intel/svr-profiler/internal/sampler"
	"github.com/spf13/cobra"
)

func newListCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List what each configured sampler found on this host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			samplers, err := buildSamplers(cfg)
			if err != nil {
				return err
			}
			return listSamplers(cmd.OutOrStdout(), samplers)
		},
	}
}

func listSamplers(w io.Writer, samplers []sampler.Sampler) (err error) {
	for _, s := range samplers {
		var detail string
		switch v := s.(type) {
		case *rapl.Sampler:
			detail = fmt.Sprintf("source=%s domains=%s", orNone(v.CounterSource()), orNone(strings.Join(v.DomainNames(), ",")))
		case *perfevent.Sampler:
			detail = fmt.Sprintf("events=%s", orNone(strings.Join(v.Events(), ",")))
		case *mpstat.Sampler:
			detail = fmt.Sprintf("metric=%s", mpstat.Metric)
		case *cpuidle.Sampler:
			detail = fmt.Sprintf("cpus=%d states=%s", len(v.CPUs()), orNone(strings.Join(v.StateNames(), ",")))
		}
		config := "point-in-time"
		if c := samplerConfig(s); c.Periodic() {
			config = fmt.Sprintf("period=%s length=%s", c.SamplingPeriod, c.SamplingLength)
		}
		if _, err = fmt.Fprintf(w, "%-10s %-30s %s\n", s.Name(), config, detail); err != nil {
			return
		}
	}
	return
}

func samplerConfig(s sampler.Sampler) sampler.Config {
	if c, ok := s.(interface{ Config() sampler.Config }); ok {
		return c.Config()
	}
	return sampler.Config{}
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
