/*
 * Copyright (C) 2023 Intel Corporation
 * SPDX-License-Identifier: MIT
 */
package main

import (
	"emperror.dev/errors"
	"github.com/intel/svr-profiler/internal/config"
	"github.com/intel/svr-profiler/internal/cpuidle"
	"github.com/intel/svr-profiler/internal/mpstat"
	"github.com/intel/svr-profiler/internal/perfevent"
	"github.com/intel/svr-profiler/internal/rapl"
	"github.com/intel/svr-profiler/internal/sampler"
)

// buildSamplers creates the configured samplers in configuration order.
func buildSamplers(cfg *config.Config, opts ...sampler.Option) (samplers []sampler.Sampler, err error) {
	for _, name := range cfg.Samplers {
		var s sampler.Sampler
		switch name {
		case config.SamplerRapl:
			s, err = newRapl(cfg, opts)
		case config.SamplerPerf:
			s, err = newPerf(cfg, opts)
		case config.SamplerMpstat:
			s, err = newMpstat(cfg, opts)
		case config.SamplerCPUIdle:
			s, err = newCPUIdle(cfg, opts)
		default:
			err = errors.Errorf("unknown sampler %q", name)
		}
		if err != nil {
			err = errors.WrapIff(err, "create %s sampler", name)
			return
		}
		samplers = append(samplers, s)
	}
	return
}

// The constructors below return the interface only on success so that a nil
// concrete pointer never becomes a non-nil interface.

func newRapl(cfg *config.Config, opts []sampler.Option) (sampler.Sampler, error) {
	s, err := rapl.New(rapl.Options{SysfsRoot: cfg.Rapl.Sysfs, MSRDevRoot: cfg.Rapl.DevCPU, Source: cfg.Rapl.Source}, opts...)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func newPerf(cfg *config.Config, opts []sampler.Option) (sampler.Sampler, error) {
	s, err := perfevent.New(cfg.Perf.SamplerConfig(), perfevent.Options{Path: cfg.Perf.Path}, opts...)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func newMpstat(cfg *config.Config, opts []sampler.Option) (sampler.Sampler, error) {
	s, err := mpstat.New(cfg.Mpstat.Period(), mpstat.Options{Path: cfg.Mpstat.Path}, opts...)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func newCPUIdle(cfg *config.Config, opts []sampler.Option) (sampler.Sampler, error) {
	s, err := cpuidle.New(cpuidle.Options{SysfsRoot: cfg.CPUIdle.Sysfs, CPUCount: cfg.CPUIdle.CPUs}, opts...)
	if err != nil {
		return nil, err
	}
	return s, nil
}
