/*
 * Copyright (C) 2023 Intel Corporation
 * SPDX-License-Identifier: MIT
 */
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/intel/svr-profiler/internal/sampler"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	want := &Config{
		Port:     8000,
		Samplers: []string{"rapl", "perf", "mpstat", "cpuidle"},
		Rapl:     Rapl{Sysfs: "/sys", DevCPU: "/dev/cpu", Source: "auto"},
		CPUIdle:  CPUIdle{Sysfs: "/sys"},
		Mpstat:   Mpstat{Path: "mpstat", SamplingPeriod: 1},
		Perf:     Perf{SamplingPeriod: 30, SamplingLength: 30},
	}
	if diff := cmp.Diff(want, Default()); diff != "" {
		t.Fatalf("default config mismatch (-want +got):\n%s", diff)
	}
	require.NoError(t, Default().Validate())
	require.Equal(t, 8000, Default().Port)
}

func TestParsePartialSections(t *testing.T) {
	c, err := Parse([]byte(`
host: 127.0.0.1
port: 9000
samplers: [rapl, mpstat]
rapl:
  source: msr
perf:
  sampling_length: 10
`))
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", c.Host)
	require.Equal(t, 9000, c.Port)
	require.Equal(t, []string{"rapl", "mpstat"}, c.Samplers)
	require.Equal(t, Rapl{Sysfs: "/sys", DevCPU: "/dev/cpu", Source: "msr"}, c.Rapl)
	require.Equal(t, sampler.Config{SamplingPeriod: 30 * time.Second, SamplingLength: 10 * time.Second}, c.Perf.SamplerConfig())
	require.Equal(t, time.Second, c.Mpstat.Period())
}

func TestParseInvalid(t *testing.T) {
	for _, content := range []string{
		"port: 0",
		"port: 70000",
		"samplers: [rapl, gpu]",
		"rapl:\n  source: acpi",
		"mpstat:\n  sampling_period: 0",
		"perf:\n  sampling_period: 10\n  sampling_length: 20",
		"cpuidle:\n  cpus: -1",
		"unknown_key: 1",
	} {
		if _, err := Parse([]byte(content)); err == nil {
			t.Errorf("expected error for %q", content)
		}
	}
}

func TestLoad(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8000, c.Port)

	path := filepath.Join(t.TempDir(), "profiler.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 8123\n"), 0644))
	c, err = Load(path)
	require.NoError(t, err)
	require.Equal(t, 8123, c.Port)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
