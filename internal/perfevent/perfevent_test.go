/*
 * Copyright (C) 2023 Intel Corporation
 * SPDX-License-Identifier: MIT
 */
package perfevent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/intel/svr-profiler/internal/sampler"
	"github.com/stretchr/testify/require"
)

const perfList = `
List of pre-defined events (to be used in -e or -M):

  branch-instructions OR branches                    [Hardware event]
  cpu-cycles OR cycles                               [Hardware event]
  power/energy-pkg/                                  [Kernel PMU event]
  power/energy-ram/                                  [Kernel PMU event]
  power/energy-pkg/                                  [Kernel PMU event]
  msr/tsc/                                           [Kernel PMU event]
`

const perfStat = `
 Performance counter stats for 'system wide':

          1,234.56 Joules power/energy-pkg/
             56.25 Joules power/energy-ram/

      30.001234567 seconds time elapsed
`

// fakePerf writes a perf stand-in. "perf list" prints perfList and
// "perf stat -a -e EVENTS sleep N" runs sleep N then prints stat to stderr.
func fakePerf(t *testing.T, stat string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "list"), []byte(perfList), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stat"), []byte(stat), 0644))
	script := "#!/bin/sh\n" +
		"if [ \"$1\" = list ]; then cat " + filepath.Join(dir, "list") + "; exit 0; fi\n" +
		"trap ':' INT\n" +
		"shift 4\n" +
		"\"$@\"\n" +
		"cat " + filepath.Join(dir, "stat") + " >&2\n"
	path := filepath.Join(dir, "perf")
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func TestParseEnergyEvents(t *testing.T) {
	require.Equal(t, []string{"power/energy-pkg/", "power/energy-ram/"}, ParseEnergyEvents(perfList))
	require.Empty(t, ParseEnergyEvents("cpu-cycles OR cycles [Hardware event]\n"))
}

func TestParseCounts(t *testing.T) {
	tracked := mapset.NewSet("power/energy-pkg/", "power/energy-ram/", "power/energy-psys/")
	output := perfStat + "     <not counted> Joules power/energy-psys/\n"
	counts := ParseCounts(output, tracked)
	require.Equal(t, map[string]float64{
		"power/energy-pkg/": 1234.56,
		"power/energy-ram/": 56.25,
	}, counts)
}

func TestSample(t *testing.T) {
	s, err := New(sampler.Config{SamplingPeriod: time.Second, SamplingLength: 0}, Options{Path: fakePerf(t, perfStat)})
	require.NoError(t, err)
	require.Equal(t, []string{"power/energy-pkg/", "power/energy-ram/"}, s.Events())
	require.NoError(t, s.Sample(context.Background(), 7))
	require.Equal(t, sampler.Report{
		"power/energy-pkg/": {{Timestamp: 7, Value: "1234.56"}},
		"power/energy-ram/": {{Timestamp: 7, Value: "56.25"}},
	}, s.Report())
}

func TestSampleFailureRecordsNothing(t *testing.T) {
	s, err := New(sampler.Config{SamplingPeriod: time.Second}, Options{Path: fakePerf(t, "perf: permission denied\n")})
	require.NoError(t, err)
	require.NoError(t, s.Sample(context.Background(), 7))
	require.Empty(t, s.Report())
}

func TestMissingPerfIsNoop(t *testing.T) {
	s, err := New(sampler.Config{SamplingPeriod: time.Second}, Options{Path: filepath.Join(t.TempDir(), "perf")})
	require.NoError(t, err)
	require.Empty(t, s.Events())
	require.NoError(t, s.Sample(context.Background(), 1))
	s.InterruptSample()
	s.ZeroSample(2)
	require.Empty(t, s.Report())
}

func TestStopInterruptsWindow(t *testing.T) {
	config := sampler.Config{SamplingPeriod: 30 * time.Second, SamplingLength: 30 * time.Second}
	s, err := New(config, Options{Path: fakePerf(t, perfStat)})
	require.NoError(t, err)
	s.InterruptSample() // nothing in flight

	require.NoError(t, s.Start())
	time.Sleep(500 * time.Millisecond)
	begin := time.Now()
	require.NoError(t, s.Stop())
	select {
	case <-s.Done():
	case <-time.After(20 * time.Second):
		t.Fatal("sampling loop did not exit after stop")
	}
	require.Less(t, time.Since(begin), 20*time.Second)

	report := s.Report()
	require.Len(t, report, 2)
	for _, event := range s.Events() {
		series := report[event]
		require.Len(t, series, 2)
		require.NotEqual(t, sampler.ZeroValue, series[0].Value)
		require.Equal(t, sampler.ZeroValue, series[1].Value)
	}
}
