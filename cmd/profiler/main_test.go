/*
 * Copyright (C) 2023 Intel Corporation
 * SPDX-License-Identifier: MIT
 */
package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/intel/svr-profiler/internal/config"
	"github.com/intel/svr-profiler/internal/profiling"
	"github.com/intel/svr-profiler/internal/rpc"
	"github.com/intel/svr-profiler/internal/series"
	"github.com/stretchr/testify/require"
)

// fakeSysfs creates one RAPL package zone and one cpu with a POLL idle state.
func fakeSysfs(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	zone := filepath.Join(root, "class", "powercap", "intel-rapl:0")
	require.NoError(t, os.MkdirAll(zone, 0755))
	for file, content := range map[string]string{"name": "package-0", "max_energy_range_uj": "262143328850", "energy_uj": "100"} {
		require.NoError(t, os.WriteFile(filepath.Join(zone, file), []byte(content+"\n"), 0644))
	}
	state := filepath.Join(root, "devices", "system", "cpu", "cpu0", "cpuidle", "state0")
	require.NoError(t, os.MkdirAll(state, 0755))
	for file, content := range map[string]string{"name": "POLL", "usage": "5", "time": "50"} {
		require.NoError(t, os.WriteFile(filepath.Join(state, file), []byte(content+"\n"), 0644))
	}
	return root
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	sysfs := fakeSysfs(t)
	cfg.Samplers = []string{config.SamplerRapl, config.SamplerCPUIdle}
	cfg.Rapl.Sysfs = sysfs
	cfg.Rapl.DevCPU = t.TempDir()
	cfg.CPUIdle.Sysfs = sysfs
	cfg.CPUIdle.CPUs = 1
	return cfg
}

// startServer serves the configured samplers on a loopback port.
func startServer(t *testing.T, cfg *config.Config) int {
	t.Helper()
	samplers, err := buildSamplers(cfg)
	require.NoError(t, err)
	service := profiling.NewService(samplers...)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	server := rpc.NewServer(service)
	go func() {
		_ = server.Serve(listener)
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
		_ = service.Shutdown(ctx)
	})
	return listener.Addr().(*net.TCPAddr).Port
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBuildSamplers(t *testing.T) {
	cfg := testConfig(t)
	cfg.Samplers = []string{config.SamplerCPUIdle, config.SamplerMpstat, config.SamplerRapl}
	samplers, err := buildSamplers(cfg)
	require.NoError(t, err)
	var names []string
	for _, s := range samplers {
		names = append(names, s.Name())
	}
	require.Equal(t, []string{"cpuidle", "mpstat", "rapl"}, names)
}

func TestBuildSamplersError(t *testing.T) {
	cfg := testConfig(t)
	cfg.Rapl.Source = "acpi"
	_, err := buildSamplers(cfg)
	require.Error(t, err)
}

func TestStartStopReport(t *testing.T) {
	port := fmt.Sprint(startServer(t, testConfig(t)))
	conn := []string{"-n", "127.0.0.1", "-p", port}

	_, err := execute(t, append(conn, "start")...)
	require.NoError(t, err)
	_, err = execute(t, append(conn, "stop")...)
	require.NoError(t, err)
	_, err = execute(t, append(conn, "set", "a", "b")...)
	require.NoError(t, err)

	out, err := execute(t, append(conn, "report")...)
	require.NoError(t, err)
	require.Contains(t, out, "package-0\n")
	require.Contains(t, out, "CPU0.POLL.usage\n")

	dir := filepath.Join(t.TempDir(), "results")
	_, err = execute(t, append(conn, "report", "-d", dir)...)
	require.NoError(t, err)
	s, err := series.ReadFile(filepath.Join(dir, "package-0"))
	require.NoError(t, err)
	require.Len(t, s.Points, 2)
	require.Equal(t, series.KindInt, s.Kind)
}

func TestRun(t *testing.T) {
	port := fmt.Sprint(startServer(t, testConfig(t)))
	dir := filepath.Join(t.TempDir(), "results")
	logPath := filepath.Join(t.TempDir(), "workload.log")
	_, err := execute(t, "-n", "127.0.0.1", "-p", port, "run", "-d", dir, "--workload-log", logPath, "--", "echo", "hello")
	require.NoError(t, err)

	all, err := series.ReadDir(dir)
	require.NoError(t, err)
	require.Contains(t, all, "package-0")
	require.Contains(t, all, "CPU0.POLL.time")
	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(content))
}

func TestRunDuration(t *testing.T) {
	port := fmt.Sprint(startServer(t, testConfig(t)))
	dir := filepath.Join(t.TempDir(), "results")
	_, err := execute(t, "-n", "127.0.0.1", "-p", port, "run", "-d", dir, "--duration", "10ms")
	require.NoError(t, err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 3)
}

func TestRunRequiresDirectory(t *testing.T) {
	_, err := execute(t, "run")
	require.Error(t, err)
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := execute(t, "--log-level", "loud", "stop")
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "invalid log level"))
}

func TestClientUnreachable(t *testing.T) {
	_, err := execute(t, "-n", "127.0.0.1", "-p", "1", "start")
	require.Error(t, err)
}

func TestList(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "profiler.yaml")
	content := fmt.Sprintf("samplers: [rapl, mpstat, cpuidle]\nrapl:\n  sysfs: %s\n  dev_cpu: %s\ncpuidle:\n  sysfs: %s\n  cpus: 1\n",
		cfg.Rapl.Sysfs, cfg.Rapl.DevCPU, cfg.CPUIdle.Sysfs)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	out, err := execute(t, "--config", path, "list")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[0], "source=sysfs domains=package-0")
	require.Contains(t, lines[1], "period=1s length=1s")
	require.Contains(t, lines[2], "states=POLL")
}
