/*
 * Copyright (C) 2023 Intel Corporation
 * SPDX-License-Identifier: MIT
 */
package series

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/intel/svr-profiler/internal/sampler"
	"github.com/stretchr/testify/require"
)

func TestFileName(t *testing.T) {
	require.Equal(t, "power-energy-pkg-", FileName("power/energy-pkg/"))
	require.Equal(t, "CPU0.C1E.usage", FileName("CPU0.C1E.usage"))
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "cpu_util", sampler.TimeSeries{{Timestamp: 10, Value: "2.5"}, {Timestamp: 11, Value: "0.0"}}))
	require.Equal(t, "cpu_util\n10,2.5\n11,0.0\n", buf.String())
}

func TestWriteDirAndRate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "results")
	report := sampler.Report{
		"package-0":         {{Timestamp: 1000, Value: "100"}, {Timestamp: 1010, Value: "130"}},
		"power/energy-pkg/": {{Timestamp: 1000, Value: "12.5"}, {Timestamp: 1030, Value: "0.0"}},
	}
	paths, err := WriteDir(dir, report)
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "package-0"), filepath.Join(dir, "power-energy-pkg-")}, paths)

	content, err := os.ReadFile(filepath.Join(dir, "package-0"))
	require.NoError(t, err)
	require.Equal(t, "package-0\n1000,100\n1010,130\n", string(content))

	all, err := ReadDir(dir)
	require.NoError(t, err)
	pkg := all["package-0"]
	require.Equal(t, KindInt, pkg.Kind)
	rate, err := Rate(pkg)
	require.NoError(t, err)
	require.Equal(t, 3.0, rate)

	energy := all["power/energy-pkg/"]
	require.Equal(t, KindFloat, energy.Kind)
	want := []Point{{1000, 12.5}, {1030, 0.0}}
	if diff := cmp.Diff(want, energy.Points); diff != "" {
		t.Fatalf("points mismatch (-want +got):\n%s", diff)
	}
}

func TestInferKind(t *testing.T) {
	tests := []struct {
		value string
		want  Kind
	}{
		{"100", KindInt},
		{"-5", KindInt},
		{"97.5", KindFloat},
		{"1e3", KindFloat},
		{"0.0", KindFloat},
		{"NaN", KindString},
		{"C1E", KindString},
		{"", KindString},
	}
	for _, tt := range tests {
		if got := InferKind(tt.value); got != tt.want {
			t.Errorf("InferKind(%q) = %s, want %s", tt.value, got, tt.want)
		}
	}
}

func TestReadConvertsToFirstKind(t *testing.T) {
	s, err := Read(strings.NewReader("m\n1,5\n2,6\n"))
	require.NoError(t, err)
	require.Equal(t, []Point{{1, int64(5)}, {2, int64(6)}}, s.Points)

	_, err = Read(strings.NewReader("m\n1,5\n2,6.5\n"))
	require.Error(t, err)

	s, err = Read(strings.NewReader("m\n1,1.5\n2,2\n"))
	require.NoError(t, err)
	require.Equal(t, []Point{{1, 1.5}, {2, 2.0}}, s.Points)

	s, err = Read(strings.NewReader("state\n1,POLL\n2,C1\n"))
	require.NoError(t, err)
	require.Equal(t, KindString, s.Kind)
	_, err = Rate(s)
	require.Error(t, err)
}

func TestReadErrors(t *testing.T) {
	_, err := Read(strings.NewReader(""))
	require.Error(t, err)
	_, err = Read(strings.NewReader("m\nnot-a-line\n"))
	require.Error(t, err)
	_, err = Read(strings.NewReader("m\nabc,1\n"))
	require.Error(t, err)
}

func TestRateErrors(t *testing.T) {
	_, err := Rate(Series{Metric: "m", Kind: KindInt, Points: []Point{{1, int64(1)}}})
	require.Error(t, err)
	_, err = Rate(Series{Metric: "m", Kind: KindInt, Points: []Point{{1, int64(1)}, {1, int64(2)}}})
	require.Error(t, err)
}
