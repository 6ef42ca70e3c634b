/*
Package series persists reports as one text file per metric and loads them
back with typed values.

A metric file holds the metric name on its first line followed by one
"timestamp,value" line per sample.
*/
/*
 * Copyright (C) 2023 Intel Corporation
 * SPDX-License-Identifier: MIT
 */
package series

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"emperror.dev/errors"
	"github.com/intel/svr-profiler/internal/sampler"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// FileName returns the file name of a metric, '/' replaced by '-'.
func FileName(metric string) string {
	return strings.ReplaceAll(metric, "/", "-")
}

// Write writes one metric in file format.
func Write(w io.Writer, metric string, ts sampler.TimeSeries) (err error) {
	bw := bufio.NewWriter(w)
	if _, err = fmt.Fprintln(bw, metric); err != nil {
		return
	}
	for _, sample := range ts {
		if _, err = fmt.Fprintf(bw, "%d,%s\n", sample.Timestamp, sample.Value); err != nil {
			return
		}
	}
	err = bw.Flush()
	return
}

// WriteDir writes every metric of report to its own file in dir, creating dir
// if needed, and returns the paths written in metric name order.
func WriteDir(dir string, report sampler.Report) (paths []string, err error) {
	if err = os.MkdirAll(dir, 0755); err != nil {
		return
	}
	metrics := maps.Keys(report)
	slices.Sort(metrics)
	for _, metric := range metrics {
		path := filepath.Join(dir, FileName(metric))
		if err = writeFile(path, metric, report[metric]); err != nil {
			err = errors.WrapIff(err, "write %s", path)
			return
		}
		paths = append(paths, path)
	}
	return
}

func writeFile(path string, metric string, ts sampler.TimeSeries) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	err = Write(f, metric, ts)
	return
}

// Kind is the value type of a loaded series.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	}
	return "string"
}

// InferKind classifies a value as an integer literal, a finite real literal,
// or anything else.
func InferKind(value string) Kind {
	if _, err := strconv.ParseInt(value, 10, 64); err == nil {
		return KindInt
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return KindFloat
	}
	return KindString
}

// Point is one loaded sample. Value is an int64, float64 or string depending
// on the series Kind.
type Point struct {
	Timestamp int64
	Value     interface{}
}

type Series struct {
	Metric string
	Kind   Kind
	Points []Point
}

func convert(kind Kind, value string) (v interface{}, err error) {
	switch kind {
	case KindInt:
		v, err = strconv.ParseInt(value, 10, 64)
	case KindFloat:
		v, err = strconv.ParseFloat(value, 64)
	default:
		v = value
	}
	return
}

// Read loads a metric file. The value type is inferred from the first sample
// and every sample is converted to it.
func Read(r io.Reader) (s Series, err error) {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		if err = scanner.Err(); err == nil {
			err = errors.New("empty metric file")
		}
		return
	}
	s.Metric = scanner.Text()
	line := 1
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if text == "" {
			continue
		}
		tsText, value, found := strings.Cut(text, ",")
		if !found {
			err = fmt.Errorf("line %d: missing value: %q", line, text)
			return
		}
		var p Point
		if p.Timestamp, err = strconv.ParseInt(tsText, 10, 64); err != nil {
			err = errors.WrapIff(err, "line %d: timestamp", line)
			return
		}
		if len(s.Points) == 0 {
			s.Kind = InferKind(value)
		}
		if p.Value, err = convert(s.Kind, value); err != nil {
			err = errors.WrapIff(err, "line %d: %s value", line, s.Kind)
			return
		}
		s.Points = append(s.Points, p)
	}
	err = scanner.Err()
	return
}

func ReadFile(path string) (s Series, err error) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	if s, err = Read(f); err != nil {
		err = errors.WrapIff(err, "read %s", path)
	}
	return
}

// ReadDir loads every regular file in dir, keyed by metric name.
func ReadDir(dir string) (all map[string]Series, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	all = make(map[string]Series)
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		var s Series
		if s, err = ReadFile(filepath.Join(dir, entry.Name())); err != nil {
			return
		}
		all[s.Metric] = s
	}
	return
}

// Float returns the value of point i as a float64. String series have no
// numeric value.
func (s Series) Float(i int) (float64, error) {
	switch v := s.Points[i].Value.(type) {
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	}
	return 0, fmt.Errorf("%s: %s series is not numeric", s.Metric, s.Kind)
}

// Rate returns the average rate of change between the first and last point,
// in value units per second.
func Rate(s Series) (rate float64, err error) {
	if len(s.Points) < 2 {
		err = fmt.Errorf("%s: rate needs at least 2 points, have %d", s.Metric, len(s.Points))
		return
	}
	first, last := 0, len(s.Points)-1
	dt := s.Points[last].Timestamp - s.Points[first].Timestamp
	if dt == 0 {
		err = fmt.Errorf("%s: rate over zero seconds", s.Metric)
		return
	}
	v0, err := s.Float(first)
	if err != nil {
		return
	}
	v1, err := s.Float(last)
	if err != nil {
		return
	}
	rate = (v1 - v0) / float64(dt)
	return
}
