/*
Package sampler defines the time-series model shared by every sampler and the
scheduler that drives a sampler's session lifecycle.
*/
/*
 * Copyright (C) 2023 Intel Corporation
 * SPDX-License-Identifier: MIT
 */
package sampler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"emperror.dev/errors"
	json "github.com/goccy/go-json"
)

// ZeroValue is appended to every periodic metric when a session ends.
const ZeroValue = "0.0"

// Sample is a single reading of a metric. Value is the raw text read from the
// hardware or tool.
type Sample struct {
	Timestamp int64
	Value     string
}

// MarshalJSON encodes a sample as a [timestamp, "value"] pair.
func (s Sample) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{s.Timestamp, s.Value})
}

func (s *Sample) UnmarshalJSON(data []byte) (err error) {
	var pair []json.RawMessage
	if err = json.Unmarshal(data, &pair); err != nil {
		return
	}
	if len(pair) != 2 {
		err = fmt.Errorf("sample must have 2 elements, got %d", len(pair))
		return
	}
	if err = json.Unmarshal(pair[0], &s.Timestamp); err != nil {
		return
	}
	err = json.Unmarshal(pair[1], &s.Value)
	return
}

// TimeSeries is an ordered list of samples for one metric.
type TimeSeries []Sample

// Report maps metric names to their time series.
type Report map[string]TimeSeries

// Copy returns a deep copy of the report.
func (r Report) Copy() Report {
	out := make(Report, len(r))
	for name, series := range r {
		out[name] = append(TimeSeries(nil), series...)
	}
	return out
}

// Merge copies every series of other into r, replacing series with the same
// name.
func (r Report) Merge(other Report) {
	for name, series := range other {
		r[name] = append(TimeSeries(nil), series...)
	}
}

// Store is the concurrency-safe time-series container owned by one sampler.
type Store struct {
	mu     sync.RWMutex
	series Report
}

func NewStore() *Store {
	return &Store{series: make(Report)}
}

// Append adds a sample to the named metric, creating it if necessary.
func (s *Store) Append(name string, timestamp int64, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.series[name] = append(s.series[name], Sample{Timestamp: timestamp, Value: value})
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.series = make(Report)
}

// Report returns a snapshot that later appends do not affect.
func (s *Store) Report() Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.series.Copy()
}

// Config holds the timing of a sampler. A zero SamplingPeriod makes the
// sampler point-in-time: one reading at start and one at stop.
type Config struct {
	SamplingPeriod time.Duration
	SamplingLength time.Duration
}

func (c Config) Periodic() bool {
	return c.SamplingPeriod > 0
}

func (c Config) Validate() (err error) {
	if c.SamplingPeriod < 0 {
		err = fmt.Errorf("sampling period must not be negative: %s", c.SamplingPeriod)
		return
	}
	if c.SamplingLength < 0 {
		err = fmt.Errorf("sampling length must not be negative: %s", c.SamplingLength)
		return
	}
	if !c.Periodic() && c.SamplingLength > 0 {
		err = errors.New("sampling length requires a sampling period")
	}
	return
}

// Source is implemented by each concrete sampler variant.
type Source interface {
	// Sample takes one reading at the given Unix timestamp. For windowed
	// samplers the call blocks for the sampling length unless ctx is
	// cancelled or InterruptSample is called.
	Sample(ctx context.Context, timestamp int64) error
	// InterruptSample ends an in-flight measurement window early. It is a
	// no-op when nothing is in flight.
	InterruptSample()
	// ZeroSample appends the end-of-session sentinel to periodic metrics.
	ZeroSample(timestamp int64)
	Clear()
	Report() Report
}

// Sampler is the full capability set exposed to the profiling service.
type Sampler interface {
	Source
	Name() string
	Start() error
	Stop() error
	Running() bool
	Done() <-chan struct{}
}

// FormatFloat renders v the way the measurement tools print reals: shortest
// representation, always with a decimal point.
func FormatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if strings.ContainsAny(s, ".NI") {
		return s
	}
	return s + ".0"
}
