/*
Package perfevent samples the RAPL energy events of the perf power PMU by
running windowed, system-wide perf stat sessions.
*/
/*
 * Copyright (C) 2023 Intel Corporation
 * SPDX-License-Identifier: MIT
 */
package perfevent

import (
	"context"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"emperror.dev/errors"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/intel/svr-profiler/internal/sampler"
	"github.com/intel/svr-profiler/internal/target"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

const Name = "perf"

// perf list line for an energy event, e.g.
// "  power/energy-pkg/                                  [Kernel PMU event]"
var energyEventRe = regexp.MustCompile(`^\s*(power/energy-.*/)\s*\[Kernel PMU event\]`)

type Options struct {
	Path string // perf binary, looked up in PATH when empty
}

// Sampler periodically measures the energy events over a window of
// SamplingLength using perf stat -a. Each event is its own metric.
type Sampler struct {
	*sampler.Scheduler
	store   *sampler.Store
	path    string
	window  string // sleep argument, seconds
	events  []string
	tracked mapset.Set[string]
	command *target.InterruptibleCommand
}

// New discovers the energy events supported by perf. When perf is missing or
// lists no energy events the sampler records nothing.
func New(config sampler.Config, opts Options, schedulerOpts ...sampler.Option) (s *Sampler, err error) {
	if !config.Periodic() {
		err = errors.Errorf("perf sampling period must be positive: %s", config.SamplingPeriod)
		return
	}
	if err = config.Validate(); err != nil {
		return
	}
	s = &Sampler{
		store:   sampler.NewStore(),
		window:  strconv.FormatFloat(config.SamplingLength.Seconds(), 'f', -1, 64),
		tracked: mapset.NewSet[string](),
		command: target.NewInterruptibleCommand("sleep"),
	}
	s.Scheduler = sampler.NewScheduler(Name, config, s, schedulerOpts...)
	if s.path, err = perfPath(opts.Path); err != nil {
		log.WithError(err).Warn("perf not found, energy events will not be sampled")
		err = nil
		return
	}
	list, err := supportedEvents(s.path)
	if err != nil {
		log.WithError(err).Warn("failed to list perf events")
		err = nil
		return
	}
	s.events = ParseEnergyEvents(list)
	s.tracked.Append(s.events...)
	log.WithField("events", s.events).Debug("perf energy events discovered")
	return
}

func perfPath(path string) (string, error) {
	if path == "" {
		path = "perf"
	}
	return exec.LookPath(path)
}

func supportedEvents(perfPath string) (list string, err error) {
	stdout, stderr, _, err := target.RunLocalCommandWithTimeout(target.ToolCommand(perfPath, "list"), 60)
	if err != nil {
		err = errors.WrapIff(err, "perf list: %s", strings.TrimSpace(stderr))
		return
	}
	list = stdout
	return
}

// ParseEnergyEvents returns the power/energy-*/ kernel PMU events named in
// perf list output, in listed order without duplicates.
func ParseEnergyEvents(list string) (events []string) {
	seen := mapset.NewThreadUnsafeSet[string]()
	for _, line := range strings.Split(list, "\n") {
		match := energyEventRe.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		if seen.Add(match[1]) {
			events = append(events, match[1])
		}
	}
	return
}

// Events returns the tracked energy events.
func (s *Sampler) Events() []string {
	return slices.Clone(s.events)
}

// ParseCounts extracts the count of every tracked event from perf stat
// output. Counts that are not numbers, e.g. <not counted>, are skipped.
func ParseCounts(output string, tracked mapset.Set[string]) (counts map[string]float64) {
	counts = make(map[string]float64)
	for _, line := range strings.Split(output, "\n") {
		// example line: "          1,234.56 Joules power/energy-pkg/"
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		for _, field := range fields[1:] {
			if !tracked.Contains(field) {
				continue
			}
			value, err := strconv.ParseFloat(strings.ReplaceAll(fields[0], ",", ""), 64)
			if err != nil {
				break
			}
			counts[field] = value
			break
		}
	}
	return
}

// Sample runs perf stat over one window. The window ends early when ctx is
// cancelled or InterruptSample is called and the partial counts are kept.
func (s *Sampler) Sample(ctx context.Context, timestamp int64) (err error) {
	if len(s.events) == 0 {
		return
	}
	args := []string{"stat", "-a", "-e", strings.Join(s.events, ","), "sleep", s.window}
	_, stderr, _, runErr := s.command.Run(ctx, s.path, args...)
	counts := ParseCounts(stderr, s.tracked)
	if len(counts) == 0 {
		if runErr != nil {
			err = errors.WrapIff(runErr, "perf stat: %s", strings.TrimSpace(stderr))
		}
		return
	}
	for _, event := range s.events {
		if value, ok := counts[event]; ok {
			s.store.Append(event, timestamp, sampler.FormatFloat(value))
		}
	}
	return
}

// InterruptSample ends the in-flight perf stat window, if any.
func (s *Sampler) InterruptSample() {
	s.command.Interrupt()
}

// ZeroSample appends the sentinel to every tracked event.
func (s *Sampler) ZeroSample(timestamp int64) {
	for _, event := range s.events {
		s.store.Append(event, timestamp, sampler.ZeroValue)
	}
}

func (s *Sampler) Clear() {
	s.store.Clear()
}

func (s *Sampler) Report() sampler.Report {
	return s.store.Report()
}
