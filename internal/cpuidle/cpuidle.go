/*
Package cpuidle samples the per-CPU idle state residency counters exposed by
the kernel cpuidle subsystem.
*/
/*
 * Copyright (C) 2023 Intel Corporation
 * SPDX-License-Identifier: MIT
 */
package cpuidle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"emperror.dev/errors"
	"github.com/intel/svr-profiler/internal/sampler"
	"github.com/intel/svr-profiler/internal/util"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

const Name = "cpuidle"

// Counters read for every cpu and state, in report order.
var counters = []string{"usage", "time"}

type Options struct {
	SysfsRoot string // sysfs mount point, normally /sys
	CPUCount  int    // only cpus numbered below CPUCount are sampled, all when zero
}

type state struct {
	dir  string // e.g. state2
	name string // e.g. C1E
}

// Sampler is a point-in-time sampler of the usage and time counters of every
// idle state on every logical cpu.
type Sampler struct {
	*sampler.Scheduler
	store  *sampler.Store
	cpuDir string
	cpus   []int
	states []state
}

// New enumerates the cpus that expose cpuidle and the idle states of the
// first of them. The state list is assumed to be the same on every cpu. A host
// without cpuidle support yields a sampler with no states.
func New(opts Options, schedulerOpts ...sampler.Option) (s *Sampler, err error) {
	if opts.SysfsRoot == "" {
		opts.SysfsRoot = "/sys"
	}
	s = &Sampler{
		store:  sampler.NewStore(),
		cpuDir: filepath.Join(opts.SysfsRoot, "devices", "system", "cpu"),
	}
	if s.cpus, err = s.enumerateCPUs(opts.CPUCount); err != nil {
		s = nil
		return
	}
	if len(s.cpus) == 0 {
		log.WithField("path", s.cpuDir).Warn("cpuidle not available")
	} else if s.states, err = s.enumerateStates(s.cpus[0]); err != nil {
		s = nil
		return
	}
	s.Scheduler = sampler.NewScheduler(Name, sampler.Config{}, s, schedulerOpts...)
	return
}

func stateIndex(dir string) int {
	index, err := strconv.Atoi(strings.TrimPrefix(dir, "state"))
	if err != nil {
		return -1
	}
	return index
}

func (s *Sampler) idleDir(cpu int) string {
	return filepath.Join(s.cpuDir, fmt.Sprintf("cpu%d", cpu), "cpuidle")
}

// enumerateCPUs lists the cpus with a cpuidle directory. Offline cpus have
// none, so the numbering may have gaps.
func (s *Sampler) enumerateCPUs(limit int) (cpus []int, err error) {
	matches, err := filepath.Glob(filepath.Join(s.cpuDir, "cpu[0-9]*"))
	if err != nil {
		return
	}
	for _, match := range matches {
		cpu, e := strconv.Atoi(strings.TrimPrefix(filepath.Base(match), "cpu"))
		if e != nil || (limit > 0 && cpu >= limit) {
			continue
		}
		if exists, _ := util.DirectoryExists(s.idleDir(cpu)); exists {
			cpus = append(cpus, cpu)
		}
	}
	slices.Sort(cpus)
	return
}

func (s *Sampler) enumerateStates(cpu int) (states []state, err error) {
	base := s.idleDir(cpu)
	entries, err := os.ReadDir(base)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() || stateIndex(entry.Name()) < 0 {
			continue
		}
		var name string
		if name, err = util.ReadTrimmed(filepath.Join(base, entry.Name(), "name")); err != nil {
			err = errors.WrapIff(err, "read name of %s", entry.Name())
			return
		}
		states = append(states, state{dir: entry.Name(), name: name})
	}
	slices.SortFunc(states, func(a, b state) int {
		return stateIndex(a.dir) - stateIndex(b.dir)
	})
	return
}

// CPUs returns the sampled cpu numbers in ascending order.
func (s *Sampler) CPUs() []int {
	return slices.Clone(s.cpus)
}

// MetricName returns the key of a counter, e.g. CPU3.C1E.usage.
func MetricName(cpu int, stateName string, counter string) string {
	return fmt.Sprintf("CPU%d.%s.%s", cpu, stateName, counter)
}

// StateNames returns the idle state names in index order.
func (s *Sampler) StateNames() (names []string) {
	for _, st := range s.states {
		names = append(names, st.name)
	}
	return
}

// Sample appends every counter of every state on every cpu. Unreadable
// counters are skipped and their errors returned together.
func (s *Sampler) Sample(_ context.Context, timestamp int64) (err error) {
	for _, counter := range counters {
		for _, c := range s.cpus {
			for _, st := range s.states {
				path := filepath.Join(s.idleDir(c), st.dir, counter)
				value, e := util.ReadTrimmed(path)
				if e != nil {
					err = errors.Append(err, e)
					continue
				}
				s.store.Append(MetricName(c, st.name, counter), timestamp, value)
			}
		}
	}
	return
}

// InterruptSample is a no-op, counter reads are instantaneous.
func (s *Sampler) InterruptSample() {}

// ZeroSample is a no-op, cpuidle sessions are never periodic.
func (s *Sampler) ZeroSample(int64) {}

func (s *Sampler) Clear() {
	s.store.Clear()
}

func (s *Sampler) Report() sampler.Report {
	return s.store.Report()
}
