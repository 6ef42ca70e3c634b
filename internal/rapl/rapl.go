/*
Package rapl samples the cumulative energy counters of the RAPL power domains.
Counters are read from the powercap sysfs interface and, when that is not
available, from the RAPL energy status MSRs.
*/
/*
 * Copyright (C) 2023 Intel Corporation
 * SPDX-License-Identifier: MIT
 */
package rapl

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"emperror.dev/errors"
	"github.com/intel/svr-profiler/internal/msr"
	"github.com/intel/svr-profiler/internal/sampler"
	"github.com/intel/svr-profiler/internal/util"
	"github.com/prometheus/procfs/sysfs"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

const Name = "rapl"

// Counter sources accepted by Options.Source.
const (
	SourceAuto  = "auto"
	SourceSysfs = "sysfs"
	SourceMSR   = "msr"
)

// RAPL MSR offsets
const (
	msrRaplPowerUnit    = 0x606
	msrPkgEnergyStatus  = 0x611
	msrDramEnergyStatus = 0x619
)

// zonePrefix selects the CPU RAPL control type and excludes the MMIO one,
// which mirrors the same package counters.
const zonePrefix = "intel-rapl:"

type Options struct {
	SysfsRoot  string // sysfs mount point, normally /sys
	MSRDevRoot string // msr device directory, normally /dev/cpu
	Source     string // auto, sysfs or msr
}

// domain is one energy counter.
type domain struct {
	name string
	read func() (string, error)
}

// Sampler is a point-in-time sampler of every discovered RAPL domain. Each
// session holds two readings per domain, taken at Start and at Stop.
type Sampler struct {
	*sampler.Scheduler
	store   *sampler.Store
	domains []domain
	source  string
}

// New discovers the RAPL domains. A host without RAPL support yields a sampler
// with no domains whose readings are empty.
func New(opts Options, schedulerOpts ...sampler.Option) (s *Sampler, err error) {
	if opts.Source == "" {
		opts.Source = SourceAuto
	}
	s = &Sampler{store: sampler.NewStore()}
	switch opts.Source {
	case SourceSysfs:
		s.domains, err = sysfsDomains(opts.SysfsRoot)
		s.source = SourceSysfs
	case SourceMSR:
		s.domains, err = msrDomains(opts.MSRDevRoot, opts.SysfsRoot)
		s.source = SourceMSR
	case SourceAuto:
		var sysfsErr, msrErr error
		if s.domains, sysfsErr = sysfsDomains(opts.SysfsRoot); sysfsErr == nil && len(s.domains) > 0 {
			s.source = SourceSysfs
			break
		}
		if s.domains, msrErr = msrDomains(opts.MSRDevRoot, opts.SysfsRoot); msrErr == nil && len(s.domains) > 0 {
			s.source = SourceMSR
			break
		}
		s.domains = nil
		log.WithFields(log.Fields{"sysfs": sysfsErr, "msr": msrErr}).Warn("no RAPL energy counters found")
	default:
		err = fmt.Errorf("unknown RAPL source: %s", opts.Source)
	}
	if err != nil {
		s = nil
		return
	}
	s.Scheduler = sampler.NewScheduler(Name, sampler.Config{}, s, schedulerOpts...)
	log.WithFields(log.Fields{"source": s.source, "domains": s.DomainNames()}).Debug("RAPL domains discovered")
	return
}

// DomainNames returns the metric names in discovery order.
func (s *Sampler) DomainNames() (names []string) {
	for _, d := range s.domains {
		names = append(names, d.name)
	}
	return
}

// CounterSource reports which interface the counters are read from, empty
// when none was found.
func (s *Sampler) CounterSource() string {
	return s.source
}

// Sample appends the current counter of every domain. Domains that fail to
// read are skipped and their errors are returned together.
func (s *Sampler) Sample(_ context.Context, timestamp int64) (err error) {
	for _, d := range s.domains {
		value, e := d.read()
		if e != nil {
			err = errors.Append(err, errors.WrapIff(e, "read %s", d.name))
			continue
		}
		s.store.Append(d.name, timestamp, value)
	}
	return
}

// InterruptSample is a no-op, counter reads are instantaneous.
func (s *Sampler) InterruptSample() {}

// ZeroSample is a no-op, RAPL sessions are never periodic.
func (s *Sampler) ZeroSample(int64) {}

func (s *Sampler) Clear() {
	s.store.Clear()
}

func (s *Sampler) Report() sampler.Report {
	return s.store.Report()
}

// uniqueName returns name, or name-index when name is already taken.
func uniqueName(taken map[string]bool, name string, index int) string {
	if taken[name] {
		name = fmt.Sprintf("%s-%d", name, index)
	}
	taken[name] = true
	return name
}

func sysfsDomains(root string) (domains []domain, err error) {
	if root == "" {
		root = msr.DefaultSysRoot
	}
	fs, err := sysfs.NewFS(root)
	if err != nil {
		return
	}
	zones, err := sysfs.GetRaplZones(fs)
	if err != nil {
		return
	}
	slices.SortFunc(zones, func(a, b sysfs.RaplZone) int {
		return strings.Compare(a.Path, b.Path)
	})
	taken := make(map[string]bool)
	for _, zone := range zones {
		if !strings.HasPrefix(filepath.Base(zone.Path), zonePrefix) {
			continue
		}
		// keep the kernel's zone name, e.g. package-0, as the metric name
		name, e := util.ReadTrimmed(filepath.Join(zone.Path, "name"))
		if e != nil || name == "" {
			name = fmt.Sprintf("%s-%d", zone.Name, zone.Index)
		}
		domains = append(domains, domain{
			name: uniqueName(taken, name, zone.Index),
			read: func() (string, error) {
				uj, err := zone.GetEnergyMicrojoules()
				if err != nil {
					return "", err
				}
				return strconv.FormatUint(uj, 10), nil
			},
		})
	}
	return
}

// msrReader converts the raw energy status registers to microjoules.
type msrReader struct {
	msr        *msr.MSR
	energyUnit uint64 // energy status unit, 1/2^energyUnit joules per count
}

func (r *msrReader) packages(reg uint64) (vals []uint64, err error) {
	if err = r.msr.SetBitRange(31, 0); err != nil {
		return
	}
	return r.msr.ReadPackages(reg)
}

func (r *msrReader) microjoules(raw uint64) string {
	return strconv.FormatUint((raw*1000000)>>r.energyUnit, 10)
}

func msrDomains(devRoot string, sysRoot string) (domains []domain, err error) {
	m, err := msr.NewMSR(devRoot, sysRoot)
	if err != nil {
		return
	}
	if err = m.SetBitRange(12, 8); err != nil {
		return
	}
	units, err := m.ReadPackages(msrRaplPowerUnit)
	if err != nil {
		err = errors.WrapIf(err, "read RAPL power unit")
		return
	}
	reader := &msrReader{msr: m, energyUnit: units[0]}
	taken := make(map[string]bool)
	for _, reg := range []struct {
		name   string
		offset uint64
	}{
		{"package", msrPkgEnergyStatus},
		{"dram", msrDramEnergyStatus},
	} {
		vals, e := reader.packages(reg.offset)
		if e != nil {
			log.WithError(e).WithField("domain", reg.name).Debug("RAPL energy status register not readable")
			continue
		}
		for pkg := range vals {
			name := reg.name
			if reg.name == "package" {
				name = fmt.Sprintf("package-%d", pkg)
			}
			offset := reg.offset
			domains = append(domains, domain{
				name: uniqueName(taken, name, pkg),
				read: func() (string, error) {
					vals, err := reader.packages(offset)
					if err != nil {
						return "", err
					}
					if pkg >= len(vals) {
						return "", fmt.Errorf("package %d not found", pkg)
					}
					return reader.microjoules(vals[pkg]), nil
				},
			})
		}
	}
	return
}
