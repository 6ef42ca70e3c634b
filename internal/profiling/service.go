/*
Package profiling fans start, stop and report out to a fixed set of samplers.
*/
/*
 * Copyright (C) 2023 Intel Corporation
 * SPDX-License-Identifier: MIT
 */
package profiling

import (
	"context"
	"strings"

	"emperror.dev/errors"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/intel/svr-profiler/internal/sampler"
	log "github.com/sirupsen/logrus"
)

// Service owns the samplers. Calls are expected to be serialized by the
// caller, the RPC server does so.
type Service struct {
	samplers []sampler.Sampler
}

func NewService(samplers ...sampler.Sampler) *Service {
	return &Service{samplers: samplers}
}

// Samplers returns the samplers in registration order.
func (s *Service) Samplers() []sampler.Sampler {
	return append([]sampler.Sampler(nil), s.samplers...)
}

// Start starts every sampler in registration order. The first failure aborts
// the fan-out; samplers already started keep running.
func (s *Service) Start() error {
	for _, smp := range s.samplers {
		if err := smp.Start(); err != nil {
			return errors.WrapIff(err, "start %s", smp.Name())
		}
	}
	log.WithField("samplers", s.names()).Info("profiling started")
	return nil
}

// Stop stops every sampler in registration order with the same failure policy
// as Start.
func (s *Service) Stop() error {
	for _, smp := range s.samplers {
		if err := smp.Stop(); err != nil {
			return errors.WrapIff(err, "stop %s", smp.Name())
		}
	}
	log.WithField("samplers", s.names()).Info("profiling stopped")
	return nil
}

// Report merges the samplers' reports in registration order. A metric name
// written by more than one sampler keeps the last sampler's series.
func (s *Service) Report() sampler.Report {
	merged := make(sampler.Report)
	seen := mapset.NewThreadUnsafeSet[string]()
	for _, smp := range s.samplers {
		report := smp.Report()
		for name := range report {
			if !seen.Add(name) {
				log.WithFields(log.Fields{"metric": name, "sampler": smp.Name()}).Warn("metric reported by more than one sampler")
			}
		}
		merged.Merge(report)
	}
	return merged
}

// Set accepts arbitrary arguments and has no effect beyond logging them.
func (s *Service) Set(args []string) error {
	log.WithField("args", strings.Join(args, " ")).Info("set")
	return nil
}

// Shutdown stops every running sampler and waits for periodic loops to exit
// or ctx to be done.
func (s *Service) Shutdown(ctx context.Context) (err error) {
	for _, smp := range s.samplers {
		if smp.Running() {
			if e := smp.Stop(); e != nil {
				err = errors.Append(err, errors.WrapIff(e, "stop %s", smp.Name()))
			}
		}
	}
	for _, smp := range s.samplers {
		select {
		case <-smp.Done():
		case <-ctx.Done():
			err = errors.Append(err, errors.WrapIff(ctx.Err(), "wait for %s", smp.Name()))
			return
		}
	}
	return
}

func (s *Service) names() (names []string) {
	for _, smp := range s.samplers {
		names = append(names, smp.Name())
	}
	return
}
