/*
 * Copyright (C) 2023 Intel Corporation
 * SPDX-License-Identifier: MIT
 */
package sampler

import (
	"context"
	"sync"
	"time"

	"emperror.dev/errors"
	log "github.com/sirupsen/logrus"
)

type Option func(*Scheduler)

// WithClock replaces the wall clock used to timestamp samples.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// Scheduler runs the start/stop lifecycle of a Source. Point-in-time sources
// are read once at Start and once at Stop. Periodic sources are read by a
// background loop until Stop.
type Scheduler struct {
	name   string
	config Config
	source Source
	now    func() time.Time

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewScheduler(name string, config Config, source Source, opts ...Option) *Scheduler {
	s := &Scheduler{
		name:   name,
		config: config,
		source: source,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Name() string {
	return s.name
}

func (s *Scheduler) Config() Config {
	return s.config
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Done returns a channel that is closed once the current sampling loop has
// exited and written its sentinel. It is already closed when no loop exists.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.done
}

func (s *Scheduler) timestamp() int64 {
	return s.now().Unix()
}

// Start clears previous data and begins a new session. A session that is
// already running is ended first.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	logger := log.WithField("sampler", s.name)
	if s.running {
		logger.Info("restarting active session")
		if s.config.Periodic() {
			s.halt()
		}
		s.running = false
	}
	// a stopped loop may still be draining its last window
	if s.done != nil {
		<-s.done
	}
	s.source.Clear()
	if !s.config.Periodic() {
		s.running = true
		if err := s.source.Sample(context.Background(), s.timestamp()); err != nil {
			return errors.WrapIf(err, "start sample")
		}
		logger.Debug("session started")
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true
	go s.loop(ctx, s.stop, s.done)
	logger.WithField("period", s.config.SamplingPeriod).Debug("sampling loop started")
	return nil
}

// Stop ends the session. It is a no-op when no session is running.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	if s.config.Periodic() {
		s.halt()
		log.WithField("sampler", s.name).Debug("sampling loop signalled")
		return nil
	}
	s.running = false
	if err := s.source.Sample(context.Background(), s.timestamp()); err != nil {
		return errors.WrapIf(err, "stop sample")
	}
	log.WithField("sampler", s.name).Debug("session stopped")
	return nil
}

// halt wakes the periodic loop. The in-flight window is interrupted before the
// stop channel closes so the loop never starts another window. Callers hold mu.
func (s *Scheduler) halt() {
	s.source.InterruptSample()
	s.running = false
	s.cancel()
	close(s.stop)
}

func (s *Scheduler) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	logger := log.WithField("sampler", s.name)
	wait := s.config.SamplingPeriod - s.config.SamplingLength
	if wait < 0 {
		wait = 0
	}
	for {
		select {
		case <-stop:
			s.source.ZeroSample(s.timestamp())
			logger.Debug("sampling loop exited")
			return
		default:
		}
		if err := s.source.Sample(ctx, s.timestamp()); err != nil {
			if ctx.Err() != nil {
				<-stop
				s.source.ZeroSample(s.timestamp())
				logger.Debug("sampling loop exited")
				return
			}
			logger.WithError(err).Warn("sample failed")
		}
		timer := time.NewTimer(wait)
		select {
		case <-stop:
			timer.Stop()
			s.source.ZeroSample(s.timestamp())
			logger.Debug("sampling loop exited")
			return
		case <-timer.C:
		}
	}
}
