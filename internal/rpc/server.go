/*
Package rpc exposes the profiling service over HTTP with JSON bodies and
provides the matching client.
*/
/*
 * Copyright (C) 2023 Intel Corporation
 * SPDX-License-Identifier: MIT
 */
package rpc

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/intel/svr-profiler/internal/sampler"
	log "github.com/sirupsen/logrus"
)

// Route paths of the remote operations.
const (
	PathStart  = "/start"
	PathStop   = "/stop"
	PathReport = "/report"
	PathSet    = "/set"
)

// Profiler is the service the server exposes.
type Profiler interface {
	Start() error
	Stop() error
	Report() sampler.Report
	Set(args []string) error
}

// SetRequest is the body of a set call.
type SetRequest struct {
	Args []string `json:"args"`
}

// Fault is the body of a failed call.
type Fault struct {
	Error string `json:"error"`
}

type Server struct {
	router  *mux.Router
	cfg     *Options
	service Profiler
	server  *http.Server

	// one request at a time
	mu sync.Mutex
}

func NewServer(service Profiler, opts ...Option) *Server {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	s := &Server{
		cfg:     options,
		router:  mux.NewRouter(),
		service: service,
	}
	s.registerRoutes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler, for use with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Addr() string {
	return s.server.Addr
}

// Serve accepts connections on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	log.Infof("server started listening on %s", l.Addr())
	if err := s.server.Serve(l); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.router.Use(s.serialize)
	s.router.HandleFunc(PathStart, s.start).Methods(http.MethodPost)
	s.router.HandleFunc(PathStop, s.stop).Methods(http.MethodPost)
	s.router.HandleFunc(PathReport, s.report).Methods(http.MethodGet)
	s.router.HandleFunc(PathSet, s.set).Methods(http.MethodPost)
}

// serialize runs requests one at a time and logs each call.
func (s *Server) serialize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		begin := time.Now()
		next.ServeHTTP(w, r)
		log.WithFields(log.Fields{
			"method":   r.URL.Path,
			"remote":   r.RemoteAddr,
			"duration": time.Since(begin),
		}).Info("rpc call")
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("error writing response: %v", err)
	}
}

func writeFault(w http.ResponseWriter, err error) {
	log.Errorf("rpc fault: %v", err)
	writeJSON(w, http.StatusInternalServerError, Fault{Error: err.Error()})
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Start(); err != nil {
		writeFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Stop(); err != nil {
		writeFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) report(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Report())
}

func (s *Server) set(w http.ResponseWriter, r *http.Request) {
	var req SetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		http.Error(w, fmt.Sprintf("invalid set request: %v", err), http.StatusBadRequest)
		return
	}
	if err := s.service.Set(req.Args); err != nil {
		writeFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
