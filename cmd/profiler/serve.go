/*
 * Copyright (C) 2023 Intel Corporation
 * SPDX-License-Identifier: MIT
 */
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/intel/svr-profiler/internal/profiling"
	"github.com/intel/svr-profiler/internal/rpc"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve profiling sessions over RPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			samplers, err := buildSamplers(cfg)
			if err != nil {
				return err
			}
			service := profiling.NewService(samplers...)
			server := rpc.NewServer(service, rpc.WithHost(cfg.Host), rpc.WithPort(cfg.Port))
			return serve(cmd.Context(), server, service)
		},
	}
}

// serve runs server until ctx is done or SIGINT/SIGTERM arrives, then stops
// any running session.
func serve(ctx context.Context, server *rpc.Server, service *profiling.Service) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe()
	})
	g.Go(func() error {
		<-gCtx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("server shutdown")
		}
		return service.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
