/*
 * Copyright (C) 2023 Intel Corporation
 * SPDX-License-Identifier: MIT
 */
package rpc

import "time"

const DefaultPort = 8000

func defaultOptions() *Options {
	return &Options{
		Host:    "",
		Port:    DefaultPort,
		Timeout: 5 * time.Minute,
	}
}

type Options struct {
	Host string
	Port int
	// Timeout bounds one client call. Stop may wait for a point-in-time read
	// on every sampler so it is generous.
	Timeout time.Duration
}

type Option func(*Options)

func WithHost(s string) Option {
	return func(opts *Options) {
		opts.Host = s
	}
}

func WithPort(v int) Option {
	return func(opts *Options) {
		opts.Port = v
	}
}

func WithTimeout(d time.Duration) Option {
	return func(opts *Options) {
		opts.Timeout = d
	}
}
