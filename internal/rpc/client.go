/*
 * Copyright (C) 2023 Intel Corporation
 * SPDX-License-Identifier: MIT
 */
package rpc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"emperror.dev/errors"
	json "github.com/goccy/go-json"
	"github.com/intel/svr-profiler/internal/sampler"
)

// Client calls a profiler server.
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient creates a client for the server at host:port given by opts. An
// empty host means localhost.
func NewClient(opts ...Option) *Client {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	host := options.Host
	if host == "" {
		host = "localhost"
	}
	return &Client{
		url:        fmt.Sprintf("http://%s:%d", host, options.Port),
		httpClient: &http.Client{Timeout: options.Timeout},
	}
}

// NewClientForURL creates a client for a server at baseURL, e.g. an httptest
// server.
func NewClientForURL(baseURL string) *Client {
	return &Client{url: strings.TrimSuffix(baseURL, "/"), httpClient: &http.Client{Timeout: defaultOptions().Timeout}}
}

func (c *Client) Start(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, PathStart, nil, nil)
}

func (c *Client) Stop(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, PathStop, nil, nil)
}

func (c *Client) Report(ctx context.Context) (report sampler.Report, err error) {
	report = make(sampler.Report)
	err = c.call(ctx, http.MethodGet, PathReport, nil, &report)
	return
}

func (c *Client) Set(ctx context.Context, args []string) error {
	if args == nil {
		args = []string{}
	}
	return c.call(ctx, http.MethodPost, PathSet, SetRequest{Args: args}, nil)
}

func (c *Client) call(ctx context.Context, method string, path string, in interface{}, out interface{}) (err error) {
	var body io.Reader
	if in != nil {
		var data []byte
		if data, err = json.Marshal(in); err != nil {
			return
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url+path, body)
	if err != nil {
		return
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = errors.WrapIff(err, "%s %s", method, path)
		return
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var fault Fault
		if json.Unmarshal(data, &fault) == nil && fault.Error != "" {
			err = fmt.Errorf("%s: %s", path, fault.Error)
		} else {
			err = fmt.Errorf("%s: unexpected status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(data)))
		}
		return
	}
	if out != nil {
		err = json.Unmarshal(data, out)
	}
	return
}
