/*
Profiler serves hardware telemetry sampling sessions over HTTP and drives them
from the command line.
*/
/*
 * Copyright (C) 2023 Intel Corporation
 * SPDX-License-Identifier: MIT
 */
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	_ "go.uber.org/automaxprocs"
)

var gVersion string = "dev" // build overrides this, see makefile

const (
	retNoError = 0
	retError   = 1
)

func mainReturnWithCode() int {
	// optional .env in the working directory supplies PROFILER_* defaults
	_ = godotenv.Load()
	root := newRootCmd()
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return retError
	}
	return retNoError
}

func main() { os.Exit(mainReturnWithCode()) }
