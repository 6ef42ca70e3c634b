/*
Package progress provides CLI progress spinners for long running profiler
sessions.
*/
/*
 * Copyright (C) 2023 Intel Corporation
 * SPDX-License-Identifier: MIT
 */
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

var spinChars []string = []string{"⣾", "⣽", "⣻", "⢿", "⡿", "⣟", "⣯", "⣷"}

type MultiSpinnerUpdateFunc func(string, string) error

type spinnerState struct {
	label       string
	status      string
	statusIsNew bool
	spinIndex   int
}

type MultiSpinner struct {
	out      io.Writer
	terminal bool
	interval time.Duration

	mu       sync.Mutex
	spinners []spinnerState
	ticker   *time.Ticker
	done     chan bool
	spinning bool
}

// NewMultiSpinner draws to stderr, animating only when stderr is a terminal.
func NewMultiSpinner() *MultiSpinner {
	return NewMultiSpinnerWriter(os.Stderr, term.IsTerminal(int(os.Stderr.Fd())))
}

// NewMultiSpinnerWriter draws to out. When terminal is false only status
// changes are printed.
func NewMultiSpinnerWriter(out io.Writer, terminal bool) *MultiSpinner {
	return &MultiSpinner{
		out:      out,
		terminal: terminal,
		interval: 250 * time.Millisecond,
		done:     make(chan bool),
	}
}

func (ms *MultiSpinner) AddSpinner(label string) (err error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, spinner := range ms.spinners {
		if spinner.label == label {
			err = fmt.Errorf("spinner with label %s already exists", label)
			return
		}
	}
	ms.spinners = append(ms.spinners, spinnerState{label, "?", false, 0})
	return
}

func (ms *MultiSpinner) Start() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.spinning {
		return
	}
	ms.ticker = time.NewTicker(ms.interval)
	ms.spinning = true
	go ms.onTick()
}

func (ms *MultiSpinner) Finish() {
	ms.mu.Lock()
	spinning := ms.spinning
	ms.spinning = false
	ms.mu.Unlock()
	if spinning {
		ms.ticker.Stop()
		ms.done <- true
		ms.draw(false)
	}
}

func (ms *MultiSpinner) Status(label string, status string) (err error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for spinnerIdx, spinner := range ms.spinners {
		if spinner.label == label {
			if status != spinner.status {
				ms.spinners[spinnerIdx].status = status
				ms.spinners[spinnerIdx].statusIsNew = true
			}
			return
		}
	}
	err = fmt.Errorf("did not find spinner with label %s", label)
	return
}

func (ms *MultiSpinner) onTick() {
	for {
		select {
		case <-ms.done:
			return
		case <-ms.ticker.C:
			ms.draw(true)
		}
	}
}

func (ms *MultiSpinner) draw(goUp bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for i, spinner := range ms.spinners {
		if !ms.terminal && !spinner.statusIsNew {
			continue
		}
		fmt.Fprintf(ms.out, "%-20s  %s  %-40s\n", spinner.label, spinChars[spinner.spinIndex], spinner.status)
		ms.spinners[i].statusIsNew = false
		ms.spinners[i].spinIndex += 1
		if ms.spinners[i].spinIndex >= len(spinChars) {
			ms.spinners[i].spinIndex = 0
		}
	}
	if goUp && ms.terminal {
		for range ms.spinners {
			fmt.Fprintf(ms.out, "\x1b[1A")
		}
	}
}
