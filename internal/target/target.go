/*
Package target runs programs on the local host and captures their output.
*/
/*
 * Copyright (C) 2023 Intel Corporation
 * SPDX-License-Identifier: MIT
 */
package target

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"emperror.dev/errors"
	"github.com/shirou/gopsutil/process"
	log "github.com/sirupsen/logrus"
)

// waitDelay bounds how long an interrupted command may keep running before it
// is killed.
const waitDelay = 10 * time.Second

// cLocale pins number formatting of tool output.
var cLocale = []string{"LC_ALL=C", "LANG=C"}

// RunLocalCommandWithTimeout runs cmd, killing it after timeout seconds when
// timeout is positive.
func RunLocalCommandWithTimeout(cmd *exec.Cmd, timeout int) (stdout string, stderr string, exitCode int, err error) {
	if timeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
		defer cancel()
		return RunLocalCommandWithContext(ctx, cmd)
	}
	return RunLocalCommandWithContext(context.Background(), cmd)
}

// RunLocalCommandWithContext runs cmd until it exits or ctx is done.
// cmd must not have been started.
func RunLocalCommandWithContext(ctx context.Context, cmd *exec.Cmd) (stdout string, stderr string, exitCode int, err error) {
	commandWithContext := exec.CommandContext(ctx, cmd.Path, cmd.Args[1:]...)
	commandWithContext.Env = cmd.Env
	commandWithContext.Dir = cmd.Dir
	commandWithContext.WaitDelay = waitDelay
	cmd = commandWithContext
	var outbuf, errbuf strings.Builder
	cmd.Stdout = &outbuf
	cmd.Stderr = &errbuf
	err = cmd.Run()
	stdout = outbuf.String()
	stderr = errbuf.String()
	exitCode = exitCodeOf(err)
	return
}

// ToolCommand returns a command for a measurement tool with the C locale
// applied so decimal points are not localized.
func ToolCommand(name string, args ...string) *exec.Cmd {
	cmd := exec.Command(name, args...)
	cmd.Env = append(os.Environ(), cLocale...)
	return cmd
}

func exitCodeOf(err error) (exitCode int) {
	if err == nil {
		return
	}
	exitError := &exec.ExitError{}
	if errors.As(err, &exitError) {
		exitCode = exitError.ExitCode()
	}
	return
}

// InterruptibleCommand runs one command at a time whose measurement window,
// a child process named Child, can be ended early from another goroutine.
type InterruptibleCommand struct {
	Child string

	mu          sync.Mutex
	cmd         *exec.Cmd
	interrupted bool // an interrupt was delivered to cmd
}

func NewInterruptibleCommand(child string) *InterruptibleCommand {
	return &InterruptibleCommand{Child: child}
}

// Run starts name with args in its own process group and waits for it. When
// ctx is done the window is interrupted rather than the command killed, so the
// command can still report what it measured.
func (c *InterruptibleCommand) Run(ctx context.Context, name string, args ...string) (stdout string, stderr string, exitCode int, err error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), cLocale...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		if !c.interrupted {
			c.signal(cmd)
			c.interrupted = true
		}
		return nil
	}
	cmd.WaitDelay = waitDelay
	var outbuf, errbuf strings.Builder
	cmd.Stdout = &outbuf
	cmd.Stderr = &errbuf

	c.mu.Lock()
	err = cmd.Start()
	if err == nil {
		c.cmd = cmd
		c.interrupted = false
	}
	c.mu.Unlock()
	if err != nil {
		return
	}
	err = cmd.Wait()
	c.mu.Lock()
	c.cmd = nil
	c.mu.Unlock()
	stdout = outbuf.String()
	stderr = errbuf.String()
	exitCode = exitCodeOf(err)
	return
}

// Interrupt ends the window of the in-flight command. It is a no-op when no
// command is running or its window was already interrupted.
func (c *InterruptibleCommand) Interrupt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmd == nil || c.interrupted {
		return
	}
	c.signal(c.cmd)
	c.interrupted = true
}

func (c *InterruptibleCommand) signal(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	if c.Child != "" && InterruptChildren(pid, c.Child) > 0 {
		return
	}
	// no matching child found, interrupt the whole process group
	if err := syscall.Kill(-pid, syscall.SIGINT); err != nil && !errors.Is(err, syscall.ESRCH) {
		log.WithError(err).WithField("pid", pid).Warn("failed to interrupt process group")
	}
}

// InterruptChildren sends SIGINT to every child of pid whose name is name and
// returns how many were signalled.
func InterruptChildren(pid int, name string) (count int) {
	parent, err := process.NewProcess(int32(pid))
	if err != nil {
		return
	}
	children, err := parent.Children()
	if err != nil {
		return
	}
	for _, child := range children {
		childName, err := child.Name()
		if err != nil || childName != name {
			continue
		}
		if err := child.SendSignal(syscall.SIGINT); err != nil {
			log.WithError(err).WithField("pid", child.Pid).Debug("failed to interrupt child")
			continue
		}
		count++
	}
	return
}
