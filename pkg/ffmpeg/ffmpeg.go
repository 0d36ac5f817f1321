// Copyright 2020-2021 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; version 2.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// LogFunc receives one line of process output.
type LogFunc func(string)

// Process interface only used for testing.
type Process interface {
	Timeout(time.Duration) Process
	StdoutLogger(LogFunc) Process
	StderrLogger(LogFunc) Process

	// Start runs the process until it exits or ctx is canceled.
	Start(ctx context.Context) error
}

// process manages subprocesses.
type process struct {
	timeout time.Duration
	cmd     *exec.Cmd

	stdoutLogger LogFunc
	stderrLogger LogFunc
}

// NewProcessFunc is used for mocking.
type NewProcessFunc func(*exec.Cmd) Process

// NewProcess return process.
func NewProcess(cmd *exec.Cmd) Process {
	return process{
		timeout: 1000 * time.Millisecond,
		cmd:     cmd,
	}
}

func (p process) Timeout(timeout time.Duration) Process {
	p.timeout = timeout
	return p
}

// StdoutLogger only applies when cmd.Stdout is unset.
func (p process) StdoutLogger(l LogFunc) Process {
	p.stdoutLogger = l
	return p
}

func (p process) StderrLogger(l LogFunc) Process {
	p.stderrLogger = l
	return p
}

func attachLogger(
	l LogFunc,
	label string,
	stdPipe func() (io.ReadCloser, error),
) (chan struct{}, error) {
	pipe, err := stdPipe()
	if err != nil {
		return nil, err
	}
	done := make(chan struct{})
	scanner := bufio.NewScanner(pipe)
	go func() {
		for scanner.Scan() {
			l(label + ": " + scanner.Text())
		}
		close(done)
	}()
	return done, nil
}

// Start starts process with context.
func (p process) Start(ctx context.Context) error {
	var logsDone []chan struct{}
	if p.stdoutLogger != nil {
		done, err := attachLogger(p.stdoutLogger, "stdout", p.cmd.StdoutPipe)
		if err != nil {
			return err
		}
		logsDone = append(logsDone, done)
	}
	if p.stderrLogger != nil {
		done, err := attachLogger(p.stderrLogger, "stderr", p.cmd.StderrPipe)
		if err != nil {
			return err
		}
		logsDone = append(logsDone, done)
	}

	if err := p.cmd.Start(); err != nil {
		return err
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		select {
		case <-done:
		case <-ctx.Done():
			p.stop(done)
		}
		close(stopped)
	}()

	// Wait closes the pipes, drain them first.
	for _, logDone := range logsDone {
		<-logDone
	}

	err := p.cmd.Wait()
	close(done)
	<-stopped

	if ctx.Err() != nil {
		return ctx.Err()
	}

	// FFmpeg seems to return 255 on normal exit.
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 255 {
		return nil
	}

	return err
}

// Note, can't use CommandContext to stop process as it would
// kill the process before it has a chance to exit on its own.
func (p process) stop(done chan struct{}) {
	p.cmd.Process.Signal(os.Interrupt) //nolint:errcheck

	select {
	case <-done:
	case <-time.After(p.timeout):
		p.cmd.Process.Signal(os.Kill) //nolint:errcheck
		<-done
	}
}

// FFMPEG stores ffmpeg binary location.
type FFMPEG struct {
	command func(...string) *exec.Cmd
}

// New returns FFMPEG.
func New(bin string) *FFMPEG {
	command := func(args ...string) *exec.Cmd {
		return exec.Command(bin, args...)
	}
	return &FFMPEG{command: command}
}

// NewWithCommand returns FFMPEG using a custom command constructor, used for mocking.
func NewWithCommand(command func(...string) *exec.Cmd) *FFMPEG {
	return &FFMPEG{command: command}
}

// Command returns an unstarted ffmpeg command.
func (f *FFMPEG) Command(args ...string) *exec.Cmd {
	return f.command(args...)
}

// ErrNoVersion ffmpeg output did not contain a version.
var ErrNoVersion = errors.New("no version in output")

// Version runs "ffmpeg -version" and returns the version string.
func (f *FFMPEG) Version() (string, error) {
	cmd := f.command("-version")

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s %w", stdout.String(), err)
	}

	// Input "ffmpeg version 4.4.2-0ubuntu0.22.04.1 Copyright (c) 2000-2021"
	// Output "4.4.2-0ubuntu0.22.04.1"
	re := regexp.MustCompile(`version (\S+)`)
	match := re.FindStringSubmatch(stdout.String())
	if match == nil {
		return "", fmt.Errorf("%w: %q", ErrNoVersion, stdout.String())
	}
	return match[1], nil
}

// ParseArgs slices arguments.
func ParseArgs(args string) []string {
	return strings.Fields(args)
}
