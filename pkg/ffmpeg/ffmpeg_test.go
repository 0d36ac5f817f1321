// SPDX-License-Identifier: GPL-2.0-or-later

package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFakeProcess(t *testing.T) {
	if os.Getenv("GO_TEST_PROCESS") != "1" {
		return
	}
	if os.Getenv("SLEEP") == "1" {
		time.Sleep(1 * time.Hour)
	}
	if os.Getenv("VERSION") == "1" {
		fmt.Fprintf(os.Stdout, "ffmpeg version 6.1.1-3 Copyright (c) 2000-2023\n")
		os.Exit(0)
	}
	if os.Getenv("EXIT") != "" {
		os.Exit(3)
	}

	fmt.Fprintf(os.Stdout, "%v", "out")
	fmt.Fprintf(os.Stderr, "%v", "err")

	os.Exit(0)
}

func fakeExecCommand(env ...string) *exec.Cmd {
	cs := []string{"-test.run=TestFakeProcess"}
	cmd := exec.Command(os.Args[0], cs...)
	cmd.Env = []string{"GO_TEST_PROCESS=1"}
	cmd.Env = append(cmd.Env, env...)
	return cmd
}

func TestProcess(t *testing.T) {
	t.Run("running", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		p := NewProcess(fakeExecCommand())
		err := p.Start(ctx)
		require.NoError(t, err)
	})
	t.Run("startWithLogger", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		logs := make(chan string, 2)
		logFunc := func(msg string) {
			logs <- fmt.Sprintf("test %v", msg)
		}

		p := NewProcess(fakeExecCommand()).
			Timeout(0).
			StdoutLogger(logFunc).
			StderrLogger(logFunc)

		err := p.Start(ctx)
		require.NoError(t, err)

		require.ElementsMatch(t,
			[]string{"test stdout: out", "test stderr: err"},
			[]string{<-logs, <-logs},
		)
	})
	t.Run("exitErr", func(t *testing.T) {
		err := NewProcess(fakeExecCommand("EXIT=1")).Start(context.Background())
		var exitErr *exec.ExitError
		require.ErrorAs(t, err, &exitErr)
		require.Equal(t, 3, exitErr.ExitCode())
	})
	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		p := NewProcess(fakeExecCommand("SLEEP=1")).
			Timeout(10 * time.Millisecond).
			StderrLogger(func(string) {})

		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()
		err := p.Start(ctx)
		require.ErrorIs(t, err, context.Canceled)
	})

	_, pw, err := os.Pipe()
	require.NoError(t, err)

	t.Run("stdoutErr", func(t *testing.T) {
		cmd := fakeExecCommand()
		cmd.Stdout = pw

		p := process{cmd: cmd}.
			StdoutLogger(func(string) {})

		err := p.Start(context.Background())
		require.Error(t, err)
	})
	t.Run("stderrErr", func(t *testing.T) {
		cmd := fakeExecCommand()
		cmd.Stderr = pw

		p := process{cmd: cmd}.
			StderrLogger(func(string) {})

		err := p.Start(context.Background())
		require.Error(t, err)
	})
}

func TestVersion(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		f := NewWithCommand(func(...string) *exec.Cmd {
			return fakeExecCommand("VERSION=1")
		})
		version, err := f.Version()
		require.NoError(t, err)
		require.Equal(t, "6.1.1-3", version)
	})
	t.Run("noVersion", func(t *testing.T) {
		f := NewWithCommand(func(...string) *exec.Cmd {
			return fakeExecCommand()
		})
		_, err := f.Version()
		require.ErrorIs(t, err, ErrNoVersion)
	})
	t.Run("missingBinary", func(t *testing.T) {
		_, err := New("/nonexistent/ffmpeg").Version()
		require.Error(t, err)
	})
}

func TestParseArgs(t *testing.T) {
	cases := map[string]struct {
		input    string
		expected []string
	}{
		"simple": {"1 2 3 4", []string{"1", "2", "3", "4"}},
		"spaces": {" -tune  film ", []string{"-tune", "film"}},
		"empty":  {"", []string{}},
		//"x":{ "1 '2 3' 4", []string{"1", "2 3", "4"}}, Not implemented.
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			actual := ParseArgs(tc.input)
			require.Equal(t, tc.expected, actual)
		})
	}
}
