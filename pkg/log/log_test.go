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

package log

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *Logger {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	logger := NewLogger(&sync.WaitGroup{})
	logger.Start(ctx)
	return logger
}

func TestLogger(t *testing.T) {
	t.Run("event", func(t *testing.T) {
		logger := newTestLogger(t)
		feed, cancel := logger.Subscribe()
		defer cancel()

		go logger.Warn().Src("processor").Job("job1").Msgf("batch %d", 2)
		log := <-feed
		require.Equal(t, LevelWarning, log.Level)
		require.Equal(t, "processor", log.Src)
		require.Equal(t, "job1", log.Job)
		require.Equal(t, "batch 2", log.Msg)
		require.NotZero(t, log.Time)
	})
	t.Run("time", func(t *testing.T) {
		logger := newTestLogger(t)
		feed, cancel := logger.Subscribe()
		defer cancel()

		go logger.Info().Time(time.UnixMicro(1234)).Msg("")
		require.Equal(t, UnixMicro(1234), (<-feed).Time)
	})
	t.Run("unsubBeforePrint", func(t *testing.T) {
		logger := newTestLogger(t)

		feed1, cancel1 := logger.Subscribe()
		feed2, cancel2 := logger.Subscribe()
		cancel2()

		go logger.Info().Msg("test")
		actual1 := <-feed1
		cancel1()

		require.Equal(t, "test", actual1.Msg)
		_, ok := <-feed2
		require.False(t, ok)
	})
	t.Run("unsubAfterPrint", func(t *testing.T) {
		logger := newTestLogger(t)
		feed, cancel := logger.Subscribe()

		go logger.Info().Msg("test")
		go logger.Info().Msg("test")
		time.Sleep(10 * time.Microsecond)
		cancel()

		for range feed {
		}
	})
	t.Run("stopped", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		wg := &sync.WaitGroup{}
		logger := NewLogger(wg)
		logger.Start(ctx)
		cancel()
		wg.Wait()

		// Must not block.
		logger.Error().Msg("dropped")
		feed, cancelSub := logger.Subscribe()
		cancelSub()
		_, ok := <-feed
		require.False(t, ok)
	})
}

func TestFormatLog(t *testing.T) {
	cases := map[string]struct {
		log      Log
		expected string
	}{
		"full": {
			Log{Level: LevelError, Src: "worker", Job: "abc", Msg: "failed"},
			"[ERROR] abc: worker: failed",
		},
		"noJob": {
			Log{Level: LevelDebug, Src: "mp4", Msg: "skip"},
			"[DEBUG] mp4: skip",
		},
		"bare": {
			Log{Level: LevelInfo, Msg: "hi"},
			"[INFO] hi",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.expected, FormatLog(tc.log))
		})
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestLogToWriter(t *testing.T) {
	logger := newTestLogger(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out syncBuffer
	go logger.LogToWriter(ctx, &out)
	time.Sleep(1 * time.Millisecond)
	logger.Info().Src("app").Msg("log test")

	require.Eventually(t, func() bool {
		return out.String() == "[INFO] app: log test\n"
	}, time.Second, time.Millisecond)
}
