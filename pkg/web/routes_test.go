package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"osdrender/pkg/log"
	"osdrender/pkg/system"
	"osdrender/pkg/worker"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestParseCSVParam(t *testing.T) {
	cases := []struct {
		input  string
		output []string
	}{
		{"", nil},
		{"a,b,c", []string{"a", "b", "c"}},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			query := url.Values{}
			query.Add("test", tc.input)
			actual := parseCSVParam(query, "test")
			require.Equal(t, tc.output, actual)
		})
	}
}

func TestParseLevels(t *testing.T) {
	levels, err := parseLevels(url.Values{"levels": {"16,48"}})
	require.NoError(t, err)
	require.Equal(t, []log.Level{log.LevelError, log.LevelDebug}, levels)

	_, err = parseLevels(url.Values{"levels": {"16,x"}})
	require.Error(t, err)
}

func dial(t *testing.T, server *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(server.URL, "http") + path
	c, res, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	res.Body.Close()
	t.Cleanup(func() { c.Close() })
	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	return c
}

// repeat calls fn until the test ends.
func repeat(t *testing.T, fn func()) {
	t.Helper()
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
	t.Cleanup(func() {
		close(done)
		wg.Wait()
	})
}

func TestEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay := NewRelay(log.NewMockLogger())
	responses := make(chan worker.Response)
	go relay.Run(ctx, responses)

	server := httptest.NewServer(NewMux(Handlers{Relay: relay}))
	defer server.Close()

	c := dial(t, server, "/api/events")
	repeat(t, func() {
		select {
		case responses <- worker.ProgressInit{JobID: "a", ExpectedFrames: 120}:
		case <-ctx.Done():
		}
	})

	var msg Message
	require.NoError(t, c.ReadJSON(&msg))
	require.Equal(t, Message{
		Type:           TypeProgressInit,
		JobID:          "a",
		ExpectedFrames: 120,
	}, msg)
}

func TestLogFeed(t *testing.T) {
	logger := log.NewMockLogger()
	server := httptest.NewServer(NewMux(Handlers{Logger: logger}))
	defer server.Close()

	c := dial(t, server, "/api/log/feed?levels=32&sources=worker")
	repeat(t, func() {
		logger.Info().Src("mp4").Msg("skip")
		logger.Error().Src("worker").Msg("skip")
		logger.Info().Src("worker").Job("a").Msg("ok")
	})

	var entry log.Log
	require.NoError(t, c.ReadJSON(&entry))
	require.Equal(t, log.LevelInfo, entry.Level)
	require.Equal(t, "worker", entry.Src)
	require.Equal(t, "a", entry.Job)
	require.Equal(t, "ok", entry.Msg)
}

func TestLogFeedInvalidLevels(t *testing.T) {
	server := httptest.NewServer(NewMux(Handlers{Logger: log.NewMockLogger()}))
	defer server.Close()

	res, err := http.Get(server.URL + "/api/log/feed?levels=x")
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func newTestLogDB(t *testing.T) (*log.DB, *log.Logger) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	var wg sync.WaitGroup
	logDB := log.NewDB(filepath.Join(t.TempDir(), "logs.db"), &wg)
	require.NoError(t, logDB.Init(ctx))

	logger := log.NewLogger(&wg)
	logger.Start(ctx)
	go logDB.SaveLogs(ctx, logger)
	return logDB, logger
}

func TestLogQuery(t *testing.T) {
	logDB, logger := newTestLogDB(t)
	server := httptest.NewServer(NewMux(Handlers{LogDB: logDB}))
	defer server.Close()

	query := func(t *testing.T, rawQuery string) []log.Log {
		t.Helper()
		res, err := http.Get(server.URL + "/api/log/query?" + rawQuery)
		require.NoError(t, err)
		defer res.Body.Close()
		require.Equal(t, http.StatusOK, res.StatusCode)
		require.Equal(t, jsonContentType, res.Header.Get("Content-Type"))
		var logs []log.Log
		require.NoError(t, json.NewDecoder(res.Body).Decode(&logs))
		return logs
	}

	logger.Info().Src("worker").Job("a").Time(time.Unix(1, 0)).Msg("1")
	logger.Error().Src("mp4").Job("b").Time(time.Unix(2, 0)).Msg("2")
	require.Eventually(t, func() bool {
		return len(query(t, "limit=10")) == 2
	}, time.Second, 10*time.Millisecond)

	logs := query(t, "limit=10&jobs=a")
	require.Len(t, logs, 1)
	require.Equal(t, "1", logs[0].Msg)

	logs = query(t, "limit=10&levels=16")
	require.Len(t, logs, 1)
	require.Equal(t, "2", logs[0].Msg)

	logs = query(t, "limit=10&time=2000000")
	require.Len(t, logs, 1)
	require.Equal(t, "1", logs[0].Msg)

	for _, raw := range []string{"", "limit=x", "limit=1&time=x", "limit=1&levels=x"} {
		res, err := http.Get(server.URL + "/api/log/query?" + raw)
		require.NoError(t, err)
		res.Body.Close()
		require.Equal(t, http.StatusBadRequest, res.StatusCode, raw)
	}
}

type mockSender struct {
	err  error
	reqs []worker.Request
}

func (s *mockSender) Send(req worker.Request) error {
	s.reqs = append(s.reqs, req)
	return s.err
}

func TestJobCancel(t *testing.T) {
	sender := &mockSender{}
	server := httptest.NewServer(NewMux(Handlers{Sender: sender}))
	defer server.Close()

	res, err := http.Post(server.URL+"/api/job/cancel", "", nil)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusAccepted, res.StatusCode)
	require.Equal(t, []worker.Request{worker.CancelJob{}}, sender.reqs)

	res, err = http.Get(server.URL + "/api/job/cancel")
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)

	sender.err = errors.New("mock")
	res, err = http.Post(server.URL+"/api/job/cancel", "", nil)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
}

func TestStatus(t *testing.T) {
	status := func() system.Status {
		return system.Status{CPUUsage: 1, RAMUsage: 2, DiskUsage: 3}
	}
	server := httptest.NewServer(NewMux(Handlers{Status: status}))
	defer server.Close()

	res, err := http.Get(server.URL + "/api/system/status")
	require.NoError(t, err)
	defer res.Body.Close()

	var actual system.Status
	require.NoError(t, json.NewDecoder(res.Body).Decode(&actual))
	require.Equal(t, status(), actual)
}
