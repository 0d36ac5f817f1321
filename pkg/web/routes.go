// Copyright 2020-2022 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"osdrender/pkg/log"
	"osdrender/pkg/system"
	"osdrender/pkg/worker"

	"github.com/gorilla/websocket"
)

const (
	jsonContentType = "application/json"
	writeTimeout    = 10 * time.Second
)

// Sender sends requests to the worker.
type Sender interface {
	Send(worker.Request) error
}

// Handlers are the dependencies of the HTTP routes.
type Handlers struct {
	Relay  *Relay
	Sender Sender
	Logger *log.Logger
	LogDB  *log.DB
	Status func() system.Status
	Auth   *BasicAuth // Optional.
}

// NewMux returns the route multiplexer.
func NewMux(h Handlers) *http.ServeMux {
	a := h.Auth
	if a == nil {
		a = NewBasicAuth("", nil)
	}
	mux := http.NewServeMux()
	mux.Handle("/api/events", a.Require(Events(h.Relay)))
	mux.Handle("/api/job/cancel", a.Require(JobCancel(h.Sender)))
	mux.Handle("/api/log/feed", a.Require(LogFeed(h.Logger)))
	mux.Handle("/api/log/query", a.Require(LogQuery(h.LogDB)))
	mux.Handle("/api/system/status", a.Require(Status(h.Status)))
	return mux
}

var upgrader = websocket.Upgrader{}

// readUntilClose discards client messages and cancels
// ctx when the connection is closed.
func readUntilClose(c *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := c.NextReader(); err != nil {
			return
		}
	}
}

func writeJSON(c *websocket.Conn, v interface{}) error {
	if err := c.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.WriteJSON(v)
}

// Events opens a websocket with worker messages.
func Events(relay *Relay) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "invalid request method", http.StatusMethodNotAllowed)
			return
		}

		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go readUntilClose(c, cancel)

		feed, unsubscribe := relay.Subscribe()
		defer unsubscribe()

		for {
			select {
			case msg, ok := <-feed:
				if !ok {
					return
				}
				if err := writeJSON(c, msg); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	})
}

// JobCancel cancels the running job.
func JobCancel(s Sender) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "invalid request method", http.StatusMethodNotAllowed)
			return
		}
		if err := s.Send(worker.CancelJob{}); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
}

func parseCSVParam(query url.Values, key string) []string {
	csv := query.Get(key)
	if csv == "" {
		return nil
	}
	return strings.Split(csv, ",")
}

func parseLevels(query url.Values) ([]log.Level, error) {
	var levels []log.Level
	for _, levelStr := range parseCSVParam(query, "levels") {
		levelInt, err := strconv.Atoi(levelStr)
		if err != nil {
			return nil, fmt.Errorf("invalid levels list: %v %w", query.Get("levels"), err)
		}
		levels = append(levels, log.Level(levelInt))
	}
	return levels, nil
}

// LogFeed opens a websocket with system logs.
func LogFeed(logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "invalid request method", http.StatusMethodNotAllowed)
			return
		}
		query := r.URL.Query()

		levels, err := parseLevels(query)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		q := log.Query{
			Levels:  levels,
			Sources: parseCSVParam(query, "sources"),
			Jobs:    parseCSVParam(query, "jobs"),
		}

		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go readUntilClose(c, cancel)

		feed, unsubscribe := logger.Subscribe()
		defer unsubscribe()

		for {
			var entry log.Log
			select {
			case e, ok := <-feed:
				if !ok {
					return
				}
				entry = e
			case <-ctx.Done():
				return
			}

			if !q.Match(entry) {
				continue
			}
			if err := writeJSON(c, entry); err != nil {
				return
			}
		}
	})
}

// LogQuery handles log queries.
func LogQuery(logDB *log.DB) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "invalid request method", http.StatusMethodNotAllowed)
			return
		}
		query := r.URL.Query()

		limit := query.Get("limit")
		if limit == "" {
			http.Error(w, "limit missing", http.StatusBadRequest)
			return
		}
		limitInt, err := strconv.Atoi(limit)
		if err != nil {
			http.Error(w, fmt.Sprintf("could not convert limit to int: %v", err), http.StatusBadRequest)
			return
		}

		levels, err := parseLevels(query)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var timeInt uint64
		if t := query.Get("time"); t != "" {
			timeInt, err = strconv.ParseUint(t, 10, 64)
			if err != nil {
				http.Error(w, fmt.Sprintf("could not convert time to int: %v", err), http.StatusBadRequest)
				return
			}
		}

		q := log.Query{
			Levels:  levels,
			Sources: parseCSVParam(query, "sources"),
			Jobs:    parseCSVParam(query, "jobs"),
			Time:    log.UnixMicro(timeInt),
			Limit:   limitInt,
		}

		logs, err := logDB.Query(q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", jsonContentType)
		if err := json.NewEncoder(w).Encode(logs); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}

// Status returns the host status.
func Status(status func() system.Status) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "invalid request method", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", jsonContentType)
		if err := json.NewEncoder(w).Encode(status()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}
