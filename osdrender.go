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

// Package osdrender burns OSD telemetry into flight recordings.
package osdrender

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"osdrender/pkg/codec"
	"osdrender/pkg/codec/ffcodec"
	"osdrender/pkg/config"
	"osdrender/pkg/ffmpeg"
	"osdrender/pkg/font"
	"osdrender/pkg/log"
	"osdrender/pkg/system"
	"osdrender/pkg/web"
	"osdrender/pkg/worker"
)

// App wires the renderer together.
type App struct {
	WG      *sync.WaitGroup
	Logger  *log.Logger
	Env     config.ConfigEnv
	Manager *worker.Manager
	Relay   *web.Relay
	System  *system.System
	Mux     *http.ServeMux

	ffmpeg *ffmpeg.FFMPEG
	logDB  *log.DB
	server *http.Server
}

// NewApp reads env.yaml and returns the app, call Run to start it.
func NewApp(envPath string, wg *sync.WaitGroup) (*App, error) {
	envYAML, err := os.ReadFile(envPath)
	if err != nil {
		return nil, fmt.Errorf("could not read env.yaml: %w", err)
	}

	env, err := config.NewConfigEnv(envPath, envYAML)
	if err != nil {
		return nil, fmt.Errorf("could not get environment config: %w", err)
	}

	return newApp(*env, wg, nil), nil
}

func newApp(env config.ConfigEnv, wg *sync.WaitGroup, newCodecs worker.NewCodecsFunc) *App {
	logger := log.NewLogger(wg)
	logDB := log.NewDB(env.LogDBPath(), wg)
	sys := system.New(env.StorageDir, logger)
	ff := ffmpeg.New(env.FFmpegBin)

	if newCodecs == nil {
		newCodecs = func(jobID string) codec.Factory {
			return &ffcodec.Factory{
				FFmpeg: ff,
				Logger: logger,
				JobID:  jobID,
				Preset: env.EncoderPreset,
			}
		}
	}

	manager := worker.NewManager(worker.Config{
		NewCodecs:        newCodecs,
		FontSource:       newFontSource(env),
		Logger:           logger,
		Status:           sys.Status,
		FrameRate:        env.OutputFrameRate,
		ProgressInterval: env.ProgressInterval,
		ReaderWindow:     env.ReaderWindow,
		Buffer:           env.MessageBuffer,
	})
	relay := web.NewRelay(logger)

	mux := web.NewMux(web.Handlers{
		Relay:  relay,
		Sender: manager,
		Logger: logger,
		LogDB:  logDB,
		Status: sys.Status,
		Auth:   web.NewBasicAuth(env.RelayUser, []byte(env.RelayPasswordHash)),
	})

	return &App{
		WG:      wg,
		Logger:  logger,
		Env:     env,
		Manager: manager,
		Relay:   relay,
		System:  sys,
		Mux:     mux,
		ffmpeg:  ff,
		logDB:   logDB,
	}
}

func newFontSource(env config.ConfigEnv) font.Source {
	if env.FontURL != "" {
		return font.HTTPSource{BaseURL: env.FontURL}
	}
	return font.DirSource{FS: os.DirFS(env.FontDir)}
}

// Send sends a request to the worker.
func (app *App) Send(req worker.Request) error {
	return app.Manager.Send(req)
}

// Subscribe returns a feed of worker messages.
func (app *App) Subscribe() (<-chan web.Message, func()) {
	return app.Relay.Subscribe()
}

// Run starts the app and blocks until ctx is canceled
// or the relay server fails.
func (app *App) Run(ctx context.Context) error {
	app.Logger.Start(ctx)
	go app.Logger.LogToStdout(ctx)

	if err := app.Env.PrepareEnvironment(); err != nil {
		return fmt.Errorf("could not prepare environment: %w", err)
	}

	if err := app.logDB.Init(ctx); err != nil {
		// Continue even if log database is corrupt.
		app.Logger.Error().Src("app").Msgf("could not initialize log database: %v", err)
	} else {
		go app.logDB.SaveLogs(ctx, app.Logger)
	}

	app.Logger.Info().Src("app").Msg("Starting..")

	if version, err := app.ffmpeg.Version(); err != nil {
		app.Logger.Warn().Src("app").Msgf("could not get ffmpeg version: %v", err)
	} else {
		app.Logger.Info().Src("app").Msgf("ffmpeg version %v", version)
	}

	go app.System.StatusLoop(ctx)

	app.WG.Add(2)
	go func() {
		app.Relay.Run(ctx, app.Manager.Responses())
		app.WG.Done()
	}()
	go func() {
		app.Manager.Run(ctx)
		app.WG.Done()
	}()

	if app.Env.Listen == "" {
		<-ctx.Done()
		return nil
	}

	app.server = &http.Server{
		Addr:              app.Env.Listen,
		Handler:           app.Mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		app.Logger.Info().Src("app").Msgf("Serving relay on %v", app.Env.Listen)
		serverErr <- app.server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("relay server: %w", err)
	case <-ctx.Done():
	}

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.server.Shutdown(ctx2); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
