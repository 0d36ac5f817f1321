package osdrender

import (
	"bytes"
	"context"
	"image"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"osdrender/pkg/codec"
	"osdrender/pkg/codec/codecmock"
	"osdrender/pkg/config"
	"osdrender/pkg/font"
	"osdrender/pkg/osd"
	"osdrender/pkg/video/mp4muxer"
	"osdrender/pkg/video/writerseeker"
	"osdrender/pkg/web"
	"osdrender/pkg/worker"

	"github.com/stretchr/testify/require"
)

func writeEnv(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	ffmpegBin := filepath.Join(dir, "ffmpeg")
	require.NoError(t, os.WriteFile(ffmpegBin, nil, 0o600))

	envPath := filepath.Join(dir, "env.yaml")
	envYAML := "ffmpegBin: " + ffmpegBin + "\n" + extra
	require.NoError(t, os.WriteFile(envPath, []byte(envYAML), 0o600))
	return envPath
}

func TestNewApp(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		envPath := writeEnv(t, "outputFrameRate: 30\n")
		app, err := NewApp(envPath, &sync.WaitGroup{})
		require.NoError(t, err)
		require.Equal(t, 30, app.Env.OutputFrameRate)
		require.Equal(t, filepath.Join(filepath.Dir(envPath), "storage"), app.Env.StorageDir)
		require.IsType(t, font.DirSource{}, newFontSource(app.Env))
	})
	t.Run("fontURL", func(t *testing.T) {
		env := config.ConfigEnv{FontURL: "https://example.com/fonts"}
		require.Equal(t, font.HTTPSource{BaseURL: env.FontURL}, newFontSource(env))
	})
	t.Run("missingEnv", func(t *testing.T) {
		_, err := NewApp("/nil/env.yaml", &sync.WaitGroup{})
		require.ErrorIs(t, err, os.ErrNotExist)
	})
	t.Run("invalidEnv", func(t *testing.T) {
		envPath := writeEnv(t, "outputFrameRate: -1\n")
		_, err := NewApp(envPath, &sync.WaitGroup{})
		require.ErrorIs(t, err, config.ErrInvalidValue)
	})
}

func testEnv(t *testing.T) config.ConfigEnv {
	t.Helper()
	envPath := writeEnv(t, "progressInterval: 1ms\n")
	envYAML, err := os.ReadFile(envPath)
	require.NoError(t, err)
	env, err := config.NewConfigEnv(envPath, envYAML)
	require.NoError(t, err)
	return *env
}

func testJob(t *testing.T) (worker.StartJob, *writerseeker.WriterSeeker) {
	t.Helper()

	var telemetry bytes.Buffer
	w, err := osd.NewWriter(&telemetry, osd.Header{
		Version: 2,
		Config:  osd.Config{CharWidth: 2, CharHeight: 1},
	})
	require.NoError(t, err)
	require.NoError(t, w.WriteFrame(0, []uint16{1, 2}))

	video := &writerseeker.WriterSeeker{}
	m, err := mp4muxer.New(video, mp4muxer.Config{
		Width:  64,
		Height: 48,
		SPS:    codecmock.SPS,
		PPS:    codecmock.PPS,
	})
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		header := byte(0x41)
		if i == 0 {
			header = 0x65
		}
		sample := mp4muxer.Sample{Data: []byte{0, 0, 0, 2, header, byte(i)}, Sync: i == 0}
		require.NoError(t, m.WriteSample(sample))
	}
	require.NoError(t, m.Finalize())

	sheet := image.NewRGBA(image.Rect(0, 0, font.SDTileWidth, 3*font.SDTileHeight))
	fonts, err := font.LoadPackFromImages("test", font.Sheets{SD: [2]image.Image{sheet}})
	require.NoError(t, err)

	output := &writerseeker.WriterSeeker{}
	return worker.StartJob{
		Fonts:     fonts,
		Telemetry: &telemetry,
		Video:     video,
		VideoSize: video.Size(),
		Output:    output,
	}, output
}

func TestAppRun(t *testing.T) {
	wg := &sync.WaitGroup{}
	newCodecs := func(string) codec.Factory { return &codecmock.Factory{} }
	app := newApp(testEnv(t), wg, newCodecs)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- app.Run(ctx) }()

	feed, unsubscribe := app.Subscribe()
	defer unsubscribe()

	req, output := testJob(t)
	require.NoError(t, app.Send(req))

	var types []string
	timeout := time.After(5 * time.Second)
loop:
	for {
		select {
		case msg := <-feed:
			if msg.Type == web.TypeProgressUpdate {
				continue
			}
			types = append(types, msg.Type)
			if msg.Type == web.TypeComplete || msg.Type == web.TypeError {
				require.Empty(t, msg.Error)
				break loop
			}
		case <-timeout:
			t.Fatal("timeout")
		}
	}
	require.Equal(t, []string{web.TypeProgressInit, web.TypeComplete}, types)
	require.NotZero(t, output.Size())
	require.FileExists(t, app.Env.LogDBPath())

	cancel()
	require.NoError(t, <-runErr)
	wg.Wait()
}

func TestAppRunListenErr(t *testing.T) {
	env := testEnv(t)
	env.Listen = "127.0.0.1:99999"
	app := newApp(env, &sync.WaitGroup{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.Error(t, app.Run(ctx))
}
