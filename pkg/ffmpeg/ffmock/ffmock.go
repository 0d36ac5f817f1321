package ffmock

import (
	"context"
	"errors"
	"os/exec"
	"time"

	"osdrender/pkg/ffmpeg"
)

// ErrMock returned by processes configured with ReturnErr.
var ErrMock = errors.New("mock")

// MockProcessConfig ProcessMocker config.
type MockProcessConfig struct {
	ReturnErr bool
	Sleep     time.Duration

	// Run emulates the process, it may read cmd.Stdin and write cmd.Stdout.
	Run func(ctx context.Context, cmd *exec.Cmd) error
}

// NewProcessMocker creates process mocker from config.
func NewProcessMocker(c MockProcessConfig) ffmpeg.NewProcessFunc {
	return func(cmd *exec.Cmd) ffmpeg.Process {
		return mockProcess{
			c:   c,
			cmd: cmd,
		}
	}
}

type mockProcess struct {
	c   MockProcessConfig
	cmd *exec.Cmd
}

func (m mockProcess) Start(ctx context.Context) error {
	if m.c.Sleep != 0 {
		select {
		case <-time.After(m.c.Sleep):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.c.Run != nil {
		if err := m.c.Run(ctx, m.cmd); err != nil {
			return err
		}
	}
	if m.c.ReturnErr {
		return ErrMock
	}
	return nil
}

func (m mockProcess) Timeout(time.Duration) ffmpeg.Process       { return m }
func (m mockProcess) StdoutLogger(ffmpeg.LogFunc) ffmpeg.Process { return m }
func (m mockProcess) StderrLogger(ffmpeg.LogFunc) ffmpeg.Process { return m }

// NewProcess returns Sleeps for 15ms before returning.
var NewProcess = NewProcessMocker(MockProcessConfig{
	ReturnErr: false,
	Sleep:     15 * time.Millisecond,
})

// NewProcessNil returns nil
var NewProcessNil = NewProcessMocker(MockProcessConfig{
	ReturnErr: false,
})

// NewProcessErr returns error.
var NewProcessErr = NewProcessMocker(MockProcessConfig{
	ReturnErr: true,
})
