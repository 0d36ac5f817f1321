package system

import (
	"context"
	"errors"
	"testing"
	"time"

	"osdrender/pkg/log"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/stretchr/testify/require"
)

var errMock = errors.New("mock")

func newTestSystem() *System {
	return &System{
		cpu: func(context.Context, time.Duration, bool) ([]float64, error) {
			return []float64{11.5}, nil
		},
		ram: func() (*mem.VirtualMemoryStat, error) {
			return &mem.VirtualMemoryStat{UsedPercent: 22.2}, nil
		},
		disk: func(path string) (*disk.UsageStat, error) {
			return &disk.UsageStat{Path: path, UsedPercent: 33.9}, nil
		},
		duration: time.Millisecond,
		diskPath: "/storage",
		logger:   log.NewMockLogger(),
	}
}

func TestUpdate(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		s := newTestSystem()
		require.NoError(t, s.update(context.Background()))
		require.Equal(t, Status{CPUUsage: 11, RAMUsage: 22, DiskUsage: 33}, s.Status())
	})
	t.Run("diskPath", func(t *testing.T) {
		s := newTestSystem()
		var path string
		s.disk = func(p string) (*disk.UsageStat, error) {
			path = p
			return &disk.UsageStat{}, nil
		}
		require.NoError(t, s.update(context.Background()))
		require.Equal(t, "/storage", path)
	})
	t.Run("cpuErr", func(t *testing.T) {
		s := newTestSystem()
		s.cpu = func(context.Context, time.Duration, bool) ([]float64, error) {
			return nil, errMock
		}
		require.ErrorIs(t, s.update(context.Background()), errMock)
	})
	t.Run("cpuEmpty", func(t *testing.T) {
		s := newTestSystem()
		s.cpu = func(context.Context, time.Duration, bool) ([]float64, error) {
			return nil, nil
		}
		require.Error(t, s.update(context.Background()))
	})
	t.Run("ramErr", func(t *testing.T) {
		s := newTestSystem()
		s.ram = func() (*mem.VirtualMemoryStat, error) { return nil, errMock }
		require.ErrorIs(t, s.update(context.Background()), errMock)
	})
	t.Run("diskErr", func(t *testing.T) {
		s := newTestSystem()
		s.disk = func(string) (*disk.UsageStat, error) { return nil, errMock }
		require.ErrorIs(t, s.update(context.Background()), errMock)
		require.Equal(t, Status{}, s.Status())
	})
}

func TestStatusLoop(t *testing.T) {
	s := newTestSystem()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.StatusLoop(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return s.Status().CPUUsage == 11
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("status loop did not stop")
	}
}
