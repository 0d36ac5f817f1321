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

package system

import (
	"context"
	"fmt"
	"sync"
	"time"

	"osdrender/pkg/log"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// DefaultSampleDuration cpu sample window.
const DefaultSampleDuration = 2 * time.Second

// Status stores system status.
type Status struct {
	CPUUsage  int `json:"cpuUsage"`
	RAMUsage  int `json:"ramUsage"`
	DiskUsage int `json:"diskUsage"`
}

type cpuFunc func(context.Context, time.Duration, bool) ([]float64, error)
type ramFunc func() (*mem.VirtualMemoryStat, error)
type diskFunc func(string) (*disk.UsageStat, error)

// System samples host usage in the background.
type System struct {
	cpu  cpuFunc
	ram  ramFunc
	disk diskFunc

	status   Status
	duration time.Duration
	diskPath string

	logger *log.Logger
	mu     sync.Mutex
	o      sync.Once
}

// New returns new System. Disk usage is
// sampled for the filesystem of diskPath.
func New(diskPath string, logger *log.Logger) *System {
	return &System{
		cpu:  cpu.PercentWithContext,
		ram:  mem.VirtualMemory,
		disk: disk.Usage,

		duration: DefaultSampleDuration,
		diskPath: diskPath,

		logger: logger,
	}
}

func (s *System) update(ctx context.Context) error {
	cpuUsage, err := s.cpu(ctx, s.duration, false)
	if err != nil {
		return fmt.Errorf("could not get cpu usage: %w", err)
	}
	if len(cpuUsage) == 0 {
		return fmt.Errorf("could not get cpu usage: no samples")
	}
	ramUsage, err := s.ram()
	if err != nil {
		return fmt.Errorf("could not get ram usage: %w", err)
	}
	diskUsage, err := s.disk(s.diskPath)
	if err != nil {
		return fmt.Errorf("could not get disk usage: %w", err)
	}

	s.mu.Lock()
	s.status = Status{
		CPUUsage:  int(cpuUsage[0]),
		RAMUsage:  int(ramUsage.UsedPercent),
		DiskUsage: int(diskUsage.UsedPercent),
	}
	s.mu.Unlock()

	return nil
}

// StatusLoop updates system status until context is canceled.
func (s *System) StatusLoop(ctx context.Context) {
	s.o.Do(func() {
		for {
			if ctx.Err() != nil {
				return
			}
			if err := s.update(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error().Src("app").Msgf("could not update system status: %v", err)
				select {
				case <-ctx.Done():
				case <-time.After(s.duration):
				}
			}
		}
	})
}

// Status returns cpu, ram and disk usage.
func (s *System) Status() Status {
	defer s.mu.Unlock()
	s.mu.Lock()
	return s.status
}
