// Copyright 2020-2021 The Playout Authors.
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

// Package monitor is the per-channel telemetry publisher of spec.md §4.7
// step 6/§6: it fans channel.Snapshot values out to websocket subscribers,
// folds in host CPU/RAM usage, and keeps a bounded tick history a late
// subscriber can replay.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"playout/pkg/log"
)

// HostUsage is a point-in-time host resource sample.
type HostUsage struct {
	CPUPercent int `json:"cpuPercent"`
	RAMPercent int `json:"ramPercent"`
}

type (
	cpuFunc func(context.Context, time.Duration, bool) ([]float64, error)
	ramFunc func() (*mem.VirtualMemoryStat, error)
)

// HostSampler samples host CPU/RAM usage on an interval, the generalized
// form of the teacher's pkg/system.System (disk usage is dropped: playout
// has no recording-volume concept to watch).
type HostSampler struct {
	cpu cpuFunc
	ram ramFunc

	interval time.Duration

	mu     sync.Mutex
	status HostUsage

	log *log.Logger
	o   sync.Once
}

// NewHostSampler returns a HostSampler sampling every interval.
func NewHostSampler(interval time.Duration, logger *log.Logger) *HostSampler {
	return &HostSampler{
		cpu:      cpu.PercentWithContext,
		ram:      mem.VirtualMemory,
		interval: interval,
		log:      logger,
	}
}

func (s *HostSampler) update(ctx context.Context) error {
	cpuUsage, err := s.cpu(ctx, s.interval, false)
	if err != nil {
		return fmt.Errorf("could not get cpu usage: %w", err)
	}
	ramUsage, err := s.ram()
	if err != nil {
		return fmt.Errorf("could not get ram usage: %w", err)
	}

	s.mu.Lock()
	s.status = HostUsage{
		CPUPercent: int(cpuUsage[0]),
		RAMPercent: int(ramUsage.UsedPercent),
	}
	s.mu.Unlock()

	return nil
}

// Run samples host usage on s.interval until ctx is cancelled. Safe to
// call at most once per HostSampler.
func (s *HostSampler) Run(ctx context.Context) {
	s.o.Do(func() {
		for {
			if ctx.Err() != nil {
				return
			}
			if err := s.update(ctx); err != nil && s.log != nil {
				s.log.Error().Src("monitor").Msgf("could not update host usage: %v", err)
			}
		}
	})
}

// Usage returns the most recently sampled host usage.
func (s *HostSampler) Usage() HostUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}
