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

// Package memsink is the built-in in-memory consumer: it retains the last
// N mixed frames it was sent, for tests and for a "PREVIEW" style
// in-process tap that never touches the network or disk.
package memsink

import (
	"strings"
	"sync"

	"playout/pkg/consume"
	"playout/pkg/frame"
	"playout/pkg/vformat"
)

// defaultCapacity bounds how many frames a sink retains before it starts
// releasing the oldest to make room, mirroring a ring buffer.
const defaultCapacity = 8

// Sink is a Consumer that keeps the last few frames in memory, retrievable
// via Frames for assertions or a local preview tap.
type Sink struct {
	capacity int
	index    int

	mu      sync.Mutex
	format  vformat.Format
	frames  []*frame.Frame
	sendErr error
}

// New returns a Sink retaining up to capacity frames (defaultCapacity if
// capacity <= 0).
func New(capacity int) *Sink {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Sink{capacity: capacity}
}

// Initialize records the bound format and port, per the consume.Consumer
// contract.
func (s *Sink) Initialize(format vformat.Format, _ consume.ChannelsSnapshot, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.format = format
	s.index = index
	return nil
}

// Send appends f to the retained frame list, evicting the oldest (with a
// Release) once over capacity. Send never refuses more frames.
func (s *Sink) Send(f *frame.Frame) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sendErr != nil {
		return false, s.sendErr
	}

	s.frames = append(s.frames, f.Retain())
	if len(s.frames) > s.capacity {
		oldest := s.frames[0]
		s.frames = s.frames[1:]
		oldest.Release(nil)
	}
	return true, nil
}

// BufferDepth reports zero: a fresh sink replays nothing to itself, it
// only starts collecting from the tick it attaches on.
func (s *Sink) BufferDepth() int { return 0 }

// HasSynchronizationClock reports false: memsink never drives the tick
// pacer.
func (s *Sink) HasSynchronizationClock() bool { return false }

// Index returns the fan-out port this sink was attached at.
func (s *Sink) Index() int { return s.index }

// Name identifies the consumer kind for logging/telemetry.
func (s *Sink) Name() string { return "memsink" }

// State returns a telemetry snapshot.
func (s *Sink) State() consume.StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return consume.StateSnapshot{
		"type":     "memsink",
		"retained": len(s.frames),
		"capacity": s.capacity,
	}
}

// Frames returns a snapshot of the currently retained frames, oldest
// first.
func (s *Sink) Frames() []*frame.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*frame.Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

// FailNextSends makes every future Send return err, simulating a consumer
// going fatal mid-stream for tests.
func (s *Sink) FailNextSends(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}

// Factory claims a ["MEMSINK"] parameter vector.
func Factory(_ consume.Context, params []string) (consume.Consumer, bool, error) {
	if len(params) != 1 || !strings.EqualFold(params[0], "MEMSINK") {
		return nil, false, nil
	}
	return New(defaultCapacity), true, nil
}
