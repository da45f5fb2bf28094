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

// Package consume defines the push-sink consumer contract of spec.md §4.2
// and the factory registry of §6.
package consume

import (
	"errors"
	"fmt"
	"sync"

	"playout/pkg/frame"
	"playout/pkg/vformat"
)

// ErrorKind classifies a consumer failure, per spec.md §4.2/§7.
type ErrorKind uint8

// Error kinds.
const (
	NotInitialized ErrorKind = iota
	Fatal
	Transient
)

// Error is the consumer-contract error type.
type Error struct {
	Kind   ErrorKind
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("consumer error (%v): %v", e.kindString(), e.Detail)
}

func (e *Error) kindString() string {
	switch e.Kind {
	case NotInitialized:
		return "not_initialized"
	case Fatal:
		return "fatal"
	case Transient:
		return "transient"
	default:
		return "unknown"
	}
}

// StateSnapshot is a tree of key/value pairs for telemetry.
type StateSnapshot map[string]any

// ChannelsSnapshot describes the full set of channels at attach time, the
// "channels_snapshot" argument of spec.md §4.2's Initialize.
type ChannelsSnapshot []ChannelInfo

// ChannelInfo is the minimal per-channel info a consumer sees at attach.
type ChannelInfo struct {
	Index  int
	Format vformat.Format
}

// Consumer is the push interface every output sink satisfies: SDI cards,
// files, preview windows, network streams.
type Consumer interface {
	// Initialize is called once when the consumer is attached to a
	// channel; port is the consumer's stable key into the channel's
	// Output fan-out.
	Initialize(format vformat.Format, channels ChannelsSnapshot, port int) error

	// Send pushes a fully-mixed frame. The returned bool reports whether
	// the consumer wants more frames (false means it is self-removing).
	Send(f *frame.Frame) (bool, error)

	// BufferDepth declares how many frames the consumer keeps in flight;
	// the channel replays that many committed frames to a newly attached
	// consumer with depth > 0 before it joins the steady stream.
	BufferDepth() int

	// HasSynchronizationClock reports whether this consumer should drive
	// the channel's tick pacer.
	HasSynchronizationClock() bool

	// Index is a priority/ordering hint for fan-out.
	Index() int

	// Name identifies the consumer kind for logging/telemetry.
	Name() string

	// State returns a telemetry snapshot.
	State() StateSnapshot
}

// Context is what a factory receives alongside the caller-supplied
// parameter vector.
type Context struct {
	ChannelIndex int
}

// Factory builds a Consumer from a parameter vector, or reports that the
// vector isn't for it.
type Factory func(ctx Context, params []string) (Consumer, bool, error)

// Registry is a first-match-wins, registration-order factory list.
type Registry struct {
	mu        sync.Mutex
	factories []Factory
}

// NewRegistry returns an empty consumer registry.
func NewRegistry() *Registry { return &Registry{} }

// Register appends a factory to the registry.
func (r *Registry) Register(f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories = append(r.factories, f)
}

// ErrNoMatch is returned by Create when no registered factory claims the
// parameter vector.
var ErrNoMatch = errors.New("no consumer factory matched the given parameters")

// Create tries every registered factory in registration order and
// returns the first one that claims the parameter vector.
func (r *Registry) Create(ctx Context, params []string) (Consumer, error) {
	r.mu.Lock()
	factories := make([]Factory, len(r.factories))
	copy(factories, r.factories)
	r.mu.Unlock()

	for _, f := range factories {
		c, ok, err := f(ctx, params)
		if err != nil {
			return nil, err
		}
		if ok {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrNoMatch, params)
}
