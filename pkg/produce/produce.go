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

// Package produce defines the pull-source producer contract of spec.md
// §4.1 and the factory registry of §6.
package produce

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"playout/pkg/frame"
)

// ErrorKind classifies a producer failure, per spec.md §4.1/§7.
type ErrorKind uint8

// Error kinds.
const (
	Late ErrorKind = iota
	Broken
	NotImplemented
	InvalidArgument
)

// Error is the producer-contract error type. A Late error is always
// recovered locally by the caller as an empty frame; it is never
// surfaced to the control plane as a fault.
type Error struct {
	Kind   ErrorKind
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("producer error (%v): %v", e.kindString(), e.Detail)
}

func (e *Error) kindString() string {
	switch e.Kind {
	case Late:
		return "late"
	case Broken:
		return "broken"
	case NotImplemented:
		return "not_implemented"
	case InvalidArgument:
		return "invalid_argument"
	default:
		return "unknown"
	}
}

// IsLate reports whether err is a producer Error of kind Late.
func IsLate(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == Late
}

// StateSnapshot is a tree of key/value pairs for telemetry, per spec.md
// §4.1.
type StateSnapshot map[string]any

// Producer is the pull interface every media source satisfies: clips,
// stills, HTML pages, color fields, routed feeds, and transitions.
//
// Receive MUST be called at most once per channel tick and MUST NOT block
// past the channel's soft deadline; a producer that cannot keep up
// returns an empty frame (or a Late *Error) rather than stalling the
// tick.
type Producer interface {
	// Receive pulls the next frame, requesting nbSamples audio samples as
	// dictated by the channel format's cadence for this tick.
	Receive(ctx context.Context, nbSamples int) (*frame.Frame, error)

	// LastFrame returns the most recently produced frame, used by Layer
	// when paused or when Receive returned an empty frame.
	LastFrame() *frame.Frame

	// IsReady hints that the next Receive will not be late.
	IsReady() bool

	// NbFrames returns the total frame count, or NbFramesUnknown if the
	// producer has no finite length.
	NbFrames() uint64

	// FrameNumber is a monotonic count of frames produced.
	FrameNumber() uint64

	// LeadingProducer returns the transition's target producer once a
	// transition has reached steady state, so Stage can replace itself
	// with it. Non-transition producers always return (nil, false).
	LeadingProducer(layerIndex int) (Producer, bool)

	// Call runs a producer-specific RPC (seek, length, play, cg update).
	Call(ctx context.Context, params []string) (string, error)

	// State returns a telemetry snapshot.
	State() StateSnapshot

	// Name identifies the producer kind for logging/telemetry.
	Name() string
}

// NbFramesUnknown is returned by NbFrames for producers with no finite
// length (spec.md §4.1: "else u64::MAX").
const NbFramesUnknown = ^uint64(0)

// emptyProducer is the distinguished instance every Layer's foreground
// defaults to: it always produces transparent/silent frames and is never
// nil, so Layer never has to special-case a nil producer.
type emptyProducer struct{}

// Empty returns the distinguished empty producer singleton.
func Empty() Producer { return empty }

var empty Producer = &emptyProducer{}

func (*emptyProducer) Receive(context.Context, int) (*frame.Frame, error) {
	return frame.Empty(frame.Tag{ProducerName: "empty"}), nil
}
func (*emptyProducer) LastFrame() *frame.Frame { return frame.Empty(frame.Tag{ProducerName: "empty"}) }
func (*emptyProducer) IsReady() bool           { return true }
func (*emptyProducer) NbFrames() uint64        { return NbFramesUnknown }
func (*emptyProducer) FrameNumber() uint64     { return 0 }
func (*emptyProducer) LeadingProducer(int) (Producer, bool) { return nil, false }
func (*emptyProducer) Call(context.Context, []string) (string, error) {
	return "", &Error{Kind: NotImplemented, Detail: "empty producer has no RPCs"}
}
func (*emptyProducer) State() StateSnapshot { return StateSnapshot{"type": "empty"} }
func (*emptyProducer) Name() string         { return "empty" }

// IsEmpty reports whether p is the distinguished empty producer.
func IsEmpty(p Producer) bool {
	_, ok := p.(*emptyProducer)
	return ok
}

// Context is what a factory receives alongside the caller-supplied
// parameter vector: everything a producer needs to know about the
// channel it will run inside.
type Context struct {
	ChannelIndex int
	FormatID     string
	Width        int
	Height       int
}

// Factory builds a Producer from a parameter vector, or reports that the
// vector isn't for it ("not mine" per spec.md §6).
type Factory func(ctx Context, params []string) (Producer, bool, error)

// Registry is a first-match-wins, registration-order factory list.
type Registry struct {
	mu        sync.Mutex
	factories []Factory
}

// NewRegistry returns an empty producer registry.
func NewRegistry() *Registry { return &Registry{} }

// Register appends a factory to the registry.
func (r *Registry) Register(f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories = append(r.factories, f)
}

// ErrNoMatch is returned by Create when no registered factory claims the
// parameter vector.
var ErrNoMatch = errors.New("no producer factory matched the given parameters")

// Create tries every registered factory in registration order and
// returns the first one that claims the parameter vector.
func (r *Registry) Create(ctx Context, params []string) (Producer, error) {
	r.mu.Lock()
	factories := make([]Factory, len(r.factories))
	copy(factories, r.factories)
	r.mu.Unlock()

	for _, f := range factories {
		p, ok, err := f(ctx, params)
		if err != nil {
			return nil, err
		}
		if ok {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrNoMatch, params)
}
