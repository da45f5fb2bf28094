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

// Package vformat holds the canonical table of video formats a channel can
// be bound to: resolution, field mode, time base and audio cadence.
package vformat

import (
	"errors"
	"fmt"
	"sync"
)

// FieldMode describes how a frame's lines are interlaced.
type FieldMode uint8

// Field modes.
const (
	Progressive FieldMode = iota
	UpperField
	LowerField
)

// audioSampleRate is fixed for every format in the registry.
const audioSampleRate = 48000

// Format is an immutable video format record.
//
// FrameRate is TimeScale/Duration, e.g. 25/1 for 1080i50 (50 fields a
// second), 30000/1001 for 1080p2997.
type Format struct {
	ID     string
	Width  int
	Height int

	// SquareWidth/SquareHeight give the pixel aspect ratio: a frame's
	// pixels are square iff SquareWidth/Width == SquareHeight/Height.
	SquareWidth  int
	SquareHeight int

	Field FieldMode

	TimeScale int
	Duration  int

	// Cadence is the periodic sequence of per-frame audio sample counts.
	// One period holds exactly the samples of len(Cadence) frames at
	// AudioSampleRate(), e.g. 1920 for one 25 fps frame.
	Cadence []int
}

// AudioSampleRate returns the fixed audio sample rate of every format.
func (Format) AudioSampleRate() int { return audioSampleRate }

// FrameDuration returns the duration of one frame in seconds.
func (f Format) FrameDuration() float64 {
	return float64(f.Duration) / float64(f.TimeScale)
}

// CadenceSum returns the sum of one cadence period: the number of audio
// samples in len(Cadence) frames.
func (f Format) CadenceSum() int {
	sum := 0
	for _, n := range f.Cadence {
		sum += n
	}
	return sum
}

// SamplesForTick returns the sample count to request for the given tick
// number, cycling through Cadence.
func (f Format) SamplesForTick(tick uint64) int {
	if len(f.Cadence) == 0 {
		return 0
	}
	return f.Cadence[int(tick)%len(f.Cadence)]
}

// Validate checks the invariants of §3: positive dimensions and time base,
// and a non-empty cadence whose period sums to the samples that
// len(Cadence) frames last at the sample rate.
func (f Format) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: non-positive dimensions", ErrInvalidFormat)
	}
	if f.TimeScale <= 0 || f.Duration <= 0 {
		return fmt.Errorf("%w: non-positive time base", ErrInvalidFormat)
	}
	if len(f.Cadence) == 0 {
		return fmt.Errorf("%w: empty cadence", ErrInvalidFormat)
	}
	// CadenceSum/AudioSampleRate must equal len(Cadence)*Duration/TimeScale.
	if f.CadenceSum()*f.TimeScale != f.AudioSampleRate()*f.Duration*len(f.Cadence) {
		return fmt.Errorf("%w: cadence sums to %v over %v frames, want %v",
			ErrInvalidFormat, f.CadenceSum(), len(f.Cadence),
			float64(f.AudioSampleRate()*f.Duration*len(f.Cadence))/float64(f.TimeScale))
	}
	return nil
}

// ErrInvalidFormat is returned by Validate and Register for malformed formats.
var ErrInvalidFormat = errors.New("invalid video format")

// ErrNotExist is returned when a format id is unknown.
var ErrNotExist = errors.New("video format does not exist")

// ErrExist is returned by Register when the id is already registered.
var ErrExist = errors.New("video format already registered")

// Registry is the canonical, mutex-guarded table of known formats.
type Registry struct {
	mu      sync.Mutex
	formats map[string]Format
}

// NewRegistry returns a Registry pre-populated with the stock broadcast
// formats named in spec.md §6: their audio cadences are bit-exact and
// must not be altered by callers.
func NewRegistry() *Registry {
	r := &Registry{formats: make(map[string]Format)}
	for _, f := range stockFormats() {
		r.formats[f.ID] = f
	}
	return r
}

// Register adds a new format. Fails with ErrExist if the id is taken or
// ErrInvalidFormat if the format does not validate.
func (r *Registry) Register(f Format) error {
	if err := f.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.formats[f.ID]; exists {
		return fmt.Errorf("%w: %v", ErrExist, f.ID)
	}
	r.formats[f.ID] = f
	return nil
}

// Get looks up a format by id.
func (r *Registry) Get(id string) (Format, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, exists := r.formats[id]
	if !exists {
		return Format{}, fmt.Errorf("%w: %v", ErrNotExist, id)
	}
	return f, nil
}

// List returns every registered format id.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.formats))
	for id := range r.formats {
		ids = append(ids, id)
	}
	return ids
}

// stockFormats returns the named formats of spec.md §6, with bit-exact
// cadences reproduced from the reference implementation.
func stockFormats() []Format {
	return []Format{
		{
			ID: "pal", Width: 720, Height: 576,
			SquareWidth: 1082, SquareHeight: 1080,
			Field: LowerField, TimeScale: 25, Duration: 1,
			Cadence: []int{1920},
		},
		{
			ID: "ntsc", Width: 720, Height: 486,
			SquareWidth: 10, SquareHeight: 11,
			Field: LowerField, TimeScale: 30000, Duration: 1001,
			Cadence: []int{1601, 1602, 1601, 1602, 1602},
		},
		{
			ID: "1080i50", Width: 1920, Height: 1080,
			SquareWidth: 1, SquareHeight: 1,
			Field: UpperField, TimeScale: 25, Duration: 1,
			Cadence: []int{1920},
		},
		{
			ID: "1080i5994", Width: 1920, Height: 1080,
			SquareWidth: 1, SquareHeight: 1,
			Field: UpperField, TimeScale: 30000, Duration: 1001,
			Cadence: []int{1601, 1602, 1601, 1602, 1602},
		},
		{
			ID: "720p50", Width: 1280, Height: 720,
			SquareWidth: 1, SquareHeight: 1,
			Field: Progressive, TimeScale: 50, Duration: 1,
			Cadence: []int{960},
		},
		{
			ID: "1080p25", Width: 1920, Height: 1080,
			SquareWidth: 1, SquareHeight: 1,
			Field: Progressive, TimeScale: 25, Duration: 1,
			Cadence: []int{1920},
		},
		{
			ID: "1080p50", Width: 1920, Height: 1080,
			SquareWidth: 1, SquareHeight: 1,
			Field: Progressive, TimeScale: 50, Duration: 1,
			Cadence: []int{960},
		},
		{
			ID: "1080p2997", Width: 1920, Height: 1080,
			SquareWidth: 1, SquareHeight: 1,
			Field: Progressive, TimeScale: 30000, Duration: 1001,
			Cadence: []int{1601, 1602, 1601, 1602, 1602},
		},
		{
			ID: "1080p5994", Width: 1920, Height: 1080,
			SquareWidth: 1, SquareHeight: 1,
			Field: Progressive, TimeScale: 60000, Duration: 1001,
			Cadence: []int{800, 801, 801, 801, 801},
		},
	}
}
