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

package channel

import (
	"context"
	"sync"
	"time"

	"playout/pkg/audiomix"
	"playout/pkg/consume"
	"playout/pkg/frame"
	"playout/pkg/imagemix"
	"playout/pkg/produce"
	"playout/pkg/stage"
	"playout/pkg/vformat"
)

// Snapshot is the per-tick telemetry published to the monitor sink, per
// spec.md §4.7 step 6.
type Snapshot struct {
	ChannelIndex int
	Tick         uint64
	Layers       []LayerState
	Consumers    []PortStatus
}

// LayerState is one layer's producer state for a Snapshot.
type LayerState struct {
	LayerIndex int
	Producer   produce.StateSnapshot
}

// Channel is an immutable binding of a channel index, a (runtime
// swappable) VideoFormat, a Stage, an image/audio mixer pair and an
// Output fan-out (spec.md §3). Exactly one tick is in flight at a time.
type Channel struct {
	index int

	mu     sync.RWMutex
	format vformat.Format

	stage  *stage.Stage
	image  *imagemix.Mixer
	audio  *audiomix.Mixer
	output *Output

	tick uint64

	onSnapshot func(Snapshot)

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a Channel bound to format, with an empty Stage and Output.
func New(index int, format vformat.Format) *Channel {
	return &Channel{
		index:  index,
		format: format,
		stage:  stage.New(index),
		image:  imagemix.New(format.Width, format.Height),
		audio:  audiomix.New(),
		output: NewOutput(),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Index returns the channel's 1-based index.
func (c *Channel) Index() int { return c.index }

// Stage returns the channel's Stage, for Stage operations issued by the
// control surface.
func (c *Channel) Stage() *stage.Stage { return c.stage }

// Output returns the channel's Output fan-out, for consumer attach/detach.
func (c *Channel) Output() *Output { return c.output }

// Format returns the channel's current VideoFormat.
func (c *Channel) Format() vformat.Format {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.format
}

// SetFormat swaps the channel's VideoFormat at runtime, resetting the
// image/audio mixers to the new dimensions/cadence (spec.md §3: "mutable
// at runtime with a full-state reset of the mixers").
func (c *Channel) SetFormat(format vformat.Format) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.format = format
	c.image = imagemix.New(format.Width, format.Height)
	c.audio = audiomix.New()
}

// OnSnapshot registers the callback invoked with each tick's telemetry
// snapshot (spec.md §4.7 step 6).
func (c *Channel) OnSnapshot(fn func(Snapshot)) { c.onSnapshot = fn }

// Run drives the channel's tick loop until ctx is cancelled or Stop is
// called. If an attached consumer declares HasSynchronizationClock, its
// own blocking Send call paces the loop and Run ticks back-to-back with
// no added sleep; otherwise Run falls back to its own precision timer at
// the format's frame duration (spec.md §4.7 step 1).
func (c *Channel) Run(ctx context.Context) {
	defer close(c.doneCh)

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		default:
		}

		format := c.Format()
		frameDur := time.Duration(format.FrameDuration() * float64(time.Second))
		externallyPaced := c.output.HasSynchronizationClock()

		if err := c.Tick(ctx); err != nil {
			// A Tick error means the stage queue itself is shutting down;
			// stop rather than spin.
			return
		}

		if externallyPaced {
			last = time.Now()
			continue
		}

		elapsed := time.Since(last)
		if sleep := frameDur - elapsed; sleep > 0 {
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			}
		}
		last = time.Now()
	}
}

// Stop halts the tick loop and waits for the current tick to finish.
func (c *Channel) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

// stingTargetAudioKey derives a synthetic audiomix layer-index key for a
// transition's second (target) audio contribution: audiomix.Mixer ramps
// volume per LayerIndex in a flat map, so the source and target halves of
// the same layer's transition need distinct keys or they'd overwrite each
// other's ramp state within one Mix call (spec.md §4.5).
func stingTargetAudioKey(layerIndex int) int { return layerIndex + 1<<20 }

// Tick runs one frame-assembly/mix/fan-out pass, per spec.md §4.7 steps
// 2-6.
func (c *Channel) Tick(ctx context.Context) error {
	format := c.Format()
	c.tick++

	nbSamples := format.SamplesForTick(c.tick)

	layers, err := c.stage.Tick(ctx, nbSamples)
	if err != nil {
		return err
	}

	c.mu.RLock()
	image, audio := c.image, c.audio
	c.mu.RUnlock()

	layerStates := make([]LayerState, 0, len(layers))
	var audioLayers []audiomix.LayerAudio

	for _, l := range layers {
		switch {
		case l.Sting != nil:
			if err := image.VisitSting(l.Sting.Source, l.Sting.Target, l.Sting.Mask, l.Sting.Overlay); err != nil {
				return err
			}
			audioLayers = append(audioLayers,
				audiomix.LayerAudio{
					LayerIndex: l.LayerIndex,
					Frame:      l.Sting.Source,
					Transform:  frame.AudioTransform{Volume: l.Sting.SourceVolume},
				},
				audiomix.LayerAudio{
					LayerIndex: stingTargetAudioKey(l.LayerIndex),
					Frame:      l.Sting.Target,
					Transform:  frame.AudioTransform{Volume: l.Sting.TargetVolume},
				},
			)

		case len(l.ExtraVisits) > 0:
			if err := image.Visit(frame.WithTransform(l.Frame, l.Transform)); err != nil {
				return err
			}
			audioLayers = append(audioLayers, audiomix.LayerAudio{
				LayerIndex: l.LayerIndex,
				Frame:      l.Frame,
				Transform:  l.Transform.Audio,
			})
			for i, v := range l.ExtraVisits {
				if err := image.Visit(frame.WithTransform(v.Frame, v.Transform)); err != nil {
					return err
				}
				audioLayers = append(audioLayers, audiomix.LayerAudio{
					LayerIndex: stingTargetAudioKey(l.LayerIndex) + i,
					Frame:      v.Frame,
					Transform:  v.Transform.Audio,
				})
			}

		default:
			if err := image.Visit(frame.WithTransform(l.Frame, l.Transform)); err != nil {
				return err
			}
			audioLayers = append(audioLayers, audiomix.LayerAudio{
				LayerIndex: l.LayerIndex,
				Frame:      l.Frame,
				Transform:  l.Transform.Audio,
			})
		}

		layerStates = append(layerStates, LayerState{LayerIndex: l.LayerIndex, Producer: l.ProducerState})
	}

	mixedImage := image.Render(frame.Tag{LayerIndex: -1})
	mixedAudio := audio.Mix(nbSamples, audioLayers)

	mut := &frame.Mutable{
		Desc:     mixedImage.Desc(),
		Planes:   mixedImage.Planes(),
		Audio:    mixedAudio,
		Geometry: mixedImage.Geometry(),
		Tag:      frame.Tag{LayerIndex: -1},
	}
	final := mut.Commit(frame.Identity())

	deadline := time.Duration(format.FrameDuration() * 2 * float64(time.Second))
	statuses := c.output.Push(ctx, final, deadline)

	if c.onSnapshot != nil {
		c.onSnapshot(Snapshot{ChannelIndex: c.index, Tick: c.tick, Layers: layerStates, Consumers: statuses})
	}

	return nil
}

