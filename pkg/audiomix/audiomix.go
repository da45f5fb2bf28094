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

// Package audiomix implements the sample-accurate per-layer audio mixer
// of spec.md §4 "Audio Mixer": it sums every layer's samples, weighted by
// its FrameTransform's volume and ramped smoothly across a tick when
// volume changed since the previous tick (avoiding a discontinuity
// click), then clips to [-1,1].
package audiomix

import "playout/pkg/frame"

// Mixer accumulates one channel tick's worth of audio from however many
// layer frames Stage handed it. It is not safe for concurrent use.
type Mixer struct {
	lastVolume map[int]float64 // layer index -> volume applied last tick, for ramping
}

// New returns an audio Mixer.
func New() *Mixer {
	return &Mixer{lastVolume: make(map[int]float64)}
}

// Mix sums nbSamples of audio across every (layerIndex, frame, transform)
// triple, applying each layer's volume (ramped linearly across the tick
// from the volume it had last tick, so a volume change never clicks) and
// clipping the sum to the valid float32 sample range.
func (m *Mixer) Mix(nbSamples int, layers []LayerAudio) []float32 {
	out := make([]float32, nbSamples)

	for _, l := range layers {
		samples := l.Frame.Audio()
		volume := l.Transform.Volume

		prev, ok := m.lastVolume[l.LayerIndex]
		if !ok {
			prev = volume
		}
		m.lastVolume[l.LayerIndex] = volume

		n := len(samples)
		if n > nbSamples {
			n = nbSamples
		}
		for i := 0; i < n; i++ {
			t := 0.0
			if nbSamples > 1 {
				t = float64(i) / float64(nbSamples-1)
			}
			gain := prev + (volume-prev)*t
			out[i] += float32(float64(samples[i]) * gain)
		}
	}

	for i, v := range out {
		if v > 1 {
			out[i] = 1
		} else if v < -1 {
			out[i] = -1
		}
	}
	return out
}

// Forget drops a layer's ramp state, so a producer swapped into that
// layer index starts its volume ramp fresh instead of continuing the
// departed producer's (spec.md §4.4 swap_layer/clear).
func (m *Mixer) Forget(layerIndex int) {
	delete(m.lastVolume, layerIndex)
}

// LayerAudio is one layer's contribution to an audio mix tick.
type LayerAudio struct {
	LayerIndex int
	Frame      *frame.Frame
	Transform  frame.AudioTransform
}
