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

// Package frame holds the immutable frame/buffer model: planar pixel
// data, audio samples, geometry and per-frame transform metadata.
package frame

import "sync/atomic"

// Tag identifies the producer that created a frame, for telemetry and for
// the "late/empty" sentinel checks in the producer contract.
type Tag struct {
	ProducerName string
	LayerIndex   int
}

// Texture is an opaque GPU-texture handle the image mixer attaches to a
// const Frame the first time it is drawn. The core never interprets its
// contents; it only tracks last-reference release for pooling (§5).
type Texture struct {
	Width, Height, Stride, DepthByte int
	handle                           any
}

// Empty reports whether the texture has not been realized yet.
func (t *Texture) Empty() bool { return t == nil || t.handle == nil }

// Mutable is a frame under construction by a producer: it owns its byte
// buffers and may be written to freely until Commit.
type Mutable struct {
	Desc     PixelFormatDesc
	Planes   [][]byte
	Audio    []float32 // interleaved, one sample per channel pair collapsed to mono sum for the core's purposes
	Geometry Geometry
	Tag      Tag
}

// NewMutable allocates a Mutable frame with zeroed planes sized per Desc.
func NewMutable(desc PixelFormatDesc, tag Tag) *Mutable {
	planes := make([][]byte, len(desc.Planes))
	for i, p := range desc.Planes {
		planes[i] = make([]byte, p.Size())
	}
	return &Mutable{
		Desc:     desc,
		Planes:   planes,
		Geometry: UnitQuad(),
		Tag:      tag,
	}
}

// Commit freezes a Mutable into a shared, reference-counted const Frame.
// The Mutable must not be used again afterwards.
func (m *Mutable) Commit(transform FrameTransform) *Frame {
	f := &Frame{
		desc:      m.Desc,
		planes:    m.Planes,
		audio:     m.Audio,
		geometry:  m.Geometry,
		transform: transform,
		tag:       m.Tag,
	}
	f.refs.Store(1)
	return f
}

// Frame is an immutable, reference-counted frame produced by a producer
// and consumed by the mixer and any consumer holding it. Once const, its
// bytes/texture are never mutated (§3 invariant).
type Frame struct {
	desc      PixelFormatDesc
	planes    [][]byte
	audio     []float32
	geometry  Geometry
	transform FrameTransform
	tag       Tag
	texture   *Texture

	refs atomic.Int64
}

// WithTransform returns a new const Frame sharing f's pixel/audio data
// but carrying transform instead of f's own. Stage uses this to hand the
// mixer a layer's current FrameTransform without the producer needing to
// know about layer-level compositing (§4.4: the layer, not the
// producer, owns the transform a frame is drawn with).
func WithTransform(f *Frame, transform FrameTransform) *Frame {
	out := &Frame{
		desc:      f.desc,
		planes:    f.planes,
		audio:     f.audio,
		geometry:  f.geometry,
		transform: transform,
		tag:       f.tag,
		texture:   f.texture,
	}
	out.refs.Store(1)
	return out
}

// Empty is the distinguished zero-plane frame a producer returns in place
// of blocking past the soft tick deadline (§4.1): an ordinary *Frame with
// no planes (IsEmpty reports true), which the mixer special-cases the way
// §4.3's "empty producer" edge case requires.
func Empty(tag Tag) *Frame {
	f := &Frame{tag: tag}
	f.refs.Store(1)
	return f
}

// IsEmpty reports whether the frame carries no pixel planes, the §4.3
// short-circuit for an empty producer or empty planes list.
func (f *Frame) IsEmpty() bool {
	return f == nil || len(f.planes) == 0
}

// Desc returns the frame's pixel format description.
func (f *Frame) Desc() PixelFormatDesc { return f.desc }

// Planes returns the frame's immutable plane bytes.
func (f *Frame) Planes() [][]byte { return f.planes }

// Audio returns the frame's audio samples.
func (f *Frame) Audio() []float32 { return f.audio }

// Geometry returns the frame's draw geometry.
func (f *Frame) Geometry() Geometry { return f.geometry }

// Transform returns the frame's per-frame transform metadata.
func (f *Frame) Transform() FrameTransform { return f.transform }

// Tag returns the frame's source tag.
func (f *Frame) Tag() Tag { return f.tag }

// Texture returns the frame's GPU-texture handle, or nil if it has not
// been drawn yet.
func (f *Frame) Texture() *Texture { return f.texture }

// SetTexture attaches a texture handle the first time the mixer draws
// this frame, so later visits in the same or later ticks can reuse the
// upload.
func (f *Frame) SetTexture(t *Texture) { f.texture = t }

// Retain increments the frame's reference count. Callers (consumers,
// preview buffers) that hold a const Frame beyond the tick that produced
// it must Retain and, eventually, Release.
func (f *Frame) Retain() *Frame {
	f.refs.Add(1)
	return f
}

// Release decrements the frame's reference count. When it reaches zero
// the frame's pooled resources (host buffers, GPU texture) are eligible
// for reuse via the pool's release hook.
func (f *Frame) Release(onZero func(*Frame)) {
	if f.refs.Add(-1) == 0 && onZero != nil {
		onZero(f)
	}
}
