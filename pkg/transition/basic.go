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

// Package transition implements the two transition-producer
// specializations of spec.md §4.5: basic (cut/mix/push/slide/wipe) and
// sting (mask-driven). Both wrap a source producer captured from the
// Layer's foreground at the moment of play-with-transition and a target
// producer, and satisfy produce.Producer themselves so Stage can drive
// them exactly like any other producer.
package transition

import (
	"context"
	"fmt"

	"playout/pkg/frame"
	"playout/pkg/produce"
	"playout/pkg/tween"
)

// Direction is the basic transition's push/slide/wipe direction.
type Direction uint8

// Directions.
const (
	FromLeft Direction = iota
	FromRight
)

// Kind names a basic transition's visual style.
type Kind uint8

// Kinds.
const (
	Cut Kind = iota
	Mix
	Push
	Slide
	Wipe
)

// BasicParams configures a basic transition, per spec.md §4.5.
type BasicParams struct {
	DurationFrames int
	Direction      Direction
	Kind           Kind
	TweenerName    string
}

// Basic is a produce.Producer that crossfades/wipes/pushes from source to
// target over DurationFrames ticks, then hands leadership to target.
type Basic struct {
	source, target produce.Producer
	params         BasicParams
	tw             tween.Tweener

	progressTicks int
	frameNum      uint64

	lastSource, lastTarget *frame.Frame
}

// NewBasic wraps source and target in a basic transition. It fails only
// if the named tweener is unknown.
func NewBasic(source, target produce.Producer, params BasicParams) (*Basic, error) {
	name := params.TweenerName
	if name == "" {
		name = "linear"
	}
	tw, err := tween.New(name)
	if err != nil {
		return nil, err
	}
	if params.DurationFrames <= 0 {
		params.DurationFrames = 1
	}
	return &Basic{source: source, target: target, params: params, tw: tw}, nil
}

// Progress returns the transition's completion fraction in [0,1].
func (b *Basic) Progress() float64 {
	p := float64(b.progressTicks) / float64(b.params.DurationFrames)
	if p > 1 {
		return 1
	}
	return p
}

// Receive pulls one frame from each of source and target and packages
// both plus the transition's own computed geometry into a TwoLayerFrame
// so the image mixer can Visit each with its own transform (spec.md
// §4.5: "the mixer's visit is called twice"). The outer *frame.Frame
// interface is satisfied by returning the target frame (so a caller that
// only wants a single frame, e.g. a preview, gets a sensible one);
// callers that need both layers use TwoLayerFrames instead of Receive.
func (b *Basic) Receive(ctx context.Context, nbSamples int) (*frame.Frame, error) {
	b.frameNum++
	if b.progressTicks < b.params.DurationFrames {
		b.progressTicks++
	}

	sf, err := b.source.Receive(ctx, nbSamples)
	if err != nil && !produce.IsLate(err) {
		return nil, err
	}
	tf, err := b.target.Receive(ctx, nbSamples)
	if err != nil && !produce.IsLate(err) {
		return nil, err
	}
	b.lastSource, b.lastTarget = sf, tf
	if tf != nil && !tf.IsEmpty() {
		return tf, nil
	}
	return sf, nil
}

// TwoLayerFrames returns the (source, target) frame pair from the most
// recent Receive, along with each side's transform: source fades from
// full opacity to 0 (or slides/wipes out per Kind/Direction) while target
// does the inverse, per the eased progress.
func (b *Basic) TwoLayerFrames() (sourceFrame, targetFrame *frame.Frame, sourceT, targetT frame.ImageTransform) {
	p := b.tw.Ease(float64(b.progressTicks), 0, 1, float64(b.params.DurationFrames))
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}

	sourceT = frame.IdentityImageTransform()
	targetT = frame.IdentityImageTransform()

	switch b.params.Kind {
	case Cut:
		if p < 1 {
			sourceT.Opacity = 1
			targetT.Opacity = 0
		} else {
			sourceT.Opacity = 0
			targetT.Opacity = 1
		}
	case Mix:
		sourceT.Opacity = 1 - p
		targetT.Opacity = p
	case Push, Slide, Wipe:
		offset := p
		if b.params.Direction == FromRight {
			offset = -p
		}
		switch b.params.Kind {
		case Push, Slide:
			sourceT.FillTranslation = [2]float64{-offset, 0}
			targetT.FillTranslation = [2]float64{offset - sign(offset), 0}
		case Wipe:
			targetT.Crop = frame.Rect{UL: [2]float64{0, 0}, LR: [2]float64{p, 1}}
			if b.params.Direction == FromRight {
				targetT.Crop = frame.Rect{UL: [2]float64{1 - p, 0}, LR: [2]float64{1, 1}}
			}
		}
	}

	return b.lastSource, b.lastTarget, sourceT, targetT
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

func (b *Basic) LastFrame() *frame.Frame {
	if b.lastTarget != nil && !b.lastTarget.IsEmpty() {
		return b.lastTarget
	}
	return b.lastSource
}

func (b *Basic) IsReady() bool { return b.source.IsReady() && b.target.IsReady() }

func (b *Basic) NbFrames() uint64 { return b.target.NbFrames() }

func (b *Basic) FrameNumber() uint64 { return b.frameNum }

// LeadingProducer returns target once the transition has fully progressed
// (spec.md §4.5: "when progress >= 1, leading_producer returns target").
func (b *Basic) LeadingProducer(layerIndex int) (produce.Producer, bool) {
	if b.progressTicks >= b.params.DurationFrames {
		return b.target, true
	}
	return nil, false
}

func (b *Basic) Call(ctx context.Context, params []string) (string, error) {
	return b.target.Call(ctx, params)
}

func (b *Basic) State() produce.StateSnapshot {
	return produce.StateSnapshot{
		"type":     "basic_transition",
		"progress": b.Progress(),
		"kind":     fmt.Sprint(b.params.Kind),
	}
}

func (b *Basic) Name() string { return "transition:basic" }
