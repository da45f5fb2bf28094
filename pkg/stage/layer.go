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

// Package stage implements the Layer (§4.4/C7) and Stage (§4.4/C8) of the
// playout core: the per-channel Z-ordered collection of producer slots
// and the single-threaded tick that assembles one frame per layer.
package stage

import (
	"context"

	"playout/pkg/frame"
	"playout/pkg/produce"
	"playout/pkg/tween"
)

// tweenJob is one in-flight apply_transforms animation for a layer.
type tweenJob struct {
	start    frame.FrameTransform
	target   frame.FrameTransform
	duration int
	elapsed  int
	tweener  tween.Tweener
	done     chan struct{}
}

// Layer is a Z-ordered slot within a Stage holding at most one active
// (foreground) producer plus an optional background producer, per
// spec.md §3/§4.4.
type Layer struct {
	index int

	foreground produce.Producer
	background produce.Producer

	transform  frame.FrameTransform
	lastFrame  *frame.Frame
	preview    *frame.Frame

	paused   bool
	autoPlay bool

	transition   produce.Producer // non-nil while Transitioning
	transitionTo produce.Producer

	animation *tweenJob
}

// newLayer returns an Empty layer at the given index.
func newLayer(index int) *Layer {
	return &Layer{
		index:      index,
		foreground: produce.Empty(),
		transform:  frame.Identity(),
		autoPlay:   true,
	}
}

// Index returns the layer's Z-order index.
func (l *Layer) Index() int { return l.index }

// Transform returns the layer's current FrameTransform.
func (l *Layer) Transform() frame.FrameTransform { return l.transform }

// Paused reports whether the layer is paused.
func (l *Layer) Paused() bool { return l.paused }

// Foreground returns the layer's active producer.
func (l *Layer) Foreground() produce.Producer { return l.foreground }

// Background returns the layer's background producer, or nil.
func (l *Layer) Background() produce.Producer { return l.background }

// load places producer as background; if preview, one frame is pulled
// immediately into the layer's preview frame for display under a paused
// foreground (§4.4).
func (l *Layer) load(ctx context.Context, producer produce.Producer, preview, autoPlay bool) error {
	l.background = producer
	l.autoPlay = autoPlay

	if preview {
		f, err := producer.Receive(ctx, 0)
		if err != nil && !produce.IsLate(err) {
			return err
		}
		if f != nil && !f.IsEmpty() {
			l.preview = f
		}
	}
	return nil
}

// play promotes background to foreground. If a transition producer is
// supplied it wraps source (the current foreground) and target
// (producer), and the layer enters Transitioning until the transition
// reports steady state (§4.4/§4.5).
func (l *Layer) play(producer produce.Producer, makeTransition func(source, target produce.Producer) produce.Producer) error {
	if producer != nil {
		l.background = producer
	}

	target := l.background
	if target == nil {
		target = produce.Empty()
	}

	if makeTransition != nil && !produce.IsEmpty(l.foreground) {
		l.transition = makeTransition(l.foreground, target)
		l.transitionTo = target
		l.background = nil
		return nil
	}

	l.foreground = target
	l.background = nil
	l.transition = nil
	l.transitionTo = nil
	return nil
}

// pause toggles the layer's paused flag on.
func (l *Layer) pause() { l.paused = true }

// resume toggles the layer's paused flag off.
func (l *Layer) resume() { l.paused = false }

// stop replaces the foreground with the empty producer; background is
// unchanged. Per the Open Question resolution in spec.md §9, stop also
// cancels any in-flight transition.
func (l *Layer) stop() {
	l.foreground = produce.Empty()
	l.transition = nil
	l.transitionTo = nil
	l.cancelAnimation()
}

// clear resets the layer to Empty and drops its background.
func (l *Layer) clear() {
	l.foreground = produce.Empty()
	l.background = nil
	l.transition = nil
	l.transitionTo = nil
	l.preview = nil
	l.paused = false
	l.cancelAnimation()
}

func (l *Layer) cancelAnimation() {
	if l.animation != nil {
		close(l.animation.done)
		l.animation = nil
	}
}

// startAnimation queues a tween job, cancelling any animation already
// running on this layer (spec.md §4.4: "Calling apply_transforms on a
// Layer already animating cancels the prior animation for that layer").
func (l *Layer) startAnimation(target frame.FrameTransform, duration int, tw tween.Tweener) <-chan struct{} {
	l.cancelAnimation()

	done := make(chan struct{})
	if duration <= 0 {
		close(done)
		return done
	}

	l.animation = &tweenJob{
		start:    l.transform,
		target:   target,
		duration: duration,
		tweener:  tw,
		done:     done,
	}
	return done
}

// advanceAnimation consumes one tick's worth of the layer's pending
// animation, updating its transform. Called once per tick from the
// Stage, before layers are asked for frames (§4.4 step 1).
func (l *Layer) advanceAnimation() {
	if l.animation == nil {
		return
	}

	l.animation.elapsed++
	progress := l.animation.elapsed
	l.transform = tweenTransform(l.animation.start, l.animation.target, l.animation.tweener, progress, l.animation.duration)

	if l.animation.elapsed >= l.animation.duration {
		close(l.animation.done)
		l.animation = nil
	}
}

// tweenTransform interpolates a FrameTransform's opacity, contrast,
// brightness, saturation, angle, anchor, fill and clip translation/scale
// and audio volume via the named tweener, evaluated at t=progress over
// [0,duration]. Every other field (levels, crop, perspective, chroma key
// and the discrete flags) takes the target's value from the first tick.
func tweenTransform(start, target frame.FrameTransform, tw tween.Tweener, progress, duration int) frame.FrameTransform {
	d := float64(duration)
	t := float64(progress)

	lerp := func(a, b float64) float64 {
		return tw.Ease(t, a, b-a, d)
	}

	out := target

	out.Image.Opacity = lerp(start.Image.Opacity, target.Image.Opacity)
	out.Image.Contrast = lerp(start.Image.Contrast, target.Image.Contrast)
	out.Image.Brightness = lerp(start.Image.Brightness, target.Image.Brightness)
	out.Image.Saturation = lerp(start.Image.Saturation, target.Image.Saturation)
	out.Image.Angle = lerp(start.Image.Angle, target.Image.Angle)

	out.Image.Anchor = [2]float64{
		lerp(start.Image.Anchor[0], target.Image.Anchor[0]),
		lerp(start.Image.Anchor[1], target.Image.Anchor[1]),
	}
	out.Image.FillTranslation = [2]float64{
		lerp(start.Image.FillTranslation[0], target.Image.FillTranslation[0]),
		lerp(start.Image.FillTranslation[1], target.Image.FillTranslation[1]),
	}
	out.Image.FillScale = [2]float64{
		lerp(start.Image.FillScale[0], target.Image.FillScale[0]),
		lerp(start.Image.FillScale[1], target.Image.FillScale[1]),
	}
	out.Image.ClipTranslation = [2]float64{
		lerp(start.Image.ClipTranslation[0], target.Image.ClipTranslation[0]),
		lerp(start.Image.ClipTranslation[1], target.Image.ClipTranslation[1]),
	}
	out.Image.ClipScale = [2]float64{
		lerp(start.Image.ClipScale[0], target.Image.ClipScale[0]),
		lerp(start.Image.ClipScale[1], target.Image.ClipScale[1]),
	}

	out.Audio.Volume = lerp(start.Audio.Volume, target.Audio.Volume)

	// Fields not set above follow the target immediately (spec.md §3's
	// combine() rule: "discrete flags replaced by the child's"
	// generalizes here to "by the target's").
	return out
}
