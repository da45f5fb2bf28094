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

package stage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"playout/pkg/frame"
	"playout/pkg/produce"
	"playout/pkg/tween"
)

// TransitionFactory builds the producer that stands in for a layer while
// source hands off to target, per spec.md §4.5. Stage is agnostic to how
// the transition itself works; it only needs LeadingProducer to learn
// when the handoff is done.
type TransitionFactory func(source, target produce.Producer) produce.Producer

// LayerFrame is one layer's contribution to a tick: the frame it produced
// plus the transform the mixer should apply when compositing it.
type LayerFrame struct {
	LayerIndex    int
	Frame         *frame.Frame
	Transform     frame.FrameTransform
	ProducerState produce.StateSnapshot

	// ExtraVisits holds the additional (frame, transform) pairs Channel
	// must Visit for this layer in the same tick, on top of Frame/
	// Transform, while a Basic transition is running: the mixer's visit
	// is called once per side instead of once for the layer (spec.md
	// §4.5). Empty outside a Basic transition.
	ExtraVisits []LayerVisit

	// Sting is set instead of ExtraVisits while a mask-driven Sting
	// transition is running, since that composite isn't two independent
	// opacity visits but a single per-pixel mask blend (spec.md §4.5).
	Sting *StingVisit
}

// LayerVisit pairs a frame with the FrameTransform the mixer should Visit
// it with.
type LayerVisit struct {
	Frame     *frame.Frame
	Transform frame.FrameTransform
}

// StingVisit carries everything Channel needs to drive imagemix's masked-
// composite path for a Sting transition in progress: source and target
// keyed by Mask's luminance, Overlay composited on top, and the audio
// volumes each side crossfades to/from (spec.md §4.5).
type StingVisit struct {
	Source, Target, Mask, Overlay *frame.Frame
	SourceVolume, TargetVolume    float64
}

// transitionVisit is satisfied by a Basic transition producer: it wants
// two independent opacity/geometry visits per tick instead of Receive's
// single return (spec.md §4.5: "the mixer's visit is called twice").
type transitionVisit interface {
	TwoLayerFrames() (source, target *frame.Frame, sourceT, targetT frame.ImageTransform)
}

// stingVisit is satisfied by a Sting transition producer: it wants the
// mixer's masked-composite path instead of two independent opacity
// visits (spec.md §4.5).
type stingVisit interface {
	TwoLayerFrames() (source, target, mask, overlay *frame.Frame, sourceVolume, targetVolume float64)
}

// Stage owns one channel's Z-ordered collection of Layers and runs every
// mutating operation through a single task queue so state changes are
// linearizable with the tick (spec.md §3/§4.4/§5).
type Stage struct {
	channelIndex int

	q *queue

	mu     sync.Mutex // guards layers map structure only; contents only mutate on the queue
	layers map[int]*Layer
}

// New returns an empty Stage for the given channel index.
func New(channelIndex int) *Stage {
	s := &Stage{
		channelIndex: channelIndex,
		q:            newQueue(),
		layers:       make(map[int]*Layer),
	}
	return s
}

// ChannelIndex returns the index of the channel this stage belongs to.
func (s *Stage) ChannelIndex() int { return s.channelIndex }

func (s *Stage) layer(index int) *Layer {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.layers[index]
	if !ok {
		l = newLayer(index)
		s.layers[index] = l
	}
	return l
}

// Load creates or replaces a layer's background producer (§4.4 load).
func (s *Stage) Load(ctx context.Context, layerIndex int, producer produce.Producer, preview, autoPlay bool) error {
	l := s.layer(layerIndex)
	_, err := submitCtx(ctx, s.q, func() (struct{}, error) {
		return struct{}{}, l.load(ctx, producer, preview, autoPlay)
	})
	return err
}

// Play promotes a layer's background to foreground, optionally through a
// transition (§4.4 play, §4.5). producer may be nil to mean "play the
// already-loaded background".
func (s *Stage) Play(ctx context.Context, layerIndex int, producer produce.Producer, transitionFactory TransitionFactory) error {
	l := s.layer(layerIndex)
	_, err := submitCtx(ctx, s.q, func() (struct{}, error) {
		var mk func(source, target produce.Producer) produce.Producer
		if transitionFactory != nil {
			mk = transitionFactory
		}
		return struct{}{}, l.play(producer, mk)
	})
	return err
}

// Pause pauses a layer's foreground; its last frame continues to be
// delivered on subsequent ticks (§4.4 pause).
func (s *Stage) Pause(ctx context.Context, layerIndex int) error {
	l := s.layer(layerIndex)
	_, err := submitCtx(ctx, s.q, func() (struct{}, error) {
		l.pause()
		return struct{}{}, nil
	})
	return err
}

// Resume un-pauses a layer's foreground (§4.4 resume).
func (s *Stage) Resume(ctx context.Context, layerIndex int) error {
	l := s.layer(layerIndex)
	_, err := submitCtx(ctx, s.q, func() (struct{}, error) {
		l.resume()
		return struct{}{}, nil
	})
	return err
}

// Stop replaces a layer's foreground with the empty producer (§4.4 stop).
func (s *Stage) Stop(ctx context.Context, layerIndex int) error {
	l := s.layer(layerIndex)
	_, err := submitCtx(ctx, s.q, func() (struct{}, error) {
		l.stop()
		return struct{}{}, nil
	})
	return err
}

// Clear resets a layer to Empty (§4.4 clear).
func (s *Stage) Clear(ctx context.Context, layerIndex int) error {
	l := s.layer(layerIndex)
	_, err := submitCtx(ctx, s.q, func() (struct{}, error) {
		l.clear()
		return struct{}{}, nil
	})
	return err
}

// ClearAll resets every layer on the stage to Empty, the channel-wide
// CLEAR op of spec.md §4.6.
func (s *Stage) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	layers := make([]*Layer, 0, len(s.layers))
	for _, l := range s.layers {
		layers = append(layers, l)
	}
	s.mu.Unlock()

	_, err := submitCtx(ctx, s.q, func() (struct{}, error) {
		for _, l := range layers {
			l.clear()
		}
		return struct{}{}, nil
	})
	return err
}

// Call forwards a producer-specific RPC to a layer's foreground producer
// (§4.4 call), bounded by ctx per the supplemented Call RPC semantics of
// SPEC_FULL.md.
func (s *Stage) Call(ctx context.Context, layerIndex int, params []string) (string, error) {
	l := s.layer(layerIndex)
	return submitCtx(ctx, s.q, func() (string, error) {
		return l.foreground.Call(ctx, params)
	})
}

// SwapLayer exchanges the foreground/background producers of two layers
// within this stage (§4.4 swap_layer). withTransforms also exchanges each
// layer's current FrameTransform.
func (s *Stage) SwapLayer(ctx context.Context, indexA, indexB int, withTransforms bool) error {
	if indexA == indexB {
		return nil
	}
	a := s.layer(indexA)
	b := s.layer(indexB)

	// Both layers live on this stage, so s.q alone serializes the swap
	// against every other op on either layer; no separate lock ordering
	// is needed (unlike the cross-channel case in SwapChannel).
	_, err := submitCtx(ctx, s.q, func() (struct{}, error) {
		swapLayers(a, b, withTransforms)
		return struct{}{}, nil
	})
	return err
}

func swapLayers(a, b *Layer, withTransforms bool) {
	a.foreground, b.foreground = b.foreground, a.foreground
	a.background, b.background = b.background, a.background
	a.transition, b.transition = b.transition, a.transition
	a.transitionTo, b.transitionTo = b.transitionTo, a.transitionTo
	a.paused, b.paused = b.paused, a.paused
	a.autoPlay, b.autoPlay = b.autoPlay, a.autoPlay

	if withTransforms {
		a.transform, b.transform = b.transform, a.transform
	}
}

// SwapChannel exchanges one layer between two stages (different
// channels), the cross-channel form of §4.4 swap_channel. Locks are taken
// in (channel_index, layer_index) order to stay deadlock-free against a
// concurrent swap the other way round.
func SwapChannel(ctx context.Context, stageA *Stage, indexA int, stageB *Stage, indexB int, withTransforms bool) error {
	if stageA == stageB {
		return stageA.SwapLayer(ctx, indexA, indexB, withTransforms)
	}

	first, second := stageA, stageB
	firstIdx, secondIdx := indexA, indexB
	if stageB.channelIndex < stageA.channelIndex ||
		(stageB.channelIndex == stageA.channelIndex && indexB < indexA) {
		first, second = stageB, stageA
		firstIdx, secondIdx = indexB, indexA
	}

	la := first.layer(firstIdx)
	lb := second.layer(secondIdx)

	type result struct{}
	_, err := submitCtx(ctx, first.q, func() (result, error) {
		_, err := submitCtx(ctx, second.q, func() (result, error) {
			swapLayers(la, lb, withTransforms)
			return result{}, nil
		})
		return result{}, err
	})
	return err
}

// ApplyTransforms queues a tween animation from a layer's current
// transform to target over durationTicks, per §4.4 apply_transforms.
// Calling it again on the same layer before the prior animation finishes
// cancels the prior one (see Layer.startAnimation). The returned channel closes when the animation completes
// or is cancelled.
func (s *Stage) ApplyTransforms(ctx context.Context, layerIndex int, target frame.FrameTransform, durationTicks int, tweenName string) (<-chan struct{}, error) {
	tw, err := tween.New(tweenName)
	if err != nil {
		return nil, err
	}
	l := s.layer(layerIndex)
	return submitCtx(ctx, s.q, func() (<-chan struct{}, error) {
		return l.startAnimation(target, durationTicks, tw), nil
	})
}

// GetCurrentTransform returns a layer's current FrameTransform (§4.4
// get_current_transform).
func (s *Stage) GetCurrentTransform(ctx context.Context, layerIndex int) (frame.FrameTransform, error) {
	l := s.layer(layerIndex)
	return submitCtx(ctx, s.q, func() (frame.FrameTransform, error) {
		return l.transform, nil
	})
}

// Close shuts the stage's task queue down: ops already queued still run to
// completion, and ops submitted afterwards fail with ErrShuttingDown.
func (s *Stage) Close() { s.q.close() }

// Tick runs one frame-assembly pass over every layer in ascending index
// order, per spec.md §4.4:
//  1. advance each layer's pending tween animation.
//  2. promote any transition that has reached steady state to its
//     leading producer.
//  3. pull a frame from each layer's active producer, honoring paused/
//     empty/auto_play-retry rules.
//  4. return the layer -> (frame, transform) map for the channel's mixer.
func (s *Stage) Tick(ctx context.Context, nbSamples int) ([]LayerFrame, error) {
	return submitCtx(ctx, s.q, func() ([]LayerFrame, error) {
		return s.tickLocked(ctx, nbSamples)
	})
}

func (s *Stage) tickLocked(ctx context.Context, nbSamples int) ([]LayerFrame, error) {
	s.mu.Lock()
	indices := make([]int, 0, len(s.layers))
	for idx := range s.layers {
		indices = append(indices, idx)
	}
	s.mu.Unlock()
	sort.Ints(indices)

	out := make([]LayerFrame, 0, len(indices))

	for _, idx := range indices {
		l := s.layer(idx)

		l.advanceAnimation()

		if l.transition != nil {
			if leader, done := l.transition.LeadingProducer(idx); done {
				l.foreground = leader
				l.transition = nil
				l.transitionTo = nil
			}
		}

		active := l.foreground
		inTransition := l.transition != nil
		if inTransition {
			active = l.transition
		}

		f, active, err := s.pullLayerFrame(ctx, l, active, nbSamples)
		if err != nil {
			return nil, fmt.Errorf("stage %d layer %d: %w", s.channelIndex, idx, err)
		}

		lf := LayerFrame{LayerIndex: idx, Frame: f, Transform: l.transform, ProducerState: active.State()}

		// A transition in progress wants two mixer visits (or a masked
		// composite) instead of the single Frame/Transform above; the
		// Receive call inside pullLayerFrame already refreshed the
		// transition's cached per-side frames, so TwoLayerFrames just
		// reads them back (spec.md §4.5).
		if inTransition {
			switch tv := active.(type) {
			case stingVisit:
				source, target, mask, overlay, sourceVol, targetVol := tv.TwoLayerFrames()
				lf.Frame = source
				lf.Sting = &StingVisit{
					Source: source, Target: target, Mask: mask, Overlay: overlay,
					SourceVolume: sourceVol, TargetVolume: targetVol,
				}
			case transitionVisit:
				source, target, sourceT, targetT := tv.TwoLayerFrames()
				sourceTransform := frame.Combine(l.transform, frame.FrameTransform{Image: sourceT, Audio: frame.IdentityAudioTransform()})
				targetTransform := frame.Combine(l.transform, frame.FrameTransform{Image: targetT, Audio: frame.IdentityAudioTransform()})
				lf.Frame = source
				lf.Transform = sourceTransform
				lf.ExtraVisits = []LayerVisit{{Frame: target, Transform: targetTransform}}
			}
		}

		out = append(out, lf)
	}

	return out, nil
}

// pullLayerFrame implements the per-layer pull rules of §4.4: a paused
// layer replays its last frame without calling Receive; an unpaused layer
// that returns Late (or an empty frame) falls back to its last frame so
// one slow producer doesn't blank the output. If active is the layer's
// foreground (not a transition) and it goes empty while a background and
// auto_play are set, the background is promoted to foreground and the
// receive is retried once (§4.4 step 2, §8's nb_frames()==0 boundary
// rule). It returns the producer that ultimately served the frame, which
// may be the newly-promoted foreground.
func (s *Stage) pullLayerFrame(ctx context.Context, l *Layer, active produce.Producer, nbSamples int) (*frame.Frame, produce.Producer, error) {
	canPromote := active == l.foreground && l.background != nil && l.autoPlay

	if produce.IsEmpty(active) && l.lastFrame == nil {
		if canPromote {
			active = l.background
			l.foreground = active
			l.background = nil
		} else {
			return frame.Empty(frame.Tag{LayerIndex: l.index}), active, nil
		}
	}

	if l.paused {
		if l.lastFrame != nil {
			return l.lastFrame, active, nil
		}
		return active.LastFrame(), active, nil
	}

	f, late, err := receiveFrame(ctx, active, nbSamples)
	if err != nil {
		return nil, active, err
	}

	empty := late || f == nil || f.IsEmpty() || active.NbFrames() == 0
	canPromote = active == l.foreground && l.background != nil && l.autoPlay
	if empty && canPromote {
		promoted := l.background
		l.foreground = promoted
		l.background = nil
		active = promoted

		f, late, err = receiveFrame(ctx, active, nbSamples)
		if err != nil {
			return nil, active, err
		}
	}

	if late || f == nil || f.IsEmpty() {
		if l.lastFrame != nil {
			return l.lastFrame, active, nil
		}
		return frame.Empty(frame.Tag{LayerIndex: l.index}), active, nil
	}

	l.lastFrame = f
	return f, active, nil
}

// receiveFrame calls active.Receive and classifies a Late error as "no
// frame this tick" rather than a hard failure, per §4.4's Late-handling
// rule.
func receiveFrame(ctx context.Context, active produce.Producer, nbSamples int) (*frame.Frame, bool, error) {
	f, err := active.Receive(ctx, nbSamples)
	if err != nil {
		if produce.IsLate(err) {
			return nil, true, nil
		}
		return nil, false, err
	}
	return f, false, nil
}
