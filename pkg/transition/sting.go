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

package transition

import (
	"context"

	"playout/pkg/frame"
	"playout/pkg/produce"
)

// StingParams configures a mask-based sting transition, per spec.md
// §4.5.
type StingParams struct {
	MaskFilename    string
	OverlayFilename string
	TriggerPoint    int // frame index within the sting at which the cut occurs
	AudioFadeStart  int
	AudioFadeDur    int
}

// Sting is a produce.Producer that plays a mask clip (and optional
// overlay) across the handoff from source to target. The mixer crossfades
// source and target per pixel by the mask frame's luma; TriggerPoint
// decides which side Receive and LastFrame return (source before it,
// target from it on) and, with no audio fade configured, when the audio
// cuts over.
type Sting struct {
	source, target produce.Producer
	mask, overlay  produce.Producer
	params         StingParams

	stingFrameNum uint64
	frameNum      uint64

	lastSource, lastTarget, lastMask, lastOverlay *frame.Frame
}

// NewSting wraps source and target with a mask producer (and optional
// overlay producer) that the caller has already resolved from
// params.MaskFilename/OverlayFilename via a media-file producer factory;
// the transition package itself has no file-loading concerns.
func NewSting(source, target, mask, overlay produce.Producer, params StingParams) *Sting {
	return &Sting{source: source, target: target, mask: mask, overlay: overlay, params: params}
}

// Receive advances the mask clip one frame, caching every side's frame
// for TwoLayerFrames/OverlayFrame to read back.
func (s *Sting) Receive(ctx context.Context, nbSamples int) (*frame.Frame, error) {
	s.frameNum++

	mf, err := s.mask.Receive(ctx, 0)
	if err != nil && !produce.IsLate(err) {
		return nil, err
	}
	s.lastMask = mf
	s.stingFrameNum = s.mask.FrameNumber()

	sf, err := s.source.Receive(ctx, nbSamples)
	if err != nil && !produce.IsLate(err) {
		return nil, err
	}
	s.lastSource = sf

	tf, err := s.target.Receive(ctx, nbSamples)
	if err != nil && !produce.IsLate(err) {
		return nil, err
	}
	s.lastTarget = tf

	if s.overlay != nil {
		of, err := s.overlay.Receive(ctx, 0)
		if err != nil && !produce.IsLate(err) {
			return nil, err
		}
		s.lastOverlay = of
	}

	if s.pastTrigger() {
		return tf, nil
	}
	return sf, nil
}

func (s *Sting) pastTrigger() bool {
	return int(s.stingFrameNum) >= s.params.TriggerPoint
}

// audioFadeGain returns source's crossfade gain at the current sting
// frame (target's gain is 1 minus this), per spec.md §4.5's symmetric
// audio fade.
func (s *Sting) audioFadeGain() float64 {
	if s.params.AudioFadeDur <= 0 {
		if s.pastTrigger() {
			return 0
		}
		return 1
	}
	elapsed := int(s.stingFrameNum) - s.params.AudioFadeStart
	if elapsed <= 0 {
		return 1
	}
	if elapsed >= s.params.AudioFadeDur {
		return 0
	}
	return 1 - float64(elapsed)/float64(s.params.AudioFadeDur)
}

// TwoLayerFrames returns source and target with the mask (or its
// complement) keying each one's visibility, plus the overlay frame and
// the source/target audio volumes for this tick.
func (s *Sting) TwoLayerFrames() (sourceFrame, targetFrame, maskFrame, overlayFrame *frame.Frame, sourceVolume, targetVolume float64) {
	gain := s.audioFadeGain()
	return s.lastSource, s.lastTarget, s.lastMask, s.lastOverlay, gain, 1 - gain
}

func (s *Sting) LastFrame() *frame.Frame {
	if s.pastTrigger() && s.lastTarget != nil {
		return s.lastTarget
	}
	return s.lastSource
}

func (s *Sting) IsReady() bool { return s.mask.IsReady() }

func (s *Sting) NbFrames() uint64 { return s.mask.NbFrames() }

func (s *Sting) FrameNumber() uint64 { return s.frameNum }

// LeadingProducer returns target once the mask producer reports
// end-of-stream (spec.md §4.5).
func (s *Sting) LeadingProducer(layerIndex int) (produce.Producer, bool) {
	nb := s.mask.NbFrames()
	if nb != produce.NbFramesUnknown && s.stingFrameNum >= nb {
		return s.target, true
	}
	return nil, false
}

func (s *Sting) Call(ctx context.Context, params []string) (string, error) {
	return s.target.Call(ctx, params)
}

func (s *Sting) State() produce.StateSnapshot {
	return produce.StateSnapshot{
		"type":            "sting_transition",
		"sting_frame":     s.stingFrameNum,
		"past_trigger":    s.pastTrigger(),
		"audio_fade_gain": s.audioFadeGain(),
	}
}

func (s *Sting) Name() string { return "transition:sting" }
