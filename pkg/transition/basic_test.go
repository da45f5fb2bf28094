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
	"testing"

	"github.com/stretchr/testify/require"

	"playout/pkg/frame"
	"playout/pkg/produce"
)

type stubProducer struct {
	name     string
	f        *frame.Frame
	frameNum uint64
}

func newStub(name string) *stubProducer {
	m := frame.NewMutable(frame.NewPixelFormatDesc(frame.BGRA, 2, 2), frame.Tag{ProducerName: name})
	return &stubProducer{name: name, f: m.Commit(frame.Identity())}
}

func (s *stubProducer) Receive(context.Context, int) (*frame.Frame, error) {
	s.frameNum++
	return s.f, nil
}
func (s *stubProducer) LastFrame() *frame.Frame                        { return s.f }
func (s *stubProducer) IsReady() bool                                  { return true }
func (s *stubProducer) NbFrames() uint64                               { return produce.NbFramesUnknown }
func (s *stubProducer) FrameNumber() uint64                            { return s.frameNum }
func (s *stubProducer) LeadingProducer(int) (produce.Producer, bool)   { return nil, false }
func (s *stubProducer) Call(context.Context, []string) (string, error) { return "", nil }
func (s *stubProducer) State() produce.StateSnapshot                   { return nil }
func (s *stubProducer) Name() string                                   { return s.name }

func TestBasicMixReachesTargetAtFullProgress(t *testing.T) {
	source := newStub("source")
	target := newStub("target")
	b, err := NewBasic(source, target, BasicParams{DurationFrames: 10, Kind: Mix, TweenerName: "linear"})
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := b.Receive(ctx, 0)
		require.NoError(t, err)
	}

	_, ok := b.LeadingProducer(0)
	require.True(t, ok)

	_, _, sourceT, targetT := b.TwoLayerFrames()
	require.InDelta(t, 0, sourceT.Opacity, 1e-9)
	require.InDelta(t, 1, targetT.Opacity, 1e-9)
}

func TestBasicMixMidwayBlendsBothOpacities(t *testing.T) {
	source := newStub("source")
	target := newStub("target")
	b, err := NewBasic(source, target, BasicParams{DurationFrames: 10, Kind: Mix, TweenerName: "linear"})
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := b.Receive(ctx, 0)
		require.NoError(t, err)
	}

	_, ok := b.LeadingProducer(0)
	require.False(t, ok, "transition should not be complete at the halfway point")

	_, _, sourceT, targetT := b.TwoLayerFrames()
	require.InDelta(t, 0.5, sourceT.Opacity, 1e-9)
	require.InDelta(t, 0.5, targetT.Opacity, 1e-9)
}

func TestStingRevealsTargetAfterTrigger(t *testing.T) {
	source := newStub("source")
	target := newStub("target")
	mask := newStub("mask")
	s := NewSting(source, target, mask, nil, StingParams{TriggerPoint: 3})

	ctx := context.Background()
	var last *frame.Frame
	for i := 0; i < 5; i++ {
		f, err := s.Receive(ctx, 0)
		require.NoError(t, err)
		last = f
	}
	require.Equal(t, target.f, last)
}
