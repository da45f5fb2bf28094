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

package memsink

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"playout/pkg/consume"
	"playout/pkg/frame"
	"playout/pkg/vformat"
)

func TestFactoryClaimsMemsinkParams(t *testing.T) {
	c, ok, err := Factory(consume.Context{ChannelIndex: 1}, []string{"MEMSINK"})
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, c)
}

func TestFactoryIgnoresOtherParams(t *testing.T) {
	c, ok, err := Factory(consume.Context{ChannelIndex: 1}, []string{"ROUTE", "1234"})
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, c)
}

func newTestFrame() *frame.Frame {
	m := frame.NewMutable(frame.NewPixelFormatDesc(frame.BGRA, 2, 2), frame.Tag{})
	return m.Commit(frame.Identity())
}

func TestSendRetainsFramesUpToCapacity(t *testing.T) {
	s := New(2)
	require.NoError(t, s.Initialize(vformat.Format{ID: "test"}, nil, 3))

	for i := 0; i < 3; i++ {
		ok, err := s.Send(newTestFrame())
		require.NoError(t, err)
		require.True(t, ok)
	}

	require.Len(t, s.Frames(), 2)
	require.Equal(t, 3, s.Index())
}

func TestSendReturnsConfiguredError(t *testing.T) {
	s := New(2)
	wantErr := errors.New("downstream gone")
	s.FailNextSends(wantErr)

	ok, err := s.Send(newTestFrame())
	require.False(t, ok)
	require.ErrorIs(t, err, wantErr)
}

func TestStateReportsRetainedAndCapacity(t *testing.T) {
	s := New(4)
	_, _ = s.Send(newTestFrame())
	_, _ = s.Send(newTestFrame())

	state := s.State()
	require.Equal(t, 2, state["retained"])
	require.Equal(t, 4, state["capacity"])
}

func TestBufferDepthAndClockAreZeroValueForMemsink(t *testing.T) {
	s := New(0)
	require.Equal(t, 0, s.BufferDepth())
	require.False(t, s.HasSynchronizationClock())
	require.Equal(t, "memsink", s.Name())
}
