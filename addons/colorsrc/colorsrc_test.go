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

package colorsrc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"playout/pkg/produce"
)

func testCtx() produce.Context {
	return produce.Context{ChannelIndex: 1, FormatID: "1080p25", Width: 4, Height: 2}
}

func TestFactoryClaimsColorParams(t *testing.T) {
	p, ok, err := Factory(testCtx(), []string{"COLOR", "#112233"})
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, p)
}

func TestFactoryIgnoresOtherParams(t *testing.T) {
	p, ok, err := Factory(testCtx(), []string{"ROUTE", "1234"})
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, p)
}

func TestFactoryRejectsBadHex(t *testing.T) {
	_, ok, err := Factory(testCtx(), []string{"COLOR", "#ZZZZZZ"})
	require.Error(t, err)
	require.False(t, ok)

	var pe *produce.Error
	require.ErrorAs(t, err, &pe)
	require.Equal(t, produce.InvalidArgument, pe.Kind)
}

func TestNewFillsEveryPixelWithTheRequestedColor(t *testing.T) {
	p, ok, err := Factory(testCtx(), []string{"COLOR", "#FF000080"})
	require.NoError(t, err)
	require.True(t, ok)

	f, err := p.Receive(context.Background(), 0)
	require.NoError(t, err)

	desc := f.Desc()
	stride := desc.Planes[0].Stride
	plane := f.Planes()[0]
	for y := 0; y < 2; y++ {
		row := plane[y*stride : y*stride+4*4]
		for x := 0; x < 4; x++ {
			px := row[x*4 : x*4+4]
			require.Equal(t, byte(0x00), px[0], "blue")
			require.Equal(t, byte(0x00), px[1], "green")
			require.Equal(t, byte(0xFF), px[2], "red")
			require.Equal(t, byte(0x80), px[3], "alpha")
		}
	}
}

func TestReceiveAlwaysReturnsTheSameConstFrame(t *testing.T) {
	p, ok, err := Factory(testCtx(), []string{"COLOR", "#00FF00"})
	require.NoError(t, err)
	require.True(t, ok)

	f1, err := p.Receive(context.Background(), 0)
	require.NoError(t, err)
	f2, err := p.Receive(context.Background(), 0)
	require.NoError(t, err)
	require.Same(t, f1, f2)
	require.Same(t, f1, p.LastFrame())
}

func TestNbFramesIsUnknownForAnUnendingColorField(t *testing.T) {
	p, _, err := Factory(testCtx(), []string{"COLOR", "#000000"})
	require.NoError(t, err)
	require.Equal(t, produce.NbFramesUnknown, p.NbFrames())
}

func TestStateReportsTheColor(t *testing.T) {
	p, _, err := Factory(testCtx(), []string{"COLOR", "#112233"})
	require.NoError(t, err)
	require.Equal(t, "#112233FF", p.State()["color"])
}
