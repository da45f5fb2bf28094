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

package imagemix

import (
	"testing"

	"github.com/stretchr/testify/require"

	"playout/pkg/frame"
)

func solidFrame(w, h int, r, g, b, a uint8) *frame.Frame {
	desc := frame.NewPixelFormatDesc(frame.BGRA, w, h)
	mut := frame.NewMutable(desc, frame.Tag{ProducerName: "solid"})
	for i := 0; i < len(mut.Planes[0]); i += 4 {
		mut.Planes[0][i+0] = b
		mut.Planes[0][i+1] = g
		mut.Planes[0][i+2] = r
		mut.Planes[0][i+3] = a
	}
	transform := frame.Identity()
	return mut.Commit(transform)
}

func TestRenderOpaqueLayerFillsChannel(t *testing.T) {
	m := New(4, 4)
	f := solidFrame(4, 4, 200, 100, 50, 255)

	require.NoError(t, m.Visit(f))
	out := m.Render(frame.Tag{})

	require.False(t, out.IsEmpty())
	plane := out.Planes()[0]
	require.Equal(t, uint8(50), plane[0])
	require.Equal(t, uint8(100), plane[1])
	require.Equal(t, uint8(200), plane[2])
	require.Equal(t, uint8(255), plane[3])
}

func TestRenderHalfOpacityBlendsWithBlack(t *testing.T) {
	m := New(2, 2)
	f := solidFrame(2, 2, 255, 255, 255, 255)
	ft := f.Transform()
	ft.Image.Opacity = 0.5
	// Re-commit with the desired opacity since Visit reads f.Transform().
	mut := frame.NewMutable(f.Desc(), f.Tag())
	copy(mut.Planes[0], f.Planes()[0])
	f = mut.Commit(ft)

	require.NoError(t, m.Visit(f))
	out := m.Render(frame.Tag{})

	plane := out.Planes()[0]
	require.InDelta(t, 127, int(plane[0]), 2)
}

func TestPushPopCompositesScope(t *testing.T) {
	m := New(2, 2)

	scopeTransform := frame.IdentityImageTransform()
	scopeTransform.Opacity = 1
	scopeTransform.BlendMode = frame.Normal

	m.Push(scopeTransform)
	require.NoError(t, m.Visit(solidFrame(2, 2, 10, 20, 30, 255)))
	m.Pop()

	out := m.Render(frame.Tag{})
	plane := out.Planes()[0]
	require.Equal(t, uint8(30), plane[0])
	require.Equal(t, uint8(20), plane[1])
	require.Equal(t, uint8(10), plane[2])
}

func TestBlendMultiplyDarkensBackdrop(t *testing.T) {
	m := New(1, 1)
	require.NoError(t, m.Visit(solidFrame(1, 1, 200, 200, 200, 255)))

	ft := frame.Identity()
	ft.Image.BlendMode = frame.Multiply
	mut := frame.NewMutable(frame.NewPixelFormatDesc(frame.BGRA, 1, 1), frame.Tag{})
	mut.Planes[0][0], mut.Planes[0][1], mut.Planes[0][2], mut.Planes[0][3] = 100, 100, 100, 255
	multiplyLayer := mut.Commit(ft)

	require.NoError(t, m.Visit(multiplyLayer))
	out := m.Render(frame.Tag{})
	plane := out.Planes()[0]
	require.Less(t, int(plane[0]), 200)
}

func blendOnto(t *testing.T, mode frame.BlendMode, bg, src [3]uint8) []uint8 {
	t.Helper()
	m := New(1, 1)
	require.NoError(t, m.Visit(solidFrame(1, 1, bg[0], bg[1], bg[2], 255)))

	ft := frame.Identity()
	ft.Image.BlendMode = mode
	mut := frame.NewMutable(frame.NewPixelFormatDesc(frame.BGRA, 1, 1), frame.Tag{})
	mut.Planes[0][0], mut.Planes[0][1], mut.Planes[0][2], mut.Planes[0][3] = src[2], src[1], src[0], 255
	layer := mut.Commit(ft)

	require.NoError(t, m.Visit(layer))
	out := m.Render(frame.Tag{})
	return out.Planes()[0]
}

func TestBlendContrastPushesMidtonesApart(t *testing.T) {
	// A source above mid-gray should push a backdrop that's already above
	// mid-gray brighter still, and a source below mid-gray should darken it.
	bright := blendOnto(t, frame.Contrast, [3]uint8{200, 200, 200}, [3]uint8{200, 200, 200})
	require.Greater(t, int(bright[2]), 200)

	dark := blendOnto(t, frame.Contrast, [3]uint8{200, 200, 200}, [3]uint8{50, 50, 50})
	require.Less(t, int(dark[2]), 200)
}

func TestBlendSaturationTakesSourceSaturationWithBackdropLuminosity(t *testing.T) {
	// A grayscale backdrop blended with a saturated source stays grayscale:
	// Saturation keeps the backdrop's hue/luminosity, only borrowing the
	// source's saturation, and a backdrop with zero saturation has none to
	// scale, so the result is still gray.
	out := blendOnto(t, frame.Saturation, [3]uint8{150, 150, 150}, [3]uint8{255, 0, 0})
	require.InDelta(t, int(out[2]), int(out[1]), 1) // R == G
	require.InDelta(t, int(out[1]), int(out[0]), 1) // G == B
}

func TestBlendColorTakesSourceHueAndSaturationWithBackdropLuminosity(t *testing.T) {
	// Color keeps the backdrop's luminosity but the source's hue/saturation:
	// a mid-gray backdrop blended with a pure red source should come out as
	// a still-reddish color at the gray's luminosity rather than plain gray.
	out := blendOnto(t, frame.Color, [3]uint8{128, 128, 128}, [3]uint8{255, 0, 0})
	require.Greater(t, int(out[2]), int(out[1])) // R plane
	require.Greater(t, int(out[2]), int(out[0])) // B plane
}

func TestVisitStingCrossfadesByMaskLuma(t *testing.T) {
	m := New(1, 1)

	source := solidFrame(1, 1, 255, 0, 0, 255)  // red
	target := solidFrame(1, 1, 0, 0, 255, 255)  // blue
	blackMask := solidFrame(1, 1, 0, 0, 0, 255) // keeps source
	whiteMask := solidFrame(1, 1, 255, 255, 255, 255)

	require.NoError(t, m.VisitSting(source, target, blackMask, nil))
	out := m.Render(frame.Tag{})
	plane := out.Planes()[0]
	require.Equal(t, uint8(0), plane[0]) // B
	require.Equal(t, uint8(255), plane[2]) // R: still source (red)

	m2 := New(1, 1)
	require.NoError(t, m2.VisitSting(source, target, whiteMask, nil))
	out2 := m2.Render(frame.Tag{})
	plane2 := out2.Planes()[0]
	require.Equal(t, uint8(255), plane2[0]) // B: now target (blue)
	require.Equal(t, uint8(0), plane2[2])   // R
}

func TestVisitStingCompositesOverlayOnTop(t *testing.T) {
	m := New(1, 1)
	source := solidFrame(1, 1, 255, 0, 0, 255)
	target := solidFrame(1, 1, 0, 0, 255, 255)
	mask := solidFrame(1, 1, 0, 0, 0, 255)
	overlay := solidFrame(1, 1, 0, 255, 0, 255) // opaque green, must win regardless of mask

	require.NoError(t, m.VisitSting(source, target, mask, overlay))
	out := m.Render(frame.Tag{})
	plane := out.Planes()[0]
	require.Equal(t, uint8(0), plane[0])   // B
	require.Equal(t, uint8(255), plane[1]) // G
	require.Equal(t, uint8(0), plane[2])   // R
}

func TestBlendLuminosityTakesSourceLuminosityWithBackdropHue(t *testing.T) {
	// Luminosity is Color's inverse: backdrop keeps its hue/saturation, but
	// takes the source's luminosity. A dark red backdrop lit by a lighter
	// gray source should come out lighter while staying reddish.
	out := blendOnto(t, frame.Luminosity, [3]uint8{100, 0, 0}, [3]uint8{150, 150, 150})
	require.Greater(t, int(out[2]), 100) // R plane brighter than the dim backdrop
}
