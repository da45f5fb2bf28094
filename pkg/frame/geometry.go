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

package frame

// ScaleMode is the policy for fitting a producer's native resolution into
// the channel's resolution.
type ScaleMode uint8

// Scale modes.
const (
	Stretch ScaleMode = iota
	Fit
	FitCenter
	Fill
	FillCenter
	Original
	OriginalCenter
	HFill
	HFillCenter
	VFill
	VFillCenter
)

// Vertex is one corner of a draw quad: a destination xy plus a source uv
// (and, for perspective quads, an additional st homogeneous pair).
type Vertex struct {
	X, Y float64
	U, V float64
	S, T float64
}

// Geometry is a list of polygonal coordinates plus the scale mode that
// produced them. The default Geometry is a unit quad covering [0,1]^2.
type Geometry struct {
	Vertices  []Vertex
	ScaleMode ScaleMode
}

// UnitQuad returns the default geometry: a quad covering the whole output,
// textured 1:1.
func UnitQuad() Geometry {
	return Geometry{
		ScaleMode: Stretch,
		Vertices: []Vertex{
			{X: 0, Y: 0, U: 0, V: 0},
			{X: 1, Y: 0, U: 1, V: 0},
			{X: 1, Y: 1, U: 1, V: 1},
			{X: 0, Y: 1, U: 0, V: 1},
		},
	}
}

// ScaleCorrection returns the (fillScale, fillTranslation) pair that the
// image mixer must fold into an ImageTransform so that a source_w x
// source_h producer maps onto a channel_w x channel_h target per its scale
// mode, following the formulas of spec.md §4.3.
func ScaleCorrection(mode ScaleMode, channelW, channelH, sourceW, sourceH int) (scaleX, scaleY, translateX, translateY float64) {
	if sourceW <= 0 || sourceH <= 0 || channelW <= 0 || channelH <= 0 {
		return 1, 1, 0, 0
	}

	wScale := float64(channelW) / float64(sourceW)
	hScale := float64(channelH) / float64(sourceH)

	switch mode {
	case Stretch:
		return 1, 1, 0, 0

	case Fit, FitCenter:
		m := minF(wScale, hScale)
		sx, sy := m/wScale, m/hScale
		if mode == FitCenter {
			return sx, sy, (1 - sx) / 2, (1 - sy) / 2
		}
		return sx, sy, 0, 0

	case Fill, FillCenter:
		m := maxF(wScale, hScale)
		sx, sy := m/wScale, m/hScale
		if mode == FillCenter {
			return sx, sy, (1 - sx) / 2, (1 - sy) / 2
		}
		return sx, sy, 0, 0

	case Original, OriginalCenter:
		sx, sy := 1/wScale, 1/hScale
		if mode == OriginalCenter {
			return sx, sy, (1 - sx) / 2, (1 - sy) / 2
		}
		return sx, sy, 0, 0

	case HFill, HFillCenter:
		sx := hScale / wScale
		if mode == HFillCenter {
			return sx, 1, (1 - sx) / 2, 0
		}
		return sx, 1, 0, 0

	case VFill, VFillCenter:
		sy := wScale / hScale
		if mode == VFillCenter {
			return 1, sy, 0, (1 - sy) / 2
		}
		return 1, sy, 0, 0

	default:
		return 1, 1, 0, 0
	}
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
