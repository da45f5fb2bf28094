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

// BlendMode names a per-layer compositing formula.
type BlendMode uint8

// Blend modes, per spec.md §3.
const (
	Normal BlendMode = iota
	Lighten
	Darken
	Multiply
	Average
	Add
	Subtract
	Difference
	Negation
	Exclusion
	Screen
	Overlay
	SoftLight
	HardLight
	ColorDodge
	ColorBurn
	LinearDodge
	LinearBurn
	LinearLight
	VividLight
	PinLight
	HardMix
	Reflect
	Glow
	Phoenix
	Contrast
	Saturation
	Color
	Luminosity
)

// Levels implements the min/max/gamma input-output remap of spec.md §3.
type Levels struct {
	MinInput  float64
	MaxInput  float64
	Gamma     float64
	MinOutput float64
	MaxOutput float64
}

// IdentityLevels leaves color untouched.
func IdentityLevels() Levels {
	return Levels{MinInput: 0, MaxInput: 1, Gamma: 1, MinOutput: 0, MaxOutput: 1}
}

// Chroma holds the chroma-key parameters of spec.md §3/§4.3.
type Chroma struct {
	Enable    bool
	ShowMask  bool
	TargetHue float64 // degrees [0,360)
	HueWidth  float64

	MinSaturation float64
	MinBrightness float64
	Softness      float64

	SpillSuppress           float64
	SpillSuppressSaturation float64
}

// Quad is a perspective-warp quad: upper-left, upper-right, lower-right,
// lower-left, each in normalized [0,1] coordinates.
type Quad struct {
	UL, UR, LR, LL [2]float64
}

// IdentityQuad is a no-op perspective quad covering the full frame.
func IdentityQuad() Quad {
	return Quad{
		UL: [2]float64{0, 0}, UR: [2]float64{1, 0},
		LR: [2]float64{1, 1}, LL: [2]float64{0, 1},
	}
}

// Rect is a rectangular crop, upper-left/lower-right in [0,1] coordinates.
type Rect struct {
	UL, LR [2]float64
}

// IdentityRect is a no-op crop covering the full frame.
func IdentityRect() Rect {
	return Rect{UL: [2]float64{0, 0}, LR: [2]float64{1, 1}}
}

// ImageTransform is the per-layer visual transform pipeline of spec.md §3.
type ImageTransform struct {
	Opacity    float64
	Contrast   float64
	Brightness float64
	Saturation float64

	Anchor          [2]float64
	FillTranslation [2]float64
	FillScale       [2]float64
	ClipTranslation [2]float64
	ClipScale       [2]float64
	Angle           float64 // radians

	Crop        Rect
	Perspective Quad

	Levels Levels
	Chroma Chroma

	IsKey  bool
	Invert bool
	IsMix  bool

	BlendMode BlendMode

	// LayerDepth is the compositing scope depth assigned by nested
	// non-normal or keyed layers; see spec.md §4.3.
	LayerDepth int
}

// IdentityImageTransform is the transform that leaves a frame untouched.
func IdentityImageTransform() ImageTransform {
	return ImageTransform{
		Opacity:     1,
		Contrast:    1,
		Brightness:  0,
		Saturation:  1,
		FillScale:   [2]float64{1, 1},
		ClipScale:   [2]float64{1, 1},
		Crop:        IdentityRect(),
		Perspective: IdentityQuad(),
		Levels:      IdentityLevels(),
		BlendMode:   Normal,
	}
}

// AudioTransform is the per-layer audio transform of spec.md §3.
type AudioTransform struct {
	Volume float64
}

// IdentityAudioTransform leaves audio untouched.
func IdentityAudioTransform() AudioTransform {
	return AudioTransform{Volume: 1}
}

// FrameTransform pairs an ImageTransform and an AudioTransform, the unit
// Stage pushes onto the image/audio mixers each tick.
type FrameTransform struct {
	Image ImageTransform
	Audio AudioTransform
}

// Identity is the transform that leaves a frame fully untouched.
func Identity() FrameTransform {
	return FrameTransform{Image: IdentityImageTransform(), Audio: IdentityAudioTransform()}
}

// Combine composes a child transform onto a parent, per spec.md §3:
// scales multiply, translations sum (scaled by the parent), opacities and
// volumes multiply, and discrete flags are replaced by the child's.
func Combine(parent, child FrameTransform) FrameTransform {
	out := child

	out.Image.FillScale = [2]float64{
		parent.Image.FillScale[0] * child.Image.FillScale[0],
		parent.Image.FillScale[1] * child.Image.FillScale[1],
	}
	out.Image.ClipScale = [2]float64{
		parent.Image.ClipScale[0] * child.Image.ClipScale[0],
		parent.Image.ClipScale[1] * child.Image.ClipScale[1],
	}
	out.Image.FillTranslation = [2]float64{
		parent.Image.FillTranslation[0] + child.Image.FillTranslation[0]*parent.Image.FillScale[0],
		parent.Image.FillTranslation[1] + child.Image.FillTranslation[1]*parent.Image.FillScale[1],
	}
	out.Image.ClipTranslation = [2]float64{
		parent.Image.ClipTranslation[0] + child.Image.ClipTranslation[0]*parent.Image.ClipScale[0],
		parent.Image.ClipTranslation[1] + child.Image.ClipTranslation[1]*parent.Image.ClipScale[1],
	}

	out.Image.Opacity = parent.Image.Opacity * child.Image.Opacity
	out.Audio.Volume = parent.Audio.Volume * child.Audio.Volume

	out.Image.LayerDepth = parent.Image.LayerDepth
	if introducesScope(child.Image) {
		out.Image.LayerDepth++
	}

	return out
}

// introducesScope reports whether pushing this transform opens a new
// compositing scope: is_key, is_mix, or a non-normal blend mode, per
// spec.md §4.3.
func introducesScope(t ImageTransform) bool {
	return t.IsKey || t.IsMix || t.BlendMode != Normal
}
