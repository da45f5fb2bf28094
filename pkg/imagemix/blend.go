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
	"image"
	"image/color"
	"math"

	"playout/pkg/frame"
)

// blendFunc computes one output channel in [0,1] from the backdrop (b)
// and source (s) channels, per the photoshop-style blend formulas of
// spec.md §3.
type blendFunc func(b, s float64) float64

var blendFuncs = map[frame.BlendMode]blendFunc{
	frame.Normal:      func(b, s float64) float64 { return s },
	frame.Lighten:     func(b, s float64) float64 { return math.Max(b, s) },
	frame.Darken:      func(b, s float64) float64 { return math.Min(b, s) },
	frame.Multiply:    func(b, s float64) float64 { return b * s },
	frame.Average:     func(b, s float64) float64 { return (b + s) / 2 },
	frame.Add:         func(b, s float64) float64 { return clamp01(b + s) },
	frame.Subtract:    func(b, s float64) float64 { return clamp01(b - s) },
	frame.Difference:  func(b, s float64) float64 { return math.Abs(b - s) },
	frame.Negation:    func(b, s float64) float64 { return 1 - math.Abs(1-b-s) },
	frame.Exclusion:   func(b, s float64) float64 { return b + s - 2*b*s },
	frame.Screen:      func(b, s float64) float64 { return 1 - (1-b)*(1-s) },
	frame.Overlay:     func(b, s float64) float64 { return hardLight(s, b) },
	frame.SoftLight:   softLight,
	frame.HardLight:   hardLight,
	frame.ColorDodge:  colorDodge,
	frame.ColorBurn:   colorBurn,
	frame.LinearDodge: func(b, s float64) float64 { return clamp01(b + s) },
	frame.LinearBurn:  func(b, s float64) float64 { return clamp01(b + s - 1) },
	frame.LinearLight: func(b, s float64) float64 { return clamp01(b + 2*s - 1) },
	frame.VividLight:  vividLight,
	frame.PinLight:    pinLight,
	frame.HardMix: func(b, s float64) float64 {
		if vividLight(b, s) < 0.5 {
			return 0
		}
		return 1
	},
	frame.Reflect: func(b, s float64) float64 {
		if s >= 1 {
			return 1
		}
		return clamp01(b * b / (1 - s))
	},
	frame.Glow: func(b, s float64) float64 {
		if b >= 1 {
			return 1
		}
		return clamp01(s * s / (1 - b))
	},
	frame.Phoenix: func(b, s float64) float64 { return math.Min(b, s) - math.Max(b, s) + 1 },
	frame.Contrast: func(b, s float64) float64 {
		return clamp01((b-0.5)*math.Tan(s*math.Pi/2) + 0.5)
	},
}

// tripletBlendFuncs holds the blend modes that mix HSL luminosity/
// saturation/hue jointly across all three channels rather than per
// channel, per the W3C compositing-and-blending non-separable formulas.
var tripletBlendFuncs = map[frame.BlendMode]func(b, s [3]float64) [3]float64{
	frame.Saturation: func(b, s [3]float64) [3]float64 {
		return setLum(setSat(b, sat(s)), lum(b))
	},
	frame.Color:      func(b, s [3]float64) [3]float64 { return setLum(s, lum(b)) },
	frame.Luminosity: func(b, s [3]float64) [3]float64 { return setLum(b, lum(s)) },
}

func lum(c [3]float64) float64 { return 0.3*c[0] + 0.59*c[1] + 0.11*c[2] }

func clipColor(c [3]float64) [3]float64 {
	l := lum(c)
	n := math.Min(c[0], math.Min(c[1], c[2]))
	x := math.Max(c[0], math.Max(c[1], c[2]))
	if n < 0 {
		for i := range c {
			c[i] = l + (c[i]-l)*l/(l-n)
		}
	}
	if x > 1 {
		for i := range c {
			c[i] = l + (c[i]-l)*(1-l)/(x-l)
		}
	}
	return c
}

func setLum(c [3]float64, l float64) [3]float64 {
	d := l - lum(c)
	for i := range c {
		c[i] += d
	}
	return clipColor(c)
}

func sat(c [3]float64) float64 {
	return math.Max(c[0], math.Max(c[1], c[2])) - math.Min(c[0], math.Min(c[1], c[2]))
}

// setSat reassigns c's channels so that max-min equals s, preserving
// which channel held the max/mid/min value.
func setSat(c [3]float64, s float64) [3]float64 {
	idx := []int{0, 1, 2}
	for i := 0; i < 3; i++ {
		for j := i + 1; j < 3; j++ {
			if c[idx[i]] < c[idx[j]] {
				idx[i], idx[j] = idx[j], idx[i]
			}
		}
	}
	maxI, midI, minI := idx[0], idx[1], idx[2]

	out := [3]float64{}
	if c[maxI] > c[minI] {
		out[midI] = (c[midI] - c[minI]) * s / (c[maxI] - c[minI])
		out[maxI] = s
	}
	out[minI] = 0
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func softLight(b, s float64) float64 {
	if s <= 0.5 {
		return b - (1-2*s)*b*(1-b)
	}
	var d float64
	if b <= 0.25 {
		d = ((16*b-12)*b + 4) * b
	} else {
		d = math.Sqrt(b)
	}
	return b + (2*s-1)*(d-b)
}

func hardLight(b, s float64) float64 {
	if s <= 0.5 {
		return 2 * b * s
	}
	return 1 - 2*(1-b)*(1-s)
}

func colorDodge(b, s float64) float64 {
	if b == 0 {
		return 0
	}
	if s >= 1 {
		return 1
	}
	return clamp01(b / (1 - s))
}

func colorBurn(b, s float64) float64 {
	if b >= 1 {
		return 1
	}
	if s == 0 {
		return 0
	}
	return 1 - clamp01((1-b)/s)
}

func vividLight(b, s float64) float64 {
	if s <= 0.5 {
		return colorBurn(b, 2*s)
	}
	return colorDodge(b, 2*(s-0.5))
}

func pinLight(b, s float64) float64 {
	if s <= 0.5 {
		return math.Min(b, 2*s)
	}
	return math.Max(b, 2*(s-0.5))
}

// blendInto composites src onto dst in place using mode at the given
// opacity. invert flips src's alpha before blending (spec.md §3's
// "invert" flag for keyed layers).
func blendInto(dst *image.RGBA, src *image.RGBA, mode frame.BlendMode, opacity float64, invert bool) {
	fn, isSeparable := blendFuncs[mode]
	tripletFn, isTriplet := tripletBlendFuncs[mode]
	if !isSeparable && !isTriplet {
		fn = blendFuncs[frame.Normal]
		isSeparable = true
	}

	bounds := dst.Bounds().Intersect(src.Bounds())
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			bg := dst.RGBAAt(x, y)
			fg := src.RGBAAt(x, y)

			srcAlpha := float64(fg.A) / 255 * opacity
			if invert {
				srcAlpha = 1 - srcAlpha
			}
			if srcAlpha <= 0 {
				continue
			}

			br, bgc, bb := chanF(bg.R), chanF(bg.G), chanF(bg.B)
			sr, sgc, sb := chanF(fg.R), chanF(fg.G), chanF(fg.B)

			var mixR, mixG, mixB float64
			if isTriplet {
				mix := tripletFn([3]float64{br, bgc, bb}, [3]float64{sr, sgc, sb})
				mixR, mixG, mixB = mix[0], mix[1], mix[2]
			} else {
				mixR = fn(br, sr)
				mixG = fn(bgc, sgc)
				mixB = fn(bb, sb)
			}

			outA := srcAlpha + float64(bg.A)/255*(1-srcAlpha)

			out := color.RGBA{
				R: chanB(lerp(br, mixR, srcAlpha)),
				G: chanB(lerp(bgc, mixG, srcAlpha)),
				B: chanB(lerp(bb, mixB, srcAlpha)),
				A: chanB(outA),
			}
			dst.SetRGBA(x, y, out)
		}
	}
}

func chanF(v uint8) float64 { return float64(v) / 255 }
func chanB(v float64) uint8 { return uint8(clamp01(v) * 255) }
func lerp(a, b, t float64) float64 { return a + (b-a)*t }

// applyLevels applies the per-layer min/max/gamma input-output remap of
// spec.md §3 to every RGB channel of img, in place.
func applyLevels(img *image.RGBA, l frame.Levels) {
	if l == frame.IdentityLevels() {
		return
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.RGBAAt(x, y)
			img.SetRGBA(x, y, color.RGBA{
				R: chanB(remapLevel(chanF(c.R), l)),
				G: chanB(remapLevel(chanF(c.G), l)),
				B: chanB(remapLevel(chanF(c.B), l)),
				A: c.A,
			})
		}
	}
}

func remapLevel(v float64, l frame.Levels) float64 {
	span := l.MaxInput - l.MinInput
	if span <= 0 {
		span = 1
	}
	n := clamp01((v - l.MinInput) / span)
	if l.Gamma != 1 && l.Gamma > 0 {
		n = math.Pow(n, 1/l.Gamma)
	}
	return l.MinOutput + n*(l.MaxOutput-l.MinOutput)
}

// applyChroma keys out pixels near the target hue within the chroma
// parameters, writing the result into the source's alpha channel so the
// subsequent blend treats keyed pixels as transparent (spec.md §3/§4.3).
func applyChroma(img *image.RGBA, c frame.Chroma) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			px := img.RGBAAt(x, y)
			h, s, v := rgbToHSV(chanF(px.R), chanF(px.G), chanF(px.B))

			dist := hueDistance(h, c.TargetHue)
			keyed := dist <= c.HueWidth/2 && s >= c.MinSaturation && v >= c.MinBrightness

			if c.ShowMask {
				if keyed {
					img.SetRGBA(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
				} else {
					img.SetRGBA(x, y, color.RGBA{A: 255})
				}
				continue
			}

			if keyed {
				edge := 1.0
				if c.Softness > 0 {
					edge = clamp01((c.HueWidth/2 - dist) / c.Softness)
				}
				a := chanF(px.A) * (1 - edge)
				px.A = chanB(a)
				img.SetRGBA(x, y, px)
			}
		}
	}
}

func hueDistance(a, b float64) float64 {
	d := math.Abs(a - b)
	if d > 180 {
		d = 360 - d
	}
	return d
}

func rgbToHSV(r, g, bl float64) (h, s, v float64) {
	max := math.Max(r, math.Max(g, bl))
	min := math.Min(r, math.Min(g, bl))
	v = max
	d := max - min
	if max == 0 {
		s = 0
	} else {
		s = d / max
	}
	if d == 0 {
		h = 0
		return
	}
	switch max {
	case r:
		h = 60 * math.Mod((g-bl)/d, 6)
	case g:
		h = 60 * ((bl-r)/d + 2)
	case bl:
		h = 60 * ((r-g)/d + 4)
	}
	if h < 0 {
		h += 360
	}
	return
}
