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

// Package imagemix implements the CPU-side image mixer of spec.md §4.3: a
// push/visit/pop draw-tree builder that composites one channel frame per
// tick out of however many layer frames Stage handed it, honoring each
// layer's blend mode, opacity, fill translation/scale, crop, levels and
// chroma key. Perspective and the geometry's scale mode are not applied.
package imagemix

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"

	"playout/pkg/frame"
)

// scope is one entry in the mixer's push/pop stack: an accumulator image
// plus the transform that will be used to composite it into its parent
// once popped. The root scope's parent is nil; it becomes the channel's
// output frame.
type scope struct {
	transform frame.ImageTransform
	img       *image.RGBA
}

// Mixer assembles one channel frame per tick. It is not safe for
// concurrent use; Stage drives it from a single tick goroutine.
type Mixer struct {
	width, height int
	stack         []*scope
}

// New returns a Mixer for a channel of the given pixel dimensions.
func New(width, height int) *Mixer {
	m := &Mixer{width: width, height: height}
	m.stack = []*scope{{
		transform: frame.IdentityImageTransform(),
		img:       image.NewRGBA(image.Rect(0, 0, width, height)),
	}}
	return m
}

// reset clears the mixer's accumulators for the next tick, reusing the
// already-allocated root buffer.
func (m *Mixer) reset() {
	root := m.stack[0]
	draw.Draw(root.img, root.img.Bounds(), image.Transparent, image.Point{}, draw.Src)
	m.stack = m.stack[:1]
}

// Push opens a new compositing scope: every Visit until the matching Pop
// draws into a fresh accumulator, which Pop then blends into the
// enclosing scope using transform's blend mode and opacity. This is how
// is_key, is_mix and non-Normal blend modes build a sub-tree that is
// composited as a single unit (spec.md §4.3).
func (m *Mixer) Push(transform frame.ImageTransform) {
	m.stack = append(m.stack, &scope{
		transform: transform,
		img:       image.NewRGBA(image.Rect(0, 0, m.width, m.height)),
	})
}

// Visit draws one layer frame into the current scope's accumulator,
// applying chroma key and levels, then the fill translation/scale and
// crop, and blending with the frame's own opacity. Perspective is not
// applied.
func (m *Mixer) Visit(f *frame.Frame) error {
	top := m.stack[len(m.stack)-1]
	if f == nil || f.IsEmpty() {
		return nil
	}

	src, err := toRGBA(f)
	if err != nil {
		return err
	}

	t := f.Transform().Image
	if t.Chroma.Enable {
		applyChroma(src, t.Chroma)
	}
	applyLevels(src, t.Levels)

	fitted := scaleAndPlace(src, m.width, m.height, t)
	blendInto(top.img, fitted, t.BlendMode, t.Opacity, t.Invert)
	return nil
}

// VisitSting draws a mask-driven Sting transition into the current scope:
// source and target are crossfaded per-pixel by mask's luminance (white
// reveals target, black keeps source), then overlay, if present, is
// composited on top at full strength regardless of mask (spec.md §4.5 —
// "overlay_filename ... composited on top always"). Any of target/mask/
// overlay may be nil or empty; source is expected to be present.
func (m *Mixer) VisitSting(source, target, mask, overlay *frame.Frame) error {
	top := m.stack[len(m.stack)-1]

	srcImg, err := toRGBAOrTransparent(source, m.width, m.height)
	if err != nil {
		return err
	}
	tgtImg, err := toRGBAOrTransparent(target, m.width, m.height)
	if err != nil {
		return err
	}
	maskImg, err := toRGBAOrTransparent(mask, m.width, m.height)
	if err != nil {
		return err
	}

	composite := crossfadeByLuma(srcImg, tgtImg, maskImg)
	blendInto(top.img, composite, frame.Normal, 1, false)

	if overlay != nil && !overlay.IsEmpty() {
		overlayImg, err := toRGBAOrTransparent(overlay, m.width, m.height)
		if err != nil {
			return err
		}
		blendInto(top.img, overlayImg, frame.Normal, 1, false)
	}
	return nil
}

// Pop closes the current scope, compositing its accumulator into the
// enclosing one using the scope's own transform (its blend mode and
// opacity), and returns to the parent scope. Popping the root scope is a
// no-op; callers should call Render instead.
func (m *Mixer) Pop() {
	if len(m.stack) <= 1 {
		return
	}
	top := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	parent := m.stack[len(m.stack)-1]

	blendInto(parent.img, top.img, top.transform.BlendMode, top.transform.Opacity, top.transform.Invert)
}

// Render finalizes the tick: it collapses any scopes a caller forgot to
// Pop (defensively, bottom to top) and returns the assembled channel
// frame, then resets the mixer for the next tick.
func (m *Mixer) Render(tag frame.Tag) *frame.Frame {
	for len(m.stack) > 1 {
		m.Pop()
	}

	root := m.stack[0].img
	desc := frame.NewPixelFormatDesc(frame.BGRA, m.width, m.height)
	mut := frame.NewMutable(desc, tag)
	packBGRA(mut.Planes[0], root)

	result := mut.Commit(frame.Identity())
	m.reset()
	return result
}

// toRGBAOrTransparent is toRGBA scaled/placed onto a wxh canvas per f's own
// transform, or a fully transparent canvas if f is nil/empty — used by
// VisitSting so a missing overlay or not-yet-available target frame
// degrades to a no-op layer instead of an error.
func toRGBAOrTransparent(f *frame.Frame, w, h int) (*image.RGBA, error) {
	if f == nil || f.IsEmpty() {
		return image.NewRGBA(image.Rect(0, 0, w, h)), nil
	}
	src, err := toRGBA(f)
	if err != nil {
		return nil, err
	}
	return scaleAndPlace(src, w, h, f.Transform().Image), nil
}

// crossfadeByLuma blends source and target per pixel, weighted by mask's
// luminance at that pixel (0 keeps source, 1 takes target), per the Sting
// transition's luma-wipe compositing (spec.md §4.5).
func crossfadeByLuma(source, target, mask *image.RGBA) *image.RGBA {
	b := source.Bounds()
	out := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			sc := source.RGBAAt(x, y)
			tc := target.RGBAAt(x, y)
			mc := mask.RGBAAt(x, y)
			// Snap to the 8-bit grid so a pure white mask weighs exactly 1.
			l := math.Round(lum([3]float64{chanF(mc.R), chanF(mc.G), chanF(mc.B)})*255) / 255
			out.SetRGBA(x, y, color.RGBA{
				R: chanB(lerp(chanF(sc.R), chanF(tc.R), l)),
				G: chanB(lerp(chanF(sc.G), chanF(tc.G), l)),
				B: chanB(lerp(chanF(sc.B), chanF(tc.B), l)),
				A: 255,
			})
		}
	}
	return out
}

func toRGBA(f *frame.Frame) (*image.RGBA, error) {
	desc := f.Desc()
	if len(desc.Planes) == 0 {
		return image.NewRGBA(image.Rect(0, 0, 0, 0)), nil
	}
	w, h := desc.Planes[0].Width, desc.Planes[0].Height
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	switch desc.Format {
	case frame.BGRA:
		unpackBGRA(f.Planes()[0], img, desc.Planes[0].Stride)
	case frame.RGBA:
		unpackRGBA(f.Planes()[0], img, desc.Planes[0].Stride)
	default:
		// Formats the mixer doesn't natively decode (planar YUV, BGR/RGB,
		// Gray) are addon-specific conversions outside this package's
		// scope; treat as transparent until an addon provides one.
	}
	return img, nil
}

func unpackBGRA(plane []byte, img *image.RGBA, stride int) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	for y := 0; y < h; y++ {
		row := plane[y*stride:]
		for x := 0; x < w; x++ {
			i := x * 4
			if i+3 >= len(row) {
				break
			}
			b, g, r, a := row[i], row[i+1], row[i+2], row[i+3]
			img.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: a})
		}
	}
}

func unpackRGBA(plane []byte, img *image.RGBA, stride int) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	for y := 0; y < h; y++ {
		row := plane[y*stride:]
		for x := 0; x < w; x++ {
			i := x * 4
			if i+3 >= len(row) {
				break
			}
			img.SetRGBA(x, y, color.RGBA{R: row[i], G: row[i+1], B: row[i+2], A: row[i+3]})
		}
	}
}

func packBGRA(plane []byte, img *image.RGBA) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	stride := w * 4
	for y := 0; y < h; y++ {
		row := plane[y*stride:]
		for x := 0; x < w; x++ {
			c := img.RGBAAt(x, y)
			i := x * 4
			row[i] = c.B
			row[i+1] = c.G
			row[i+2] = c.R
			row[i+3] = c.A
		}
	}
}

// scaleAndPlace maps src onto a channelW x channelH canvas per t's fill
// translation/scale and crop fields, using a high-quality resampler.
// t.Perspective is not read.
func scaleAndPlace(src *image.RGBA, channelW, channelH int, t frame.ImageTransform) *image.RGBA {
	// No caller applies frame.ScaleCorrection for the geometry's scale
	// mode; t.FillScale/FillTranslation are used exactly as given.
	dst := image.NewRGBA(image.Rect(0, 0, channelW, channelH))

	dx0 := int(t.FillTranslation[0] * float64(channelW))
	dy0 := int(t.FillTranslation[1] * float64(channelH))
	dw := int(t.FillScale[0] * float64(channelW))
	dh := int(t.FillScale[1] * float64(channelH))
	if dw <= 0 {
		dw = channelW
	}
	if dh <= 0 {
		dh = channelH
	}

	target := image.Rect(dx0, dy0, dx0+dw, dy0+dh)
	cropped := cropSource(src, t.Crop)
	draw.CatmullRom.Scale(dst, target, cropped, cropped.Bounds(), draw.Over, nil)
	return dst
}

func cropSource(src *image.RGBA, crop frame.Rect) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	x0 := int(crop.UL[0] * float64(w))
	y0 := int(crop.UL[1] * float64(h))
	x1 := int(crop.LR[0] * float64(w))
	y1 := int(crop.LR[1] * float64(h))
	if x1 <= x0 || y1 <= y0 {
		return src
	}
	return src.SubImage(image.Rect(x0, y0, x1, y1))
}
