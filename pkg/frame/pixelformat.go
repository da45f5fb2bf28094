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

// PixelFormat enumerates the planar layouts a Frame's planes may hold.
type PixelFormat uint8

// Pixel formats.
const (
	Invalid PixelFormat = iota
	BGRA
	RGBA
	BGR
	RGB
	YUV420P
	YUV422P
	YUV444P
	YCbCrA
	Gray
)

// Plane describes one plane of pixel data.
type Plane struct {
	Width     int
	Height    int
	Stride    int
	DepthByte int
}

// Size returns the number of bytes the plane occupies.
func (p Plane) Size() int { return p.Stride * p.Height }

// PixelFormatDesc pairs an enumerant with its ordered plane layout.
type PixelFormatDesc struct {
	Format PixelFormat
	Planes []Plane
}

// NewPixelFormatDesc builds the canonical plane layout for a format at a
// given width/height, matching the teacher's per-format plane math.
func NewPixelFormatDesc(format PixelFormat, width, height int) PixelFormatDesc {
	switch format {
	case BGRA, RGBA:
		return PixelFormatDesc{Format: format, Planes: []Plane{
			{Width: width, Height: height, Stride: width * 4, DepthByte: 1},
		}}
	case BGR, RGB:
		return PixelFormatDesc{Format: format, Planes: []Plane{
			{Width: width, Height: height, Stride: width * 3, DepthByte: 1},
		}}
	case Gray:
		return PixelFormatDesc{Format: format, Planes: []Plane{
			{Width: width, Height: height, Stride: width, DepthByte: 1},
		}}
	case YUV420P:
		cw, ch := (width+1)/2, (height+1)/2
		return PixelFormatDesc{Format: format, Planes: []Plane{
			{Width: width, Height: height, Stride: width, DepthByte: 1},
			{Width: cw, Height: ch, Stride: cw, DepthByte: 1},
			{Width: cw, Height: ch, Stride: cw, DepthByte: 1},
		}}
	case YUV422P:
		cw := (width + 1) / 2
		return PixelFormatDesc{Format: format, Planes: []Plane{
			{Width: width, Height: height, Stride: width, DepthByte: 1},
			{Width: cw, Height: height, Stride: cw, DepthByte: 1},
			{Width: cw, Height: height, Stride: cw, DepthByte: 1},
		}}
	case YUV444P:
		return PixelFormatDesc{Format: format, Planes: []Plane{
			{Width: width, Height: height, Stride: width, DepthByte: 1},
			{Width: width, Height: height, Stride: width, DepthByte: 1},
			{Width: width, Height: height, Stride: width, DepthByte: 1},
		}}
	case YCbCrA:
		return PixelFormatDesc{Format: format, Planes: []Plane{
			{Width: width, Height: height, Stride: width, DepthByte: 1},
			{Width: width, Height: height, Stride: width, DepthByte: 1},
			{Width: width, Height: height, Stride: width, DepthByte: 1},
			{Width: width, Height: height, Stride: width, DepthByte: 1},
		}}
	default:
		return PixelFormatDesc{Format: Invalid}
	}
}

// IsYUV reports whether the format requires a YUV->RGB color matrix pass.
func (d PixelFormatDesc) IsYUV() bool {
	switch d.Format {
	case YUV420P, YUV422P, YUV444P, YCbCrA:
		return true
	default:
		return false
	}
}
