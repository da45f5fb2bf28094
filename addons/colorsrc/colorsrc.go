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

// Package colorsrc is the built-in color-field producer: "PLAY 1-10
// COLOR #FF0000FF" style parameter vectors produce an unending solid-color
// frame with silent audio, the simplest possible producer.Producer.
package colorsrc

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"playout/pkg/frame"
	"playout/pkg/produce"
)

// rgba is the parsed #RRGGBBAA (or #RRGGBB, alpha defaulting to opaque).
type rgba struct{ r, g, b, a byte }

func parseColor(s string) (rgba, error) {
	s = strings.TrimPrefix(s, "#")
	switch len(s) {
	case 6, 8:
	default:
		return rgba{}, fmt.Errorf("color must be #RRGGBB or #RRGGBBAA, got %q", s)
	}

	raw, err := hex.DecodeString(s)
	if err != nil {
		return rgba{}, fmt.Errorf("invalid hex color %q: %w", s, err)
	}

	c := rgba{r: raw[0], g: raw[1], b: raw[2], a: 0xFF}
	if len(raw) == 4 {
		c.a = raw[3]
	}
	return c, nil
}

// producer is a const solid-color frame served forever: Receive always
// returns the same committed Frame, so there is no per-tick allocation
// once the field is built.
type producer struct {
	color rgba
	frame *frame.Frame
}

// New builds a color-field producer filling ctx's frame geometry with
// color.
func New(ctx produce.Context, color rgba) produce.Producer {
	desc := frame.NewPixelFormatDesc(frame.BGRA, ctx.Width, ctx.Height)
	m := frame.NewMutable(desc, frame.Tag{ProducerName: "colorsrc"})

	plane := m.Planes[0]
	stride := desc.Planes[0].Stride
	for y := 0; y < ctx.Height; y++ {
		row := plane[y*stride : y*stride+ctx.Width*4]
		for x := 0; x < ctx.Width; x++ {
			px := row[x*4 : x*4+4]
			px[0], px[1], px[2], px[3] = color.b, color.g, color.r, color.a
		}
	}

	return &producer{color: color, frame: m.Commit(frame.Identity())}
}

func (p *producer) Receive(context.Context, int) (*frame.Frame, error) { return p.frame, nil }
func (p *producer) LastFrame() *frame.Frame                            { return p.frame }
func (p *producer) IsReady() bool                                      { return true }
func (p *producer) NbFrames() uint64                                   { return produce.NbFramesUnknown }
func (p *producer) FrameNumber() uint64                                { return 0 }
func (p *producer) LeadingProducer(int) (produce.Producer, bool)       { return nil, false }

func (p *producer) Call(context.Context, []string) (string, error) {
	return "", &produce.Error{Kind: produce.NotImplemented, Detail: "colorsrc has no RPCs"}
}

func (p *producer) State() produce.StateSnapshot {
	return produce.StateSnapshot{
		"type":  "colorsrc",
		"color": fmt.Sprintf("#%02X%02X%02X%02X", p.color.r, p.color.g, p.color.b, p.color.a),
	}
}

func (p *producer) Name() string { return "colorsrc" }

// Factory claims a ["COLOR", "#RRGGBB[AA]"] parameter vector.
func Factory(ctx produce.Context, params []string) (produce.Producer, bool, error) {
	if len(params) != 2 || !strings.EqualFold(params[0], "COLOR") {
		return nil, false, nil
	}

	color, err := parseColor(params[1])
	if err != nil {
		return nil, false, &produce.Error{Kind: produce.InvalidArgument, Detail: err.Error()}
	}

	return New(ctx, color), true, nil
}
