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

// Package routesrc is the built-in routed-feed producer: "ROUTE <sdp>"
// binds a UDP socket described by an SDP offer and depacketizes the raw
// RTP payload straight into BGRA frames, a network analogue of a SDI
// routed input.
package routesrc

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp/v2"
	"github.com/pion/sdp/v3"

	"playout/pkg/frame"
	"playout/pkg/produce"
)

// maxDatagram is large enough for a jumbo-frame RTP packet; payloads
// bigger than a single frame's worth of pixel data are truncated on
// receive, per the fixed ctx.Width/ctx.Height binding below.
const maxDatagram = 65535

// producer receives RTP packets carrying raw BGRA payloads on a UDP
// socket described by an SDP media section, and exposes the most
// recently completed frame to the channel tick loop.
type producer struct {
	ctx  produce.Context
	conn *net.UDPConn

	mu       sync.Mutex
	last     *frame.Frame
	lastSeq  uint16
	haveSeq  bool
	dropped  uint64
	received uint64

	frameNumber atomic.Uint64
	closed      atomic.Bool
}

// New binds a UDP listener at addr and starts depacketizing RTP packets
// into ctx-sized BGRA frames on a background goroutine.
func New(ctx produce.Context, addr *net.UDPAddr) (*producer, error) {
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("routesrc: could not bind %v: %w", addr, err)
	}

	p := &producer{ctx: ctx, conn: conn, last: frame.Empty(frame.Tag{ProducerName: "routesrc"})}
	go p.readLoop()
	return p, nil
}

func (p *producer) readLoop() {
	buf := make([]byte, maxDatagram)
	desc := frame.NewPixelFormatDesc(frame.BGRA, p.ctx.Width, p.ctx.Height)
	wantBytes := 0
	for _, plane := range desc.Planes {
		wantBytes += plane.Size()
	}

	for {
		n, err := p.conn.Read(buf)
		if err != nil {
			return // socket closed
		}

		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue // malformed packet, drop and keep listening
		}

		p.mu.Lock()
		p.received++
		if p.haveSeq && pkt.SequenceNumber != p.lastSeq+1 {
			p.dropped++
		}
		p.lastSeq, p.haveSeq = pkt.SequenceNumber, true
		p.mu.Unlock()

		if len(pkt.Payload) < wantBytes {
			continue // short packet, can't fill a whole frame
		}

		m := frame.NewMutable(desc, frame.Tag{ProducerName: "routesrc"})
		copy(m.Planes[0], pkt.Payload[:wantBytes])
		f := m.Commit(frame.Identity())

		p.mu.Lock()
		p.last = f
		p.mu.Unlock()
		p.frameNumber.Add(1)
	}
}

func (p *producer) Receive(_ context.Context, _ int) (*frame.Frame, error) {
	if p.closed.Load() {
		return nil, &produce.Error{Kind: produce.Broken, Detail: "routesrc socket closed"}
	}
	return p.LastFrame(), nil
}

func (p *producer) LastFrame() *frame.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// IsReady reports whether at least one full frame has been depacketized.
func (p *producer) IsReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last != nil && !p.last.IsEmpty()
}

func (p *producer) NbFrames() uint64 { return produce.NbFramesUnknown }

func (p *producer) FrameNumber() uint64 { return p.frameNumber.Load() }

func (p *producer) LeadingProducer(int) (produce.Producer, bool) { return nil, false }

// Call supports "CLOSE" to release the UDP socket early.
func (p *producer) Call(_ context.Context, params []string) (string, error) {
	if len(params) == 1 && strings.EqualFold(params[0], "CLOSE") {
		p.close()
		return "", nil
	}
	return "", &produce.Error{Kind: produce.NotImplemented, Detail: "routesrc only supports CLOSE"}
}

func (p *producer) close() {
	if p.closed.CompareAndSwap(false, true) {
		p.conn.Close()
	}
}

func (p *producer) State() produce.StateSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return produce.StateSnapshot{
		"type":     "routesrc",
		"addr":     p.conn.LocalAddr().String(),
		"received": p.received,
		"dropped":  p.dropped,
	}
}

func (p *producer) Name() string { return "routesrc" }

// sdpVideoPort returns the UDP port of the first "video" media section in
// an SDP offer.
func sdpVideoPort(sdpText string) (int, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(sdpText)); err != nil {
		return 0, fmt.Errorf("invalid SDP: %w", err)
	}
	for _, md := range sd.MediaDescriptions {
		if md.MediaName.Media == "video" {
			return md.MediaName.Port.Value, nil
		}
	}
	return 0, fmt.Errorf("SDP has no video media section")
}

// Factory claims a ["ROUTE", "<sdp text>"] parameter vector.
func Factory(ctx produce.Context, params []string) (produce.Producer, bool, error) {
	if len(params) != 2 || !strings.EqualFold(params[0], "ROUTE") {
		return nil, false, nil
	}

	port, err := sdpVideoPort(params[1])
	if err != nil {
		return nil, false, &produce.Error{Kind: produce.InvalidArgument, Detail: err.Error()}
	}

	p, err := New(ctx, &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return nil, false, &produce.Error{Kind: produce.Broken, Detail: err.Error()}
	}
	return p, true, nil
}
