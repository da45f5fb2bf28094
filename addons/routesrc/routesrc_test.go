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

package routesrc

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/pion/rtp/v2"
	"github.com/stretchr/testify/require"

	"playout/pkg/produce"
)

func testCtx() produce.Context {
	return produce.Context{ChannelIndex: 1, FormatID: "test", Width: 2, Height: 2}
}

func sdpFor(port int) string {
	return fmt.Sprintf(
		"v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nc=IN IP4 127.0.0.1\r\nt=0 0\r\nm=video %d RTP/AVP 96\r\n",
		port)
}

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func sendPacket(t *testing.T, port int, seq uint16, payload []byte) {
	t.Helper()
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    96,
			SequenceNumber: seq,
		},
		Payload: payload,
	}
	raw, err := pkt.Marshal()
	require.NoError(t, err)

	conn, err := net.Dial("udp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(raw)
	require.NoError(t, err)
}

func TestFactoryIgnoresOtherParams(t *testing.T) {
	p, ok, err := Factory(testCtx(), []string{"COLOR", "#FFFFFF"})
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, p)
}

func TestFactoryRejectsSDPWithoutVideoSection(t *testing.T) {
	_, ok, err := Factory(testCtx(), []string{"ROUTE", "v=0\r\ns=-\r\n"})
	require.Error(t, err)
	require.False(t, ok)
}

func TestProducerDepacketizesAFullFrame(t *testing.T) {
	ctx := testCtx()
	port := freeUDPPort(t)

	p, ok, err := Factory(ctx, []string{"ROUTE", sdpFor(port)})
	require.NoError(t, err)
	require.True(t, ok)
	rp := p.(*producer)
	defer rp.close()

	require.False(t, rp.IsReady())

	payload := make([]byte, ctx.Width*ctx.Height*4)
	for i := range payload {
		payload[i] = byte(i)
	}
	sendPacket(t, port, 1, payload)

	require.Eventually(t, rp.IsReady, time.Second, 5*time.Millisecond)

	f := rp.LastFrame()
	require.False(t, f.IsEmpty())
	require.Equal(t, payload, f.Planes()[0])
}

func TestProducerCountsDroppedSequenceGaps(t *testing.T) {
	ctx := testCtx()
	port := freeUDPPort(t)

	p, ok, err := Factory(ctx, []string{"ROUTE", sdpFor(port)})
	require.NoError(t, err)
	require.True(t, ok)
	rp := p.(*producer)
	defer rp.close()

	payload := make([]byte, ctx.Width*ctx.Height*4)
	sendPacket(t, port, 1, payload)
	sendPacket(t, port, 5, payload)

	require.Eventually(t, func() bool {
		rp.mu.Lock()
		defer rp.mu.Unlock()
		return rp.received == 2
	}, time.Second, 5*time.Millisecond)

	state := rp.State()
	require.Equal(t, uint64(1), state["dropped"])
}

func TestCallCloseStopsTheSocket(t *testing.T) {
	ctx := testCtx()
	port := freeUDPPort(t)

	p, ok, err := Factory(ctx, []string{"ROUTE", sdpFor(port)})
	require.NoError(t, err)
	require.True(t, ok)

	_, err = p.Call(context.Background(), []string{"CLOSE"})
	require.NoError(t, err)

	_, err = p.Receive(context.Background(), 0)
	require.Error(t, err)
}
