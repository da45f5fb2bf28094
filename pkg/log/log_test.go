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

package log

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestLogger() (context.Context, context.CancelFunc, *Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	logger := NewMockLogger()
	logger.Start(ctx)
	return ctx, cancel, logger
}

func TestEventBuildersTagTheLog(t *testing.T) {
	_, cancel, logger := newTestLogger()
	defer cancel()

	feed, unsub := logger.Subscribe()
	defer unsub()

	go logger.Warn().Src("stage").Channel(2).Layer(3).Msgf("layer %d stopped", 3)

	got := <-feed
	require.Equal(t, LevelWarning, got.Level)
	require.Equal(t, "stage", got.Src)
	require.Equal(t, "2", got.Channel)
	require.Equal(t, "3", got.Layer)
	require.Equal(t, "layer 3 stopped", got.Msg)
}

func TestSubscribeFanOutDeliversToEverySubscriber(t *testing.T) {
	_, cancel, logger := newTestLogger()
	defer cancel()

	feedA, unsubA := logger.Subscribe()
	defer unsubA()
	feedB, unsubB := logger.Subscribe()
	defer unsubB()

	go logger.Error().Src("output").Msg("consumer detached")

	a := <-feedA
	b := <-feedB
	require.Equal(t, a, b)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	_, cancel, logger := newTestLogger()
	defer cancel()

	feed, unsub := logger.Subscribe()
	unsub()

	_, ok := <-feed
	require.False(t, ok, "feed should be closed after unsubscribe")
}

func TestFormatLogIncludesChannelAndLayer(t *testing.T) {
	out := formatLog(Log{Level: LevelError, Src: "mixer", Channel: "1", Layer: "4", Msg: "boom"})
	require.Equal(t, "[ERROR] channel 1/layer 4: mixer: boom", out)
}
