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

package monitor

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/stretchr/testify/require"

	"playout/pkg/channel"
)

func newTestMonitor(t *testing.T) (*Monitor, context.CancelFunc) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "monitor.db")
	m := New(dbPath, nil, &sync.WaitGroup{})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Init(ctx))
	return m, cancel
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	m, cancel := newTestMonitor(t)
	defer cancel()

	feed, unsub := m.Subscribe()
	defer unsub()

	require.NoError(t, m.Publish(channel.Snapshot{ChannelIndex: 1, Tick: 7}))

	data := <-feed
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	require.Equal(t, 1, env.Snapshot.ChannelIndex)
	require.Equal(t, uint64(7), env.Snapshot.Tick)
}

func TestPublishPersistsToHistory(t *testing.T) {
	m, cancel := newTestMonitor(t)
	defer cancel()

	for tick := uint64(1); tick <= 3; tick++ {
		require.NoError(t, m.Publish(channel.Snapshot{ChannelIndex: 2, Tick: tick}))
	}
	require.NoError(t, m.Publish(channel.Snapshot{ChannelIndex: 5, Tick: 1}))

	history, err := m.History(2, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)

	var first Envelope
	require.NoError(t, json.Unmarshal(history[0], &first))
	require.Equal(t, uint64(1), first.Snapshot.Tick)
}

func TestHistoryRespectsLimit(t *testing.T) {
	m, cancel := newTestMonitor(t)
	defer cancel()

	for tick := uint64(1); tick <= 5; tick++ {
		require.NoError(t, m.Publish(channel.Snapshot{ChannelIndex: 1, Tick: tick}))
	}

	history, err := m.History(1, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)

	var last Envelope
	require.NoError(t, json.Unmarshal(history[len(history)-1], &last))
	require.Equal(t, uint64(5), last.Snapshot.Tick)
}

func TestPublishEvictsOldestTickWhenOverMaxHistory(t *testing.T) {
	m, cancel := newTestMonitor(t)
	defer cancel()
	m.maxHistory = 2

	for tick := uint64(1); tick <= 3; tick++ {
		require.NoError(t, m.Publish(channel.Snapshot{ChannelIndex: 1, Tick: tick}))
	}

	history, err := m.History(1, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)

	var first Envelope
	require.NoError(t, json.Unmarshal(history[0], &first))
	require.Equal(t, uint64(2), first.Snapshot.Tick)
}

func TestUnsubscribeClosesFeed(t *testing.T) {
	m, cancel := newTestMonitor(t)
	defer cancel()

	feed, unsub := m.Subscribe()
	unsub()

	_, ok := <-feed
	require.False(t, ok)
}

func TestHostSamplerUpdateStoresLatestUsage(t *testing.T) {
	s := &HostSampler{
		cpu: func(context.Context, time.Duration, bool) ([]float64, error) { return []float64{42}, nil },
		ram: func() (*mem.VirtualMemoryStat, error) { return &mem.VirtualMemoryStat{UsedPercent: 55}, nil },
	}

	require.NoError(t, s.update(context.Background()))
	usage := s.Usage()
	require.Equal(t, 42, usage.CPUPercent)
	require.Equal(t, 55, usage.RAMPercent)
}
