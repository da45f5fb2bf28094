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
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"playout/pkg/channel"
)

const bucketName = "ticks"

// defaultMaxHistory bounds how many tick snapshots the bbolt bucket
// retains across all channels together (the lowest key, i.e. the lowest
// channel index's oldest tick, is evicted first), mirroring pkg/log.DB's
// capped-ring approach.
const defaultMaxHistory = 3600

// Envelope is one published telemetry event: a channel's tick snapshot
// plus the host resource usage sampled at roughly the same time.
type Envelope struct {
	Snapshot channel.Snapshot `json:"snapshot"`
	Host     HostUsage        `json:"host"`
}

// Monitor fans out channel.Snapshot events to websocket subscribers and
// persists a bounded per-channel tick history to bbolt, per spec.md
// §4.7 step 6/§6.
type Monitor struct {
	dbPath      string
	maxHistory  int
	hostSampler *HostSampler

	mu   sync.Mutex
	subs map[chan []byte]struct{}

	db *bolt.DB
	wg *sync.WaitGroup
}

// New returns a Monitor backed by a bbolt file at dbPath. Call Init
// before the first Publish.
func New(dbPath string, hostSampler *HostSampler, wg *sync.WaitGroup) *Monitor {
	return &Monitor{
		dbPath:      dbPath,
		maxHistory:  defaultMaxHistory,
		hostSampler: hostSampler,
		subs:        make(map[chan []byte]struct{}),
		wg:          wg,
	}
}

// Init opens the bbolt file and its tick bucket, closing it once ctx is
// done, the same shutdown shape as pkg/log.DB.Init.
func (m *Monitor) Init(ctx context.Context) error {
	db, err := bolt.Open(m.dbPath, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return fmt.Errorf("could not open monitor database: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	}); err != nil {
		db.Close()
		return fmt.Errorf("could not create bucket: %w", err)
	}

	m.db = db
	m.wg.Add(1)
	go func() {
		<-ctx.Done()
		db.Close()
		m.wg.Done()
	}()

	return nil
}

// Publish fans out snap to every subscriber and appends it (with the
// latest host usage sample) to the tick history.
func (m *Monitor) Publish(snap channel.Snapshot) error {
	var host HostUsage
	if m.hostSampler != nil {
		host = m.hostSampler.Usage()
	}

	data, err := json.Marshal(Envelope{Snapshot: snap, Host: host})
	if err != nil {
		return fmt.Errorf("could not marshal snapshot: %w", err)
	}

	if m.db != nil {
		if err := m.save(snap.ChannelIndex, snap.Tick, data); err != nil {
			return fmt.Errorf("could not save snapshot: %w", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for sub := range m.subs {
		select {
		case sub <- data:
		default:
			// Slow subscriber: drop this tick rather than block the
			// channel's tick loop that called Publish.
		}
	}
	return nil
}

func (m *Monitor) save(channelIndex int, tick uint64, data []byte) error {
	key := tickKey(channelIndex, tick)

	return m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b.Stats().KeyN >= m.maxHistory {
			k, _ := b.Cursor().First()
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("could not delete oldest tick: %w", err)
			}
		}
		return b.Put(key, data)
	})
}

// History returns up to limit of the most recent persisted ticks for
// channelIndex, oldest first.
func (m *Monitor) History(channelIndex int, limit int) ([][]byte, error) {
	var out [][]byte

	err := m.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		c := b.Cursor()
		prefix := channelPrefix(channelIndex)

		var matched [][]byte
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			cp := make([]byte, len(v))
			copy(cp, v)
			matched = append(matched, cp)
		}
		if limit > 0 && len(matched) > limit {
			matched = matched[len(matched)-limit:]
		}
		out = matched
		return nil
	})
	return out, err
}

// Subscribe returns a channel of JSON-encoded Envelope values and a
// CancelFunc to stop receiving them.
func (m *Monitor) Subscribe() (<-chan []byte, func()) {
	sub := make(chan []byte, 16)

	m.mu.Lock()
	m.subs[sub] = struct{}{}
	m.mu.Unlock()

	return sub, func() {
		m.mu.Lock()
		delete(m.subs, sub)
		m.mu.Unlock()
		close(sub)
	}
}

func tickKey(channelIndex int, tick uint64) []byte {
	key := make([]byte, 4+8)
	binary.BigEndian.PutUint32(key[:4], uint32(channelIndex))
	binary.BigEndian.PutUint64(key[4:], tick)
	return key
}

func channelPrefix(channelIndex int) []byte {
	prefix := make([]byte, 4)
	binary.BigEndian.PutUint32(prefix, uint32(channelIndex))
	return prefix
}

func hasPrefix(key, prefix []byte) bool {
	if len(key) < len(prefix) {
		return false
	}
	for i := range prefix {
		if key[i] != prefix[i] {
			return false
		}
	}
	return true
}
