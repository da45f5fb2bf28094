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

// Package channel implements the Channel tick (C9) and Output fan-out
// (C10) of spec.md §4.7: one goroutine per channel paces the mix tick,
// and Output concurrently pushes the mixed frame to every attached
// consumer under a per-consumer deadline.
package channel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"playout/pkg/consume"
	"playout/pkg/frame"
	"playout/pkg/vformat"
)

// lateThreshold is the number of consecutive missed deadlines that
// promotes a consumer from transient-late to fatal (spec.md §4.7).
const lateThreshold = 3

// attachedConsumer tracks one Output slot.
type attachedConsumer struct {
	port      int
	consumer  consume.Consumer
	lateCount int
	warmup    []*frame.Frame // frames still owed to a freshly attached consumer

	// sending guards against two overlapping sends to the same consumer:
	// a goroutine abandoned after blowing its deadline keeps running and
	// mutating warmup/calling Send in the background, so the next tick
	// must not spawn a second one on top of it (spec.md §4.7 step 5).
	sending int32
}

// tryAcquire claims the consumer's in-flight slot, returning false if a
// previous send (possibly abandoned after a blown deadline) hasn't
// finished yet.
func (ac *attachedConsumer) tryAcquire() bool {
	return atomic.CompareAndSwapInt32(&ac.sending, 0, 1)
}

// release frees the in-flight slot. Called by the goroutine that actually
// performed the send, however late, never by the caller that merely
// stopped waiting on it.
func (ac *attachedConsumer) release() {
	atomic.StoreInt32(&ac.sending, 0)
}

// Output fans a channel's mixed frames out to every attached consumer,
// enforcing the per-consumer send deadline and buffer-depth warm-up
// replay of spec.md §4.7.
type Output struct {
	mu        sync.Mutex
	consumers []*attachedConsumer
	nextPort  int

	history []*frame.Frame // ring of the last maxHistory committed frames, for warm-up replay
}

// maxHistory bounds how many committed frames Output retains for warming
// up newly attached consumers; no real consumer declares a deeper buffer
// than this in practice.
const maxHistory = 16

// NewOutput returns an empty Output fan-out.
func NewOutput() *Output { return &Output{} }

// Attach adds a consumer and returns its stable port (spec.md §4.2's
// "Consumer port" invariant). If the consumer declares buffer_depth > 0
// it is warmed up with the last that many committed frames before
// joining the steady stream.
func (o *Output) Attach(format vformat.Format, channels consume.ChannelsSnapshot, c consume.Consumer) (int, error) {
	o.mu.Lock()
	port := o.nextPort
	o.nextPort++

	depth := c.BufferDepth()
	var warmup []*frame.Frame
	if depth > 0 {
		n := depth
		if n > len(o.history) {
			n = len(o.history)
		}
		warmup = append(warmup, o.history[len(o.history)-n:]...)
	}
	o.mu.Unlock()

	if err := c.Initialize(format, channels, port); err != nil {
		return 0, fmt.Errorf("initialize consumer: %w", err)
	}

	ac := &attachedConsumer{port: port, consumer: c, warmup: warmup}

	o.mu.Lock()
	o.consumers = append(o.consumers, ac)
	o.mu.Unlock()

	return port, nil
}

// DetachByPort removes a consumer by port and waits for any send still
// running against it (one abandoned after a missed deadline keeps going
// in its own goroutine) to finish before returning.
func (o *Output) DetachByPort(port int) bool {
	o.mu.Lock()
	var detached *attachedConsumer
	for i, ac := range o.consumers {
		if ac.port == port {
			o.consumers = append(o.consumers[:i], o.consumers[i+1:]...)
			detached = ac
			break
		}
	}
	o.mu.Unlock()
	if detached == nil {
		return false
	}
	for !detached.tryAcquire() {
		time.Sleep(time.Millisecond)
	}
	return true
}

// DetachByName removes the first consumer whose Name matches, the
// parameter-vector-equality removal path of spec.md §3's Consumer port
// invariant (parameter vectors are collapsed to Name() equality here
// since the control surface that owns raw parameter vectors is out
// of the core's scope per spec.md §1).
func (o *Output) DetachByName(name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, ac := range o.consumers {
		if ac.consumer.Name() == name {
			o.consumers = append(o.consumers[:i], o.consumers[i+1:]...)
			return true
		}
	}
	return false
}

// HasSynchronizationClock reports whether any attached consumer declares
// itself the channel's tick pacer (spec.md §4.7 step 1). Channel.Run
// consults this to skip its own precision-timer sleep and let that
// consumer's Send call (which blocks on its own hardware/wall clock)
// set the cadence instead.
func (o *Output) HasSynchronizationClock() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ac := range o.consumers {
		if ac.consumer.HasSynchronizationClock() {
			return true
		}
	}
	return false
}

// PortStatus is one consumer's fan-out telemetry, for the per-tick state
// snapshot of spec.md §4.7 step 6.
type PortStatus struct {
	Port      int
	Name      string
	LateCount int
	Detached  bool
}

// Push concurrently calls Send on every attached consumer (plus any
// owed warm-up frames first), enforcing deadline per consumer, and
// returns telemetry plus the detached ports (spec.md §4.7 steps 4-5).
func (o *Output) Push(ctx context.Context, f *frame.Frame, deadline time.Duration) []PortStatus {
	o.mu.Lock()
	targets := make([]*attachedConsumer, len(o.consumers))
	copy(targets, o.consumers)
	o.history = append(o.history, f)
	if len(o.history) > maxHistory {
		o.history = o.history[len(o.history)-maxHistory:]
	}
	o.mu.Unlock()

	statuses := make([]PortStatus, len(targets))
	toDetach := map[int]bool{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, ac := range targets {
		i, ac := i, ac
		g.Go(func() error {
			if !ac.tryAcquire() {
				// A previous send (abandoned after a blown deadline) is
				// still running against this consumer; count this tick
				// as late too rather than racing a second Send/warmup
				// drain on top of it.
				mu.Lock()
				defer mu.Unlock()
				ac.lateCount++
				fatal := ac.lateCount >= lateThreshold
				if fatal {
					toDetach[ac.port] = true
				}
				statuses[i] = PortStatus{Port: ac.port, Name: ac.consumer.Name(), LateCount: ac.lateCount, Detached: fatal}
				return nil
			}

			deadlineCtx, cancel := context.WithTimeout(gctx, deadline)
			defer cancel()

			ok, late := sendWithDeadline(deadlineCtx, ac, f)

			mu.Lock()
			defer mu.Unlock()
			if late {
				ac.lateCount++
			} else {
				ac.lateCount = 0
			}
			fatal := ac.lateCount >= lateThreshold
			if !ok || fatal {
				toDetach[ac.port] = true
			}
			statuses[i] = PortStatus{Port: ac.port, Name: ac.consumer.Name(), LateCount: ac.lateCount, Detached: !ok || fatal}
			return nil
		})
	}
	_ = g.Wait()

	if len(toDetach) > 0 {
		o.mu.Lock()
		kept := o.consumers[:0]
		for _, ac := range o.consumers {
			if !toDetach[ac.port] {
				kept = append(kept, ac)
			}
		}
		o.consumers = kept
		o.mu.Unlock()
	}

	return statuses
}

// sendWithDeadline delivers any owed warm-up frames then f itself,
// reporting (wantsMore, wasLate). A consumer that blows its deadline is
// reported late immediately so the tick is never held up; its goroutine
// is abandoned rather than killed, matching the producer/consumer
// contract's "the core assumes nothing about their internal concurrency"
// stance of spec.md §5 — three consecutive late ticks still detach it.
// The goroutine, however late it finishes, releases ac's in-flight slot
// itself so Push's tryAcquire never overlaps a second send against the
// same consumer.
func sendWithDeadline(ctx context.Context, ac *attachedConsumer, f *frame.Frame) (bool, bool) {
	done := make(chan struct {
		ok  bool
		err error
	}, 1)

	go func() {
		defer ac.release()
		for len(ac.warmup) > 0 {
			wf := ac.warmup[0]
			ac.warmup = ac.warmup[1:]
			if ok, err := ac.consumer.Send(wf); err != nil || !ok {
				done <- struct {
					ok  bool
					err error
				}{ok, err}
				return
			}
		}
		ok, err := ac.consumer.Send(f)
		done <- struct {
			ok  bool
			err error
		}{ok, err}
	}()

	select {
	case r := <-done:
		return r.ok && r.err == nil, false
	case <-ctx.Done():
		return true, true
	}
}
