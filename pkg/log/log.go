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

// Package log is the pub-sub logger every playout package logs through:
// a fan-out feed of Log entries, persisted to a bbolt-backed ring by DB.
package log

// API inspired by zerolog https://github.com/rs/zerolog

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Level defines log level.
type Level uint8

// Logging constants, matching ffmpeg's.
const (
	LevelError   Level = 16
	LevelWarning Level = 24
	LevelInfo    Level = 32
	LevelDebug   Level = 48
)

// UnixMillisecond is a millisecond-resolution timestamp.
type UnixMillisecond uint64

// Event defines a log event under construction.
type Event struct {
	level   Level
	time    UnixMillisecond
	src     string // subsystem: "stage", "mixer", "output", ...
	channel string // channel index, formatted.
	layer   string // layer index, formatted.

	logger *Logger
}

// Log defines a persisted log entry.
type Log struct {
	Level   Level
	Time    UnixMillisecond
	Msg     string
	Src     string
	Channel string
	Layer   string
}

// Src sets the event's source subsystem.
func (e *Event) Src(source string) *Event {
	e.src = source
	return e
}

// Channel tags the event with a channel index.
func (e *Event) Channel(channelIndex int) *Event {
	e.channel = fmt.Sprintf("%d", channelIndex)
	return e
}

// Layer tags the event with a layer index.
func (e *Event) Layer(layerIndex int) *Event {
	e.layer = fmt.Sprintf("%d", layerIndex)
	return e
}

// Time sets the event's timestamp, overriding the default of now.
func (e *Event) Time(t time.Time) *Event {
	e.time = UnixMillisecond(t.UnixNano() / 1e6)
	return e
}

// Msg sends the Event with msg as the message field.
func (e *Event) Msg(msg string) {
	log := Log{
		Time:    e.time,
		Level:   e.level,
		Msg:     msg,
		Src:     e.src,
		Channel: e.channel,
		Layer:   e.layer,
	}
	e.logger.feed <- log
}

// Msgf sends the event with a formatted message.
func (e *Event) Msgf(format string, v ...interface{}) {
	e.Msg(fmt.Sprintf(format, v...))
}

// Feed is a read-only feed of logs.
type Feed <-chan Log
type logFeed chan Log

// Logger fans log events out to every active subscriber.
type Logger struct {
	feed  logFeed
	sub   chan logFeed
	unsub chan logFeed

	wg *sync.WaitGroup
}

// NewLogger returns a Logger; call Start to run its fan-out goroutine.
func NewLogger(wg *sync.WaitGroup) *Logger {
	return &Logger{
		feed:  make(logFeed),
		sub:   make(chan logFeed),
		unsub: make(chan logFeed),
		wg:    wg,
	}
}

// NewMockLogger returns a Logger suitable for tests, owning its own
// WaitGroup so callers don't need to supply one.
func NewMockLogger() *Logger {
	return NewLogger(&sync.WaitGroup{})
}

func (l *Logger) newEvent(level Level) *Event {
	return &Event{level: level, time: UnixMillisecond(time.Now().UnixNano() / 1e6), logger: l}
}

// Error starts an error-level event. Call Msg/Msgf to send it.
func (l *Logger) Error() *Event { return l.newEvent(LevelError) }

// Warn starts a warning-level event. Call Msg/Msgf to send it.
func (l *Logger) Warn() *Event { return l.newEvent(LevelWarning) }

// Info starts an info-level event. Call Msg/Msgf to send it.
func (l *Logger) Info() *Event { return l.newEvent(LevelInfo) }

// Debug starts a debug-level event. Call Msg/Msgf to send it.
func (l *Logger) Debug() *Event { return l.newEvent(LevelDebug) }

// Start runs the fan-out goroutine until ctx is cancelled.
func (l *Logger) Start(ctx context.Context) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		subs := map[logFeed]struct{}{}
		for {
			select {
			case <-ctx.Done():
				for ch := range subs {
					close(ch)
				}
				return

			case ch := <-l.sub:
				subs[ch] = struct{}{}

			case ch := <-l.unsub:
				close(ch)
				delete(subs, ch)

			case msg := <-l.feed:
				for ch := range subs {
					ch <- msg
				}
			}
		}
	}()
}

// CancelFunc cancels a log feed subscription.
type CancelFunc func()

// Subscribe returns a new feed of logs and a CancelFunc.
func (l *Logger) Subscribe() (<-chan Log, CancelFunc) {
	feed := make(logFeed)
	l.sub <- feed
	return feed, func() { l.unSubscribe(feed) }
}

func (l *Logger) unSubscribe(feed logFeed) {
	for {
		select {
		case l.unsub <- feed:
			return
		case <-feed:
		}
	}
}

// LogToStdout prints every log in the feed to stdout until ctx is done.
func (l *Logger) LogToStdout(ctx context.Context) {
	feed, cancel := l.Subscribe()
	defer cancel()
	for {
		select {
		case log, ok := <-feed:
			if !ok {
				return
			}
			fmt.Println(formatLog(log))
		case <-ctx.Done():
			return
		}
	}
}

func formatLog(log Log) string {
	var b strings.Builder
	switch log.Level {
	case LevelError:
		b.WriteString("[ERROR] ")
	case LevelWarning:
		b.WriteString("[WARNING] ")
	case LevelInfo:
		b.WriteString("[INFO] ")
	case LevelDebug:
		b.WriteString("[DEBUG] ")
	}
	if log.Channel != "" {
		b.WriteString("channel ")
		b.WriteString(log.Channel)
		if log.Layer != "" {
			b.WriteString("/layer ")
			b.WriteString(log.Layer)
		}
		b.WriteString(": ")
	}
	if log.Src != "" {
		b.WriteString(log.Src)
		b.WriteString(": ")
	}
	b.WriteString(log.Msg)
	return b.String()
}
