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
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) (*DB, context.CancelFunc) {
	t.Helper()
	tempDir, err := os.MkdirTemp("", "")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	dbPath := filepath.Join(tempDir, "logs.db")
	logDB := NewDB(dbPath, &sync.WaitGroup{})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, logDB.Init(ctx))

	return logDB, cancel
}

func TestSaveLogThenQueryReturnsNewestFirst(t *testing.T) {
	logDB, cancel := newTestDB(t)
	defer cancel()

	require.NoError(t, logDB.saveLog(Log{Level: LevelError, Time: 1000, Src: "s1", Channel: "1", Msg: "a"}))
	require.NoError(t, logDB.saveLog(Log{Level: LevelWarning, Time: 2000, Src: "s1", Channel: "1", Msg: "b"}))
	require.NoError(t, logDB.saveLog(Log{Level: LevelInfo, Time: 3000, Src: "s2", Channel: "2", Msg: "c"}))

	logs, err := logDB.Query(Query{})
	require.NoError(t, err)
	require.Len(t, *logs, 3)
	require.Equal(t, "c", (*logs)[0].Msg)
	require.Equal(t, "b", (*logs)[1].Msg)
	require.Equal(t, "a", (*logs)[2].Msg)
}

func TestQueryFiltersByLevelSrcAndChannel(t *testing.T) {
	logDB, cancel := newTestDB(t)
	defer cancel()

	require.NoError(t, logDB.saveLog(Log{Level: LevelError, Time: 1000, Src: "s1", Channel: "1", Msg: "a"}))
	require.NoError(t, logDB.saveLog(Log{Level: LevelWarning, Time: 2000, Src: "s1", Channel: "1", Msg: "b"}))
	require.NoError(t, logDB.saveLog(Log{Level: LevelError, Time: 3000, Src: "s2", Channel: "2", Msg: "c"}))

	logs, err := logDB.Query(Query{Levels: []Level{LevelError}, Channels: []string{"1"}})
	require.NoError(t, err)
	require.Len(t, *logs, 1)
	require.Equal(t, "a", (*logs)[0].Msg)
}

func TestQueryRespectsLimit(t *testing.T) {
	logDB, cancel := newTestDB(t)
	defer cancel()

	for i := 0; i < 5; i++ {
		require.NoError(t, logDB.saveLog(Log{Time: UnixMillisecond(1000 + i), Msg: "m"}))
	}

	logs, err := logDB.Query(Query{Limit: 2})
	require.NoError(t, err)
	require.Len(t, *logs, 2)
}

func TestSaveLogEvictsOldestWhenOverMaxKeys(t *testing.T) {
	logDB, cancel := newTestDB(t)
	defer cancel()
	logDB.maxKeys = 2

	require.NoError(t, logDB.saveLog(Log{Time: 1000, Msg: "a"}))
	require.NoError(t, logDB.saveLog(Log{Time: 2000, Msg: "b"}))
	require.NoError(t, logDB.saveLog(Log{Time: 3000, Msg: "c"}))

	logs, err := logDB.Query(Query{})
	require.NoError(t, err)
	require.Len(t, *logs, 2)
	require.Equal(t, "c", (*logs)[0].Msg)
	require.Equal(t, "b", (*logs)[1].Msg)
}

func TestSaveLogsPersistsFromLoggerFeed(t *testing.T) {
	logDB, cancelDB := newTestDB(t)
	defer cancelDB()

	ctx, cancelLogger := context.WithCancel(context.Background())
	defer cancelLogger()
	logger := NewMockLogger()
	logger.Start(ctx)

	done := make(chan struct{})
	go func() {
		logDB.SaveLogs(ctx, logger)
		close(done)
	}()

	logger.Info().Src("stage").Channel(1).Msg("layer loaded")

	require.Eventually(t, func() bool {
		logs, err := logDB.Query(Query{})
		return err == nil && len(*logs) == 1
	}, time.Second, 5*time.Millisecond)

	cancelLogger()
	<-done
}
