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

package playoutcfg

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeChannelConfig(t *testing.T, dir, id string, c Config) {
	t.Helper()
	data, err := json.Marshal(c)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".json"), data, 0o600))
}

func newTestManager(t *testing.T) (string, *Manager) {
	t.Helper()
	dir := t.TempDir()
	writeChannelConfig(t, dir, "1", Config{"id": "1", "format": "1080i50"})
	writeChannelConfig(t, dir, "2", Config{"id": "2", "format": "720p50"})

	m, err := NewManager(dir)
	require.NoError(t, err)
	return dir, m
}

func TestNewManagerLoadsEveryJSONFile(t *testing.T) {
	_, m := newTestManager(t)
	require.Equal(t, "1080i50", m.channels["1"].config["format"])
	require.Equal(t, "720p50", m.channels["2"].config["format"])
}

func TestNewManagerReadErr(t *testing.T) {
	_, err := NewManager("/dev/null/does-not-exist")
	require.Error(t, err)
}

func TestNewManagerUnmarshalErr(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{"), 0o600))

	_, err := NewManager(dir)
	require.Error(t, err)
}

func TestSetCreatesNewChannel(t *testing.T) {
	dir, m := newTestManager(t)

	require.NoError(t, m.Set("3", Config{"id": "3", "format": "1080p25"}))
	require.Equal(t, "1080p25", m.channels["3"].config["format"])

	data, err := os.ReadFile(filepath.Join(dir, "3.json"))
	require.NoError(t, err)
	var saved Config
	require.NoError(t, json.Unmarshal(data, &saved))
	require.Equal(t, "1080p25", saved["format"])
}

func TestSetUpdatesExistingChannel(t *testing.T) {
	_, m := newTestManager(t)

	require.NoError(t, m.Set("1", Config{"id": "1", "format": "4k25"}))
	require.Equal(t, "4k25", m.channels["1"].config["format"])
}

func TestSetWriteErr(t *testing.T) {
	_, m := newTestManager(t)
	m.path = "/dev/null"

	require.Error(t, m.Set("1", Config{}))
}

func TestDeleteRemovesChannel(t *testing.T) {
	dir, m := newTestManager(t)

	require.NoError(t, m.Delete("1"))
	_, exists := m.channels["1"]
	require.False(t, exists)

	_, err := os.Stat(filepath.Join(dir, "1.json"))
	require.True(t, os.IsNotExist(err))
}

func TestDeleteNotExistErr(t *testing.T) {
	_, m := newTestManager(t)
	require.ErrorIs(t, m.Delete("missing"), ErrChannelNotExist)
}

func TestConfigsReturnsEveryChannel(t *testing.T) {
	_, m := newTestManager(t)

	configs := m.Configs()
	require.Len(t, configs, 2)
	require.Equal(t, "1080i50", configs["1"]["format"])
}

func TestNewEnvAppliesDefaultsAndDerivesConfigDir(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "env.yaml")

	env, err := NewEnv(envPath, []byte(""))
	require.NoError(t, err)
	require.Equal(t, "2020", env.Port)
	require.Equal(t, dir, env.ConfigDir)
}

func TestNewEnvHonorsExplicitPort(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "env.yaml")

	env, err := NewEnv(envPath, []byte("port: \"9000\"\n"))
	require.NoError(t, err)
	require.Equal(t, "9000", env.Port)
}

func TestPrepareEnvironmentCreatesChannelsDir(t *testing.T) {
	dir := t.TempDir()
	env := &Env{ConfigDir: dir}

	require.NoError(t, env.PrepareEnvironment())
	info, err := os.Stat(filepath.Join(dir, "channels"))
	require.NoError(t, err)
	require.True(t, info.IsDir())
}
