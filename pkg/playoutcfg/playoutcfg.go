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

// Package playoutcfg is the ambient configuration surface the core accepts
// config through: an on-disk Env (env.yaml) plus one JSON file per channel,
// loaded at startup and settable at runtime (spec.md §1: "configuration
// file loading" sits outside the core; this is the loader feeding it in).
package playoutcfg

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v2"
)

// Env stores the process-wide configuration read from env.yaml.
type Env struct {
	Port      string `yaml:"port"`
	ConfigDir string
}

// NewEnv parses envYAML, applying the same path-derived defaults the
// teacher's env.yaml loader does.
func NewEnv(envPath string, envYAML []byte) (*Env, error) {
	var env Env

	if err := yaml.Unmarshal(envYAML, &env); err != nil {
		return &Env{}, fmt.Errorf("could not unmarshal env.yaml: %w", err)
	}

	env.ConfigDir = filepath.Dir(envPath)

	if env.Port == "" {
		env.Port = "2020"
	}

	if !filepath.IsAbs(env.ConfigDir) {
		return nil, fmt.Errorf("configDir '%v' is not an absolute path", env.ConfigDir)
	}

	return &env, nil
}

// PrepareEnvironment creates the per-channel config directory.
func (env *Env) PrepareEnvironment() error {
	channelsDir := filepath.Join(env.ConfigDir, "channels")
	if err := os.MkdirAll(channelsDir, 0o700); err != nil && !os.IsExist(err) {
		return fmt.Errorf("could not create channels directory: %v: %w", channelsDir, err)
	}
	return nil
}

// Config is one channel's configuration: video format id, layer-startup
// hints, anything a control surface wants to persist. Kept as a loose
// string map, same shape as the teacher's group.Config, so new fields
// never require a schema migration.
type Config map[string]string

// Configs maps channel id to Config.
type Configs map[string]Config

type channelEntry struct {
	config Config
	mu     sync.Mutex
}

// Manager owns every channel's on-disk Config, loaded once at startup and
// mutable at runtime via Set/Delete.
type Manager struct {
	channels map[string]*channelEntry
	path     string
	mu       sync.Mutex
}

// NewManager loads every *.json file under configPath as a channel Config.
func NewManager(configPath string) (*Manager, error) {
	files, err := readConfigs(configPath)
	if err != nil {
		return nil, fmt.Errorf("could not read configuration files: %w", err)
	}

	m := &Manager{path: configPath, channels: make(map[string]*channelEntry)}

	for _, file := range files {
		var config Config
		if err := json.Unmarshal(file, &config); err != nil {
			return nil, fmt.Errorf("could not unmarshal config: %w: %v", err, file)
		}
		m.channels[config["id"]] = m.newChannelEntry(config)
	}

	return m, nil
}

func readConfigs(path string) ([][]byte, error) {
	var files [][]byte
	err := filepath.Walk(path, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if strings.HasSuffix(path, ".json") {
			file, err := ioutil.ReadFile(path)
			if err != nil {
				return fmt.Errorf("could not read file: %v %w", path, err)
			}
			files = append(files, file)
		}
		return nil
	})
	return files, err
}

func (m *Manager) newChannelEntry(config Config) *channelEntry {
	return &channelEntry{config: config}
}

// Set stores c as channel id's configuration, creating it if new, and
// persists it to disk.
func (m *Manager) Set(id string, c Config) error {
	m.mu.Lock()
	entry, exists := m.channels[id]
	if !exists {
		entry = m.newChannelEntry(c)
		m.channels[id] = entry
	} else {
		entry.mu.Lock()
		entry.config = c
		entry.mu.Unlock()
	}
	m.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()
	config, err := json.MarshalIndent(entry.config, "", "    ")
	if err != nil {
		return fmt.Errorf("could not marshal config: %w", err)
	}
	return ioutil.WriteFile(m.configPath(id), config, 0o600)
}

// ErrChannelNotExist reports an operation on an unconfigured channel id.
var ErrChannelNotExist = errors.New("channel does not exist")

// Delete removes a channel's configuration, in memory and on disk.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.channels[id]; !exists {
		return ErrChannelNotExist
	}
	delete(m.channels, id)

	if err := os.Remove(m.configPath(id)); err != nil {
		return err
	}
	return nil
}

func (m *Manager) configPath(id string) string {
	return filepath.Join(m.path, id+".json")
}

// Configs returns every channel's current configuration.
func (m *Manager) Configs() Configs {
	out := make(Configs)

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, entry := range m.channels {
		entry.mu.Lock()
		out[id] = entry.config
		entry.mu.Unlock()
	}
	return out
}
