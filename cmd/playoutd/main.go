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

// Command playoutd is the playout server process: it loads env.yaml and
// one JSON config per channel, binds a Channel per config, and serves
// telemetry over a websocket, the way the teacher's nvr.Run bootstraps
// its monitor manager and web server from the same two config layers.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"playout/addons/colorsrc"
	"playout/addons/memsink"
	"playout/addons/routesrc"
	"playout/pkg/channel"
	"playout/pkg/consume"
	"playout/pkg/log"
	"playout/pkg/monitor"
	"playout/pkg/playoutcfg"
	"playout/pkg/produce"
	"playout/pkg/vformat"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	envFlag := flag.String("env", "/etc/playout/env.yaml", "path to env.yaml")
	tokenFlag := flag.String("monitor-token", "", "shared secret required on the monitor websocket; empty disables auth")
	flag.Parse()

	envPath, err := filepath.Abs(*envFlag)
	if err != nil {
		return fmt.Errorf("could not resolve --env path: %w", err)
	}

	envYAML, err := os.ReadFile(envPath)
	if err != nil {
		return fmt.Errorf("could not read env.yaml: %w", err)
	}

	a, err := newApp(envPath, envYAML, *tokenFlag)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())

	fatal := make(chan error, 1)
	go func() { fatal <- a.run(ctx) }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err = <-fatal:
	case sig := <-stop:
		a.log.Info().Msgf("received %v, stopping", sig)
	}

	for _, c := range a.channels {
		c.Stop()
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if shutdownErr := a.server.Shutdown(shutdownCtx); shutdownErr != nil && err == nil {
		err = shutdownErr
	}

	a.wg.Wait()
	return err
}

type app struct {
	env       *playoutcfg.Env
	cfg       *playoutcfg.Manager
	log       *log.Logger
	logDB     *log.DB
	monitor   *monitor.Monitor
	sampler   *monitor.HostSampler
	vformats  *vformat.Registry
	producers *produce.Registry
	consumers *consume.Registry
	channels  []*channel.Channel
	server    *http.Server
	wg        *sync.WaitGroup
}

func newApp(envPath string, envYAML []byte, monitorToken string) (*app, error) {
	env, err := playoutcfg.NewEnv(envPath, envYAML)
	if err != nil {
		return nil, fmt.Errorf("could not parse env.yaml: %w", err)
	}
	if err := env.PrepareEnvironment(); err != nil {
		return nil, fmt.Errorf("could not prepare environment: %w", err)
	}

	wg := &sync.WaitGroup{}
	logger := log.NewLogger(wg)

	logDB := log.NewDB(filepath.Join(env.ConfigDir, "log.db"), wg)

	channelConfigDir := filepath.Join(env.ConfigDir, "channels")
	cfgManager, err := playoutcfg.NewManager(channelConfigDir)
	if err != nil {
		return nil, fmt.Errorf("could not load channel configs: %w", err)
	}

	vformats := vformat.NewRegistry()

	producers := produce.NewRegistry()
	producers.Register(colorsrc.Factory)
	producers.Register(routesrc.Factory)

	consumers := consume.NewRegistry()
	consumers.Register(memsink.Factory)

	sampler := monitor.NewHostSampler(time.Second, logger)
	mon := monitor.New(filepath.Join(env.ConfigDir, "monitor.db"), sampler, wg)

	channels, err := buildChannels(cfgManager.Configs(), vformats)
	if err != nil {
		return nil, err
	}

	var auth *monitor.TokenAuth
	if monitorToken != "" {
		auth, err = monitor.NewTokenAuth(monitorToken)
		if err != nil {
			return nil, fmt.Errorf("could not hash monitor token: %w", err)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/monitor", mon.ServeWS(auth))

	server := &http.Server{Addr: ":" + env.Port, Handler: mux}

	return &app{
		env:       env,
		cfg:       cfgManager,
		log:       logger,
		logDB:     logDB,
		monitor:   mon,
		sampler:   sampler,
		vformats:  vformats,
		producers: producers,
		consumers: consumers,
		channels:  channels,
		server:    server,
		wg:        wg,
	}, nil
}

// buildChannels binds one channel.Channel per stored config, keyed by its
// 1-based position in iteration order; a config's "format" key selects
// the VideoFormat, defaulting to "1080p50" when the key is absent.
func buildChannels(configs playoutcfg.Configs, formats *vformat.Registry) ([]*channel.Channel, error) {
	var channels []*channel.Channel
	index := 1
	for id, cfg := range configs {
		formatID := cfg["format"]
		if formatID == "" {
			formatID = "1080p50"
		}
		format, err := formats.Get(formatID)
		if err != nil {
			return nil, fmt.Errorf("channel %q: %w", id, err)
		}
		channels = append(channels, channel.New(index, format))
		index++
	}
	return channels, nil
}

func (a *app) run(ctx context.Context) error {
	go a.log.Start(ctx)
	go a.log.LogToStdout(ctx)
	go a.sampler.Run(ctx)

	if err := a.logDB.Init(ctx); err != nil {
		return fmt.Errorf("could not open log database: %w", err)
	}
	go a.logDB.SaveLogs(ctx, a.log)

	if err := a.monitor.Init(ctx); err != nil {
		return fmt.Errorf("could not open monitor database: %w", err)
	}

	for _, c := range a.channels {
		c := c
		c.OnSnapshot(func(snap channel.Snapshot) {
			if err := a.monitor.Publish(snap); err != nil {
				a.log.Warn().Channel(snap.ChannelIndex).Msgf("could not publish snapshot: %v", err)
			}
		})
		go c.Run(ctx)
	}

	a.log.Info().Msgf("playout listening on %v with %v channels", a.server.Addr, len(a.channels))
	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
