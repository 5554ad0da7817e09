// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin_test

import (
	"context"
	"errors"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	plugins "github.com/holomush/agenthost/internal/plugin"
	"github.com/holomush/agenthost/pkg/agent"
)

// Helper functions for creating test fixtures with secure permissions.
func mkdirAll(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(path, 0o750))
}

func writeFile(t *testing.T, path string, content []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, content, 0o600))
}

// weatherAgent is the canonical example agent.
type weatherAgent struct {
	mu       sync.Mutex
	location string
}

func newWeatherAgent() any { return &weatherAgent{location: "Unknown"} }

func (w *weatherAgent) Describe() agent.Declaration {
	return agent.Declaration{
		Metadata: &agent.Metadata{Name: "WeatherAgent", Version: "1.0.0", Description: "Reports the weather"},
		Operations: []agent.Operation{
			{Method: "GetCurrentWeather", ReadOnly: true},
			{Method: "UpdateLocation"},
		},
	}
}

func (w *weatherAgent) GetCurrentWeather() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return "Sunny in " + w.location
}

func (w *weatherAgent) UpdateLocation(location string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.location = location
}

// impostorAgent claims the WeatherAgent name with a different type.
type impostorAgent struct{}

func (impostorAgent) Describe() agent.Declaration {
	return agent.Declaration{Metadata: &agent.Metadata{Name: "WeatherAgent", Version: "2.0.0"}}
}

// probeAgent exercises every dispatch path and records what happened.
type probeAgent struct {
	mu        sync.Mutex
	calls     []string
	lastData  any
	lastEvent agent.Event
	host      agent.Context
	state     *agent.State

	initErr    error
	disposeErr error
	disposed   atomic.Int32
}

func newProbeAgent() any { return &probeAgent{} }

func (p *probeAgent) Describe() agent.Declaration {
	return agent.Declaration{
		Metadata: &agent.Metadata{Name: "Probe", Version: "0.1.0"},
		Operations: []agent.Operation{
			{Method: "Add", Alias: "sum", ReadOnly: true},
			{Method: "Greet"},
			{Method: "Fail"},
			{Method: "Later", AlwaysInterleave: true},
			{Method: "Stream"},
			{Method: "Block"},
			{Method: "Join"},
			{Method: "Notify", OneWay: true},
			{Method: "Missing"},
		},
		Handlers: []agent.Handler{
			{Method: "OnAlert", EventType: "alert"},
			{Method: "OnAny"},
			{Method: "OnBroken", EventType: "broken"},
			{Method: "OnPing", EventType: "ping"},
		},
	}
}

func (p *probeAgent) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *probeAgent) recorded() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *probeAgent) OnInitialize(_ context.Context, host agent.Context) error {
	p.host = host
	return p.initErr
}

func (p *probeAgent) OnDispose() error {
	p.disposed.Add(1)
	return p.disposeErr
}

func (p *probeAgent) UseState(s *agent.State) { p.state = s }

func (p *probeAgent) Add(a, b int) int {
	p.record("Add")
	return a + b
}

func (p *probeAgent) Greet(_ context.Context, name string, titles ...string) (string, error) {
	p.record("Greet")
	out := "hello"
	for _, t := range titles {
		out += " " + t
	}
	return out + " " + name, nil
}

var errBoom = errors.New("boom")

func (p *probeAgent) Fail() error {
	p.record("Fail")
	return errBoom
}

func (p *probeAgent) Later(ctx context.Context, v int) agent.Future {
	return agent.Go(ctx, func(context.Context) (any, error) {
		p.record("Later")
		return v * 2, nil
	})
}

func (p *probeAgent) Stream() <-chan agent.Result {
	ch := make(chan agent.Result, 1)
	ch <- agent.Result{Value: "streamed"}
	return ch
}

func (p *probeAgent) Block(context.Context) agent.Future {
	return agent.ChanFuture(make(chan agent.Result))
}

type point struct {
	X int `mapstructure:"x"`
	Y int `mapstructure:"y"`
}

func (p *probeAgent) Join(pt point, at time.Time) string {
	return at.UTC().Format("2006-01-02") + ":" + strconv.Itoa(pt.X+pt.Y)
}

func (p *probeAgent) Notify() {
	p.record("Notify")
}

func (p *probeAgent) OnAlert(data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "OnAlert")
	p.lastData = data
}

func (p *probeAgent) OnAny(e agent.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "OnAny")
	p.lastEvent = e
}

func (p *probeAgent) OnBroken(*agent.Event) error {
	p.record("OnBroken")
	return errBoom
}

func (p *probeAgent) OnPing() {
	p.record("OnPing")
}

// quietAgent has handlers only for a specific type and an unhandled hook.
type quietAgent struct {
	unhandled atomic.Int32
}

func (q *quietAgent) Describe() agent.Declaration {
	return agent.Declaration{
		Handlers: []agent.Handler{{Method: "OnTick", EventType: "tick"}},
	}
}

func (q *quietAgent) OnTick() {}

func (q *quietAgent) OnUnhandledEvent(context.Context, agent.Event) error {
	q.unhandled.Add(1)
	return nil
}

// staticUnit builds a unit with the fixture types.
func staticUnit(name string) *plugins.StaticUnit {
	return plugins.NewStaticUnit(name, "tests").
		Register("WeatherAgent", newWeatherAgent).
		Register("Probe", newProbeAgent).
		Register("Impostor", func() any { return impostorAgent{} })
}

// loadProbe loads and initializes a probe instance outside a manager.
func loadProbe(t *testing.T) (*plugins.Instance, *probeAgent) {
	t.Helper()
	impl := &probeAgent{}
	inst := plugins.NewInstance(impl, plugins.InstanceOptions{Identity: "tests#Probe"})
	require.NoError(t, inst.Initialize(context.Background(), plugins.DetachedContext("probe", nil)))
	return inst, impl
}
