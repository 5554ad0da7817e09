// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package plugin_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	plugins "github.com/holomush/agenthost/internal/plugin"
	pluginjs "github.com/holomush/agenthost/internal/plugin/js"
	pluginlua "github.com/holomush/agenthost/internal/plugin/lua"
	"github.com/holomush/agenthost/internal/plugin/watch"
	"github.com/holomush/agenthost/pkg/agent"
)

// bundledAgent copies an agent from the repository plugins directory.
func bundledAgent(root, name string) {
	src := filepath.Join("..", "..", "plugins", name)
	dst := filepath.Join(root, name)
	Expect(os.MkdirAll(dst, 0o750)).To(Succeed())
	entries, err := os.ReadDir(src)
	Expect(err).NotTo(HaveOccurred())
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(src, e.Name()))
		Expect(err).NotTo(HaveOccurred())
		Expect(os.WriteFile(filepath.Join(dst, e.Name()), data, 0o600)).To(Succeed())
	}
}

// writeAgentDir writes a manifest and entry file under root/name.
func writeAgentDir(root, name, manifest, entry, code string) string {
	dir := filepath.Join(root, name)
	Expect(os.MkdirAll(dir, 0o750)).To(Succeed())
	Expect(os.WriteFile(filepath.Join(dir, plugins.ManifestFile), []byte(manifest), 0o600)).To(Succeed())
	Expect(os.WriteFile(filepath.Join(dir, entry), []byte(code), 0o600)).To(Succeed())
	return dir
}

const almanacManifest = `name: almanac
version: 1.0.0
type: js
entry: main.js
agent-type: Almanac
capabilities:
  - events.publish
`

const almanacScript = `
var Almanac = {
  metadata: { name: "Almanac", version: "1.0.0" },
  operations: [{ method: "sunrise", read_only: true }],
  handlers: [{ method: "onAsk", event_type: "almanac.ask" }],
  sunrise: function (city) { return city === "Lisbon" ? "07:42" : "06:00"; },
  onAsk: function (event) {
    this.agent.reply(event, "almanac.answer", { sunrise: this.sunrise(event.data.city) });
  },
};
`

const briefingManifest = `name: briefing
version: 1.0.0
type: lua
entry: main.lua
agent-type: Briefing
capabilities:
  - agents.lookup
  - events.request
`

const briefingScript = `
Briefing = {
  operations = {
    { method = "direct" },
    { method = "asked" },
  },
}

function Briefing:direct()
  local sky = self.agent.call("weather", "current")
  local sunrise = self.agent.call("almanac", "sunrise", "Lisbon")
  return sky .. ", sunrise " .. sunrise
end

function Briefing:asked()
  local reply, err = self.agent.request("almanac.ask", { city = "Porto" }, 1000)
  if err then error(err) end
  return reply.data.sunrise
end
`

var _ = Describe("Agent host", func() {
	var (
		ctx  context.Context
		root string
		mgr  *plugins.Manager
	)

	newManager := func(opts plugins.Options) *plugins.Manager {
		return plugins.NewManager(
			plugins.WithPluginsDir(root),
			plugins.WithOptions(opts),
			plugins.WithRuntime(pluginlua.NewRuntime()),
			plugins.WithRuntime(pluginjs.NewRuntime(nil)),
		)
	}

	BeforeEach(func() {
		ctx = context.Background()
		root = GinkgoT().TempDir()
		bundledAgent(root, "weather")
	})

	AfterEach(func() {
		if mgr != nil {
			Expect(mgr.Close(ctx)).To(Succeed())
			mgr = nil
		}
	})

	Describe("bundled weather agent", func() {
		BeforeEach(func() {
			mgr = newManager(plugins.DefaultOptions())
			Expect(mgr.LoadAll(ctx)).To(Succeed())
		})

		It("loads from its manifest", func() {
			status := mgr.QueryLoadStatus("")
			Expect(status).To(HaveKey("weather"))
			Expect(status["weather"].Outcome).To(Equal(plugins.Success))
			Expect(status["weather"].TypeName).To(Equal("WeatherAgent"))
		})

		It("reads its configuration", func() {
			Expect(mgr.Execute(ctx, "weather", "current", nil)).To(Equal("sunny in Lisbon"))
		})

		It("keeps state set by an operation", func() {
			_, err := mgr.Execute(ctx, "weather", "SetCity", []any{"Porto"})
			Expect(err).NotTo(HaveOccurred())

			Expect(mgr.Execute(ctx, "weather", "current", nil)).To(Equal("sunny in Porto"))
			Expect(mgr.GetState(ctx, "weather")).To(Equal(map[string]any{"city": "Porto"}))
		})

		It("handles published events", func() {
			Expect(mgr.Publish(ctx, agent.NewEvent("weather.alert", map[string]any{"level": "amber"}))).To(Succeed())

			Eventually(func() (any, error) {
				return mgr.Execute(ctx, "weather", "last_alert", nil)
			}).Should(Equal("amber"))
		})
	})

	Describe("cross-runtime communication", func() {
		BeforeEach(func() {
			writeAgentDir(root, "almanac", almanacManifest, "main.js", almanacScript)
			writeAgentDir(root, "briefing", briefingManifest, "main.lua", briefingScript)
			mgr = newManager(plugins.DefaultOptions())
			Expect(mgr.LoadAll(ctx)).To(Succeed())
			Expect(mgr.Agents()).To(ConsistOf("weather", "almanac", "briefing"))
		})

		It("calls operations on Lua and JavaScript agents", func() {
			Expect(mgr.Execute(ctx, "briefing", "direct", nil)).To(Equal("sunny in Lisbon, sunrise 07:42"))
		})

		It("answers a Lua request from a JavaScript handler", func() {
			Expect(mgr.Execute(ctx, "briefing", "asked", nil)).To(Equal("06:00"))
		})

		It("denies calls without the capability", func() {
			_, err := mgr.Execute(ctx, "almanac", "sunrise", []any{"Lisbon"})
			Expect(err).NotTo(HaveOccurred())

			restricted := writeAgentDir(root, "restricted", `name: restricted
version: 1.0.0
type: lua
entry: main.lua
agent-type: Restricted
`, "main.lua", `
Restricted = { operations = { { method = "peek" } } }
function Restricted:peek()
  local _, err = self.agent.call("weather", "current")
  return err
end
`)
			Expect(restricted).To(BeADirectory())
			Expect(mgr.LoadAll(ctx)).To(Succeed())
			Expect(mgr.Execute(ctx, "restricted", "peek", nil)).To(ContainSubstring("capability denied"))
		})
	})

	Describe("hot reload", func() {
		var w *watch.Watcher

		BeforeEach(func() {
			opts := plugins.DefaultOptions()
			opts.HotReload = true
			mgr = newManager(opts)
			Expect(mgr.LoadAll(ctx)).To(Succeed())

			w = watch.New(mgr, watch.WithDebounce(50*time.Millisecond))
			Expect(w.Start(ctx)).To(Succeed())
		})

		AfterEach(func() {
			w.Close()
		})

		It("reloads an edited script and keeps its state", func() {
			_, err := mgr.Execute(ctx, "weather", "SetCity", []any{"Faro"})
			Expect(err).NotTo(HaveOccurred())

			path := filepath.Join(root, "weather", "main.lua")
			code, err := os.ReadFile(path)
			Expect(err).NotTo(HaveOccurred())
			edited := append(code, []byte(`
function WeatherAgent:current()
  local state = self.agent.state_get()
  return "foggy in " .. state.city
end
`)...)
			Expect(os.WriteFile(path, edited, 0o600)).To(Succeed())

			Eventually(func() (any, error) {
				return mgr.Execute(ctx, "weather", "current", nil)
			}, 5*time.Second, 50*time.Millisecond).Should(Equal("foggy in Faro"))
		})

		It("keeps the running agent when the new script is broken", func() {
			path := filepath.Join(root, "weather", "main.lua")
			Expect(os.WriteFile(path, []byte("WeatherAgent = {"), 0o600)).To(Succeed())

			Consistently(func() (any, error) {
				return mgr.Execute(ctx, "weather", "current", nil)
			}, 500*time.Millisecond, 50*time.Millisecond).Should(Equal("sunny in Lisbon"))
		})
	})
})
