// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package main implements an echo agent served over go-plugin.
//
// Build it next to its manifest:
//
//	go build -o plugins/echo/echo ./plugins/echo
//
// The agent echoes operation arguments and answers chat.say events with a
// chat.echo event.
package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/holomush/agenthost/pkg/agent"
	"github.com/holomush/agenthost/pkg/agentsdk"
)

// Echo repeats what it is given.
type Echo struct {
	host   agent.Context
	prefix string
	echoes int
}

// Describe declares the echo operations and handlers.
func (e *Echo) Describe() agent.Declaration {
	return agent.Declaration{
		Metadata: &agent.Metadata{
			Name:        "EchoAgent",
			Version:     "1.0.0",
			Description: "Echoes messages back to the sender",
		},
		Operations: []agent.Operation{
			{Method: "Echo", ReadOnly: true},
			{Method: "Shout", ReadOnly: true},
			{Method: "Count", ReadOnly: true},
		},
		Handlers: []agent.Handler{
			{Method: "OnSay", EventType: "chat.say"},
		},
	}
}

// OnInitialize reads the prefix from the manifest config.
func (e *Echo) OnInitialize(_ context.Context, host agent.Context) error {
	e.host = host
	e.prefix = host.Config().Get("prefix", "Echo: ")
	return nil
}

// Echo returns message with the configured prefix.
func (e *Echo) Echo(message string) string {
	e.echoes++
	return e.prefix + message
}

// Shout returns message upper-cased.
func (e *Echo) Shout(message string) string {
	e.echoes++
	return e.prefix + strings.ToUpper(message)
}

// Count returns how many messages were echoed.
func (e *Echo) Count() int { return e.echoes }

// OnSay publishes the echo of a chat message.
func (e *Echo) OnSay(ctx context.Context, event agent.Event) error {
	data, ok := event.Data.(map[string]any)
	if !ok {
		return fmt.Errorf("chat.say: unexpected payload %T", event.Data)
	}
	message, _ := data["message"].(string)
	if message == "" || strings.HasPrefix(message, e.prefix) {
		return nil
	}
	reply := event.Reply("chat.echo", map[string]any{"message": e.Echo(message)})
	return e.host.Publish(ctx, reply)
}

func main() {
	agentsdk.Serve(&agentsdk.ServeConfig{
		Types: map[string]func() any{
			"EchoAgent": func() any { return &Echo{} },
		},
	})
}
