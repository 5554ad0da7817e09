// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package agent

import "time"

// Event is a message delivered to an agent. Events are values; the engine
// never modifies one in place.
type Event struct {
	Type          string    `json:"type" mapstructure:"type"`
	Timestamp     time.Time `json:"timestamp" mapstructure:"timestamp"`
	Data          any       `json:"data,omitempty" mapstructure:"data"`
	CorrelationID string    `json:"correlation_id,omitempty" mapstructure:"correlation_id"`
	SourceAgentID string    `json:"source_agent_id,omitempty" mapstructure:"source_agent_id"`
}

// NewEvent creates an event stamped with the current time and a fresh
// correlation ID.
func NewEvent(eventType string, data any) Event {
	return Event{
		Type:          eventType,
		Timestamp:     time.Now().UTC(),
		Data:          data,
		CorrelationID: NewID(),
	}
}

// From returns a copy of e with SourceAgentID set.
func (e Event) From(agentID string) Event {
	e.SourceAgentID = agentID
	return e
}

// Reply creates a response event carrying e's correlation ID.
func (e Event) Reply(eventType string, data any) Event {
	return Event{
		Type:          eventType,
		Timestamp:     time.Now().UTC(),
		Data:          data,
		CorrelationID: e.CorrelationID,
	}
}
