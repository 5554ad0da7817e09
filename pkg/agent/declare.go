// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package agent

import "github.com/go-viper/mapstructure/v2"

// WildcardEventType is the handler key matching any event type that has
// no specific handler.
const WildcardEventType = "*"

// Operation marks a method as callable.
type Operation struct {
	// Method is the underlying method name on the plugin type.
	Method string `json:"method" yaml:"method"`
	// Alias is the public name. Empty means the method name.
	Alias string `json:"alias,omitempty" yaml:"alias,omitempty"`
	// ReadOnly operations do not mutate plugin state.
	ReadOnly bool `json:"read_only,omitempty" yaml:"read_only,omitempty"`
	// AlwaysInterleave operations may run alongside any other call.
	AlwaysInterleave bool `json:"always_interleave,omitempty" yaml:"always_interleave,omitempty"`
	// OneWay operations return no result to the caller.
	OneWay bool `json:"one_way,omitempty" yaml:"one_way,omitempty"`
}

// PublicName returns the alias if set, otherwise the method name.
func (o Operation) PublicName() string {
	if o.Alias != "" {
		return o.Alias
	}
	return o.Method
}

// Handler marks a method as an event handler.
type Handler struct {
	// Method is the underlying method name on the plugin type.
	Method string `json:"method" yaml:"method"`
	// EventType is the event key. Empty means WildcardEventType.
	EventType string `json:"event_type,omitempty" yaml:"event_type,omitempty"`
}

// Key returns the index key for the handler.
func (h Handler) Key() string {
	if h.EventType == "" {
		return WildcardEventType
	}
	return h.EventType
}

// Declaration is the marker list a plugin type supplies about itself.
type Declaration struct {
	// Metadata may be nil, in which case DefaultMetadata is used.
	Metadata   *Metadata   `json:"metadata,omitempty"`
	Operations []Operation `json:"operations,omitempty"`
	Handlers   []Handler   `json:"handlers,omitempty"`
}

// DecodeDeclaration builds a Declaration from loosely typed data, such as
// a table returned by a script runtime. Keys follow the JSON field names.
func DecodeDeclaration(raw any) (Declaration, error) {
	var d Declaration
	if raw == nil {
		return d, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &d,
	})
	if err != nil {
		return Declaration{}, err
	}
	if err := dec.Decode(raw); err != nil {
		return Declaration{}, err
	}
	return d, nil
}
