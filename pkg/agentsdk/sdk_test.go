// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package agentsdk_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/agenthost/internal/plugin/goplugin"
	"github.com/holomush/agenthost/pkg/agentsdk"
)

func TestHandshakeConfig_MatchesHost(t *testing.T) {
	assert.Equal(t, goplugin.HandshakeConfig, agentsdk.HandshakeConfig)
}

func TestServe_NilConfigPanics(t *testing.T) {
	assert.PanicsWithValue(t, "agentsdk: config cannot be nil", func() {
		agentsdk.Serve(nil)
	})
}

func TestServe_EmptyTypesPanics(t *testing.T) {
	assert.PanicsWithValue(t, "agentsdk: config.Types cannot be empty", func() {
		agentsdk.Serve(&agentsdk.ServeConfig{})
	})
}

func TestNewLogger_WritesHclogKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := agentsdk.NewLogger(&buf, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Warn("disk low", "free_mb", 12)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["@level"])
	assert.Equal(t, "disk low", line["@message"])
	assert.Contains(t, line, "@timestamp")
	assert.InDelta(t, 12.0, line["free_mb"], 0)
}
