// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	plugins "github.com/holomush/agenthost/internal/plugin"
)

func newBareInstance() *plugins.Instance {
	return plugins.NewInstance(&probeAgent{}, plugins.InstanceOptions{})
}

func TestDirectory_BindAndLookup(t *testing.T) {
	dir := plugins.NewDirectory()
	a := newBareInstance()

	assert.Nil(t, dir.Bind("a", a))
	got, ok := dir.Lookup("a")
	require.True(t, ok)
	assert.Same(t, a, got)

	_, ok = dir.Lookup("b")
	assert.False(t, ok)
}

func TestDirectory_BindReturnsReplaced(t *testing.T) {
	dir := plugins.NewDirectory()
	a, b := newBareInstance(), newBareInstance()

	dir.Bind("x", a)
	assert.Same(t, a, dir.Bind("x", b))
}

func TestDirectory_SwapRequiresExpectedOld(t *testing.T) {
	dir := plugins.NewDirectory()
	a, b, c := newBareInstance(), newBareInstance(), newBareInstance()
	dir.Bind("x", a)

	assert.False(t, dir.Swap("x", b, c))
	assert.True(t, dir.Swap("x", a, b))
	assert.False(t, dir.Swap("missing", a, b))

	got, _ := dir.Lookup("x")
	assert.Same(t, b, got)
}

func TestDirectory_UnbindOnlyLiveInstance(t *testing.T) {
	dir := plugins.NewDirectory()
	a, b := newBareInstance(), newBareInstance()
	dir.Bind("x", a)

	assert.False(t, dir.Unbind("x", b))
	assert.True(t, dir.Unbind("x", a))
	assert.Empty(t, dir.IDs())
}

func TestDirectory_IDsSorted(t *testing.T) {
	dir := plugins.NewDirectory()
	for _, id := range []string{"c", "a", "b"} {
		dir.Bind(id, newBareInstance())
	}
	assert.Equal(t, []string{"a", "b", "c"}, dir.IDs())
}

func TestDirectory_ConcurrentSwapsHaveOneWinner(t *testing.T) {
	dir := plugins.NewDirectory()
	old := newBareInstance()
	dir.Bind("x", old)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if dir.Swap("x", old, newBareInstance()) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}
