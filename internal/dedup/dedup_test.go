package dedup

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileYieldsEmptySet(t *testing.T) {
	set, err := Load(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	assert.False(t, set.Processed("anything"))
}

func TestMarkProcessedPersistsImmediately(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	set, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, set.MarkProcessed("http://example.com/a.mp3"))

	// A fresh instance must see the entry without an explicit Persist.
	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.True(t, reloaded.Processed("http://example.com/a.mp3"))
	assert.False(t, reloaded.Processed("http://example.com/b.mp3"))
}

func TestPersistedFormatIsSortedStringArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	set, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, set.MarkProcessed("zebra"))
	require.NoError(t, set.MarkProcessed("alpha"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var keys []string
	require.NoError(t, json.Unmarshal(data, &keys))
	assert.Equal(t, []string{"alpha", "zebra"}, keys)
}

func TestInFlightIsNotPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	set, err := Load(path)
	require.NoError(t, err)
	require.True(t, set.TryAcquire("url-1"))
	require.NoError(t, set.Persist())

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.False(t, reloaded.InFlight("url-1"), "in-flight state must reset on restart")
	assert.False(t, reloaded.Processed("url-1"))
}

func TestTryAcquireRejectsDuplicates(t *testing.T) {
	set, err := Load(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	assert.True(t, set.TryAcquire("k"))
	assert.False(t, set.TryAcquire("k"))

	set.Release("k")
	assert.True(t, set.TryAcquire("k"))
}

func TestMarkProcessedReleasesInFlight(t *testing.T) {
	set, err := Load(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	require.True(t, set.TryAcquire("k"))
	require.NoError(t, set.MarkProcessed("k"))

	assert.False(t, set.InFlight("k"))
	assert.True(t, set.Processed("k"))
}
