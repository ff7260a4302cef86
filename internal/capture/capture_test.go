package capture

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderWritesSequencedFiles(t *testing.T) {
	dir := t.TempDir()
	r := New(dir)
	require.True(t, r.Enabled())

	r.WriteJSON("batch-1", "filter", map[string]int{"in": 3})
	r.WriteJSON("batch-1", "classify", map[string]int{"in": 2})

	entries, err := os.ReadDir(filepath.Join(dir, "batch-1"))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "01-filter.json", entries[0].Name())
	assert.Equal(t, "02-classify.json", entries[1].Name())

	data, err := os.ReadFile(filepath.Join(dir, "batch-1", "01-filter.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"in":3}`, string(data))
}

func TestRecorderNumbersEachRunFromOne(t *testing.T) {
	dir := t.TempDir()
	r := New(dir)

	r.WriteJSON("batch-1", "filter", 1)
	r.WriteJSON("batch-1", "classify", 2)
	r.WriteJSON("batch-2", "filter", 3)
	r.WriteJSON("batch-1", "generate", 4)

	names := func(run string) []string {
		entries, err := os.ReadDir(filepath.Join(dir, run))
		require.NoError(t, err)
		var out []string
		for _, e := range entries {
			out = append(out, e.Name())
		}
		return out
	}
	assert.Equal(t, []string{"01-filter.json", "02-classify.json", "03-generate.json"}, names("batch-1"))
	assert.Equal(t, []string{"01-filter.json"}, names("batch-2"))
}

func TestDisabledRecorder(t *testing.T) {
	var r *Recorder
	assert.False(t, r.Enabled())
	r.WriteJSON("run", "x", 1)

	assert.False(t, New("").Enabled())
}
