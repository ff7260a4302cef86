package llmcache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpilot/internal/llm"
)

func TestGetAfterSet(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStorage())

	entry, err := c.Get(ctx, "prompt", PurposeGeneration)
	require.NoError(t, err)
	assert.Nil(t, entry)

	require.NoError(t, c.Set(ctx, "prompt", "response", PurposeGeneration, Metadata{Model: "m", TokensUsed: 12}))

	entry, err = c.Get(ctx, "prompt", PurposeGeneration)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "response", entry.Response)
	assert.Equal(t, "m", entry.Model)
	assert.Equal(t, 12, entry.TokensUsed)
	assert.Equal(t, Key("prompt", PurposeGeneration), entry.Hash)

	// Same prompt, different purpose, different entry.
	entry, err = c.Get(ctx, "prompt", PurposeReview)
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestCachedHandlerCallsModelOnce(t *testing.T) {
	ctx := context.Background()
	var calls int32
	model := llm.HandlerFunc(func(ctx context.Context, req llm.Request) (llm.Response, error) {
		atomic.AddInt32(&calls, 1)
		return llm.Response{Text: "answer to " + req.Prompt, Model: "fake"}, nil
	})
	h := NewCachedHandler(model, New(NewMemoryStorage()), PurposeClassification)

	first, err := h.Generate(ctx, llm.Request{System: "sys", Prompt: "q"})
	require.NoError(t, err)
	second, err := h.Generate(ctx, llm.Request{System: "sys", Prompt: "q"})
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Text, second.Text)

	_, err = h.Generate(ctx, llm.Request{System: "other", Prompt: "q"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestPurgePurposeLeavesOthers(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStorage())
	require.NoError(t, c.Set(ctx, "a", "1", PurposeClassification, Metadata{}))
	require.NoError(t, c.Set(ctx, "b", "2", PurposeClassification, Metadata{}))
	require.NoError(t, c.Set(ctx, "a", "3", PurposeGeneration, Metadata{}))

	n, err := c.PurgePurpose(ctx, PurposeClassification)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entry, err := c.Get(ctx, "a", PurposeGeneration)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "3", entry.Response)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats[PurposeClassification])
	assert.Equal(t, 1, stats[PurposeGeneration])

	n, err = c.PurgeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPurgeOlderThan(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStorage())
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	c.now = func() time.Time { return now.Add(-48 * time.Hour) }
	require.NoError(t, c.Set(ctx, "old", "x", PurposeReview, Metadata{}))
	c.now = func() time.Time { return now }
	require.NoError(t, c.Set(ctx, "new", "y", PurposeReview, Metadata{}))

	n, err := c.PurgeOlderThan(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entry, err := c.Get(ctx, "new", PurposeReview)
	require.NoError(t, err)
	assert.NotNil(t, entry)
}

func TestPurgeScopesByPurposeAndAge(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStorage())
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	c.now = func() time.Time { return now.Add(-48 * time.Hour) }
	require.NoError(t, c.Set(ctx, "old-review", "x", PurposeReview, Metadata{}))
	require.NoError(t, c.Set(ctx, "old-general", "x", PurposeGeneral, Metadata{}))
	c.now = func() time.Time { return now }
	require.NoError(t, c.Set(ctx, "new-review", "y", PurposeReview, Metadata{}))

	n, err := c.Purge(ctx, PurposeReview, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[PurposeReview])
	assert.Equal(t, 1, stats[PurposeGeneral])

	n, err = c.Purge(ctx, "", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestParsePurgeScope(t *testing.T) {
	p, age, err := ParsePurgeScope("all", "")
	require.NoError(t, err)
	assert.Equal(t, Purpose(""), p)
	assert.Zero(t, age)

	p, age, err = ParsePurgeScope("generation", "72h")
	require.NoError(t, err)
	assert.Equal(t, PurposeGeneration, p)
	assert.Equal(t, 72*time.Hour, age)

	_, _, err = ParsePurgeScope("bogus", "")
	assert.Error(t, err)
	_, _, err = ParsePurgeScope("", "-1h")
	assert.Error(t, err)
	_, _, err = ParsePurgeScope("", "soon")
	assert.Error(t, err)
}

func TestCorruptEntryIsAMiss(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	require.NoError(t, s.Set(ctx, string(PurposeGeneral), Key("p", PurposeGeneral), []byte("{not json")))

	entry, err := New(s).Get(ctx, "p", PurposeGeneral)
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestParsePurpose(t *testing.T) {
	p, err := ParsePurpose("embeddings")
	require.NoError(t, err)
	assert.Equal(t, PurposeEmbeddings, p)

	_, err = ParsePurpose("all")
	require.Error(t, err)
}
