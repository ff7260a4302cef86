package watermark

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpilot/internal/messages"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestAdvanceNeverMovesBackwards(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	var last time.Time
	steps := []time.Time{t0.Add(time.Hour), t0, {}, t0.Add(2 * time.Hour), t0.Add(30 * time.Minute)}
	for i, at := range steps {
		wm, err := s.Advance(ctx, "acme", at, "batch")
		require.NoError(t, err)
		assert.False(t, wm.WatermarkTime.Before(last), "step %d moved the watermark backwards", i)
		last = wm.WatermarkTime
	}
	assert.Equal(t, t0.Add(2*time.Hour), last)

	require.NoError(t, s.Reset(ctx, "acme", t0))
	wm, err := s.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, t0, wm.WatermarkTime)
	assert.Equal(t, "batch", wm.LastProcessedBatchID)
}

func TestSelectBatchHonoursWatermarkAndCap(t *testing.T) {
	ctx := context.Background()
	wms := NewInMemoryStore()
	msgs := messages.NewInMemoryStore()
	for i, id := range []string{"m1", "m2", "m3", "m4"} {
		_, err := msgs.Insert(ctx, messages.Message{ID: id, TenantID: "acme", StreamID: "s", Timestamp: t0.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
	}

	batch, wm, err := SelectBatch(ctx, wms, msgs, "acme", 2)
	require.NoError(t, err)
	assert.True(t, wm.WatermarkTime.IsZero())
	require.Len(t, batch, 2)
	assert.Equal(t, "m1", batch[0].ID)
	assert.Equal(t, t0.Add(time.Minute), MaxTimestamp(batch))

	_, err = wms.Advance(ctx, "acme", MaxTimestamp(batch), "b1")
	require.NoError(t, err)

	batch, _, err = SelectBatch(ctx, wms, msgs, "acme", 10)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "m3", batch[0].ID)
}

func TestMaxTimestampEmpty(t *testing.T) {
	assert.True(t, MaxTimestamp(nil).IsZero())
}
