package snapshot

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/datapull/internal/storage/memory"
)

type payload struct {
	Items []string `json:"items"`
}

// TestFileRoundTrip verifies snapshots are written and read back.
func TestFileRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	file := NewFile(memory.NewBlobStore(), "reviews.json")

	var empty payload
	found, err := file.Load(ctx, &empty)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, file.Save(ctx, payload{Items: []string{"a", "b"}}))

	var got payload
	found, err = file.Load(ctx, &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"a", "b"}, got.Items)
	assert.Equal(t, "reviews.json", file.Path())
}

// TestFileLoadRejectsCorruptData verifies decode errors are reported.
func TestFileLoadRejectsCorruptData(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	blobs := memory.NewBlobStore()
	_, err := blobs.PutObject(ctx, "bad.json", "", strings.NewReader("{not json"))
	require.NoError(t, err)

	var got payload
	_, err = NewFile(blobs, "bad.json").Load(ctx, &got)
	assert.ErrorContains(t, err, "decode snapshot")
}

// TestFlusherCoalescesMarks verifies a burst of marks produces few writes.
func TestFlusherCoalescesMarks(t *testing.T) {
	t.Parallel()

	var saves atomic.Int32
	f := NewFlusher(func(context.Context) error {
		saves.Add(1)
		return nil
	}, FlusherConfig{Interval: 20 * time.Millisecond})

	for i := 0; i < 50; i++ {
		f.Mark()
	}
	require.Eventually(t, func() bool { return saves.Load() >= 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, f.Close(context.Background()))
	assert.LessOrEqual(t, saves.Load(), int32(2))
}

// TestFlusherCloseWritesPending verifies Close flushes a pending mark.
func TestFlusherCloseWritesPending(t *testing.T) {
	t.Parallel()

	var saves atomic.Int32
	f := NewFlusher(func(context.Context) error {
		saves.Add(1)
		return nil
	}, FlusherConfig{Interval: time.Hour})

	f.Mark()
	require.NoError(t, f.Close(context.Background()))
	assert.Equal(t, int32(1), saves.Load())
	require.NoError(t, f.Close(context.Background()))
}

// TestFlusherSyncWritesInline verifies sync mode writes on every mark and swallows errors.
func TestFlusherSyncWritesInline(t *testing.T) {
	t.Parallel()

	var saves atomic.Int32
	f := NewFlusher(func(context.Context) error {
		saves.Add(1)
		return errors.New("disk full")
	}, FlusherConfig{Sync: true})

	f.Mark()
	f.Mark()
	assert.Equal(t, int32(2), saves.Load())
	require.NoError(t, f.Close(context.Background()))
}
