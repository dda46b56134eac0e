package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/datapull/internal/progress"
)

// TestBroadcasterReplaysTaskStatus verifies new subscribers first see the latest task status.
func TestBroadcasterReplaysTaskStatus(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster()
	now := time.Now()
	require.NoError(t, b.Consume(context.Background(), []progress.Event{
		progress.New(progress.KindTaskStatus, now, "", progress.TaskStatus{State: progress.TaskRunning, Sources: []string{"gov"}}),
		progress.New(progress.KindLog, now, "", progress.LogLine{Message: "before subscribe"}),
	}))

	ch, cancel := b.Subscribe(4)
	defer cancel()

	first := <-ch
	require.Equal(t, progress.KindTaskStatus, first.Kind)
	assert.Equal(t, progress.TaskRunning, first.Data.(progress.TaskStatus).State)

	b.Publish(progress.New(progress.KindChunkStatus, now, "gov", progress.ChunkStatus{ChunkID: "c1", Status: "uploaded"}))
	second := <-ch
	assert.Equal(t, progress.KindChunkStatus, second.Kind)
}

// TestBroadcasterDropsForSlowSubscribers verifies a full subscriber buffer never blocks publishing.
func TestBroadcasterDropsForSlowSubscribers(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster()
	ch, cancel := b.Subscribe(1)
	defer cancel()

	for i := 0; i < 5; i++ {
		b.Publish(progress.New(progress.KindHeartbeat, time.Now(), "", progress.Heartbeat{Goroutines: i}))
	}
	require.Len(t, ch, 1)
	assert.Equal(t, 0, (<-ch).Data.(progress.Heartbeat).Goroutines)
}

// TestBroadcasterCancelAndClose verifies cancel and Close release subscribers and close channels.
func TestBroadcasterCancelAndClose(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster()
	ch1, cancel1 := b.Subscribe(0)
	ch2, _ := b.Subscribe(0)
	require.Equal(t, 2, b.Subscribers())

	cancel1()
	cancel1()
	_, open := <-ch1
	assert.False(t, open)
	assert.Equal(t, 1, b.Subscribers())

	require.NoError(t, b.Close(context.Background()))
	_, open = <-ch2
	assert.False(t, open)

	ch3, cancel3 := b.Subscribe(0)
	defer cancel3()
	_, open = <-ch3
	assert.False(t, open)
}
