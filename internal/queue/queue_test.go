package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunesyncd/tunesyncd/internal/track"
)

func newTestQueue(at time.Time) *Queue {
	q := NewQueue()
	q.now = func() time.Time { return at }

	return q
}

func testItems() []Item {
	return []Item{
		{Identity: "queen|bohemian rhapsody|70", Artist: "Queen", Title: "Bohemian Rhapsody", Duration: 354},
		{Identity: "nirvana|lithium|51", Artist: "Nirvana", Title: "Lithium", Duration: 257},
		{Identity: "daft punk|one more time|64", Artist: "Daft Punk", Title: "One More Time", Duration: 320},
	}
}

// TestQueue_MoveToCurrent tests advancing the pending head into current.
func TestQueue_MoveToCurrent(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	q.SetPending(testItems())

	item, ok := q.MoveToCurrent()
	require.True(t, ok)
	assert.Equal(t, "Queen", item.Artist)
	assert.Zero(t, item.Progress)
	assert.Equal(t, 1, q.CurrentCount())

	doc := q.Snapshot()
	assert.Len(t, doc.Pending, 2)
	assert.Len(t, doc.Current, 1)
}

// TestQueue_MoveToCurrent_Empty tests popping an empty pending section.
func TestQueue_MoveToCurrent_Empty(t *testing.T) {
	t.Parallel()

	q := NewQueue()

	_, ok := q.MoveToCurrent()
	assert.False(t, ok)
}

// TestQueue_Sections verifies an identity lives in exactly one section at
// any time.
func TestQueue_Sections(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	items := testItems()
	q.SetPending(items)

	item, ok := q.MoveToCurrent()
	require.True(t, ok)

	// Re-setting pending with the in-flight item must not duplicate it.
	q.SetPending(items)

	doc := q.Snapshot()
	assert.Len(t, doc.Pending, 2)
	require.Len(t, doc.Current, 1)
	assert.Equal(t, item.Identity, doc.Current[0].Identity)

	for _, pending := range doc.Pending {
		assert.NotEqual(t, item.Identity, pending.Identity)
	}
}

// TestQueue_Complete tests the success and failure outcomes.
func TestQueue_Complete(t *testing.T) {
	t.Parallel()

	completedAt := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	q := newTestQueue(completedAt)
	q.SetPending(testItems())

	first, _ := q.MoveToCurrent()
	require.True(t, q.Complete(first.Identity, true))

	second, _ := q.MoveToCurrent()
	require.True(t, q.Complete(second.Identity, false))

	doc := q.Snapshot()
	assert.Empty(t, doc.Current)
	require.Len(t, doc.Completed, 2)

	// Newest first.
	assert.Equal(t, second.Identity, doc.Completed[0].Identity)
	assert.Equal(t, track.StatusMissing, doc.Completed[0].Status)
	assert.Equal(t, first.Identity, doc.Completed[1].Identity)
	assert.Equal(t, track.StatusDownloaded, doc.Completed[1].Status)
	assert.Equal(t, 100, doc.Completed[1].Progress)
	assert.Equal(t, "2025-03-14T09:26:53Z", doc.Completed[0].CompletedAt)
}

// TestQueue_Complete_Unknown tests completing an identity not in flight.
func TestQueue_Complete_Unknown(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	assert.False(t, q.Complete("ghost", true))
}

// TestQueue_UpdateProgress tests progress updates on in-flight items.
func TestQueue_UpdateProgress(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	q.SetPending(testItems())

	item, _ := q.MoveToCurrent()
	q.UpdateProgress(item.Identity, 42)
	q.UpdateProgress("ghost", 99)

	doc := q.Snapshot()
	require.Len(t, doc.Current, 1)
	assert.Equal(t, 42, doc.Current[0].Progress)
}

// TestQueue_PushFront tests requeueing at the head of pending.
func TestQueue_PushFront(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	q.SetPending(testItems())

	item, _ := q.MoveToCurrent()
	require.True(t, q.Remove(item.Identity))
	q.PushFront(item)

	next, ok := q.MoveToCurrent()
	require.True(t, ok)
	assert.Equal(t, item.Identity, next.Identity)

	doc := q.Snapshot()
	assert.Empty(t, doc.Completed, "a cancelled item records no outcome")
}

// TestQueue_ResetCurrent tests stale-recovery of wedged downloads.
func TestQueue_ResetCurrent(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	q.SetPending(testItems())

	_, _ = q.MoveToCurrent()

	assert.Equal(t, 1, q.ResetCurrent())
	assert.Equal(t, 0, q.CurrentCount())

	doc := q.Snapshot()
	require.Len(t, doc.Completed, 1)
	assert.Equal(t, track.StatusMissing, doc.Completed[0].Status)
}

// TestQueue_Restore verifies that unfinished current items go back to
// pending after a restart.
func TestQueue_Restore(t *testing.T) {
	t.Parallel()

	items := testItems()
	doc := &Document{
		Pending: items[:1],
		Current: []Item{{Identity: items[1].Identity, Artist: items[1].Artist, Progress: 57}},
		Completed: []CompletedItem{
			{Item: items[2], Status: track.StatusDownloaded, CompletedAt: "2025-03-14T09:00:00Z"},
		},
	}

	q := NewQueue()
	q.Restore(doc)

	restored := q.Snapshot()
	assert.Len(t, restored.Pending, 2)
	assert.Empty(t, restored.Current)
	assert.Len(t, restored.Completed, 1)

	for _, item := range restored.Pending {
		assert.Zero(t, item.Progress, "restored items restart from scratch")
	}
}

// TestQueue_Restore_Nil tests restoring from an absent snapshot.
func TestQueue_Restore_Nil(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	q.Restore(nil)

	doc := q.Snapshot()
	assert.Empty(t, doc.Pending)
	assert.Empty(t, doc.Current)
	assert.Empty(t, doc.Completed)
}

// TestQueue_FromTrack tests catalog row conversion.
func TestQueue_FromTrack(t *testing.T) {
	t.Parallel()

	row := &track.Track{
		Identity:  "queen|bohemian rhapsody|70",
		Artist:    "Queen",
		Title:     "Bohemian Rhapsody",
		Album:     "A Night at the Opera",
		Duration:  354,
		SpotifyID: "sp1",
	}

	item := FromTrack(row)
	assert.Equal(t, row.Identity, item.Identity)
	assert.Equal(t, row.Album, item.Album)
	assert.Equal(t, row.SpotifyID, item.SpotifyID)
	assert.Zero(t, item.Progress)
}
