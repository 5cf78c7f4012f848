// Package queue implements the in-memory download queue and its persisted
// snapshot. The live queue has three sections: pending (waiting for a worker
// slot), current (being downloaded right now) and completed (finished, newest
// first). All mutations go through a single mutex so the worker, the
// scheduler and the HTTP surface never observe a torn state.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/tunesyncd/tunesyncd/internal/track"
)

// Item is a queue entry. Progress is only meaningful while the item sits in
// the current section.
type Item struct {
	// Identity is the catalog identity key.
	Identity string `json:"identity"`
	// Artist is the display artist name.
	Artist string `json:"artist"`
	// Title is the display track title.
	Title string `json:"title"`
	// Album is the display album name.
	Album string `json:"album"`
	// Duration is the track length in seconds.
	Duration int `json:"duration"`
	// SpotifyID is the upstream track identifier, if known.
	SpotifyID string `json:"spotify_id,omitempty"`
	// Progress is the download percentage, 0..100.
	Progress int `json:"progress"`
}

// CompletedItem is a finished queue entry with its outcome.
type CompletedItem struct {
	Item
	// Status is the terminal catalog status, downloaded or missing.
	Status track.Status `json:"status"`
	// CompletedAt is the completion time in UTC ISO-8601.
	CompletedAt string `json:"completed_at"`
}

// Document is a point-in-time copy of the queue, shared by the snapshot
// persistence and the HTTP projections.
type Document struct {
	Pending   []Item          `json:"pending"`
	Current   []Item          `json:"current"`
	Completed []CompletedItem `json:"completed"`
}

// SnapshotStore persists queue documents across restarts.
//
//nolint:iface // Single-method pair kept together; implemented by the store.
type SnapshotStore interface {
	// LoadSnapshot returns the last saved document, or nil when none exists.
	LoadSnapshot(ctx context.Context) (*Document, error)
	// SaveSnapshot persists the document.
	SaveSnapshot(ctx context.Context, doc *Document) error
}

// Queue is the live triple queue.
type Queue struct {
	mu        sync.Mutex
	pending   []Item
	current   []Item
	completed []CompletedItem
	now       func() time.Time
}

// NewQueue creates an empty live queue.
func NewQueue() *Queue {
	return &Queue{now: time.Now}
}

// FromTrack converts a catalog row into a queue item.
func FromTrack(t *track.Track) Item {
	return Item{
		Identity:  t.Identity,
		Artist:    t.Artist,
		Title:     t.Title,
		Album:     t.Album,
		Duration:  t.Duration,
		SpotifyID: t.SpotifyID,
	}
}

// SetPending replaces the pending section wholesale. Items already in the
// current section are filtered out so a track is never queued twice.
func (q *Queue) SetPending(items []Item) {
	q.mu.Lock()
	defer q.mu.Unlock()

	inCurrent := make(map[string]struct{}, len(q.current))
	for _, item := range q.current {
		inCurrent[item.Identity] = struct{}{}
	}

	q.pending = q.pending[:0]

	for _, item := range items {
		if _, busy := inCurrent[item.Identity]; busy {
			continue
		}

		item.Progress = 0
		q.pending = append(q.pending, item)
	}
}

// PushFront inserts an item at the head of the pending section, used to
// requeue a cancelled download ahead of everything else.
func (q *Queue) PushFront(item Item) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item.Progress = 0
	q.pending = append([]Item{item}, q.pending...)
}

// MoveToCurrent pops the head of the pending section into current and
// returns it. The second result is false when pending is empty.
func (q *Queue) MoveToCurrent() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return Item{}, false
	}

	item := q.pending[0]
	q.pending = q.pending[1:]
	item.Progress = 0
	q.current = append(q.current, item)

	return item, true
}

// CurrentCount returns the number of in-flight downloads.
func (q *Queue) CurrentCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.current)
}

// UpdateProgress sets the progress of an in-flight item. Unknown identities
// are ignored, the item may already have completed.
func (q *Queue) UpdateProgress(identity string, percent int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.current {
		if q.current[i].Identity == identity {
			q.current[i].Progress = percent

			return
		}
	}
}

// Complete removes an item from the current section and prepends a
// completed record with its outcome. It returns false when the identity is
// not in flight.
func (q *Queue) Complete(identity string, ok bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.current {
		if q.current[i].Identity != identity {
			continue
		}

		item := q.current[i]
		q.current = append(q.current[:i], q.current[i+1:]...)

		status := track.StatusMissing
		if ok {
			status = track.StatusDownloaded
			item.Progress = 100
		}

		record := CompletedItem{
			Item:        item,
			Status:      status,
			CompletedAt: q.now().UTC().Format(time.RFC3339),
		}
		q.completed = append([]CompletedItem{record}, q.completed...)

		return true
	}

	return false
}

// Remove drops an in-flight item without recording an outcome, used when a
// cancelled download goes back to pending instead of completed.
func (q *Queue) Remove(identity string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.current {
		if q.current[i].Identity == identity {
			q.current = append(q.current[:i], q.current[i+1:]...)

			return true
		}
	}

	return false
}

// ResetCurrent moves every in-flight item into completed with a missing
// status. Used by the stale-recovery endpoint when downloads look wedged.
func (q *Queue) ResetCurrent() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	moved := len(q.current)
	completedAt := q.now().UTC().Format(time.RFC3339)

	for _, item := range q.current {
		record := CompletedItem{
			Item:        item,
			Status:      track.StatusMissing,
			CompletedAt: completedAt,
		}
		q.completed = append([]CompletedItem{record}, q.completed...)
	}

	q.current = nil

	return moved
}

// Snapshot returns a deep copy of the queue document.
func (q *Queue) Snapshot() *Document {
	q.mu.Lock()
	defer q.mu.Unlock()

	doc := &Document{
		Pending:   make([]Item, len(q.pending)),
		Current:   make([]Item, len(q.current)),
		Completed: make([]CompletedItem, len(q.completed)),
	}

	copy(doc.Pending, q.pending)
	copy(doc.Current, q.current)
	copy(doc.Completed, q.completed)

	return doc
}

// Restore rebuilds the live queue from a persisted document. Items left in
// current by a previous process are unfinished, they go back to pending and
// current starts empty.
func (q *Queue) Restore(doc *Document) {
	if doc == nil {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = make([]Item, 0, len(doc.Pending)+len(doc.Current))

	seen := make(map[string]struct{}, len(doc.Pending)+len(doc.Current))

	appendUnique := func(item Item) {
		if _, dup := seen[item.Identity]; dup {
			return
		}

		seen[item.Identity] = struct{}{}
		item.Progress = 0
		q.pending = append(q.pending, item)
	}

	for _, item := range doc.Pending {
		appendUnique(item)
	}

	for _, item := range doc.Current {
		appendUnique(item)
	}

	q.current = nil
	q.completed = make([]CompletedItem, len(doc.Completed))
	copy(q.completed, doc.Completed)
}
