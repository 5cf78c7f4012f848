package store

import (
	"context"
	"encoding/json"

	"github.com/tunesyncd/tunesyncd/internal/queue"
)

// statusSnapshot is the persisted status document: the queue plus the
// catalog counters at the time of the save. The counters are informational,
// restore only reads the queue back.
type statusSnapshot struct {
	Queue    *queue.Document `json:"queue"`
	Counters *Counts         `json:"counters,omitempty"`
}

// LoadSnapshot returns the persisted queue document, or nil when the daemon
// has never saved one.
func (s *Store) LoadSnapshot(ctx context.Context) (*queue.Document, error) {
	raw, err := s.GetKV(ctx, KeyStatusSnapshot)
	if err != nil {
		return nil, err
	}

	if raw == "" {
		return nil, nil //nolint:nilnil // Absent snapshot is not an error.
	}

	snapshot := new(statusSnapshot)
	if err = json.Unmarshal([]byte(raw), snapshot); err != nil || snapshot.Queue == nil {
		// A corrupt snapshot is discarded, the queue rebuilds from the
		// catalog on the next sync.
		return nil, nil //nolint:nilnil,nilerr // See above.
	}

	return snapshot.Queue, nil
}

// SaveSnapshot persists the queue document together with the current
// catalog counters.
func (s *Store) SaveSnapshot(ctx context.Context, doc *queue.Document) error {
	snapshot := &statusSnapshot{Queue: doc}

	if counts, err := s.GetCounts(ctx); err == nil {
		snapshot.Counters = counts
	}

	raw, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	return s.SetKV(ctx, KeyStatusSnapshot, string(raw))
}
