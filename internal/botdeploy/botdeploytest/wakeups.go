// Package botdeploytest provides an in-memory wake-up table.
package botdeploytest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Wakeups is an in-memory meeting_bot_wakeups table.
type Wakeups struct {
	mu   sync.Mutex
	rows map[uuid.UUID]time.Time
}

// NewWakeups returns an empty table.
func NewWakeups() *Wakeups {
	return &Wakeups{rows: make(map[uuid.UUID]time.Time)}
}

// Schedule upserts the wake-up of a meeting.
func (w *Wakeups) Schedule(ctx context.Context, meetingID uuid.UUID, wakeAt time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rows[meetingID] = wakeAt
	return nil
}

// Pending returns the wake-up time of a meeting.
func (w *Wakeups) Pending(meetingID uuid.UUID) (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.rows[meetingID]
	return t, ok
}

// Len returns the number of pending wake-ups.
func (w *Wakeups) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.rows)
}

// Clear removes the wake-up of a meeting.
func (w *Wakeups) Clear(ctx context.Context, meetingID uuid.UUID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.rows, meetingID)
	return nil
}

// FireDue fires due wake-ups in wake order and re-arms them at redeliverAt.
func (w *Wakeups) FireDue(ctx context.Context, now, redeliverAt time.Time, limit int, fire func(ctx context.Context, meetingID uuid.UUID) error) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var due []uuid.UUID
	for id, at := range w.rows {
		if !at.After(now) {
			due = append(due, id)
		}
	}
	sort.Slice(due, func(i, j int) bool { return w.rows[due[i]].Before(w.rows[due[j]]) })
	if len(due) > limit {
		due = due[:limit]
	}
	fired := 0
	for _, id := range due {
		if err := fire(ctx, id); err != nil {
			return fired, err
		}
		w.rows[id] = redeliverAt
		fired++
	}
	return fired, nil
}
