package daemon

import (
	"context"
	"errors"
	"time"
)

// ErrStreamClosed is returned by Batcher.Next when the event source closed.
// Any batch in progress at that point is discarded.
var ErrStreamClosed = errors.New("event stream closed")

// Batch is a burst of events closed by a quiet window.
type Batch struct {
	// Paths lists each distinct event path once, in first-seen order.
	Paths []string
	// Events counts raw events, duplicates included.
	Events    int
	StartedAt time.Time
	EndedAt   time.Time
}

// Batcher coalesces events with a sliding debounce window: every event
// pushes the deadline to Window after its arrival, so a continuous burst
// keeps one batch open until a real quiet period.
type Batcher struct {
	Window time.Duration
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

func (b *Batcher) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// Next blocks until a batch closes and returns it. It returns ctx.Err()
// when ctx is cancelled and ErrStreamClosed when events is closed; in both
// cases a partially collected batch is dropped.
func (b *Batcher) Next(ctx context.Context, events <-chan FileEvent) (*Batch, error) {
	window := b.Window
	if window <= 0 {
		window = DefaultDebounceInterval
	}

	var first FileEvent
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case ev, ok := <-events:
		if !ok {
			return nil, ErrStreamClosed
		}
		first = ev
	}

	batch := &Batch{StartedAt: b.now()}
	seen := make(map[string]bool)
	add := func(ev FileEvent) {
		batch.Events++
		if !seen[ev.Path] {
			seen[ev.Path] = true
			batch.Paths = append(batch.Paths, ev.Path)
		}
	}
	add(first)

	timer := time.NewTimer(window)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil, ErrStreamClosed
			}
			add(ev)
			timer.Reset(window)
		case <-timer.C:
			batch.EndedAt = b.now()
			return batch, nil
		}
	}
}
