package daemon

import (
	"context"
	"errors"
	"testing"
	"time"
)

func ev(path string) FileEvent {
	return FileEvent{Path: path, Op: OpModify, At: time.Now()}
}

// TestBatcher_CoalescesBurst verifies that events arriving within the
// window form one batch with distinct paths in first-seen order.
func TestBatcher_CoalescesBurst(t *testing.T) {
	events := make(chan FileEvent, 10)
	events <- ev("/p/a.txt")
	events <- ev("/p/b.txt")
	events <- ev("/p/a.txt")

	b := &Batcher{Window: 20 * time.Millisecond}
	batch, err := b.Next(context.Background(), events)
	if err != nil {
		t.Fatalf("Next() failed: %v", err)
	}

	if batch.Events != 3 {
		t.Errorf("Events = %d, want 3", batch.Events)
	}
	if len(batch.Paths) != 2 || batch.Paths[0] != "/p/a.txt" || batch.Paths[1] != "/p/b.txt" {
		t.Errorf("Paths = %v, want [/p/a.txt /p/b.txt]", batch.Paths)
	}
	if batch.EndedAt.Sub(batch.StartedAt) < 20*time.Millisecond {
		t.Errorf("batch closed after %v, before the quiet window", batch.EndedAt.Sub(batch.StartedAt))
	}
}

// TestBatcher_QuietGapSplitsBatches verifies that events separated by more
// than the window land in separate batches.
func TestBatcher_QuietGapSplitsBatches(t *testing.T) {
	events := make(chan FileEvent, 10)
	b := &Batcher{Window: 10 * time.Millisecond}

	events <- ev("/p/a.txt")
	first, err := b.Next(context.Background(), events)
	if err != nil {
		t.Fatalf("first Next() failed: %v", err)
	}

	events <- ev("/p/b.txt")
	second, err := b.Next(context.Background(), events)
	if err != nil {
		t.Fatalf("second Next() failed: %v", err)
	}

	if len(first.Paths) != 1 || first.Paths[0] != "/p/a.txt" {
		t.Errorf("first batch = %v", first.Paths)
	}
	if len(second.Paths) != 1 || second.Paths[0] != "/p/b.txt" {
		t.Errorf("second batch = %v", second.Paths)
	}
}

// TestBatcher_SlidingWindow verifies that a burst longer than the window
// stays in one batch as long as no gap exceeds the window.
func TestBatcher_SlidingWindow(t *testing.T) {
	events := make(chan FileEvent, 10)
	window := 100 * time.Millisecond
	b := &Batcher{Window: window}

	go func() {
		for i := 0; i < 6; i++ {
			events <- ev("/p/a.txt")
			time.Sleep(window / 5)
		}
	}()

	batch, err := b.Next(context.Background(), events)
	if err != nil {
		t.Fatalf("Next() failed: %v", err)
	}
	if batch.Events != 6 {
		t.Errorf("Events = %d, want 6", batch.Events)
	}
	if batch.EndedAt.Sub(batch.StartedAt) <= window {
		t.Errorf("batch span %v should exceed one window", batch.EndedAt.Sub(batch.StartedAt))
	}
}

// TestBatcher_CloseDiscardsBatch verifies that closing the source drops
// the in-progress batch and reports end of stream.
func TestBatcher_CloseDiscardsBatch(t *testing.T) {
	events := make(chan FileEvent, 10)
	events <- ev("/p/a.txt")
	close(events)

	b := &Batcher{Window: time.Second}
	batch, err := b.Next(context.Background(), events)
	if !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("Next() error = %v, want ErrStreamClosed", err)
	}
	if batch != nil {
		t.Errorf("Next() returned batch %+v on close", batch)
	}

	if _, err := b.Next(context.Background(), events); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("Next() on closed source error = %v", err)
	}
}

// TestBatcher_Cancel verifies that cancellation ends waiting at either
// suspension point.
func TestBatcher_Cancel(t *testing.T) {
	b := &Batcher{Window: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Next(ctx, make(chan FileEvent)); !errors.Is(err, context.Canceled) {
		t.Errorf("idle Next() error = %v, want context.Canceled", err)
	}

	events := make(chan FileEvent, 1)
	events <- ev("/p/a.txt")
	ctx, cancel = context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	batch, err := b.Next(ctx, events)
	if !errors.Is(err, context.DeadlineExceeded) || batch != nil {
		t.Errorf("Next() mid-batch = %v, %v; want nil, deadline exceeded", batch, err)
	}
}

// TestBatcher_UsesClock verifies that batch timestamps come from Now.
func TestBatcher_UsesClock(t *testing.T) {
	base := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	calls := 0
	b := &Batcher{
		Window: time.Millisecond,
		Now: func() time.Time {
			calls++
			return base.Add(time.Duration(calls) * time.Second)
		},
	}

	events := make(chan FileEvent, 1)
	events <- ev("/p/a.txt")
	batch, err := b.Next(context.Background(), events)
	if err != nil {
		t.Fatalf("Next() failed: %v", err)
	}
	if !batch.StartedAt.Equal(base.Add(time.Second)) || !batch.EndedAt.Equal(base.Add(2*time.Second)) {
		t.Errorf("batch span = %v..%v", batch.StartedAt, batch.EndedAt)
	}
}
