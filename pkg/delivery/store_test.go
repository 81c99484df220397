package delivery

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreEnqueuePickAck(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.Enqueue(ctx, []byte(`{"response_id": "a"}`))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	id2, err := s.Enqueue(ctx, []byte(`{"response_id": "b"}`))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if id2 <= id1 {
		t.Errorf("ids must increase: %d then %d", id1, id2)
	}

	items, err := s.Pick(ctx, 10)
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("picked %d items", len(items))
	}
	if items[0].ID != id1 || items[1].ID != id2 {
		t.Errorf("pick order wrong: %d, %d", items[0].ID, items[1].ID)
	}
	if items[0].Status != StatusProcessing {
		t.Errorf("status = %q", items[0].Status)
	}

	// Claimed rows are invisible to a second pick.
	again, err := s.Pick(ctx, 10)
	if err != nil {
		t.Fatalf("second Pick: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second pick returned %d items", len(again))
	}

	if err := s.Ack(ctx, []int64{id1, id2}); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	queued, processing, failed, err := s.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if queued != 0 || processing != 0 || failed != 0 {
		t.Errorf("counts after ack: %d/%d/%d", queued, processing, failed)
	}
}

func TestStorePickRespectsLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := s.Enqueue(ctx, []byte(`{}`)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	items, err := s.Pick(ctx, 3)
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if len(items) != 3 {
		t.Errorf("picked %d, want 3", len(items))
	}
}

func TestStoreRescheduleBacksOff(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Enqueue(ctx, []byte(`{}`)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	items, err := s.Pick(ctx, 1)
	if err != nil || len(items) != 1 {
		t.Fatalf("Pick: %v (%d items)", err, len(items))
	}

	status, err := s.Reschedule(ctx, items[0], 5)
	if err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if status != StatusQueued {
		t.Errorf("status = %q, want queued", status)
	}

	// The row is queued but its scheduled_at is in the future.
	eligible, err := s.Pick(ctx, 1)
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if len(eligible) != 0 {
		t.Error("rescheduled row must not be immediately eligible")
	}

	queued, _, _, err := s.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if queued != 1 {
		t.Errorf("queued = %d", queued)
	}
}

func TestStoreRescheduleExhaustsToFailed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Enqueue(ctx, []byte(`{}`)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	items, err := s.Pick(ctx, 1)
	if err != nil || len(items) != 1 {
		t.Fatalf("Pick: %v", err)
	}

	it := items[0]
	it.RetryCount = 4 // next failure is the fifth attempt
	status, err := s.Reschedule(ctx, it, 5)
	if err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if status != StatusFailed {
		t.Errorf("status = %q, want failed", status)
	}

	// Terminal rows never come back.
	if picked, _ := s.Pick(ctx, 10); len(picked) != 0 {
		t.Error("failed row was picked")
	}
	_, _, failed, err := s.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if failed != 1 {
		t.Errorf("failed = %d", failed)
	}
}

func TestStoreReclaim(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Enqueue(ctx, []byte(`{}`)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := s.Pick(ctx, 1); err != nil {
		t.Fatalf("Pick: %v", err)
	}

	// Fresh processing rows are not reclaimed.
	n, err := s.Reclaim(ctx, time.Minute)
	if err != nil {
		t.Fatalf("Reclaim: %v", err)
	}
	if n != 0 {
		t.Errorf("reclaimed %d fresh rows", n)
	}

	// With a zero threshold every processing row is an orphan.
	time.Sleep(10 * time.Millisecond)
	n, err = s.Reclaim(ctx, 0)
	if err != nil {
		t.Fatalf("Reclaim: %v", err)
	}
	if n != 1 {
		t.Errorf("reclaimed %d, want 1", n)
	}

	items, err := s.Pick(ctx, 1)
	if err != nil {
		t.Fatalf("Pick after reclaim: %v", err)
	}
	if len(items) != 1 {
		t.Error("reclaimed row must be eligible again")
	}
}

func TestStoreMarkFailed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Enqueue(ctx, []byte(`not json`))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s.MarkFailed(ctx, id); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if picked, _ := s.Pick(ctx, 10); len(picked) != 0 {
		t.Error("failed row was picked")
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	ctx := context.Background()

	s1, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	if _, err := s1.Enqueue(ctx, []byte(`{"response_id": "persisted"}`)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := OpenStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	items, err := s2.Pick(ctx, 10)
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if len(items) != 1 || string(items[0].Payload) != `{"response_id": "persisted"}` {
		t.Errorf("row did not survive reopen: %+v", items)
	}
}
