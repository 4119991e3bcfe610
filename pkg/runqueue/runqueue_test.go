package runqueue

import "testing"

func TestAddRespectsCapacity(t *testing.T) {
	q := New("foo", 2)

	if err := q.Add("j1"); err != nil {
		t.Fatalf("Add(j1) failed: %v", err)
	}
	if err := q.Add("j2"); err != nil {
		t.Fatalf("Add(j2) failed: %v", err)
	}
	if !q.IsFull() {
		t.Fatal("expected queue to be full at capacity")
	}
	if err := q.Add("j3"); err != ErrQueueFull {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if q.Len() != 2 {
		t.Fatalf("expected len 2, got %d", q.Len())
	}
}

func TestAddDuplicateIsNoop(t *testing.T) {
	q := New("foo", 1)
	if err := q.Add("j1"); err != nil {
		t.Fatalf("Add(j1) failed: %v", err)
	}
	if err := q.Add("j1"); err != nil {
		t.Fatalf("re-adding j1 should be a no-op success, got %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("expected len 1, got %d", q.Len())
	}
}

func TestRemoveAbsentIsNoop(t *testing.T) {
	q := New("foo", 1)
	q.Remove("missing") // must not panic

	if err := q.Add("j1"); err != nil {
		t.Fatalf("Add(j1) failed: %v", err)
	}
	q.Remove("j1")
	q.Remove("j1") // duplicate completion event tolerated
	if q.Len() != 0 {
		t.Fatalf("expected len 0 after removal, got %d", q.Len())
	}
	if q.Contains("j1") {
		t.Fatal("expected j1 to be gone")
	}
}
