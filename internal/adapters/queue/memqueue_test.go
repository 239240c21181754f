package queue

import (
	"testing"
	"time"

	"github.com/ghalamif/AxisFlow/internal/domain"
)

func TestMemQueueEnqueueDequeueOrder(t *testing.T) {
	q := NewMemQueue[domain.MachineRecord](4)

	r1 := domain.MachineRecord{MachineID: "M00000001"}
	r2 := domain.MachineRecord{MachineID: "M00000002"}

	if !q.Enqueue(r1) || !q.Enqueue(r2) {
		t.Fatalf("expected successful enqueue")
	}

	batch := q.DequeueBatch(1)
	if len(batch) != 1 || batch[0].MachineID != "M00000001" {
		t.Fatalf("unexpected first batch: %+v", batch)
	}

	remaining := q.DequeueBatch(10)
	if len(remaining) != 1 || remaining[0].MachineID != "M00000002" {
		t.Fatalf("unexpected second batch: %+v", remaining)
	}

	if q.Len() != 0 {
		t.Fatalf("queue should be empty, got %d", q.Len())
	}
	if q.DequeueBatch(5) != nil {
		t.Fatalf("expected nil batch from empty queue")
	}
}

func TestMemQueueCapacity(t *testing.T) {
	q := NewMemQueue[int](2)

	if !q.Enqueue(1) || !q.Enqueue(2) {
		t.Fatalf("expected enqueue within capacity")
	}
	if q.Enqueue(3) {
		t.Fatalf("enqueue should fail when capacity exceeded")
	}

	q.DequeueBatch(1)
	if !q.Enqueue(4) {
		t.Fatalf("expected enqueue to succeed after dequeue")
	}
	if got := q.DequeueBatch(0); len(got) != 2 || got[0] != 2 || got[1] != 4 {
		t.Fatalf("unexpected drain order %v", got)
	}
}

func TestMemQueueReadyCoalesces(t *testing.T) {
	q := NewMemQueue[int](8)

	q.Enqueue(1)
	q.Enqueue(2)

	select {
	case <-q.Ready():
	case <-time.After(time.Second):
		t.Fatalf("expected ready signal after enqueue")
	}
	select {
	case <-q.Ready():
		t.Fatalf("expected wakeups to coalesce")
	default:
	}
	if q.Len() != 2 {
		t.Fatalf("expected 2 queued items, got %d", q.Len())
	}
}
