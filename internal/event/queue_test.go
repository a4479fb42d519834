package event

import (
	"errors"
	"testing"

	"paper_go/internal/domain"
	"paper_go/pkg/quant"
)

func submit(id string, due quant.TimeStamp) Action {
	return Action{Kind: ActSubmit, OrderID: id, Due: due}
}

func TestQueue_DrainOrder(t *testing.T) {
	q := NewQueue()
	q.Schedule(submit("c", 30))
	q.Schedule(submit("a", 10))
	q.Schedule(submit("b1", 20))
	q.Schedule(submit("b2", 20))

	got, err := q.AdvanceTo(25)
	if err != nil {
		t.Fatalf("AdvanceTo failed: %v", err)
	}
	want := []string{"a", "b1", "b2"}
	if len(got) != len(want) {
		t.Fatalf("drained %d actions, want %d", len(got), len(want))
	}
	for i, a := range got {
		if a.OrderID != want[i] {
			t.Errorf("drain[%d] = %s, want %s", i, a.OrderID, want[i])
		}
	}
	if q.Len() != 1 {
		t.Errorf("Len = %d, want 1", q.Len())
	}
}

func TestQueue_NothingBeforeDue(t *testing.T) {
	q := NewQueue()
	q.Schedule(submit("a", 100))

	got, _ := q.AdvanceTo(99)
	if len(got) != 0 {
		t.Fatalf("action returned before due: %+v", got)
	}
	got, _ = q.AdvanceTo(100)
	if len(got) != 1 {
		t.Fatalf("action not returned at due time")
	}
}

func TestQueue_ClockRegression(t *testing.T) {
	q := NewQueue()
	q.Schedule(submit("a", 50))
	if _, err := q.AdvanceTo(40); err != nil {
		t.Fatalf("AdvanceTo failed: %v", err)
	}

	_, err := q.AdvanceTo(39)
	if !errors.Is(err, domain.ErrClockRegression) {
		t.Fatalf("expected clock regression, got %v", err)
	}
	if last, _ := q.Last(); last != 40 {
		t.Errorf("regression must not move the clock, last=%d", last)
	}
	if q.Len() != 1 {
		t.Errorf("regression must not drop actions")
	}

	// Equal time is fine.
	if _, err := q.AdvanceTo(40); err != nil {
		t.Errorf("AdvanceTo(same) = %v, want nil", err)
	}
}

func TestQueue_Purge(t *testing.T) {
	q := NewQueue()
	q.Schedule(submit("a", 10))
	q.Schedule(NewFillAction("a", 20, quant.MustDecimal("100"), quant.MustDecimal("100"), quant.MustDecimal("1")))
	q.Schedule(submit("b", 10))

	if n := q.Purge("a", ActFill); n != 1 {
		t.Errorf("Purge(fill) removed %d, want 1", n)
	}
	if _, ok := q.Pending("a", ActFill); ok {
		t.Error("fill still pending after purge")
	}
	if _, ok := q.Pending("a", ActSubmit); !ok {
		t.Error("submit should survive a fill-only purge")
	}

	if n := q.Purge("a"); n != 1 {
		t.Errorf("Purge(all) removed %d, want 1", n)
	}
	if n := q.Purge("a"); n != 0 {
		t.Errorf("second Purge removed %d, want 0", n)
	}
	if n := q.Purge("missing"); n != 0 {
		t.Errorf("Purge(unknown) removed %d, want 0", n)
	}

	got, _ := q.AdvanceTo(100)
	if len(got) != 1 || got[0].OrderID != "b" {
		t.Errorf("unexpected drain after purge: %+v", got)
	}
}

func TestQueue_SnapshotRestore(t *testing.T) {
	q := NewQueue()
	q.Schedule(submit("a", 10))
	q.Schedule(submit("b", 10))
	q.Schedule(NewFillAction("a", 5, quant.MustDecimal("1"), quant.MustDecimal("1"), quant.MustDecimal("2")))
	if _, err := q.AdvanceTo(3); err != nil {
		t.Fatal(err)
	}

	r, err := RestoreQueue(q.Snapshot())
	if err != nil {
		t.Fatalf("RestoreQueue failed: %v", err)
	}
	if last, ok := r.Last(); !ok || last != 3 {
		t.Errorf("restored clock = %d/%v, want 3/true", last, ok)
	}

	// New schedules after restore must sort after the restored ties.
	r.Schedule(submit("c", 10))

	got, _ := r.AdvanceTo(10)
	order := []string{"a", "a", "b", "c"}
	if len(got) != len(order) {
		t.Fatalf("drained %d, want %d", len(got), len(order))
	}
	for i, a := range got {
		if a.OrderID != order[i] {
			t.Errorf("drain[%d] = %s, want %s", i, a.OrderID, order[i])
		}
	}
	if got[0].Fill == nil || got[0].Fill.Quantity.String() != "2" {
		t.Errorf("fill payload lost in round trip: %+v", got[0])
	}
}

func TestRestoreQueue_RejectsBadState(t *testing.T) {
	tests := []struct {
		name string
		st   QueueState
	}{
		{"DuplicateSeq", QueueState{NextSeq: 5, Actions: []Action{
			{Seq: 1, Kind: ActSubmit, OrderID: "a"},
			{Seq: 1, Kind: ActSubmit, OrderID: "b"},
		}}},
		{"SeqBeyondNext", QueueState{NextSeq: 2, Actions: []Action{
			{Seq: 2, Kind: ActSubmit, OrderID: "a"},
		}}},
		{"FillWithoutPayload", QueueState{NextSeq: 2, Actions: []Action{
			{Seq: 1, Kind: ActFill, OrderID: "a"},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := RestoreQueue(tt.st); err == nil {
				t.Error("expected error")
			}
		})
	}
}
