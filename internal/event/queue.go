package event

import (
	"fmt"

	"paper_go/internal/domain"
	"paper_go/pkg/quant"

	"github.com/tidwall/btree"
)

// Queue is the simulated clock plus its time-ordered pending actions.
// Ordering is (Due, Seq): equal due times drain in insertion order.
// Not safe for concurrent use; the owning engine is single-threaded.
type Queue struct {
	tree     *btree.BTreeG[*Action]
	byOrder  map[string]map[uint64]*Action
	nextSeq  uint64
	last     quant.TimeStamp
	advanced bool
}

// QueueState is the serializable form of a Queue.
type QueueState struct {
	Actions  []Action        `json:"actions"`
	NextSeq  uint64          `json:"next_seq"`
	Last     quant.TimeStamp `json:"last"`
	Advanced bool            `json:"advanced"`
}

func byDueThenSeq(a, b *Action) bool {
	if a.Due != b.Due {
		return a.Due < b.Due
	}
	return a.Seq < b.Seq
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		tree:    btree.NewBTreeGOptions(byDueThenSeq, btree.Options{NoLocks: true}),
		byOrder: make(map[string]map[uint64]*Action),
		nextSeq: 1,
	}
}

// Schedule inserts a copy of a, assigning its Seq. O(log n).
func (q *Queue) Schedule(a Action) Action {
	stored := a.Clone()
	stored.Seq = q.nextSeq
	q.nextSeq++
	q.insert(&stored)
	return stored.Clone()
}

func (q *Queue) insert(a *Action) {
	q.tree.Set(a)
	m, ok := q.byOrder[a.OrderID]
	if !ok {
		m = make(map[uint64]*Action)
		q.byOrder[a.OrderID] = m
	}
	m[a.Seq] = a
}

func (q *Queue) remove(a *Action) {
	q.tree.Delete(a)
	if m, ok := q.byOrder[a.OrderID]; ok {
		delete(m, a.Seq)
		if len(m) == 0 {
			delete(q.byOrder, a.OrderID)
		}
	}
}

// AdvanceTo removes and returns, in (Due, Seq) order, every action due at or before t.
// t must not be earlier than the previous AdvanceTo; on regression nothing changes.
func (q *Queue) AdvanceTo(t quant.TimeStamp) ([]Action, error) {
	if q.advanced && t < q.last {
		return nil, &domain.ClockRegressionError{Last: q.last, Got: t}
	}
	q.last = t
	q.advanced = true

	var due []Action
	for {
		a, ok := q.tree.Min()
		if !ok || a.Due > t {
			break
		}
		q.remove(a)
		due = append(due, *a)
	}
	return due, nil
}

// Purge drops pending actions for orderID. With no kinds given every action is
// dropped; otherwise only the listed kinds. Idempotent. Returns how many were removed.
func (q *Queue) Purge(orderID string, kinds ...ActionKind) int {
	m, ok := q.byOrder[orderID]
	if !ok {
		return 0
	}
	var victims []*Action
	for _, a := range m {
		if len(kinds) == 0 || containsKind(kinds, a.Kind) {
			victims = append(victims, a)
		}
	}
	for _, a := range victims {
		q.remove(a)
	}
	return len(victims)
}

func containsKind(kinds []ActionKind, k ActionKind) bool {
	for _, c := range kinds {
		if c == k {
			return true
		}
	}
	return false
}

// Pending returns the earliest pending action of kind for orderID.
func (q *Queue) Pending(orderID string, kind ActionKind) (Action, bool) {
	var best *Action
	for _, a := range q.byOrder[orderID] {
		if a.Kind == kind && (best == nil || byDueThenSeq(a, best)) {
			best = a
		}
	}
	if best == nil {
		return Action{}, false
	}
	return best.Clone(), true
}

// Len is the number of pending actions.
func (q *Queue) Len() int {
	return q.tree.Len()
}

// Last is the most recent AdvanceTo time, and whether the clock has advanced at all.
func (q *Queue) Last() (quant.TimeStamp, bool) {
	return q.last, q.advanced
}

// Snapshot copies the queue out in drain order.
func (q *Queue) Snapshot() QueueState {
	st := QueueState{
		Actions:  make([]Action, 0, q.tree.Len()),
		NextSeq:  q.nextSeq,
		Last:     q.last,
		Advanced: q.advanced,
	}
	q.tree.Scan(func(a *Action) bool {
		st.Actions = append(st.Actions, a.Clone())
		return true
	})
	return st
}

// RestoreQueue rebuilds a queue from a snapshot, keeping the original Seq values
// so FIFO tie-breaks survive a round trip.
func RestoreQueue(st QueueState) (*Queue, error) {
	q := NewQueue()
	q.nextSeq = st.NextSeq
	q.last = st.Last
	q.advanced = st.Advanced

	seen := make(map[uint64]bool, len(st.Actions))
	for _, a := range st.Actions {
		if !a.Valid() {
			return nil, fmt.Errorf("invalid pending action seq=%d kind=%s", a.Seq, a.Kind)
		}
		if seen[a.Seq] || a.Seq == 0 || a.Seq >= st.NextSeq {
			return nil, fmt.Errorf("pending action seq %d out of range or duplicated (next_seq=%d)", a.Seq, st.NextSeq)
		}
		seen[a.Seq] = true
		stored := a.Clone()
		q.insert(&stored)
	}
	return q, nil
}
