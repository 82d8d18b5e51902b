package chat

import (
	"container/heap"
	"time"

	"github.com/google/uuid"
)

type expiry struct {
	at time.Time
	id uuid.UUID
}

// expirySchedule is a min-heap of pending removals ordered by expiry time.
type expirySchedule []expiry

func (s expirySchedule) Len() int           { return len(s) }
func (s expirySchedule) Less(i, j int) bool { return s[i].at.Before(s[j].at) }
func (s expirySchedule) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

func (s *expirySchedule) Push(x any) { *s = append(*s, x.(expiry)) }

func (s *expirySchedule) Pop() any {
	old := *s
	n := len(old)
	item := old[n-1]
	*s = old[:n-1]
	return item
}

func (s *expirySchedule) add(at time.Time, id uuid.UUID) {
	heap.Push(s, expiry{at: at, id: id})
}

// next returns the earliest pending expiry.
func (s expirySchedule) next() (time.Time, bool) {
	if len(s) == 0 {
		return time.Time{}, false
	}
	return s[0].at, true
}

// popDue removes and returns every entry whose expiry is not after now, in
// expiry order.
func (s *expirySchedule) popDue(now time.Time) []uuid.UUID {
	var due []uuid.UUID
	for s.Len() > 0 && !(*s)[0].at.After(now) {
		due = append(due, heap.Pop(s).(expiry).id)
	}
	return due
}
