package relay

import "relaygram/internal/storage"

// Queue tracks a contiguous id range of one source for one profile.
//
// MinID == 0 means the queue is empty. Items are filled only while a drain
// tick populates the queue and are never persisted.
type Queue struct {
	ID      int64
	Profile string
	Source  string
	MinID   int64
	MaxID   int64
	Open    bool

	Items []Item
}

func queueFromRow(r storage.QueueRow) *Queue {
	return &Queue{
		ID:      r.ID,
		Profile: r.Profile,
		Source:  r.Source,
		MinID:   r.MinID,
		MaxID:   r.MaxID,
		Open:    r.Open,
	}
}

func (q *Queue) row() storage.QueueRow {
	return storage.QueueRow{
		ID:      q.ID,
		Profile: q.Profile,
		Source:  q.Source,
		MinID:   q.MinID,
		MaxID:   q.MaxID,
		Open:    q.Open,
	}
}

// Empty reports whether no item was ever recorded.
func (q *Queue) Empty() bool { return q.MinID == 0 }

// Pending is the number of ids the range spans.
func (q *Queue) Pending() int64 {
	if q.MinID == 0 {
		return 0
	}
	return q.MaxID - q.MinID + 1
}
