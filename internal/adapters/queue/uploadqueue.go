package queue

import (
	"sync"

	"github.com/yutar0xff/cosmicwatch-app/internal/domain"
	"github.com/yutar0xff/cosmicwatch-app/internal/ports"
)

// UploadQueue is a bounded in-memory FIFO that evicts its oldest entries on
// overflow. Bounded memory wins over completeness here; evictions are counted
// by the caller and surfaced on the pending-count gauge.
type UploadQueue struct {
	mu   sync.Mutex
	data []domain.UploadEntry
	cap  int
}

func NewUploadQueue(capacity int) *UploadQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &UploadQueue{
		data: make([]domain.UploadEntry, 0, capacity),
		cap:  capacity,
	}
}

func (q *UploadQueue) Enqueue(entry domain.UploadEntry) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	evicted := 0
	if len(q.data) >= q.cap {
		evicted = len(q.data) - q.cap + 1
		q.data = append(q.data[:0], q.data[evicted:]...)
	}
	q.data = append(q.data, entry)
	return evicted
}

func (q *UploadQueue) DequeueBatch(max int) []domain.UploadEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) == 0 {
		return nil
	}
	if max <= 0 || max > len(q.data) {
		max = len(q.data)
	}
	out := make([]domain.UploadEntry, max)
	copy(out, q.data[:max])
	q.data = append(q.data[:0], q.data[max:]...)
	return out
}

// Requeue restores a failed batch's unsent entries ahead of newer arrivals so
// relative order among not-yet-uploaded events is preserved. If the combined
// length exceeds capacity the oldest entries still go first.
func (q *UploadQueue) Requeue(entries []domain.UploadEntry) int {
	if len(entries) == 0 {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	merged := make([]domain.UploadEntry, 0, len(entries)+len(q.data))
	merged = append(merged, entries...)
	merged = append(merged, q.data...)

	evicted := 0
	if len(merged) > q.cap {
		evicted = len(merged) - q.cap
		merged = merged[evicted:]
	}
	q.data = append(q.data[:0], merged...)
	return evicted
}

func (q *UploadQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}

var _ ports.UploadQueue = (*UploadQueue)(nil)
