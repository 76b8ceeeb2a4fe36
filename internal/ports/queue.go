package ports

import "github.com/yutar0xff/cosmicwatch-app/internal/domain"

// UploadQueue is the bounded FIFO between the capture path (producer) and the
// remote uploader (consumer). On overflow the oldest entries are evicted
// first; that is the only place in the pipeline where an accepted event can
// be lost.
type UploadQueue interface {
	// Enqueue appends an entry, evicting from the front if at capacity.
	// It returns how many entries were evicted to make room.
	Enqueue(entry domain.UploadEntry) (evicted int)
	// DequeueBatch removes and returns up to max entries in FIFO order.
	DequeueBatch(max int) []domain.UploadEntry
	// Requeue puts not-yet-uploaded entries back at the front, preserving
	// their order ahead of anything enqueued since.
	Requeue(entries []domain.UploadEntry) (evicted int)
	Len() int
}
