package ports

import "github.com/yutar0xff/cosmicwatch-app/internal/domain"

// Collector streams raw device lines into the pipeline. Implementations close
// the out channel when the device disconnects or Stop is called; the capture
// loop treats channel close as the disconnect signal.
type Collector interface {
	Start(out chan<- *domain.RawLine) error
	Stop() error
}
