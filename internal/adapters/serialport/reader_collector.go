package serialport

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/yutar0xff/cosmicwatch-app/internal/domain"
	"github.com/yutar0xff/cosmicwatch-app/internal/ports"
)

// ReaderCollector adapts any line-oriented io.Reader into a collector.
// Used for replaying capture files and for piping a detector through stdin.
type ReaderCollector struct {
	r       io.Reader
	closer  io.Closer
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewReaderCollector wraps r. If r is also an io.Closer, Stop closes it.
func NewReaderCollector(r io.Reader) *ReaderCollector {
	rc := &ReaderCollector{r: r}
	if c, ok := r.(io.Closer); ok {
		rc.closer = c
	}
	return rc
}

func (c *ReaderCollector) Start(out chan<- *domain.RawLine) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("reader collector already started")
	}
	c.started = true
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(out)

		scanner := bufio.NewScanner(c.r)
		for scanner.Scan() {
			text := strings.TrimRight(scanner.Text(), "\r")
			if text == "" {
				continue
			}
			out <- &domain.RawLine{Text: text, ReceivedAt: time.Now()}
		}
	}()
	return nil
}

func (c *ReaderCollector) Stop() error {
	c.mu.Lock()
	closer := c.closer
	c.started = false
	c.mu.Unlock()

	var err error
	if closer != nil {
		err = closer.Close()
	}
	c.wg.Wait()
	return err
}

var _ ports.Collector = (*ReaderCollector)(nil)
