// Package serialport reads raw lines from the detector's USB serial port.
// The collector owns the port lifecycle; a closed output channel is the
// disconnect signal the rest of the pipeline reacts to.
package serialport

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/yutar0xff/cosmicwatch-app/internal/domain"
	"github.com/yutar0xff/cosmicwatch-app/internal/ports"
)

// Config captures the runtime details required to open the device port.
type Config struct {
	Port        string        `yaml:"port"`
	BaudRate    int           `yaml:"baud_rate"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	MaxLineLen  int           `yaml:"max_line_len"`
}

func (c *Config) ApplyDefaults() {
	if c.BaudRate <= 0 {
		c.BaudRate = 9600
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 5 * time.Second
	}
	if c.MaxLineLen <= 0 {
		c.MaxLineLen = 4096
	}
}

func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}
	return nil
}

// Collector reads newline-terminated frames off the serial port and emits
// them as timestamped raw lines.
type Collector struct {
	cfg     Config
	port    serial.Port
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

func NewCollector(cfg Config) (*Collector, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Collector{cfg: cfg}, nil
}

// Start opens the port and begins streaming lines into out. The channel is
// closed when the device goes away; Start must not be called again until
// Stop has returned.
func (c *Collector) Start(out chan<- *domain.RawLine) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("serial collector already started")
	}
	c.mu.Unlock()

	mode := &serial.Mode{BaudRate: c.cfg.BaudRate}
	port, err := serial.Open(c.cfg.Port, mode)
	if err != nil {
		return fmt.Errorf("open serial port %q: %w", c.cfg.Port, err)
	}
	if err := port.SetReadTimeout(c.cfg.ReadTimeout); err != nil {
		_ = port.Close()
		return fmt.Errorf("set read timeout: %w", err)
	}

	c.mu.Lock()
	c.port = port
	c.started = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.consume(port, out)
	return nil
}

// Stop closes the port and waits for the reader goroutine to drain.
func (c *Collector) Stop() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	port := c.port
	c.started = false
	c.port = nil
	c.mu.Unlock()

	var err error
	if port != nil {
		err = port.Close()
	}
	c.wg.Wait()
	return err
}

func (c *Collector) consume(port serial.Port, out chan<- *domain.RawLine) {
	defer c.wg.Done()
	defer close(out)

	scanner := bufio.NewScanner(port)
	scanner.Buffer(make([]byte, 0, 256), c.cfg.MaxLineLen)

	for scanner.Scan() {
		text := strings.TrimRight(scanner.Text(), "\r")
		if text == "" {
			continue
		}
		out <- &domain.RawLine{Text: text, ReceivedAt: time.Now()}
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("serial read ended", "port", c.cfg.Port, "error", err)
	}
}

// ListPorts enumerates candidate device ports for the CLI and config
// validation hints.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}

var _ ports.Collector = (*Collector)(nil)
