// Package filesink appends every accepted event of a session to one capture
// file, write-ahead style: bytes are only ever appended, never rewritten.
package filesink

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/yutar0xff/cosmicwatch-app/internal/codec"
	"github.com/yutar0xff/cosmicwatch-app/internal/domain"
	"github.com/yutar0xff/cosmicwatch-app/internal/ports"
)

const fileTimeLayout = "2006-01-02_15-04-05"

var deviceBanner = []string{
	"CosmicWatch: The Desktop Muon Detector",
	"Event Ard_time[ms] ADC[0-1023] SiPM[mV] Deadtime[ms] Temp[C]",
}

// Config controls where capture files land and how rejected lines are kept.
type Config struct {
	Dir string `yaml:"dir"`
	// Suffix is appended to the timestamp-derived file name, e.g. a
	// detector name.
	Suffix string `yaml:"suffix"`
	// CommentInvalid comments out unparseable data lines instead of passing
	// them through tab-normalized. Only relevant when the session includes
	// comments at all.
	CommentInvalid bool `yaml:"comment_invalid"`
}

func (c *Config) ApplyDefaults() {
	if c.Dir == "" {
		c.Dir = "./data/captures"
	}
}

// FileSink writes one append-only text file per session. Any write failure is
// fatal for the session: losing file bytes silently is worse than stopping.
type FileSink struct {
	cfg Config

	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	path   string
}

func New(cfg Config) (*FileSink, error) {
	cfg.ApplyDefaults()
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("filesink mkdir: %w", err)
	}
	return &FileSink{cfg: cfg}, nil
}

func (s *FileSink) Name() string { return "file" }

func (s *FileSink) Capabilities() ports.Capability {
	return ports.CapOpen | ports.CapWrite | ports.CapRaw | ports.CapClose
}

// Path returns the capture file path of the open session, if any.
func (s *FileSink) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

func (s *FileSink) OpenSession(ctx context.Context, sess *ports.SessionInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		return fmt.Errorf("filesink: session already open at %s", s.path)
	}

	name := sess.StartedAt.Format(fileTimeLayout)
	if s.cfg.Suffix != "" {
		name += "_" + s.cfg.Suffix
	}
	path := filepath.Join(s.cfg.Dir, name+".txt")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("filesink create %s: %w", path, err)
	}

	s.file = f
	s.writer = bufio.NewWriter(f)
	s.path = path

	if sess.IncludeComments {
		if err := s.writeHeaderLocked(sess); err != nil {
			_ = f.Close()
			s.reset()
			return err
		}
	}
	return nil
}

func (s *FileSink) writeHeaderLocked(sess *ports.SessionInfo) error {
	lines := make([]string, 0, len(deviceBanner)+4)
	for _, b := range deviceBanner {
		lines = append(lines, "# "+b)
	}
	lines = append(lines, "# Recording started: "+sess.StartedAt.Format(time.RFC3339))
	for _, c := range strings.Split(sess.Comment, "\n") {
		if c = strings.TrimSpace(c); c != "" {
			lines = append(lines, "# "+c)
		}
	}
	for _, l := range lines {
		if _, err := s.writer.WriteString(l + "\n"); err != nil {
			return fmt.Errorf("filesink header: %w", err)
		}
	}
	return s.writer.Flush()
}

func (s *FileSink) WriteEvent(ctx context.Context, sess *ports.SessionInfo, ev *domain.Event) error {
	return s.appendLine(codec.Format(ev))
}

// WriteRaw keeps the capture file a faithful superset of everything received
// when the session includes comments: comment lines go through verbatim,
// unparseable data lines are either commented out or tab-normalized. Sessions
// recorded without comments drop rejected lines entirely.
func (s *FileSink) WriteRaw(ctx context.Context, sess *ports.SessionInfo, line string) error {
	if !sess.IncludeComments {
		return nil
	}
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}
	if strings.HasPrefix(trimmed, "#") {
		return s.appendLine(line)
	}
	if s.cfg.CommentInvalid {
		return s.appendLine("# " + codec.FormatRaw(line))
	}
	return s.appendLine(codec.FormatRaw(line))
}

func (s *FileSink) appendLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return fmt.Errorf("filesink: no open session: %w", ports.ErrSinkFatal)
	}
	if _, err := s.writer.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("filesink append: %v: %w", err, ports.ErrSinkFatal)
	}
	// Flushed per line so a crash loses at most the line being written.
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("filesink flush: %v: %w", err, ports.ErrSinkFatal)
	}
	return nil
}

func (s *FileSink) CloseSession(ctx context.Context, sess *ports.SessionInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	if sess.IncludeComments {
		marker := "# Recording stopped: " + time.Now().UTC().Format(time.RFC3339) + "\n"
		if _, err := s.writer.WriteString(marker); err != nil {
			_ = s.file.Close()
			s.reset()
			return fmt.Errorf("filesink end marker: %w", err)
		}
	}
	if err := s.writer.Flush(); err != nil {
		_ = s.file.Close()
		s.reset()
		return fmt.Errorf("filesink final flush: %w", err)
	}
	err := s.file.Close()
	s.reset()
	if err != nil {
		return fmt.Errorf("filesink close: %w", err)
	}
	return nil
}

func (s *FileSink) reset() {
	s.file = nil
	s.writer = nil
	s.path = ""
}

var (
	_ ports.EventSink     = (*FileSink)(nil)
	_ ports.SessionOpener = (*FileSink)(nil)
	_ ports.EventWriter   = (*FileSink)(nil)
	_ ports.RawWriter     = (*FileSink)(nil)
	_ ports.SessionCloser = (*FileSink)(nil)
)
