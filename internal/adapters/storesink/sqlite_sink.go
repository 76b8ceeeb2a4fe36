// Package storesink persists sessions and events in an embedded SQLite
// database. Writes are batched; reads are paginated; statistics and
// histograms are computed on demand over the full stored extent.
package storesink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/yutar0xff/cosmicwatch-app/internal/domain"
	"github.com/yutar0xff/cosmicwatch-app/internal/ports"
)

// Config controls the store sink.
type Config struct {
	Path string `yaml:"path"`
	// BatchSize is the number of buffered events that forces a flush.
	BatchSize int `yaml:"batch_size"`
}

func (c *Config) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "./data/cosmicwatch.db"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 64
	}
}

// Stats is the aggregate view of one session, computed from the stored set.
type Stats struct {
	TotalEvents int64
	MinADC      int
	MaxADC      int
	MinTemp     float64
	MaxTemp     float64
	AvgTemp     float64
	DurationMs  int64
	CountRate   float64 // events per second over the session duration
}

// HistogramBin is one bucket of an on-demand histogram.
type HistogramBin struct {
	Lo    float64
	Hi    float64
	Count int64
}

// QueryOpts paginate and order event reads.
type QueryOpts struct {
	SessionID string
	Limit     int
	Offset    int
	OrderBy   string // seq_id, adc, temperature_c, received_at
	Desc      bool
}

var orderColumns = map[string]string{
	"seq_id":        "seq_id",
	"adc":           "adc",
	"temperature_c": "temperature_c",
	"received_at":   "received_at",
}

var histogramColumns = map[string]string{
	"adc":           "adc",
	"sipm_mv":       "sipm_mv",
	"temperature_c": "temperature_c",
	"deadtime_ms":   "deadtime_ms",
}

// StoreSink buffers events into bounded batches and flushes each in a single
// transaction: bulk insert plus the session's total_events increment. Batches
// are keyed by session so a batch left pending by a failed flush stays
// attributed to its own session even after a new session has started writing.
// A failed flush keeps the batch pending for the next trigger.
type StoreSink struct {
	db        *sql.DB
	batchSize int

	mu      sync.Mutex
	pending map[string][]*domain.Event
	order   []string // session IDs with pending batches, oldest first

	statsMu    sync.Mutex
	statsCache map[string]Stats
}

func New(db *sql.DB, cfg Config) *StoreSink {
	cfg.ApplyDefaults()
	return &StoreSink{
		db:         db,
		batchSize:  cfg.BatchSize,
		pending:    make(map[string][]*domain.Event),
		statsCache: make(map[string]Stats),
	}
}

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) Capabilities() ports.Capability {
	return ports.CapOpen | ports.CapWrite | ports.CapClose | ports.CapQuery
}

// EnsureSchema creates tables and secondary indexes if they do not exist.
func (s *StoreSink) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			started_at TIMESTAMP NOT NULL,
			ended_at TIMESTAMP,
			comment TEXT NOT NULL DEFAULT '',
			include_comments INTEGER NOT NULL DEFAULT 0,
			total_events INTEGER NOT NULL DEFAULT 0,
			is_active INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			session_id TEXT NOT NULL,
			seq_id INTEGER NOT NULL,
			source_ts TEXT,
			monotonic_ms INTEGER,
			adc INTEGER NOT NULL,
			sipm_mv REAL NOT NULL,
			deadtime_ms INTEGER NOT NULL,
			temperature_c REAL NOT NULL,
			humidity REAL,
			pressure_hpa REAL,
			received_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_session_seq ON events(session_id, seq_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_adc ON events(adc)`,
		`CREATE INDEX IF NOT EXISTS idx_events_received ON events(received_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store schema: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) OpenSession(ctx context.Context, sess *ports.SessionInfo) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, started_at, comment, include_comments, total_events, is_active) VALUES (?,?,?,?,0,1)`,
		sess.ID, sess.StartedAt, sess.Comment, boolToInt(sess.IncludeComments))
	if err != nil {
		return fmt.Errorf("store open session: %w", err)
	}
	return nil
}

func (s *StoreSink) WriteEvent(ctx context.Context, sess *ports.SessionInfo, ev *domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[sess.ID]; !ok {
		s.order = append(s.order, sess.ID)
	}
	s.pending[sess.ID] = append(s.pending[sess.ID], ev)
	if len(s.pending[sess.ID]) < s.batchSize {
		return nil
	}
	return s.flushSessionLocked(ctx, sess.ID)
}

// Flush writes all pending batches, oldest session first. Called by the
// periodic flush loop. Stops at the first failed batch; it stays pending.
func (s *StoreSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.order) > 0 {
		if err := s.flushSessionLocked(ctx, s.order[0]); err != nil {
			return err
		}
	}
	return nil
}

// Pending returns the number of buffered, not yet flushed events.
func (s *StoreSink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, batch := range s.pending {
		n += len(batch)
	}
	return n
}

func (s *StoreSink) flushSessionLocked(ctx context.Context, sessionID string) error {
	batch := s.pending[sessionID]
	if len(batch) == 0 {
		s.dropBatchLocked(sessionID)
		return nil
	}

	var b strings.Builder
	b.WriteString(`INSERT INTO events (session_id, seq_id, source_ts, monotonic_ms, adc, sipm_mv, deadtime_ms, temperature_c, humidity, pressure_hpa, received_at) VALUES `)

	args := make([]any, 0, len(batch)*11)
	for i, ev := range batch {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("(?,?,?,?,?,?,?,?,?,?,?)")
		args = append(args,
			sessionID,
			ev.SequenceID,
			nullString(ev.SourceTimestamp),
			ev.MonotonicTimeMs,
			ev.ADC,
			ev.SiPMMilliVolts,
			ev.DeadtimeMs,
			ev.TemperatureC,
			nullFloat(ev.Humidity),
			nullFloat(ev.PressureHPa),
			ev.ReceivedAt,
		)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store flush begin: %w", err)
	}
	if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("store flush insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET total_events = total_events + ? WHERE id = ?`,
		len(batch), sessionID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("store flush counter: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store flush commit: %w", err)
	}

	s.dropBatchLocked(sessionID)
	return nil
}

func (s *StoreSink) dropBatchLocked(sessionID string) {
	delete(s.pending, sessionID)
	for i, id := range s.order {
		if id == sessionID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *StoreSink) CloseSession(ctx context.Context, sess *ports.SessionInfo) error {
	s.mu.Lock()
	err := s.flushSessionLocked(ctx, sess.ID)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, is_active = 0 WHERE id = ?`,
		time.Now().UTC(), sess.ID)
	if err != nil {
		return fmt.Errorf("store close session: %w", err)
	}
	return nil
}

// Query reads stored events with pagination and a whitelisted ordering.
func (s *StoreSink) Query(ctx context.Context, opts QueryOpts) ([]domain.Event, error) {
	col, ok := orderColumns[opts.OrderBy]
	if opts.OrderBy == "" {
		col, ok = "seq_id", true
	}
	if !ok {
		return nil, fmt.Errorf("store query: unknown order column %q", opts.OrderBy)
	}
	dir := "ASC"
	if opts.Desc {
		dir = "DESC"
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	var (
		where string
		args  []any
	)
	if opts.SessionID != "" {
		where = " WHERE session_id = ?"
		args = append(args, opts.SessionID)
	}
	args = append(args, limit, opts.Offset)

	q := `SELECT seq_id, source_ts, monotonic_ms, adc, sipm_mv, deadtime_ms, temperature_c, humidity, pressure_hpa, received_at FROM events` +
		where + ` ORDER BY ` + col + ` ` + dir + ` LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store query: %w", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var (
			ev       domain.Event
			sourceTS sql.NullString
			hum      sql.NullFloat64
			press    sql.NullFloat64
		)
		if err := rows.Scan(&ev.SequenceID, &sourceTS, &ev.MonotonicTimeMs, &ev.ADC,
			&ev.SiPMMilliVolts, &ev.DeadtimeMs, &ev.TemperatureC, &hum, &press, &ev.ReceivedAt); err != nil {
			return nil, fmt.Errorf("store scan: %w", err)
		}
		ev.SourceTimestamp = sourceTS.String
		if hum.Valid {
			v := hum.Float64
			ev.Humidity = &v
		}
		if press.Valid {
			v := press.Float64
			ev.PressureHPa = &v
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Sessions lists stored sessions, newest first.
func (s *StoreSink) Sessions(ctx context.Context) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, ended_at, comment, include_comments, total_events, is_active FROM sessions ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		var (
			sess     domain.Session
			started  string
			ended    sql.NullString
			withCmts int
			active   int
		)
		if err := rows.Scan(&sess.ID, &started, &ended, &sess.Comment, &withCmts, &sess.TotalEvents, &active); err != nil {
			return nil, fmt.Errorf("store sessions scan: %w", err)
		}
		if t, err := parseStoredTime(started); err == nil {
			sess.StartedAt = t
		}
		if ended.Valid {
			if t, err := parseStoredTime(ended.String); err == nil {
				sess.EndedAt = t
			}
		}
		sess.IncludeComments = withCmts != 0
		sess.Active = active != 0
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Count returns the stored event count, for one session or overall.
func (s *StoreSink) Count(ctx context.Context, sessionID string) (int64, error) {
	q := `SELECT COUNT(*) FROM events`
	var args []any
	if sessionID != "" {
		q += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("store count: %w", err)
	}
	return n, nil
}

// Histogram buckets a numeric field into binCount equal-width bins over the
// session's full extent. Computed on request, not maintained incrementally;
// it is only hit from interactive reads.
func (s *StoreSink) Histogram(ctx context.Context, sessionID, field string, binCount int) ([]HistogramBin, error) {
	col, ok := histogramColumns[field]
	if !ok {
		return nil, fmt.Errorf("store histogram: unknown field %q", field)
	}
	if binCount <= 0 {
		binCount = 10
	}

	var lo, hi sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		`SELECT MIN(`+col+`), MAX(`+col+`) FROM events WHERE session_id = ?`,
		sessionID).Scan(&lo, &hi); err != nil {
		return nil, fmt.Errorf("store histogram extent: %w", err)
	}
	if !lo.Valid || !hi.Valid {
		return nil, nil
	}

	width := (hi.Float64 - lo.Float64) / float64(binCount)
	bins := make([]HistogramBin, binCount)
	for i := range bins {
		bins[i].Lo = lo.Float64 + width*float64(i)
		bins[i].Hi = lo.Float64 + width*float64(i+1)
	}

	if width == 0 {
		// Degenerate extent: everything lands in one bin.
		n, err := s.Count(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		bins[0].Count = n
		return bins, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT CAST((`+col+` - ?) / ? AS INTEGER) AS bin, COUNT(*) FROM events WHERE session_id = ? GROUP BY bin`,
		lo.Float64, width, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store histogram: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			bin int
			n   int64
		)
		if err := rows.Scan(&bin, &n); err != nil {
			return nil, fmt.Errorf("store histogram scan: %w", err)
		}
		if bin < 0 {
			bin = 0
		}
		if bin >= binCount {
			// The max value computes to binCount; fold it into the last bin.
			bin = binCount - 1
		}
		bins[bin].Count += n
	}
	return bins, rows.Err()
}

// Stats returns session aggregates, served from cache. Recomputation happens
// on explicit request only; recomputing per insert would be prohibitive at
// detector event rates.
func (s *StoreSink) Stats(ctx context.Context, sessionID string, recompute bool) (Stats, error) {
	s.statsMu.Lock()
	if !recompute {
		if cached, ok := s.statsCache[sessionID]; ok {
			s.statsMu.Unlock()
			return cached, nil
		}
	}
	s.statsMu.Unlock()

	var (
		st       Stats
		minADC   sql.NullInt64
		maxADC   sql.NullInt64
		minTemp  sql.NullFloat64
		maxTemp  sql.NullFloat64
		avgTemp  sql.NullFloat64
		firstRec sql.NullString
		lastRec  sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(adc), MAX(adc), MIN(temperature_c), MAX(temperature_c), AVG(temperature_c), MIN(received_at), MAX(received_at) FROM events WHERE session_id = ?`,
		sessionID).Scan(&st.TotalEvents, &minADC, &maxADC, &minTemp, &maxTemp, &avgTemp, &firstRec, &lastRec)
	if err != nil {
		return Stats{}, fmt.Errorf("store stats: %w", err)
	}

	st.MinADC = int(minADC.Int64)
	st.MaxADC = int(maxADC.Int64)
	st.MinTemp = minTemp.Float64
	st.MaxTemp = maxTemp.Float64
	st.AvgTemp = avgTemp.Float64

	if firstRec.Valid && lastRec.Valid {
		first, errF := parseStoredTime(firstRec.String)
		last, errL := parseStoredTime(lastRec.String)
		if errF == nil && errL == nil {
			st.DurationMs = last.Sub(first).Milliseconds()
			if st.DurationMs > 0 {
				st.CountRate = float64(st.TotalEvents) / (float64(st.DurationMs) / 1000.0)
			}
		}
	}

	s.statsMu.Lock()
	s.statsCache[sessionID] = st
	s.statsMu.Unlock()
	return st, nil
}

func parseStoredTime(v string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized stored time %q", v)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

var (
	_ ports.EventSink     = (*StoreSink)(nil)
	_ ports.SessionOpener = (*StoreSink)(nil)
	_ ports.EventWriter   = (*StoreSink)(nil)
	_ ports.SessionCloser = (*StoreSink)(nil)
)
