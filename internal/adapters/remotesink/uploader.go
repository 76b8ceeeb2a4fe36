package remotesink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/yutar0xff/cosmicwatch-app/internal/domain"
	"github.com/yutar0xff/cosmicwatch-app/internal/ports"
)

// State is the uploader's connectivity position.
type State int

const (
	Disconnected State = iota
	Authenticating
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Authenticating:
		return "authenticating"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// serverAPI is the slice of Client the uploader needs. Kept narrow so tests
// can substitute a fake server.
type serverAPI interface {
	Login(ctx context.Context) error
	SetupID(ctx context.Context, comment string, lat, lon float64, createdAt time.Time) error
	UploadEvent(ctx context.Context, ev *domain.Event) error
}

// SetupInfo is the detector registration sent on session open.
type SetupInfo struct {
	GPSLatitude  float64 `yaml:"gps_latitude"`
	GPSLongitude float64 `yaml:"gps_longitude"`
}

// Uploader queues accepted events and delivers them to the server in batches
// on a poll tick, with bounded exponential backoff between attempts. Failed
// uploads are re-queued, never discarded; the only loss point is the bounded
// queue's oldest-first eviction on overflow.
type Uploader struct {
	api   serverAPI
	queue ports.UploadQueue
	pol   ports.UploadPolicy
	obs   ports.Observability
	setup SetupInfo

	// mu guards the connectivity fields, which are touched by both the
	// capture path (WriteEvent) and the poll-tick goroutine.
	mu            sync.Mutex
	state         State
	prevConnected bool
	edgeAt        time.Time
	resyncPending bool
	lastSuccess   time.Time

	// Session identity for mid-session reconnects. The setup-id registration
	// needs the original comment and start time, so OpenSession stashes them.
	sessComment    string
	sessStart      time.Time
	inSession      bool
	nextReconnect  time.Time
	reconnectDelay time.Duration
}

func NewUploader(api serverAPI, q ports.UploadQueue, pol ports.UploadPolicy, setup SetupInfo, obs ports.Observability) *Uploader {
	applyPolicyDefaults(&pol)
	return &Uploader{
		api:   api,
		queue: q,
		pol:   pol,
		obs:   obs,
		setup: setup,
		state: Disconnected,
	}
}

func applyPolicyDefaults(pol *ports.UploadPolicy) {
	if pol.QueueCapacity <= 0 {
		pol.QueueCapacity = 10_000
	}
	if pol.BatchSize <= 0 {
		pol.BatchSize = 25
	}
	if pol.UploadInterval <= 0 {
		pol.UploadInterval = 30 * time.Second
	}
	if pol.PollTick <= 0 {
		pol.PollTick = time.Second
	}
	if pol.MaxRetries <= 0 {
		pol.MaxRetries = 3
	}
	if pol.BackoffBase <= 0 {
		pol.BackoffBase = 500 * time.Millisecond
	}
	if pol.BackoffMax <= 0 {
		pol.BackoffMax = 30 * time.Second
	}
	if pol.SettleDelay < 0 {
		pol.SettleDelay = 0
	}
}

func (u *Uploader) Name() string { return "remote" }

func (u *Uploader) Capabilities() ports.Capability {
	return ports.CapOpen | ports.CapWrite | ports.CapClose
}

// State reports the current connectivity state.
func (u *Uploader) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

func (u *Uploader) setState(s State) {
	u.mu.Lock()
	u.state = s
	u.mu.Unlock()
}

func (u *Uploader) markSuccess() {
	u.mu.Lock()
	u.lastSuccess = time.Now()
	u.mu.Unlock()
}

// PendingCount is the operator-visible number of queued, not yet uploaded
// events. Overflow losses are only discoverable through this and the drop
// counter, so it must stay accurate.
func (u *Uploader) PendingCount() int { return u.queue.Len() }

// OpenSession establishes the remote side of a session: login plus the
// idempotent setup-id registration. A failure here aborts the whole session
// attempt, per the all-or-nothing open contract.
func (u *Uploader) OpenSession(ctx context.Context, sess *ports.SessionInfo) error {
	if err := u.connect(ctx, sess.Comment, sess.StartedAt); err != nil {
		return err
	}
	u.mu.Lock()
	u.sessComment = sess.Comment
	u.sessStart = sess.StartedAt
	u.inSession = true
	u.mu.Unlock()
	return nil
}

func (u *Uploader) connect(ctx context.Context, comment string, createdAt time.Time) error {
	u.setState(Authenticating)
	if err := u.api.Login(ctx); err != nil {
		u.setState(Disconnected)
		return fmt.Errorf("remote open: %w", err)
	}
	if err := u.api.SetupID(ctx, comment, u.setup.GPSLatitude, u.setup.GPSLongitude, createdAt); err != nil {
		u.setState(Disconnected)
		return fmt.Errorf("remote open: %w", err)
	}
	u.setState(Connected)
	u.mu.Lock()
	u.reconnectDelay = 0
	u.nextReconnect = time.Time{}
	u.mu.Unlock()
	u.obs.LogInfo("remote_connected")
	return nil
}

// WriteEvent accepts one event for upload. With BatchSize == 1 and a live
// connection the event is uploaded immediately, falling back to the queue on
// failure; otherwise it is queued for the next batch cycle.
func (u *Uploader) WriteEvent(ctx context.Context, sess *ports.SessionInfo, ev *domain.Event) error {
	if u.pol.BatchSize == 1 && u.State() == Connected {
		if err := u.api.UploadEvent(ctx, ev); err == nil {
			u.markSuccess()
			u.obs.IncCounter("cosmicwatch_upload_success_total", 1)
			return nil
		} else if errors.Is(err, ErrAuth) {
			u.setState(Disconnected)
			u.obs.LogError("remote_auth_lost", err)
		} else {
			u.obs.LogError("remote_upload_failed", err)
		}
		u.enqueue(ev, 1)
		return nil
	}

	u.enqueue(ev, 0)
	return nil
}

func (u *Uploader) enqueue(ev *domain.Event, attempts int) {
	evicted := u.queue.Enqueue(domain.UploadEntry{
		Event:      ev,
		EnqueuedAt: time.Now(),
		Attempts:   attempts,
	})
	if evicted > 0 {
		u.obs.IncCounter("cosmicwatch_upload_dropped_total", float64(evicted))
	}
	u.obs.SetGauge("cosmicwatch_upload_queue_length", float64(u.queue.Len()))
}

// CloseSession drains the whole backlog, cycle by cycle, before the session
// ends; one cycle only moves a single batch. Stops at the first failed cycle,
// leaving the remainder queued.
func (u *Uploader) CloseSession(ctx context.Context, sess *ports.SessionInfo) error {
	defer func() {
		u.mu.Lock()
		u.inSession = false
		u.mu.Unlock()
	}()
	if u.State() != Connected {
		return nil
	}
	for u.queue.Len() > 0 {
		if err := u.uploadCycle(ctx); err != nil {
			return fmt.Errorf("remote close flush: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// Run drives the uploader until the context is cancelled. The poll tick is
// deliberately shorter than the upload interval so a due batch never waits a
// full interval to be noticed.
func (u *Uploader) Run(ctx context.Context) {
	ticker := time.NewTicker(u.pol.PollTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			u.tick(ctx, now)
		}
	}
}

// tick is one scheduler step: detect connectivity edges, re-attempt a lost
// connection, run a pending resync once the settle delay passed, then apply
// the normal batch cadence.
func (u *Uploader) tick(ctx context.Context, now time.Time) {
	u.mu.Lock()
	connected := u.state == Connected
	if connected && !u.prevConnected {
		// Edge: regained connectivity. Delay the resync briefly so a
		// transient flap does not trigger a backlog drain.
		u.edgeAt = now
		u.resyncPending = u.queue.Len() > 0
	}
	u.prevConnected = connected
	doResync := connected && u.resyncPending && !now.Before(u.edgeAt.Add(u.pol.SettleDelay))
	if doResync {
		u.resyncPending = false
	}
	// While a resync is waiting out the settle delay, the normal cadence
	// holds off too; the link is not trusted yet.
	batchDue := connected && !doResync && !u.resyncPending &&
		now.Sub(u.lastSuccess) >= u.pol.UploadInterval

	if !connected {
		// A lost connection mid-session is re-attempted from here, with
		// backoff between attempts; the next success trips the edge above
		// and the resync drains the accumulated backlog.
		retry := u.inSession && u.state == Disconnected &&
			u.queue.Len() > 0 && !now.Before(u.nextReconnect)
		comment, started := u.sessComment, u.sessStart
		if retry {
			if u.reconnectDelay <= 0 {
				u.reconnectDelay = u.pol.BackoffBase
			}
			u.nextReconnect = now.Add(u.reconnectDelay)
			u.reconnectDelay *= 2
			if u.reconnectDelay > u.pol.BackoffMax {
				u.reconnectDelay = u.pol.BackoffMax
			}
		}
		u.mu.Unlock()
		if retry {
			if err := u.connect(ctx, comment, started); err != nil {
				u.obs.LogError("remote_reconnect_failed", err)
			}
		}
		return
	}
	u.mu.Unlock()
	if doResync {
		u.resync(ctx)
		return
	}
	if batchDue && u.queue.Len() > 0 {
		if err := u.uploadCycle(ctx); err != nil {
			u.obs.LogError("remote_batch_failed", err)
		}
	}
}

// resync drains the whole backlog in batch-sized chunks before the normal
// cadence resumes. Stops at the first failed cycle; the remainder stays
// queued.
func (u *Uploader) resync(ctx context.Context) {
	u.obs.LogInfo("remote_resync_start", ports.Field{Key: "backlog", Value: u.queue.Len()})
	for u.queue.Len() > 0 {
		if err := u.uploadCycle(ctx); err != nil {
			u.obs.LogError("remote_resync_failed", err)
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
	u.obs.LogInfo("remote_resync_complete")
}

// uploadCycle takes one batch off the queue and tries to deliver it, retrying
// the unsent remainder with exponential backoff up to the retry ceiling.
// Whatever is still unsent when the ceiling is hit goes back to the front of
// the queue for the next cycle.
func (u *Uploader) uploadCycle(ctx context.Context) error {
	remaining := u.queue.DequeueBatch(u.pol.BatchSize)
	if len(remaining) == 0 {
		return nil
	}

	bo := u.newBackoff()
	var lastErr error

	for attempt := 0; attempt <= u.pol.MaxRetries; attempt++ {
		if attempt > 0 {
			u.obs.IncCounter("cosmicwatch_upload_retries_total", 1)
			if !sleepCtx(ctx, bo.NextBackOff()) {
				break
			}
		}

		var sent int
		sent, remaining, lastErr = u.uploadEntries(ctx, remaining)
		if sent > 0 {
			u.markSuccess()
			u.obs.IncCounter("cosmicwatch_upload_success_total", float64(sent))
		}
		if lastErr == nil {
			u.obs.SetGauge("cosmicwatch_upload_queue_length", float64(u.queue.Len()))
			return nil
		}
		if errors.Is(lastErr, ErrAuth) {
			// Refresh already failed inside the client; connectivity is gone.
			u.setState(Disconnected)
			break
		}
	}

	for i := range remaining {
		remaining[i].Attempts++
	}
	if evicted := u.queue.Requeue(remaining); evicted > 0 {
		u.obs.IncCounter("cosmicwatch_upload_dropped_total", float64(evicted))
	}
	u.obs.SetGauge("cosmicwatch_upload_queue_length", float64(u.queue.Len()))
	return lastErr
}

// uploadEntries posts entries one by one (the server takes one event per
// call) and stops at the first failure, returning the unsent tail.
func (u *Uploader) uploadEntries(ctx context.Context, entries []domain.UploadEntry) (sent int, unsent []domain.UploadEntry, err error) {
	for i, entry := range entries {
		if err := u.api.UploadEvent(ctx, entry.Event); err != nil {
			return i, entries[i:], err
		}
	}
	return len(entries), nil, nil
}

// newBackoff builds the per-cycle retry schedule: base * 2^attempt plus
// jitter, capped at BackoffMax.
func (u *Uploader) newBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = u.pol.BackoffBase
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.25
	bo.MaxInterval = u.pol.BackoffMax
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

var (
	_ ports.EventSink     = (*Uploader)(nil)
	_ ports.SessionOpener = (*Uploader)(nil)
	_ ports.EventWriter   = (*Uploader)(nil)
	_ ports.SessionCloser = (*Uploader)(nil)
)
