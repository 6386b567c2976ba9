package offlinekit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/offlinekit/offlinekit/checkpoint"
	"github.com/offlinekit/offlinekit/errors"
	"github.com/offlinekit/offlinekit/logging"
)

// CoordinatorOptions configures the sync coordinator.
type CoordinatorOptions struct {
	// Interval between periodic sync cycles while online. 0 disables the
	// ticker; mutations and SetOnline still trigger cycles.
	Interval time.Duration

	// BatchSize bounds how many envelopes travel per push or pull call.
	// Defaults to 100.
	BatchSize int

	// PushTimeout and PullTimeout bound each adapter call. Default 30s.
	// Timeouts are mandatory: a zero value falls back to the default
	// rather than disabling the deadline.
	PushTimeout time.Duration
	PullTimeout time.Duration

	// Backoff schedules retries of failed outbox entries. Defaults to
	// DefaultBackoff().
	Backoff BackoffStrategy

	// Metrics receives observability hooks. Defaults to no-op.
	Metrics MetricsCollector

	// Logger for internal operations. Defaults to the package logger.
	Logger *logging.Logger
}

func (o *CoordinatorOptions) setDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.PushTimeout <= 0 {
		o.PushTimeout = 30 * time.Second
	}
	if o.PullTimeout <= 0 {
		o.PullTimeout = 30 * time.Second
	}
	if o.Backoff == nil {
		o.Backoff = DefaultBackoff()
	}
	if o.Metrics == nil {
		o.Metrics = &NoOpMetricsCollector{}
	}
	if o.Logger == nil {
		o.Logger = logging.Default().WithComponent("coordinator")
	}
}

// Coordinator orchestrates push/pull cycles between the local repository and
// the remote replica. It exclusively owns the outbox and is the sole writer
// of SyncStatus. A single worker goroutine drives cycles; overlapping
// trigger requests coalesce into at most one pending re-run.
//
// Remote failures never surface through the repository's write path: they
// reschedule entries, degrade SyncStatus and are retried automatically.
type Coordinator struct {
	repo        *Repository
	outbox      Outbox
	checkpoints CheckpointStore
	adapter     Adapter
	opts        CoordinatorOptions
	status      *statusSignal
	clock       func() time.Time

	// trigger coalesces sync requests: capacity 1, non-blocking sends.
	trigger chan struct{}

	// cycleMu ensures no concurrent push/pull cycles.
	cycleMu sync.Mutex

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	degraded bool
	closed   bool
}

// NewCoordinator wires a coordinator to a repository, outbox, checkpoint
// store and adapter. The repository's mutations feed the outbox from this
// point on. The coordinator starts offline; call SetOnline and Start.
func NewCoordinator(repo *Repository, outbox Outbox, checkpoints CheckpointStore, adapter Adapter, opts *CoordinatorOptions) *Coordinator {
	if opts == nil {
		opts = &CoordinatorOptions{}
	}
	opts.setDefaults()

	c := &Coordinator{
		repo:        repo,
		outbox:      outbox,
		checkpoints: checkpoints,
		adapter:     adapter,
		opts:        *opts,
		status:      newStatusSignal(),
		clock:       repo.clock,
		trigger:     make(chan struct{}, 1),
	}
	repo.attachSink(c)
	return c
}

// LocalChange enqueues the envelope of a local mutation and requests a sync
// cycle. Implements the repository's change sink.
func (c *Coordinator) LocalChange(ctx context.Context, env ChangeEnvelope) error {
	if err := c.outbox.Enqueue(ctx, env); err != nil {
		return errors.WrapOpComponent(err, errors.OpEnqueue, "coordinator")
	}
	c.refreshPending(ctx)
	c.RequestSync()
	return nil
}

// RequestSync asks the worker for a cycle. Never blocks; requests made
// while a cycle is running collapse into a single pending re-run.
func (c *Coordinator) RequestSync() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// SetOnline feeds the connectivity signal. Going online clears a degraded
// state and triggers an immediate cycle; going offline parks the worker.
func (c *Coordinator) SetOnline(online bool) {
	c.mu.Lock()
	if online {
		c.degraded = false
	}
	c.mu.Unlock()

	c.status.update(func(s *SyncStatus) {
		s.Online = online
		if online {
			s.State = StateIdle
			s.LastError = ""
		} else {
			s.State = StateOffline
		}
	})
	if online {
		c.RequestSync()
	}
}

// Status returns a read-only snapshot of the sync status.
func (c *Coordinator) Status() SyncStatus { return c.status.get() }

// SubscribeStatus registers a handler invoked with a snapshot after every
// status transition.
func (c *Coordinator) SubscribeStatus(fn func(SyncStatus)) { c.status.subscribe(fn) }

// Start launches the worker that drives push/pull cycles until ctx is
// cancelled or Close is called. If the adapter supports push-based remote
// notification, a subscription loop is started alongside.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("coordinator is closed")
	}
	if c.cancel != nil {
		return fmt.Errorf("coordinator already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	c.refreshPending(ctx)

	go c.worker(ctx)
	if sub, ok := c.adapter.(Subscriber); ok {
		go c.subscribeLoop(ctx, sub)
	}
	return nil
}

// Close stops the worker and closes the adapter. Storage is left open for
// its owner to close. Outbox entries not yet acknowledged remain pending
// for the next start.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if err := c.adapter.Close(); err != nil {
		return errors.WrapOpComponent(err, errors.OpClose, "coordinator")
	}
	return nil
}

// Sync runs one push/pull cycle synchronously. Adapter failures are
// absorbed into SyncStatus exactly as in automatic cycles; only local
// storage failures are returned.
func (c *Coordinator) Sync(ctx context.Context) error {
	return c.runCycle(ctx)
}

func (c *Coordinator) worker(ctx context.Context) {
	defer close(c.done)

	var tickC <-chan time.Time
	if c.opts.Interval > 0 {
		ticker := time.NewTicker(c.opts.Interval)
		defer ticker.Stop()
		tickC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.trigger:
		case <-tickC:
		}

		st := c.status.get()
		c.mu.Lock()
		degraded := c.degraded
		c.mu.Unlock()
		if !st.Online || degraded {
			continue
		}

		if err := c.runCycle(ctx); err != nil {
			c.opts.Logger.LogError(ctx, err, "sync cycle failed")
		}
	}
}

// subscribeLoop keeps a push-based remote notification channel open,
// reconnecting with backoff. Each notification just requests a cycle; the
// change itself arrives through the regular pull path so checkpoints stay
// consistent.
func (c *Coordinator) subscribeLoop(ctx context.Context, sub Subscriber) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		err := sub.SubscribeRemote(ctx, func(ChangeEnvelope) error {
			attempt = 0
			c.RequestSync()
			return nil
		})
		if ctx.Err() != nil {
			return
		}
		delay := c.opts.Backoff.NextDelay(attempt)
		attempt++
		c.opts.Logger.WarnContext(ctx, "remote subscription lost, reconnecting",
			slog.Duration("delay", delay), slog.Any("error", err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// runCycle performs one Pushing -> Pulling -> Idle pass.
func (c *Coordinator) runCycle(ctx context.Context) error {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	c.status.update(func(s *SyncStatus) {
		s.Syncing = true
		s.State = StatePushing
	})

	pushErr := c.push(ctx)
	var pullErr error
	if !errors.IsFatal(pushErr) && ctx.Err() == nil {
		c.status.update(func(s *SyncStatus) { s.State = StatePulling })
		pullErr = c.pull(ctx)
	}

	cycleErr := pushErr
	if cycleErr == nil {
		cycleErr = pullErr
	}

	fatal := errors.IsFatal(cycleErr)
	if fatal {
		c.mu.Lock()
		c.degraded = true
		c.mu.Unlock()
	}

	now := c.clock()
	pending := c.pendingCount(ctx)
	c.status.update(func(s *SyncStatus) {
		s.Syncing = false
		s.PendingCount = pending
		switch {
		case fatal:
			s.State = StateOffline
			s.LastError = cycleErr.Error()
		case cycleErr != nil:
			s.State = StateIdle
			s.LastError = cycleErr.Error()
		default:
			s.State = StateIdle
			s.LastError = ""
			s.LastSyncedAt = now
		}
	})

	// Adapter failures were absorbed into the status; only local storage
	// trouble propagates to a synchronous caller.
	if cycleErr != nil && !errors.IsTransient(cycleErr) && !fatal {
		return cycleErr
	}
	return nil
}

// push drains eligible outbox entries in bounded batches. The batch is
// snapshotted before the adapter call so no lock is held across network
// I/O; concurrent local writes coalesce into the outbox undisturbed.
func (c *Coordinator) push(ctx context.Context) error {
	start := c.clock()
	pushed := 0
	defer func() {
		c.opts.Metrics.RecordSyncDuration("push", time.Since(start))
		c.opts.Metrics.RecordSyncChanges(pushed, 0)
	}()

	for {
		now := c.clock()
		batch, err := c.outbox.PeekBatch(ctx, c.opts.BatchSize, now)
		if err != nil {
			return errors.WrapOpComponent(err, errors.OpPush, "coordinator")
		}
		if len(batch) == 0 {
			return nil
		}

		// Weed out envelopes that can never be accepted; retrying them is
		// pointless, so this is the one case where an entry is dropped.
		valid := batch[:0:len(batch)]
		for _, entry := range batch {
			if verr := entry.Envelope.Validate(); verr != nil {
				c.opts.Logger.LogError(ctx, verr, "discarding malformed outbox entry",
					slog.String("record_id", entry.Envelope.RecordID))
				c.opts.Metrics.RecordSyncErrors("push", "malformed_envelope")
				if derr := c.outbox.Discard(ctx, entry.Envelope.RecordID, verr.Error()); derr != nil {
					return errors.WrapOpComponent(derr, errors.OpPush, "coordinator")
				}
				continue
			}
			valid = append(valid, entry)
		}
		if len(valid) == 0 {
			continue
		}

		envs := make([]ChangeEnvelope, len(valid))
		for i, entry := range valid {
			envs[i] = entry.Envelope
		}

		pctx, cancel := context.WithTimeout(ctx, c.opts.PushTimeout)
		results, err := c.adapter.Push(pctx, envs)
		cancel()

		if err != nil {
			return c.failBatch(ctx, valid, err)
		}

		byID := make(map[string]OutboxEntry, len(valid))
		for _, entry := range valid {
			byID[entry.Envelope.RecordID] = entry
		}

		for _, res := range results {
			entry, ok := byID[res.RecordID]
			if !ok {
				c.opts.Logger.WarnContext(ctx, "push result for unknown record",
					slog.String("record_id", res.RecordID))
				continue
			}
			switch {
			case res.Err == nil:
				upTo := entry.Envelope.UpdatedAt
				if err := c.outbox.Acknowledge(ctx, res.RecordID, upTo); err != nil {
					return errors.WrapOpComponent(err, errors.OpPush, "coordinator")
				}
				if err := c.repo.markSynced(ctx, res.RecordID, res.RemoteVersion, upTo); err != nil {
					return err
				}
				pushed++
			case errors.IsValidation(res.Err):
				c.opts.Logger.LogError(ctx, res.Err, "remote rejected envelope as malformed, discarding",
					slog.String("record_id", res.RecordID))
				c.opts.Metrics.RecordSyncErrors("push", "rejected_envelope")
				if err := c.outbox.Discard(ctx, res.RecordID, res.Err.Error()); err != nil {
					return errors.WrapOpComponent(err, errors.OpPush, "coordinator")
				}
			case errors.IsFatal(res.Err):
				return errors.NewFatal(errors.OpPush, res.Err)
			default:
				if err := c.rescheduleEntry(ctx, entry, res.Err); err != nil {
					return err
				}
				c.opts.Metrics.RecordSyncErrors("push", "entry_failed")
			}
		}

		if len(batch) < c.opts.BatchSize {
			return nil
		}
	}
}

// failBatch handles an atomic batch failure: every entry is rescheduled
// with backoff and the classified error bubbles to the cycle.
func (c *Coordinator) failBatch(ctx context.Context, batch []OutboxEntry, cause error) error {
	for _, entry := range batch {
		if err := c.rescheduleEntry(ctx, entry, cause); err != nil {
			return err
		}
	}
	c.opts.Metrics.RecordSyncErrors("push", "batch_failed")
	if errors.IsFatal(cause) {
		return errors.NewFatal(errors.OpPush, cause)
	}
	return errors.NewTransient(errors.OpPush, cause)
}

func (c *Coordinator) rescheduleEntry(ctx context.Context, entry OutboxEntry, cause error) error {
	delay := c.opts.Backoff.NextDelay(entry.Attempts)
	next := c.clock().Add(delay)
	err := c.outbox.Reschedule(ctx, entry.Envelope.RecordID, entry.Envelope.UpdatedAt, next, cause.Error())
	if err != nil {
		return errors.WrapOpComponent(err, errors.OpPush, "coordinator")
	}
	c.opts.Logger.DebugContext(ctx, "outbox entry rescheduled",
		slog.String("record_id", entry.Envelope.RecordID),
		slog.Int("attempts", entry.Attempts+1),
		slog.Duration("delay", delay),
	)
	return nil
}

// pull requests remote changes since the stored checkpoint and merges them
// under last-writer-wins. The checkpoint advances only after every envelope
// of the batch has been applied, so a crash mid-batch replays rather than
// skips.
func (c *Coordinator) pull(ctx context.Context) error {
	start := c.clock()
	pulled := 0
	defer func() {
		c.opts.Metrics.RecordSyncDuration("pull", time.Since(start))
		c.opts.Metrics.RecordSyncChanges(0, pulled)
	}()

	since, err := c.checkpoints.LoadCheckpoint(ctx)
	if err != nil {
		return errors.WrapOpComponent(err, errors.OpCheckpoint, "coordinator")
	}

	for {
		pctx, cancel := context.WithTimeout(ctx, c.opts.PullTimeout)
		envs, next, err := c.adapter.Pull(pctx, since, c.opts.BatchSize)
		cancel()
		if err != nil {
			c.opts.Metrics.RecordSyncErrors("pull", "adapter_failed")
			if errors.IsFatal(err) {
				return errors.NewFatal(errors.OpPull, err)
			}
			return errors.NewTransient(errors.OpPull, err)
		}

		remoteWins, localWins := 0, 0
		for _, env := range envs {
			applied, err := c.repo.ApplyRemote(ctx, env)
			if err != nil {
				if errors.IsValidation(err) {
					c.opts.Logger.LogError(ctx, err, "skipping malformed incoming envelope",
						slog.String("record_id", env.RecordID))
					c.opts.Metrics.RecordSyncErrors("pull", "malformed_envelope")
					continue
				}
				return err // local storage failure; checkpoint stays put
			}
			if applied {
				remoteWins++
			} else {
				localWins++
			}
			pulled++
		}
		c.opts.Metrics.RecordConflicts(remoteWins, localWins)

		if !checkpoint.IsZero(next) && (checkpoint.IsZero(since) || next.Compare(since) != 0) {
			if err := c.checkpoints.SaveCheckpoint(ctx, next); err != nil {
				return errors.WrapOpComponent(err, errors.OpCheckpoint, "coordinator")
			}
			since = next
		}

		if len(envs) < c.opts.BatchSize {
			return nil
		}
	}
}

func (c *Coordinator) pendingCount(ctx context.Context) int {
	n, err := c.outbox.PendingCount(ctx)
	if err != nil {
		c.opts.Logger.LogError(ctx, err, "failed to count pending outbox entries")
		return c.status.get().PendingCount
	}
	return n
}

func (c *Coordinator) refreshPending(ctx context.Context) {
	n := c.pendingCount(ctx)
	c.status.update(func(s *SyncStatus) { s.PendingCount = n })
}
