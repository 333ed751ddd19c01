package core

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/quill/printhold/internal/db"
	"github.com/quill/printhold/internal/spooler"
)

// MappingSource yields the device mapping snapshot a pass resolves
// against. Implemented by db.DeviceMappingOperations.
type MappingSource interface {
	Snapshot(ctx context.Context) (map[string]string, error)
}

// Reconciler keeps the ledger consistent with the spooler. One pass:
// list spooler jobs, upsert each into the ledger (resolving identity for
// new and still-unclaimed entries), retire ledger entries the spooler no
// longer reports once the grace period elapses, and expire unclaimed jobs
// past the configured timeout.
type Reconciler struct {
	adapter  spooler.Adapter
	ledger   *Ledger
	mappings MappingSource

	interval         time.Duration
	gracePeriod      time.Duration
	unclaimedTimeout time.Duration

	passMu  sync.Mutex
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}

	degradedMu sync.RWMutex
	lastErr    error
}

func NewReconciler(adapter spooler.Adapter, ledger *Ledger, mappings MappingSource, interval, gracePeriod, unclaimedTimeout time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Reconciler{
		adapter:          adapter,
		ledger:           ledger,
		mappings:         mappings,
		interval:         interval,
		gracePeriod:      gracePeriod,
		unclaimedTimeout: unclaimedTimeout,
		stopCh:           make(chan struct{}),
	}
}

func (r *Reconciler) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	go r.loop()
}

func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	close(r.stopCh)
}

// Healthy reports whether the last pass reached the spooler. Surfaced as
// the degraded-mode indicator on the health endpoint.
func (r *Reconciler) Healthy() bool {
	r.degradedMu.RLock()
	defer r.degradedMu.RUnlock()
	return r.lastErr == nil
}

func (r *Reconciler) loop() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			// A tick that fires mid-pass is skipped, never queued, so two
			// passes cannot interleave writes to the same rows.
			if !r.passMu.TryLock() {
				continue
			}
			if err := r.runOnce(context.Background()); err != nil {
				log.Printf("[reconcile] pass failed: %v", err)
			}
			r.passMu.Unlock()
		}
	}
}

// RunOnce executes a single pass. Exposed for startup (prime the ledger
// before serving) and for tests.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	r.passMu.Lock()
	defer r.passMu.Unlock()
	return r.runOnce(ctx)
}

func (r *Reconciler) runOnce(ctx context.Context) error {
	snapshots, err := r.adapter.List(ctx)
	if err != nil {
		r.setErr(err)
		// Spooler down: nothing to diff, retry on the next tick.
		return err
	}
	r.setErr(nil)

	mappings, err := r.mappings.Snapshot(ctx)
	if err != nil {
		return err
	}
	resolver := NewResolver(mappings)

	// Jobs are processed independently: a failure on one snapshot is
	// logged and must not block the rest of the pass.
	seen := make(map[int64]bool, len(snapshots))
	for _, snap := range snapshots {
		seen[snap.ID] = true
		res := resolver.Resolve(snap.RawSubmitter)
		if _, err := r.ledger.UpsertFromSnapshot(ctx, snap, res); err != nil {
			log.Printf("[reconcile] job %d: %v", snap.ID, err)
		}
	}

	live, err := r.ledger.ListLive(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, job := range live {
		if seen[job.JobID] {
			// An expired row stays live until the spooler drops the job, so
			// a cancel that failed on an earlier pass is retried here.
			if job.ClaimState == db.ClaimExpired {
				r.cancelExpired(ctx, job.JobID)
			}
			continue
		}
		if err := r.retireMissing(ctx, job, now); err != nil {
			log.Printf("[reconcile] job %d: %v", job.JobID, err)
		}
	}

	expired, err := r.ledger.ArchiveStale(ctx, now, r.unclaimedTimeout)
	if err != nil {
		log.Printf("[reconcile] expire stale: %v", err)
	}
	for _, job := range expired {
		r.cancelExpired(ctx, job.JobID)
	}

	return nil
}

// cancelExpired pulls an expired job from the spooler. ErrJobNotFound
// means it is already gone; any other failure is logged and the cancel
// runs again next pass as long as the spooler still lists the job.
func (r *Reconciler) cancelExpired(ctx context.Context, jobID int64) {
	if err := r.adapter.Cancel(ctx, jobID); err != nil && !errors.Is(err, spooler.ErrJobNotFound) {
		log.Printf("[reconcile] cancel expired job %d: %v", jobID, err)
	}
}

// retireMissing gives a vanished job one grace window before marking it
// terminal, in case the spooler listing missed it transiently.
func (r *Reconciler) retireMissing(ctx context.Context, job *db.Job, now time.Time) error {
	if job.MissingSince == nil {
		return r.ledger.MarkMissing(ctx, job.JobID, now)
	}
	if now.Sub(*job.MissingSince) <= r.gracePeriod {
		return nil
	}
	return r.ledger.MarkTerminal(ctx, job.JobID, inferFinalState(job.SpoolerState))
}

// inferFinalState picks the terminal state for a job the spooler stopped
// reporting: a job last seen printing finished, anything else was pulled.
func inferFinalState(lastKnown string) string {
	if lastKnown == db.SpoolProcessing {
		return db.SpoolCompleted
	}
	return db.SpoolCanceled
}

func (r *Reconciler) setErr(err error) {
	r.degradedMu.Lock()
	r.lastErr = err
	r.degradedMu.Unlock()
}
