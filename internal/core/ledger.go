package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/quill/printhold/internal/db"
	"github.com/quill/printhold/internal/spooler"
)

// Ledger is the durable record of job ownership and claim state. The jobs
// table enforces owner IS NOT NULL exactly when claim_state='owned' with a
// CHECK constraint, and every conditional transition below is a single
// UPDATE, so the store itself arbitrates concurrent writers.
type Ledger struct {
	db     *sql.DB
	events Notifier
}

func NewLedger(database *sql.DB, events Notifier) *Ledger {
	return &Ledger{db: database, events: events}
}

func (l *Ledger) Get(ctx context.Context, jobID int64) (*db.Job, error) {
	job, err := db.ScanJob(l.db.QueryRowContext(ctx, db.GetJobByID, jobID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job %d: %w", jobID, err)
	}
	return job, nil
}

func (l *Ledger) ListForOwner(ctx context.Context, owner string) ([]*db.Job, error) {
	rows, err := l.db.QueryContext(ctx, db.ListJobsForOwner, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs for owner: %w", err)
	}
	defer rows.Close()
	return db.ScanJobs(rows)
}

func (l *Ledger) ListAll(ctx context.Context) ([]*db.Job, error) {
	rows, err := l.db.QueryContext(ctx, db.ListAllActiveJobs)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()
	return db.ScanJobs(rows)
}

func (l *Ledger) ListUnclaimed(ctx context.Context) ([]*db.Job, error) {
	rows, err := l.db.QueryContext(ctx, db.ListUnclaimedJobs)
	if err != nil {
		return nil, fmt.Errorf("failed to list unclaimed jobs: %w", err)
	}
	defer rows.Close()
	return db.ScanJobs(rows)
}

// ListLive returns every non-terminal row, including expired ones still
// awaiting their spooler cancel. The reconciler diffs this set against the
// latest snapshot.
func (l *Ledger) ListLive(ctx context.Context) ([]*db.Job, error) {
	rows, err := l.db.QueryContext(ctx, db.ListLiveJobs)
	if err != nil {
		return nil, fmt.Errorf("failed to list live jobs: %w", err)
	}
	defer rows.Close()
	return db.ScanJobs(rows)
}

// Claim transitions an UNCLAIMED job to OWNED by claimant. The transition
// is a conditional UPDATE, so under concurrent claims exactly one caller
// wins; the rest get ErrConflict. There is no un-claim.
func (l *Ledger) Claim(ctx context.Context, jobID int64, claimant string) error {
	result, err := l.db.ExecContext(ctx, db.ClaimJob, claimant, time.Now().UTC(), jobID)
	if err != nil {
		return fmt.Errorf("failed to claim job %d: %w", jobID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 1 {
		if job, err := l.Get(ctx, jobID); err == nil {
			l.notify(EventJobClaimed, job)
		}
		return nil
	}

	job, err := l.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Terminal || job.ClaimState == db.ClaimExpired {
		return ErrNotFound
	}
	return ErrConflict
}

// UpsertFromSnapshot creates a ledger entry for a job the spooler reports
// for the first time, or refreshes spooler state and last-seen on an
// existing one. The resolution applies only on creation and to entries
// still UNCLAIMED; an OWNED entry keeps its owner no matter what the
// current mapping set says.
func (l *Ledger) UpsertFromSnapshot(ctx context.Context, snap spooler.JobSnapshot, res Resolution) (*db.Job, error) {
	now := time.Now().UTC()

	result, err := l.db.ExecContext(ctx, db.RefreshJobFromSnapshot,
		snap.State, snap.Title, snap.SizeKB, now, snap.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh job %d: %w", snap.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get affected rows: %w", err)
	}

	if affected == 0 {
		if _, err := l.Get(ctx, snap.ID); errors.Is(err, ErrNotFound) {
			if err := l.insertFromSnapshot(ctx, snap, res); err != nil {
				return nil, err
			}
		}
		// A terminal row with this id is left alone. Spooler job ids are
		// unique per spooler lifetime, so this only happens when a cancel
		// races the final listing of a job.
		return l.Get(ctx, snap.ID)
	}

	job, err := l.Get(ctx, snap.ID)
	if err != nil {
		return nil, err
	}
	if job.ClaimState == db.ClaimUnclaimed && res.Owned() {
		if err := l.resolveUnclaimed(ctx, snap.ID, res.Owner, now); err != nil {
			return nil, err
		}
		return l.Get(ctx, snap.ID)
	}
	return job, nil
}

func (l *Ledger) insertFromSnapshot(ctx context.Context, snap spooler.JobSnapshot, res Resolution) error {
	var owner, claimedAt interface{}
	claimState := db.ClaimUnclaimed
	if res.Owned() {
		owner = res.Owner
		claimState = db.ClaimOwned
		claimedAt = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx, db.InsertJob,
		snap.ID, snap.RawSubmitter, owner, claimState, snap.State,
		snap.Title, snap.SizeKB, db.ViaIPP, nil, claimedAt)
	if err != nil {
		return fmt.Errorf("failed to insert job %d: %w", snap.ID, err)
	}
	return nil
}

func (l *Ledger) resolveUnclaimed(ctx context.Context, jobID int64, owner string, now time.Time) error {
	_, err := l.db.ExecContext(ctx, db.ResolveUnclaimedJob, owner, now, jobID)
	if err != nil {
		return fmt.Errorf("failed to resolve job %d: %w", jobID, err)
	}
	return nil
}

// InsertSubmitted records a job created through the submission pipeline,
// with ownership pre-stamped so identity resolution never runs for it.
func (l *Ledger) InsertSubmitted(ctx context.Context, job *db.Job) error {
	var owner, claimedAt, filename interface{}
	claimState := db.ClaimUnclaimed
	if job.Owner != nil && *job.Owner != "" {
		owner = *job.Owner
		claimState = db.ClaimOwned
		claimedAt = time.Now().UTC()
	}
	if job.OriginalFilename != nil {
		filename = *job.OriginalFilename
	}
	_, err := l.db.ExecContext(ctx, db.InsertJob,
		job.JobID, job.RawSubmitter, owner, claimState, job.SpoolerState,
		job.Title, job.SizeKB, job.SubmittedVia, filename, claimedAt)
	if err != nil {
		// A reconciliation pass can list the spooler between the submit and
		// this insert and create the row unclaimed first. Apply the
		// pre-stamped owner to that row instead of failing the submission.
		existing, gerr := l.Get(ctx, job.JobID)
		if gerr != nil {
			return fmt.Errorf("failed to insert submitted job %d: %w", job.JobID, err)
		}
		if owner != nil && existing.ClaimState == db.ClaimUnclaimed {
			if rerr := l.resolveUnclaimed(ctx, job.JobID, *job.Owner, time.Now().UTC()); rerr != nil {
				return rerr
			}
		}
	}
	l.notify(EventJobSubmitted, job)
	return nil
}

// MarkMissing stamps the first pass on which the spooler stopped reporting
// the job. A no-op if the stamp is already set.
func (l *Ledger) MarkMissing(ctx context.Context, jobID int64, now time.Time) error {
	_, err := l.db.ExecContext(ctx, db.MarkJobMissing, now, jobID)
	if err != nil {
		return fmt.Errorf("failed to mark job %d missing: %w", jobID, err)
	}
	return nil
}

// MarkTerminal retires the entry with its final spooler state. The row is
// kept for audit; the archiver exports it later.
func (l *Ledger) MarkTerminal(ctx context.Context, jobID int64, finalState string) error {
	result, err := l.db.ExecContext(ctx, db.MarkJobTerminal, finalState, jobID)
	if err != nil {
		return fmt.Errorf("failed to mark job %d terminal: %w", jobID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 1 {
		if job, err := l.Get(ctx, jobID); err == nil {
			switch finalState {
			case db.SpoolCompleted:
				l.notify(EventJobCompleted, job)
			case db.SpoolCanceled:
				l.notify(EventJobCanceled, job)
			}
		}
	}
	return nil
}

// SetSpoolerState mirrors a state change made through a control operation
// without waiting for the next reconciliation pass.
func (l *Ledger) SetSpoolerState(ctx context.Context, jobID int64, state string) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE jobs SET spooler_state = ? WHERE job_id = ? AND terminal = 0`, state, jobID)
	if err != nil {
		return fmt.Errorf("failed to set job %d state: %w", jobID, err)
	}
	return nil
}

// ArchiveStale transitions UNCLAIMED jobs older than the horizon to
// EXPIRED. Expired jobs leave the unclaimed pool and all normal listings;
// the caller cancels them in the spooler. OWNED jobs are never expired.
func (l *Ledger) ArchiveStale(ctx context.Context, now time.Time, horizon time.Duration) ([]*db.Job, error) {
	rows, err := l.db.QueryContext(ctx, db.ListStaleUnclaimedJobs, now.Add(-horizon).UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list stale jobs: %w", err)
	}
	stale, err := db.ScanJobs(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	var expired []*db.Job
	for _, job := range stale {
		result, err := l.db.ExecContext(ctx, db.ExpireUnclaimedJob, job.JobID)
		if err != nil {
			return expired, fmt.Errorf("failed to expire job %d: %w", job.JobID, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return expired, fmt.Errorf("failed to get affected rows: %w", err)
		}
		if affected == 0 {
			// Claimed between the read and the update; the claimant wins.
			continue
		}
		job.ClaimState = db.ClaimExpired
		expired = append(expired, job)
		l.notify(EventJobExpired, job)
	}
	return expired, nil
}

func (l *Ledger) notify(event string, job *db.Job) {
	if l.events != nil {
		l.events.JobEvent(event, job)
	}
}
