package spooler

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable means the spooler could not be reached. Retryable;
	// the reconciler just tries again next tick.
	ErrUnavailable = errors.New("spooler unavailable")

	// ErrJobNotFound means the job id no longer exists in the spooler.
	// Treated as already-terminal by callers, not as a failure.
	ErrJobNotFound = errors.New("job not found in spooler")
)

// JobSnapshot is the canonical view of one spooler job as reported by a
// single listing pass. CreatedAt may be zero when the spooler's listing
// does not expose a parseable timestamp; the ledger records its own.
type JobSnapshot struct {
	ID           int64
	RawSubmitter string
	State        string
	Title        string
	SizeKB       int64
	CreatedAt    time.Time
}

// Options are the print options accepted at submission. Anything beyond
// these is delegated to the spooler's driver defaults.
type Options struct {
	Copies     int
	Duplex     bool
	Grayscale  bool
	PageRanges string
}

// SubmitRequest submits the file at Path as a held job. RequestingUser
// becomes the spooler-visible submitting identity.
type SubmitRequest struct {
	Path           string
	Title          string
	RequestingUser string
	Options        Options
}

// Adapter wraps the OS print spooler. All control operations are
// idempotent from the caller's perspective: holding an already-held job
// succeeds silently, and canceling a vanished job returns ErrJobNotFound,
// which callers treat as already done.
type Adapter interface {
	List(ctx context.Context) ([]JobSnapshot, error)
	Hold(ctx context.Context, jobID int64) error
	Release(ctx context.Context, jobID int64) error
	Cancel(ctx context.Context, jobID int64) error
	Submit(ctx context.Context, req SubmitRequest) (int64, error)
}
