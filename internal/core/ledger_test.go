package core

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quill/printhold/internal/db"
	"github.com/quill/printhold/internal/spooler"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) JobEvent(event string, job *db.Job) {
	n.mu.Lock()
	n.events = append(n.events, event)
	n.mu.Unlock()
}

func (n *recordingNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

func snapshot(id int64, user string) spooler.JobSnapshot {
	return spooler.JobSnapshot{
		ID:           id,
		RawSubmitter: user,
		State:        db.SpoolHeld,
		Title:        "report.pdf",
		SizeKB:       12,
	}
}

func TestUpsertCreatesUnclaimed(t *testing.T) {
	ledger := NewLedger(openTestDB(t), nil)
	ctx := context.Background()

	job, err := ledger.UpsertFromSnapshot(ctx, snapshot(42, "DESKTOP-ABC123"), Resolution{ClaimState: db.ClaimUnclaimed})
	require.NoError(t, err)
	assert.Equal(t, db.ClaimUnclaimed, job.ClaimState)
	assert.Nil(t, job.Owner)
	assert.Equal(t, db.ViaIPP, job.SubmittedVia)
}

func TestUpsertCreatesOwnedWhenMapped(t *testing.T) {
	ledger := NewLedger(openTestDB(t), nil)
	ctx := context.Background()

	job, err := ledger.UpsertFromSnapshot(ctx, snapshot(42, "alices-iphone"), Resolution{Owner: "alice", ClaimState: db.ClaimOwned})
	require.NoError(t, err)
	assert.Equal(t, db.ClaimOwned, job.ClaimState)
	require.NotNil(t, job.Owner)
	assert.Equal(t, "alice", *job.Owner)
	assert.NotNil(t, job.ClaimedAt)
}

func TestUpsertResolvesUnclaimedLater(t *testing.T) {
	ledger := NewLedger(openTestDB(t), nil)
	ctx := context.Background()

	_, err := ledger.UpsertFromSnapshot(ctx, snapshot(42, "alices-iphone"), Resolution{ClaimState: db.ClaimUnclaimed})
	require.NoError(t, err)

	// A mapping added between passes resolves the still-unclaimed entry.
	job, err := ledger.UpsertFromSnapshot(ctx, snapshot(42, "alices-iphone"), Resolution{Owner: "alice", ClaimState: db.ClaimOwned})
	require.NoError(t, err)
	require.NotNil(t, job.Owner)
	assert.Equal(t, "alice", *job.Owner)
}

func TestUpsertNeverReassignsOwned(t *testing.T) {
	ledger := NewLedger(openTestDB(t), nil)
	ctx := context.Background()

	_, err := ledger.UpsertFromSnapshot(ctx, snapshot(42, "shared-pc"), Resolution{Owner: "alice", ClaimState: db.ClaimOwned})
	require.NoError(t, err)

	job, err := ledger.UpsertFromSnapshot(ctx, snapshot(42, "shared-pc"), Resolution{Owner: "bob", ClaimState: db.ClaimOwned})
	require.NoError(t, err)
	require.NotNil(t, job.Owner)
	assert.Equal(t, "alice", *job.Owner)
}

func TestClaimFirstWins(t *testing.T) {
	notifier := &recordingNotifier{}
	ledger := NewLedger(openTestDB(t), notifier)
	ctx := context.Background()

	_, err := ledger.UpsertFromSnapshot(ctx, snapshot(42, "iPhone"), Resolution{ClaimState: db.ClaimUnclaimed})
	require.NoError(t, err)

	require.NoError(t, ledger.Claim(ctx, 42, "alice"))
	assert.ErrorIs(t, ledger.Claim(ctx, 42, "bob"), ErrConflict)

	job, err := ledger.Get(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, job.Owner)
	assert.Equal(t, "alice", *job.Owner)
	assert.Contains(t, notifier.all(), EventJobClaimed)
}

func TestClaimConcurrentExactlyOnce(t *testing.T) {
	ledger := NewLedger(openTestDB(t), nil)
	ctx := context.Background()

	_, err := ledger.UpsertFromSnapshot(ctx, snapshot(42, "iPhone"), Resolution{ClaimState: db.ClaimUnclaimed})
	require.NoError(t, err)

	const claimants = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := ledger.Claim(ctx, 42, string(rune('a'+n))); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestClaimUnknownJob(t *testing.T) {
	ledger := NewLedger(openTestDB(t), nil)
	assert.ErrorIs(t, ledger.Claim(context.Background(), 999, "alice"), ErrNotFound)
}

func TestClaimTerminalJobIsNotFound(t *testing.T) {
	ledger := NewLedger(openTestDB(t), nil)
	ctx := context.Background()

	_, err := ledger.UpsertFromSnapshot(ctx, snapshot(42, "iPhone"), Resolution{ClaimState: db.ClaimUnclaimed})
	require.NoError(t, err)
	require.NoError(t, ledger.MarkTerminal(ctx, 42, db.SpoolCanceled))

	assert.ErrorIs(t, ledger.Claim(ctx, 42, "alice"), ErrNotFound)
}

func TestMarkTerminalEmitsEvent(t *testing.T) {
	notifier := &recordingNotifier{}
	ledger := NewLedger(openTestDB(t), notifier)
	ctx := context.Background()

	_, err := ledger.UpsertFromSnapshot(ctx, snapshot(42, "iPhone"), Resolution{ClaimState: db.ClaimUnclaimed})
	require.NoError(t, err)

	require.NoError(t, ledger.MarkTerminal(ctx, 42, db.SpoolCompleted))
	assert.Contains(t, notifier.all(), EventJobCompleted)

	job, err := ledger.Get(ctx, 42)
	require.NoError(t, err)
	assert.True(t, job.Terminal)
	assert.Equal(t, db.SpoolCompleted, job.SpoolerState)
}

func TestArchiveStaleExpiresOnlyUnclaimed(t *testing.T) {
	notifier := &recordingNotifier{}
	ledger := NewLedger(openTestDB(t), notifier)
	ctx := context.Background()

	_, err := ledger.UpsertFromSnapshot(ctx, snapshot(42, "iPhone"), Resolution{ClaimState: db.ClaimUnclaimed})
	require.NoError(t, err)
	_, err = ledger.UpsertFromSnapshot(ctx, snapshot(43, "alices-iphone"), Resolution{Owner: "alice", ClaimState: db.ClaimOwned})
	require.NoError(t, err)

	// A horizon in the future makes both rows older than the cutoff.
	expired, err := ledger.ArchiveStale(ctx, time.Now().UTC().Add(48*time.Hour), 24*time.Hour)
	require.NoError(t, err)

	require.Len(t, expired, 1)
	assert.Equal(t, int64(42), expired[0].JobID)
	assert.Contains(t, notifier.all(), EventJobExpired)

	job, err := ledger.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, db.ClaimExpired, job.ClaimState)

	owned, err := ledger.Get(ctx, 43)
	require.NoError(t, err)
	assert.Equal(t, db.ClaimOwned, owned.ClaimState)
}

func TestArchiveStaleSkipsFreshJobs(t *testing.T) {
	ledger := NewLedger(openTestDB(t), nil)
	ctx := context.Background()

	_, err := ledger.UpsertFromSnapshot(ctx, snapshot(42, "iPhone"), Resolution{ClaimState: db.ClaimUnclaimed})
	require.NoError(t, err)

	expired, err := ledger.ArchiveStale(ctx, time.Now().UTC(), 24*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestExpiredJobLeavesUnclaimedListing(t *testing.T) {
	ledger := NewLedger(openTestDB(t), nil)
	ctx := context.Background()

	_, err := ledger.UpsertFromSnapshot(ctx, snapshot(42, "iPhone"), Resolution{ClaimState: db.ClaimUnclaimed})
	require.NoError(t, err)

	_, err = ledger.ArchiveStale(ctx, time.Now().UTC().Add(48*time.Hour), 24*time.Hour)
	require.NoError(t, err)

	unclaimed, err := ledger.ListUnclaimed(ctx)
	require.NoError(t, err)
	assert.Empty(t, unclaimed)
}

func TestInsertSubmittedPreStampsOwner(t *testing.T) {
	notifier := &recordingNotifier{}
	ledger := NewLedger(openTestDB(t), notifier)
	ctx := context.Background()

	owner := "alice"
	filename := "report.pdf"
	err := ledger.InsertSubmitted(ctx, &db.Job{
		JobID:            42,
		RawSubmitter:     "alice",
		Owner:            &owner,
		ClaimState:       db.ClaimOwned,
		SpoolerState:     db.SpoolHeld,
		Title:            "report.pdf",
		SubmittedVia:     db.ViaWeb,
		OriginalFilename: &filename,
	})
	require.NoError(t, err)
	assert.Contains(t, notifier.all(), EventJobSubmitted)

	job, err := ledger.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, db.ClaimOwned, job.ClaimState)
	require.NotNil(t, job.Owner)
	assert.Equal(t, "alice", *job.Owner)
	assert.Equal(t, db.ViaWeb, job.SubmittedVia)
}

func TestInsertSubmittedSurvivesReconcilerRace(t *testing.T) {
	ledger := NewLedger(openTestDB(t), nil)
	ctx := context.Background()

	// A reconciliation pass listed the spooler between the submit call and
	// the insert and already created the row unclaimed.
	_, err := ledger.UpsertFromSnapshot(ctx, snapshot(42, "alice"), Resolution{ClaimState: db.ClaimUnclaimed})
	require.NoError(t, err)

	owner := "alice"
	err = ledger.InsertSubmitted(ctx, &db.Job{
		JobID:        42,
		RawSubmitter: "alice",
		Owner:        &owner,
		ClaimState:   db.ClaimOwned,
		SpoolerState: db.SpoolHeld,
		Title:        "report.pdf",
		SubmittedVia: db.ViaWeb,
	})
	require.NoError(t, err)

	job, err := ledger.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, db.ClaimOwned, job.ClaimState)
	require.NotNil(t, job.Owner)
	assert.Equal(t, "alice", *job.Owner)
}

func TestListForOwner(t *testing.T) {
	ledger := NewLedger(openTestDB(t), nil)
	ctx := context.Background()

	_, err := ledger.UpsertFromSnapshot(ctx, snapshot(1, "a"), Resolution{Owner: "alice", ClaimState: db.ClaimOwned})
	require.NoError(t, err)
	_, err = ledger.UpsertFromSnapshot(ctx, snapshot(2, "b"), Resolution{Owner: "bob", ClaimState: db.ClaimOwned})
	require.NoError(t, err)

	jobs, err := ledger.ListForOwner(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, int64(1), jobs[0].JobID)
}
