package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quill/printhold/internal/db"
	"github.com/quill/printhold/internal/spooler"
)

type fakeAdapter struct {
	mu        sync.Mutex
	jobs      map[int64]spooler.JobSnapshot
	listErr   error
	cancelErr error
	canceled  []int64
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{jobs: make(map[int64]spooler.JobSnapshot)}
}

func (f *fakeAdapter) add(snap spooler.JobSnapshot) {
	f.mu.Lock()
	f.jobs[snap.ID] = snap
	f.mu.Unlock()
}

func (f *fakeAdapter) remove(id int64) {
	f.mu.Lock()
	delete(f.jobs, id)
	f.mu.Unlock()
}

func (f *fakeAdapter) List(ctx context.Context) ([]spooler.JobSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	snaps := make([]spooler.JobSnapshot, 0, len(f.jobs))
	for _, s := range f.jobs {
		snaps = append(snaps, s)
	}
	return snaps, nil
}

func (f *fakeAdapter) Hold(ctx context.Context, jobID int64) error { return nil }

func (f *fakeAdapter) Release(ctx context.Context, jobID int64) error { return nil }

func (f *fakeAdapter) Cancel(ctx context.Context, jobID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	if _, ok := f.jobs[jobID]; !ok {
		return spooler.ErrJobNotFound
	}
	delete(f.jobs, jobID)
	f.canceled = append(f.canceled, jobID)
	return nil
}

func (f *fakeAdapter) Submit(ctx context.Context, req spooler.SubmitRequest) (int64, error) {
	return 0, errors.New("not implemented")
}

type fakeMappings struct {
	mu       sync.Mutex
	mappings map[string]string
}

func newFakeMappings() *fakeMappings {
	return &fakeMappings{mappings: make(map[string]string)}
}

func (f *fakeMappings) set(raw, account string) {
	f.mu.Lock()
	f.mappings[raw] = account
	f.mu.Unlock()
}

func (f *fakeMappings) Snapshot(ctx context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.mappings))
	for k, v := range f.mappings {
		out[k] = v
	}
	return out, nil
}

func testReconciler(t *testing.T, adapter *fakeAdapter, mappings *fakeMappings) (*Reconciler, *Ledger) {
	t.Helper()
	ledger := NewLedger(openTestDB(t), nil)
	r := NewReconciler(adapter, ledger, mappings, time.Second, 0, 24*time.Hour)
	return r, ledger
}

func TestPassResolvesNewJobs(t *testing.T) {
	adapter := newFakeAdapter()
	mappings := newFakeMappings()
	mappings.set("alices-iphone", "alice")
	adapter.add(snapshot(42, "alices-iphone"))
	adapter.add(snapshot(43, "unknown-device"))

	r, ledger := testReconciler(t, adapter, mappings)
	require.NoError(t, r.RunOnce(context.Background()))

	owned, err := ledger.Get(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, owned.Owner)
	assert.Equal(t, "alice", *owned.Owner)

	unclaimed, err := ledger.Get(context.Background(), 43)
	require.NoError(t, err)
	assert.Equal(t, db.ClaimUnclaimed, unclaimed.ClaimState)
}

func TestMappingAddedBetweenPassesResolvesUnclaimed(t *testing.T) {
	adapter := newFakeAdapter()
	mappings := newFakeMappings()
	adapter.add(snapshot(42, "alices-iphone"))

	r, ledger := testReconciler(t, adapter, mappings)
	require.NoError(t, r.RunOnce(context.Background()))

	job, err := ledger.Get(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, db.ClaimUnclaimed, job.ClaimState)

	mappings.set("alices-iphone", "alice")
	require.NoError(t, r.RunOnce(context.Background()))

	job, err = ledger.Get(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, job.Owner)
	assert.Equal(t, "alice", *job.Owner)
}

func TestMappingChangeNeverReassignsOwned(t *testing.T) {
	adapter := newFakeAdapter()
	mappings := newFakeMappings()
	mappings.set("shared-pc", "alice")
	adapter.add(snapshot(42, "shared-pc"))

	r, ledger := testReconciler(t, adapter, mappings)
	require.NoError(t, r.RunOnce(context.Background()))

	mappings.set("shared-pc", "bob")
	require.NoError(t, r.RunOnce(context.Background()))

	job, err := ledger.Get(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, job.Owner)
	assert.Equal(t, "alice", *job.Owner)
}

func TestMissingJobGetsGraceThenRetires(t *testing.T) {
	adapter := newFakeAdapter()
	mappings := newFakeMappings()
	adapter.add(spooler.JobSnapshot{ID: 42, RawSubmitter: "alice", State: db.SpoolProcessing, Title: "report.pdf"})

	ledger := NewLedger(openTestDB(t), nil)
	r := NewReconciler(adapter, ledger, mappings, time.Second, time.Hour, 24*time.Hour)

	require.NoError(t, r.RunOnce(context.Background()))
	adapter.remove(42)

	// First pass without the job stamps missing_since but stays live.
	require.NoError(t, r.RunOnce(context.Background()))
	job, err := ledger.Get(context.Background(), 42)
	require.NoError(t, err)
	assert.False(t, job.Terminal)
	assert.NotNil(t, job.MissingSince)

	// With a zero grace period the next pass retires it; last seen
	// processing means it finished.
	r.gracePeriod = 0
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, r.RunOnce(context.Background()))

	job, err = ledger.Get(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, job.Terminal)
	assert.Equal(t, db.SpoolCompleted, job.SpoolerState)
}

func TestMissingHeldJobRetiresAsCanceled(t *testing.T) {
	adapter := newFakeAdapter()
	mappings := newFakeMappings()
	adapter.add(snapshot(42, "alice"))

	ledger := NewLedger(openTestDB(t), nil)
	r := NewReconciler(adapter, ledger, mappings, time.Second, 0, 24*time.Hour)

	require.NoError(t, r.RunOnce(context.Background()))
	adapter.remove(42)

	require.NoError(t, r.RunOnce(context.Background()))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, r.RunOnce(context.Background()))

	job, err := ledger.Get(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, job.Terminal)
	assert.Equal(t, db.SpoolCanceled, job.SpoolerState)
}

func TestReappearingJobClearsNothing(t *testing.T) {
	adapter := newFakeAdapter()
	mappings := newFakeMappings()
	adapter.add(snapshot(42, "alice"))

	ledger := NewLedger(openTestDB(t), nil)
	r := NewReconciler(adapter, ledger, mappings, time.Second, time.Hour, 24*time.Hour)

	require.NoError(t, r.RunOnce(context.Background()))
	adapter.remove(42)
	require.NoError(t, r.RunOnce(context.Background()))

	// The job shows up again within the grace window; it must stay live.
	adapter.add(snapshot(42, "alice"))
	require.NoError(t, r.RunOnce(context.Background()))

	job, err := ledger.Get(context.Background(), 42)
	require.NoError(t, err)
	assert.False(t, job.Terminal)
}

func TestSpoolerOutageSetsDegraded(t *testing.T) {
	adapter := newFakeAdapter()
	mappings := newFakeMappings()
	r, _ := testReconciler(t, adapter, mappings)

	adapter.listErr = spooler.ErrUnavailable
	assert.Error(t, r.RunOnce(context.Background()))
	assert.False(t, r.Healthy())

	adapter.listErr = nil
	require.NoError(t, r.RunOnce(context.Background()))
	assert.True(t, r.Healthy())
}

func TestExpiredCancelRetriedAfterOutage(t *testing.T) {
	adapter := newFakeAdapter()
	mappings := newFakeMappings()
	adapter.add(snapshot(42, "unknown-device"))

	ledger := NewLedger(openTestDB(t), nil)
	r := NewReconciler(adapter, ledger, mappings, time.Second, time.Hour, -time.Hour)

	// The first cancel fails with the spooler unreachable; the job stays
	// in the spooler listing while the row is already expired.
	adapter.mu.Lock()
	adapter.cancelErr = spooler.ErrUnavailable
	adapter.mu.Unlock()

	require.NoError(t, r.RunOnce(context.Background()))
	require.NoError(t, r.RunOnce(context.Background()))

	job, err := ledger.Get(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, db.ClaimExpired, job.ClaimState)

	adapter.mu.Lock()
	assert.Empty(t, adapter.canceled)
	adapter.cancelErr = nil
	adapter.mu.Unlock()

	// Once the spooler recovers, the next pass retries the cancel for the
	// still-listed expired row.
	require.NoError(t, r.RunOnce(context.Background()))

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	assert.Contains(t, adapter.canceled, int64(42))
}

func TestExpiredJobsAreCanceledInSpooler(t *testing.T) {
	adapter := newFakeAdapter()
	mappings := newFakeMappings()
	adapter.add(snapshot(42, "unknown-device"))

	ledger := NewLedger(openTestDB(t), nil)
	// Negative timeout puts the cutoff in the future, expiring everything
	// unclaimed on the next pass.
	r := NewReconciler(adapter, ledger, mappings, time.Second, 0, -time.Hour)

	require.NoError(t, r.RunOnce(context.Background()))
	require.NoError(t, r.RunOnce(context.Background()))

	job, err := ledger.Get(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, db.ClaimExpired, job.ClaimState)

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	assert.Contains(t, adapter.canceled, int64(42))
}
