package mail

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quill/printhold/internal/config"
	"github.com/quill/printhold/internal/core"
	"github.com/quill/printhold/internal/db"
	"github.com/quill/printhold/internal/spooler"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "printhold-mail-test")
	if err != nil {
		panic(err)
	}
	if err := db.Init(db.Config{Path: filepath.Join(dir, "test.db")}); err != nil {
		panic(err)
	}

	code := m.Run()

	db.Close()
	os.RemoveAll(dir)
	os.Exit(code)
}

// Job ids must be unique across all tests sharing the database.
var jobSeq int64 = 5000

type stubAdapter struct{}

func (s *stubAdapter) List(ctx context.Context) ([]spooler.JobSnapshot, error) { return nil, nil }

func (s *stubAdapter) Hold(ctx context.Context, jobID int64) error { return nil }

func (s *stubAdapter) Release(ctx context.Context, jobID int64) error { return nil }

func (s *stubAdapter) Cancel(ctx context.Context, jobID int64) error { return nil }

func (s *stubAdapter) Submit(ctx context.Context, req spooler.SubmitRequest) (int64, error) {
	return atomic.AddInt64(&jobSeq, 1), nil
}

type passthroughConverter struct{}

func (passthroughConverter) ConvertIfNeeded(ctx context.Context, path string) (string, error) {
	return path, nil
}

func testIngestor(t *testing.T) (*Ingestor, *core.Ledger) {
	t.Helper()
	ledger := core.NewLedger(db.GetDB(), nil)
	submitter := core.NewSubmitter(&stubAdapter{}, ledger,
		passthroughConverter{}, t.TempDir(), 1, []string{"pdf"})
	return NewIngestor(db.Emails, submitter, config.MailConfig{}), ledger
}

func TestIngestMappedSenderOwnsJob(t *testing.T) {
	ingestor, ledger := testIngestor(t)
	ctx := context.Background()

	require.NoError(t, db.Emails.Upsert(ctx, "alice@example.com", "alice"))

	jobID, err := ingestor.Ingest(ctx, "alice@example.com", "report.pdf", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)

	job, err := ledger.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, db.ClaimOwned, job.ClaimState)
	require.NotNil(t, job.Owner)
	assert.Equal(t, "alice", *job.Owner)
	assert.Equal(t, db.ViaEmail, job.SubmittedVia)
}

func TestIngestMappingIsCaseInsensitive(t *testing.T) {
	ingestor, ledger := testIngestor(t)
	ctx := context.Background()

	require.NoError(t, db.Emails.Upsert(ctx, "Bob@Example.com", "bob"))

	jobID, err := ingestor.Ingest(ctx, "BOB@EXAMPLE.COM", "report.pdf", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)

	job, err := ledger.Get(ctx, jobID)
	require.NoError(t, err)
	require.NotNil(t, job.Owner)
	assert.Equal(t, "bob", *job.Owner)
}

func TestIngestUnmappedSenderIsUnclaimed(t *testing.T) {
	ingestor, ledger := testIngestor(t)
	ctx := context.Background()

	jobID, err := ingestor.Ingest(ctx, "stranger@example.com", "report.pdf", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)

	job, err := ledger.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, db.ClaimUnclaimed, job.ClaimState)
	assert.Nil(t, job.Owner)
	assert.Equal(t, "stranger@example.com", job.RawSubmitter)
}

func TestIngestRequiresSender(t *testing.T) {
	ingestor, _ := testIngestor(t)
	_, err := ingestor.Ingest(context.Background(), "", "report.pdf", strings.NewReader("%PDF-1.4"))
	assert.True(t, core.IsValidation(err))
}
