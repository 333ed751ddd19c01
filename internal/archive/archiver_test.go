package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quill/printhold/internal/db"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func insertTerminalJob(t *testing.T, conn *sql.DB, jobID int64, lastSeen time.Time) {
	t.Helper()
	_, err := conn.Exec(db.InsertJob,
		jobID, "alice", "alice", db.ClaimOwned, db.SpoolCompleted,
		"report.pdf", 12, db.ViaIPP, nil, time.Now().UTC())
	require.NoError(t, err)
	_, err = conn.Exec(`UPDATE jobs SET terminal = 1, last_seen_at = ? WHERE job_id = ?`, lastSeen, jobID)
	require.NoError(t, err)
}

func TestRunArchiveExportsAndRetires(t *testing.T) {
	conn := openTestDB(t)
	dir := t.TempDir()

	old := time.Now().UTC().AddDate(0, 0, -40)
	insertTerminalJob(t, conn, 42, old)
	insertTerminalJob(t, conn, 43, old)

	a, err := NewArchiver(conn, Config{ArchivePath: dir, RetentionDays: 30, Interval: time.Hour})
	require.NoError(t, err)
	require.NoError(t, a.RunArchive(context.Background()))

	// Rows are gone from the live table.
	var count int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM jobs`).Scan(&count))
	assert.Zero(t, count)

	// Each retired job is recorded against its archive file.
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM archive_jobs`).Scan(&count))
	assert.Equal(t, 2, count)

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(filepath.Join(dir, files[0].Name()))
	require.NoError(t, err)
	var jobs []*db.Job
	require.NoError(t, json.Unmarshal(data, &jobs))
	assert.Len(t, jobs, 2)
}

func TestRunArchiveSkipsRecentAndLiveJobs(t *testing.T) {
	conn := openTestDB(t)
	dir := t.TempDir()

	// Terminal but within retention.
	insertTerminalJob(t, conn, 42, time.Now().UTC())
	// Live job, old last-seen would never happen but must not be exported.
	_, err := conn.Exec(db.InsertJob,
		43, "bob", nil, db.ClaimUnclaimed, db.SpoolHeld,
		"notes.txt", 1, db.ViaIPP, nil, nil)
	require.NoError(t, err)

	a, err := NewArchiver(conn, Config{ArchivePath: dir, RetentionDays: 30, Interval: time.Hour})
	require.NoError(t, err)
	require.NoError(t, a.RunArchive(context.Background()))

	var count int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM jobs`).Scan(&count))
	assert.Equal(t, 2, count)

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, files)
}
