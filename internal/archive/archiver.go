package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/quill/printhold/internal/db"
)

// Archiver exports terminal ledger rows past the retention window to
// JSON files and records each exported job in archive_jobs. Retired jobs
// are never silently dropped: they leave the live table only by moving
// into an archive file that keeps the full ownership audit trail.
type Archiver struct {
	db            *sql.DB
	archivePath   string
	retentionDays int
	interval      time.Duration
	stopCh        chan struct{}
	mu            sync.Mutex
}

type Config struct {
	ArchivePath   string
	RetentionDays int
	Interval      time.Duration
}

func NewArchiver(database *sql.DB, cfg Config) (*Archiver, error) {
	if cfg.ArchivePath == "" {
		cfg.ArchivePath = "./data/archives"
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 6 * time.Hour
	}

	if err := os.MkdirAll(cfg.ArchivePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	return &Archiver{
		db:            database,
		archivePath:   cfg.ArchivePath,
		retentionDays: cfg.RetentionDays,
		interval:      cfg.Interval,
		stopCh:        make(chan struct{}),
	}, nil
}

func (a *Archiver) Start() {
	go a.loop()
}

func (a *Archiver) Stop() {
	close(a.stopCh)
}

func (a *Archiver) loop() {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			if err := a.RunArchive(context.Background()); err != nil {
				log.Printf("[archive] run failed: %v", err)
			}
		}
	}
}

// RunArchive exports one batch of terminal rows older than the retention
// cutoff. The file write happens before any row is removed, so a crash
// mid-run can duplicate an export but never lose one.
func (a *Archiver) RunArchive(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -a.retentionDays)
	jobs, err := a.jobsForArchival(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to get jobs for archival: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}

	filename := fmt.Sprintf("archive_%s.json", time.Now().UTC().Format("2006_01_02T150405"))
	if err := a.writeArchiveFile(filename, jobs); err != nil {
		return err
	}

	if err := a.retireArchivedJobs(ctx, jobs, filename); err != nil {
		return err
	}

	log.Printf("[archive] exported %d jobs to %s", len(jobs), filename)
	return nil
}

func (a *Archiver) jobsForArchival(ctx context.Context, cutoff time.Time) ([]*db.Job, error) {
	rows, err := a.db.QueryContext(ctx, db.ListTerminalJobsBefore, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return db.ScanJobs(rows)
}

func (a *Archiver) writeArchiveFile(filename string, jobs []*db.Job) error {
	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode archive: %w", err)
	}

	path := filepath.Join(a.archivePath, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write archive file: %w", err)
	}
	return nil
}

func (a *Archiver) retireArchivedJobs(ctx context.Context, jobs []*db.Job, filename string) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin archive transaction: %w", err)
	}

	for _, job := range jobs {
		if _, err := tx.Exec(db.InsertArchiveJob, job.JobID, filename); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record archive job: %w", err)
		}
		if _, err := tx.Exec(db.DeleteJob, job.JobID); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to remove archived job: %w", err)
		}
	}

	return tx.Commit()
}
