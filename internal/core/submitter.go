package core

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/quill/printhold/internal/convert"
	"github.com/quill/printhold/internal/db"
	"github.com/quill/printhold/internal/spooler"
)

// FileConverter turns an uploaded document into a print-ready file.
type FileConverter interface {
	ConvertIfNeeded(ctx context.Context, path string) (string, error)
}

// SubmitInput is one owner-initiated submission from upload, API, or mail
// ingestion. Owner empty means the submitter could not be mapped to an
// account and the job enters the queue unclaimed, attributable later via
// RawSubmitter.
type SubmitInput struct {
	Filename     string
	Data         io.Reader
	Owner        string
	RawSubmitter string
	Via          string
	Options      spooler.Options
}

// Submitter is the submission pipeline: validate, store, convert, submit
// held, and pre-stamp ownership in the ledger so identity resolution is
// bypassed entirely for these jobs.
type Submitter struct {
	adapter    spooler.Adapter
	ledger     *Ledger
	converter  FileConverter
	uploadDir  string
	maxSizeMB  int64
	extensions map[string]bool
}

func NewSubmitter(adapter spooler.Adapter, ledger *Ledger, converter FileConverter, uploadDir string, maxSizeMB int64, extensions []string) *Submitter {
	allowed := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		allowed[strings.ToLower(ext)] = true
	}
	return &Submitter{
		adapter:    adapter,
		ledger:     ledger,
		converter:  converter,
		uploadDir:  uploadDir,
		maxSizeMB:  maxSizeMB,
		extensions: allowed,
	}
}

// Submit runs the pipeline and returns the spooler job id. Malformed
// submissions are rejected with a ValidationError before anything touches
// the spooler.
func (s *Submitter) Submit(ctx context.Context, in SubmitInput) (int64, error) {
	filename := sanitizeFilename(in.Filename)
	if filename == "" {
		return 0, Validationf("no file provided")
	}
	ext := convert.Ext(filename)
	if ext == "" || !s.extensions[ext] || !convert.Printable(ext) {
		return 0, Validationf("file type %q not allowed", ext)
	}
	if in.Via == "" {
		return 0, Validationf("submission channel is required")
	}

	path, err := s.saveUpload(filename, in.Data)
	if err != nil {
		return 0, err
	}

	printable, err := s.converter.ConvertIfNeeded(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("failed to convert %s: %w", filename, err)
	}

	requestingUser := in.Owner
	if requestingUser == "" {
		requestingUser = in.RawSubmitter
	}
	jobID, err := s.adapter.Submit(ctx, spooler.SubmitRequest{
		Path:           printable,
		Title:          filename,
		RequestingUser: requestingUser,
		Options:        in.Options,
	})
	if err != nil {
		return 0, err
	}

	info, _ := os.Stat(printable)
	var sizeKB int64
	if info != nil {
		sizeKB = info.Size() / 1024
	}

	job := &db.Job{
		JobID:            jobID,
		RawSubmitter:     requestingUser,
		SpoolerState:     db.SpoolHeld,
		Title:            filename,
		SizeKB:           sizeKB,
		SubmittedVia:     in.Via,
		OriginalFilename: &filename,
	}
	if in.Owner != "" {
		owner := in.Owner
		job.Owner = &owner
		job.ClaimState = db.ClaimOwned
	} else {
		job.ClaimState = db.ClaimUnclaimed
	}
	if err := s.ledger.InsertSubmitted(ctx, job); err != nil {
		return jobID, err
	}
	return jobID, nil
}

// saveUpload streams the file to the upload directory under a unique
// name, enforcing the size limit as it reads.
func (s *Submitter) saveUpload(filename string, data io.Reader) (string, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}

	path := filepath.Join(s.uploadDir, uuid.NewString()+"_"+filename)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}
	defer f.Close()

	maxBytes := s.maxSizeMB * 1024 * 1024
	n, err := io.Copy(f, io.LimitReader(data, maxBytes+1))
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write upload: %w", err)
	}
	if n > maxBytes {
		os.Remove(path)
		return "", Validationf("file exceeds %d MB limit", s.maxSizeMB)
	}
	if n == 0 {
		os.Remove(path)
		return "", Validationf("file is empty")
	}
	return path, nil
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// sanitizeFilename strips path components and collapses anything outside
// a conservative character set.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" || name == "." || name == ".." {
		return ""
	}
	return name
}
