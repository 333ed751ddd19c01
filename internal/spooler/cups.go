package spooler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/quill/printhold/internal/db"
)

// CUPS drives the local CUPS scheduler through its command-line tools
// (lpstat, lpq, lp, cancel). Every invocation runs under a bounded
// timeout; a timeout is reported as ErrUnavailable, never ErrJobNotFound.
type CUPS struct {
	printer string
	timeout time.Duration
	run     runFunc
}

type runFunc func(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)

func NewCUPS(printer string, timeout time.Duration) *CUPS {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CUPS{
		printer: printer,
		timeout: timeout,
		run:     execRun,
	}
}

func execRun(ctx context.Context, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(cmd.Environ(), "LANG=C", "LC_ALL=C")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func (c *CUPS) List(ctx context.Context) ([]JobSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	statOut, statErr, err := c.run(ctx, "lpstat", "-l", "-o", c.printer)
	if err != nil {
		return nil, classifyError(ctx, statErr, err)
	}
	entries := parseLpstat(statOut)

	// lpstat does not expose job titles; lpq does. Merge best-effort;
	// a failed lpq still yields a usable snapshot set.
	if lpqOut, _, err := c.run(ctx, "lpq", "-P", c.printer); err == nil {
		for id, meta := range parseLpq(lpqOut) {
			if e, ok := entries[id]; ok {
				e.title = meta.title
				if meta.sizeKB > 0 {
					e.sizeKB = meta.sizeKB
				}
				entries[id] = e
			}
		}
	}

	snapshots := make([]JobSnapshot, 0, len(entries))
	for id, e := range entries {
		title := e.title
		if title == "" {
			title = "Untitled"
		}
		snapshots = append(snapshots, JobSnapshot{
			ID:           id,
			RawSubmitter: e.user,
			State:        e.state,
			Title:        title,
			SizeKB:       e.sizeKB,
			CreatedAt:    e.created,
		})
	}
	return snapshots, nil
}

func (c *CUPS) Hold(ctx context.Context, jobID int64) error {
	return c.control(ctx, "lp", "-i", strconv.FormatInt(jobID, 10), "-H", "hold")
}

func (c *CUPS) Release(ctx context.Context, jobID int64) error {
	return c.control(ctx, "lp", "-i", strconv.FormatInt(jobID, 10), "-H", "resume")
}

func (c *CUPS) Cancel(ctx context.Context, jobID int64) error {
	return c.control(ctx, "cancel", strconv.FormatInt(jobID, 10))
}

func (c *CUPS) control(ctx context.Context, name string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, stderr, err := c.run(ctx, name, args...)
	if err != nil {
		return classifyError(ctx, stderr, err)
	}
	return nil
}

func (c *CUPS) Submit(ctx context.Context, req SubmitRequest) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// Jobs always enter the queue held; release is a separate, authorized
	// operation.
	args := []string{"-d", c.printer, "-H", "hold", "-t", req.Title}
	if req.RequestingUser != "" {
		args = append(args, "-U", req.RequestingUser)
	}
	if req.Options.Copies > 1 {
		args = append(args, "-n", strconv.Itoa(req.Options.Copies))
	}
	if req.Options.Duplex {
		args = append(args, "-o", "sides=two-sided-long-edge")
	}
	if req.Options.Grayscale {
		args = append(args, "-o", "ColorModel=Gray")
	}
	if req.Options.PageRanges != "" {
		args = append(args, "-o", "page-ranges="+req.Options.PageRanges)
	}
	args = append(args, req.Path)

	stdout, stderr, err := c.run(ctx, "lp", args...)
	if err != nil {
		return 0, classifyError(ctx, stderr, err)
	}

	id, ok := parseSubmitOutput(stdout)
	if !ok {
		return 0, fmt.Errorf("%w: could not parse lp output %q", ErrUnavailable, strings.TrimSpace(stdout))
	}
	return id, nil
}

func classifyError(ctx context.Context, stderr string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: command timed out", ErrUnavailable)
	}

	msg := strings.ToLower(stderr)
	switch {
	case strings.Contains(msg, "does not exist"),
		strings.Contains(msg, "no such job"),
		strings.Contains(msg, "job not found"):
		return ErrJobNotFound
	case strings.Contains(msg, "unable to connect"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "not responding"):
		return fmt.Errorf("%w: %s", ErrUnavailable, strings.TrimSpace(stderr))
	}
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if stderr != "" {
		return fmt.Errorf("%w: %s", ErrUnavailable, strings.TrimSpace(stderr))
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

type lpstatEntry struct {
	user    string
	state   string
	title   string
	sizeKB  int64
	created time.Time
}

// lpstat date layouts under LANG=C, newest CUPS first.
var lpstatTimeLayouts = []string{
	"Mon 02 Jan 2006 03:04:05 PM MST",
	"Mon Jan 2 15:04:05 2006",
}

// parseLpstat reads `lpstat -l -o <printer>` output. Each job starts on a
// non-indented line "printer-id user size date"; indented continuation
// lines carry state alerts.
func parseLpstat(out string) map[int64]lpstatEntry {
	entries := make(map[int64]lpstatEntry)
	var current int64 = -1

	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}

		if line[0] == ' ' || line[0] == '\t' {
			if current < 0 {
				continue
			}
			e := entries[current]
			lower := strings.ToLower(line)
			if strings.Contains(lower, "job-hold-until-specified") {
				e.state = db.SpoolHeld
			} else if strings.Contains(lower, "job-printing") {
				e.state = db.SpoolProcessing
			}
			entries[current] = e
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 3 {
			current = -1
			continue
		}

		id, ok := parseRequestID(fields[0])
		if !ok {
			current = -1
			continue
		}

		e := lpstatEntry{
			user:  fields[1],
			state: db.SpoolPending,
		}
		if size, err := strconv.ParseInt(fields[2], 10, 64); err == nil {
			e.sizeKB = size / 1024
		}
		if len(fields) > 3 {
			e.created = parseLpstatTime(strings.Join(fields[3:], " "))
		}

		current = id
		entries[id] = e
	}

	return entries
}

// parseRequestID extracts the numeric job id from a CUPS request id of the
// form "Printer_Name-123".
func parseRequestID(requestID string) (int64, bool) {
	idx := strings.LastIndex(requestID, "-")
	if idx < 0 || idx == len(requestID)-1 {
		return 0, false
	}
	id, err := strconv.ParseInt(requestID[idx+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func parseLpstatTime(s string) time.Time {
	for _, layout := range lpstatTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

type lpqEntry struct {
	title  string
	sizeKB int64
}

// parseLpq reads `lpq -P <printer>` output:
//
//	Rank    Owner   Job     File(s)            Total Size
//	active  alice   42      report.pdf         12288 bytes
func parseLpq(out string) map[int64]lpqEntry {
	entries := make(map[int64]lpqEntry)

	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		if fields[0] == "Rank" {
			continue
		}
		id, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			continue
		}
		if fields[len(fields)-1] != "bytes" {
			continue
		}

		e := lpqEntry{
			title: strings.Join(fields[3:len(fields)-2], " "),
		}
		if size, err := strconv.ParseInt(fields[len(fields)-2], 10, 64); err == nil {
			e.sizeKB = size / 1024
		}
		entries[id] = e
	}

	return entries
}

// parseSubmitOutput extracts the job id from lp's confirmation line:
// "request id is Printer_Name-42 (1 file(s))".
func parseSubmitOutput(out string) (int64, bool) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "request id is ") {
			continue
		}
		rest := strings.TrimPrefix(line, "request id is ")
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		if id, ok := parseRequestID(fields[0]); ok {
			return id, true
		}
	}
	return 0, false
}
