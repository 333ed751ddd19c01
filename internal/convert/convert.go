package convert

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Formats the spooler driver accepts directly.
var directPrintTypes = map[string]bool{
	"pdf":  true,
	"png":  true,
	"jpg":  true,
	"jpeg": true,
}

// Formats LibreOffice converts to PDF before submission.
var convertibleTypes = map[string]bool{
	"docx": true,
	"doc":  true,
	"txt":  true,
}

// Converter turns uploaded documents into print-ready files via
// LibreOffice headless. Conversion failures fall back to the original
// file rather than rejecting the submission; the spooler may still be
// able to render it.
type Converter struct {
	timeout time.Duration
	run     func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func New(timeout time.Duration) *Converter {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Converter{
		timeout: timeout,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

// Ext returns the lowercased extension without the dot.
func Ext(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// Printable reports whether the extension is accepted at all, directly or
// via conversion.
func Printable(ext string) bool {
	return directPrintTypes[ext] || convertibleTypes[ext]
}

// ConvertIfNeeded returns the path of a print-ready file for the given
// upload, converting to PDF when the format requires it.
func (c *Converter) ConvertIfNeeded(ctx context.Context, path string) (string, error) {
	ext := Ext(path)
	if directPrintTypes[ext] {
		return path, nil
	}
	if !convertibleTypes[ext] {
		return path, nil
	}
	return c.toPDF(ctx, path)
}

func (c *Converter) toPDF(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	outDir := filepath.Dir(path)
	output, err := c.run(ctx, "libreoffice", "--headless", "--convert-to", "pdf", "--outdir", outDir, path)
	if err != nil {
		log.Printf("[convert] libreoffice failed for %s: %v (%s)", filepath.Base(path), err, strings.TrimSpace(string(output)))
		return path, nil
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	pdfPath := filepath.Join(outDir, base+".pdf")
	if _, err := os.Stat(pdfPath); err != nil {
		return path, fmt.Errorf("converted file missing: %w", err)
	}
	return pdfPath, nil
}
