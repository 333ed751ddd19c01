package convert

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExt(t *testing.T) {
	assert.Equal(t, "pdf", Ext("report.pdf"))
	assert.Equal(t, "docx", Ext("Letter.DOCX"))
	assert.Equal(t, "", Ext("Makefile"))
	assert.Equal(t, "pdf", Ext("archive.tar.pdf"))
}

func TestPrintable(t *testing.T) {
	for _, ext := range []string{"pdf", "png", "jpg", "jpeg", "docx", "doc", "txt"} {
		assert.True(t, Printable(ext), ext)
	}
	for _, ext := range []string{"exe", "zip", "html", ""} {
		assert.False(t, Printable(ext), ext)
	}
}

func TestDirectFormatsPassThrough(t *testing.T) {
	c := New(time.Second)
	c.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		t.Fatal("direct formats must not invoke the converter")
		return nil, nil
	}

	out, err := c.ConvertIfNeeded(context.Background(), "/tmp/report.pdf")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/report.pdf", out)
}

func TestConvertibleFormatProducesPDF(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "letter.docx")
	require.NoError(t, os.WriteFile(src, []byte("doc"), 0o644))

	c := New(time.Second)
	c.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		require.Equal(t, "libreoffice", name)
		pdf := filepath.Join(dir, "letter.pdf")
		return []byte("convert ok"), os.WriteFile(pdf, []byte("%PDF-1.4"), 0o644)
	}

	out, err := c.ConvertIfNeeded(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "letter.pdf"), out)
}

func TestConversionFailureFallsBack(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "letter.docx")
	require.NoError(t, os.WriteFile(src, []byte("doc"), 0o644))

	c := New(time.Second)
	c.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte("soffice crashed"), errors.New("exit status 1")
	}

	out, err := c.ConvertIfNeeded(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, src, out)
}
