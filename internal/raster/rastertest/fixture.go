// Package rastertest builds PDF fixtures for tests.
package rastertest

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/jung-kurt/gofpdf"
)

// WritePDF writes a PDF with the given number of A4 pages to dir/name and returns its path.
func WritePDF(t testing.TB, dir, name string, pages int) string {
	t.Helper()
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 16)
	for i := 1; i <= pages; i++ {
		pdf.AddPage()
		pdf.Cell(40, 10, fmt.Sprintf("%s page %d", name, i))
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("Failed to create fixture dir: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := pdf.OutputFileAndClose(path); err != nil {
		t.Fatalf("Failed to write fixture PDF: %v", err)
	}
	return path
}

// WriteCorrupt writes a file named like a PDF that no parser accepts.
func WriteCorrupt(t testing.TB, dir, name string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("Failed to create fixture dir: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("%PDF-1.4\nthis is not a pdf body\n"), 0o644); err != nil {
		t.Fatalf("Failed to write corrupt fixture: %v", err)
	}
	return path
}
