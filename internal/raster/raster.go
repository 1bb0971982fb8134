// Package raster turns PDF pages into JPEG images.
package raster

import (
	"context"
	"fmt"
	"image"
	"os"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// DefaultDPI is the resolution pages are rendered at.
const DefaultDPI = 300

// Rasterizer renders every page of a PDF in order. emit receives 1-based page numbers;
// an error from emit stops rendering and is returned as is.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdfPath string, dpi int, emit func(page int, img image.Image) error) error
}

// Inspector validates a PDF and counts its pages.
type Inspector interface {
	Inspect(pdfPath string) (pages int, err error)
}

// FitzRasterizer renders with MuPDF.
type FitzRasterizer struct{}

func NewFitzRasterizer() *FitzRasterizer {
	return &FitzRasterizer{}
}

func (FitzRasterizer) Rasterize(ctx context.Context, pdfPath string, dpi int, emit func(page int, img image.Image) error) error {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	doc, err := fitz.New(pdfPath)
	if err != nil {
		return fmt.Errorf("failed to open PDF %s: %w", pdfPath, err)
	}
	defer doc.Close()

	for n := 0; n < doc.NumPage(); n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		img, err := doc.ImageDPI(n, float64(dpi))
		if err != nil {
			return fmt.Errorf("failed to render page %d: %w", n+1, err)
		}
		if err := emit(n+1, img); err != nil {
			return err
		}
	}
	return nil
}

// PDFCPUInspector validates in relaxed mode, which tolerates the small format
// violations common in scanner output.
type PDFCPUInspector struct {
	conf *model.Configuration
}

func NewPDFCPUInspector() *PDFCPUInspector {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDFCPUInspector{conf: conf}
}

func (p *PDFCPUInspector) Inspect(pdfPath string) (int, error) {
	if err := api.ValidateFile(pdfPath, p.conf); err != nil {
		return 0, fmt.Errorf("invalid PDF %s: %w", pdfPath, err)
	}

	f, err := os.Open(pdfPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open PDF %s: %w", pdfPath, err)
	}
	defer f.Close()

	pages, err := api.PageCount(f, p.conf)
	if err != nil {
		return 0, fmt.Errorf("failed to count pages of %s: %w", pdfPath, err)
	}
	return pages, nil
}
