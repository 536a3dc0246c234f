package redaction

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/disintegration/imaging"
)

// Rasterizer converts a document into one bitmap per page, in page order.
type Rasterizer interface {
	Rasterize(ctx context.Context, data []byte, mimeType string) ([]image.Image, error)
}

// PopplerRasterizer shells out to pdftoppm for PDFs and decodes images
// directly. Rasterizing drops every non-visual layer of the source file,
// which is the point: text, metadata, and attachments cannot survive it.
type PopplerRasterizer struct {
	binary string
	dpi    int
}

// NewPopplerRasterizer locates pdftoppm on PATH.
func NewPopplerRasterizer(dpi int) (*PopplerRasterizer, error) {
	path, err := exec.LookPath("pdftoppm")
	if err != nil {
		return nil, fmt.Errorf("pdftoppm not found on PATH: %w", err)
	}
	if dpi <= 0 {
		dpi = 200
	}
	return &PopplerRasterizer{binary: path, dpi: dpi}, nil
}

func (p *PopplerRasterizer) Rasterize(ctx context.Context, data []byte, mimeType string) ([]image.Image, error) {
	if mimeType != "application/pdf" {
		img, err := imaging.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", mimeType, err)
		}
		return []image.Image{img}, nil
	}

	dir, err := os.MkdirTemp("", "raster-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "in.pdf")
	if err := os.WriteFile(src, data, 0o600); err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, p.binary, "-png", "-r", fmt.Sprint(p.dpi), src, filepath.Join(dir, "page"))
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, out)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "page-*.png"))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("pdftoppm produced no pages")
	}
	// pdftoppm zero-pads page numbers, so lexical order is page order.
	sort.Strings(matches)

	pages := make([]image.Image, 0, len(matches))
	for _, path := range matches {
		img, err := imaging.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
		}
		pages = append(pages, img)
	}
	return pages, nil
}
