package redaction

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/sync/errgroup"

	"taxvault/pkg/domain"
)

const jpegQuality = 85

// Renderer produces a redacted copy of a document. The output is an
// image-only PDF built from rasterized pages, so no original bytes reach it.
type Renderer struct {
	raster Rasterizer
}

// NewRenderer wires a rasterizer into the renderer.
func NewRenderer(raster Rasterizer) *Renderer {
	return &Renderer{raster: raster}
}

// Render rasterizes the document, paints every box opaque black, and
// assembles the painted pages into a fresh PDF. Any failure discards all
// intermediate output; there is no partially redacted artifact.
func (r *Renderer) Render(ctx context.Context, data []byte, mimeType string, boxes []domain.RedactionBox) ([]byte, error) {
	pages, err := r.raster.Rasterize(ctx, data, mimeType)
	if err != nil {
		return nil, fmt.Errorf("rasterize: %w", err)
	}

	byPage := make(map[int][]domain.RedactionBox, len(boxes))
	for _, b := range boxes {
		byPage[b.Page] = append(byPage[b.Page], b)
	}

	dir, err := os.MkdirTemp("", "redact-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	imageFiles := make([]string, len(pages))
	g, gctx := errgroup.WithContext(ctx)
	for i, page := range pages {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			painted := paintPage(page, byPage[i+1])
			path := filepath.Join(dir, fmt.Sprintf("page-%04d.jpg", i+1))
			if err := imaging.Save(painted, path, imaging.JPEGQuality(jpegQuality)); err != nil {
				return fmt.Errorf("encode page %d: %w", i+1, err)
			}
			imageFiles[i] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	outPath := filepath.Join(dir, "out.pdf")
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.ImportImagesFile(imageFiles, outPath, nil, conf); err != nil {
		return nil, fmt.Errorf("assemble pdf: %w", err)
	}
	out, err := os.ReadFile(outPath)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// paintPage draws opaque rectangles over a page bitmap.
func paintPage(page image.Image, boxes []domain.RedactionBox) image.Image {
	bounds := page.Bounds()
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, page, bounds.Min, draw.Src)
	for _, b := range boxes {
		pad := paddingFor(b.Category)
		rect := image.Rect(
			bounds.Min.X+int(b.Box.X*float64(bounds.Dx()))-pad.X,
			bounds.Min.Y+int(b.Box.Y*float64(bounds.Dy()))-pad.Y,
			bounds.Min.X+int((b.Box.X+b.Box.W)*float64(bounds.Dx()))+pad.X,
			bounds.Min.Y+int((b.Box.Y+b.Box.H)*float64(bounds.Dy()))+pad.Y,
		).Intersect(bounds)
		draw.Draw(canvas, rect, image.NewUniform(color.Black), image.Point{}, draw.Src)
	}
	return canvas
}
