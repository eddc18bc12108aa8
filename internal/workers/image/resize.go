package image

import (
	"fmt"
	stdimage "image"
	"image/png"
	"os"
	"path/filepath"

	_ "image/gif"
	_ "image/jpeg"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Open Graph image size.
const (
	OGWidth  = 1200
	OGHeight = 630
)

// Resized describes a letterboxed image written by Resizer.
type Resized struct {
	Path         string
	Width        int
	Height       int
	SourceWidth  int
	SourceHeight int
}

// Resizer scales images to fit a fixed canvas, preserving aspect ratio and
// padding the remainder with transparency.
type Resizer struct {
	Width  int
	Height int
}

func NewResizer(width, height int) *Resizer {
	if width <= 0 {
		width = OGWidth
	}
	if height <= 0 {
		height = OGHeight
	}
	return &Resizer{Width: width, Height: height}
}

// Resize decodes src, letterboxes it and writes a PNG to dst.
func (r *Resizer) Resize(src, dst string) (*Resized, error) {
	in, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("cannot open image: %w", err)
	}
	defer in.Close()

	img, _, err := stdimage.Decode(in)
	if err != nil {
		return nil, fmt.Errorf("cannot decode %s: %w", filepath.Base(src), err)
	}

	bounds := img.Bounds()
	sw, sh := bounds.Dx(), bounds.Dy()
	if sw == 0 || sh == 0 {
		return nil, fmt.Errorf("image %s is empty", filepath.Base(src))
	}

	canvas := stdimage.NewRGBA(stdimage.Rect(0, 0, r.Width, r.Height))
	draw.CatmullRom.Scale(canvas, r.fit(sw, sh), img, bounds, draw.Over, nil)

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, fmt.Errorf("cannot create output directory: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return nil, fmt.Errorf("cannot create %s: %w", dst, err)
	}
	if err := png.Encode(out, canvas); err != nil {
		out.Close()
		return nil, fmt.Errorf("cannot encode %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return nil, err
	}

	return &Resized{Path: dst, Width: r.Width, Height: r.Height, SourceWidth: sw, SourceHeight: sh}, nil
}

// fit returns the centred rectangle an sw x sh image scales into.
func (r *Resizer) fit(sw, sh int) stdimage.Rectangle {
	scale := min(float64(r.Width)/float64(sw), float64(r.Height)/float64(sh))
	w := max(1, int(float64(sw)*scale+0.5))
	h := max(1, int(float64(sh)*scale+0.5))
	x := (r.Width - w) / 2
	y := (r.Height - h) / 2
	return stdimage.Rect(x, y, x+w, y+h)
}
