package image

import (
	"context"
	stdimage "image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/quill/internal/logging"
	"github.com/mpataki/quill/internal/models"
)

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := stdimage.NewRGBA(stdimage.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func readPNG(t *testing.T, path string) stdimage.Image {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	return img
}

func TestResizeLetterboxesTallImage(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "tall.png")
	writePNG(t, src, 100, 200)

	res, err := NewResizer(0, 0).Resize(src, filepath.Join(dir, "out", "tall_og.png"))
	require.NoError(t, err)
	assert.Equal(t, OGWidth, res.Width)
	assert.Equal(t, 100, res.SourceWidth)

	img := readPNG(t, res.Path)
	assert.Equal(t, stdimage.Rect(0, 0, OGWidth, OGHeight), img.Bounds())

	_, _, _, a := img.At(5, OGHeight/2).RGBA()
	assert.Zero(t, a, "left margin is transparent")
	r, _, _, a := img.At(OGWidth/2, OGHeight/2).RGBA()
	assert.NotZero(t, a)
	assert.NotZero(t, r)
}

func TestFitCentres(t *testing.T) {
	r := NewResizer(1200, 630)
	assert.Equal(t, stdimage.Rect(0, 0, 1200, 630), r.fit(2400, 1260))
	assert.Equal(t, stdimage.Rect(285, 0, 915, 630), r.fit(100, 100))
	assert.Equal(t, stdimage.Rect(0, 15, 1200, 615), r.fit(2000, 1000))
}

func TestWorkerExecute(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "cover.png")
	writePNG(t, src, 40, 20)
	scratch := filepath.Join(dir, "scratch")

	w := New(logging.Discard())
	res := w.Execute(context.Background(), models.Task{
		ID: "t1", Step: "image", WorkerID: "image", ScratchDir: scratch,
		Input: models.Payload{"local_path": src},
	})
	require.True(t, res.Succeeded(), res.Error)
	assert.Equal(t, filepath.Join(scratch, "cover_og.png"), res.Output["output_path"])
	assert.Equal(t, []int{1200, 630}, res.Output["target_size"])
	assert.Equal(t, []int{40, 20}, res.Output["original_size"])
	assert.FileExists(t, filepath.Join(scratch, "cover_og.png"))
}

func TestWorkerCustomSize(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "cover.png")
	writePNG(t, src, 40, 20)

	res := New(logging.Discard()).Execute(context.Background(), models.Task{
		Input: models.Payload{"local_path": src, "width": float64(64), "height": float64(64)},
	})
	require.True(t, res.Succeeded(), res.Error)
	assert.Equal(t, filepath.Join(dir, "cover_64x64.png"), res.Output["output_path"])
	assert.Equal(t, stdimage.Rect(0, 0, 64, 64), readPNG(t, filepath.Join(dir, "cover_64x64.png")).Bounds())
}

func TestWorkerFailures(t *testing.T) {
	dir := t.TempDir()
	bogus := filepath.Join(dir, "bogus.png")
	require.NoError(t, os.WriteFile(bogus, []byte("not an image"), 0o644))

	tests := []struct {
		name  string
		input models.Payload
		want  string
	}{
		{"missing input", models.Payload{}, "local_path is required"},
		{"missing file", models.Payload{"local_path": filepath.Join(dir, "nope.png")}, "cannot open image"},
		{"undecodable", models.Payload{"local_path": bogus}, "cannot decode bogus.png"},
		{"negative size", models.Payload{"local_path": bogus, "width": -1}, "must be positive"},
	}

	w := New(logging.Discard())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := w.Execute(context.Background(), models.Task{Input: tt.input})
			assert.Equal(t, models.TaskStatusFailure, res.Status)
			assert.Contains(t, res.Error, tt.want)
		})
	}
}
