package extractor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/quill/internal/logging"
	"github.com/mpataki/quill/internal/models"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func run(t *testing.T, e *Extractor, input models.Payload) models.TaskResult {
	t.Helper()
	return e.Execute(context.Background(), models.Task{ID: "t1", WorkerID: "extractor", Step: "extract", Input: input})
}

const post = `---
title: Hello World
description: A first post
tags: [go, blog]
date: "2024-03-01"
author: Jane Doe
status: Private
---

# Ignored heading

Some intro text with five words.

![diagram](images/diagram.png)
![remote](https://example.com/x.png)
![again](images/diagram.png)

<script>alert(1)</script>
`

func TestExtractFullPost(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "tech", "go")
	path := filepath.Join(dir, "hello-world.md")
	writeFile(t, path, post)
	writeFile(t, filepath.Join(dir, "hello-world.png"), "thumb")
	writeFile(t, filepath.Join(dir, "images", "diagram.png"), "img")

	e := New(Options{PostsRoot: root, DefaultUserID: 3}, logging.Discard())
	res := run(t, e, models.Payload{"path": path})
	require.True(t, res.Succeeded(), res.Error)

	out := res.Output
	for _, key := range e.OutputKeys() {
		assert.True(t, out.Has(key), "missing output key %s", key)
	}

	assert.Equal(t, "Hello World", out["title"])
	assert.Equal(t, "hello-world", out["slug"])
	assert.Equal(t, "A first post", out["description"])
	assert.Equal(t, []string{"go", "blog"}, out["tags"])
	assert.Equal(t, []string{"tech", "go"}, out["categories"])
	assert.Equal(t, "2024-03-01", out["date"])
	assert.Equal(t, "Jane Doe", out["author"])
	assert.Equal(t, "private", out["status"])
	assert.Equal(t, int64(3), out["user_id"])
	assert.Equal(t, filepath.Join(dir, "hello-world.png"), out["thumbnail_path"])
	assert.Equal(t, "hello-world.md", out["file_name"])

	images := out["images"].([]any)
	require.Len(t, images, 1, "remote and duplicate images are skipped")
	img := images[0].(map[string]any)
	assert.Equal(t, filepath.Join(dir, "images", "diagram.png"), img["local_path"])
	assert.Equal(t, "diagram", img["alt"])
	assert.Equal(t, "diagram.png", img["original_filename"])

	html := out["content_html"].(string)
	assert.Contains(t, html, "<h1>Ignored heading</h1>")
	assert.NotContains(t, html, "<script>")
	assert.Equal(t, 1, out["reading_time"])
	assert.Greater(t, out["word_count"].(int), 5)
}

func TestExtractFallbacks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "My Post.md")
	writeFile(t, path, "# Heading Title\n\n![Thumbnail](cover.jpg)\n\nbody\n")
	writeFile(t, filepath.Join(dir, "cover.jpg"), "jpg")

	e := New(Options{}, logging.Discard())
	res := run(t, e, models.Payload{"path": path, "user_id": float64(9), "username": "janed"})
	require.True(t, res.Succeeded(), res.Error)

	assert.Equal(t, "Heading Title", res.Output["title"])
	assert.Equal(t, "my-post", res.Output["slug"])
	assert.Equal(t, int64(9), res.Output["user_id"])
	assert.Equal(t, "janed", res.Output["username"])
	assert.Equal(t, "public", res.Output["status"])
	assert.Equal(t, []string{}, res.Output["categories"])
	assert.Equal(t, filepath.Join(dir, "cover.jpg"), res.Output["thumbnail_path"])
	assert.Empty(t, res.Output["images"], "thumbnail is not a body image")
	assert.NotEmpty(t, res.Output["date"])
}

func TestExtractCategoriesFromFrontmatter(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a", "post.md")
	writeFile(t, path, "---\ntitle: T\ncategories: life, travel\n---\nbody\n")

	res := run(t, New(Options{PostsRoot: root}, logging.Discard()), models.Payload{"path": path})
	require.True(t, res.Succeeded(), res.Error)
	assert.Equal(t, []string{"life", "travel"}, res.Output["categories"])
	assert.Equal(t, "", res.Output["thumbnail_path"])
}

func TestExtractFailures(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.md")
	writeFile(t, empty, "---\ntitle: Empty\n---\n")
	badFront := filepath.Join(dir, "bad.md")
	writeFile(t, badFront, "---\ntags: {a: [\n---\nbody")
	txt := filepath.Join(dir, "notes.txt")
	writeFile(t, txt, "hello")

	tests := []struct {
		name  string
		input models.Payload
		want  string
	}{
		{"missing path", models.Payload{}, "path is required"},
		{"missing file", models.Payload{"path": filepath.Join(dir, "nope.md")}, "cannot read"},
		{"not markdown", models.Payload{"path": txt}, "not a markdown file"},
		{"empty body", models.Payload{"path": empty}, "content failed required"},
		{"bad frontmatter", models.Payload{"path": badFront}, "invalid frontmatter"},
	}

	e := New(Options{}, logging.Discard())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := run(t, e, tt.input)
			assert.Equal(t, models.TaskStatusFailure, res.Status)
			assert.Contains(t, res.Error, tt.want)
		})
	}
}

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"Hello World":        "hello-world",
		"  Go -- Tips!  ":    "go-tips",
		"Jane Doe":           "jane-doe",
		"한글 제목":              "한글-제목",
		"already-a-slug_2024": "already-a-slug-2024",
		"!!!":                "",
	}
	for in, want := range tests {
		assert.Equal(t, want, Slugify(in), in)
	}
}

func TestFolderCategories(t *testing.T) {
	root := t.TempDir()
	assert.Equal(t, []string{"a", "b"}, folderCategories(root, filepath.Join(root, "a", "b")))
	assert.Nil(t, folderCategories(root, root))
	assert.Nil(t, folderCategories(filepath.Join(root, "a"), filepath.Join(root, "b")))
	assert.Nil(t, folderCategories("", root))
}
