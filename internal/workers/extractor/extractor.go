// Package extractor turns a markdown post into structured article data.
package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/mpataki/quill/internal/models"
)

const wordsPerMinute = 200

var outputKeys = []string{
	"title", "slug", "description", "content", "content_html", "tags",
	"categories", "images", "thumbnail_path", "date", "author", "username",
	"user_id", "status", "word_count", "reading_time", "file_path", "file_name",
}

var imageExts = []string{".png", ".jpg", ".jpeg", ".webp", ".gif"}

type Options struct {
	PostsRoot     string
	DefaultUserID int64
}

// Article is the validated result of extraction.
type Article struct {
	Title         string   `validate:"required,max=255"`
	Slug          string   `validate:"required,max=255"`
	Description   string   `validate:"max=2000"`
	Content       string   `validate:"required"`
	Tags          []string `validate:"dive,required,max=50"`
	Categories    []string `validate:"dive,required,max=100"`
	UserID        int64    `validate:"gt=0"`
	Images        []Image
	ThumbnailPath string
	Date          string
	Author        string
	Username      string
	Status        string
	WordCount     int
}

// Image is a local image referenced by the post body.
type Image struct {
	LocalPath        string `json:"local_path"`
	Alt              string `json:"alt"`
	OriginalFilename string `json:"original_filename"`
}

type Extractor struct {
	opts     Options
	md       goldmark.Markdown
	policy   *bluemonday.Policy
	validate *validator.Validate
	logger   *slog.Logger
}

func New(opts Options, logger *slog.Logger) *Extractor {
	if opts.DefaultUserID == 0 {
		opts.DefaultUserID = 1
	}
	return &Extractor{
		opts:     opts,
		md:       goldmark.New(),
		policy:   bluemonday.UGCPolicy(),
		validate: validator.New(),
		logger:   logger.With("component", "extractor"),
	}
}

func (e *Extractor) OutputKeys() []string { return outputKeys }

func (e *Extractor) Description() string {
	return "Reads a markdown post (frontmatter, body, images, thumbnail, categories). Input: path, optional root, user_id, username."
}

func (e *Extractor) Execute(ctx context.Context, task models.Task) models.TaskResult {
	path := task.Input.GetString("path")
	if path == "" {
		return models.Failure(task, "path is required")
	}

	article, err := e.Extract(ctx, path, task.Input)
	if err != nil {
		return models.Failure(task, err.Error())
	}

	html, err := e.render([]byte(article.Content))
	if err != nil {
		return models.Failure(task, fmt.Sprintf("failed to render %s: %v", path, err))
	}

	images := make([]any, 0, len(article.Images))
	for _, img := range article.Images {
		images = append(images, map[string]any{
			"local_path":        img.LocalPath,
			"alt":               img.Alt,
			"original_filename": img.OriginalFilename,
		})
	}

	e.logger.InfoContext(ctx, "article extracted",
		"slug", article.Slug, "images", len(article.Images), "words", article.WordCount)

	return models.Success(task, models.Payload{
		"title":          article.Title,
		"slug":           article.Slug,
		"description":    article.Description,
		"content":        article.Content,
		"content_html":   html,
		"tags":           nonNil(article.Tags),
		"categories":     nonNil(article.Categories),
		"images":         images,
		"thumbnail_path": article.ThumbnailPath,
		"date":           article.Date,
		"author":         article.Author,
		"username":       article.Username,
		"user_id":        article.UserID,
		"status":         article.Status,
		"word_count":     article.WordCount,
		"reading_time":   readingTime(article.WordCount),
		"file_path":      mustAbs(path),
		"file_name":      filepath.Base(path),
	})
}

// Extract reads and validates the post at path. Input overrides (root,
// user_id, username) come from the task payload.
func (e *Extractor) Extract(ctx context.Context, path string, input models.Payload) (*Article, error) {
	if !strings.EqualFold(filepath.Ext(path), ".md") && !strings.EqualFold(filepath.Ext(path), ".markdown") {
		return nil, fmt.Errorf("%s is not a markdown file", path)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	body, front := splitFrontMatter(raw)
	fm, err := parseFrontMatter(front)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	doc := e.md.Parser().Parse(text.NewReader(body))
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	a := &Article{
		Title:       fm.Title,
		Slug:        fm.Slug,
		Description: firstNonEmpty(fm.Description, fm.Summary),
		Content:     strings.TrimSpace(string(body)),
		Tags:        fm.Tags,
		Author:      fm.Author,
		Username:    firstNonEmpty(input.GetString("username"), fm.Username),
		Status:      firstNonEmpty(strings.ToLower(strings.TrimSpace(fm.Status)), "public"),
		Date:        fm.Date,
		WordCount:   countWords(doc, body),
	}

	if a.Title == "" {
		a.Title = firstHeading(doc, body)
	}
	if a.Title == "" {
		a.Title = base
	}
	if a.Slug == "" {
		a.Slug = Slugify(base)
	}
	if a.Slug == "" {
		a.Slug = Slugify(a.Title)
	}

	a.UserID = e.opts.DefaultUserID
	if fm.UserID > 0 {
		a.UserID = fm.UserID
	}
	if id, ok := input.GetInt("user_id"); ok && id > 0 {
		a.UserID = id
	}

	a.Categories = fm.Categories
	if len(a.Categories) == 0 && fm.Category != "" {
		a.Categories = []string{fm.Category}
	}
	if len(a.Categories) == 0 {
		root := firstNonEmpty(input.GetString("root"), e.opts.PostsRoot)
		a.Categories = folderCategories(root, dir)
	}

	if a.Date == "" {
		if info, err := os.Stat(path); err == nil {
			a.Date = info.ModTime().Format(time.DateOnly)
		}
	}

	images := e.collectImages(ctx, doc, body, dir)

	switch {
	case fm.Thumbnail != "":
		a.ThumbnailPath = resolve(dir, fm.Thumbnail)
	default:
		a.ThumbnailPath = siblingImage(dir, base)
	}
	if a.ThumbnailPath == "" {
		for _, img := range images {
			if strings.EqualFold(img.Alt, "thumbnail") {
				a.ThumbnailPath = img.LocalPath
				break
			}
		}
	}

	// the thumbnail is uploaded on its own, never as a body image
	for _, img := range images {
		if img.LocalPath != a.ThumbnailPath {
			a.Images = append(a.Images, img)
		}
	}

	if err := e.validate.Struct(a); err != nil {
		return nil, fmt.Errorf("invalid article %s: %s", filepath.Base(path), describeValidation(err))
	}

	return a, nil
}

func (e *Extractor) render(markdown []byte) (string, error) {
	var buf bytes.Buffer
	if err := e.md.Convert(markdown, &buf); err != nil {
		return "", err
	}
	return string(e.policy.SanitizeBytes(buf.Bytes())), nil
}

func (e *Extractor) collectImages(ctx context.Context, doc ast.Node, source []byte, dir string) []Image {
	var (
		images []Image
		seen   = make(map[string]bool)
	)

	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		img, ok := n.(*ast.Image)
		if !ok {
			return ast.WalkContinue, nil
		}

		dest := string(img.Destination)
		if isRemote(dest) {
			return ast.WalkSkipChildren, nil
		}

		local := resolve(dir, dest)
		if seen[local] {
			return ast.WalkSkipChildren, nil
		}
		seen[local] = true

		if _, err := os.Stat(local); err != nil {
			e.logger.WarnContext(ctx, "referenced image not found", "path", local)
			return ast.WalkSkipChildren, nil
		}

		images = append(images, Image{
			LocalPath:        local,
			Alt:              nodeText(img, source),
			OriginalFilename: filepath.Base(local),
		})
		return ast.WalkSkipChildren, nil
	})

	return images
}

func firstHeading(doc ast.Node, source []byte) string {
	var title string
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if h, ok := n.(*ast.Heading); ok && entering && h.Level == 1 {
			title = strings.TrimSpace(nodeText(h, source))
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return title
}

func countWords(doc ast.Node, source []byte) int {
	words := 0
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if t, ok := n.(*ast.Text); ok && entering {
			words += len(strings.Fields(string(t.Segment.Value(source))))
		}
		return ast.WalkContinue, nil
	})
	return words
}

func nodeText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			buf.Write(t.Segment.Value(source))
			continue
		}
		buf.WriteString(nodeText(c, source))
	}
	return buf.String()
}

// folderCategories maps the directories between root and dir to a category
// path. Posts outside root have none.
func folderCategories(root, dir string) []string {
	if root == "" {
		return nil
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil
	}

	rel, err := filepath.Rel(absRoot, absDir)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil
	}
	return strings.Split(filepath.ToSlash(rel), "/")
}

func siblingImage(dir, base string) string {
	for _, ext := range imageExts {
		candidate := filepath.Join(dir, base+ext)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

func resolve(dir, dest string) string {
	if filepath.IsAbs(dest) {
		return filepath.Clean(dest)
	}
	return filepath.Join(dir, filepath.FromSlash(dest))
}

func isRemote(dest string) bool {
	return strings.Contains(dest, "://") || strings.HasPrefix(dest, "//") || strings.HasPrefix(dest, "data:")
}

func readingTime(words int) int {
	return max(1, int(math.Ceil(float64(words)/wordsPerMinute)))
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", strings.ToLower(fe.Field()), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
		}
	}
	return strings.Join(parts, ", ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func mustAbs(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
