// Package uploader publishes an extracted article: it uploads the thumbnail
// and body images, rewrites image links to their public URLs and saves the
// post with its categories, tags and file records.
package uploader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mpataki/quill/internal/models"
	"github.com/mpataki/quill/internal/publish"
	"github.com/mpataki/quill/internal/workers/extractor"
	"github.com/mpataki/quill/internal/workers/image"
)

const (
	maxConcurrentUploads = 4
	metaTitleLimit       = 70
	metaDescriptionLimit = 170
)

var outputKeys = []string{
	"article_id", "slug", "title", "published_url", "categories", "category_ids",
	"category_id", "image_count", "images", "thumbnail_url", "upload_payload",
}

var validStatuses = map[string]bool{"public": true, "private": true, "follower": true}

// PostRepository saves a post with its category path, tags and files.
type PostRepository interface {
	SavePost(ctx context.Context, post *publish.Post, categoryPath []string, files []publish.File) (*publish.Saved, error)
}

type Options struct {
	BlogBaseURL     string
	DefaultUserID   int64
	DefaultUsername string
}

type Uploader struct {
	store   ObjectStore
	repo    PostRepository
	resizer *image.Resizer
	opts    Options
	logger  *slog.Logger
}

func New(store ObjectStore, repo PostRepository, opts Options, logger *slog.Logger) *Uploader {
	if opts.DefaultUserID == 0 {
		opts.DefaultUserID = 1
	}
	if opts.DefaultUsername == "" {
		opts.DefaultUsername = "admin"
	}
	return &Uploader{
		store:   store,
		repo:    repo,
		resizer: image.NewResizer(image.OGWidth, image.OGHeight),
		opts:    opts,
		logger:  logger.With("component", "uploader"),
	}
}

func (u *Uploader) OutputKeys() []string { return outputKeys }

func (u *Uploader) Description() string {
	return "Uploads the thumbnail and images of an extracted article and saves the post. Input: the extractor output."
}

type article struct {
	Title         string            `json:"title"`
	Slug          string            `json:"slug"`
	Description   string            `json:"description"`
	Content       string            `json:"content"`
	Tags          []string          `json:"tags"`
	Categories    []string          `json:"categories"`
	Images        []extractor.Image `json:"images"`
	ThumbnailPath string            `json:"thumbnail_path"`
	Author        string            `json:"author"`
	Username      string            `json:"username"`
	Status        string            `json:"status"`
	Date          string            `json:"date"`
	WordCount     int               `json:"word_count"`
	ReadingTime   int               `json:"reading_time"`
	FilePath      string            `json:"file_path"`
	UserID        int64             `json:"-"`
}

// uploaded is one object written to the store.
type uploaded struct {
	LocalPath        string `json:"local_path"`
	Alt              string `json:"alt,omitempty"`
	OriginalFilename string `json:"original_filename"`
	StoredName       string `json:"stored_name"`
	S3Key            string `json:"s3_key"`
	CDNURL           string `json:"cdn_url"`
	ContentType      string `json:"content_type"`
	Ext              string `json:"ext"`
	FileSize         int64  `json:"file_size"`
	IsThumbnail      bool   `json:"is_thumbnail"`
}

func (u *Uploader) Execute(ctx context.Context, task models.Task) models.TaskResult {
	var a article
	if err := task.Input.Decode(&a); err != nil {
		return models.Failure(task, fmt.Sprintf("invalid article input: %v", err))
	}
	if a.Title == "" {
		return models.Failure(task, "title is required")
	}
	if a.ThumbnailPath == "" {
		return models.Failure(task, fmt.Sprintf(
			"Thumbnail image is required for post '%s'. Please add an image with the same name as the markdown file "+
				"(e.g., my-post.md → my-post.png) or use ![thumbnail](path) in content.", a.Title))
	}

	a.UserID = u.opts.DefaultUserID
	if id, ok := task.Input.GetInt("user_id"); ok && id > 0 {
		a.UserID = id
	}
	if a.Slug == "" {
		a.Slug = extractor.Slugify(a.Title)
	}

	prefix := path.Join(append(append([]string{fmt.Sprint(a.UserID)}, a.Categories...), a.Slug)...)

	scratch := task.ScratchDir
	if scratch == "" {
		dir, err := os.MkdirTemp("", "quill-upload-")
		if err != nil {
			return models.Failure(task, fmt.Sprintf("cannot create scratch directory: %v", err))
		}
		defer os.RemoveAll(dir)
		scratch = dir
	}

	thumb, err := u.uploadThumbnail(ctx, a, prefix, scratch)
	if err != nil {
		return models.Failure(task, err.Error())
	}
	u.logger.InfoContext(ctx, "thumbnail uploaded", "key", thumb.S3Key)

	images, err := u.uploadImages(ctx, a, prefix)
	if err != nil {
		return models.Failure(task, err.Error())
	}

	content := rewriteLinks(a.Content, append([]uploaded{thumb}, images...))

	status := strings.ToLower(strings.TrimSpace(a.Status))
	if !validStatuses[status] {
		if status != "" {
			u.logger.WarnContext(ctx, "invalid status, using public", "status", a.Status)
		}
		status = "public"
	}

	post := &publish.Post{
		UserID:          a.UserID,
		Slug:            a.Slug,
		Title:           a.Title,
		Content:         content,
		Description:     a.Description,
		MetaTitle:       truncate(a.Title, metaTitleLimit),
		MetaDescription: truncate(a.Description, metaDescriptionLimit),
		OGImageURL:      thumb.CDNURL,
		OGImageAlt:      a.Title + " thumbnail",
		Status:          status,
		Tags:            a.Tags,
	}

	files := make([]publish.File, 0, len(images)+1)
	for _, obj := range append([]uploaded{thumb}, images...) {
		files = append(files, publish.File{
			UserID:           a.UserID,
			ContentType:      obj.ContentType,
			Ext:              obj.Ext,
			OriginalFilename: obj.OriginalFilename,
			StoredName:       obj.StoredName,
			S3Key:            obj.S3Key,
			StoredURI:        obj.CDNURL,
			FileSize:         obj.FileSize,
			IsThumbnail:      obj.IsThumbnail,
		})
	}

	saved, err := u.repo.SavePost(ctx, post, a.Categories, files)
	if err != nil {
		return models.Failure(task, fmt.Sprintf("failed to save post %q: %v", a.Slug, err))
	}

	categoryIDs := make([]int64, 0, len(saved.Categories))
	for _, c := range saved.Categories {
		categoryIDs = append(categoryIDs, c.ID)
	}
	var categoryID any
	if post.CategoryID != nil {
		categoryID = *post.CategoryID
	}

	publishedURL := fmt.Sprintf("%s/blog/@%s/%s", strings.TrimRight(u.opts.BlogBaseURL, "/"), u.username(a), a.Slug)

	imageOut := make([]any, 0, len(images))
	for _, img := range images {
		imageOut = append(imageOut, map[string]any{
			"local_path":        img.LocalPath,
			"alt":               img.Alt,
			"original_filename": img.OriginalFilename,
			"stored_name":       img.StoredName,
			"s3_key":            img.S3Key,
			"cdn_url":           img.CDNURL,
		})
	}

	payload, err := models.PayloadFrom(uploadPayload{
		Metadata: metadata{
			Title: a.Title, Slug: a.Slug, UserID: a.UserID, Username: u.username(a),
			Description: a.Description, Status: status, Date: a.Date,
			Categories: nonNil(a.Categories), CategoryIDs: categoryIDs, CategoryID: post.CategoryID,
			Tags: nonNil(a.Tags), WordCount: a.WordCount, ReadingTime: a.ReadingTime,
			MetaTitle: post.MetaTitle, MetaDescription: post.MetaDescription,
			OGImageURL: post.OGImageURL, OGImageAlt: post.OGImageAlt,
		},
		Content:           content,
		Thumbnail:         thumb,
		Images:            images,
		CategoryHierarchy: saved.Categories,
		PublishedURL:      publishedURL,
		SourceFile:        a.FilePath,
		ProcessedAt:       time.Now().UTC(),
	})
	if err != nil {
		return models.Failure(task, err.Error())
	}

	u.logger.InfoContext(ctx, "post published",
		"article_id", saved.PostID, "slug", a.Slug, "images", len(images), "url", publishedURL)

	return models.Success(task, models.Payload{
		"article_id":     saved.PostID,
		"slug":           a.Slug,
		"title":          a.Title,
		"published_url":  publishedURL,
		"categories":     nonNil(a.Categories),
		"category_ids":   categoryIDs,
		"category_id":    categoryID,
		"image_count":    len(images) + 1,
		"images":         imageOut,
		"thumbnail_url":  thumb.CDNURL,
		"upload_payload": map[string]any(payload),
	})
}

// uploadThumbnail resizes the thumbnail to Open Graph size and stores it as
// <prefix>/<slug>.png.
func (u *Uploader) uploadThumbnail(ctx context.Context, a article, prefix, scratch string) (uploaded, error) {
	resized, err := u.resizer.Resize(a.ThumbnailPath, filepath.Join(scratch, a.Slug+".png"))
	if err != nil {
		return uploaded{}, fmt.Errorf("thumbnail: %w", err)
	}

	obj := uploaded{
		LocalPath:        a.ThumbnailPath,
		OriginalFilename: filepath.Base(a.ThumbnailPath),
		StoredName:       a.Slug + ".png",
		ContentType:      "image/png",
		Ext:              "png",
		IsThumbnail:      true,
	}
	obj.S3Key = path.Join(prefix, obj.StoredName)

	if info, err := os.Stat(resized.Path); err == nil {
		obj.FileSize = info.Size()
	}

	obj.CDNURL, err = u.store.Put(ctx, obj.S3Key, resized.Path, obj.ContentType)
	if err != nil {
		return uploaded{}, fmt.Errorf("thumbnail upload failed: %w", err)
	}
	return obj, nil
}

// uploadImages stores body images as <prefix>/<slug>-<n>.<ext>, n counting
// from 1 in document order.
func (u *Uploader) uploadImages(ctx context.Context, a article, prefix string) ([]uploaded, error) {
	out := make([]uploaded, len(a.Images))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentUploads)

	for i, img := range a.Images {
		i, img := i, img
		g.Go(func() error {
			ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(img.LocalPath)), ".")
			obj := uploaded{
				LocalPath:        img.LocalPath,
				Alt:              img.Alt,
				OriginalFilename: img.OriginalFilename,
				StoredName:       fmt.Sprintf("%s-%d.%s", a.Slug, i+1, ext),
				ContentType:      contentType(ext),
				Ext:              ext,
			}
			if obj.OriginalFilename == "" {
				obj.OriginalFilename = filepath.Base(img.LocalPath)
			}
			obj.S3Key = path.Join(prefix, obj.StoredName)

			info, err := os.Stat(img.LocalPath)
			if err != nil {
				return fmt.Errorf("image %s: %w", obj.OriginalFilename, err)
			}
			obj.FileSize = info.Size()

			obj.CDNURL, err = u.store.Put(gctx, obj.S3Key, img.LocalPath, obj.ContentType)
			if err != nil {
				return fmt.Errorf("image upload failed: %w", err)
			}
			out[i] = obj
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (u *Uploader) username(a article) string {
	if a.Username != "" {
		return a.Username
	}
	if slug := extractor.Slugify(a.Author); slug != "" {
		return slug
	}
	return u.opts.DefaultUsername
}

// rewriteLinks points every markdown image whose target's last path
// element is an uploaded file's original name at that file's public URL.
func rewriteLinks(content string, objects []uploaded) string {
	for _, obj := range objects {
		if obj.OriginalFilename == "" || obj.CDNURL == "" {
			continue
		}
		re := regexp.MustCompile(`!\[([^\]]*)\]\((?:[^)]*/)?` + regexp.QuoteMeta(obj.OriginalFilename) + `\)`)
		content = re.ReplaceAllString(content, "![${1}]("+strings.ReplaceAll(obj.CDNURL, "$", "$$")+")")
	}
	return content
}

func contentType(ext string) string {
	switch ext {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "svg":
		return "image/svg+xml"
	}
	return "application/octet-stream"
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
