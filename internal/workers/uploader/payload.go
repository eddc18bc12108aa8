package uploader

import (
	"time"

	"github.com/mpataki/quill/internal/publish"
)

// uploadPayload is the full record of a publish, kept in the run output for
// inspection.
type uploadPayload struct {
	Metadata          metadata           `json:"metadata"`
	Content           string             `json:"content"`
	Thumbnail         uploaded           `json:"thumbnail"`
	Images            []uploaded         `json:"images"`
	CategoryHierarchy []publish.Category `json:"category_hierarchy"`
	PublishedURL      string             `json:"published_url"`
	SourceFile        string             `json:"source_file,omitempty"`
	ProcessedAt       time.Time          `json:"processed_at"`
}

type metadata struct {
	Title           string   `json:"title"`
	Slug            string   `json:"slug"`
	UserID          int64    `json:"user_id"`
	Username        string   `json:"username"`
	Description     string   `json:"description,omitempty"`
	Status          string   `json:"status"`
	Date            string   `json:"date,omitempty"`
	Categories      []string `json:"categories"`
	CategoryIDs     []int64  `json:"category_ids"`
	CategoryID      *int64   `json:"category_id,omitempty"`
	Tags            []string `json:"tags"`
	WordCount       int      `json:"word_count,omitempty"`
	ReadingTime     int      `json:"reading_time,omitempty"`
	MetaTitle       string   `json:"meta_title"`
	MetaDescription string   `json:"meta_description,omitempty"`
	OGImageURL      string   `json:"og_image_url"`
	OGImageAlt      string   `json:"og_image_alt"`
}
