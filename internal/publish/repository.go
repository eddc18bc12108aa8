// Package publish persists published posts, their category hierarchy,
// tags and uploaded file records. The same SQL runs against sqlite and
// PostgreSQL.
package publish

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

var ErrPostNotFound = errors.New("post not found")

type Post struct {
	ID              int64
	UserID          int64
	Slug            string
	Title           string
	Content         string
	Description     string
	MetaTitle       string
	MetaDescription string
	OGImageURL      string
	OGImageAlt      string
	Status          string
	CategoryID      *int64
	Tags            []string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Category struct {
	ID       int64  `json:"id"`
	UserID   int64  `json:"user_id"`
	Title    string `json:"title"`
	ParentID *int64 `json:"parent_id,omitempty"`
	GroupID  int64  `json:"group_id"`
	Level    int    `json:"level"`
}

type File struct {
	UserID           int64
	PostID           int64
	ContentType      string
	Ext              string
	OriginalFilename string
	StoredName       string
	S3Key            string
	StoredURI        string
	FileSize         int64
	IsThumbnail      bool
}

// Saved describes what SavePost wrote.
type Saved struct {
	PostID     int64
	Categories []Category
}

type Repository struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
}

// OpenSQLite opens (and migrates) a sqlite publish database at path.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*Repository, error) {
	db, err := sql.Open(sqliteDialect.driver, path+"?_pragma=foreign_keys(1)&_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	return newRepository(ctx, db, sqliteDialect, logger)
}

// OpenPostgres connects to PostgreSQL and migrates the schema.
func OpenPostgres(ctx context.Context, databaseURL string, logger *slog.Logger) (*Repository, error) {
	db, err := sql.Open(postgresDialect.driver, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return newRepository(ctx, db, postgresDialect, logger)
}

func newRepository(ctx context.Context, db *sql.DB, d dialect, logger *slog.Logger) (*Repository, error) {
	r := &Repository{
		db:      db,
		dialect: d,
		logger:  logger.With("component", "publish", "dialect", d.name),
	}

	if _, err := db.ExecContext(ctx, d.schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate publish schema: %w", err)
	}

	return r, nil
}

func (r *Repository) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}
	return nil
}

// SavePost writes the post, its category path, tags and files in one
// transaction. Posts are keyed by (user_id, slug) and files by
// (post_id, stored_name), so publishing the same article twice updates it
// in place. The deepest category becomes the post's primary category.
func (r *Repository) SavePost(ctx context.Context, post *Post, categoryPath []string, files []File) (*Saved, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	categories, err := r.ensureCategories(ctx, tx, post.UserID, categoryPath, now)
	if err != nil {
		return nil, err
	}
	if len(categories) > 0 {
		leaf := categories[len(categories)-1].ID
		post.CategoryID = &leaf
	}

	postID, err := r.upsertPost(ctx, tx, post, now)
	if err != nil {
		return nil, err
	}

	if err := r.linkCategories(ctx, tx, postID, categories); err != nil {
		return nil, err
	}
	if err := r.linkTags(ctx, tx, postID, post.Tags); err != nil {
		return nil, err
	}
	for _, f := range files {
		f.PostID = postID
		if err := r.upsertFile(ctx, tx, f, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit post: %w", err)
	}

	post.ID = postID
	r.logger.InfoContext(ctx, "post saved",
		"post_id", postID, "slug", post.Slug, "categories", len(categories),
		"tags", len(post.Tags), "files", len(files))

	return &Saved{PostID: postID, Categories: categories}, nil
}

// ensureCategories makes sure every title in path exists as a chain of
// parent and child categories. Existing categories keep their place in the
// hierarchy.
func (r *Repository) ensureCategories(ctx context.Context, tx *sql.Tx, userID int64, path []string, now time.Time) ([]Category, error) {
	var (
		out    []Category
		parent *Category
	)

	for _, title := range path {
		title = strings.TrimSpace(title)
		if title == "" {
			continue
		}

		c := Category{UserID: userID, Title: title}
		var parentID, groupID any
		if parent != nil {
			parentID = parent.ID
			groupID = parent.GroupID
			c.Level = parent.Level + 1
		}

		var (
			gotParent sql.NullInt64
			gotGroup  sql.NullInt64
		)
		err := tx.QueryRowContext(ctx, r.dialect.rebind(`
			INSERT INTO categories (user_id, title, parent_id, group_id, level, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (user_id, title) DO UPDATE SET updated_at = excluded.updated_at
			RETURNING id, parent_id, group_id, level`),
			userID, title, parentID, groupID, c.Level, now, now,
		).Scan(&c.ID, &gotParent, &gotGroup, &c.Level)
		if err != nil {
			return nil, fmt.Errorf("failed to save category %q: %w", title, err)
		}

		if gotParent.Valid {
			p := gotParent.Int64
			c.ParentID = &p
		}
		if gotGroup.Valid {
			c.GroupID = gotGroup.Int64
		} else {
			// a new root category heads its own group
			if _, err := tx.ExecContext(ctx, r.dialect.rebind(
				`UPDATE categories SET group_id = ? WHERE id = ?`), c.ID, c.ID); err != nil {
				return nil, fmt.Errorf("failed to set category group: %w", err)
			}
			c.GroupID = c.ID
		}

		out = append(out, c)
		parent = &out[len(out)-1]
	}

	return out, nil
}

func (r *Repository) upsertPost(ctx context.Context, tx *sql.Tx, p *Post, now time.Time) (int64, error) {
	var categoryID any
	if p.CategoryID != nil {
		categoryID = *p.CategoryID
	}

	var id int64
	err := tx.QueryRowContext(ctx, r.dialect.rebind(`
		INSERT INTO posts (user_id, slug, title, content, description, meta_title, meta_description,
			og_image_url, og_image_alt, status, category_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, slug) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			description = excluded.description,
			meta_title = excluded.meta_title,
			meta_description = excluded.meta_description,
			og_image_url = excluded.og_image_url,
			og_image_alt = excluded.og_image_alt,
			status = excluded.status,
			category_id = excluded.category_id,
			updated_at = excluded.updated_at
		RETURNING id`),
		p.UserID, p.Slug, p.Title, p.Content, p.Description, p.MetaTitle, p.MetaDescription,
		p.OGImageURL, p.OGImageAlt, p.Status, categoryID, now, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to save post %q: %w", p.Slug, err)
	}
	return id, nil
}

func (r *Repository) linkCategories(ctx context.Context, tx *sql.Tx, postID int64, categories []Category) error {
	if _, err := tx.ExecContext(ctx, r.dialect.rebind(
		`DELETE FROM post_categories WHERE post_id = ?`), postID); err != nil {
		return fmt.Errorf("failed to clear post categories: %w", err)
	}

	for _, c := range categories {
		if _, err := tx.ExecContext(ctx, r.dialect.rebind(
			`INSERT INTO post_categories (post_id, category_id) VALUES (?, ?)
			 ON CONFLICT DO NOTHING`), postID, c.ID); err != nil {
			return fmt.Errorf("failed to link category %q: %w", c.Title, err)
		}
	}
	return nil
}

func (r *Repository) linkTags(ctx context.Context, tx *sql.Tx, postID int64, tags []string) error {
	if _, err := tx.ExecContext(ctx, r.dialect.rebind(
		`DELETE FROM post_tags WHERE post_id = ?`), postID); err != nil {
		return fmt.Errorf("failed to clear post tags: %w", err)
	}

	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, r.dialect.rebind(
			`INSERT INTO tags (title) VALUES (?) ON CONFLICT (title) DO NOTHING`), tag); err != nil {
			return fmt.Errorf("failed to save tag %q: %w", tag, err)
		}
		if _, err := tx.ExecContext(ctx, r.dialect.rebind(
			`INSERT INTO post_tags (post_id, tag_title) VALUES (?, ?) ON CONFLICT DO NOTHING`), postID, tag); err != nil {
			return fmt.Errorf("failed to link tag %q: %w", tag, err)
		}
	}
	return nil
}

func (r *Repository) upsertFile(ctx context.Context, tx *sql.Tx, f File, now time.Time) error {
	_, err := tx.ExecContext(ctx, r.dialect.rebind(`
		INSERT INTO files (user_id, post_id, content_type, ext, original_filename, stored_name,
			s3_key, stored_uri, file_size, is_thumbnail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (post_id, stored_name) DO UPDATE SET
			content_type = excluded.content_type,
			ext = excluded.ext,
			original_filename = excluded.original_filename,
			s3_key = excluded.s3_key,
			stored_uri = excluded.stored_uri,
			file_size = excluded.file_size,
			is_thumbnail = excluded.is_thumbnail`),
		f.UserID, f.PostID, f.ContentType, f.Ext, f.OriginalFilename, f.StoredName,
		f.S3Key, f.StoredURI, f.FileSize, f.IsThumbnail, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save file %q: %w", f.StoredName, err)
	}
	return nil
}

// GetPost loads a post with its tags.
func (r *Repository) GetPost(ctx context.Context, userID int64, slug string) (*Post, error) {
	var (
		p          Post
		categoryID sql.NullInt64
		desc       sql.NullString
		metaTitle  sql.NullString
		metaDesc   sql.NullString
		ogURL      sql.NullString
		ogAlt      sql.NullString
	)
	err := r.db.QueryRowContext(ctx, r.dialect.rebind(`
		SELECT id, user_id, slug, title, content, description, meta_title, meta_description,
			og_image_url, og_image_alt, status, category_id, created_at, updated_at
		FROM posts WHERE user_id = ? AND slug = ?`), userID, slug,
	).Scan(&p.ID, &p.UserID, &p.Slug, &p.Title, &p.Content, &desc, &metaTitle, &metaDesc,
		&ogURL, &ogAlt, &p.Status, &categoryID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load post %q: %w", slug, err)
	}

	p.Description = desc.String
	p.MetaTitle = metaTitle.String
	p.MetaDescription = metaDesc.String
	p.OGImageURL = ogURL.String
	p.OGImageAlt = ogAlt.String
	if categoryID.Valid {
		id := categoryID.Int64
		p.CategoryID = &id
	}

	rows, err := r.db.QueryContext(ctx, r.dialect.rebind(
		`SELECT tag_title FROM post_tags WHERE post_id = ? ORDER BY tag_title`), p.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		p.Tags = append(p.Tags, tag)
	}

	return &p, rows.Err()
}

// PostFiles lists the files stored for a post, thumbnail first.
func (r *Repository) PostFiles(ctx context.Context, postID int64) ([]File, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.rebind(`
		SELECT user_id, post_id, content_type, ext, original_filename, stored_name,
			s3_key, stored_uri, file_size, is_thumbnail
		FROM files WHERE post_id = ?
		ORDER BY is_thumbnail DESC, stored_name`), postID)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	var files []File
	for rows.Next() {
		var (
			f           File
			userID      sql.NullInt64
			contentType sql.NullString
			ext         sql.NullString
			key         sql.NullString
			size        sql.NullInt64
		)
		if err := rows.Scan(&userID, &f.PostID, &contentType, &ext, &f.OriginalFilename,
			&f.StoredName, &key, &f.StoredURI, &size, &f.IsThumbnail); err != nil {
			return nil, err
		}
		f.UserID = userID.Int64
		f.ContentType = contentType.String
		f.Ext = ext.String
		f.S3Key = key.String
		f.FileSize = size.Int64
		files = append(files, f)
	}

	return files, rows.Err()
}

// Categories lists a user's categories ordered by group and depth.
func (r *Repository) Categories(ctx context.Context, userID int64) ([]Category, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.rebind(`
		SELECT id, user_id, title, parent_id, group_id, level
		FROM categories WHERE user_id = ?
		ORDER BY group_id, level, priority, title`), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var out []Category
	for rows.Next() {
		var (
			c        Category
			parentID sql.NullInt64
			groupID  sql.NullInt64
		)
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &parentID, &groupID, &c.Level); err != nil {
			return nil, err
		}
		if parentID.Valid {
			p := parentID.Int64
			c.ParentID = &p
		}
		c.GroupID = groupID.Int64
		out = append(out, c)
	}

	return out, rows.Err()
}
