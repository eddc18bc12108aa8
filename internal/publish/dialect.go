package publish

import (
	"strconv"
	"strings"
)

// dialect covers the differences between sqlite and PostgreSQL that the
// repository's SQL runs into. Queries are written with ? placeholders and
// rebound per dialect.
type dialect struct {
	name   string
	driver string
	schema string
}

var sqliteDialect = dialect{
	name:   "sqlite",
	driver: "sqlite",
	schema: `
	CREATE TABLE IF NOT EXISTS categories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		title TEXT NOT NULL,
		parent_id INTEGER REFERENCES categories(id) ON DELETE CASCADE,
		group_id INTEGER,
		level INTEGER NOT NULL DEFAULT 0,
		priority INTEGER NOT NULL DEFAULT 100,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE(user_id, title)
	);

	CREATE TABLE IF NOT EXISTS posts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		slug TEXT NOT NULL,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		description TEXT,
		meta_title TEXT,
		meta_description TEXT,
		og_image_url TEXT,
		og_image_alt TEXT,
		status TEXT NOT NULL DEFAULT 'public',
		category_id INTEGER REFERENCES categories(id),
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE(user_id, slug)
	);

	CREATE TABLE IF NOT EXISTS post_categories (
		post_id INTEGER NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
		category_id INTEGER NOT NULL REFERENCES categories(id) ON DELETE CASCADE,
		PRIMARY KEY (post_id, category_id)
	);

	CREATE TABLE IF NOT EXISTS tags (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS post_tags (
		post_id INTEGER NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
		tag_title TEXT NOT NULL,
		PRIMARY KEY (post_id, tag_title)
	);

	CREATE TABLE IF NOT EXISTS files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER,
		post_id INTEGER NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
		content_type TEXT,
		ext TEXT,
		original_filename TEXT NOT NULL,
		stored_name TEXT NOT NULL,
		s3_key TEXT,
		stored_uri TEXT NOT NULL,
		file_size INTEGER,
		is_thumbnail INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(post_id, stored_name)
	);

	CREATE INDEX IF NOT EXISTS idx_posts_user_id ON posts(user_id);
	CREATE INDEX IF NOT EXISTS idx_categories_parent_id ON categories(parent_id);
	CREATE INDEX IF NOT EXISTS idx_files_post_id ON files(post_id);
	`,
}

var postgresDialect = dialect{
	name:   "postgres",
	driver: "postgres",
	schema: `
	CREATE TABLE IF NOT EXISTS categories (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		title VARCHAR(100) NOT NULL,
		parent_id BIGINT REFERENCES categories(id) ON DELETE CASCADE,
		group_id BIGINT,
		level INT NOT NULL DEFAULT 0,
		priority INT NOT NULL DEFAULT 100,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
		UNIQUE(user_id, title)
	);

	CREATE TABLE IF NOT EXISTS posts (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		slug VARCHAR(255) NOT NULL,
		title VARCHAR(255) NOT NULL,
		content TEXT NOT NULL,
		description TEXT,
		meta_title VARCHAR(70),
		meta_description VARCHAR(170),
		og_image_url TEXT,
		og_image_alt TEXT,
		status VARCHAR(20) NOT NULL DEFAULT 'public' CHECK (status IN ('public', 'private', 'follower')),
		category_id BIGINT REFERENCES categories(id),
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
		UNIQUE(user_id, slug)
	);

	CREATE TABLE IF NOT EXISTS post_categories (
		post_id BIGINT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
		category_id BIGINT NOT NULL REFERENCES categories(id) ON DELETE CASCADE,
		PRIMARY KEY (post_id, category_id)
	);

	CREATE TABLE IF NOT EXISTS tags (
		id BIGSERIAL PRIMARY KEY,
		title VARCHAR(50) NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS post_tags (
		post_id BIGINT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
		tag_title VARCHAR(50) NOT NULL,
		PRIMARY KEY (post_id, tag_title)
	);

	CREATE TABLE IF NOT EXISTS files (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT,
		post_id BIGINT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
		content_type VARCHAR(100),
		ext VARCHAR(30),
		original_filename VARCHAR(255) NOT NULL,
		stored_name VARCHAR(255) NOT NULL,
		s3_key TEXT,
		stored_uri TEXT NOT NULL,
		file_size BIGINT,
		is_thumbnail BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		UNIQUE(post_id, stored_name)
	);

	CREATE INDEX IF NOT EXISTS idx_posts_user_id ON posts(user_id);
	CREATE INDEX IF NOT EXISTS idx_categories_parent_id ON categories(parent_id);
	CREATE INDEX IF NOT EXISTS idx_files_post_id ON files(post_id);
	`,
}

// rebind rewrites ? placeholders to $1, $2, ... for PostgreSQL.
func (d dialect) rebind(query string) string {
	if d.name != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
