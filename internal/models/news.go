package models

import "time"

// Source is a news provider row. Sources are reference data: the pipeline
// only looks them up by APIIdentifier.
type Source struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Slug          string `json:"slug"`
	APIIdentifier string `json:"api_identifier"`
	URL           string `json:"url,omitempty"`
	Description   string `json:"description,omitempty"`
	IsActive      bool   `json:"is_active"`
}

// Author is identified by the exact (Name, Email) pair. An absent email is
// stored as the empty string.
type Author struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Category is matched by Slug; the pipeline never creates categories.
type Category struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description,omitempty"`
	IsActive    bool   `json:"is_active"`
}

// NormalizedArticle is the canonical shape every provider response is mapped
// into. It is built once per fetch and passed down the pipeline by value.
type NormalizedArticle struct {
	Title         string
	Description   string
	Content       string
	URL           string
	ImageURL      string
	PublishedAt   time.Time // zero when the provider omitted it
	AuthorName    string
	CategoryLabel string
	SourceName    string
}

// Article is a persisted article. URL is globally unique.
type Article struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Slug        string     `json:"slug"`
	Description string     `json:"description"`
	Content     string     `json:"content"`
	URL         string     `json:"url"`
	ImageURL    string     `json:"image_url,omitempty"`
	SourceID    int64      `json:"source_id"`
	AuthorID    *int64     `json:"author_id,omitempty"`
	PublishedAt time.Time  `json:"published_at"`
	CreatedAt   time.Time  `json:"created_at"`
	Source      *Source    `json:"source,omitempty"`
	Author      *Author    `json:"author,omitempty"`
	Categories  []Category `json:"categories,omitempty"`
}

// UserPreference holds the id sets a personalized feed filters by.
type UserPreference struct {
	UserID              int64   `json:"user_id"`
	PreferredSources    []int64 `json:"preferred_sources"`
	PreferredCategories []int64 `json:"preferred_categories"`
	PreferredAuthors    []int64 `json:"preferred_authors"`
}

// ArticleDocument is the search-index projection of a stored article.
type ArticleDocument struct {
	ID          string    `json:"id"`
	ArticleID   int64     `json:"article_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Content     string    `json:"content"`
	URL         string    `json:"url"`
	ImageURL    string    `json:"image_url,omitempty"`
	Source      string    `json:"source"`
	Author      string    `json:"author,omitempty"`
	Categories  []string  `json:"categories,omitempty"`
	Keywords    []string  `json:"keywords"`
	PublishedAt time.Time `json:"published_at"`
}
