// Package seed loads the reference data (sources and categories) the
// pipeline reads but never writes.
package seed

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/DeafMist/news-radar/backend/internal/models"
	"github.com/DeafMist/news-radar/backend/internal/processing"
)

//go:embed default.yaml
var defaultDocument []byte

// Document is the YAML seed file.
type Document struct {
	Sources    []Source   `yaml:"sources"`
	Categories []Category `yaml:"categories"`
}

// Source is one seeded provider. Slug defaults to APIIdentifier.
type Source struct {
	Name          string `yaml:"name"`
	Slug          string `yaml:"slug"`
	APIIdentifier string `yaml:"api_identifier"`
	URL           string `yaml:"url"`
	Description   string `yaml:"description"`
	Inactive      bool   `yaml:"inactive"`
}

// Category is one seeded category. Slug defaults to the slugified name and
// Description to "News about <name>".
type Category struct {
	Name        string `yaml:"name"`
	Slug        string `yaml:"slug"`
	Description string `yaml:"description"`
	Inactive    bool   `yaml:"inactive"`
}

// Store receives the seeded rows.
type Store interface {
	UpsertSource(ctx context.Context, src models.Source) (models.Source, error)
	UpsertCategory(ctx context.Context, c models.Category) (models.Category, error)
}

// Result counts applied rows.
type Result struct {
	Sources    int
	Categories int
}

// Default returns the embedded seed document.
func Default() (Document, error) {
	return Parse(bytes.NewReader(defaultDocument))
}

// LoadFile reads a seed document from disk.
func LoadFile(path string) (Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return Document{}, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes and validates a seed document.
func Parse(r io.Reader) (Document, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("decode seed: %w", err)
	}
	if err := doc.normalize(); err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (d *Document) normalize() error {
	seen := make(map[string]bool)
	for i := range d.Sources {
		s := &d.Sources[i]
		s.Name = strings.TrimSpace(s.Name)
		s.APIIdentifier = strings.TrimSpace(s.APIIdentifier)
		if s.Name == "" || s.APIIdentifier == "" {
			return fmt.Errorf("seed source %d: name and api_identifier are required", i)
		}
		if seen[s.APIIdentifier] {
			return fmt.Errorf("seed source %q listed twice", s.APIIdentifier)
		}
		seen[s.APIIdentifier] = true
		if s.Slug == "" {
			s.Slug = processing.Slugify(s.APIIdentifier)
		}
	}

	slugs := make(map[string]bool)
	for i := range d.Categories {
		c := &d.Categories[i]
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" {
			return fmt.Errorf("seed category %d: name is required", i)
		}
		if c.Slug == "" {
			c.Slug = processing.Slugify(c.Name)
		}
		if slugs[c.Slug] {
			return fmt.Errorf("seed category slug %q listed twice", c.Slug)
		}
		slugs[c.Slug] = true
		if c.Description == "" {
			c.Description = "News about " + c.Name
		}
	}
	return nil
}

// Apply upserts every source and category in doc.
func Apply(ctx context.Context, store Store, doc Document) (Result, error) {
	var res Result
	for _, s := range doc.Sources {
		if _, err := store.UpsertSource(ctx, models.Source{
			Name:          s.Name,
			Slug:          s.Slug,
			APIIdentifier: s.APIIdentifier,
			URL:           s.URL,
			Description:   s.Description,
			IsActive:      !s.Inactive,
		}); err != nil {
			return res, err
		}
		res.Sources++
	}
	for _, c := range doc.Categories {
		if _, err := store.UpsertCategory(ctx, models.Category{
			Name:        c.Name,
			Slug:        c.Slug,
			Description: c.Description,
			IsActive:    !c.Inactive,
		}); err != nil {
			return res, err
		}
		res.Categories++
	}
	return res, nil
}
