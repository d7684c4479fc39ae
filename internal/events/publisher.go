// Package events publishes pipeline outcomes to Kafka: one event per saved
// article and a dead-letter record per article that failed to persist.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/news-radar/backend/internal/models"
)

// ArticleIngestedType is the event type of a saved article.
const ArticleIngestedType = "article.ingested"

// MessageWriter is the subset of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ArticleIngested is the payload written for every saved article.
type ArticleIngested struct {
	Type        string    `json:"type"`
	RunID       string    `json:"run_id"`
	ArticleID   int64     `json:"article_id"`
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	SourceID    int64     `json:"source_id"`
	AuthorID    *int64    `json:"author_id,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// DeadLetter describes an article the pipeline could not persist.
type DeadLetter struct {
	Provider string
	RunID    string
	Article  models.NormalizedArticle
	Err      error
}

type deadLetterPayload struct {
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Content       string    `json:"content"`
	URL           string    `json:"url"`
	ImageURL      string    `json:"image_url"`
	PublishedAt   time.Time `json:"published_at"`
	AuthorName    string    `json:"author_name"`
	CategoryLabel string    `json:"category"`
	SourceName    string    `json:"source_name"`
}

// Publisher writes events and dead letters.
type Publisher struct {
	events     MessageWriter
	dlq        MessageWriter
	log        *slog.Logger
	now        func() time.Time
	newBackOff func() backoff.BackOff
}

// Option customizes a Publisher.
type Option func(*Publisher)

// WithBackOff replaces the dead-letter retry policy.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(p *Publisher) { p.newBackOff = fn }
}

// New wires a publisher around two writers.
func New(events, dlq MessageWriter, logger *slog.Logger, opts ...Option) *Publisher {
	p := &Publisher{
		events:     events,
		dlq:        dlq,
		log:        logger,
		now:        func() time.Time { return time.Now().UTC() },
		newBackOff: defaultBackOff,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewKafka builds a publisher writing to topic and topic+"_dlq".
func NewKafka(brokers []string, topic string, logger *slog.Logger, opts ...Option) *Publisher {
	events := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
	}
	dlq := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        DLQTopic(topic),
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
	}
	return New(events, dlq, logger, opts...)
}

// DLQTopic returns the dead-letter topic paired with topic.
func DLQTopic(topic string) string { return topic + "_dlq" }

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 16 * time.Second
	return backoff.WithMaxRetries(b, 4)
}

// ArticleIngested publishes the saved article keyed by its URL.
func (p *Publisher) ArticleIngested(ctx context.Context, runID string, a models.Article) error {
	value, err := json.Marshal(ArticleIngested{
		Type:        ArticleIngestedType,
		RunID:       runID,
		ArticleID:   a.ID,
		Slug:        a.Slug,
		Title:       a.Title,
		URL:         a.URL,
		SourceID:    a.SourceID,
		AuthorID:    a.AuthorID,
		PublishedAt: a.PublishedAt,
		OccurredAt:  p.now(),
	})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(a.URL),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ArticleIngestedType)},
			{Key: "run_id", Value: []byte(runID)},
		},
	}
	if err := p.events.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", ArticleIngestedType, err)
	}
	return nil
}

// DeadLetter writes the failed article with its error context, retrying
// with backoff until the policy gives up or ctx ends.
func (p *Publisher) DeadLetter(ctx context.Context, dl DeadLetter) error {
	value, err := json.Marshal(deadLetterPayload{
		Title:         dl.Article.Title,
		Description:   dl.Article.Description,
		Content:       dl.Article.Content,
		URL:           dl.Article.URL,
		ImageURL:      dl.Article.ImageURL,
		PublishedAt:   dl.Article.PublishedAt,
		AuthorName:    dl.Article.AuthorName,
		CategoryLabel: dl.Article.CategoryLabel,
		SourceName:    dl.Article.SourceName,
	})
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}

	errText := ""
	if dl.Err != nil {
		errText = dl.Err.Error()
	}
	msg := kafka.Message{
		Key:   []byte(strings.TrimSpace(dl.Article.URL)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "provider", Value: []byte(dl.Provider)},
			{Key: "run_id", Value: []byte(dl.RunID)},
			{Key: "error", Value: []byte(errText)},
			{Key: "timestamp", Value: []byte(p.now().Format(time.RFC3339))},
		},
	}

	attempt := 0
	op := func() error {
		attempt++
		if err := p.dlq.WriteMessages(ctx, msg); err != nil {
			p.log.Warn("dlq write failed, retrying",
				slog.Any("err", err),
				slog.Int("attempt", attempt),
				slog.String("url", dl.Article.URL),
			)
			return err
		}
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(p.newBackOff(), ctx)); err != nil {
		return fmt.Errorf("write dead letter after %d attempts: %w", attempt, err)
	}
	p.log.Info("article sent to dlq",
		slog.String("provider", dl.Provider),
		slog.String("url", dl.Article.URL),
		slog.Int("attempt", attempt),
	)
	return nil
}

// Close flushes and closes both writers.
func (p *Publisher) Close() error {
	evErr := p.events.Close()
	dlqErr := p.dlq.Close()
	if evErr != nil {
		return evErr
	}
	return dlqErr
}

// Noop discards everything. It stands in when no brokers are configured.
type Noop struct{}

func (Noop) ArticleIngested(context.Context, string, models.Article) error { return nil }
func (Noop) DeadLetter(context.Context, DeadLetter) error                  { return nil }
func (Noop) Close() error                                                  { return nil }
