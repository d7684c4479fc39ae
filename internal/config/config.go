package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultProviders is the provider order used when PROVIDERS is unset.
var DefaultProviders = []string{"newsapi", "the-guardian", "nytimes", "bbc-news", "opennews"}

// Common contains storage and sink parameters shared by every service.
type Common struct {
	DatabasePath       string
	ElasticsearchAddr  string
	ElasticsearchIndex string
	KafkaBrokers       []string
	KafkaTopic         string
}

// SearchEnabled reports whether an Elasticsearch address was configured.
func (c Common) SearchEnabled() bool { return c.ElasticsearchAddr != "" }

// EventsEnabled reports whether Kafka brokers were configured.
func (c Common) EventsEnabled() bool { return len(c.KafkaBrokers) > 0 }

// Provider holds the credentials and endpoint of one news API.
type Provider struct {
	Name    string
	APIKey  string
	BaseURL string
}

// Aggregator holds configuration for the ingestion pipeline.
type Aggregator struct {
	Common
	Providers        []Provider
	ProviderTimeout  time.Duration
	FetchConcurrency int
	RunTimeout       time.Duration
	Interval         time.Duration
	DedupeCapacity   int
	DedupeTTL        time.Duration
	KeywordLimit     int
	KeywordMinLength int
}

// Provider returns the configuration for name, if it is listed.
func (c *Aggregator) Provider(name string) (Provider, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return Provider{}, false
}

// API describes HTTP-layer configuration.
type API struct {
	Aggregator
	BindAddr    string
	DefaultPage int
	MaxPage     int
}

// Retention configures the search-index cleanup loop.
type Retention struct {
	Common
	Interval  time.Duration
	MaxAge    time.Duration
	BatchSize int
}

func loadCommon() Common {
	return Common{
		DatabasePath:       getEnv("DATABASE_PATH", "news.db"),
		ElasticsearchAddr:  getEnv("ELASTICSEARCH_ADDR", ""),
		ElasticsearchIndex: getEnv("ELASTICSEARCH_INDEX", "articles"),
		KafkaBrokers:       splitAndTrim(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:         getEnv("KAFKA_TOPIC", "articles_ingested"),
	}
}

// LoadAggregator builds an Aggregator config from environment variables.
func LoadAggregator() (*Aggregator, error) {
	newsAPIKey := getEnv("NEWSAPI_API_KEY", "")
	keys := map[string]string{
		"newsapi":      newsAPIKey,
		"the-guardian": getEnv("GUARDIAN_API_KEY", ""),
		"nytimes":      getEnv("NYTIMES_API_KEY", ""),
		"bbc-news":     newsAPIKey,
		"opennews":     getEnv("OPENNEWS_API_KEY", newsAPIKey),
	}

	names := splitAndTrim(getEnv("PROVIDERS", strings.Join(DefaultProviders, ",")))
	providers := make([]Provider, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		name = strings.ToLower(name)
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		providers = append(providers, Provider{
			Name:    name,
			APIKey:  keys[name],
			BaseURL: getEnv(envName(name)+"_BASE_URL", ""),
		})
	}

	c := &Aggregator{
		Common:           loadCommon(),
		Providers:        providers,
		ProviderTimeout:  getDuration("PROVIDER_TIMEOUT", "30s"),
		FetchConcurrency: getInt("AGGREGATOR_FETCH_CONCURRENCY", 0),
		RunTimeout:       getDuration("AGGREGATOR_RUN_TIMEOUT", "10m"),
		Interval:         getDuration("AGGREGATOR_INTERVAL", "1h"),
		DedupeCapacity:   getInt("AGGREGATOR_DEDUPE_CAPACITY", 20000),
		DedupeTTL:        getDuration("AGGREGATOR_DEDUPE_TTL", "24h"),
		KeywordLimit:     getInt("AGGREGATOR_KEYWORD_LIMIT", 8),
		KeywordMinLength: getInt("AGGREGATOR_KEYWORD_MIN_LEN", 4),
	}

	if c.DatabasePath == "" {
		return nil, fmt.Errorf("DATABASE_PATH must not be empty")
	}
	if c.ProviderTimeout <= 0 {
		return nil, fmt.Errorf("PROVIDER_TIMEOUT must be positive")
	}
	if c.FetchConcurrency < 0 {
		return nil, fmt.Errorf("AGGREGATOR_FETCH_CONCURRENCY cannot be negative")
	}
	if c.RunTimeout <= 0 {
		return nil, fmt.Errorf("AGGREGATOR_RUN_TIMEOUT must be positive")
	}
	if c.Interval <= 0 {
		return nil, fmt.Errorf("AGGREGATOR_INTERVAL must be positive")
	}
	if c.DedupeCapacity <= 0 {
		return nil, fmt.Errorf("AGGREGATOR_DEDUPE_CAPACITY must be positive")
	}
	if c.KeywordLimit <= 0 {
		return nil, fmt.Errorf("AGGREGATOR_KEYWORD_LIMIT must be positive")
	}
	if c.KeywordMinLength < 0 {
		return nil, fmt.Errorf("AGGREGATOR_KEYWORD_MIN_LEN cannot be negative")
	}

	return c, nil
}

// LoadAPI builds an API config from environment variables. The API embeds
// the aggregator settings because it can trigger runs.
func LoadAPI() (*API, error) {
	agg, err := LoadAggregator()
	if err != nil {
		return nil, err
	}

	c := &API{
		Aggregator:  *agg,
		BindAddr:    getEnv("API_BIND_ADDR", "0.0.0.0:8080"),
		DefaultPage: getInt("API_PAGE_SIZE", 15),
		MaxPage:     getInt("API_MAX_PAGE_SIZE", 100),
	}

	if c.DefaultPage <= 0 {
		return nil, fmt.Errorf("API_PAGE_SIZE must be positive")
	}
	if c.MaxPage <= 0 || c.MaxPage > 100 {
		return nil, fmt.Errorf("API_MAX_PAGE_SIZE must be between 1 and 100")
	}
	if c.DefaultPage > c.MaxPage {
		return nil, fmt.Errorf("API_PAGE_SIZE cannot exceed API_MAX_PAGE_SIZE")
	}

	return c, nil
}

// LoadRetention builds a Retention config from environment variables.
func LoadRetention() (*Retention, error) {
	c := &Retention{
		Common:    loadCommon(),
		Interval:  getDuration("RETENTION_CRON", "24h"),
		MaxAge:    getDuration("RETENTION_MAX_AGE", "720h"),
		BatchSize: getInt("RETENTION_BATCH_SIZE", 500),
	}

	if !c.SearchEnabled() {
		return nil, fmt.Errorf("ELASTICSEARCH_ADDR is required for retention")
	}
	if c.MaxAge <= 0 {
		return nil, fmt.Errorf("RETENTION_MAX_AGE must be positive")
	}
	if c.Interval <= 0 {
		return nil, fmt.Errorf("RETENTION_CRON must be positive")
	}
	if c.BatchSize <= 0 {
		return nil, fmt.Errorf("RETENTION_BATCH_SIZE must be positive")
	}

	return c, nil
}

// envName maps a provider identifier to its env prefix: the-guardian -> THE_GUARDIAN.
func envName(provider string) string {
	return strings.ToUpper(strings.ReplaceAll(provider, "-", "_"))
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key, fallback string) time.Duration {
	raw := getEnv(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil {
		fd, ferr := time.ParseDuration(fallback)
		if ferr != nil {
			panic(fmt.Sprintf("invalid fallback duration %q: %v", fallback, ferr))
		}
		return fd
	}
	return d
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
