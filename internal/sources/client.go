// Package sources implements one client per external news API. Every client
// maps its provider's response into models.NormalizedArticle.
package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/DeafMist/news-radar/backend/internal/models"
)

const userAgent = "news-radar-aggregator/1.0"

// DefaultCategory is the label used when a provider has no section field.
const DefaultCategory = "General"

// ErrBadEnvelope is wrapped by FetchError when a provider answered 2xx but the
// body was not the expected envelope or reported a non-ok status.
var ErrBadEnvelope = errors.New("unexpected response envelope")

// Client fetches and normalizes articles from one provider.
type Client interface {
	// Identifier matches sources.api_identifier.
	Identifier() string
	// Fetch returns the provider's current articles. params override the
	// client's default query parameters. A failed call returns no articles
	// and a *FetchError.
	Fetch(ctx context.Context, params url.Values) ([]models.NormalizedArticle, error)
}

// FetchError reports a failed provider call. StatusCode is zero when no
// HTTP response was received.
type FetchError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Provider, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Options configures a provider client.
type Options struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

type httpGetter struct {
	provider string
	baseURL  string
	client   *http.Client
}

func newHTTPGetter(provider, defaultBase string, opts Options) httpGetter {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = defaultBase
	}
	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return httpGetter{provider: provider, baseURL: base, client: client}
}

// getJSON issues GET {base}/{endpoint}?query and decodes the body into out.
func (g httpGetter) getJSON(ctx context.Context, endpoint string, query url.Values, out any) error {
	endpointURL := g.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	if encoded := query.Encode(); encoded != "" {
		endpointURL += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpointURL, nil)
	if err != nil {
		return &FetchError{Provider: g.provider, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		return &FetchError{Provider: g.provider, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &FetchError{
			Provider:   g.provider,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status: %s", strings.TrimSpace(string(snippet))),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &FetchError{Provider: g.provider, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %w", ErrBadEnvelope, err)}
	}
	return nil
}

// mergeParams returns defaults with every key in overrides replacing it.
func mergeParams(defaults, overrides url.Values) url.Values {
	out := make(url.Values, len(defaults)+len(overrides))
	for k, v := range defaults {
		out[k] = append([]string(nil), v...)
	}
	for k, v := range overrides {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
