package sources

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/DeafMist/news-radar/backend/internal/models"
	"github.com/DeafMist/news-radar/backend/internal/processing"
)

const newsAPIBaseURL = "https://newsapi.org/v2"

// NewsAPIClient serves every provider reached through newsapi.org. The
// variants differ in endpoint, default query and fallback labels.
type NewsAPIClient struct {
	identifier     string
	endpoint       string
	defaults       url.Values
	fallbackAuthor string
	fixedSource    string
	http           httpGetter
}

// NewNewsAPI builds the top-headlines client.
func NewNewsAPI(opts Options) *NewsAPIClient {
	return &NewsAPIClient{
		identifier: "newsapi",
		endpoint:   "top-headlines",
		defaults: url.Values{
			"apiKey":   {opts.APIKey},
			"language": {"en"},
			"pageSize": {"100"},
			"country":  {"us"},
		},
		fallbackAuthor: "NewsAPI",
		http:           newHTTPGetter("newsapi", newsAPIBaseURL, opts),
	}
}

// NewBBCNews builds the BBC client on top of the everything endpoint.
func NewBBCNews(opts Options) *NewsAPIClient {
	return &NewsAPIClient{
		identifier: "bbc-news",
		endpoint:   "everything",
		defaults: url.Values{
			"apiKey":   {opts.APIKey},
			"sources":  {"bbc-news"},
			"language": {"en"},
			"pageSize": {"100"},
			"sortBy":   {"publishedAt"},
		},
		fallbackAuthor: "BBC News",
		fixedSource:    "BBC News",
		http:           newHTTPGetter("bbc-news", newsAPIBaseURL, opts),
	}
}

// NewOpenNews builds the OpenNews client.
func NewOpenNews(opts Options) *NewsAPIClient {
	return &NewsAPIClient{
		identifier: "opennews",
		endpoint:   "top-headlines",
		defaults: url.Values{
			"apiKey":   {opts.APIKey},
			"language": {"en"},
			"pageSize": {"100"},
			"country":  {"us"},
		},
		fallbackAuthor: "OpenNews",
		http:           newHTTPGetter("opennews", newsAPIBaseURL, opts),
	}
}

func (c *NewsAPIClient) Identifier() string { return c.identifier }

type newsAPIResponse struct {
	Status   string           `json:"status"`
	Code     string           `json:"code"`
	Message  string           `json:"message"`
	Articles []newsAPIArticle `json:"articles"`
}

type newsAPIArticle struct {
	Source struct {
		Name string `json:"name"`
	} `json:"source"`
	Author      string `json:"author"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	URLToImage  string `json:"urlToImage"`
	PublishedAt string `json:"publishedAt"`
	Content     string `json:"content"`
}

func (c *NewsAPIClient) Fetch(ctx context.Context, params url.Values) ([]models.NormalizedArticle, error) {
	var resp newsAPIResponse
	if err := c.http.getJSON(ctx, c.endpoint, mergeParams(c.defaults, params), &resp); err != nil {
		return nil, err
	}
	if !strings.EqualFold(resp.Status, "ok") {
		return nil, &FetchError{
			Provider: c.identifier,
			Err:      fmt.Errorf("%w: status %q %s", ErrBadEnvelope, resp.Status, resp.Message),
		}
	}

	out := make([]models.NormalizedArticle, 0, len(resp.Articles))
	for _, a := range resp.Articles {
		out = append(out, c.normalize(a))
	}
	return out, nil
}

func (c *NewsAPIClient) normalize(a newsAPIArticle) models.NormalizedArticle {
	sourceName := c.fixedSource
	if sourceName == "" {
		sourceName = firstNonEmpty(a.Source.Name, c.fallbackAuthor)
	}
	return models.NormalizedArticle{
		Title:         strings.TrimSpace(a.Title),
		Description:   processing.StripHTML(a.Description),
		Content:       strings.TrimSpace(a.Content),
		URL:           strings.TrimSpace(a.URL),
		ImageURL:      strings.TrimSpace(a.URLToImage),
		PublishedAt:   processing.ParseTimestamp(a.PublishedAt),
		AuthorName:    firstNonEmpty(a.Author, c.fallbackAuthor),
		CategoryLabel: DefaultCategory,
		SourceName:    sourceName,
	}
}
