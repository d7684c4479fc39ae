package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/DeafMist/news-radar/backend/internal/models"
	"github.com/DeafMist/news-radar/backend/internal/processing"
)

const (
	nytimesBaseURL  = "https://api.nytimes.com/svc/search/v2"
	nytimesImageURL = "https://www.nytimes.com/"
)

// NYTimesClient queries the New York Times article search API.
type NYTimesClient struct {
	defaults url.Values
	http     httpGetter
}

// NewNYTimes builds a New York Times client.
func NewNYTimes(opts Options) *NYTimesClient {
	return &NYTimesClient{
		defaults: url.Values{
			"api-key": {opts.APIKey},
			"sort":    {"newest"},
		},
		http: newHTTPGetter("nytimes", nytimesBaseURL, opts),
	}
}

func (c *NYTimesClient) Identifier() string { return "nytimes" }

type nytimesResponse struct {
	Status   string `json:"status"`
	Response struct {
		Docs []nytimesDoc `json:"docs"`
	} `json:"response"`
}

type nytimesDoc struct {
	Abstract      string `json:"abstract"`
	LeadParagraph string `json:"lead_paragraph"`
	WebURL        string `json:"web_url"`
	PubDate       string `json:"pub_date"`
	SectionName   string `json:"section_name"`
	Headline      struct {
		Main string `json:"main"`
	} `json:"headline"`
	Byline struct {
		Original string `json:"original"`
	} `json:"byline"`
	Multimedia nytimesMultimedia `json:"multimedia"`
}

type nytimesMedia struct {
	URL string `json:"url"`
}

type nytimesMultimedia []nytimesMedia

// UnmarshalJSON tolerates the object form newer API versions return, which
// carries no relative image path.
func (m *nytimesMultimedia) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if !strings.HasPrefix(trimmed, "[") {
		*m = nil
		return nil
	}
	var items []nytimesMedia
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*m = items
	return nil
}

func (c *NYTimesClient) Fetch(ctx context.Context, params url.Values) ([]models.NormalizedArticle, error) {
	var resp nytimesResponse
	if err := c.http.getJSON(ctx, "articlesearch.json", mergeParams(c.defaults, params), &resp); err != nil {
		return nil, err
	}
	if resp.Status != "OK" {
		return nil, &FetchError{
			Provider: c.Identifier(),
			Err:      fmt.Errorf("%w: status %q", ErrBadEnvelope, resp.Status),
		}
	}

	out := make([]models.NormalizedArticle, 0, len(resp.Response.Docs))
	for _, d := range resp.Response.Docs {
		out = append(out, models.NormalizedArticle{
			Title:         strings.TrimSpace(d.Headline.Main),
			Description:   processing.StripHTML(d.Abstract),
			Content:       strings.TrimSpace(d.LeadParagraph),
			URL:           strings.TrimSpace(d.WebURL),
			ImageURL:      nytimesImage(d.Multimedia),
			PublishedAt:   processing.ParseTimestamp(d.PubDate),
			AuthorName:    firstNonEmpty(d.Byline.Original, "New York Times"),
			CategoryLabel: firstNonEmpty(d.SectionName, DefaultCategory),
			SourceName:    "New York Times",
		})
	}
	return out, nil
}

func nytimesImage(media nytimesMultimedia) string {
	if len(media) == 0 {
		return ""
	}
	path := strings.TrimSpace(media[0].URL)
	switch {
	case path == "":
		return ""
	case strings.HasPrefix(path, "http://"), strings.HasPrefix(path, "https://"):
		return path
	default:
		return nytimesImageURL + strings.TrimLeft(path, "/")
	}
}
