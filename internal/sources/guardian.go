package sources

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/DeafMist/news-radar/backend/internal/models"
	"github.com/DeafMist/news-radar/backend/internal/processing"
)

const guardianBaseURL = "https://content.guardianapis.com"

// GuardianClient queries the Guardian content API search endpoint.
type GuardianClient struct {
	defaults url.Values
	http     httpGetter
}

// NewGuardian builds a Guardian client.
func NewGuardian(opts Options) *GuardianClient {
	return &GuardianClient{
		defaults: url.Values{
			"api-key":     {opts.APIKey},
			"page-size":   {"50"},
			"show-fields": {"thumbnail,trailText,body,byline"},
			"order-by":    {"newest"},
		},
		http: newHTTPGetter("the-guardian", guardianBaseURL, opts),
	}
}

func (c *GuardianClient) Identifier() string { return "the-guardian" }

type guardianResponse struct {
	Response struct {
		Status  string           `json:"status"`
		Message string           `json:"message"`
		Results []guardianResult `json:"results"`
	} `json:"response"`
}

type guardianResult struct {
	WebTitle           string `json:"webTitle"`
	WebURL             string `json:"webUrl"`
	WebPublicationDate string `json:"webPublicationDate"`
	SectionName        string `json:"sectionName"`
	Fields             struct {
		TrailText string `json:"trailText"`
		Body      string `json:"body"`
		Thumbnail string `json:"thumbnail"`
		Byline    string `json:"byline"`
	} `json:"fields"`
}

func (c *GuardianClient) Fetch(ctx context.Context, params url.Values) ([]models.NormalizedArticle, error) {
	var resp guardianResponse
	if err := c.http.getJSON(ctx, "search", mergeParams(c.defaults, params), &resp); err != nil {
		return nil, err
	}
	if resp.Response.Status != "ok" {
		return nil, &FetchError{
			Provider: c.Identifier(),
			Err:      fmt.Errorf("%w: status %q %s", ErrBadEnvelope, resp.Response.Status, resp.Response.Message),
		}
	}

	out := make([]models.NormalizedArticle, 0, len(resp.Response.Results))
	for _, r := range resp.Response.Results {
		out = append(out, models.NormalizedArticle{
			Title:         strings.TrimSpace(r.WebTitle),
			Description:   processing.StripHTML(r.Fields.TrailText),
			Content:       strings.TrimSpace(r.Fields.Body),
			URL:           strings.TrimSpace(r.WebURL),
			ImageURL:      strings.TrimSpace(r.Fields.Thumbnail),
			PublishedAt:   processing.ParseTimestamp(r.WebPublicationDate),
			AuthorName:    firstNonEmpty(r.Fields.Byline, "The Guardian"),
			CategoryLabel: firstNonEmpty(r.SectionName, DefaultCategory),
			SourceName:    "The Guardian",
		})
	}
	return out, nil
}
