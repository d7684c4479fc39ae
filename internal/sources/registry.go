package sources

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/DeafMist/news-radar/backend/internal/config"
)

// variant binds a provider identifier to its constructor. Adding a provider
// means adding one entry here.
type variant struct {
	identifier string
	build      func(Options) Client
}

var variants = []variant{
	{identifier: "newsapi", build: func(o Options) Client { return NewNewsAPI(o) }},
	{identifier: "the-guardian", build: func(o Options) Client { return NewGuardian(o) }},
	{identifier: "nytimes", build: func(o Options) Client { return NewNYTimes(o) }},
	{identifier: "bbc-news", build: func(o Options) Client { return NewBBCNews(o) }},
	{identifier: "opennews", build: func(o Options) Client { return NewOpenNews(o) }},
}

// Known reports whether identifier names a registered provider.
func Known(identifier string) bool {
	_, ok := lookupVariant(identifier)
	return ok
}

func lookupVariant(identifier string) (variant, bool) {
	for _, v := range variants {
		if v.identifier == identifier {
			return v, true
		}
	}
	return variant{}, false
}

// Registry holds the active clients in configuration order.
type Registry struct {
	clients []Client
}

// NewRegistry builds a client for every configured provider that has an API
// key. Providers without a key are left out silently; unknown names are
// logged and left out.
func NewRegistry(providers []config.Provider, timeout time.Duration, logger *slog.Logger) *Registry {
	httpClient := &http.Client{Timeout: timeout}

	r := &Registry{}
	for _, p := range providers {
		v, ok := lookupVariant(p.Name)
		if !ok {
			if logger != nil {
				logger.Warn("unknown provider in configuration", slog.String("provider", p.Name))
			}
			continue
		}
		if p.APIKey == "" {
			continue
		}
		r.clients = append(r.clients, v.build(Options{
			APIKey:     p.APIKey,
			BaseURL:    p.BaseURL,
			HTTPClient: httpClient,
		}))
	}
	return r
}

// NewStaticRegistry wraps an explicit client list.
func NewStaticRegistry(clients ...Client) *Registry {
	return &Registry{clients: append([]Client(nil), clients...)}
}

// ActiveClients returns the active clients in configuration order.
func (r *Registry) ActiveClients() []Client {
	return append([]Client(nil), r.clients...)
}
