package feed

import (
	"cmp"
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	logx "newsrelay/pkg/logx"
)

const DefaultUserAgent = "newsrelay/1.0"

type Config struct {
	URL       string
	UserAgent string
	Timeout   time.Duration
}

// HTTPSource fetches RSS, Atom or JSON Feed documents over HTTP.
type HTTPSource struct {
	url    string
	parser *gofeed.Parser
	log    logx.Logger
}

func NewHTTPSource(cfg Config, log logx.Logger) (*HTTPSource, error) {
	u := strings.TrimSpace(cfg.URL)
	if u == "" {
		return nil, errors.New("feed url is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	p := gofeed.NewParser()
	p.UserAgent = cmp.Or(strings.TrimSpace(cfg.UserAgent), DefaultUserAgent)
	p.Client = &http.Client{Timeout: timeout}
	return &HTTPSource{url: u, parser: p, log: log}, nil
}

func (s *HTTPSource) URL() string { return s.url }

func (s *HTTPSource) Fetch(ctx context.Context) ([]Item, error) {
	f, err := s.parser.ParseURLWithContext(s.url, ctx)
	if err != nil {
		return nil, &FetchError{URL: s.url, Err: err}
	}
	items := make([]Item, 0, len(f.Items))
	for _, it := range f.Items {
		if it == nil {
			continue
		}
		items = append(items, Item{
			Title: strings.TrimSpace(it.Title),
			Link:  strings.TrimSpace(it.Link),
		})
	}
	s.log.Debug("feed fetched", logx.String("title", f.Title), logx.Int("items", len(items)))
	return items, nil
}
