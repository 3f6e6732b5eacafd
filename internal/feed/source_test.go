package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "newsrelay/pkg/logx"
)

const rssDoc = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Forex news</title>
  <link>https://example.com</link>
  <item><title> Newest </title><link>https://example.com/news/3?utm_source=rss</link></item>
  <item><title>Middle</title><link>https://example.com/news/2/</link></item>
  <item><title>No link</title></item>
  <item><title>Oldest</title><link>https://example.com/news/1</link></item>
</channel>
</rss>`

func TestHTTPSourceFetchKeepsDocumentOrder(t *testing.T) {
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.UserAgent()
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(rssDoc))
	}))
	defer srv.Close()

	src, err := NewHTTPSource(Config{URL: srv.URL}, logx.Nop())
	require.NoError(t, err)

	items, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Item{
		{Title: "Newest", Link: "https://example.com/news/3?utm_source=rss"},
		{Title: "Middle", Link: "https://example.com/news/2/"},
		{Title: "No link", Link: ""},
		{Title: "Oldest", Link: "https://example.com/news/1"},
	}, items)
	assert.Equal(t, DefaultUserAgent, ua)
}

func TestHTTPSourceFetchErrors(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) }},
		{"garbage", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("this is not a feed")) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			src, err := NewHTTPSource(Config{URL: srv.URL, UserAgent: "test"}, logx.Nop())
			require.NoError(t, err)
			_, err = src.Fetch(context.Background())
			var fe *FetchError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, srv.URL, fe.URL)
		})
	}
}

func TestNewHTTPSourceRequiresURL(t *testing.T) {
	_, err := NewHTTPSource(Config{URL: "  "}, logx.Nop())
	assert.Error(t, err)
}
