// Package feed fetches the watched news feed.
package feed

import (
	"context"
	"fmt"
)

// Item is one feed entry. Link is the item's identity.
type Item struct {
	Title string
	Link  string
}

// Source returns the feed's current entries in document order (usually newest first).
type Source interface {
	Fetch(ctx context.Context) ([]Item, error)
}

// FetchError reports a feed that could not be fetched or parsed.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch %s: %v", e.URL, e.Err) }

func (e *FetchError) Unwrap() error { return e.Err }
