// Package translate provides best-effort title translation.
//
// A Translator never fails: on any error it returns the input unchanged so
// delivery always goes ahead with the original text.
package translate

import (
	"context"
	"fmt"
)

type Translator interface {
	Translate(ctx context.Context, text string) string
}

// Nop returns text unchanged. Used when translation is disabled.
type Nop struct{}

func (Nop) Translate(_ context.Context, text string) string { return text }

// TranslationError describes why a translation fell back to the original.
// It is logged, never returned to the pipeline.
type TranslationError struct {
	Endpoint string
	Status   int // HTTP status when the service answered, 0 otherwise
	Err      error
}

func (e *TranslationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("translate via %s: status %d: %v", e.Endpoint, e.Status, e.Err)
	}
	return fmt.Sprintf("translate via %s: %v", e.Endpoint, e.Err)
}

func (e *TranslationError) Unwrap() error { return e.Err }
