// Package dedup decides which feed items have not been delivered yet.
//
// Two policies share one interface and are picked from the store mode at
// startup:
//   - pointer: only the last delivered identity is remembered; everything at
//     or before it in the current feed window counts as delivered.
//   - set: every delivered identity is remembered.
//
// Policies are driven by a single pipeline worker and are not safe for
// concurrent use.
package dedup

import (
	"context"
	"fmt"

	"newsrelay/internal/storage"
)

type Mode = storage.Mode

const (
	ModePointer = storage.ModePointer
	ModeSet     = storage.ModeSet
)

type Policy interface {
	Mode() Mode
	// Prepare receives the normalized identities of one cycle, oldest first.
	Prepare(ids []string)
	IsNew(id string) bool
	// MarkDelivered records id in memory and persists it synchronously. A
	// persistence error is returned, but id stays delivered for this process.
	MarkDelivered(ctx context.Context, id string) error
	// Len reports how many identities the policy currently remembers.
	Len() int
}

// New builds the policy matching the store's mode and loads its state.
func New(ctx context.Context, store storage.Store) (Policy, error) {
	ids, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load delivery state: %w", err)
	}
	switch store.Mode() {
	case ModePointer:
		p := &PointerPolicy{store: store}
		if n := len(ids); n > 0 {
			p.pointer = ids[n-1]
		}
		return p, nil
	case ModeSet:
		s := &SetPolicy{store: store, seen: make(map[string]struct{}, len(ids))}
		for _, id := range ids {
			s.seen[id] = struct{}{}
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown dedup mode: %q", store.Mode())
	}
}

// PointerPolicy remembers the last delivered identity only. It is exact for
// append-only feeds; items backfilled behind the pointer stay old forever.
type PointerPolicy struct {
	store   storage.Store
	pointer string
	settled map[string]struct{}
}

func (p *PointerPolicy) Mode() Mode { return ModePointer }

func (p *PointerPolicy) Pointer() string { return p.pointer }

func (p *PointerPolicy) Prepare(ids []string) {
	p.settled = map[string]struct{}{}
	if p.pointer == "" {
		return
	}
	at := -1
	for i, id := range ids {
		if id == p.pointer {
			at = i
		}
	}
	for _, id := range ids[:at+1] {
		p.settled[id] = struct{}{}
	}
}

func (p *PointerPolicy) IsNew(id string) bool {
	if id == "" || id == p.pointer {
		return false
	}
	_, old := p.settled[id]
	return !old
}

func (p *PointerPolicy) MarkDelivered(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	// Memory moves even when the write fails; the item was sent.
	p.pointer = id
	return p.store.Record(ctx, id)
}

func (p *PointerPolicy) Len() int {
	if p.pointer == "" {
		return 0
	}
	return 1
}

// SetPolicy remembers every delivered identity.
type SetPolicy struct {
	store storage.Store
	seen  map[string]struct{}
}

func (s *SetPolicy) Mode() Mode { return ModeSet }

func (s *SetPolicy) Prepare([]string) {}

func (s *SetPolicy) IsNew(id string) bool {
	if id == "" {
		return false
	}
	_, ok := s.seen[id]
	return !ok
}

func (s *SetPolicy) MarkDelivered(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	s.seen[id] = struct{}{}
	return s.store.Record(ctx, id)
}

func (s *SetPolicy) Len() int { return len(s.seen) }
