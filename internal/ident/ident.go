// Package ident centralises opaque identifier generation so tracks, corridors
// and autonomous sessions can be given deterministic ids in tests.
package ident

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Source hands out unique identifiers. The prefix names the kind of object
// ("trk", "route", "auto") and is kept at the front of the id.
type Source interface {
	NewID(prefix string) string
}

// UUIDSource generates random v4 UUID based ids.
type UUIDSource struct{}

// NewID returns prefix_<uuid>.
func (UUIDSource) NewID(prefix string) string {
	if prefix == "" {
		return uuid.NewString()
	}
	return prefix + "_" + uuid.NewString()
}

// OrUUID returns s, or a UUIDSource when s is nil.
func OrUUID(s Source) Source {
	if s == nil {
		return UUIDSource{}
	}
	return s
}

// Sequence is a deterministic Source for tests: prefix_001, prefix_002, ...
// The counter is shared across prefixes.
type Sequence struct {
	mu   sync.Mutex
	next int
}

// NewID returns the next id in the sequence.
func (s *Sequence) NewID(prefix string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	if prefix == "" {
		return fmt.Sprintf("%03d", s.next)
	}
	return fmt.Sprintf("%s_%03d", prefix, s.next)
}
