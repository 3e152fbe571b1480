// Package idgen contains the client side document id generators.
package idgen

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sharedcode/docstore"
)

// UUIDGenerator assigns "<collection><separator><uuid>" ids.
type UUIDGenerator struct {
	Separator string
}

// NewUUIDGenerator returns a UUID based generator using the conventions' separator.
func NewUUIDGenerator(conventions docstore.Conventions) *UUIDGenerator {
	sep := conventions.IdentityPartsSeparator
	if sep == "" {
		sep = "/"
	}
	return &UUIDGenerator{Separator: sep}
}

// GenerateID returns a new random id.
func (g *UUIDGenerator) GenerateID(entity any, collection string) (string, error) {
	id := docstore.NewUUID().String()
	if collection == "" {
		return id, nil
	}
	return collection + g.Separator + id, nil
}

// GenerateIDContext is GenerateID, UUIDs need no remote call.
func (g *UUIDGenerator) GenerateIDContext(ctx context.Context, entity any, collection string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return g.GenerateID(entity, collection)
}

// RangeSource reserves blocks of sequential numbers, usually from a shared store.
type RangeSource interface {
	// NextRange reserves size numbers for collection and returns the inclusive range.
	NextRange(ctx context.Context, collection string, size int64) (lo int64, hi int64, err error)
}

// DefaultCapacity is the range size reserved per round trip by HiLo.
const DefaultCapacity = 32

type hiloRange struct {
	next int64
	hi   int64
}

// HiLo generates "<collection><separator><n>" ids from ranges reserved through a RangeSource.
// It is safe for concurrent use by many sessions.
type HiLo struct {
	source    RangeSource
	capacity  int64
	separator string
	locker    sync.Mutex
	ranges    map[string]*hiloRange
}

// NewHiLo creates a HiLo generator. Capacity defaults to DefaultCapacity.
func NewHiLo(source RangeSource, capacity int64, conventions docstore.Conventions) *HiLo {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	sep := conventions.IdentityPartsSeparator
	if sep == "" {
		sep = "/"
	}
	return &HiLo{
		source:    source,
		capacity:  capacity,
		separator: sep,
		ranges:    make(map[string]*hiloRange),
	}
}

// GenerateID generates an id, reserving a new range with a background context when needed.
func (h *HiLo) GenerateID(entity any, collection string) (string, error) {
	return h.GenerateIDContext(context.Background(), entity, collection)
}

// GenerateIDContext generates an id, reserving a new range from the source when the current one is used up.
func (h *HiLo) GenerateIDContext(ctx context.Context, entity any, collection string) (string, error) {
	h.locker.Lock()
	defer h.locker.Unlock()

	r := h.ranges[collection]
	if r == nil || r.next > r.hi {
		lo, hi, err := h.source.NextRange(ctx, collection, h.capacity)
		if err != nil {
			return "", fmt.Errorf("hilo range reservation failed for %s: %w", collection, err)
		}
		if hi < lo {
			return "", fmt.Errorf("hilo range source returned an empty range [%d, %d] for %s", lo, hi, collection)
		}
		r = &hiloRange{next: lo, hi: hi}
		h.ranges[collection] = r
	}
	n := r.next
	r.next++

	if collection == "" {
		return fmt.Sprintf("%d", n), nil
	}
	return strings.Join([]string{collection, fmt.Sprintf("%d", n)}, h.separator), nil
}

// LocalRangeSource hands out ranges from process memory, used when no shared store is configured.
type LocalRangeSource struct {
	locker sync.Mutex
	hi     map[string]int64
}

// NewLocalRangeSource returns an empty in-process range source.
func NewLocalRangeSource() *LocalRangeSource {
	return &LocalRangeSource{hi: make(map[string]int64)}
}

// NextRange reserves the next size numbers, starting at 1.
func (s *LocalRangeSource) NextRange(ctx context.Context, collection string, size int64) (int64, int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	s.locker.Lock()
	defer s.locker.Unlock()
	lo := s.hi[collection] + 1
	s.hi[collection] += size
	return lo, s.hi[collection], nil
}
