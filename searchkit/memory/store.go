package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/LerianStudio/lib-searchkit/searchkit/backend"
)

// Document is a record indexed by Store.
type Document = backend.Document

// Store is an in-memory primary backend doing case-insensitive term matching.
type Store struct {
	faults

	mu        sync.RWMutex
	docs      []Document
	connected bool
}

// NewStore creates a Store holding docs.
func NewStore(docs ...Document) *Store {
	s := &Store{}
	s.Add(docs...)

	return s
}

// Add indexes docs. A document whose ID is already present replaces it.
func (s *Store) Add(docs ...Document) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, doc := range docs {
		idx := slices.IndexFunc(s.docs, func(d Document) bool { return d.ID == doc.ID })
		if idx >= 0 {
			s.docs[idx] = doc
			continue
		}

		s.docs = append(s.docs, doc)
	}
}

// Index implements backend.Indexer.
func (s *Store) Index(ctx context.Context, docs ...Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.Add(docs...)

	return nil
}

// Connect marks the store connected.
func (s *Store) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connected = true

	return nil
}

// Disconnect marks the store disconnected. It is idempotent.
func (s *Store) Disconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connected = false

	return nil
}

// Search scores every document by the share of query terms it contains.
func (s *Store) Search(ctx context.Context, query string, opts backend.Options) (backend.Result, error) {
	if err := s.enter(ctx); err != nil {
		return backend.Result{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected {
		return backend.Result{}, backend.NewError(backend.Primary, "not_connected", "memory store", backend.ErrNotConnected)
	}

	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return backend.Result{}, fmt.Errorf("%w: empty query", backend.ErrInvalidQuery)
	}

	type hit struct {
		doc   Document
		score float64
	}

	hits := make([]hit, 0)

	for _, doc := range s.docs {
		if !matchesFilters(doc, opts.Filters) {
			continue
		}

		text := strings.ToLower(doc.Text)
		matched := 0

		for _, term := range terms {
			if strings.Contains(text, term) {
				matched++
			}
		}

		if matched > 0 {
			hits = append(hits, hit{doc: doc, score: float64(matched) / float64(len(terms))})
		}
	}

	less := func(i, j int) bool { return hits[i].score > hits[j].score }

	switch opts.SortBy {
	case backend.SortDate:
		less = func(i, j int) bool { return hits[i].doc.CreatedAt.After(hits[j].doc.CreatedAt) }
	case backend.SortCustom:
		less = func(i, j int) bool { return hits[i].doc.ID > hits[j].doc.ID }
	}

	if opts.SortOrder == backend.SortAsc {
		desc := less
		less = func(i, j int) bool { return desc(j, i) }
	}

	sort.SliceStable(hits, less)

	items := make([]backend.Item, len(hits))
	for i, h := range hits {
		payload := make(map[string]any, len(h.doc.Fields)+1)
		maps.Copy(payload, h.doc.Fields)
		payload["text"] = h.doc.Text

		items[i] = backend.Item{ID: h.doc.ID, Score: h.score, Payload: payload, Source: backend.Primary}
	}

	return backend.Result{Items: backend.Page(items, opts.Offset, opts.Limit), Total: len(items)}, nil
}

// CheckHealth reports whether the store is connected.
func (s *Store) CheckHealth(context.Context) backend.HealthStatus {
	if status, ok := s.healthOverride(); ok {
		return status
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected {
		return backend.UnhealthyStatus(0, backend.ErrNotConnected)
	}

	return backend.HealthyStatus(0)
}

func matchesFilters(doc Document, filters map[string][]string) bool {
	for key, allowed := range filters {
		if len(allowed) == 0 {
			continue
		}

		value, ok := doc.Fields[key]
		if !ok || !slices.Contains(allowed, fmt.Sprint(value)) {
			return false
		}
	}

	return true
}

var (
	_ backend.Backend = (*Store)(nil)
	_ backend.Indexer = (*Store)(nil)
)
