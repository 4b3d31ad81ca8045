package ingest_test

import (
	"context"
	"errors"
	"hash/fnv"
	"sort"
	"strconv"
	"sync"

	"github.com/hasan-murad02/rag/internal/vector"
)

// memStore is an in-memory vector.Store with pagination and failure hooks.
type memStore struct {
	mu          sync.Mutex
	collections map[string]map[uint64]vector.Point
	dims        map[string]int
	scrollErr   error
	upsertErr   error
	upserts     int
	scrolls     int
	created     int
}

func newMemStore() *memStore {
	return &memStore{collections: map[string]map[uint64]vector.Point{}, dims: map[string]int{}}
}

func (s *memStore) CollectionExists(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.collections[name]
	return ok, nil
}

func (s *memStore) CreateCollection(_ context.Context, name string, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; ok {
		return errors.New("already exists")
	}
	s.collections[name] = map[uint64]vector.Point{}
	s.dims[name] = dim
	s.created++
	return nil
}

func (s *memStore) DeleteCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, name)
	delete(s.dims, name)
	return nil
}

func (s *memStore) Upsert(_ context.Context, name string, points []vector.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	c, ok := s.collections[name]
	if !ok {
		return vector.ErrCollectionNotFound
	}
	s.upserts++
	for _, p := range points {
		c[p.ID] = p
	}
	return nil
}

func (s *memStore) sortedIDs(name string) []uint64 {
	ids := make([]uint64, 0, len(s.collections[name]))
	for id := range s.collections[name] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *memStore) Scroll(_ context.Context, name string, pageSize int, cursor string) ([]vector.Record, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scrolls++
	if s.scrollErr != nil {
		return nil, "", s.scrollErr
	}
	if _, ok := s.collections[name]; !ok {
		return nil, "", vector.ErrCollectionNotFound
	}
	start := 0
	if cursor != "" {
		start, _ = strconv.Atoi(cursor)
	}
	ids := s.sortedIDs(name)
	end := min(start+pageSize, len(ids))
	var recs []vector.Record
	for _, id := range ids[start:end] {
		recs = append(recs, vector.Record{ID: id, Payload: s.collections[name][id].Payload})
	}
	next := ""
	if end < len(ids) {
		next = strconv.Itoa(end)
	}
	return recs, next, nil
}

func (s *memStore) Query(_ context.Context, name string, vec []float32, limit int, threshold float32) ([]vector.Match, error) {
	return nil, nil
}

func (s *memStore) Count(_ context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.collections[name])), nil
}

func (s *memStore) points(name string) []vector.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []vector.Point
	for _, id := range s.sortedIDs(name) {
		out = append(out, s.collections[name][id])
	}
	return out
}

// fakeEmbedder hashes text into a small deterministic vector and records
// every call.
type fakeEmbedder struct {
	mu        sync.Mutex
	oneCalls  []string
	manyCalls [][]string
	failOn    int // 1-based EmbedMany call that fails; 0 never
	err       error
}

func hashVec(text string) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	v := h.Sum32()
	return []float32{float32(v%97) + 1, float32(v%89) + 1, float32(v%83) + 1}
}

func (e *fakeEmbedder) EmbedOne(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.oneCalls = append(e.oneCalls, text)
	if e.err != nil && e.failOn == 0 {
		return nil, e.err
	}
	return hashVec(text), nil
}

func (e *fakeEmbedder) EmbedMany(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.manyCalls = append(e.manyCalls, append([]string(nil), texts...))
	if e.failOn > 0 && len(e.manyCalls) == e.failOn {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashVec(t)
	}
	return out, nil
}

func (e *fakeEmbedder) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.oneCalls) + len(e.manyCalls)
}

// gatedEmbedder holds its first EmbedMany call until release is closed.
type gatedEmbedder struct {
	*fakeEmbedder
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedEmbedder() *gatedEmbedder {
	return &gatedEmbedder{
		fakeEmbedder: &fakeEmbedder{},
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
}

func (e *gatedEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	first := false
	e.once.Do(func() { first = true })
	if first {
		close(e.entered)
		<-e.release
	}
	return e.fakeEmbedder.EmbedMany(ctx, texts)
}
