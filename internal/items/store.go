package items

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrDuplicateAdmission marks a re-observed dedup key. Admit never returns it;
// it exists so callers can tag logs and journal entries consistently.
var ErrDuplicateAdmission = errors.New("duplicate admission")

// ErrUnknownItem is returned by Update for keys that are not in flight.
var ErrUnknownItem = errors.New("item not in store")

// Store is the in-memory registry of items currently in flight. All mutation
// is serialized; callers receive copies and never hold store-owned pointers.
type Store struct {
	mu    sync.Mutex
	items map[string]*Item
	now   func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{items: make(map[string]*Item), now: time.Now}
}

// Admit registers key. The first admit wins; later admits of the same key
// return the existing item with alreadyAdmitted set.
func (s *Store) Admit(key string, content Content) (item Item, alreadyAdmitted bool, err error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Item{}, false, errors.New("admit: dedup key required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.items[key]; ok {
		return existing.clone(), true, nil
	}
	now := s.now()
	created := &Item{
		DedupKey:   key,
		Content:    content,
		Stage:      StageFetched,
		AdmittedAt: now,
		UpdatedAt:  now,
	}
	s.items[key] = created
	return created.clone(), false, nil
}

// Get returns a copy of the item for key.
func (s *Store) Get(key string) (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.items[key]
	if !ok {
		return Item{}, false
	}
	return existing.clone(), true
}

// Update applies fn to a copy of the item and commits it only when fn succeeds
// and the result still satisfies the item invariants.
func (s *Store) Update(key string, fn func(*Item) error) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.items[key]
	if !ok {
		return Item{}, fmt.Errorf("update %s: %w", key, ErrUnknownItem)
	}
	next := existing.clone()
	if err := fn(&next); err != nil {
		return existing.clone(), err
	}
	next.DedupKey = existing.DedupKey
	if err := next.Validate(); err != nil {
		return existing.clone(), err
	}
	next.UpdatedAt = s.now()
	*existing = next
	return next.clone(), nil
}

// Retire removes key. It is a no-op when key is absent.
func (s *Store) Retire(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
}

// Len returns the number of in-flight items.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Snapshot returns copies of all in-flight items ordered by admission time.
func (s *Store) Snapshot() []Item {
	s.mu.Lock()
	out := make([]Item, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item.clone())
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].AdmittedAt.Equal(out[j].AdmittedAt) {
			return out[i].DedupKey < out[j].DedupKey
		}
		return out[i].AdmittedAt.Before(out[j].AdmittedAt)
	})
	return out
}

// StageCounts returns the number of in-flight items per stage.
func (s *Store) StageCounts() map[Stage]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[Stage]int)
	for _, item := range s.items {
		counts[item.Stage]++
	}
	return counts
}
