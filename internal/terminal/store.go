package terminal

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNotFound means the record never existed. Distinct from the
	// soft-deleted case, where the record exists but is inert.
	ErrNotFound = errors.New("terminal not found")
	// ErrConflict means a conditional mutation found its precondition no
	// longer true. Losing a race is not a failure; callers treat it as a
	// no-op and re-read the record if they care about the winner.
	ErrConflict = errors.New("conflicting terminal transition")
	// ErrExists means a record with the same id was already created.
	ErrExists = errors.New("terminal already exists")
)

// Filter narrows List results.
type Filter struct {
	// Owner restricts to records created with this owner identity.
	Owner string
	// Status restricts to a single status.
	Status Status
	// IncludeDeleted includes soft-deleted (absorbing) records.
	IncludeDeleted bool
	// PendingTermination restricts to records whose unit still needs a
	// platform Terminate call (absorbing, handle set, not yet terminated).
	PendingTermination bool
	// Limit and Offset paginate; Limit 0 means no limit.
	Limit  int
	Offset int
}

// Store is the single source of truth for terminal records.
//
// Mutate is the concurrency primitive: fn runs against the current record
// under the store's per-record write isolation, and the modified record
// becomes visible atomically. fn returning an error (typically ErrConflict)
// abandons the mutation.
type Store interface {
	Create(ctx context.Context, t *Terminal) error
	Get(ctx context.Context, id string) (*Terminal, error)
	List(ctx context.Context, f Filter) ([]*Terminal, error)
	Mutate(ctx context.Context, id string, fn func(t *Terminal) error) (*Terminal, error)
	Close() error
}

// MemoryStore is a mutex-guarded in-memory Store. It backs tests and
// single-process deployments that do not need durability.
type MemoryStore struct {
	mu        sync.RWMutex
	terminals map[string]*Terminal
	now       func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		terminals: make(map[string]*Terminal),
		now:       time.Now,
	}
}

// Create inserts a new record.
func (s *MemoryStore) Create(_ context.Context, t *Terminal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.terminals[t.ID]; ok {
		return ErrExists
	}
	s.terminals[t.ID] = t.Clone()
	return nil
}

// Get returns a copy of the record.
func (s *MemoryStore) Get(_ context.Context, id string) (*Terminal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.terminals[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

// List returns copies of records matching the filter, newest first.
func (s *MemoryStore) List(_ context.Context, f Filter) ([]*Terminal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*Terminal, 0, len(s.terminals))
	for _, t := range s.terminals {
		if matches(t, f) {
			matched = append(matched, t.Clone())
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return strings.Compare(matched[i].ID, matched[j].ID) > 0
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return paginate(matched, f), nil
}

// Mutate applies fn atomically to the record.
func (s *MemoryStore) Mutate(_ context.Context, id string, fn func(t *Terminal) error) (*Terminal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.terminals[id]
	if !ok {
		return nil, ErrNotFound
	}

	updated := current.Clone()
	if err := fn(updated); err != nil {
		return nil, err
	}
	updated.UpdatedAt = s.now()
	s.terminals[id] = updated
	return updated.Clone(), nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

func matches(t *Terminal, f Filter) bool {
	if f.PendingTermination {
		return t.Status.Absorbing() && t.Handle != nil && !t.terminated
	}
	if !f.IncludeDeleted && t.DeletedAt != nil {
		return false
	}
	if f.Owner != "" && t.Owner != f.Owner {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	return true
}

func paginate(list []*Terminal, f Filter) []*Terminal {
	if f.Offset > 0 {
		if f.Offset >= len(list) {
			return nil
		}
		list = list[f.Offset:]
	}
	if f.Limit > 0 && len(list) > f.Limit {
		list = list[:f.Limit]
	}
	return list
}
