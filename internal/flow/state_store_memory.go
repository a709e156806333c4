package flow

import (
	"context"
	"sync"
	"time"

	"github.com/elliotchance/orderedmap/v3"

	"github.com/BTreeMap/VoiceFAQ/internal/models"
)

// MemoryStateStore keeps state in process, ordered by registration time.
type MemoryStateStore struct {
	mu     sync.Mutex
	states *orderedmap.OrderedMap[string, *models.ConversationState]
}

var _ StateStore = (*MemoryStateStore)(nil)

// NewMemoryStateStore creates an empty in-memory store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: orderedmap.NewOrderedMap[string, *models.ConversationState]()}
}

func (s *MemoryStateStore) Create(ctx context.Context, state *models.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state.Version = 1
	// Re-registering moves the session to the back of the eviction order.
	s.states.Delete(state.SessionID)
	s.states.Set(state.SessionID, state.Clone())
	return nil
}

func (s *MemoryStateStore) Get(ctx context.Context, sessionID string) (*models.ConversationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states.Get(sessionID)
	if !ok {
		return nil, ErrStateNotFound
	}
	return st.Clone(), nil
}

func (s *MemoryStateStore) Update(ctx context.Context, state *models.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.states.Get(state.SessionID)
	if !ok {
		return ErrStateNotFound
	}
	if stored.Version != state.Version {
		return ErrVersionConflict
	}
	state.Version++
	s.states.Set(state.SessionID, state.Clone())
	return nil
}

func (s *MemoryStateStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states.Delete(sessionID)
	return nil
}

func (s *MemoryStateStore) Len(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states.Len(), nil
}

func (s *MemoryStateStore) EvictOldest(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el := s.states.Front()
	if el == nil {
		return "", nil
	}
	id := el.Key
	s.states.Delete(id)
	return id, nil
}

func (s *MemoryStateStore) IdleSince(ctx context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for el := s.states.Front(); el != nil; el = el.Next() {
		if el.Value.UpdatedAt.Before(cutoff) {
			ids = append(ids, el.Key)
		}
	}
	return ids, nil
}

func (s *MemoryStateStore) Close() error { return nil }
