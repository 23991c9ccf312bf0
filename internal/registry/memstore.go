package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store used in tests and in deployments without a
// database. Change events are appended to an internal log readable through
// Events.
type MemStore struct {
	mu      sync.Mutex
	targets map[string]Target
	events  []TargetChangeEvent
	nextSeq int64
}

func NewMemStore() *MemStore {
	return &MemStore{targets: map[string]Target{}, nextSeq: 1}
}

func (s *MemStore) List(ctx context.Context) ([]Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Target, 0, len(s.targets))
	for _, t := range s.targets {
		out = append(out, t)
	}
	return out, nil
}

func (s *MemStore) ListEnabled(ctx context.Context) ([]Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Target
	for _, t := range s.targets {
		if t.Enabled {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *MemStore) Get(ctx context.Context, id string) (*Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.targets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (s *MemStore) Create(ctx context.Context, name, rawURL string, enabled bool) (*Target, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := ValidateURL(rawURL); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	t := Target{ID: uuid.NewString(), Name: name, URL: rawURL, Enabled: enabled, CreatedAt: now, UpdatedAt: now}
	s.targets[t.ID] = t
	s.append(ChangeCreated, t)
	return &t, nil
}

func (s *MemStore) Update(ctx context.Context, id string, upd Update) (*Target, error) {
	if upd.Name != nil {
		if err := ValidateName(*upd.Name); err != nil {
			return nil, err
		}
	}
	if upd.URL != nil {
		if err := ValidateURL(*upd.URL); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.targets[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Name != nil {
		t.Name = *upd.Name
	}
	if upd.URL != nil {
		t.URL = *upd.URL
	}
	if upd.Enabled != nil {
		t.Enabled = *upd.Enabled
	}
	t.UpdatedAt = time.Now().UTC()
	s.targets[id] = t
	s.append(ChangeUpdated, t)
	return &t, nil
}

func (s *MemStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.targets[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.targets, id)
	s.append(ChangeDeleted, t)
	return nil
}

// Events returns the change events appended so far, in feed order.
func (s *MemStore) Events() []TargetChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TargetChangeEvent, len(s.events))
	copy(out, s.events)
	return out
}

func (s *MemStore) append(kind ChangeKind, t Target) {
	s.events = append(s.events, TargetChangeEvent{Seq: s.nextSeq, Kind: kind, Target: t})
	s.nextSeq++
}
