package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Mindburn-Labs/changegate/pkg/contracts"
)

// MemoryChangeRequestStore keeps records in process memory.
type MemoryChangeRequestStore struct {
	mu      sync.RWMutex
	records map[string]*contracts.ChangeRequest
}

func NewMemoryChangeRequestStore() *MemoryChangeRequestStore {
	return &MemoryChangeRequestStore{records: make(map[string]*contracts.ChangeRequest)}
}

func (s *MemoryChangeRequestStore) Get(_ context.Context, id string) (*contracts.ChangeRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cr, ok := s.records[id]
	if !ok {
		return nil, notFound(id)
	}
	return cr.Clone(), nil
}

func (s *MemoryChangeRequestStore) FindByIDFragment(_ context.Context, fragment string) ([]string, error) {
	needle := strings.ToLower(fragment)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id := range s.records {
		if strings.Contains(strings.ToLower(id), needle) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryChangeRequestStore) List(_ context.Context, q ListQuery) ([]*contracts.ChangeRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*contracts.ChangeRequest, 0, len(s.records))
	for _, cr := range s.records {
		if q.matches(cr) {
			out = append(out, cr.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryChangeRequestStore) MaxSequence(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	highest := 0
	for id := range s.records {
		if n, ok := ParseSequence(id); ok && n > highest {
			highest = n
		}
	}
	return highest, nil
}

func (s *MemoryChangeRequestStore) Insert(_ context.Context, cr *contracts.ChangeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[cr.ID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, cr.ID)
	}
	cr.Version = 1
	s.records[cr.ID] = cr.Clone()
	return nil
}

func (s *MemoryChangeRequestStore) Update(_ context.Context, cr *contracts.ChangeRequest, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[cr.ID]
	if !ok {
		return notFound(cr.ID)
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("%w: %s at version %d, expected %d", ErrVersionConflict, cr.ID, current.Version, expectedVersion)
	}
	cr.Version = expectedVersion + 1
	s.records[cr.ID] = cr.Clone()
	return nil
}
