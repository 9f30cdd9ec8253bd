// Package account provides account projection stores.
package account

import (
	"context"
	"sync"

	"tradegate/internal/identity/models"
	"tradegate/internal/identity/ports"
)

// MemoryStore keeps projections in process. Suited to tests and single-node
// development setups.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]models.AccountProjection
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]models.AccountProjection)}
}

func (s *MemoryStore) Get(_ context.Context, subjectID string) (*models.AccountProjection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.accounts[subjectID]
	if !ok {
		return nil, ports.ErrNotFound
	}
	copied := p
	return &copied, nil
}

func (s *MemoryStore) EnsureRole(_ context.Context, subjectID string, role models.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.accounts[subjectID]
	if !ok {
		s.accounts[subjectID] = models.AccountProjection{
			SubjectID: subjectID,
			Role:      role,
			Status:    models.StatusActive,
		}
		return nil
	}
	p.Role = role
	s.accounts[subjectID] = p
	return nil
}

// Put seeds a projection. Test helper.
func (s *MemoryStore) Put(p models.AccountProjection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[p.SubjectID] = p
}
