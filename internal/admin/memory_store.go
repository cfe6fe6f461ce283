package admin

import (
	"context"
	"sync"
	"time"

	"github.com/2beens/pressauth/pkg"
)

// MemoryStore is an in-process Store, used in tests and for local development
// without postgres.
type MemoryStore struct {
	mu      sync.RWMutex
	profile *Profile
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get(_ context.Context) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.profile == nil {
		return nil, ErrNotInitialized
	}
	profile := *s.profile
	return &profile, nil
}

func (s *MemoryStore) Update(_ context.Context, update ProfileUpdate) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.profile == nil {
		return nil, ErrNotInitialized
	}
	update.apply(s.profile)
	s.profile.UpdatedAt = time.Now()

	profile := *s.profile
	return &profile, nil
}

func (s *MemoryStore) VerifyPassword(_ context.Context, password string) (bool, error) {
	s.mu.RLock()
	if s.profile == nil {
		s.mu.RUnlock()
		return false, ErrNotInitialized
	}
	passwordHash := s.profile.PasswordHash
	s.mu.RUnlock()

	// bcrypt is slow on purpose, do not hold the lock while comparing
	return pkg.CheckPasswordHash(password, passwordHash), nil
}

func (s *MemoryStore) SetPasswordHash(_ context.Context, passwordHash string) error {
	if passwordHash == "" {
		return ErrEmptyHash
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.profile == nil {
		return ErrNotInitialized
	}
	s.profile.PasswordHash = passwordHash
	s.profile.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) Seed(_ context.Context, profile Profile) (bool, error) {
	if profile.PasswordHash == "" {
		return false, ErrEmptyHash
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.profile != nil {
		return false, nil
	}
	profile.ID = ID
	profile.UpdatedAt = time.Now()
	s.profile = &profile
	return true, nil
}
