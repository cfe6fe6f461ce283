package admin

import (
	"context"
	"errors"
)

var (
	ErrNotInitialized = errors.New("admin not initialized")
	ErrEmptyHash      = errors.New("password hash empty")
)

var _ Store = (*Repo)(nil)
var _ Store = (*MemoryStore)(nil)

// Store keeps the single admin record.
type Store interface {
	Get(ctx context.Context) (*Profile, error)
	Update(ctx context.Context, update ProfileUpdate) (*Profile, error)
	VerifyPassword(ctx context.Context, password string) (bool, error)
	SetPasswordHash(ctx context.Context, passwordHash string) error
	Seed(ctx context.Context, profile Profile) (bool, error)
}
