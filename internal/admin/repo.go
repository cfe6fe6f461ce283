package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/2beens/pressauth/pkg"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct {
	db *pgxpool.Pool
}

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{
		db: db,
	}
}

func (r *Repo) Migrate(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS admin
		(
			id            INTEGER PRIMARY KEY CHECK (id = 1),
			name          VARCHAR     NOT NULL,
			slogan        VARCHAR     NOT NULL DEFAULT '',
			gravatar      VARCHAR     NOT NULL DEFAULT '',
			password_hash VARCHAR     NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL
		);`,
	)
	if err != nil {
		return fmt.Errorf("create admin table: %w", err)
	}
	return nil
}

func (r *Repo) Get(ctx context.Context) (*Profile, error) {
	profile := &Profile{ID: ID}
	err := r.db.QueryRow(
		ctx,
		`SELECT name, slogan, gravatar, password_hash, updated_at FROM admin WHERE id = $1;`,
		ID,
	).Scan(
		&profile.Name,
		&profile.Slogan,
		&profile.Gravatar,
		&profile.PasswordHash,
		&profile.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("get admin: %w", err)
	}

	return profile, nil
}

// Update merges the update into the admin row in a single statement, so concurrent
// updates are serialized by postgres.
func (r *Repo) Update(ctx context.Context, update ProfileUpdate) (*Profile, error) {
	profile := &Profile{ID: ID}
	err := r.db.QueryRow(
		ctx,
		`
			UPDATE admin SET
				name = COALESCE($1, name),
				slogan = COALESCE($2, slogan),
				gravatar = COALESCE($3, gravatar),
				updated_at = $4
			WHERE id = $5
			RETURNING name, slogan, gravatar, password_hash, updated_at;`,
		update.Name, update.Slogan, update.Gravatar, time.Now(), ID,
	).Scan(
		&profile.Name,
		&profile.Slogan,
		&profile.Gravatar,
		&profile.PasswordHash,
		&profile.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, err
	}

	return profile, nil
}

func (r *Repo) VerifyPassword(ctx context.Context, password string) (bool, error) {
	var passwordHash string
	err := r.db.QueryRow(
		ctx,
		`SELECT password_hash FROM admin WHERE id = $1;`,
		ID,
	).Scan(&passwordHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotInitialized
	}
	if err != nil {
		return false, err
	}

	return pkg.CheckPasswordHash(password, passwordHash), nil
}

func (r *Repo) SetPasswordHash(ctx context.Context, passwordHash string) error {
	if passwordHash == "" {
		return ErrEmptyHash
	}

	tag, err := r.db.Exec(
		ctx,
		`UPDATE admin SET password_hash = $1, updated_at = $2 WHERE id = $3;`,
		passwordHash, time.Now(), ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotInitialized
	}

	return nil
}

func (r *Repo) Seed(ctx context.Context, profile Profile) (bool, error) {
	if profile.PasswordHash == "" {
		return false, ErrEmptyHash
	}

	_, err := r.db.Exec(
		ctx,
		`INSERT INTO admin (id, name, slogan, gravatar, password_hash, updated_at) VALUES ($1, $2, $3, $4, $5, $6);`,
		ID, profile.Name, profile.Slogan, profile.Gravatar, profile.PasswordHash, time.Now(),
	)
	if pkg.IsUniqueViolationError(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}
