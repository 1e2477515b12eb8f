package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/opinionpulse/internal/domain"
)

// ProfileRepo reads and writes user display fields.
type ProfileRepo struct {
	pool *pgxpool.Pool
}

func NewProfileRepo(pool *pgxpool.Pool) *ProfileRepo {
	return &ProfileRepo{pool: pool}
}

func (r *ProfileRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.Profile, error) {
	var profile domain.Profile
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, display_name, avatar_url
		FROM profiles
		WHERE user_id = $1
	`, userID).Scan(&profile.UserID, &profile.DisplayName, &profile.AvatarURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &profile, nil
}

// Upsert creates or refreshes a profile. Called when the session layer sees
// new display fields for an authenticated user.
func (r *ProfileRepo) Upsert(ctx context.Context, profile domain.Profile) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO profiles (user_id, display_name, avatar_url, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			avatar_url = EXCLUDED.avatar_url,
			updated_at = NOW()
	`, profile.UserID, profile.DisplayName, profile.AvatarURL)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}
