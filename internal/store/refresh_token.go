package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrTokenRevoked = errors.New("refresh token revoked or expired")

type RefreshToken struct {
	ID         string
	UserID     string
	TokenHash  string
	ExpiresAt  time.Time
	Revoked    bool
	ReplacedBy *string
	CreatedAt  time.Time
}

func (s *Store) CreateRefreshToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (string, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at) VALUES ($1,$2,$3,$4)`,
		id, userID, tokenHash, expiresAt,
	)
	return id, translate(err)
}

// RotateRefreshToken swaps oldHash for newHash in one transaction and
// returns the owning user. Presenting an already revoked token revokes
// every token of that user (likely replay).
func (s *Store) RotateRefreshToken(ctx context.Context, oldHash, newHash string, newExpiry time.Time) (string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	var rt RefreshToken
	err = tx.QueryRow(ctx,
		`SELECT id, user_id, expires_at, revoked
		 FROM refresh_tokens WHERE token_hash = $1 FOR UPDATE`, oldHash,
	).Scan(&rt.ID, &rt.UserID, &rt.ExpiresAt, &rt.Revoked)
	if err != nil {
		return "", translate(err)
	}

	if rt.Revoked {
		if _, err := tx.Exec(ctx,
			`UPDATE refresh_tokens SET revoked = true WHERE user_id = $1 AND revoked = false`, rt.UserID,
		); err != nil {
			return "", fmt.Errorf("revoke token family: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return "", err
		}
		return "", ErrTokenRevoked
	}
	if time.Now().After(rt.ExpiresAt) {
		return "", ErrTokenRevoked
	}

	newID := uuid.NewString()
	if _, err = tx.Exec(ctx,
		`INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at) VALUES ($1,$2,$3,$4)`,
		newID, rt.UserID, newHash, newExpiry,
	); err != nil {
		return "", err
	}
	if _, err = tx.Exec(ctx,
		`UPDATE refresh_tokens SET revoked = true, replaced_by = $1 WHERE id = $2`,
		newID, rt.ID,
	); err != nil {
		return "", err
	}

	return rt.UserID, tx.Commit(ctx)
}

// revoke all tokens for a user (on logout)
func (s *Store) RevokeAllRefreshTokens(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE refresh_tokens SET revoked = true WHERE user_id = $1 AND revoked = false`,
		userID,
	)
	return err
}

func (s *Store) RevokeRefreshToken(ctx context.Context, tokenHash string) (string, error) {
	var uid string
	err := s.pool.QueryRow(ctx,
		`UPDATE refresh_tokens SET revoked = true WHERE token_hash = $1 RETURNING user_id`,
		tokenHash,
	).Scan(&uid)
	return uid, translate(err)
}
