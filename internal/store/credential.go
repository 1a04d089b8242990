package store

import (
	"context"

	"booking-calendar-api/internal/model"
)

// UpsertCredential replaces the user's bundle, or inserts the first one.
// user_id is unique so repeated calls never produce two rows.
func (s *Store) UpsertCredential(ctx context.Context, c *model.Credential) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO google_credentials (user_id, access_token, refresh_token, scope, token_type, expiry_date)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (user_id) DO UPDATE
		 SET access_token = EXCLUDED.access_token,
		     refresh_token = COALESCE(NULLIF(EXCLUDED.refresh_token, ''), google_credentials.refresh_token),
		     scope = EXCLUDED.scope,
		     token_type = EXCLUDED.token_type,
		     expiry_date = EXCLUDED.expiry_date,
		     updated_at = NOW()`,
		c.UserID, c.AccessToken, c.RefreshToken, c.Scope, c.TokenType, c.ExpiryDate,
	)
	return err
}

func (s *Store) GetCredential(ctx context.Context, userID string) (*model.Credential, error) {
	c := &model.Credential{}
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, access_token, refresh_token, scope, token_type, expiry_date, created_at, updated_at
		 FROM google_credentials WHERE user_id = $1`, userID,
	).Scan(&c.UserID, &c.AccessToken, &c.RefreshToken, &c.Scope, &c.TokenType, &c.ExpiryDate,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return c, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
