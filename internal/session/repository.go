package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, token RefreshToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (token, account_id, expires_at, created_at, created_by_ip)
		VALUES ($1, $2, $3, $4, $5)
	`, token.Token, token.AccountID, token.ExpiresAt.UTC(), token.CreatedAt.UTC(), token.CreatedByIP)
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}

	return nil
}

func (r *Repository) GetByValue(ctx context.Context, value string) (RefreshToken, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT token, account_id, expires_at, created_at, created_by_ip,
			revoked_at, revoked_by_ip, replaced_by_token
		FROM refresh_tokens
		WHERE token = $1
	`, value)

	token, err := scanRefreshToken(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RefreshToken{}, err
		}
		return RefreshToken{}, fmt.Errorf("query refresh token: %w", err)
	}

	return token, nil
}

// Rotate revokes the old token and inserts its successor in one
// transaction. The row lock makes concurrent rotations of the same value
// serialize: whichever transaction runs second sees the token already
// revoked and gets ErrInvalidToken.
func (r *Repository) Rotate(ctx context.Context, oldValue string, next RefreshToken, ip string, now time.Time) (RefreshToken, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return RefreshToken{}, fmt.Errorf("begin rotation tx: %w", err)
	}
	defer tx.Rollback()

	var accountID string
	var expiresAt time.Time
	var revokedAt sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT account_id, expires_at, revoked_at
		FROM refresh_tokens
		WHERE token = $1
		FOR UPDATE
	`, oldValue).Scan(&accountID, &expiresAt, &revokedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RefreshToken{}, ErrInvalidToken
		}
		return RefreshToken{}, fmt.Errorf("read refresh token: %w", err)
	}

	if revokedAt.Valid || !now.Before(expiresAt.UTC()) {
		return RefreshToken{}, ErrInvalidToken
	}

	next.AccountID = accountID
	_, err = tx.ExecContext(ctx, `
		INSERT INTO refresh_tokens (token, account_id, expires_at, created_at, created_by_ip)
		VALUES ($1, $2, $3, $4, $5)
	`, next.Token, next.AccountID, next.ExpiresAt.UTC(), next.CreatedAt.UTC(), next.CreatedByIP)
	if err != nil {
		return RefreshToken{}, fmt.Errorf("insert rotated refresh token: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = $2, revoked_by_ip = $3, replaced_by_token = $4
		WHERE token = $1
	`, oldValue, now.UTC(), ip, next.Token)
	if err != nil {
		return RefreshToken{}, fmt.Errorf("revoke rotated refresh token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return RefreshToken{}, fmt.Errorf("commit rotation tx: %w", err)
	}

	return next, nil
}

// Revoke stamps an active token dead. The predicate in the WHERE clause
// is the activity check: a second revoke matches zero rows and fails.
func (r *Repository) Revoke(ctx context.Context, value, ip string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = $2, revoked_by_ip = $3
		WHERE token = $1 AND revoked_at IS NULL AND expires_at > $2
	`, value, now.UTC(), ip)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrInvalidToken
	}

	return nil
}

// PurgeStaleTokens deletes chains dead since before the cutoff. The token
// lifecycle itself never deletes; this backs the opt-in maintenance
// endpoint only.
func (r *Repository) PurgeStaleTokens(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT token
			FROM refresh_tokens
			WHERE expires_at < $1 OR (revoked_at IS NOT NULL AND revoked_at < $1)
			ORDER BY created_at ASC
			LIMIT $2
		)
		DELETE FROM refresh_tokens t
		USING stale
		WHERE t.token = stale.token
	`, cutoff.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale refresh tokens: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale refresh tokens rows affected: %w", err)
	}

	return affected, nil
}

func scanRefreshToken(row *sql.Row) (RefreshToken, error) {
	var token RefreshToken
	var revokedAt sql.NullTime
	var revokedByIP, replacedByToken sql.NullString

	err := row.Scan(
		&token.Token, &token.AccountID, &token.ExpiresAt, &token.CreatedAt,
		&token.CreatedByIP, &revokedAt, &revokedByIP, &replacedByToken)
	if err != nil {
		return RefreshToken{}, err
	}

	if revokedAt.Valid {
		value := revokedAt.Time.UTC()
		token.RevokedAt = &value
	}
	token.RevokedByIP = revokedByIP.String
	token.ReplacedByToken = replacedByToken.String

	return token, nil
}

var ErrInvalidToken = errors.New("invalid token")
