package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const accountColumns = `
	id, email, password_hash, first_name, last_name, role,
	verification_token, verified_at, reset_token, reset_token_expires_at,
	created_at, updated_at`

func (r *Repository) GetByID(ctx context.Context, id string) (Account, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1
	`, id)

	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, err
		}
		return Account{}, fmt.Errorf("query account by id: %w", err)
	}

	return account, nil
}

func (r *Repository) GetByEmail(ctx context.Context, email string) (Account, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE email = $1
	`, email)

	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, err
		}
		return Account{}, fmt.Errorf("query account by email: %w", err)
	}

	return account, nil
}

func (r *Repository) FindByResetToken(ctx context.Context, token string, now time.Time) (Account, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE reset_token = $1 AND reset_token_expires_at > $2
	`, token, now.UTC())

	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, err
		}
		return Account{}, fmt.Errorf("query account by reset token: %w", err)
	}

	return account, nil
}

func (r *Repository) FindByVerificationToken(ctx context.Context, token string) (Account, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE verification_token = $1
	`, token)

	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, err
		}
		return Account{}, fmt.Errorf("query account by verification token: %w", err)
	}

	return account, nil
}

func (r *Repository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}

	return count, nil
}

func (r *Repository) List(ctx context.Context) ([]Account, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}

	return accounts, nil
}

func (r *Repository) Create(ctx context.Context, account Account) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (
			id, email, password_hash, first_name, last_name, role,
			verification_token, verified_at, reset_token, reset_token_expires_at,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		account.ID, account.Email, account.PasswordHash, account.FirstName,
		account.LastName, account.Role, nullString(account.VerificationToken),
		nullTime(account.VerifiedAt), nullString(account.ResetToken),
		nullTime(account.ResetTokenExpiresAt), account.CreatedAt, account.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("insert account: %w", err)
	}

	return nil
}

func (r *Repository) Update(ctx context.Context, account Account) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET email = $2, password_hash = $3, first_name = $4, last_name = $5,
			role = $6, verification_token = $7, verified_at = $8,
			reset_token = $9, reset_token_expires_at = $10, updated_at = $11
		WHERE id = $1
	`,
		account.ID, account.Email, account.PasswordHash, account.FirstName,
		account.LastName, account.Role, nullString(account.VerificationToken),
		nullTime(account.VerifiedAt), nullString(account.ResetToken),
		nullTime(account.ResetTokenExpiresAt), account.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("update account: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	return nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// ClearStaleResetTokens empties reset slots whose expiry passed before the
// cutoff. Used by the maintenance endpoint, never by the request path.
func (r *Repository) ClearStaleResetTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET reset_token = NULL, reset_token_expires_at = NULL
		WHERE reset_token_expires_at IS NOT NULL AND reset_token_expires_at < $1
	`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("clear stale reset tokens: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale reset tokens rows affected: %w", err)
	}

	return affected, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (Account, error) {
	var account Account
	var verificationToken, resetToken sql.NullString
	var verifiedAt, resetTokenExpiresAt sql.NullTime

	err := row.Scan(
		&account.ID, &account.Email, &account.PasswordHash, &account.FirstName,
		&account.LastName, &account.Role, &verificationToken, &verifiedAt,
		&resetToken, &resetTokenExpiresAt, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return Account{}, err
	}

	account.VerificationToken = verificationToken.String
	account.ResetToken = resetToken.String
	if verifiedAt.Valid {
		value := verifiedAt.Time.UTC()
		account.VerifiedAt = &value
	}
	if resetTokenExpiresAt.Valid {
		value := resetTokenExpiresAt.Time.UTC()
		account.ResetTokenExpiresAt = &value
	}

	return account, nil
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var ErrDuplicateEmail = errors.New("email already registered")
