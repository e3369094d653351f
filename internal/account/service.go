package account

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"accounts-service/internal/observability"
)

const resetTokenTTL = 24 * time.Hour

// Burned on lookups that miss so response timing does not reveal
// whether an email is registered.
var dummyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

type Store interface {
	GetByID(ctx context.Context, id string) (Account, error)
	GetByEmail(ctx context.Context, email string) (Account, error)
	FindByResetToken(ctx context.Context, token string, now time.Time) (Account, error)
	FindByVerificationToken(ctx context.Context, token string) (Account, error)
	Count(ctx context.Context) (int, error)
	List(ctx context.Context) ([]Account, error)
	Create(ctx context.Context, account Account) error
	Update(ctx context.Context, account Account) error
	Delete(ctx context.Context, id string) error
}

type Service struct {
	store    Store
	notifier Notifier
}

func NewService(store Store, notifier Notifier) *Service {
	return &Service{store: store, notifier: notifier}
}

func (s *Service) Authenticate(ctx context.Context, email, password string) (Account, error) {
	email = normalizeEmail(email)
	password = strings.TrimSpace(password)

	if email == "" || password == "" {
		return Account{}, ErrInvalidCredentials
	}

	account, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return Account{}, ErrInvalidCredentials
		}
		return Account{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return Account{}, ErrInvalidCredentials
	}

	return account, nil
}

// Register never reveals whether the email is already taken: a duplicate
// gets the same nil result, and the existing owner is notified instead.
func (s *Service) Register(ctx context.Context, input RegisterInput) error {
	email := normalizeEmail(input.Email)

	if _, err := s.store.GetByEmail(ctx, email); err == nil {
		s.notifier.AlreadyRegistered(ctx, email)
		return nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	count, err := s.store.Count(ctx)
	if err != nil {
		return err
	}
	role := RoleUser
	if count == 0 {
		role = RoleAdmin
	}

	account, err := s.newAccount(email, input.Password, input.FirstName, input.LastName, role)
	if err != nil {
		return err
	}
	verificationToken, err := randomTokenString()
	if err != nil {
		return fmt.Errorf("generate verification token: %w", err)
	}
	account.VerificationToken = verificationToken

	if err := s.store.Create(ctx, account); err != nil {
		// Lost the race against a concurrent registration of the same
		// email; behave exactly like the pre-check hit.
		if errors.Is(err, ErrDuplicateEmail) {
			s.notifier.AlreadyRegistered(ctx, email)
			return nil
		}
		return err
	}

	observability.AccountsRegistered.Inc()
	s.notifier.Verification(ctx, email, verificationToken)

	return nil
}

func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrInvalidToken
	}

	account, err := s.store.FindByVerificationToken(ctx, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrInvalidToken
		}
		return err
	}

	now := time.Now().UTC()
	account.VerifiedAt = &now
	account.VerificationToken = ""
	account.UpdatedAt = now

	return s.store.Update(ctx, account)
}

// ForgotPassword always reports success; a fresh reset token overwrites
// whatever was in the slot before.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)

	account, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}

	resetToken, err := randomTokenString()
	if err != nil {
		return fmt.Errorf("generate reset token: %w", err)
	}

	now := time.Now().UTC()
	expires := now.Add(resetTokenTTL)
	account.ResetToken = resetToken
	account.ResetTokenExpiresAt = &expires
	account.UpdatedAt = now

	if err := s.store.Update(ctx, account); err != nil {
		return err
	}

	s.notifier.PasswordReset(ctx, email, resetToken)

	return nil
}

func (s *Service) ValidateResetToken(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrInvalidToken
	}

	if _, err := s.store.FindByResetToken(ctx, token, time.Now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrInvalidToken
		}
		return err
	}

	return nil
}

func (s *Service) ResetPassword(ctx context.Context, token, password string) error {
	if strings.TrimSpace(token) == "" {
		return ErrInvalidToken
	}

	now := time.Now().UTC()
	account, err := s.store.FindByResetToken(ctx, token, now)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrInvalidToken
		}
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	account.PasswordHash = string(hash)
	account.ResetToken = ""
	account.ResetTokenExpiresAt = nil
	account.UpdatedAt = now

	return s.store.Update(ctx, account)
}

func (s *Service) Get(ctx context.Context, id string) (Account, error) {
	account, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}

	return account, nil
}

func (s *Service) List(ctx context.Context) ([]Account, error) {
	return s.store.List(ctx)
}

// Create is the admin path: the account comes out verified and the
// duplicate-email failure is surfaced, unlike Register.
func (s *Service) Create(ctx context.Context, input CreateInput) (Account, error) {
	email := normalizeEmail(input.Email)

	if _, err := s.store.GetByEmail(ctx, email); err == nil {
		return Account{}, ErrAlreadyRegistered
	} else if !errors.Is(err, sql.ErrNoRows) {
		return Account{}, err
	}

	account, err := s.newAccount(email, input.Password, input.FirstName, input.LastName, input.Role)
	if err != nil {
		return Account{}, err
	}
	now := account.CreatedAt
	account.VerifiedAt = &now

	if err := s.store.Create(ctx, account); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return Account{}, ErrAlreadyRegistered
		}
		return Account{}, err
	}

	return account, nil
}

func (s *Service) Update(ctx context.Context, id string, input UpdateInput) (Account, error) {
	account, err := s.Get(ctx, id)
	if err != nil {
		return Account{}, err
	}

	if input.Email != nil {
		email := normalizeEmail(*input.Email)
		if email != account.Email {
			if _, err := s.store.GetByEmail(ctx, email); err == nil {
				return Account{}, ErrEmailTaken
			} else if !errors.Is(err, sql.ErrNoRows) {
				return Account{}, err
			}
			account.Email = email
		}
	}
	if input.Password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*input.Password), bcrypt.DefaultCost)
		if err != nil {
			return Account{}, fmt.Errorf("hash password: %w", err)
		}
		account.PasswordHash = string(hash)
	}
	if input.FirstName != nil {
		account.FirstName = strings.TrimSpace(*input.FirstName)
	}
	if input.LastName != nil {
		account.LastName = strings.TrimSpace(*input.LastName)
	}
	if input.Role != nil {
		account.Role = *input.Role
	}
	account.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, account); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return Account{}, ErrEmailTaken
		}
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}

	return account, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	return nil
}

func (s *Service) newAccount(email, password, firstName, lastName string, role Role) (Account, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Account{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Account{}, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()

	return Account{
		ID:           id.String(),
		Email:        email,
		PasswordHash: string(hash),
		FirstName:    strings.TrimSpace(firstName),
		LastName:     strings.TrimSpace(lastName),
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

func randomTokenString() (string, error) {
	b := make([]byte, 40)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

var (
	ErrInvalidCredentials = errors.New("email or password is incorrect")
	ErrInvalidToken       = errors.New("invalid token")
	ErrNotFound           = errors.New("account not found")
	ErrAlreadyRegistered  = errors.New("email is already registered")
	ErrEmailTaken         = errors.New("email is already taken")
)
