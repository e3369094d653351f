package session

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"accounts-service/internal/observability"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour

	refreshTokenBytes = 40
)

type Store interface {
	Create(ctx context.Context, token RefreshToken) error
	GetByValue(ctx context.Context, value string) (RefreshToken, error)
	Rotate(ctx context.Context, oldValue string, next RefreshToken, ip string, now time.Time) (RefreshToken, error)
	Revoke(ctx context.Context, value, ip string, now time.Time) error
}

type Service struct {
	store      Store
	jwtSecret  []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewService(store Store, jwtSecret string) *Service {
	return &Service{
		store:      store,
		jwtSecret:  []byte(jwtSecret),
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
	}
}

func (s *Service) WithTokenTTLs(accessTTL, refreshTTL time.Duration) {
	if accessTTL > 0 {
		s.accessTTL = accessTTL
	}
	if refreshTTL > 0 {
		s.refreshTTL = refreshTTL
	}
}

// Issue starts a fresh session: a signed access token plus a persisted
// refresh token that opens a new rotation chain.
func (s *Service) Issue(ctx context.Context, accountID, ip string) (string, RefreshToken, error) {
	access, err := s.mintAccessToken(accountID)
	if err != nil {
		return "", RefreshToken{}, err
	}

	token, err := s.newRefreshToken(accountID, ip)
	if err != nil {
		return "", RefreshToken{}, err
	}

	if err := s.store.Create(ctx, token); err != nil {
		return "", RefreshToken{}, err
	}

	observability.AccessTokensIssued.Inc()
	observability.RefreshTokensIssued.Inc()

	return access, token, nil
}

// Rotate retires the presented token and links its successor. A token
// that is unknown, revoked, or expired fails the same way; the caller
// learns nothing beyond "invalid".
func (s *Service) Rotate(ctx context.Context, oldValue, ip string) (string, RefreshToken, error) {
	oldValue = strings.TrimSpace(oldValue)
	if oldValue == "" {
		return "", RefreshToken{}, ErrInvalidToken
	}

	next, err := s.newRefreshToken("", ip)
	if err != nil {
		return "", RefreshToken{}, err
	}

	rotated, err := s.store.Rotate(ctx, oldValue, next, ip, time.Now().UTC())
	if err != nil {
		return "", RefreshToken{}, err
	}

	access, err := s.mintAccessToken(rotated.AccountID)
	if err != nil {
		return "", RefreshToken{}, err
	}

	observability.AccessTokensIssued.Inc()
	observability.RefreshTokensRotated.Inc()

	return access, rotated, nil
}

func (s *Service) Revoke(ctx context.Context, value, ip string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return ErrInvalidToken
	}

	if err := s.store.Revoke(ctx, value, ip, time.Now().UTC()); err != nil {
		return err
	}

	observability.RefreshTokensRevoked.Inc()

	return nil
}

// GetByValue returns the token in whatever state it is in; the ownership
// gate needs revoked and expired rows too.
func (s *Service) GetByValue(ctx context.Context, value string) (RefreshToken, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return RefreshToken{}, ErrInvalidToken
	}

	token, err := s.store.GetByValue(ctx, value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RefreshToken{}, ErrInvalidToken
		}
		return RefreshToken{}, err
	}

	return token, nil
}

// ParseAccessToken verifies the signature and returns the subject
// account id.
func (s *Service) ParseAccessToken(tokenString string) (string, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", ErrInvalidAccessToken
	}
	if tokenType, _ := claims["typ"].(string); tokenType != "access" {
		return "", ErrInvalidAccessToken
	}

	subject, _ := claims["sub"].(string)
	if subject == "" {
		return "", ErrInvalidAccessToken
	}

	return subject, nil
}

func (s *Service) mintAccessToken(accountID string) (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub": accountID,
		"iat": now.Unix(),
		"exp": now.Add(s.accessTTL).Unix(),
		"typ": "access",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	encoded, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}

	return encoded, nil
}

func (s *Service) newRefreshToken(accountID, ip string) (RefreshToken, error) {
	value, err := randomTokenValue()
	if err != nil {
		return RefreshToken{}, fmt.Errorf("generate refresh token: %w", err)
	}

	now := time.Now().UTC()

	return RefreshToken{
		Token:       value,
		AccountID:   accountID,
		ExpiresAt:   now.Add(s.refreshTTL),
		CreatedAt:   now,
		CreatedByIP: ip,
	}, nil
}

func randomTokenValue() (string, error) {
	b := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

var ErrInvalidAccessToken = errors.New("invalid access token")
