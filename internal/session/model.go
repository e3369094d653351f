package session

import "time"

// RefreshToken is one link in a login session's rotation chain. Rows are
// append-only: after a token is superseded nothing about it changes again.
type RefreshToken struct {
	Token           string
	AccountID       string
	ExpiresAt       time.Time
	CreatedAt       time.Time
	CreatedByIP     string
	RevokedAt       *time.Time
	RevokedByIP     string
	ReplacedByToken string
}

func (t RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

func (t RefreshToken) IsActive(now time.Time) bool {
	return t.RevokedAt == nil && !t.IsExpired(now)
}

// CanManageToken reports whether the caller may revoke the token: the
// owning account, or any admin.
func CanManageToken(callerID string, callerIsAdmin bool, token RefreshToken) bool {
	return callerIsAdmin || token.AccountID == callerID
}
