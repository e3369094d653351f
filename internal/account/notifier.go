package account

import (
	"context"

	"accounts-service/internal/observability"
)

// Notifier delivers account notices. Mail transport lives outside this
// service; the default implementation only records the intent.
type Notifier interface {
	AlreadyRegistered(ctx context.Context, email string)
	Verification(ctx context.Context, email, token string)
	PasswordReset(ctx context.Context, email, token string)
}

type LogNotifier struct {
	logger *observability.Logger
}

func NewLogNotifier(logger *observability.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) AlreadyRegistered(ctx context.Context, email string) {
	n.logger.Info("notice_already_registered", map[string]any{"email": email})
}

func (n *LogNotifier) Verification(ctx context.Context, email, token string) {
	n.logger.Info("notice_verification", map[string]any{"email": email})
}

func (n *LogNotifier) PasswordReset(ctx context.Context, email, token string) {
	n.logger.Info("notice_password_reset", map[string]any{"email": email})
}
