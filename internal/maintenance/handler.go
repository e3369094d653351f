package maintenance

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"accounts-service/internal/account"
	"accounts-service/internal/observability"
	"accounts-service/internal/session"
)

type CleanupResult struct {
	DeletedRefreshTokens int64 `json:"deleted_refresh_tokens"`
	ClearedResetTokens   int64 `json:"cleared_reset_tokens"`
}

// CleanupHandler purges refresh-token chains dead since before the
// retention window and empties stale password-reset slots. It stays
// disabled unless a cron secret is configured; the token lifecycle never
// deletes on its own.
type CleanupHandler struct {
	tokens         *session.Repository
	accounts       *account.Repository
	logger         *observability.Logger
	cronSecret     string
	tokenRetention time.Duration
	batchSize      int
}

func NewCleanupHandler(
	tokens *session.Repository,
	accounts *account.Repository,
	logger *observability.Logger,
	cronSecret string,
	tokenRetention time.Duration,
	batchSize int,
) *CleanupHandler {
	if tokenRetention <= 0 {
		tokenRetention = 14 * 24 * time.Hour
	}

	return &CleanupHandler{
		tokens:         tokens,
		accounts:       accounts,
		logger:         logger,
		cronSecret:     strings.TrimSpace(cronSecret),
		tokenRetention: tokenRetention,
		batchSize:      batchSize,
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) != h.cronSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	cutoff := time.Now().UTC().Add(-h.tokenRetention)

	deletedTokens, err := h.tokens.PurgeStaleTokens(r.Context(), cutoff, h.batchSize)
	if err != nil {
		h.logger.Error("token_cleanup_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	clearedResets, err := h.accounts.ClearStaleResetTokens(r.Context(), cutoff)
	if err != nil {
		h.logger.Error("reset_token_cleanup_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	result := CleanupResult{
		DeletedRefreshTokens: deletedTokens,
		ClearedResetTokens:   clearedResets,
	}

	h.logger.Info("cleanup_completed", map[string]any{
		"deleted_refresh_tokens": result.DeletedRefreshTokens,
		"cleared_reset_tokens":   result.ClearedResetTokens,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": result,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
