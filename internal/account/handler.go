package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/go-playground/validator/v10"

	"accounts-service/internal/session"
)

const (
	refreshCookieName = "refreshToken"
	maxJSONBodyBytes  = 1 << 20
)

var validate = validator.New()

type contextKey struct{}

var callerKey contextKey

// CallerFromContext returns the authenticated account placed by Authorize.
func CallerFromContext(ctx context.Context) (Account, bool) {
	caller, ok := ctx.Value(callerKey).(Account)
	return caller, ok
}

type Handler struct {
	service  *Service
	sessions *session.Service
}

func NewHandler(service *Service, sessions *session.Service) *Handler {
	return &Handler{service: service, sessions: sessions}
}

// Authorize validates the Bearer token and loads the caller's account.
// Role always comes from the store, never from the token.
func (h *Handler) Authorize(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization token")
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeError(w, http.StatusUnauthorized, "invalid authorization format")
			return
		}

		subject, err := h.sessions.ParseAccessToken(strings.TrimSpace(parts[1]))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		caller, err := h.service.Get(r.Context(), subject)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey, caller)))
	})
}

type authenticateRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type authResponse struct {
	Projection
	AccessToken string `json:"accessToken"`
}

func (h *Handler) Authenticate(w http.ResponseWriter, r *http.Request) {
	var body authenticateRequest
	if !h.decode(w, r, &body) {
		return
	}

	account, err := h.service.Authenticate(r.Context(), body.Email, body.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			writeError(w, http.StatusBadRequest, "Email or password is incorrect")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to authenticate")
		return
	}

	access, refresh, err := h.sessions.Issue(r.Context(), account.ID, clientIP(r))
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to authenticate")
		return
	}

	setRefreshCookie(w, refresh)
	writeJSON(w, http.StatusOK, authResponse{Projection: account.Project(), AccessToken: access})
}

type refreshRequest struct {
	Token string `json:"token"`
}

func (h *Handler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	token := h.refreshTokenFromRequest(w, r)
	if token == "" {
		writeError(w, http.StatusBadRequest, "Token is required")
		return
	}

	access, refresh, err := h.sessions.Rotate(r.Context(), token, clientIP(r))
	if err != nil {
		if errors.Is(err, session.ErrInvalidToken) {
			writeError(w, http.StatusBadRequest, "Invalid token")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to refresh token")
		return
	}

	account, err := h.service.Get(r.Context(), refresh.AccountID)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to refresh token")
		return
	}

	setRefreshCookie(w, refresh)
	writeJSON(w, http.StatusOK, authResponse{Projection: account.Project(), AccessToken: access})
}

func (h *Handler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	token := h.refreshTokenFromRequest(w, r)
	if token == "" {
		writeError(w, http.StatusBadRequest, "Token is required")
		return
	}

	stored, err := h.sessions.GetByValue(r.Context(), token)
	if err != nil {
		if errors.Is(err, session.ErrInvalidToken) {
			// Only an admin learns that the token does not exist; anyone
			// else failed the ownership check first.
			if caller.Role == RoleAdmin {
				writeError(w, http.StatusBadRequest, "Invalid token")
			} else {
				writeError(w, http.StatusUnauthorized, "Unauthorized")
			}
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to revoke token")
		return
	}

	if !session.CanManageToken(caller.ID, caller.Role == RoleAdmin, stored) {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if err := h.sessions.Revoke(r.Context(), token, clientIP(r)); err != nil {
		if errors.Is(err, session.ErrInvalidToken) {
			writeError(w, http.StatusBadRequest, "Invalid token")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to revoke token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Token revoked"})
}

type registerRequest struct {
	FirstName       string `json:"firstName" validate:"required"`
	LastName        string `json:"lastName" validate:"required"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=8"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if !h.decode(w, r, &body) {
		return
	}

	err := h.service.Register(r.Context(), RegisterInput{
		FirstName: body.FirstName,
		LastName:  body.LastName,
		Email:     body.Email,
		Password:  body.Password,
	})
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to register")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Registration successful, please check your email for verification instructions"})
}

type verifyEmailRequest struct {
	Token string `json:"token" validate:"required"`
}

func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var body verifyEmailRequest
	if !h.decode(w, r, &body) {
		return
	}

	if err := h.service.VerifyEmail(r.Context(), body.Token); err != nil {
		if errors.Is(err, ErrInvalidToken) {
			writeError(w, http.StatusBadRequest, "Invalid token")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to verify email")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Verification successful, you can now login"})
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var body forgotPasswordRequest
	if !h.decode(w, r, &body) {
		return
	}

	if err := h.service.ForgotPassword(r.Context(), body.Email); err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to process request")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Please check your email for password reset instructions"})
}

type validateResetTokenRequest struct {
	Token string `json:"token" validate:"required"`
}

func (h *Handler) ValidateResetToken(w http.ResponseWriter, r *http.Request) {
	var body validateResetTokenRequest
	if !h.decode(w, r, &body) {
		return
	}

	if err := h.service.ValidateResetToken(r.Context(), body.Token); err != nil {
		if errors.Is(err, ErrInvalidToken) {
			writeError(w, http.StatusBadRequest, "Invalid token")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to validate token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Token is valid"})
}

type resetPasswordRequest struct {
	Token           string `json:"token" validate:"required"`
	Password        string `json:"password" validate:"required,min=8"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var body resetPasswordRequest
	if !h.decode(w, r, &body) {
		return
	}

	if err := h.service.ResetPassword(r.Context(), body.Token, body.Password); err != nil {
		if errors.Is(err, ErrInvalidToken) {
			writeError(w, http.StatusBadRequest, "Invalid token")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to reset password")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Password reset successful, you can now login"})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok || caller.Role != RoleAdmin {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	accounts, err := h.service.List(r.Context())
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list accounts")
		return
	}

	projections := make([]Projection, 0, len(accounts))
	for _, account := range accounts {
		projections = append(projections, account.Project())
	}

	writeJSON(w, http.StatusOK, projections)
}

func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	caller, ok := CallerFromContext(r.Context())
	if !ok || (caller.ID != id && caller.Role != RoleAdmin) {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	account, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "Account not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to get account")
		return
	}

	writeJSON(w, http.StatusOK, account.Project())
}

type createRequest struct {
	FirstName       string `json:"firstName" validate:"required"`
	LastName        string `json:"lastName" validate:"required"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=8"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
	Role            Role   `json:"role" validate:"required,oneof=Admin User"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok || caller.Role != RoleAdmin {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var body createRequest
	if !h.decode(w, r, &body) {
		return
	}

	account, err := h.service.Create(r.Context(), CreateInput{
		FirstName: body.FirstName,
		LastName:  body.LastName,
		Email:     body.Email,
		Password:  body.Password,
		Role:      body.Role,
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyRegistered) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Email %s is already registered", strings.TrimSpace(strings.ToLower(body.Email))))
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to create account")
		return
	}

	writeJSON(w, http.StatusOK, account.Project())
}

type updateRequest struct {
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	Email           string `json:"email" validate:"omitempty,email"`
	Password        string `json:"password" validate:"omitempty,min=8"`
	ConfirmPassword string `json:"confirmPassword" validate:"eqfield=Password"`
	Role            Role   `json:"role" validate:"omitempty,oneof=Admin User"`
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	caller, ok := CallerFromContext(r.Context())
	if !ok || (caller.ID != id && caller.Role != RoleAdmin) {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var body updateRequest
	if !h.decode(w, r, &body) {
		return
	}

	if body.Role != "" && caller.Role != RoleAdmin {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	input := UpdateInput{}
	if body.FirstName != "" {
		input.FirstName = &body.FirstName
	}
	if body.LastName != "" {
		input.LastName = &body.LastName
	}
	if body.Email != "" {
		input.Email = &body.Email
	}
	if body.Password != "" {
		input.Password = &body.Password
	}
	if body.Role != "" {
		input.Role = &body.Role
	}

	account, err := h.service.Update(r.Context(), id, input)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			writeError(w, http.StatusNotFound, "Account not found")
		case errors.Is(err, ErrEmailTaken):
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Email %s is already taken", strings.TrimSpace(strings.ToLower(body.Email))))
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to update account")
		}
		return
	}

	writeJSON(w, http.StatusOK, account.Project())
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	caller, ok := CallerFromContext(r.Context())
	if !ok || (caller.ID != id && caller.Role != RoleAdmin) {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "Account not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to delete account")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Account deleted successfully"})
}

// refreshTokenFromRequest prefers the request body's token field and
// falls back to the refresh cookie, matching the revoke contract.
func (h *Handler) refreshTokenFromRequest(w http.ResponseWriter, r *http.Request) string {
	var body refreshRequest
	if r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	if token := strings.TrimSpace(body.Token); token != "" {
		return token
	}

	cookie, err := r.Cookie(refreshCookieName)
	if err != nil {
		return ""
	}

	return strings.TrimSpace(cookie.Value)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}

	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}

	return true
}

func validationMessage(err error) string {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) || len(fieldErrors) == 0 {
		return "validation failed"
	}

	fe := fieldErrors[0]
	field := lowerFirst(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email", field)
	case "min":
		return fmt.Sprintf("%s is too short", field)
	case "eqfield":
		return "passwords do not match"
	case "oneof":
		return fmt.Sprintf("%s is invalid", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

func lowerFirst(value string) string {
	if value == "" {
		return value
	}
	return strings.ToLower(value[:1]) + value[1:]
}

func setRefreshCookie(w http.ResponseWriter, token session.RefreshToken) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    token.Token,
		Path:     "/accounts",
		Expires:  token.ExpiresAt,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func clientIP(r *http.Request) string {
	xForwardedFor := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xForwardedFor != "" {
		parts := strings.Split(xForwardedFor, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}

	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}

	return "unknown"
}
