package maintenance

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"accounts-service/internal/observability"
)

func TestCleanupHandlerDisabledWithoutSecret(t *testing.T) {
	handler := NewCleanupHandler(nil, nil, observability.NewLogger(), "", time.Hour, 100)

	req := httptest.NewRequest(http.MethodPost, "/internal/maintenance/cleanup", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestCleanupHandlerRejectsBadSecret(t *testing.T) {
	handler := NewCleanupHandler(nil, nil, observability.NewLogger(), "real-secret", time.Hour, 100)

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "wrong secret", header: "Bearer wrong-secret"},
		{name: "not bearer", header: "Basic real-secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/internal/maintenance/cleanup", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.Handle(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestCleanupHandlerRejectsOtherMethods(t *testing.T) {
	handler := NewCleanupHandler(nil, nil, observability.NewLogger(), "real-secret", time.Hour, 100)

	req := httptest.NewRequest(http.MethodDelete, "/internal/maintenance/cleanup", nil)
	req.Header.Set("Authorization", "Bearer real-secret")
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
