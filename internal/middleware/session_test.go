package middleware

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coinpulse/coinpulse/internal/auth"
	"github.com/coinpulse/coinpulse/internal/model"
	"github.com/coinpulse/coinpulse/internal/service"
)

type fakeAuthenticator struct {
	user *model.User
	err  error
}

func (f *fakeAuthenticator) Authenticate(context.Context, string) (*model.User, error) {
	return f.user, f.err
}

func serveSession(t *testing.T, authenticator Authenticator, cookie string) *httptest.ResponseRecorder {
	t.Helper()

	var seen string
	handler := RequireSession(authenticator, slog.New(slog.NewTextHandler(io.Discard, nil)))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = auth.UserIDFromContext(r.Context())
			_, _ = w.Write([]byte(seen))
		}),
	)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/protected", nil)
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: cookie})
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRequireSession_NoCookie(t *testing.T) {
	rec := serveSession(t, &fakeAuthenticator{}, "")

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"message":"Unauthorized"`) {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestRequireSession_InvalidToken(t *testing.T) {
	err := fmt.Errorf("%w: %v", service.ErrUnauthorized, auth.ErrInvalidToken)
	rec := serveSession(t, &fakeAuthenticator{err: err}, "bad")

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"message":"Invalid token"`) {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestRequireSession_StoreFailure(t *testing.T) {
	rec := serveSession(t, &fakeAuthenticator{err: errors.New("pool closed")}, "tok")

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "pool closed") {
		t.Error("internal error text must not leak")
	}
}

func TestRequireSession_Valid(t *testing.T) {
	rec := serveSession(t, &fakeAuthenticator{user: &model.User{ID: "01HUSER", Email: "a@example.com"}}, "tok")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "01HUSER" {
		t.Errorf("user not placed in context, got %q", rec.Body.String())
	}
}
