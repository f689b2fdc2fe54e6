package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coinpulse/coinpulse/internal/auth"
	"github.com/coinpulse/coinpulse/internal/handler/dto"
	"github.com/coinpulse/coinpulse/internal/service"
)

// AuthService is the account side used by AuthHandler.
type AuthService interface {
	Register(ctx context.Context, email, password string) (*service.Session, error)
	Login(ctx context.Context, email, password string) (*service.Session, error)
}

// AuthHandler handles register, login, logout and the protected check.
type AuthHandler struct {
	svc          AuthService
	cookies      auth.CookiePolicy
	logger       *slog.Logger
	exposeErrors bool
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(svc AuthService, cookies auth.CookiePolicy, logger *slog.Logger, exposeErrors bool) *AuthHandler {
	return &AuthHandler{
		svc:          svc,
		cookies:      cookies,
		logger:       logger,
		exposeErrors: exposeErrors,
	}
}

// Register handles POST /api/auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req dto.CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.MessageResponse{Message: "Invalid request body"})
		return
	}

	session, err := h.svc.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.cookies.Set(w, session.Token)
	h.logger.Info("user_registered", "user_id", session.User.ID)
	writeJSON(w, http.StatusCreated, dto.MessageResponse{Message: "Registered successfully"})
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req dto.CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.MessageResponse{Message: "Invalid request body"})
		return
	}

	session, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.cookies.Set(w, session.Token)
	writeJSON(w, http.StatusOK, dto.MessageResponse{Message: "Login successful"})
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.cookies.Clear(w)
	writeJSON(w, http.StatusOK, dto.MessageResponse{Message: "Logged out successfully"})
}

// Protected handles GET /api/auth/protected. It runs behind RequireSession.
func (h *AuthHandler) Protected(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, dto.MessageResponse{Message: "Unauthorized"})
		return
	}

	writeJSON(w, http.StatusOK, dto.ToProtectedResponse(user))
}

// handleServiceError maps service errors to HTTP responses.
func (h *AuthHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, dto.MessageResponse{Message: "Email and password are required"})
	case errors.Is(err, service.ErrDuplicateEmail):
		writeJSON(w, http.StatusBadRequest, dto.MessageResponse{Message: "Email already exists"})
	case errors.Is(err, service.ErrUserNotFound):
		writeJSON(w, http.StatusNotFound, dto.MessageResponse{Message: "User not found"})
	case errors.Is(err, service.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, dto.MessageResponse{Message: "Invalid credentials"})
	default:
		h.logger.Error("internal_error", "error", err)
		resp := dto.MessageResponse{Message: "Something went wrong"}
		if h.exposeErrors {
			resp.Error = err.Error()
		}
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}
