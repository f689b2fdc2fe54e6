package dto

import (
	"time"

	"github.com/coinpulse/coinpulse/internal/model"
)

// CredentialsRequest is the body of register and login.
type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// MessageResponse is the body of every auth endpoint.
// Error carries internal detail and is only filled in development.
type MessageResponse struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// UserResponse represents an account in API responses.
type UserResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// ProtectedResponse is the body of GET /api/auth/protected.
type ProtectedResponse struct {
	Message string       `json:"message"`
	User    UserResponse `json:"user"`
}

// ToProtectedResponse converts the session user to its API form.
func ToProtectedResponse(user *model.User) ProtectedResponse {
	return ProtectedResponse{
		Message: "Protected content",
		User: UserResponse{
			ID:        user.ID,
			Email:     user.Email,
			CreatedAt: user.CreatedAt.UTC(),
		},
	}
}
