package dto

// ErrorResponse is the body of router-level errors such as 404 and 405.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
