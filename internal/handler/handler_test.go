package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_Root(t *testing.T) {
	rec := httptest.NewRecorder()
	New().Root(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, map[string]string{
		"message": "coinpulse market data API",
		"version": Version,
	}, body)
}

func TestHandler_Fallbacks(t *testing.T) {
	h := New()

	tests := []struct {
		name     string
		serve    http.HandlerFunc
		method   string
		path     string
		wantCode int
		wantErr  string
	}{
		{"unknown route", h.NotFound, http.MethodGet, "/api/tokens", http.StatusNotFound, "Route not found"},
		{"wrong method", h.MethodNotAllowed, http.MethodDelete, "/api/coins", http.StatusMethodNotAllowed, "Method not allowed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.serve(rec, httptest.NewRequest(tt.method, tt.path, nil))

			assert.Equal(t, tt.wantCode, rec.Code)

			var body map[string]string
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.wantErr, body["error"])
		})
	}
}

func TestErrorDetail(t *testing.T) {
	err := assert.AnError

	assert.Equal(t, "Something went wrong", errorDetail(err, false))
	assert.Equal(t, err.Error(), errorDetail(err, true))
}
