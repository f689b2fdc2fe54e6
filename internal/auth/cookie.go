package auth

import (
	"net/http"
	"time"
)

// SessionCookieName is the cookie carrying the session token.
const SessionCookieName = "token"

// CookiePolicy decides the session cookie flags.
// Production serves a cross-origin client, so the cookie must be
// Secure with SameSite=None; development runs over plain HTTP.
type CookiePolicy struct {
	Production bool
	MaxAge     time.Duration
}

// Set writes the session cookie holding token.
func (p CookiePolicy) Set(w http.ResponseWriter, token string) {
	http.SetCookie(w, p.cookie(token, int(p.MaxAge/time.Second)))
}

// Clear expires the session cookie.
func (p CookiePolicy) Clear(w http.ResponseWriter) {
	http.SetCookie(w, p.cookie("", -1))
}

func (p CookiePolicy) cookie(value string, maxAge int) *http.Cookie {
	c := &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if p.Production {
		c.Secure = true
		c.SameSite = http.SameSiteNoneMode
	}
	return c
}

// TokenFromRequest returns the session token cookie value, or "" if absent.
func TokenFromRequest(r *http.Request) string {
	c, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}
