package session

import (
	"net/http"
)

// CookieName is the durable credential cookie.
const CookieName = "session_token"

// cookieMaxAge is seven days, matching the backend token lifetime.
const cookieMaxAge = 7 * 24 * 60 * 60

// Store abstracts the credential holder for one browser interaction so the
// bootstrap logic can be tested against a fake instead of real cookies. At
// most one token is held at a time.
type Store interface {
	Token() (string, bool)
	Set(token string)
	Clear()
}

// CookieStore reads the session cookie from the inbound request and writes
// Set-Cookie headers on the response. A Set or Clear during the interaction
// shadows the inbound value for subsequent Token calls.
type CookieStore struct {
	w        http.ResponseWriter
	r        *http.Request
	override *string
}

// NewCookieStore binds a store to one request/response pair.
func NewCookieStore(w http.ResponseWriter, r *http.Request) *CookieStore {
	return &CookieStore{w: w, r: r}
}

// Token returns the current credential, absent when never set or cleared.
func (s *CookieStore) Token() (string, bool) {
	if s.override != nil {
		return *s.override, *s.override != ""
	}
	c, err := s.r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

// Set stores the durable token: path=/, secure, cross-site-sendable, 7 days.
func (s *CookieStore) Set(token string) {
	s.override = &token
	http.SetCookie(s.w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   cookieMaxAge,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
}

// Clear expires the cookie immediately.
func (s *CookieStore) Clear() {
	empty := ""
	s.override = &empty
	http.SetCookie(s.w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
}
