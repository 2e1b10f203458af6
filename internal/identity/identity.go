// Package identity is the boundary to the external identity service. The
// rest of the system only ever asks "who is making this request" and "where
// do login/logout live"; how that is answered is deployment detail.
package identity

import "net/http"

// User describes the identity attached to a request.
type User struct {
	LoggedIn bool
	Admin    bool
	Name     string
	Email    string
}

// Service resolves request identity and issues login/logout URLs.
type Service interface {
	Current(r *http.Request) User
	LoginURL(dest string) string
	LogoutURL(dest string) string
}

// HeaderService trusts identity headers injected by an authenticating reverse
// proxy in front of the app.
type HeaderService struct {
	loginURL  string
	logoutURL string
}

// NewHeaderService constructs a HeaderService with the configured auth URLs.
func NewHeaderService(loginURL, logoutURL string) *HeaderService {
	return &HeaderService{loginURL: loginURL, logoutURL: logoutURL}
}

// Current reads the proxy-supplied identity headers. An absent X-Auth-User
// means the request is anonymous.
func (s *HeaderService) Current(r *http.Request) User {
	name := r.Header.Get("X-Auth-User")
	if name == "" {
		return User{}
	}
	return User{
		LoggedIn: true,
		Admin:    r.Header.Get("X-Auth-Admin") == "true",
		Name:     name,
		Email:    r.Header.Get("X-Auth-Email"),
	}
}

// LoginURL returns the external login page, redirecting back to dest.
func (s *HeaderService) LoginURL(dest string) string {
	return s.loginURL + "?next=" + dest
}

// LogoutURL returns the external logout page, redirecting back to dest.
func (s *HeaderService) LogoutURL(dest string) string {
	return s.logoutURL + "?next=" + dest
}
