package http

import (
	"net/http"

	auth "github.com/mind-engage/mindengage-classroom/internal/auth/middleware"
	"github.com/mind-engage/mindengage-classroom/internal/notify"
)

// WSJoinAuthorizer lets a socket join only its own channel. The token comes
// from the upgrade request: bearer header or the session cookie.
func WSJoinAuthorizer(a *auth.AuthService) notify.JoinAuthorizer {
	return func(r *http.Request, role, id string) bool {
		tok := auth.TokenFromRequest(r)
		if tok == "" {
			return false
		}
		c, err := a.Parse(tok)
		if err != nil {
			return false
		}
		if c.Role == "admin" {
			return true
		}
		return c.Sub == id && c.Role == role
	}
}
