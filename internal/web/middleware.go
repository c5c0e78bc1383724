package web

import (
	"context"
	"errors"
	"net/http"

	"github.com/charmbracelet/log"

	"github.com/petcare-market/maintenance-gate/internal/auth"
	"github.com/petcare-market/maintenance-gate/internal/domain"
)

type contextKey string

const sessionContextKey contextKey = "session"

// sessionAuth requires a valid admin session cookie.
func (s *Server) sessionAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := s.sessions.Get(r)
		if err != nil {
			http.Redirect(w, r, "/admin/login", http.StatusSeeOther)
			return
		}

		if session.Method == auth.MethodAPIKey {
			if err := s.checkKeySession(r.Context(), session); err != nil {
				if !errors.Is(err, domain.ErrUnauthorized) {
					log.Error("Session key check failed", "error", err)
				}
				s.sessions.Clear(w)
				redirectWithFlash(w, r, "/admin/login", "error", "Session expired, please sign in again")
				return
			}
		}

		ctx := context.WithValue(r.Context(), sessionContextKey, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// checkKeySession makes API key sessions end when their key is deleted.
func (s *Server) checkKeySession(ctx context.Context, session *auth.Session) error {
	if s.bootstrapKey != "" && auth.ConstantTimeCompare(session.KeyHash, auth.HashAPIKey(s.bootstrapKey)) {
		count, err := s.store.CountAPIKeys(ctx)
		if err != nil {
			return err
		}
		if count == 0 {
			return nil
		}
		return domain.ErrUnauthorized
	}

	if _, err := s.store.GetAPIKeyByHash(ctx, session.KeyHash); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrUnauthorized
		}
		return err
	}
	return nil
}

// getSession retrieves the session from context.
func getSession(ctx context.Context) *auth.Session {
	session, _ := ctx.Value(sessionContextKey).(*auth.Session)
	return session
}

// actor names the signed-in administrator for audit fields.
func actor(ctx context.Context) string {
	if session := getSession(ctx); session != nil {
		return session.Actor()
	}
	return ""
}
