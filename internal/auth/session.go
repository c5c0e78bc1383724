package auth

import (
	"fmt"
	"net/http"
	"time"
)

// SessionCookieName is the admin console session cookie.
const SessionCookieName = "gate_admin_session"

// Login methods recorded in a session.
const (
	MethodAPIKey = "api_key"
	MethodOIDC   = "oidc"
)

// Session identifies a signed-in administrator.
type Session struct {
	Method string `json:"method"`
	// KeyHash is set for API key logins so the key can be re-checked on each request.
	KeyHash   string    `json:"key_hash,omitempty"`
	Subject   string    `json:"sub,omitempty"`
	Email     string    `json:"email,omitempty"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Actor is the name recorded on the changes this administrator makes.
func (s *Session) Actor() string {
	if s.Email != "" {
		return s.Email
	}
	return s.Name
}

// SessionManager stores sessions in encrypted cookies.
type SessionManager struct {
	sealer   *sealer
	jar      cookieJar
	duration time.Duration
	now      func() time.Time
}

// NewSessionManager creates a session manager. The key must be exactly 32 bytes.
func NewSessionManager(key []byte, duration time.Duration, secure bool) (*SessionManager, error) {
	s, err := newSealer(key)
	if err != nil {
		return nil, err
	}
	if duration <= 0 {
		duration = 12 * time.Hour
	}
	return &SessionManager{
		sealer:   s,
		jar:      cookieJar{name: SessionCookieName, path: "/admin", secure: secure},
		duration: duration,
		now:      time.Now,
	}, nil
}

// Create writes a session cookie, stamping creation and expiry times.
func (sm *SessionManager) Create(w http.ResponseWriter, session *Session) error {
	session.CreatedAt = sm.now()
	session.ExpiresAt = session.CreatedAt.Add(sm.duration)

	value, err := sm.sealer.seal(session)
	if err != nil {
		return fmt.Errorf("sealing session: %w", err)
	}
	sm.jar.set(w, value, sm.duration)
	return nil
}

// Get reads and validates the session cookie.
func (sm *SessionManager) Get(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCookie, err)
	}

	var session Session
	if err := sm.sealer.open(cookie.Value, &session); err != nil {
		return nil, err
	}
	if !sm.now().Before(session.ExpiresAt) {
		return nil, fmt.Errorf("%w: session expired", ErrInvalidCookie)
	}
	return &session, nil
}

// Clear removes the session cookie.
func (sm *SessionManager) Clear(w http.ResponseWriter) {
	sm.jar.clear(w)
}
