package auth

import (
	"fmt"
	"net/http"
	"time"
)

const (
	// StateCookieName carries the OIDC state and nonce between redirect and callback.
	StateCookieName = "gate_oidc_state"
	stateTTL        = 5 * time.Minute
)

// StateData holds the state and nonce for one OIDC login attempt.
type StateData struct {
	State     string    `json:"state"`
	Nonce     string    `json:"nonce"`
	ExpiresAt time.Time `json:"expires_at"`
}

// StateStore keeps OIDC state in an encrypted, short-lived cookie.
type StateStore struct {
	sealer *sealer
	jar    cookieJar
	now    func() time.Time
}

// NewStateStore creates a state store. The key must be exactly 32 bytes.
func NewStateStore(key []byte, secure bool) (*StateStore, error) {
	s, err := newSealer(key)
	if err != nil {
		return nil, err
	}
	return &StateStore{
		sealer: s,
		jar:    cookieJar{name: StateCookieName, path: "/admin", secure: secure},
		now:    time.Now,
	}, nil
}

// Generate creates a state/nonce pair and stores it in the cookie.
func (ss *StateStore) Generate(w http.ResponseWriter) (*StateData, error) {
	state, err := GenerateSecureString(32)
	if err != nil {
		return nil, fmt.Errorf("generating state: %w", err)
	}
	nonce, err := GenerateSecureString(32)
	if err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	data := &StateData{State: state, Nonce: nonce, ExpiresAt: ss.now().Add(stateTTL)}
	value, err := ss.sealer.seal(data)
	if err != nil {
		return nil, fmt.Errorf("sealing state: %w", err)
	}
	ss.jar.set(w, value, stateTTL)
	return data, nil
}

// Validate checks the cookie against the state returned by the provider.
func (ss *StateStore) Validate(r *http.Request, state string) (*StateData, error) {
	cookie, err := r.Cookie(StateCookieName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCookie, err)
	}

	var data StateData
	if err := ss.sealer.open(cookie.Value, &data); err != nil {
		return nil, err
	}
	if !ss.now().Before(data.ExpiresAt) {
		return nil, fmt.Errorf("%w: state expired", ErrInvalidCookie)
	}
	if !ConstantTimeCompare(data.State, state) {
		return nil, fmt.Errorf("%w: state mismatch", ErrInvalidCookie)
	}
	return &data, nil
}

// Clear removes the state cookie.
func (ss *StateStore) Clear(w http.ResponseWriter) {
	ss.jar.clear(w)
}
