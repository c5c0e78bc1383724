package web

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/petcare-market/maintenance-gate/internal/auth"
	"github.com/petcare-market/maintenance-gate/internal/clientip"
	"github.com/petcare-market/maintenance-gate/internal/domain"
	"github.com/petcare-market/maintenance-gate/internal/maintenance"
	"github.com/petcare-market/maintenance-gate/internal/ratelimit"
	"github.com/petcare-market/maintenance-gate/internal/storage/memory"
)

const testBootstrapKey = "bootstrap-secret"

type stubAuthenticator struct {
	claims *auth.Claims
	err    error
	nonce  string
}

func (a *stubAuthenticator) AuthCodeURL(state, nonce string) string {
	return "https://idp.example/authorize?state=" + url.QueryEscape(state)
}

func (a *stubAuthenticator) Exchange(ctx context.Context, code, nonce string) (*auth.Claims, error) {
	a.nonce = nonce
	return a.claims, a.err
}

type testEnv struct {
	store    *memory.Store
	visits   *maintenance.VisitService
	server   *Server
	handler  http.Handler
	sessions *auth.SessionManager
}

func newTestEnv(t *testing.T, oidc auth.Authenticator) *testEnv {
	t.Helper()
	store := memory.New()
	resolver := clientip.NewResolver(nil)
	status := maintenance.NewStatusService(store, nil, maintenance.WithResolver(resolver))
	visits := maintenance.NewVisitService(store, status, nil)
	visits.SetLimiter(ratelimit.NewInMemory(time.Hour), 2)

	key := make([]byte, auth.KeySize)
	sessions, err := auth.NewSessionManager(key, time.Hour, false)
	if err != nil {
		t.Fatalf("NewSessionManager: %v", err)
	}
	states, err := auth.NewStateStore(key, false)
	if err != nil {
		t.Fatalf("NewStateStore: %v", err)
	}

	srv := NewServer(Options{
		Store:        store,
		Status:       status,
		Visits:       visits,
		Resolver:     resolver,
		BootstrapKey: testBootstrapKey,
		Sessions:     sessions,
		States:       states,
		OIDC:         oidc,
	})

	r := chi.NewRouter()
	r.Get("/maintenance", srv.MaintenancePage)
	r.Post("/maintenance/visit", srv.SubmitVisit)
	r.Mount("/admin", srv.AdminRouter())
	r.Handle("/static/*", srv.Static())

	return &testEnv{store: store, visits: visits, server: srv, handler: r, sessions: sessions}
}

func (e *testEnv) do(req *http.Request, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func postForm(path string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.SessionCookieName && c.Value != "" {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func (e *testEnv) login(t *testing.T, key string) *http.Cookie {
	t.Helper()
	rec := e.do(postForm("/admin/login", url.Values{"api_key": {key}}))
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/admin/" {
		t.Fatalf("login: status %d location %q", rec.Code, rec.Header().Get("Location"))
	}
	return sessionCookie(t, rec)
}

func TestMaintenancePagePrefillsClientIP(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.visits.SetMaintenance(context.Background(), true, "Back at noon", "ops"); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/maintenance?redirect=/shop", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.5")
	rec := env.do(req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"Back at noon", `value="203.0.113.5"`, `value="/shop"`, `action="/maintenance/visit"`} {
		if !strings.Contains(body, want) {
			t.Errorf("page missing %q", want)
		}
	}
}

func TestMaintenancePageUnknownIPLeftBlank(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.visits.SetMaintenance(context.Background(), true, "", "ops"); err != nil {
		t.Fatal(err)
	}

	rec := env.do(httptest.NewRequest(http.MethodGet, "/maintenance", nil))
	if strings.Contains(rec.Body.String(), clientip.Unknown) {
		t.Error("unknown address should not be prefilled")
	}
}

func TestMaintenancePageWhenAvailable(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/maintenance?redirect=//evil.example", nil))
	body := rec.Body.String()
	if !strings.Contains(body, "available again") {
		t.Error("expected available message while maintenance is off")
	}
	if strings.Contains(body, "evil.example") {
		t.Error("protocol-relative redirect must not be rendered")
	}
	if strings.Contains(body, "<form") {
		t.Error("visit form should be hidden while the site is available")
	}
}

func TestSubmitVisit(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	if _, err := env.visits.SetMaintenance(ctx, true, "", "ops"); err != nil {
		t.Fatal(err)
	}

	rec := env.do(postForm("/maintenance/visit", url.Values{"name": {"Alice"}, "ip_address": {"10.0.0.1"}}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Request sent") {
		t.Error("expected confirmation message")
	}

	pending, err := env.visits.List(ctx, domain.VisitPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Name != "Alice" || pending[0].IPAddress != "10.0.0.1" {
		t.Errorf("unexpected pending requests %+v", pending)
	}
}

func TestSubmitVisitErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.visits.SetMaintenance(context.Background(), true, "", "ops"); err != nil {
		t.Fatal(err)
	}

	rec := env.do(postForm("/maintenance/visit", url.Values{"name": {""}, "ip_address": {"10.0.0.1"}}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing name: status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "name is required") {
		t.Error("expected validation message")
	}

	rec = env.do(postForm("/maintenance/visit", url.Values{"name": {"Bob"}, "ip_address": {"abc"}}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad ip: status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `value="Bob"`) {
		t.Error("form should keep submitted values")
	}

	// The limit is 2 per client and both attempts above counted.
	rec = env.do(postForm("/maintenance/visit", url.Values{"name": {"Carol"}, "ip_address": {"10.0.0.3"}}))
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("third attempt: status = %d, want 429", rec.Code)
	}
}

func TestAdminRequiresSession(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/admin/", nil))
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/admin/login" {
		t.Errorf("status %d location %q", rec.Code, rec.Header().Get("Location"))
	}

	rec = env.do(postForm("/admin/maintenance", url.Values{"enabled": {"true"}}))
	if rec.Code != http.StatusSeeOther {
		t.Errorf("unauthenticated toggle: status %d", rec.Code)
	}
	settings, _ := env.visits.Settings(context.Background())
	if settings.Enabled {
		t.Error("unauthenticated toggle must not change settings")
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(postForm("/admin/login", url.Values{"api_key": {"wrong"}}))
	if loc := rec.Header().Get("Location"); !strings.HasPrefix(loc, "/admin/login?error=") {
		t.Errorf("bad key location = %q", loc)
	}

	cookie := env.login(t, testBootstrapKey)
	rec = env.do(httptest.NewRequest(http.MethodGet, "/admin/", nil), cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("dashboard status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Bootstrap Key") {
		t.Error("dashboard should show the signed-in key name")
	}
}

func TestLoginPageShowsSSOOnlyWhenConfigured(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/admin/login?error=nope", nil))
	body := rec.Body.String()
	if strings.Contains(body, "/admin/auth/login") {
		t.Error("SSO link shown without OIDC")
	}
	if !strings.Contains(body, "nope") {
		t.Error("flash message not rendered")
	}

	env = newTestEnv(t, &stubAuthenticator{})
	rec = env.do(httptest.NewRequest(http.MethodGet, "/admin/login", nil))
	if !strings.Contains(rec.Body.String(), "/admin/auth/login") {
		t.Error("SSO link missing with OIDC configured")
	}
}

func TestBootstrapSessionEndsOnceKeysExist(t *testing.T) {
	env := newTestEnv(t, nil)
	cookie := env.login(t, testBootstrapKey)

	key := &domain.APIKey{ID: "k1", Name: "ops", KeyHash: auth.HashAPIKey("mgk_real"), CreatedAt: time.Now()}
	if err := env.store.CreateAPIKey(context.Background(), key); err != nil {
		t.Fatal(err)
	}

	rec := env.do(httptest.NewRequest(http.MethodGet, "/admin/", nil), cookie)
	if loc := rec.Header().Get("Location"); !strings.HasPrefix(loc, "/admin/login") {
		t.Errorf("expected redirect to login, got %d %q", rec.Code, loc)
	}
}

func TestKeySessionEndsWhenKeyDeleted(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	key := &domain.APIKey{ID: "k1", Name: "ops", KeyHash: auth.HashAPIKey("mgk_real"), CreatedAt: time.Now()}
	if err := env.store.CreateAPIKey(ctx, key); err != nil {
		t.Fatal(err)
	}

	cookie := env.login(t, "mgk_real")
	if rec := env.do(httptest.NewRequest(http.MethodGet, "/admin/", nil), cookie); rec.Code != http.StatusOK {
		t.Fatalf("dashboard status = %d", rec.Code)
	}

	if err := env.store.DeleteAPIKey(ctx, "k1"); err != nil {
		t.Fatal(err)
	}
	rec := env.do(httptest.NewRequest(http.MethodGet, "/admin/", nil), cookie)
	if rec.Code != http.StatusSeeOther {
		t.Errorf("expected redirect after key deletion, got %d", rec.Code)
	}
}

func TestAdminWorkflow(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	cookie := env.login(t, testBootstrapKey)

	rec := env.do(postForm("/admin/maintenance", url.Values{"enabled": {"true"}, "message": {" Upgrading "}}), cookie)
	if loc := rec.Header().Get("Location"); !strings.Contains(loc, "success=") {
		t.Fatalf("toggle location = %q", loc)
	}
	settings, _ := env.visits.Settings(ctx)
	if !settings.Enabled || settings.Message != "Upgrading" || settings.UpdatedBy != "Bootstrap Key" {
		t.Errorf("unexpected settings %+v", settings)
	}

	req, err := env.visits.Create(ctx, "Alice", "10.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	rec = env.do(httptest.NewRequest(http.MethodGet, "/admin/", nil), cookie)
	if !strings.Contains(rec.Body.String(), "/admin/visit-requests/"+req.ID+"/approve") {
		t.Error("pending request not listed on dashboard")
	}

	rec = env.do(postForm("/admin/visit-requests/"+req.ID+"/approve", nil), cookie)
	if loc := rec.Header().Get("Location"); !strings.Contains(loc, "success=") {
		t.Errorf("approve location = %q", loc)
	}
	if ok, _ := env.visits.IsIPApproved(ctx, "10.0.0.1"); !ok {
		t.Error("approved request should add its IP")
	}

	rec = env.do(postForm("/admin/visit-requests/"+req.ID+"/reject", nil), cookie)
	if loc := rec.Header().Get("Location"); !strings.Contains(loc, "error=") {
		t.Errorf("second decision should fail, location = %q", loc)
	}

	rec = env.do(postForm("/admin/approved-ips", url.Values{"address": {"203.0.113.9"}, "label": {"vpn"}}), cookie)
	if loc := rec.Header().Get("Location"); !strings.Contains(loc, "success=") {
		t.Errorf("add location = %q", loc)
	}
	rec = env.do(postForm("/admin/approved-ips", url.Values{"address": {"nope"}}), cookie)
	if loc := rec.Header().Get("Location"); !strings.Contains(loc, "error=") {
		t.Errorf("invalid add location = %q", loc)
	}

	rec = env.do(postForm("/admin/approved-ips/delete", url.Values{"address": {"203.0.113.9"}}), cookie)
	if loc := rec.Header().Get("Location"); !strings.Contains(loc, "success=") {
		t.Errorf("delete location = %q", loc)
	}
	if ok, _ := env.visits.IsIPApproved(ctx, "203.0.113.9"); ok {
		t.Error("address should be removed")
	}
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t, nil)
	cookie := env.login(t, testBootstrapKey)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/admin/logout", nil), cookie)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d", rec.Code)
	}
	var cleared bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.SessionCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("session cookie not cleared")
	}
}

func TestOIDCFlow(t *testing.T) {
	authn := &stubAuthenticator{claims: &auth.Claims{Subject: "u1", Email: "ops@example.com", Name: "Ops"}}
	env := newTestEnv(t, authn)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/admin/auth/login", nil))
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("login status = %d", rec.Code)
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	state := loc.Query().Get("state")
	var stateCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.StateCookieName {
			stateCookie = c
		}
	}
	if state == "" || stateCookie == nil {
		t.Fatal("expected state in redirect and cookie")
	}

	bad := env.do(httptest.NewRequest(http.MethodGet, "/admin/auth/callback?code=c&state=forged", nil), stateCookie)
	if l := bad.Header().Get("Location"); !strings.HasPrefix(l, "/admin/login?error=") {
		t.Errorf("forged state location = %q", l)
	}

	rec = env.do(httptest.NewRequest(http.MethodGet, "/admin/auth/callback?code=c&state="+url.QueryEscape(state), nil), stateCookie)
	if rec.Header().Get("Location") != "/admin/" {
		t.Fatalf("callback location = %q", rec.Header().Get("Location"))
	}
	if authn.nonce == "" {
		t.Error("nonce not passed to exchange")
	}

	cookie := sessionCookie(t, rec)
	dash := env.do(httptest.NewRequest(http.MethodGet, "/admin/", nil), cookie)
	if dash.Code != http.StatusOK || !strings.Contains(dash.Body.String(), "ops@example.com") {
		t.Errorf("dashboard status %d", dash.Code)
	}
}

func TestOIDCExchangeRejected(t *testing.T) {
	authn := &stubAuthenticator{err: errors.New("email domain example.org is not allowed")}
	env := newTestEnv(t, authn)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/admin/auth/login", nil))
	loc, _ := url.Parse(rec.Header().Get("Location"))
	var stateCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.StateCookieName {
			stateCookie = c
		}
	}

	rec = env.do(httptest.NewRequest(http.MethodGet, "/admin/auth/callback?code=c&state="+url.QueryEscape(loc.Query().Get("state")), nil), stateCookie)
	if l := rec.Header().Get("Location"); !strings.HasPrefix(l, "/admin/login?error=") {
		t.Errorf("location = %q", l)
	}
}

func TestOIDCDisabled(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/admin/auth/login", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestStaticAssets(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/static/style.css", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestSafeRedirect(t *testing.T) {
	tests := map[string]string{
		"":                     "/",
		"/":                    "/",
		"/shop?x=1":            "/shop?x=1",
		"//evil.example":       "/",
		"/\\evil.example":      "/",
		"https://evil.example": "/",
		"shop":                 "/",
	}
	for in, want := range tests {
		if got := safeRedirect(in); got != want {
			t.Errorf("safeRedirect(%q) = %q, want %q", in, got, want)
		}
	}
}
