package web

import (
	"embed"
	"html/template"
	"io/fs"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/petcare-market/maintenance-gate/internal/auth"
	"github.com/petcare-market/maintenance-gate/internal/clientip"
	"github.com/petcare-market/maintenance-gate/internal/maintenance"
	"github.com/petcare-market/maintenance-gate/internal/storage"
)

//go:embed templates/* static/*
var content embed.FS

// Options holds the dependencies of the web UI. OIDC may be nil.
type Options struct {
	Store        storage.Storage
	Status       *maintenance.StatusService
	Visits       *maintenance.VisitService
	Resolver     *clientip.Resolver
	BootstrapKey string
	Sessions     *auth.SessionManager
	States       *auth.StateStore
	OIDC         auth.Authenticator
}

// Server holds dependencies for web handlers.
type Server struct {
	store        storage.Storage
	status       *maintenance.StatusService
	visits       *maintenance.VisitService
	resolver     *clientip.Resolver
	bootstrapKey string
	sessions     *auth.SessionManager
	states       *auth.StateStore
	oidc         auth.Authenticator
	templates    map[string]*template.Template
}

// NewServer parses the embedded templates and returns a Server.
func NewServer(opts Options) *Server {
	resolver := opts.Resolver
	if resolver == nil {
		resolver = clientip.NewResolver(nil)
	}
	s := &Server{
		store:        opts.Store,
		status:       opts.Status,
		visits:       opts.Visits,
		resolver:     resolver,
		bootstrapKey: opts.BootstrapKey,
		sessions:     opts.Sessions,
		states:       opts.States,
		oidc:         opts.OIDC,
	}
	s.templates = parseTemplates()
	return s
}

// Static serves the embedded assets; mount it at /static/.
func (s *Server) Static() http.Handler {
	staticFS, _ := fs.Sub(content, "static")
	return http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
}

// AdminRouter returns the admin console; mount it at /admin.
func (s *Server) AdminRouter() http.Handler {
	r := chi.NewRouter()

	r.Get("/login", s.handleLoginPage)
	r.Post("/login", s.handleLogin)
	r.Get("/logout", s.handleLogout)
	r.Get("/auth/login", s.handleOIDCLogin)
	r.Get("/auth/callback", s.handleOIDCCallback)

	r.Group(func(r chi.Router) {
		r.Use(s.sessionAuth)

		r.Get("/", s.handleDashboard)
		r.Post("/maintenance", s.handleMaintenanceToggle)
		r.Post("/visit-requests/{id}/approve", s.handleVisitApprove)
		r.Post("/visit-requests/{id}/reject", s.handleVisitReject)
		r.Post("/approved-ips", s.handleApprovedIPCreate)
		r.Post("/approved-ips/delete", s.handleApprovedIPDelete)
	})

	return r
}

// parseTemplates parses each page together with the shared layout.
func parseTemplates() map[string]*template.Template {
	funcMap := template.FuncMap{
		"lower":      strings.ToLower,
		"formatTime": formatTime,
	}

	base, err := content.ReadFile("templates/base.html")
	if err != nil {
		panic("reading base template: " + err.Error())
	}

	templates := make(map[string]*template.Template)
	pageFiles, _ := fs.Glob(content, "templates/pages/*.html")
	for _, pagePath := range pageFiles {
		pageName := strings.TrimSuffix(filepath.Base(pagePath), ".html")
		pageContent, _ := content.ReadFile(pagePath)

		tmpl, err := template.New(pageName).Funcs(funcMap).Parse(string(base) + string(pageContent))
		if err != nil {
			panic("failed to parse template " + pageName + ": " + err.Error())
		}
		templates[pageName] = tmpl
	}
	return templates
}

func formatTime(t any) string {
	switch v := t.(type) {
	case time.Time:
		return v.UTC().Format("2006-01-02 15:04 UTC")
	case *time.Time:
		if v == nil {
			return ""
		}
		return v.UTC().Format("2006-01-02 15:04 UTC")
	}
	return ""
}

// PageData holds common data passed to all page templates.
type PageData struct {
	Title   string
	Admin   bool
	User    string
	Flash   *FlashMessage
	Content any
}

// FlashMessage represents a flash message.
type FlashMessage struct {
	Type    string // "success", "error", "info"
	Message string
}

func (s *Server) render(w http.ResponseWriter, status int, page string, data PageData) {
	tmpl, ok := s.templates[page]
	if !ok {
		http.Error(w, "Template not found: "+page, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := tmpl.ExecuteTemplate(w, "base", data); err != nil {
		http.Error(w, "Template error: "+err.Error(), http.StatusInternalServerError)
	}
}
