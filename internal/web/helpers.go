package web

import (
	"net/http"
	"net/url"
	"strings"
)

// safeRedirect returns target when it is a local absolute path, else "/".
func safeRedirect(target string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return "/"
	}
	return target
}

// redirectWithFlash sends the browser back to path with a flash message.
func redirectWithFlash(w http.ResponseWriter, r *http.Request, path, kind, message string) {
	q := url.Values{}
	q.Set(kind, message)
	http.Redirect(w, r, path+"?"+q.Encode(), http.StatusSeeOther)
}

// flashFromQuery reads a flash message left by redirectWithFlash.
func flashFromQuery(r *http.Request) *FlashMessage {
	q := r.URL.Query()
	if msg := q.Get("error"); msg != "" {
		return &FlashMessage{Type: "error", Message: msg}
	}
	if msg := q.Get("success"); msg != "" {
		return &FlashMessage{Type: "success", Message: msg}
	}
	return nil
}
