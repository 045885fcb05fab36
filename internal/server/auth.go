package server

import (
	"html/template"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const stateCookie = "oauth_state"

var authDonePage = template.Must(template.New("done").Parse(`<!doctype html>
<html>
  <head><meta charset="utf-8" /><title>guestdrive</title></head>
  <body style="font-family: system-ui; text-align: center; padding: 2rem;">
    <h1>Google Drive connected</h1>
    <p>You can close this window.</p>
  </body>
</html>
`))

func (s *Server) handleAuthStart(w http.ResponseWriter, r *http.Request) {
	if !s.auth.Configured() {
		writeText(w, http.StatusInternalServerError, "Google OAuth client id and secret are not configured.")
		return
	}

	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/auth/google",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, s.auth.AuthCodeURL(state), http.StatusFound)
}

func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		writeText(w, http.StatusBadRequest, "Missing authorization code.")
		return
	}
	// The state cookie only exists when the flow started at /auth/google.
	// Consent URLs printed by the CLI arrive without one.
	if c, err := r.Cookie(stateCookie); err == nil && c.Value != "" {
		if c.Value != r.URL.Query().Get("state") {
			writeText(w, http.StatusBadRequest, "Authorization state does not match; start again at /auth/google.")
			return
		}
		http.SetCookie(w, &http.Cookie{Name: stateCookie, Path: "/auth/google", MaxAge: -1})
	}

	if err := s.auth.Exchange(r.Context(), code); err != nil {
		s.logger.Error("oauth callback failed", "error", err, "requestId", requestID(r))
		writeText(w, http.StatusInternalServerError, "Failed to obtain a token. Check the server logs.")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := authDonePage.Execute(w, nil); err != nil {
		s.logger.Error("failed to render page", "error", err)
	}
}
