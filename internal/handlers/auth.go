package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	certderrors "certd/internal/errors"
	"certd/internal/logger"
	"certd/internal/rights"
)

const sessionCookieName string = "certd_session"

type callerKey struct{}

// Authenticator verifies administrator credentials.
type Authenticator interface {
	Authenticate(name, password string) (rights.Caller, error)
}

type loginRequest struct {
	Name     string `json:"name" validate:"required,max=256"`
	Password string `json:"password" validate:"required,max=1024"`
}

type loginResponse struct {
	Name      string    `json:"name"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Auth issues sessions and resolves the caller of authenticated requests.
type Auth struct {
	accounts      Authenticator
	sessions      *rights.SessionStore
	secureCookies bool
}

func NewAuth(accounts Authenticator, sessions *rights.SessionStore, secureCookies bool) *Auth {
	return &Auth{accounts: accounts, sessions: sessions, secureCookies: secureCookies}
}

// CallerFromContext returns the caller set by RequireCaller.
func CallerFromContext(ctx context.Context) (rights.Caller, bool) {
	caller, ok := ctx.Value(callerKey{}).(rights.Caller)
	return caller, ok
}

func (a *Auth) login(w http.ResponseWriter, r *http.Request) {
	var payload loginRequest
	if err := decode(r, &payload); err != nil {
		writeError(w, r, err, "invalid login payload")
		return
	}
	caller, err := a.accounts.Authenticate(payload.Name, payload.Password)
	if err != nil {
		logger.SecurityEvent("login").Str("account", payload.Name).Msg("authentication failed")
		writeError(w, r, err, "login refused")
		return
	}
	caller, expiresAt, err := a.sessions.Create(caller)
	if err != nil {
		writeError(w, r, err, "failed to create session")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookieName, Value: caller.AuthToken, Path: "/", HttpOnly: true, SameSite: http.SameSiteLaxMode, Secure: a.secureCookies, Expires: expiresAt})
	logger.Get().Info().Str("event_category", "security").Str("account", caller.Name).Msg("session opened")
	writeJSON(w, http.StatusOK, loginResponse{Name: caller.Name, Token: caller.AuthToken, ExpiresAt: expiresAt})
}

func (a *Auth) logout(w http.ResponseWriter, r *http.Request) {
	if token := requestToken(r); token != "" {
		a.sessions.Delete(token)
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookieName, Value: "", Path: "/", HttpOnly: true, SameSite: http.SameSiteLaxMode, Secure: a.secureCookies, Expires: time.Unix(0, 0), MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}

// requestToken reads a bearer token, falling back to the session cookie.
func requestToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

// RequireCaller rejects requests without a live session with 401.
func (a *Auth) RequireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := requestToken(r)
		if token == "" {
			writeError(w, r, certderrors.ErrSessionExpired, "missing session")
			return
		}
		caller, err := a.sessions.Lookup(token)
		if err != nil {
			// Unknown tokens are reported like expired ones.
			writeError(w, r, certderrors.ErrSessionExpired, "session rejected")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
	})
}

func RegisterAuthRoutes(router chi.Router, auth *Auth) {
	router.Post("/api/auth/login", auth.login)
	router.Post("/api/auth/logout", auth.logout)
}
