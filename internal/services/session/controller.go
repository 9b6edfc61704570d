package session

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/civicworks/sessiond/internal/domain/principal"
	domainsession "github.com/civicworks/sessiond/internal/domain/session"
	"github.com/civicworks/sessiond/internal/obs"
	"github.com/civicworks/sessiond/internal/obs/retry"
)

const (
	accessCookie  = "access_token"
	refreshCookie = "refresh_token"
)

// Server is the HTTP surface consumed by the platform. Session secrets cross
// the boundary via HttpOnly cookies only, never in response bodies.
type Server struct {
	log          *zap.Logger
	uc           *Usecase
	principals   principal.Repo
	mintToken    string
	cookieDomain string
	cookieSecure bool
	refreshPath  string
}

type Opts struct {
	Logger       *zap.Logger
	MintToken    string
	CookieDomain string
	CookieSecure bool
	// RefreshPath scopes the refresh cookie to the session endpoints so the
	// long-lived secret is not replayed to the rest of the API.
	RefreshPath string
}

func NewServer(uc *Usecase, principals principal.Repo, o Opts) *Server {
	log := o.Logger
	if log == nil {
		log, _ = zap.NewProduction()
	}
	refreshPath := o.RefreshPath
	if refreshPath == "" {
		refreshPath = "/v1/session"
	}
	return &Server{
		log:          log,
		uc:           uc,
		principals:   principals,
		mintToken:    o.MintToken,
		cookieDomain: o.CookieDomain,
		cookieSecure: o.CookieSecure,
		refreshPath:  refreshPath,
	}
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/session/login", s.handleLogin)
	mux.HandleFunc("POST /v1/session/refresh", s.handleRefresh)
	mux.HandleFunc("POST /v1/session/logout", s.handleLogout)
	mux.HandleFunc("GET /v1/session/me", s.handleMe)
}

type loginRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// handleLogin mints a session for an identity the trusted verifier has
// already authenticated. It is a service-to-service endpoint guarded by a
// shared bearer secret; sessiond itself never verifies end users.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.mintAuthorized(r) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "mint not authorized"})
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil || req.Email == "" || req.Role == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id, email and role are required"})
		return
	}

	log := obs.WithTrace(r.Context(), s.log)
	log.Info("session.login", zap.String("user_id", req.UserID), zap.String("role", req.Role))

	access, refresh, err := s.uc.Login(r.Context(), principal.Principal{ID: userID, Email: req.Email, Role: req.Role})
	if err != nil {
		log.Error("login failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal"})
		return
	}

	s.setSessionCookies(w, access, refresh)
	writeJSON(w, http.StatusOK, map[string]string{"message": "login successful"})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	raw := cookieValue(r, refreshCookie)
	log := obs.WithTrace(r.Context(), s.log)

	var access, refresh string
	err := retry.Do(r.Context(), func() error {
		var rerr error
		access, refresh, rerr = s.uc.Rotate(r.Context(), raw)
		return rerr
	}, retry.LockContentionPolicy(log, func(err error) bool {
		return errors.Is(err, domainsession.ErrLockContention)
	}))
	if err != nil {
		reason := failureReason(err)
		obs.Rotations.WithLabelValues(reason).Inc()
		if reason == "internal" {
			log.Error("rotation failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal"})
			return
		}
		log.Info("rotation rejected", zap.String("reason", reason))
		s.clearSessionCookies(w)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": reason})
		return
	}

	obs.Rotations.WithLabelValues("ok").Inc()
	s.setSessionCookies(w, access, refresh)
	writeJSON(w, http.StatusOK, map[string]string{"message": "token refreshed"})
}

// handleLogout is idempotent: revoking an unknown or already-closed session
// still succeeds, and it never reports breach semantics.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	raw := cookieValue(r, refreshCookie)
	log := obs.WithTrace(r.Context(), s.log)

	if err := s.uc.Revoke(r.Context(), raw); err != nil {
		// The cookies are cleared regardless; the record stays revocable.
		log.Error("logout revoke failed", zap.Error(err))
	}

	s.clearSessionCookies(w)
	log.Info("session.logout")
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	tokenStr := cookieValue(r, accessCookie)
	if tokenStr == "" {
		tokenStr = bearer(r)
	}
	if tokenStr == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing"})
		return
	}

	claims, err := s.uc.ParseAccess(tokenStr)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid"})
		return
	}
	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid"})
		return
	}

	p, err := s.principals.GetByID(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"id":    p.ID.String(),
		"email": p.Email,
		"role":  p.Role,
	})
}

func (s *Server) mintAuthorized(r *http.Request) bool {
	if s.mintToken == "" {
		return false
	}
	presented := bearer(r)
	return subtle.ConstantTimeCompare([]byte(presented), []byte(s.mintToken)) == 1
}

func (s *Server) setSessionCookies(w http.ResponseWriter, access, refresh string) {
	http.SetCookie(w, &http.Cookie{
		Name:     accessCookie,
		Value:    access,
		Path:     "/",
		Domain:   s.cookieDomain,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.uc.AccessTTL().Seconds()),
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    refresh,
		Path:     s.refreshPath,
		Domain:   s.cookieDomain,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.uc.RefreshTTL().Seconds()),
	})
}

func (s *Server) clearSessionCookies(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     accessCookie,
		Value:    "",
		Path:     "/",
		Domain:   s.cookieDomain,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0).UTC(),
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    "",
		Path:     s.refreshPath,
		Domain:   s.cookieDomain,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0).UTC(),
	})
}

// failureReason maps the taxonomy onto the machine-readable reasons in the
// wire contract. Callers must treat breach_detected as "force full re-login".
func failureReason(err error) string {
	switch {
	case errors.Is(err, domainsession.ErrMissingToken):
		return "missing"
	case errors.Is(err, domainsession.ErrInvalidToken):
		return "invalid"
	case errors.Is(err, domainsession.ErrExpiredToken):
		return "expired"
	case errors.Is(err, domainsession.ErrBreachDetected):
		return "breach_detected"
	default:
		return "internal"
	}
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func bearer(r *http.Request) string {
	v := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(v), "bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return ""
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
