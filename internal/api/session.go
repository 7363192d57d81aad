package api

import (
	"errors"
	"net/http"
	"time"

	"github.io/infrasutra/mailroom/internal/auth"
)

var (
	errNotAuthenticated = errors.New("not authenticated")
	errAdminRequired    = errors.New("admin access required")
)

type identityHandler func(w http.ResponseWriter, r *http.Request, identity auth.Identity)

func (s *Server) currentIdentity(r *http.Request) (auth.Identity, error) {
	cookie, err := r.Cookie(s.auth.CookieName())
	if err != nil {
		return auth.Identity{}, errNotAuthenticated
	}
	return s.auth.Parse(cookie.Value, s.now())
}

func (s *Server) requireUser(next identityHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.currentIdentity(r)
		if err != nil {
			s.respondJSON(w, http.StatusUnauthorized, errorResponse{Detail: errNotAuthenticated.Error()})
			return
		}
		next(w, r, identity)
	}
}

func (s *Server) requireAdmin(next identityHandler) http.HandlerFunc {
	return s.requireUser(func(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
		if !identity.IsAdmin {
			s.respondJSON(w, http.StatusForbidden, errorResponse{Detail: errAdminRequired.Error()})
			return
		}
		next(w, r, identity)
	})
}

func (s *Server) startSession(w http.ResponseWriter, identity auth.Identity) error {
	now := s.now()
	token, err := s.auth.Issue(identity, now)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.auth.CookieName(),
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.auth.MaxAge().Seconds()),
		Expires:  now.Add(s.auth.MaxAge()),
		HttpOnly: true,
		Secure:   s.cfg.HTTP.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (s *Server) clearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.auth.CookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   s.cfg.HTTP.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
