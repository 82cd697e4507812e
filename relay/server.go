/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package relay is a development signaling relay for call messages. It
// authenticates websocket clients, keeps chat membership and routes call
// signaling between users.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Server serves the relay endpoints.
type Server struct {
	cfg      Config
	hub      *Hub
	auth     *Authenticator
	log      zerolog.Logger
	router   chi.Router
	upgrader websocket.Upgrader
}

// NewServer creates a relay server.
func NewServer(cfg Config, logger zerolog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		cfg: cfg,
		hub: NewHub(logger),
		log: logger.With().Str("component", "relay").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	s.upgrader.CheckOrigin = s.checkOrigin
	if cfg.Secret != "" {
		auth, err := NewAuthenticator(cfg.Secret, cfg.Issuer, cfg.TokenTTL)
		if err != nil {
			return nil, err
		}
		s.auth = auth
	}
	s.router = s.routes()
	return s, nil
}

// Handler returns the HTTP handler of the relay.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the message hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Authenticator returns the token authenticator, or nil in anonymous mode.
func (s *Server) Authenticator() *Authenticator {
	return s.auth
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Bool("anonymous", s.auth == nil).Msg("Relay listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.hub.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.cfg.AllowTokenIssue && s.auth != nil {
		r.Post("/token", s.handleToken)
	}
	r.Get("/ws", s.handleWS)
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request served")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"calls":  s.hub.ActiveCalls(),
	})
}

type tokenRequest struct {
	UserID string `json:"userId"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "userId is required"})
		return
	}
	token, err := s.auth.IssueToken(req.UserID)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to issue token")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not issue token"})
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID, status, err := s.identify(r)
	if err != nil {
		s.log.Debug().Err(err).Msg("Rejected websocket client")
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("Failed to upgrade connection")
		return
	}

	client := newWSClient(userID, conn, s.hub, s.cfg, s.log)
	s.hub.Register(client, r.URL.Query()["chat"])

	go client.writePump()
	go client.readPump()
}

// checkOrigin accepts requests without an Origin header, which come from
// non-browser clients.
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

func (s *Server) identify(r *http.Request) (string, int, error) {
	if s.auth == nil {
		userID := r.URL.Query().Get("user")
		if userID == "" {
			return "", http.StatusBadRequest, errors.New("user parameter is required")
		}
		return userID, 0, nil
	}
	token := tokenFromRequest(r)
	if token == "" {
		return "", http.StatusUnauthorized, errors.New("access token required")
	}
	userID, err := s.auth.VerifyToken(token)
	if err != nil {
		return "", http.StatusUnauthorized, ErrInvalidToken
	}
	return userID, 0, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
