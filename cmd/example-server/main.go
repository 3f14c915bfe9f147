package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"admission-gateway/middleware/auth"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Serviço de negócio de exemplo, colocado atrás do gateway (UPSTREAM_URL).
// Confia nos headers X-User-ID / X-Account-ID que o gateway injeta.
func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Str("service", "example-server").Logger()

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}
	issuer := auth.NewHMACVerifier(os.Getenv("AUTH_SECRET"))
	devLogin, _ := strconv.ParseBool(os.Getenv("DEV_LOGIN_ENABLED"))
	if devLogin {
		logger.Warn().Msg("dev login enabled: any caller can mint tokens, never enable outside development")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(issuer, devLogin),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("example server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server error")
	}
}

type loginRequest struct {
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	AccountID string `json:"account_id"`
}

// newRouter monta as rotas. devLogin registra POST /api/auth/dev-login, que
// emite tokens (inclusive de admin) sem checar senha: só para desenvolvimento.
func newRouter(issuer *auth.HMACVerifier, devLogin bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	if devLogin {
		r.Post("/api/auth/dev-login", devLoginHandler(issuer))
	}
	mountDemoRoutes(r)
	return r
}

func devLoginHandler(issuer *auth.HMACVerifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "user_id is required"})
			return
		}
		tok, err := issuer.Issue(auth.Claims{Subject: req.UserID, Role: req.Role, AccountID: req.AccountID}, time.Hour)
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"success": false, "error": "token issuing disabled"})
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "session_token", Value: tok, Path: "/", HttpOnly: true, SameSite: http.SameSiteLaxMode})
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "token": tok})
	}
}

func mountDemoRoutes(r chi.Router) {
	r.Post("/api/chat/messages", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"reply":   "hello " + r.Header.Get("X-User-ID"),
		})
	})

	r.Get("/api/tenders/*", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": []string{}})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "path": r.URL.Path})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
