package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mshop-dev/authcore"
	"github.com/mshop-dev/authcore/gate"
	"github.com/mshop-dev/authcore/realtime"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := run(log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := cfg.RedisAddr
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start embedded redis: %w", err)
		}
		defer mr.Close()
		addr = mr.Addr()
		log.Warn("REDIS_ADDR not set, using embedded store", "addr", addr)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	defer client.Close()

	dir, err := newSeedDirectory(cfg.SeedPassword)
	if err != nil {
		return fmt.Errorf("seed directory: %w", err)
	}

	engine, err := authcore.New().
		WithConfig(authcore.Config{
			Namespace:    cfg.Namespace,
			Secret:       cfg.Secret,
			TokenTTL:     cfg.TokenTTL,
			DevicePolicy: cfg.DevicePolicy,
			RootRole:     cfg.RootRole,
			Heartbeat:    cfg.Heartbeat,
		}).
		WithRedis(client).
		WithUserDirectory(dir).
		WithRoleDirectory(dir).
		WithLogger(log).
		Build()
	if err != nil {
		return err
	}

	adminGateway := engine.NewGateway("admin")
	webGateway := engine.NewGateway("web")
	defer adminGateway.Close()
	defer webGateway.Close()

	go engine.RunMaintenance(ctx, cfg.SweepEvery)

	mux := http.NewServeMux()
	api := &apiServer{engine: engine, admin: adminGateway, log: log}

	authenticated := engine.Guard(gate.Route{})
	userList := engine.Guard(gate.Route{Permissions: []string{"system:user:list"}})

	mux.Handle("POST /auth/login", http.HandlerFunc(api.login))
	mux.Handle("POST /auth/logout", authenticated(http.HandlerFunc(api.logout)))
	mux.Handle("GET /account/profile", authenticated(http.HandlerFunc(api.profile)))
	mux.Handle("GET /account/permissions", authenticated(http.HandlerFunc(api.permissions)))
	mux.Handle("POST /account/password", authenticated(http.HandlerFunc(api.changePassword)))
	mux.Handle("GET /system/users", userList(http.HandlerFunc(api.listUsers)))
	mux.Handle("POST /system/broadcast", userList(http.HandlerFunc(api.broadcast)))
	mux.Handle("/ws/admin", adminGateway.Handler())
	mux.Handle("/ws/web", webGateway.Handler())

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

type apiServer struct {
	engine *authcore.Engine
	admin  *realtime.Gateway
	log    *slog.Logger
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	Roles     []string  `json:"roles"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *apiServer) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	issued, err := s.engine.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, authcore.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid username or password")
			return
		}
		s.log.Error("login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     issued.Token,
		UserID:    issued.UserID,
		Roles:     issued.Roles,
		ExpiresAt: issued.ExpiresAt,
	})
}

func (s *apiServer) logout(w http.ResponseWriter, r *http.Request) {
	id, _ := gate.IdentityFromContext(r.Context())
	if err := s.engine.Logout(r.Context(), id.Token); err != nil {
		s.log.Error("logout failed", "userId", id.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) profile(w http.ResponseWriter, r *http.Request) {
	id, _ := gate.IdentityFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"userId": id.UserID,
		"roles":  id.Roles,
	})
}

func (s *apiServer) permissions(w http.ResponseWriter, r *http.Request) {
	id, _ := gate.IdentityFromContext(r.Context())
	perms, err := s.engine.EffectivePermissions(r.Context(), id)
	if err != nil {
		s.log.Error("permission lookup failed", "userId", id.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "permission lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

func (s *apiServer) changePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	id, _ := gate.IdentityFromContext(r.Context())
	if err := s.engine.ChangePassword(r.Context(), id.Token, req.OldPassword, req.NewPassword); err != nil {
		if errors.Is(err, authcore.ErrInvalidCredentials) {
			writeError(w, http.StatusBadRequest, "current password is incorrect")
			return
		}
		s.log.Error("password change failed", "userId", id.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "password change failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) listUsers(w http.ResponseWriter, r *http.Request) {
	// Demo route behind the system:user:list permission.
	writeJSON(w, http.StatusOK, map[string]any{
		"users": []string{"admin", "support"},
	})
}

type broadcastRequest struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (s *apiServer) broadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Event == "" {
		writeError(w, http.StatusBadRequest, "event is required")
		return
	}
	if err := s.admin.Broadcast(r.Context(), req.Event, req.Data); err != nil {
		s.log.Error("broadcast failed", "event", req.Event, "error", err)
		writeError(w, http.StatusInternalServerError, "broadcast failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
