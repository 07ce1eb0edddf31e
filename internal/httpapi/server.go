package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/txlens/internal/config"
	"github.com/ent0n29/txlens/internal/networks"
	"github.com/ent0n29/txlens/internal/observability"
	"github.com/ent0n29/txlens/internal/pairing"
	"github.com/ent0n29/txlens/internal/session"
)

// SessionService is the part of the session manager the API drives.
type SessionService interface {
	State() session.Session
	CreateSession(ctx context.Context, params session.CreateParams) error
	Approve(ctx context.Context, accounts []string, chainID int64) error
	Decline(ctx context.Context, reason string) error
	Disconnect(ctx context.Context) error
	SelectAccount(ctx context.Context, address string) error
}

// EventFeed hands out presentation event streams.
type EventFeed interface {
	Subscribe() (<-chan any, func())
}

type Server struct {
	cfg       config.Config
	sessions  SessionService
	feed      EventFeed
	networks  *networks.Table
	metrics   *observability.Metrics
	logger    *slog.Logger
	storeMode string
	upgrader  websocket.Upgrader
}

func New(cfg config.Config, sessions SessionService, feed EventFeed, table *networks.Table, metrics *observability.Metrics, logger *slog.Logger, storeMode string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if table == nil {
		table = networks.Default()
	}
	if metrics == nil {
		metrics = observability.NewUnregisteredMetrics()
	}
	return &Server{
		cfg:       cfg,
		sessions:  sessions,
		feed:      feed,
		networks:  table,
		metrics:   metrics,
		logger:    logger.With("component", "httpapi"),
		storeMode: storeMode,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser pages may drive approvals unless
				// explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/networks", s.handleListNetworks)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Get("/v1/session", s.handleGetSession)
	r.Post("/v1/session", s.handleCreateSession)
	r.Post("/v1/session/approve", s.handleApprove)
	r.Post("/v1/session/decline", s.handleDecline)
	r.Post("/v1/session/disconnect", s.handleDisconnect)
	r.Put("/v1/account", s.handleSelectAccount)
	r.Get("/v1/events", s.handleEventsWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"pairing_mode":       s.cfg.PairingMode,
		"session_store_mode": s.storeMode,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":             "ready",
		"pairing_mode":       s.cfg.PairingMode,
		"session_store_mode": s.storeMode,
		"session_phase":      s.sessions.State().Phase,
	})
}

func (s *Server) handleListNetworks(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"networks": s.networks.All(),
		"default":  s.cfg.DefaultNetwork,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.sessions.State())
}

type createSessionRequest struct {
	URI string `json:"uri"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.sessions.CreateSession(r.Context(), session.CreateParams{URI: req.URI}); err != nil {
		s.respondSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, s.sessions.State())
}

type approveRequest struct {
	Accounts []string `json:"accounts"`
	Network  string   `json:"network"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.approve(r.Context(), req.Accounts, req.Network); err != nil {
		s.respondSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.sessions.State())
}

type declineRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleDecline(w http.ResponseWriter, r *http.Request) {
	var req declineRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.sessions.Decline(r.Context(), req.Reason); err != nil {
		s.respondSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.sessions.State())
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Disconnect(r.Context()); err != nil {
		s.respondSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.sessions.State())
}

type selectAccountRequest struct {
	Address string `json:"address"`
}

func (s *Server) handleSelectAccount(w http.ResponseWriter, r *http.Request) {
	var req selectAccountRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.sessions.SelectAccount(r.Context(), req.Address); err != nil {
		s.respondSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.sessions.State())
}

// approve resolves the network label and falls back to the selected account
// when none are given.
func (s *Server) approve(ctx context.Context, accounts []string, network string) error {
	if strings.TrimSpace(network) == "" {
		network = s.cfg.DefaultNetwork
	}
	if strings.TrimSpace(network) == "" {
		network = "ethereum"
	}
	n, err := s.networks.Lookup(network)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		if selected := s.sessions.State().SelectedAccount; selected != "" {
			accounts = []string{selected}
		}
	}
	return s.sessions.Approve(ctx, accounts, n.ChainID)
}

func (s *Server) respondSessionError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("session operation failed", "code", code, "error", err)
	}
	respondError(w, status, code, err.Error())
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, networks.ErrUnknownNetwork):
		return http.StatusBadRequest, "unknown_network"
	case errors.Is(err, pairing.ErrChannel):
		return http.StatusBadGateway, "channel_error"
	case errors.Is(err, session.ErrNotRunning):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	// Only a body with no bytes at all counts as empty; a truncated one
	// surfaces io.ErrUnexpectedEOF and is rejected.
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
