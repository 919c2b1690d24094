// Package statusapi exposes a small read-only HTTP surface for
// inspecting a daemon's current install attempt and its audit history,
// loopback-only, for a support tool or a companion app to poll instead
// of parsing log files directly. It never accepts a request that would
// mutate installer state.
package statusapi

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"shipit/internal/appctx"
	"shipit/internal/audit"
	"shipit/internal/model"
	"shipit/internal/record"
)

// Server serves the status API. It is always bound to 127.0.0.1; there
// is no configuration knob to expose it more broadly.
type Server struct {
	ctx     *appctx.Context
	history *audit.History // optional; nil disables the history endpoint
	router  *chi.Mux
}

func New(ctx *appctx.Context, history *audit.History) *Server {
	s := &Server{ctx: ctx, history: history, router: chi.NewRouter()}
	s.setupRoutes()
	return s
}

// ServeHTTP lets Server stand in for http.Handler directly, used by
// Start and by tests driving the router without a real listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.loopbackOnly)

	s.router.Get("/v1/status", s.handleStatus)
	s.router.Get("/v1/history/{bundleID}", s.handleHistory)
}

// loopbackOnly rejects anything not originating from the local host.
func (s *Server) loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil || (host != "127.0.0.1" && host != "::1") {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start binds the status API to 127.0.0.1:port and serves it in the
// background. A failure to bind is logged by the caller, not here;
// Start returns the error from the initial listen so callers can
// decide whether a taken port is fatal.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go http.Serve(ln, s)
	return nil
}

type statusResponse struct {
	HasActiveAttempt bool   `json:"has_active_attempt"`
	Phase            string `json:"phase,omitempty"`
	AttemptsInPhase  int    `json:"attempts_in_phase,omitempty"`
	BundleIdentifier string `json:"bundle_identifier,omitempty"`
	TargetBundlePath string `json:"target_bundle_path,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !record.Exists(s.ctx.StatePath()) {
		json.NewEncoder(w).Encode(statusResponse{HasActiveAttempt: false})
		return
	}

	var st model.State
	if err := record.Load(s.ctx.StatePath(), model.RecordVersion, &st); err != nil {
		http.Error(w, "could not read state record", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(statusResponse{
		HasActiveAttempt: true,
		Phase:            st.Phase.String(),
		AttemptsInPhase:  st.AttemptsInPhase,
		BundleIdentifier: st.BundleIdentifier,
		TargetBundlePath: st.TargetBundlePath,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "history unavailable", http.StatusServiceUnavailable)
		return
	}

	bundleID := chi.URLParam(r, "bundleID")
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	events, err := s.history.RecentForBundle(bundleID, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(events)
}
