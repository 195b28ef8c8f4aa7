package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bishopdynamics/NetbootStudioV2/internal/platform/lifecycle"
	"github.com/bishopdynamics/NetbootStudioV2/pkg/logger"
)

// HTTPServer is the "webserver" origin of §4.7: a single `POST /api`
// envelope endpoint plus `/healthz` and `/metrics`, grounded on the
// reference project's infrastructure/service.Run http.Server shape
// (explicit timeouts, graceful Shutdown via lifecycle.Service.Stop)
// stripped of the mTLS/marble machinery this domain has no use for.
type HTTPServer struct {
	dispatcher *Dispatcher
	addr       string
	log        *logger.Logger

	server *http.Server
}

var _ lifecycle.Service = (*HTTPServer)(nil)

// NewHTTPServer builds the HTTP origin bound to addr (host:port).
func NewHTTPServer(d *Dispatcher, addr string, log *logger.Logger) *HTTPServer {
	if log == nil {
		log = logger.NewDefault("dispatcher-http")
	}
	return &HTTPServer{dispatcher: d, addr: addr, log: log}
}

func (s *HTTPServer) Name() string { return "dispatcher-http" }

func (s *HTTPServer) Start(ctx context.Context) error {
	router := mux.NewRouter()
	router.HandleFunc("/api", s.handleAPI).Methods(http.MethodPost)
	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("dispatcher-http: listen %s: %w", s.addr, err)
	}

	go func() {
		s.log.WithField("addr", s.addr).Info("dispatcher-http: listening")
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.WithField("error", err).Error("dispatcher-http: serve failed")
		}
	}()
	return nil
}

func (s *HTTPServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleAPI decodes the envelope body, dispatches it, and writes back the
// decorated response with its own status code as the HTTP status
// (§6.4 "Response JSON: {id, endpoint, status, api_payload, request_payload}").
func (s *HTTPServer) handleAPI(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{
			Status:     500,
			APIPayload: map[string]interface{}{"error": "invalid request body"},
		})
		return
	}

	resp := s.dispatcher.Dispatch(r.Context(), req)
	writeJSON(w, resp.Status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
