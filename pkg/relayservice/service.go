// Package relayservice exposes the relay's HTTP surface: the WebSocket
// endpoint and the read-only observability endpoints.
package relayservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-change-relay/pkg/bridge"
	"github.com/illmade-knight/go-change-relay/pkg/pglisten"
)

// HubStats is the transport-side snapshot surface.
type HubStats interface {
	ConnectionCount() int
	TopicCounts() map[string]int
}

// PipelineStats exposes the bridge pipeline counters.
type PipelineStats interface {
	Stats() bridge.Stats
}

// SourceState reports the change-source connection state.
type SourceState interface {
	State() pglisten.State
}

// Config holds the HTTP server settings.
type Config struct {
	HTTPPort    string
	ServiceName string
	Version     string
}

// Server provides the HTTP endpoints for the relay. Every observability
// endpoint is a pure snapshot of internal counters; none of them mutate
// state.
type Server struct {
	logger     zerolog.Logger
	cfg        Config
	mux        *http.ServeMux
	httpServer *http.Server
	startTime  time.Time

	hub      HubStats
	pipeline PipelineStats
	source   SourceState

	mu         sync.RWMutex
	actualAddr string
}

// NewServer creates and initializes a new Server. The wsHandler, when
// non-nil, is mounted at /ws.
func NewServer(
	cfg Config,
	logger zerolog.Logger,
	hub HubStats,
	pipeline PipelineStats,
	source SourceState,
	wsHandler http.Handler,
) *Server {
	s := &Server{
		logger:    logger.With().Str("component", "RelayServer").Logger(),
		cfg:       cfg,
		mux:       http.NewServeMux(),
		startTime: time.Now().UTC(),
		hub:       hub,
		pipeline:  pipeline,
		source:    source,
	}

	s.mux.HandleFunc("/healthz", HealthzHandler)
	s.mux.HandleFunc("/stats", s.statsHandler)
	s.mux.HandleFunc("/metrics", s.metricsHandler)
	s.mux.HandleFunc("/info", s.infoHandler)
	if wsHandler != nil {
		s.mux.Handle("/ws", wsHandler)
	}

	s.httpServer = &http.Server{
		Addr:    cfg.HTTPPort,
		Handler: s.mux,
	}
	return s
}

// Start initiates the HTTP server in a background goroutine. A failure to
// bind the port is returned to the caller: it is the one startup error that
// should terminate the process, since no service can be offered at all.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.HTTPPort)
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", s.cfg.HTTPPort, err)
	}

	s.mu.Lock()
	s.actualAddr = listener.Addr().String()
	s.mu.Unlock()

	s.logger.Info().Str("address", listener.Addr().String()).Msg("HTTP server starting to listen")

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	return nil
}

// Shutdown gracefully stops the HTTP server, respecting the provided
// context's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Error during HTTP server shutdown.")
		return err
	}
	s.logger.Info().Msg("HTTP server stopped.")
	return nil
}

// GetHTTPPort returns the actual port the server is listening on, useful when
// the configured port is ":0".
func (s *Server) GetHTTPPort() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, port, err := net.SplitHostPort(s.actualAddr)
	if err != nil {
		return s.cfg.HTTPPort
	}
	return ":" + port
}

// Mux returns the underlying ServeMux.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

// HealthzHandler responds to health check probes.
func HealthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type statsResponse struct {
	ConnectionState string         `json:"connection_state"`
	Connections     int            `json:"connections"`
	Topics          map[string]int `json:"topics"`
	UptimeSeconds   float64        `json:"uptime_seconds"`
	Pipeline        bridge.Stats   `json:"pipeline"`
}

func (s *Server) statsHandler(w http.ResponseWriter, _ *http.Request) {
	resp := statsResponse{
		ConnectionState: s.source.State().String(),
		Connections:     s.hub.ConnectionCount(),
		Topics:          s.hub.TopicCounts(),
		UptimeSeconds:   time.Since(s.startTime).Seconds(),
		Pipeline:        s.pipeline.Stats(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to encode stats response.")
	}
}

func (s *Server) metricsHandler(w http.ResponseWriter, _ *http.Request) {
	st := s.pipeline.Stats()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprintf(w, "relay_connection_state %d\n", s.source.State())
	_, _ = fmt.Fprintf(w, "relay_connections %d\n", s.hub.ConnectionCount())
	_, _ = fmt.Fprintf(w, "relay_notifications_received_total %d\n", st.Received)
	_, _ = fmt.Fprintf(w, "relay_notifications_decoded_total %d\n", st.Decoded)
	_, _ = fmt.Fprintf(w, "relay_notifications_dropped_total %d\n", st.DroppedDecode)
	_, _ = fmt.Fprintf(w, "relay_broadcasts_total %d\n", st.Broadcasts)
	for topic, members := range s.hub.TopicCounts() {
		_, _ = fmt.Fprintf(w, "relay_topic_members{topic=%q} %d\n", topic, members)
	}
}

type infoResponse struct {
	Service       string    `json:"service"`
	Version       string    `json:"version"`
	StartedAt     time.Time `json:"started_at"`
	UptimeSeconds float64   `json:"uptime_seconds"`
}

func (s *Server) infoHandler(w http.ResponseWriter, _ *http.Request) {
	resp := infoResponse{
		Service:       s.cfg.ServiceName,
		Version:       s.cfg.Version,
		StartedAt:     s.startTime,
		UptimeSeconds: time.Since(s.startTime).Seconds(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to encode info response.")
	}
}
