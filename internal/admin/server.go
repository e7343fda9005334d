// Package admin serves the worker's local HTTP surface: Prometheus metrics,
// a JSON debug snapshot, a health probe, and runtime bitrate control.
package admin

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zsiec/encbridge/internal/encode"
	"github.com/zsiec/encbridge/internal/worker"
)

const shutdownTimeout = 5 * time.Second

// Info describes the running worker.
type Info struct {
	Version string `json:"version"`
	Name    string `json:"name"`
	Codec   string `json:"codec"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
}

// Config wires the server to the rest of the process. Nil hooks disable the
// routes that need them.
type Config struct {
	Addr        string
	Info        Info
	Gatherer    prometheus.Gatherer
	WorkerStats func() worker.Stats
	EncodeStats func() encode.Stats
	SetBitrate  func(bps int64) error
	Logger      *slog.Logger

	// Cert switches the server to HTTPS.
	Cert *Cert
}

// Snapshot is the /debug/stats response body.
type Snapshot struct {
	Timestamp int64         `json:"timestamp"`
	UptimeMs  int64         `json:"uptimeMs"`
	Info      Info          `json:"info"`
	Worker    *worker.Stats `json:"worker,omitempty"`
	Encode    *encode.Stats `json:"encode,omitempty"`
}

// Server is the admin HTTP server.
type Server struct {
	log   *slog.Logger
	cfg   Config
	start time.Time
	srv   *http.Server
}

// New creates a server; it does not listen until Start.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		log:   cfg.Logger.With("component", "admin"),
		cfg:   cfg,
		start: time.Now(),
	}
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if cfg.Cert != nil {
		s.srv.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cfg.Cert.TLS},
			MinVersion:   tls.VersionTLS12,
		}
	}
	return s
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.cfg.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("GET /debug/stats", s.handleStats)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /bitrate", s.handleBitrate)
	return mux
}

// Start listens on cfg.Addr and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("admin: listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.srv.TLSConfig != nil {
		ln = tls.NewListener(ln, s.srv.TLSConfig)
		s.log.Info("admin server listening", "addr", ln.Addr().String(), "tls", true,
			"fingerprint", s.cfg.Cert.Fingerprint, "expires", s.cfg.Cert.NotAfter.Format(time.RFC3339))
	} else {
		s.log.Info("admin server listening", "addr", ln.Addr().String())
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("admin shutdown", "error", err)
		}
	})
	defer stop()

	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	snap := Snapshot{
		Timestamp: time.Now().UnixMilli(),
		UptimeMs:  time.Since(s.start).Milliseconds(),
		Info:      s.cfg.Info,
	}
	if s.cfg.WorkerStats != nil {
		ws := s.cfg.WorkerStats()
		snap.Worker = &ws
	}
	if s.cfg.EncodeStats != nil {
		es := s.cfg.EncodeStats()
		snap.Encode = &es
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.WorkerStats == nil || !s.cfg.WorkerStats().Ready {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleBitrate(w http.ResponseWriter, r *http.Request) {
	if s.cfg.SetBitrate == nil {
		writeError(w, http.StatusNotImplemented, "bitrate control unavailable")
		return
	}
	bps, err := strconv.ParseInt(r.URL.Query().Get("bps"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bps must be an integer")
		return
	}
	if err := s.cfg.SetBitrate(bps); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.log.Info("bitrate change requested", "bps", bps, "remote", r.RemoteAddr)
	writeJSON(w, http.StatusAccepted, map[string]int64{"bps": bps})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
