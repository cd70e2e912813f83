// SPDX-License-Identifier: MIT

// Package api exposes the heartbeat ingress endpoints consumed by the
// primary host's reporter and by operators inspecting the monitor.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/storesace-cv/bwb-stream2yt/internal/decider"
	"github.com/storesace-cv/bwb-stream2yt/internal/log"
	"github.com/storesace-cv/bwb-stream2yt/internal/metrics"
	"github.com/storesace-cv/bwb-stream2yt/internal/pinger"
	"github.com/storesace-cv/bwb-stream2yt/internal/store"
)

const maxBodyBytes = 64 << 10

// StatusProvider supplies the decision engine view for GET /status.
type StatusProvider interface {
	Status() decider.Status
}

// Config carries the ingress server options.
type Config struct {
	Token        string
	RequireToken bool
}

// Server handles heartbeat ingestion and snapshot queries.
type Server struct {
	cfg     Config
	records *store.Store
	status  StatusProvider
	camera  *pinger.Pinger // optional
	now     func() time.Time
	logger  zerolog.Logger
}

// New builds the ingress server. camera may be nil.
func New(cfg Config, records *store.Store, status StatusProvider, camera *pinger.Pinger) *Server {
	return &Server{
		cfg:     cfg,
		records: records,
		status:  status,
		camera:  camera,
		now:     time.Now,
		logger:  log.WithComponent("api"),
	}
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(httprate.LimitByIP(120, time.Minute))

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/status", s.handlePostStatus)
		r.Get("/status", s.handleGetStatus)
	})

	return r
}

// authMiddleware enforces bearer-token authentication when configured.
// With no token and requireToken off, requests pass through.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token == "" {
			if s.cfg.RequireToken {
				s.logger.Warn().Str("event", "auth.fail_closed").
					Msg("token required but none configured, denying access")
				writeUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		candidate, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			s.logger.Warn().Str("event", "auth.missing_header").Str("peer", r.RemoteAddr).
				Msg("authorization header missing")
			metrics.IncHeartbeat("unauthorized")
			writeUnauthorized(w)
			return
		}
		if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(candidate)), []byte(s.cfg.Token)) != 1 {
			s.logger.Warn().Str("event", "auth.invalid_token").Str("peer", r.RemoteAddr).
				Msg("invalid bearer token")
			metrics.IncHeartbeat("unauthorized")
			writeUnauthorized(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type postAck struct {
	OK         bool      `json:"ok"`
	ReceivedAt time.Time `json:"receivedAt"`
}

func (s *Server) handlePostStatus(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer func() { _ = body.Close() }()

	var report store.Report
	if err := json.NewDecoder(body).Decode(&report); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.IncHeartbeat("too_large")
			writePayloadTooLarge(w)
			return
		}
		metrics.IncHeartbeat("malformed")
		writeBadRequest(w, "invalid json")
		return
	}

	receivedAt := s.now()
	report.ReceivedAt = receivedAt
	report.SourceAddress = peerAddress(r)

	// The secondary's own camera ping overrides an optimistic report: when
	// the camera is unreachable from here, the indicator goes explicit-false.
	if s.camera != nil {
		if reachable := s.camera.Reachable(r.Context()); reachable != nil && !*reachable {
			f := false
			report.CameraNetworkReachable = &f
		}
	}

	s.records.Append(report)
	metrics.IncHeartbeat("ok")
	s.logger.Debug().Str("peer", report.SourceAddress).
		Bool("streaming", report.StreamingActive).Msg("heartbeat recorded")

	writeJSON(w, http.StatusOK, postAck{OK: true, ReceivedAt: receivedAt.UTC()})
}

type snapshotResponse struct {
	Records        []store.Report `json:"records"`
	FallbackActive bool           `json:"fallbackActive"`
	LastDecision   string         `json:"lastDecision"`
	DecidedAt      time.Time      `json:"decidedAt"`
}

func (s *Server) handleGetStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.status.Status()
	writeJSON(w, http.StatusOK, snapshotResponse{
		Records:        s.records.Snapshot(),
		FallbackActive: st.FallbackActive,
		LastDecision:   st.LastDecision,
		DecidedAt:      st.DecidedAt.UTC(),
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"server_time": s.now().UTC().Format(time.RFC3339),
	})
}

func peerAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
