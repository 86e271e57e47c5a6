// Package ingest is the authenticated HTTP endpoint that accepts event
// batches from client SDKs, deduplicates them, and writes them to the event
// store.
package ingest

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/mocksi/bilan-go/internal/event"
	"github.com/mocksi/bilan-go/internal/store"
)

// maxBatchSize is the per-request event cap.
const maxBatchSize = 1000

// maxBodyBytes bounds the request body; generous enough for a full batch of
// content-bearing events.
const maxBodyBytes = 32 << 20

// Server handles the ingest HTTP surface.
type Server struct {
	mux        *http.ServeMux
	store      *store.Store
	apiKey     string
	apiKeyHash string
	metrics    *Metrics
}

// Config wires the server.
type Config struct {
	Store      *store.Store
	APIKey     string // plaintext bearer key
	APIKeyHash string // bcrypt hash; takes precedence over APIKey
}

// NewServer builds the ingest handler.
func NewServer(cfg Config) *Server {
	s := &Server{
		mux:        http.NewServeMux(),
		store:      cfg.Store,
		apiKey:     cfg.APIKey,
		apiKeyHash: cfg.APIKeyHash,
		metrics:    NewMetrics(),
	}
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	return s
}

// Metrics exposes the server's counters, mainly for tests.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// ServeHTTP implements http.Handler with CORS and request logging around the
// route handlers.
func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// Preflight echoes the requested origin and method.
	if origin := req.Header.Get("Origin"); origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if reqMethod := req.Header.Get("Access-Control-Request-Method"); reqMethod != "" {
			w.Header().Set("Access-Control-Allow-Methods", reqMethod)
		} else {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
	}
	if req.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	requestID := ulid.Make().String()
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

	s.mux.ServeHTTP(rec, req)

	s.metrics.Requests.WithLabelValues(pathLabel(req.URL.Path), httpStatusLabel(rec.status)).Inc()
	log.Debug().
		Str("request_id", requestID).
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", rec.status).
		Dur("duration", time.Since(start)).
		Msg("Request handled")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// pathLabel folds unknown request paths into one label so scanners probing
// random URLs cannot inflate metric cardinality.
func pathLabel(path string) string {
	switch path {
	case "/api/events", "/health", "/metrics":
		return path
	}
	return "other"
}

func httpStatusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}

// authorize validates the bearer API key. The bcrypt hash path supports
// deployments that refuse to keep the plaintext key in their environment.
func (s *Server) authorize(w http.ResponseWriter, req *http.Request) bool {
	header := req.Header.Get("Authorization")
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		writeError(w, http.StatusUnauthorized, "Missing API key")
		return false
	}
	key := strings.TrimPrefix(header, "Bearer ")

	if s.apiKeyHash != "" {
		if bcrypt.CompareHashAndPassword([]byte(s.apiKeyHash), []byte(key)) != nil {
			writeError(w, http.StatusUnauthorized, "Invalid API key")
			return false
		}
		return true
	}
	if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
		writeError(w, http.StatusUnauthorized, "Invalid API key")
		return false
	}
	return true
}

// IngestStats is the per-request outcome breakdown.
type IngestStats struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// handleEvents accepts a bare event or {"events":[...]} and inserts the
// valid, novel ones. Individual validation failures become counts, never a
// request-level failure.
func (s *Server) handleEvents(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !s.authorize(w, req) {
		return
	}

	body, err := io.ReadAll(io.LimitReader(req.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	events, err := event.DecodeWireBatch(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if len(events) > maxBatchSize {
		writeError(w, http.StatusBadRequest, "Batch size too large")
		return
	}

	var stats IngestStats
	valid := make([]event.Event, 0, len(events))
	for i := range events {
		if verr := events[i].Validate(); verr != nil {
			stats.Errors++
			log.Debug().Err(verr).Str("event_id", events[i].EventID).Msg("Rejected invalid event")
			continue
		}
		valid = append(valid, events[i])
	}

	if len(valid) > 0 {
		inserted, skipped, ierr := s.store.InsertEvents(req.Context(), valid)
		if ierr != nil {
			log.Error().Err(ierr).Int("events", len(valid)).Msg("Batch insert failed")
			writeError(w, http.StatusInternalServerError, "Failed to store events")
			return
		}
		stats.Processed = inserted
		stats.Skipped = skipped
	}

	s.metrics.EventsProcessed.Add(float64(stats.Processed))
	s.metrics.EventsSkipped.Add(float64(stats.Skipped))
	s.metrics.EventsErrored.Add(float64(stats.Errors))

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"stats":   stats,
	})
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": event.NowMillis(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}
