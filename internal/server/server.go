package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/geddydukes/portfolio/internal/analytics"
	"github.com/geddydukes/portfolio/internal/config"
	"github.com/geddydukes/portfolio/internal/metrics"
	"github.com/geddydukes/portfolio/internal/store"
	"github.com/geddydukes/portfolio/internal/version"
)

const (
	pathTrack   = "/api/analytics/track"
	pathStats   = "/api/analytics/stats"
	pathHealth  = "/health"
	pathMetrics = "/metrics"

	requestIDHeader = "X-Request-ID"
	maxRequestIDLen = 128
)

// Reasons reported by the tracker when a visit was not recorded.
const (
	reasonNotConfigured = "not_configured"
	reasonRateLimited   = "rate_limited"
	reasonError         = "error"
)

type Server struct {
	analytics   *analytics.Service
	mux         *http.ServeMux
	cfg         config.Config
	metrics     *metrics.Metrics
	rateLimiter *RateLimiter
}

// New wires the HTTP routes. gatherer backs /metrics and may be nil, in which
// case the endpoint is not served.
func New(svc *analytics.Service, cfg config.Config, m *metrics.Metrics, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		analytics:   svc,
		mux:         http.NewServeMux(),
		cfg:         cfg,
		metrics:     m,
		rateLimiter: NewRateLimiter(cfg.RateLimitPerMinute, time.Minute),
	}
	s.routes(gatherer)
	return s
}

func (s *Server) routes(gatherer prometheus.Gatherer) {
	s.mux.HandleFunc(pathHealth, s.handleHealth)
	s.mux.HandleFunc(pathTrack, s.handleTrack)
	s.mux.HandleFunc(pathStats, s.requireBearer(s.handleStats))
	if gatherer != nil {
		s.mux.Handle(pathMetrics, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
}

// Close releases background resources.
func (s *Server) Close() {
	s.rateLimiter.Stop()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	defer func() {
		s.metrics.RecordHTTPRequest(r.Method, routeLabel(r.URL.Path), strconv.Itoa(rec.status), time.Since(start).Seconds())
	}()

	id := requestID(r)
	rec.Header().Set(requestIDHeader, id)
	r = r.WithContext(withRequestID(r.Context(), id))

	setSecurityHeaders(rec)

	if ip := clientIP(r); !s.rateLimiter.Allow(ip) {
		slog.Debug("rate limit exceeded", "ip", ip, "path", r.URL.Path, "request_id", id)
		if r.URL.Path == pathTrack {
			s.metrics.RecordVisitSkipped(metrics.ResultRateLimited)
			writeJSON(rec, trackResponse{Reason: reasonRateLimited})
			return
		}
		writeJSONStatus(rec, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
		return
	}

	if limit := s.cfg.MaxRequestBodyBytes; limit > 0 {
		// The tracker never fails the page, so an oversized beacon is read as
		// an empty one instead of being refused.
		if r.ContentLength > limit && r.URL.Path != pathTrack {
			writeJSONStatus(rec, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return
		}
		if r.Body != nil {
			r.Body = http.MaxBytesReader(rec, r.Body, limit)
		}
	}

	s.mux.ServeHTTP(rec, r)
}

type trackRequest struct {
	Slug string `json:"slug"`
	Page string `json:"page"`
}

type trackResponse struct {
	Success      bool   `json:"success"`
	IsNewVisitor *bool  `json:"isNewVisitor,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleTrack records one page view. It answers 200 whatever happens so that
// a broken store can never break the page that sent the beacon.
func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSONStatus(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	var req trackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		slog.Debug("unreadable track body", "error", err, "request_id", requestIDFrom(r.Context()))
		req = trackRequest{}
	}

	ctx := r.Context()
	if s.cfg.IngestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.IngestTimeout)
		defer cancel()
	}

	res, err := s.analytics.RecordVisit(ctx, analytics.Visit{
		Slug:      req.Slug,
		Page:      req.Page,
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
		Referrer:  r.Referer(),
	})
	switch {
	case errors.Is(err, store.ErrNotConfigured):
		writeJSON(w, trackResponse{Reason: reasonNotConfigured})
	case err != nil:
		slog.Warn("failed to record visit", "error", err, "request_id", requestIDFrom(r.Context()))
		writeJSON(w, trackResponse{Reason: reasonError})
	default:
		writeJSON(w, trackResponse{Success: res.Accepted, IsNewVisitor: &res.IsNewVisitor})
	}
}

func (s *Server) requireBearer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !bearerMatches(r, s.cfg.AnalyticsPassword) {
			writeJSONStatus(w, http.StatusUnauthorized, errorResponse{Error: "Unauthorized"})
			return
		}
		next(w, r)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", http.MethodGet)
		writeJSONStatus(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	ctx := r.Context()
	if s.cfg.StoreTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.StoreTimeout)
		defer cancel()
	}

	snap, err := s.analytics.ComputeStats(ctx)
	if errors.Is(err, store.ErrNotConfigured) {
		writeJSONStatus(w, http.StatusInternalServerError, errorResponse{Error: "analytics store not configured"})
		return
	}
	if err != nil {
		slog.Error("failed to compute analytics", "error", err, "request_id", requestIDFrom(r.Context()))
		writeJSONStatus(w, http.StatusInternalServerError, errorResponse{Error: "Failed to fetch analytics"})
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, snap)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	storeStatus := "connected"
	httpStatus := http.StatusOK

	if !s.analytics.Configured() {
		storeStatus = reasonNotConfigured
	} else {
		ctx := r.Context()
		if s.cfg.StoreTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.StoreTimeout)
			defer cancel()
		}
		if err := s.analytics.Ping(ctx); err != nil {
			slog.Warn("store ping failed", "error", err)
			status = "error"
			storeStatus = "disconnected"
			httpStatus = http.StatusServiceUnavailable
		}
	}

	writeJSONStatus(w, httpStatus, map[string]any{
		"status":  status,
		"store":   storeStatus,
		"version": version.Version,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write JSON response", "error", err)
	}
}

// routeLabel keeps the path label of the HTTP metrics bounded.
func routeLabel(path string) string {
	switch path {
	case pathTrack, pathStats, pathHealth, pathMetrics:
		return path
	default:
		return "other"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

type requestIDKey struct{}

// requestID reuses a sane inbound X-Request-ID or mints a new one.
func requestID(r *http.Request) string {
	if id := r.Header.Get(requestIDHeader); id != "" && len(id) <= maxRequestIDLen && printable(id) {
		return id
	}
	return uuid.NewString()
}

func printable(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x21 || s[i] > 0x7e {
			return false
		}
	}
	return true
}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
