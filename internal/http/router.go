package httpx

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/pagesdeploy/internal/history"
	"github.com/splax/pagesdeploy/internal/service/deploy"
	"github.com/splax/pagesdeploy/internal/status"
	"github.com/splax/pagesdeploy/internal/ws"
)

// DeployService runs deployments and reports their state.
type DeployService interface {
	Deploy(ctx context.Context) (deploy.Result, error)
	Status() status.Status
	History(ctx context.Context, limit int) ([]history.Entry, error)
}

// EventStream fans pipeline events out to subscribers.
type EventStream interface {
	Register(client ws.Subscriber)
	Unregister(client ws.Subscriber)
}

// Options tunes optional router behaviour.
type Options struct {
	Version         string
	DeployRateLimit int
	HistoryLimit    int
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	deploy   DeployService
	creds    Credentials
	events   EventStream
	upgrader websocket.Upgrader
	limiter  RateLimiter
	metrics  *metrics
	opts     Options
}

const (
	rateWindowDefault   = time.Minute
	historyDefaultLimit = 20
	sseHeartbeat        = 15 * time.Second
	apiKeyPath          = "/api-key"
)

// NewRouter assembles routes with dependencies. events may be nil, in which
// case /events is not served.
func NewRouter(logger *slog.Logger, deploySvc DeployService, creds Credentials, events EventStream, limiter RateLimiter, opts Options) *Router {
	if opts.Version == "" {
		opts.Version = "1.0.0"
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 50
	}
	r := &Router{
		mux:    http.NewServeMux(),
		logger: logger,
		deploy: deploySvc,
		creds:  creds,
		events: events,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter: limiter,
		metrics: newMetrics(),
		opts:    opts,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/deploy", r.audit("/deploy", r.post(r.withRateLimit("/deploy", r.opts.DeployRateLimit, rateWindowDefault, r.requireAPIKey(r.handleDeploy)))))
	r.mux.HandleFunc("/status", r.audit("/status", r.get(r.handleStatus)))
	r.mux.HandleFunc(apiKeyPath, r.audit(apiKeyPath, r.get(r.handleAPIKey)))
	r.mux.HandleFunc("/health", r.audit("/health", r.get(r.handleHealth)))
	r.mux.HandleFunc("/history", r.audit("/history", r.get(r.handleHistory)))
	if r.events != nil {
		r.mux.HandleFunc("/events", r.audit("/events", r.get(r.requireStreamKey(r.handleEvents))))
	}
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/", r.audit("/", r.handleNotFound))
}

func (r *Router) handleDeploy(w http.ResponseWriter, req *http.Request) {
	r.logger.Info("deploy requested", "ip", remoteHost(req))
	result, err := r.deploy.Deploy(req.Context())
	r.metrics.recordDeploy(result)
	switch {
	case errors.Is(err, deploy.ErrBusy):
		writeFailure(w, http.StatusConflict, result.Message, deploy.StageInProgress)
	case err != nil:
		writeFailure(w, http.StatusInternalServerError, result.Message, string(result.Stage))
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"success":       true,
			"message":       result.Message,
			"timestamp":     result.Timestamp,
			"count":         result.Count,
			"deployment_id": result.DeploymentID,
		})
	}
}

func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, r.deploy.Status())
}

func (r *Router) handleAPIKey(w http.ResponseWriter, req *http.Request) {
	if !isLoopback(req) {
		r.logger.Warn("api key requested from non-local address", "ip", remoteHost(req))
		writeError(w, http.StatusForbidden, "local access only")
		return
	}
	// Browsers attach Origin to cross-origin requests; a page on any site can
	// reach the loopback address, so those are refused even from 127.0.0.1.
	if origin := req.Header.Get("Origin"); origin != "" {
		r.logger.Warn("api key requested by browser page", "ip", remoteHost(req), "origin", origin)
		writeError(w, http.StatusForbidden, "local access only")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"api_key": r.creds.Token()})
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": status.NewTimestamp(time.Now()),
		"version":   r.opts.Version,
	})
}

func (r *Router) handleHistory(w http.ResponseWriter, req *http.Request) {
	limit := historyDefaultLimit
	if raw := strings.TrimSpace(req.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > r.opts.HistoryLimit {
		limit = r.opts.HistoryLimit
	}
	entries, err := r.deploy.History(req.Context(), limit)
	if err != nil {
		r.logger.Error("list deployment history", "error", err)
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deployments": entries})
}

func (r *Router) handleEvents(w http.ResponseWriter, req *http.Request) {
	if strings.Contains(req.Header.Get("Accept"), "text/event-stream") {
		r.streamSSE(w, req)
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.events.Register(client)
	go func() {
		defer func() {
			r.events.Unregister(client)
			client.Close()
		}()
		client.Wait()
	}()
}

func (r *Router) streamSSE(w http.ResponseWriter, req *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	defer client.Close()
	r.events.Register(client)
	defer r.events.Unregister(client)

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-client.Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) handleNotFound(w http.ResponseWriter, req *http.Request) {
	writeError(w, http.StatusNotFound, "not found")
}

func (r *Router) get(next http.HandlerFunc) http.HandlerFunc {
	return r.method(http.MethodGet, next)
}

func (r *Router) post(next http.HandlerFunc) http.HandlerFunc {
	return r.method(http.MethodPost, next)
}

func (r *Router) method(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != method {
			w.Header().Set("Allow", method)
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		next(w, req)
	}
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		r.metrics.recordRequest(req.Method, route, status, duration)
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

// clientIP is used for request logs only; access decisions use remoteHost.
func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		if ip := strings.TrimSpace(strings.Split(forwarded, ",")[0]); ip != "" {
			return ip
		}
	}
	return remoteHost(req)
}
