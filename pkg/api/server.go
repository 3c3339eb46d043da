package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/constellation-io/constellation/pkg/controller"
	"github.com/constellation-io/constellation/pkg/frame"
	"github.com/constellation-io/constellation/pkg/log"
	"github.com/constellation-io/constellation/pkg/metrics"
	"github.com/constellation-io/constellation/pkg/types"
)

// maxRequestBody caps the payload copied into a request frame
const maxRequestBody = 64 << 20

// Server is the public HTTP surface: a fixed welcome page, the bundled
// favicon, a key-gated admin set, and a catch-all proxy for every other
// path.
type Server struct {
	controller *controller.Controller
	router     *mux.Router
	httpServer *http.Server
	startedAt  time.Time
}

// NewServer builds the HTTP surface over a controller
func NewServer(ctrl *controller.Controller) *Server {
	s := &Server{
		controller: ctrl,
		router:     mux.NewRouter(),
		startedAt:  time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/", s.handleWelcome).Methods(http.MethodGet, http.MethodHead)
	s.router.HandleFunc("/favicon.ico", s.handleFavicon).Methods(http.MethodGet, http.MethodHead)

	// Admin routes match only when the key header is present at all; a
	// request without the header falls through to the proxy, so the
	// admin surface is invisible to unauthenticated callers.
	s.adminRoute("/workers", http.HandlerFunc(s.handleWorkers))
	s.adminRoute("/maps", http.HandlerFunc(s.handleMaps))
	s.adminRoute("/health", http.HandlerFunc(s.handleHealth))
	s.adminRoute("/metrics", metrics.Handler())

	s.router.PathPrefix("/").HandlerFunc(s.handleProxy)
}

// Handler exposes the route tree, used directly by tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves HTTP on addr until Shutdown. Write timeout leaves room for
// a full dispatch timeout plus response copying.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.controller.ProxyTimeout() + 15*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	apiLogger := log.WithComponent("api")
	apiLogger.Info().Str("address", addr).Msg("webserver listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWelcome(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = io.WriteString(w, welcomePage)
	}
}

func (s *Server) handleFavicon(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(faviconPNG)
	}
}

func (s *Server) adminRoute(path string, handler http.Handler) {
	s.router.Path(path).
		Methods(http.MethodGet).
		MatcherFunc(s.hasAPIKeyHeader).
		Handler(s.requireAPIKey(handler))
}

// hasAPIKeyHeader gates admin routes on the presence of the key header.
// An absent key makes the request indistinguishable from a proxy request.
func (s *Server) hasAPIKeyHeader(r *http.Request, _ *mux.RouteMatch) bool {
	return r.Header.Get(s.controller.Settings().Admin.ApiKeyHeader) != ""
}

// requireAPIKey rejects admin requests whose key matches no configured key
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(s.controller.Settings().Admin.ApiKeyHeader)
		for _, valid := range s.controller.Settings().Admin.ApiKeys {
			if key == valid {
				next.ServeHTTP(w, r)
				return
			}
		}
		writeError(w, http.StatusUnauthorized, types.ErrorKindUnauthorized,
			"Authorization failed: invalid API key.")
	})
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Registry().Infos())
}

func (s *Server) handleMaps(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Bindings().Snapshot())
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Workers   int       `json:"workers"`
	Uptime    string    `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Workers:   s.controller.WorkerCount(),
		Uptime:    time.Since(s.startedAt).String(),
	})
}

// handleProxy forwards the request to the worker owning its path
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()
	logger := log.WithRequestID(requestID)
	w.Header().Set(types.HeaderRequestID, requestID)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		logger.Error().Err(err).Msg("failed to read request body")
		s.writeFailure(w, logger, r.URL.Path, fmt.Errorf("reading body: %w", err))
		return
	}

	headers := r.Header.Clone()
	headers.Set(types.HeaderForwardedFor, clientIP(r))

	req := frame.NewRequest(r.Method, absoluteURL(r), headers, body)
	req.ContentType = r.Header.Get("Content-Type")

	resp, worker, err := s.controller.Dispatch(r.Context(), req)
	if worker != nil {
		w.Header().Set(types.HeaderWorkerID, worker.ID.String())
	}
	if err != nil {
		s.writeFailure(w, logger, r.URL.Path, err)
		return
	}

	for name, values := range resp.Headers {
		for _, value := range values {
			w.Header().Add(name, value)
		}
	}
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Data)

	metrics.ProxyRequestsTotal.WithLabelValues(metrics.OutcomeForwarded).Inc()
	logger.Debug().
		Str("worker_id", worker.ID.String()).
		Int("status", resp.StatusCode).
		Str("path", r.URL.Path).
		Msg("request proxied")
}

// writeFailure maps core errors onto the client-visible error taxonomy
func (s *Server) writeFailure(w http.ResponseWriter, logger zerolog.Logger, path string, err error) {
	switch {
	case errors.Is(err, types.ErrNoWorkers):
		metrics.ProxyRequestsTotal.WithLabelValues(metrics.OutcomeNoWorkers).Inc()
		logger.Warn().Str("path", path).Msg("no workers available")
		writeError(w, http.StatusBadGateway, types.ErrorKindBadGateway,
			fmt.Sprintf("No workers available for resource %s.", path))
	case errors.Is(err, types.ErrProxyFailed):
		metrics.ProxyRequestsTotal.WithLabelValues(metrics.OutcomeProxyFailed).Inc()
		logger.Error().Err(err).Str("path", path).Msg("transport refused frame")
		writeError(w, http.StatusBadGateway, types.ErrorKindBadGateway,
			fmt.Sprintf("Failed to forward request for resource %s.", path))
	case errors.Is(err, types.ErrTimeout):
		metrics.ProxyRequestsTotal.WithLabelValues(metrics.OutcomeTimeout).Inc()
		logger.Warn().Str("path", path).Msg("dispatch timed out")
		writeError(w, http.StatusRequestTimeout, types.ErrorKindTimeout,
			fmt.Sprintf("No response for resource %s within the configured timeout.", path))
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to write.
	default:
		metrics.ProxyRequestsTotal.WithLabelValues(metrics.OutcomeInternal).Inc()
		logger.Error().Err(err).Str("path", path).Msg("proxy failed")
		writeError(w, http.StatusInternalServerError, types.ErrorKindInternalError,
			"Internal controller error.")
	}
}

func writeError(w http.ResponseWriter, status int, kind types.ErrorKind, message string) {
	writeJSON(w, status, types.ErrorBody{Kind: kind, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// absoluteURL reconstructs the full request URL for the outbound frame
func absoluteURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s%s", scheme, r.Host, r.URL.RequestURI())
}

// clientIP extracts the source address for x-forwarded-for
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
