// Package server exposes operations over HTTP: JSON endpoints, an SSE and a
// WebSocket stream, health and Prometheus metrics.
package server

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hpungsan/strata/internal/config"
	"github.com/hpungsan/strata/internal/logging"
	"github.com/hpungsan/strata/internal/ops"
)

const maxBodyBytes = 1 << 20

// Handlers holds the route handlers.
type Handlers struct {
	svc      *ops.Service
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewServer creates the HTTP server for svc.
func NewServer(svc *ops.Service, cfg config.ServerConfig, logger *zap.Logger) *http.Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handlers{
		svc:    svc,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || isLocalhostOrigin(origin)
			},
		},
	}

	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Routes builds the router.
func (h *Handlers) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(h.requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(securityHeaders)

	r.Get("/health", h.HandleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/sessions", h.HandleCreateSession)
		r.Get("/sessions", h.HandleListSessions)
		r.Get("/sessions/current", h.HandleCurrentSession)
		r.Put("/sessions/current", h.HandleUseSession)

		r.Post("/turns", h.HandleBeginTurn)
		r.Get("/turns", h.HandleListTurns)
		r.Get("/turns/current", h.HandleTurnContext)
		r.Get("/turns/{id}", h.HandleGetTurn)
		r.Post("/turns/events", h.HandleEmitTurn)
		r.Post("/turns/fail", h.HandleFailTurn)

		r.Post("/llm/process", h.HandleProcess)
		r.Post("/llm/stream", h.HandleStreamSSE)
		r.Get("/llm/stream/ws", h.HandleStreamWS)

		r.Get("/surfaces/{kind}", h.HandleGetSurface)
		r.Put("/surfaces/{kind}", h.HandleUpdateSurface)

		r.Post("/capsules/compile", h.HandleCompile)
	})

	return r
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// requestLogger tags the request context with its id and logs completion.
func (h *Handlers) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := logging.WithRequestID(r.Context(), chimw.GetReqID(r.Context()))
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(ctx))

		logging.For(ctx, h.logger).Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func isLocalhostOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// Run serves until ctx is cancelled, then shuts down gracefully. Open
// streams see their request context cancelled when shutdown begins.
func Run(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	base, cancelBase := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBase()
	srv.BaseContext = func(net.Listener) context.Context { return base }
	srv.RegisterOnShutdown(cancelBase)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("strata server listening", zap.String("addr", "http://"+srv.Addr))
	if strings.HasPrefix(srv.Addr, "0.0.0.0") || strings.HasPrefix(srv.Addr, "[::]") || strings.HasPrefix(srv.Addr, ":") {
		logger.Warn("server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
