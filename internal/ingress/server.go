// Package ingress implements the Ingress API (spec.md §4.1): Upload,
// BulkUpload, GetTask, Approve, plus the DLQ admin surface and the
// reconciler background loop. Grounded on internal/api/server.go's
// ServeMux-based routing and withLogging/withTracing middleware chain.
package ingress

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/altify/altify/internal/adminsafety"
	"github.com/altify/altify/internal/auth"
	"github.com/altify/altify/internal/blob"
	"github.com/altify/altify/internal/broker"
	"github.com/altify/altify/internal/obs"
	"github.com/altify/altify/internal/ratelimit"
	"github.com/altify/altify/internal/store"
	"github.com/altify/altify/internal/validate"
	"github.com/altify/altify/pkg/altifyapi"
	"github.com/rs/zerolog"
)

const queueMain = "tasks.main"

type Server struct {
	store   store.Store
	blob    blob.Store
	broker  broker.Broker
	valid   *validate.Engine
	auth    *auth.Authorizer
	limiter ratelimit.Limiter
	safety  *adminsafety.Guard
	log     zerolog.Logger

	reconcileInterval time.Duration
	reconcileGrace    time.Duration
	gcWindow          time.Duration
}

func NewServer(
	st store.Store,
	bs blob.Store,
	bk broker.Broker,
	valid *validate.Engine,
	authz *auth.Authorizer,
	limiter ratelimit.Limiter,
	safety *adminsafety.Guard,
	log zerolog.Logger,
	reconcileInterval, reconcileGrace time.Duration,
	gcWindow time.Duration,
) *Server {
	return &Server{
		store:             st,
		blob:              bs,
		broker:            bk,
		valid:             valid,
		auth:              authz,
		limiter:           limiter,
		safety:            safety,
		log:               log,
		reconcileInterval: reconcileInterval,
		reconcileGrace:    reconcileGrace,
		gcWindow:          gcWindow,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/metrics/prometheus", s.handleMetricsPrometheus)
	mux.HandleFunc("/v1/tasks/bulk", s.handleBulkUpload)
	mux.HandleFunc("/v1/tasks/finalize", s.handleFinalize)
	mux.HandleFunc("/v1/tasks/", s.handleTaskSubresource)
	mux.HandleFunc("/v1/tasks", s.handleTasks)
	mux.HandleFunc("/v1/admin/queue/dead-letter", s.handleDeadLetters)
	mux.HandleFunc("/v1/admin/queue/dead-letter/requeue", s.handleRequeueDeadLetters)
	return withTracing(withLogging(s.log, mux))
}

// Run starts the reconciler loop and blocks serving HTTP until ctx is
// cancelled, honoring graceful shutdown the way cmd/ingress's
// signal.NotifyContext wiring expects.
func (s *Server) Run(ctx context.Context, addr string) error {
	go s.reconcileLoop(ctx, s.reconcileInterval, s.reconcileGrace, s.gcWindow)

	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetricsPrometheus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.Write([]byte(obs.Default.RenderPrometheus()))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, altifyapi.ErrorResponse{Error: message, Code: code, Message: message})
}

func withLogging(log zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		log.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", sw.status).Dur("elapsed", time.Since(start)).Msg("http request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func withTracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := obs.StartSpan(r.Context(), "http.request",
			attribute.String("http.method", r.Method),
			attribute.String("http.path", r.URL.Path),
		)
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
