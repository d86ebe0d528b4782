package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/avastusrada/permsync/pkg/middleware"
	"github.com/avastusrada/permsync/pkg/observability"
	"github.com/avastusrada/permsync/pkg/sync"
)

// SecretSource supplies the current webhook secret. config.SecretProvider
// satisfies it.
type SecretSource interface {
	Current() string
}

// Options wires the server's dependencies.
type Options struct {
	SyncService *sync.Service
	Gateway     sync.Gateway
	Logger      *observability.Logger
	Metrics     *observability.Metrics

	// Secrets is the webhook secret source. May be nil only when
	// InsecureDev is set; otherwise a nil source fails every webhook closed.
	Secrets     SecretSource
	InsecureDev bool

	// WebhookRateLimit guards the webhook endpoints; APIRateLimit guards the
	// onboarding endpoints. Either may be nil to disable limiting.
	WebhookRateLimit func(http.Handler) http.Handler
	APIRateLimit     func(http.Handler) http.Handler

	// TracingEnabled wraps the router with otelhttp instrumentation.
	TracingEnabled bool
}

// Server is the HTTP surface: webhook ingestion, onboarding endpoints and
// synchronization pass inspection.
type Server struct {
	opts       Options
	router     *mux.Router
	logger     *observability.Logger
	httpServer *http.Server
}

// NewServer creates the server and registers all routes.
func NewServer(opts Options) *Server {
	s := &Server{
		opts:   opts,
		logger: opts.Logger.WithComponent("api"),
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(s.logger))
	r.Use(middleware.RequestLogging(s.logger))
	if s.opts.Metrics != nil {
		r.Use(s.opts.Metrics.HTTPMiddleware(routePattern))
	}

	webhooks := r.PathPrefix("/webhooks").Subrouter()
	if s.opts.WebhookRateLimit != nil {
		webhooks.Use(s.opts.WebhookRateLimit)
	}
	webhooks.HandleFunc("/entity-update", s.handleWebhook("entity-update")).Methods(http.MethodPost)
	webhooks.HandleFunc("/student-added", s.handleWebhook("student-added")).Methods(http.MethodPost)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	if s.opts.APIRateLimit != nil {
		v1.Use(s.opts.APIRateLimit)
	}
	v1.HandleFunc("/groups/join", s.handleJoinGroup).Methods(http.MethodPost)
	v1.HandleFunc("/groups/membership", s.handleCheckMembership).Methods(http.MethodGet, http.MethodPost)
	v1.HandleFunc("/sync/passes", s.handleListPasses).Methods(http.MethodGet)
	v1.HandleFunc("/sync/stats", s.handleSyncStats).Methods(http.MethodGet)

	return r
}

// Handler returns the root handler, wrapped with tracing when enabled.
func (s *Server) Handler() http.Handler {
	if s.opts.TracingEnabled {
		return otelhttp.NewHandler(s.router, "permsync")
	}
	return s.router
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start(host, port string, readTimeout, writeTimeout, idleTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", host, port),
		Handler:      s.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	s.logger.Infof("Listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// routePattern labels metrics with the matched route template instead of the
// raw URL to keep cardinality bounded.
func routePattern(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}
