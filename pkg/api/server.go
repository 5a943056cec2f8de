package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/cadplug/pkg/httputil"
	"github.com/platinummonkey/cadplug/pkg/observability"
	"github.com/platinummonkey/cadplug/pkg/plugins"
)

const (
	maxRequestBytes  = 1 << 20
	defaultListLimit = 50
	maxListLimit     = 500
)

// Options configures a Server
type Options struct {
	Service *VerificationService
	Ledger  *plugins.Ledger
	Health  *observability.HealthChecker

	// Metrics and Registry are optional; /metrics is only served when
	// Registry is set
	Metrics  *observability.Metrics
	Registry *prometheus.Registry

	// Root confines verification targets; empty allows any path
	Root string

	Logger *logrus.Logger
}

// Server is the verification API
type Server struct {
	router  *mux.Router
	handler http.Handler
	service *VerificationService
	ledger  *plugins.Ledger
	health  *observability.HealthChecker
	root    string
	logger  *logrus.Logger
}

// NewServer creates a server and registers its routes
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	health := opts.Health
	if health == nil {
		health = observability.NewHealthChecker(nil, "")
	}

	s := &Server{
		router:  mux.NewRouter(),
		service: opts.Service,
		ledger:  opts.Ledger,
		health:  health,
		root:    opts.Root,
		logger:  logger,
	}

	if opts.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(opts.Metrics))
	}
	s.setupRoutes(opts.Registry)

	s.handler = otelhttp.NewHandler(httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
	)(s.router), "cadplug.api")

	return s
}

func (s *Server) setupRoutes(registry *prometheus.Registry) {
	s.router.HandleFunc("/healthz", s.health.Liveness).Methods(http.MethodGet)
	s.router.HandleFunc("/readyz", s.health.Readiness).Methods(http.MethodGet)
	if registry != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(registry)).Methods(http.MethodGet)
	}

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.Use(httputil.MaxBytesMiddleware(maxRequestBytes))
	v1.HandleFunc("/verifications", s.createVerification).Methods(http.MethodPost)
	v1.HandleFunc("/verifications", s.listVerifications).Methods(http.MethodGet)
	v1.HandleFunc("/verifications/{id:[0-9]+}", s.getVerification).Methods(http.MethodGet)
	v1.HandleFunc("/manifests/validate", s.validateManifest).Methods(http.MethodPost)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
