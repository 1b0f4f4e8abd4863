// Package httpapi exposes the relay layer over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ZKRand-Network/relay_layer/internal/config"
	"github.com/ZKRand-Network/relay_layer/internal/metrics"
	"github.com/ZKRand-Network/relay_layer/internal/services/fees"
	"github.com/ZKRand-Network/relay_layer/internal/services/ledger"
	"github.com/ZKRand-Network/relay_layer/internal/services/proofs"
	"github.com/ZKRand-Network/relay_layer/internal/system"
	"github.com/ZKRand-Network/relay_layer/pkg/logger"
)

// ProofSubmitter accepts proof payloads for admitted requests.
type ProofSubmitter interface {
	SubmitProof(ctx context.Context, requestID string, proofPayload []byte, randomValue string) (string, error)
}

var _ system.Service = (*Server)(nil)

// Server is the HTTP front door. It implements system.Service so the
// lifecycle manager starts and drains it with everything else.
type Server struct {
	ledger      *ledger.Service
	registry    *proofs.Registry
	feePolicy   *fees.Policy
	coordinator ProofSubmitter
	log         *logger.Logger

	srv       *http.Server
	startedAt time.Time
}

// NewServer wires the handler set and returns an unstarted server.
func NewServer(
	cfg config.ServerConfig,
	ledgerSvc *ledger.Service,
	registry *proofs.Registry,
	feePolicy *fees.Policy,
	coordinator ProofSubmitter,
	log *logger.Logger,
) *Server {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	s := &Server{
		ledger:      ledgerSvc,
		registry:    registry,
		feePolicy:   feePolicy,
		coordinator: coordinator,
		log:         log,
	}
	s.srv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Routes builds the router. Exposed so tests can drive the handler stack
// without binding a socket.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.Use(tracingMiddleware, metricsMiddleware, loggingMiddleware(s.log))

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/system/status", s.handleSystemStatus).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/requests", s.handleCreateRequest).Methods(http.MethodPost)
	api.HandleFunc("/requests", s.handleListRequests).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id}", s.handleGetRequest).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id}/randomness", s.handleGetRandomness).Methods(http.MethodGet)
	api.HandleFunc("/proofs", s.handleSubmitProof).Methods(http.MethodPost)
	api.HandleFunc("/proofs/{identity}", s.handleGetProof).Methods(http.MethodGet)
	api.HandleFunc("/fees", s.handleGetFees).Methods(http.MethodGet)
	api.HandleFunc("/fees", s.handleSetFee).Methods(http.MethodPut)

	return r
}

func (s *Server) Name() string { return "http-server" }

// Start begins serving in the background. Listen errors after startup are
// logged rather than returned; the lifecycle manager only sees bind failures
// indirectly through the health endpoint.
func (s *Server) Start(ctx context.Context) error {
	s.startedAt = time.Now()
	go func() {
		s.log.WithField("addr", s.srv.Addr).Info("http server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("http server terminated")
		}
	}()
	return nil
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
