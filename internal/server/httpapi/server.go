// Package httpapi is the HTTP adapter over the debt and evidence services.
// Handlers decode requests, call a single service operation and map the
// sentinel errors from internal/common onto status codes.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/debtkeeper/internal/logging"
	"github.com/dmitrijs2005/debtkeeper/internal/server/config"
	"github.com/dmitrijs2005/debtkeeper/internal/server/models"
	"github.com/dmitrijs2005/debtkeeper/internal/server/services"
	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
)

// DebtOperations is the part of services.DebtService the API exposes.
type DebtOperations interface {
	CreateOffer(ctx context.Context, lenderID string, in services.OfferInput) (*models.Debt, error)
	RespondToOffer(ctx context.Context, debtID, actorID string, accepted bool) (*models.Debt, error)
	MarkDefaulted(ctx context.Context, debtID, actorID string) (*models.Debt, error)
	MarkPaid(ctx context.Context, debtID, actorID string) (*models.Debt, error)
	ReviewDebt(ctx context.Context, debtID, operatorID string, approved bool) (*models.Debt, error)
	GetDebt(ctx context.Context, debtID, actorID string) (*models.Debt, error)
	ListDebts(ctx context.Context, actorID string) ([]*models.Debt, error)
}

// EvidenceOperations is the part of services.EvidenceService the API exposes.
type EvidenceOperations interface {
	Upload(ctx context.Context, in services.UploadInput) (*models.VideoEvidence, error)
	Approve(ctx context.Context, videoID, approverID string) (*models.VideoEvidence, error)
	Reject(ctx context.Context, videoID, approverID string) (*models.VideoEvidence, error)
	RetryEncryption(ctx context.Context, videoID, approverID string) (*models.VideoEvidence, error)
	ListEvidence(ctx context.Context, debtID, actorID string) ([]models.EvidenceView, error)
	StreamEvidence(ctx context.Context, videoID, requesterID, suppliedKey string) (*services.EvidenceStream, error)
}

type Server struct {
	address         string
	debts           DebtOperations
	evidence        EvidenceOperations
	logger          logging.Logger
	jwtSecret       []byte
	corsOrigins     []string
	maxUploadBytes  int64
	shutdownTimeout time.Duration
}

func NewServer(cfg *config.Config, l logging.Logger, ds DebtOperations, es EvidenceOperations) *Server {
	return &Server{
		address:         cfg.HTTPAddr,
		debts:           ds,
		evidence:        es,
		logger:          l.With("module", "http_server"),
		jwtSecret:       []byte(cfg.SecretKey),
		corsOrigins:     cfg.CORSOrigins,
		maxUploadBytes:  cfg.MaxUploadBytes,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
}

// Handler builds the routed handler with CORS and request logging applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLogger)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(s.authenticate)

		api.Route("/debts", func(r chi.Router) {
			r.Post("/", s.createOffer)
			r.Get("/", s.listDebts)
			r.Get("/{id}", s.getDebt)
			r.Post("/{id}/response", s.respondToOffer)
			r.Post("/{id}/default", s.markDefaulted)
			r.Post("/{id}/paid", s.markPaid)
			r.Post("/{id}/review", s.reviewDebt)
			r.Post("/{id}/evidence", s.uploadEvidence)
			r.Get("/{id}/evidence", s.listEvidence)
		})

		api.Route("/evidence/{id}", func(r chi.Router) {
			r.Post("/approve", s.approveEvidence)
			r.Post("/reject", s.rejectEvidence)
			r.Post("/retry", s.retryEncryption)
			r.Get("/stream", s.streamEvidence)
		})
	})

	c := cors.New(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", evidenceKeyHeader},
		ExposedHeaders: []string{"Content-Disposition"},
	})
	return c.Handler(r)
}

// Run serves until ctx is cancelled, then drains in-flight requests for up to
// the configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	stopped := make(chan error, 1)
	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
		defer cancel()
		stopped <- srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return <-stopped
}
