package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"threatmesh/internal/auth"
	"threatmesh/internal/denylist"
	"threatmesh/internal/domain"
	"threatmesh/internal/engine"
	"threatmesh/internal/events"
	"threatmesh/internal/geolite"
	"threatmesh/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

// Deps are the collaborators the API serves. Denylist, Metrics, Locator and
// Redis are optional.
type Deps struct {
	Engine   *engine.Engine
	Bus      *events.Bus
	Denylist *denylist.Manager
	Metrics  *metrics.Metrics
	Locator  *geolite.Locator
	Redis    *redis.Client

	AllowedOrigins []string
}

type Server struct {
	deps Deps
}

func New(deps Deps) *Server {
	return &Server{deps: deps}
}

// Handler builds the routed API with CORS applied.
func (s *Server) Handler() http.Handler {
	reporter := auth.RequireRole(domain.RoleReporter)
	gov := auth.RequireRole(domain.RoleGovernance)

	router := http.NewServeMux()
	router.Handle("POST /threats/commit", reporter(http.HandlerFunc(s.commitThreat)))
	router.Handle("POST /threats/reveal", reporter(http.HandlerFunc(s.revealThreat)))
	router.Handle("POST /threats/{ip}/revoke", reporter(http.HandlerFunc(s.revokeThreat)))
	router.HandleFunc("GET /threats/{ip}", s.getThreatStatus)
	router.HandleFunc("GET /threats/{ip}/evidence", s.getEvidence)
	router.HandleFunc("GET /threats/{ip}/reporters/{id}", s.hasReported)
	router.HandleFunc("GET /threats", s.listConfirmed)
	router.HandleFunc("GET /commitments/{key}", s.getCommitment)
	router.HandleFunc("GET /whitelist/{ip}", s.isWhitelisted)

	router.Handle("POST /governance/whitelist", gov(http.HandlerFunc(s.addToWhitelist)))
	router.Handle("DELETE /governance/whitelist/{ip}", gov(http.HandlerFunc(s.removeFromWhitelist)))
	router.Handle("POST /governance/threats/{ip}/confirm", gov(http.HandlerFunc(s.forceConfirm)))
	router.Handle("POST /governance/threats/{ip}/revoke", gov(http.HandlerFunc(s.forceRevoke)))
	router.Handle("POST /governance/stakes", gov(http.HandlerFunc(s.setStake)))
	router.Handle("GET /governance/audit", gov(http.HandlerFunc(s.audit)))

	router.HandleFunc("GET /denylist", s.getDenylist)
	router.HandleFunc("GET /events", s.streamEvents)
	router.HandleFunc("GET /health", s.health)
	router.HandleFunc("GET /version", getVersion)
	if s.deps.Metrics != nil {
		router.Handle("GET /metrics", s.deps.Metrics.Handler())
	}

	origins := s.deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(router)
}

// Serve listens on port until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, port int) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Starting threatmesh API on port :%d", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server failed: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	return <-errCh
}
