package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mirkobrombin/go-lease/v1/events"
	"github.com/mirkobrombin/go-lease/v1/store"
)

const (
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout = 10 * time.Second
)

// Server exposes health, metrics and read-only lease state over HTTP.
type Server struct {
	logger   *zap.Logger
	router   *gin.Engine
	port     int
	server   *http.Server
	store    store.Store
	bus      events.Bus
	gatherer prometheus.Gatherer
	now      func() time.Time
}

// LeaseResponse is the body of GET /api/v1/locks/:name.
type LeaseResponse struct {
	Name      string    `json:"name"`
	Held      bool      `json:"held"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewServer creates the status server. s must implement store.Getter for the
// lease endpoint to answer, and the watch endpoints need a non-nil bus.
func NewServer(s store.Store, bus events.Bus, gatherer prometheus.Gatherer, port int, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	srv := &Server{
		logger:   logger,
		router:   router,
		port:     port,
		store:    s,
		bus:      bus,
		gatherer: gatherer,
		now:      time.Now,
	}
	srv.routes()
	return srv
}

// Handler returns the HTTP handler serving the routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.GET("/healthz", s.healthz)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	api := s.router.Group("/api/v1")
	api.GET("/locks/:name", s.getLease)
	api.GET("/locks/:name/watch", s.watchSSE)
	api.GET("/locks/:name/ws", s.watchWebSocket)
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getLease(c *gin.Context) {
	name := c.Param("name")
	getter, ok := s.store.(store.Getter)
	if !ok {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "store cannot read leases back"})
		return
	}
	rec, found, err := getter.Get(c.Request.Context(), name)
	if err != nil {
		s.logger.Error("read lease failed", zap.String("name", name), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("lease %q not found", name)})
		return
	}
	c.JSON(http.StatusOK, LeaseResponse{
		Name:      rec.Name,
		Held:      !rec.Expired(s.now()),
		ExpiresAt: rec.ExpiresAt,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	})
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("0.0.0.0:%v", s.port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", zap.String("address", addr))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down HTTP server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}
	return nil
}
