// Package api serves related-market lookups over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/rewired-gh/polyrelated/internal/related"
	"github.com/rewired-gh/polyrelated/internal/trending"
)

// Resolver answers related-market queries.
type Resolver interface {
	Resolve(ctx context.Context, sel related.Selector, req related.Request) (*related.Response, error)
	SimilarByEvent(ctx context.Context, eventKey string, limit int) (*related.EventResponse, error)
	ClampLimit(limit int) int
}

// Trending ranks popular markets.
type Trending interface {
	Trending(ctx context.Context, category string, minScore float64, limit int) ([]trending.Entry, error)
}

// Options configures the server.
type Options struct {
	CacheSize   int
	ServiceName string
}

type Server struct {
	router   *gin.Engine
	resolver Resolver
	trending Trending
	cache    *lru.Cache
	logger   *zap.Logger
	service  string
}

// NewServer builds the router. A CacheSize of zero disables response caching.
func NewServer(resolver Resolver, trend Trending, opts Options, logger *zap.Logger) (*Server, error) {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	server := &Server{
		router:   router,
		resolver: resolver,
		trending: trend,
		logger:   logger,
		service:  opts.ServiceName,
	}
	if server.service == "" {
		server.service = "polyrelated"
	}
	if opts.CacheSize > 0 {
		cache, err := lru.New(opts.CacheSize)
		if err != nil {
			return nil, err
		}
		server.cache = cache
	}

	server.setupRoutes()
	return server, nil
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.health)
	s.router.GET("/related", s.relatedMarkets)
	s.router.GET("/similar", s.similar)
	s.router.GET("/trending", s.trendingMarkets)
}

// Handler returns the traced HTTP handler.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, s.service)
}

// PurgeCache drops every cached response. It is called when a new index is published.
func (s *Server) PurgeCache() {
	if s.cache != nil {
		s.cache.Purge()
		s.logger.Info("Response cache purged")
	}
}

func (s *Server) cached(key string) (any, bool) {
	if s.cache == nil {
		return nil, false
	}
	return s.cache.Get(key)
}

func (s *Server) store(key string, v any) {
	if s.cache != nil {
		s.cache.Add(key, v)
	}
}

func (s *Server) Start(ctx context.Context, addr string) error {
	s.logger.Info("Starting API server", zap.String("address", addr))

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			s.logger.Error("API server failed", zap.Error(err))
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
