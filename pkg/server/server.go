// Package server exposes the dashboard pages over HTTP. Every browser gets
// a session cookie; its selection lives in a SessionStore, its decoded
// visit volumes in the shared volume cache and its upload in an UploadStore.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"oaiviewer/internal/models"
	"oaiviewer/pkg/config"
	"oaiviewer/pkg/dashboard"
	"oaiviewer/pkg/dataset"
	"oaiviewer/pkg/volume"
)

// Server routes dashboard requests
type Server struct {
	cfg      *config.Config
	opts     dashboard.Options
	cache    *volume.Cache
	sessions *SessionStore
	uploaded *UploadStore

	mu         sync.Mutex
	dashboards map[string]*dashboard.Dashboard

	// renders uploaded volumes and meshes, which have no data root
	uploads *dashboard.Dashboard
}

// New creates a server from the configuration
func New(cfg *config.Config) *Server {
	opts := dashboard.DefaultOptions()
	opts.SliceSize = cfg.Display.SliceSize
	opts.MeshWidth = cfg.Display.MeshWidth
	opts.MeshHeight = cfg.Display.MeshHeight
	opts.ColormapBins = cfg.Display.ColormapBins

	cache := volume.NewCache(cfg.Cache.MaxVolumes)
	return &Server{
		cfg:        cfg,
		opts:       opts,
		cache:      cache,
		sessions:   NewSessionStore(models.NewSelection(cfg.Data.Root, cfg.Display.WindowCenter, cfg.Display.WindowWidth)),
		uploaded:   NewUploadStore(),
		dashboards: make(map[string]*dashboard.Dashboard),
		uploads:    dashboard.New(nil, cache, opts),
	}
}

// Sessions returns the selection store
func (s *Server) Sessions() *SessionStore {
	return s.sessions
}

// Uploads returns the per-session upload store
func (s *Server) Uploads() *UploadStore {
	return s.uploaded
}

// Router builds the gin engine with all routes
func (s *Server) Router() *gin.Engine {
	gin.SetMode(s.cfg.Server.Mode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(requestLogger)
	corsConfig := cors.Config{
		AllowOrigins:     s.cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length", WarningsHeader, VerticesHeader, RangeHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = nil
		corsConfig.AllowAllOrigins = true
	}
	r.Use(cors.New(corsConfig))

	r.GET("/healthz", s.Health)

	api := r.Group("/api")
	api.Use(sessionMiddleware)
	{
		api.POST("/session/root", s.SetRoot)
		api.GET("/session", s.GetSession)
		api.PATCH("/session", s.UpdateSession)

		api.GET("/subjects", s.Subjects)
		api.GET("/slice.png", s.SlicePNG)
		api.GET("/volume", s.VolumeInfo)

		api.POST("/upload", s.Upload)
		api.GET("/upload/slice.png", s.UploadSlicePNG)

		api.GET("/mesh.png", s.MeshPNG)
		api.GET("/mesh/compare.png", s.ComparePNG)
		api.GET("/mesh/probe", s.Probe)
		api.GET("/trend.png", s.TrendPNG)
		api.GET("/mask-mesh.stl", s.MaskMeshSTL)
	}

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Dashboard listening", "addr", srv.Addr, "root", s.cfg.Data.Root)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down dashboard")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

// dashboard returns the dashboard of a data root, creating it on first use
func (s *Server) dashboard(root string) (*dashboard.Dashboard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d, ok := s.dashboards[root]; ok {
		return d, nil
	}
	loc, err := dataset.NewLocator(root)
	if err != nil {
		return nil, err
	}
	d := dashboard.New(loc, s.cache, s.opts)
	s.dashboards[root] = d
	return d, nil
}

func requestLogger(c *gin.Context) {
	start := time.Now()
	c.Next()
	slog.Debug("Request",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"status", c.Writer.Status(),
		"duration", time.Since(start),
	)
}
