package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/moyoez/docdrop/api/controllers"
	"github.com/moyoez/docdrop/api/middlewares"
	"github.com/moyoez/docdrop/api/models"
	"github.com/moyoez/docdrop/api/notifyhub"
	"github.com/moyoez/docdrop/metrics"
	"github.com/moyoez/docdrop/tool"
	"github.com/moyoez/docdrop/types"
)

// Deps are the services the HTTP layer routes to.
type Deps struct {
	Uploads   *models.UploadManager
	Ingester  controllers.Ingester
	Files     controllers.FileLister
	Engine    controllers.Answerer
	Hub       *notifyhub.Hub
	Metrics   *metrics.Metrics
	RateLimit types.RateLimitConfig
}

// Server represents the HTTP API server for uploads, files and queries
type Server struct {
	port   int
	deps   Deps
	engine *gin.Engine
	server *http.Server
	mu     sync.RWMutex
}

func NewServer(port int, deps Deps) *Server {
	return &Server{
		port: port,
		deps: deps,
	}
}

func (s *Server) setupRoutes() *gin.Engine {
	if tool.DefaultLogger.GetLevel() == log.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middlewares.AllowAllCORS())

	uploadCtrl := controllers.NewUploadController(s.deps.Uploads)
	fileCtrl := controllers.NewFileController(s.deps.Ingester, s.deps.Files)
	queryCtrl := controllers.NewQueryController(s.deps.Engine)
	var hub controllers.ClientCounter
	if s.deps.Hub != nil {
		hub = s.deps.Hub
	}
	statusCtrl := controllers.NewStatusController(hub)
	limiter := middlewares.NewRateLimiter(s.deps.RateLimit)

	v1 := engine.Group(tool.APIPrefix, limiter.Middleware())
	{
		v1.POST("/upload/init", uploadCtrl.HandleInit)
		v1.POST("/upload/chunk", uploadCtrl.HandleChunk)
		v1.POST("/upload/complete", uploadCtrl.HandleComplete)
		v1.GET("/upload/:uploadId", uploadCtrl.HandleStatus)
		v1.DELETE("/upload/:uploadId", uploadCtrl.HandleAbort)

		v1.POST("/process-file", fileCtrl.HandleProcessFile)
		v1.GET("/uploaded-files", fileCtrl.HandleListFiles)
		v1.DELETE("/files/:id", fileCtrl.HandleDeleteFile)
		v1.POST("/files/query", queryCtrl.HandleQuery)
		if s.deps.Hub != nil {
			v1.GET("/files/notify-ws", notifyhub.HandleNotifyWS(s.deps.Hub))
		}
	}
	self := engine.Group("/api/self/v1", middlewares.OnlyAllowLocal)
	{
		self.GET("/status", statusCtrl.HandleStatus)
		self.GET("/config", statusCtrl.HandleConfig)
	}
	engine.GET("/metrics", middlewares.OnlyAllowLocal, gin.WrapH(s.deps.Metrics.Handler()))
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, tool.FastReturnSuccess())
	})

	return engine
}

// Handler builds the routes without listening, for embedding and tests.
func (s *Server) Handler() http.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		s.engine = s.setupRoutes()
	}
	return s.engine
}

// Start starts the HTTP server and blocks until it stops. A clean Shutdown returns nil.
func (s *Server) Start() error {
	handler := s.Handler()

	s.mu.Lock()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	tool.DefaultLogger.Infof("Starting API server on http://0.0.0.0:%d%s", s.port, tool.APIPrefix)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.server
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
