// Package server exposes the orchestrator over HTTP.
//
// Routes:
//
//	POST   /v1/conversations/:id/turns?mode=sse|ui|buffered
//	GET    /v1/conversations/:id/messages
//	GET    /v1/tasks/:id
//	DELETE /v1/requests/:id
//	GET    /v1/ws
//	POST   <A2APath>/:agent   (optional, serves in-process agents)
//	GET    /metrics
//	GET    /healthz
package server

import (
	"context"
	"errors"
	"net/http"
	"path"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/agentrelay/a2a"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/orchestrator"
	"github.com/hupe1980/agentrelay/stream"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Options configures the HTTP server.
type Options struct {
	Logger logging.Logger
	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	// Stream configures the transport adapters created per turn.
	Stream func(o *stream.Options)
	// Agents serves in-process agents at A2APath when both are set.
	Agents  a2a.Client
	A2APath string
	// Checks run on /healthz.
	Checks map[string]HealthCheck
	Debug  bool

	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Server is the HTTP boundary of the relay.
type Server struct {
	orch     *orchestrator.Orchestrator
	stores   orchestrator.Stores
	engine   *gin.Engine
	upgrader websocket.Upgrader
	opts     Options
	started  time.Time
}

// New creates a server for orch. stores serve the read-only routes and
// should be the same stores orch writes to.
func New(orch *orchestrator.Orchestrator, stores orchestrator.Stores, optFns ...func(o *Options)) *Server {
	opts := Options{
		Logger:          logging.NoOpLogger{},
		Gatherer:        prometheus.DefaultGatherer,
		ReadTimeout:     30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNop(opts.Logger)

	if !opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(requestLogger(opts.Logger), gin.Recovery())

	s := &Server{
		orch:   orch,
		stores: stores,
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		opts:    opts,
		started: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	v1 := s.engine.Group("/v1")
	{
		v1.POST("/conversations/:id/turns", s.handleTurn)
		v1.GET("/conversations/:id/messages", s.handleMessages)
		v1.GET("/tasks/:id", s.handleTask)
		v1.DELETE("/requests/:id", s.handleCancel)
		v1.GET("/ws", s.handleWebSocket)
	}

	if s.opts.Agents != nil && s.opts.A2APath != "" {
		h := a2a.NewHandler(s.opts.Agents, func(r *http.Request) string {
			return a2a.Endpoint(path.Base(r.URL.Path))
		}, s.opts.Logger)
		s.engine.POST(path.Join(s.opts.A2APath, ":agent"), gin.WrapH(h))
	}

	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	s.engine.GET("/healthz", s.handleHealth)
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
// Streaming responses have no write timeout; adapters carry their own
// watchdog.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: s.opts.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.opts.Logger.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
	defer cancel()
	s.opts.Logger.Info("HTTP server shutting down", "active_executions", s.orch.Active())
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	checks := make(map[string]string, len(s.opts.Checks))
	for name, check := range s.opts.Checks {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		err := check(ctx)
		cancel()
		if err != nil {
			status = http.StatusServiceUnavailable
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{
		"status":            state,
		"uptime":            time.Since(s.started).Round(time.Second).String(),
		"active_executions": s.orch.Active(),
		"checks":            checks,
	})
}

func (s *Server) handleMessages(c *gin.Context) {
	msgs, err := s.stores.Messages.ListMessages(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abort(c, err)
		return
	}
	if msgs == nil {
		msgs = []core.MessageRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "total": len(msgs)})
}

func (s *Server) handleTask(c *gin.Context) {
	task, err := s.stores.Tasks.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleCancel(c *gin.Context) {
	if err := s.orch.Cancel(c.Param("id")); err != nil {
		s.abort(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// abort maps store and orchestrator errors to a JSON error response.
func (s *Server) abort(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, core.ErrNotFound) {
		status = http.StatusNotFound
	} else {
		s.opts.Logger.Error("Request failed", "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func requestLogger(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
