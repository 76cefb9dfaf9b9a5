// Package server hosts the callback endpoint the processing API pushes
// terminal task states to.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ncobase/msst/concurrency/worker"
	"github.com/ncobase/msst/ctxutil"
	"github.com/ncobase/msst/ecode"
	"github.com/ncobase/msst/logging/logger"
	"github.com/ncobase/msst/logging/observes"
	"github.com/ncobase/msst/msst"
	"github.com/ncobase/msst/net/resp"
	"github.com/ncobase/msst/version"
	"github.com/ncobase/msst/workflow"
)

// TraceHeader carries the trace id of a request.
const TraceHeader = "X-Trace-Id"

// Config configures the HTTP listener.
type Config struct {
	Host            string        `json:"host" yaml:"host"`
	Port            int           `json:"port" yaml:"port"`
	Mode            string        `json:"mode" yaml:"mode"` // gin mode: debug, release or test
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Deliverer handles one callback payload.
type Deliverer interface {
	Deliver(ctx context.Context, p msst.CallbackPayload) error
}

// Server is the callback server.
type Server struct {
	cfg      Config
	receiver Deliverer
	pool     *worker.Pool
	outcomes *Outcomes
	engine   *gin.Engine
}

// New creates the server. Deliveries run on pool, which the server starts in
// Run and drains on shutdown. outcomes may be nil.
func New(cfg Config, receiver Deliverer, pool *worker.Pool, outcomes *Outcomes) *Server {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	switch cfg.Mode {
	case gin.DebugMode, gin.TestMode:
		gin.SetMode(cfg.Mode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{cfg: cfg, receiver: receiver, pool: pool, outcomes: outcomes}
	s.engine = s.setupRouter()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) setupRouter() *gin.Engine {
	r := gin.New()
	r.Use(s.recoveryMiddleware())
	r.Use(traceMiddleware())
	r.Use(loggerMiddleware())

	r.GET("/health", s.health)

	api := r.Group("/api")
	api.POST("/callback", s.callback)
	api.GET("/tasks/:id", s.task)
	return r
}

// Run serves until ctx ends, then stops accepting requests and drains the
// queued deliveries within the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	s.pool.Start()

	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof(ctx, "callback server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case serveErr = <-errCh:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf(ctx, "failed to shut down http server: %v", err)
	}
	if err := s.pool.Stop(shutdownCtx); err != nil {
		logger.Warnf(ctx, "pending deliveries abandoned: %v", err)
	}

	if serveErr != nil {
		return fmt.Errorf("callback server: %w", serveErr)
	}
	return nil
}

// callback acknowledges every delivery with 200 "OK"; handling happens on
// the worker pool.
func (s *Server) callback(c *gin.Context) {
	ctx := c.Request.Context()

	var p msst.CallbackPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		logger.Warnf(ctx, "malformed callback payload: %v", err)
		resp.Text(c.Writer, http.StatusOK, "OK")
		return
	}
	logger.Infof(ctx, "callback for task %s: %s %s", p.TaskID, p.Status, p.Message)

	// the task context must not reference the gin context, which is reused
	taskCtx := ctxutil.SetTraceID(context.WithoutCancel(c.Request.Context()), ctxutil.GetTraceID(ctx))
	deliver := func(ctx context.Context) error {
		err := s.receiver.Deliver(ctx, p)
		if errors.Is(err, workflow.ErrUnknownTask) {
			return nil
		}
		return err
	}

	switch err := s.pool.Submit(taskCtx, deliver); {
	case err == nil:
	case errors.Is(err, worker.ErrQueueFull):
		logger.Warnf(ctx, "delivery queue full, handling task %s inline", p.TaskID)
		if err := deliver(taskCtx); err != nil {
			logger.Warnf(ctx, "callback for task %s: %v", p.TaskID, err)
		}
	default:
		logger.Errorf(ctx, "dropping callback for task %s: %v", p.TaskID, err)
		observes.CaptureError(ctx, err, map[string]string{"stage": "callback", "task_id": p.TaskID})
	}

	resp.Text(c.Writer, http.StatusOK, "OK")
}

func (s *Server) health(c *gin.Context) {
	status := "healthy"
	if s.pool.IsBusy() {
		status = "busy"
	}
	resp.Success(c.Writer, map[string]any{
		"status":  status,
		"workers": s.pool.GetMetrics(),
		"version": version.Get(),
	})
}

func (s *Server) task(c *gin.Context) {
	id := c.Param("id")
	var (
		o  OutcomeView
		ok bool
	)
	if s.outcomes != nil {
		o, ok = s.outcomes.Get(id)
	}
	if !ok {
		resp.FromError(c.Writer, ecode.NewNotFoundError("server.task", "task "+id, 0, ""))
		return
	}
	resp.Success(c.Writer, o)
}

func (s *Server) recoveryMiddleware() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		err := fmt.Errorf("panic: %v", recovered)
		logger.Errorf(c.Request.Context(), "recovered %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		observes.CaptureError(c.Request.Context(), err, map[string]string{"stage": "http"})
		resp.Fail(c.Writer, nil)
		c.Abort()
	})
}

func traceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if id := c.GetHeader(TraceHeader); id != "" {
			ctx = ctxutil.SetTraceID(ctx, id)
		}
		ctx, id := ctxutil.EnsureTraceID(ctx)
		c.Set(ctxutil.TraceIDKey, id)
		c.Request = c.Request.WithContext(ctx)
		c.Header(TraceHeader, id)
		c.Next()
	}
}

func loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		logger.Infof(c.Request.Context(), "%s %s %d %s", method, path, c.Writer.Status(), time.Since(start))
	}
}
