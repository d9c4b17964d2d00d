// Package httpapi exposes the bridge methods over HTTP.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	sonarfit "github.com/goliatone/go-sonarfit"
	"github.com/goliatone/go-sonarfit/logging"
	"github.com/goliatone/go-sonarfit/rpc"
)

const (
	RequestIDHeader = "X-Request-ID"
	CodeTimeout     = "E_TIMEOUT"
)

// Config controls the HTTP transport.
type Config struct {
	Addr string
	// CallTimeout bounds how long a request waits for its reply. Zero waits
	// until the client goes away.
	CallTimeout    time.Duration
	CORS           bool
	AllowedOrigins []string
	// ShutdownTimeout bounds graceful shutdown in ListenAndServe.
	ShutdownTimeout time.Duration
}

type Option func(*Server)

func WithLogger(logger logging.Logger) Option {
	return func(s *Server) {
		s.logger = logging.OrNop(logger)
	}
}

// WithGatherer serves gatherer on /metrics.
func WithGatherer(gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = gatherer
	}
}

// Server adapts an rpc.Server to gin routes.
type Server struct {
	cfg      Config
	rpc      *rpc.Server
	logger   logging.Logger
	gatherer prometheus.Gatherer
	engine   *gin.Engine
}

func New(server *rpc.Server, cfg Config, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		rpc:    server,
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.engine = s.routes()
	return s
}

// Handler returns the gin engine.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestID())

	if s.cfg.CORS {
		if len(s.cfg.AllowedOrigins) == 0 {
			r.Use(cors.Default())
		} else {
			corsCfg := cors.DefaultConfig()
			corsCfg.AllowOrigins = s.cfg.AllowedOrigins
			corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, RequestIDHeader)
			r.Use(cors.New(corsCfg))
		}
	}

	api := r.Group("/api")
	{
		api.GET("/methods", s.listMethods)
		api.POST("/methods/:method", s.invoke)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "methods": len(s.rpc.Endpoints())})
	})

	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
	return r
}

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDHeader, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func (s *Server) listMethods(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"methods": s.rpc.Endpoints()})
}

func (s *Server) invoke(c *gin.Context) {
	method := c.Param("method")
	logger := s.logger.With("method", method, "request_id", c.GetString(RequestIDHeader))

	payload, err := decodeBody(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": rpc.Error{
			Code:    sonarfit.CodeInvalidArgs,
			Message: "Invalid request body",
		}})
		return
	}

	ctx := c.Request.Context()
	if s.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.CallTimeout)
		defer cancel()
	}

	reply, err := s.rpc.Call(ctx, method, payload)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) {
			logger.Warn("invocation timed out waiting for reply")
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": rpc.Error{
				Code:      CodeTimeout,
				Message:   "Timed out waiting for reply",
				Retryable: true,
			}})
			return
		}
		logger.Debug("client went away before reply", "error", err)
		c.Abort()
		return
	}

	env := rpc.NewResponseEnvelope(reply)
	switch {
	case env.NotImplemented:
		c.JSON(http.StatusNotImplemented, env)
	case env.Error != nil:
		c.JSON(rpc.HTTPStatusForError(reply.Err), env)
	default:
		c.JSON(http.StatusOK, env)
	}
}

// decodeBody reads the JSON body as an untyped payload. An empty body is a
// nil payload.
func decodeBody(c *gin.Context) (any, error) {
	raw, err := c.GetRawData()
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http transport listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.logger.Info("http transport shutting down")
	return srv.Shutdown(shutdownCtx)
}
