// Package health serves the liveness endpoint.
//
// GET / answers 200 with a fixed body; every other route is 404. The server
// shares nothing with the pipeline.
package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	logx "newsrelay/pkg/logx"
)

const (
	DefaultAddr = ":10000"
	Body        = "Bot is running."
)

type Server struct {
	addr string
	log  logx.Logger
	http *http.Server
	ln   net.Listener
}

func New(addr string, log logx.Logger) *Server {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		addr = DefaultAddr
	} else if !strings.Contains(addr, ":") {
		// bare port, e.g. PORT=10000
		addr = ":" + addr
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{
		addr: addr,
		log:  log,
		http: &http.Server{
			Handler:           NewEngine(log),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// NewEngine builds the gin router.
func NewEngine(log logx.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		c.Next()
		log.Debug("liveness request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.Request.URL.Path),
			logx.Int("status", c.Writer.Status()),
			logx.String("remote", c.ClientIP()),
		)
	})
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, Body)
	})
	return r
}

// Listen binds the port. Failure here is a startup error.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("liveness listen %s: %w", s.addr, err)
	}
	s.ln = ln
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Serve blocks until ctx is done or the server fails.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	errCh := make(chan error, 1)
	go func() { errCh <- s.http.Serve(s.ln) }()
	s.log.Info("liveness endpoint listening", logx.String("addr", s.Addr()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.http.Shutdown(sctx)
		<-errCh
		return ctx.Err()
	}
}
