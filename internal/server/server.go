// Package server exposes a read-only HTTP view of a running session: health,
// prometheus metrics, the node database and the channel table.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/meshctl/internal/mesh"
	"github.com/danmuck/meshctl/internal/nodedb"
	"github.com/danmuck/meshctl/internal/observability"
	"github.com/danmuck/meshctl/internal/protocol"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Session is the part of mesh.Interface the API reads.
type Session interface {
	SessionID() string
	Phase() mesh.Phase
	MyInfo() *protocol.MyNodeInfo
	Metadata() *protocol.DeviceMetadata
	Channels() []protocol.Channel
	Nodes() []nodedb.Node
	GetNode(key string) (nodedb.Node, bool)
}

const metricsPath = "/metrics"

type Config struct {
	// Name is the radio label on request metrics.
	Name        string
	Addr        string
	CorsOrigins []string
}

type Server struct {
	cfg     Config
	session Session
	router  *gin.Engine
	started time.Time
	log     zerolog.Logger
}

func New(cfg Config, session Session) *Server {
	gin.SetMode(gin.ReleaseMode)
	observability.RegisterMetrics()
	s := &Server{
		cfg:     cfg,
		session: session,
		router:  gin.New(),
		started: time.Now(),
		log:     observability.Logger("server"),
	}
	s.router.Use(gin.Recovery())
	s.router.Use(observability.RequestLogger(s.log, session.SessionID))
	s.router.Use(observability.RequestMetrics(cfg.Name, metricsPath))
	if len(cfg.CorsOrigins) > 0 {
		s.router.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CorsOrigins,
			AllowMethods: []string{http.MethodGet},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	s.registerRoutes()
	return s
}

func (s *Server) Router() *gin.Engine { return s.router }

// Run serves until ctx ends, then shuts down with a short grace period.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("status api listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
