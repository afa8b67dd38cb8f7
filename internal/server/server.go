// -----------------------------------------------------------------------
// HTTP server lifecycle
// -----------------------------------------------------------------------

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mitto/internal/common"
	"github.com/ternarybob/mitto/internal/handlers"
)

// Server owns the HTTP listener
type Server struct {
	config     *common.Config
	httpServer *http.Server
	logger     arbor.ILogger
}

// NewServer wires the handlers into a configured HTTP server
func NewServer(
	config *common.Config,
	job *handlers.JobHandler,
	status *handlers.StatusHandler,
	ws *handlers.WebSocketHandler,
) *Server {
	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	return &Server{
		config: config,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           buildRoutes(job, status, ws),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: common.GetLogger(),
	}
}

// Start begins serving in a background goroutine
func (s *Server) Start() {
	go func() {
		s.logger.Info().
			Str("addr", s.httpServer.Addr).
			Msg("HTTP server listening")

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server failed")
			os.Exit(1)
		}
	}()
}

// Shutdown drains connections and stops the listener
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("HTTP server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the configured listen address
func (s *Server) Addr() string {
	return s.httpServer.Addr
}
