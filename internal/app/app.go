// -----------------------------------------------------------------------
// Application composition root
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mitto/internal/common"
	"github.com/ternarybob/mitto/internal/handlers"
	"github.com/ternarybob/mitto/internal/jobs"
	"github.com/ternarybob/mitto/internal/providers"
	"github.com/ternarybob/mitto/internal/server"
	"github.com/ternarybob/mitto/internal/services/events"
	"github.com/ternarybob/mitto/internal/storage/badger"
)

// App owns every long-lived component and their start/stop ordering
type App struct {
	config     *common.Config
	logger     arbor.ILogger
	connection *badger.Connection
	scheduler  *jobs.Scheduler
	sweeps     *jobs.SweepService
	httpServer *server.Server
	gcStop     chan struct{}
	gcDone     chan struct{}
	gcStarted  bool
}

// New wires storage, providers, scheduler, sweeps, and the HTTP server
func New(ctx context.Context, config *common.Config) (*App, error) {
	logger := common.GetLogger()

	connection, err := badger.NewConnection(&config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	storage := badger.NewJobStorage(connection)
	eventBus := events.NewEventService()

	registry, err := providers.NewRegistry(ctx, config)
	if err != nil {
		connection.Close()
		return nil, err
	}

	scheduler := jobs.NewScheduler(&config.Scheduler, storage, registry, eventBus)
	sweeps := jobs.NewSweepService(&config.Scheduler, storage, scheduler)

	jobHandler := handlers.NewJobHandler(scheduler, storage)
	statusHandler := handlers.NewStatusHandler(scheduler)
	wsHandler := handlers.NewWebSocketHandler(eventBus, &config.WebSocket)

	httpServer := server.NewServer(config, jobHandler, statusHandler, wsHandler)

	return &App{
		config:     config,
		logger:     logger,
		connection: connection,
		scheduler:  scheduler,
		sweeps:     sweeps,
		httpServer: httpServer,
		gcStop:     make(chan struct{}),
		gcDone:     make(chan struct{}),
	}, nil
}

// Start brings components up: scheduler first so recovery runs before
// traffic, then sweeps, then the listener.
func (a *App) Start(ctx context.Context) error {
	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}
	if err := a.sweeps.Start(); err != nil {
		return err
	}
	a.gcStarted = true
	go a.gcLoop()
	a.httpServer.Start()
	return nil
}

// gcLoop runs periodic Badger value-log garbage collection
func (a *App) gcLoop() {
	defer close(a.gcDone)

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-a.gcStop:
			return
		case <-ticker.C:
			if err := a.connection.RunGC(); err != nil {
				a.logger.Debug().Err(err).Msg("Badger GC pass failed")
			}
		}
	}
}

// Stop tears components down in reverse order
func (a *App) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn().Err(err).Msg("HTTP shutdown error")
	}

	a.sweeps.Stop()

	if a.gcStarted {
		close(a.gcStop)
		<-a.gcDone
	}

	if err := a.scheduler.Stop(); err != nil {
		a.logger.Warn().Err(err).Msg("Scheduler shutdown error")
	}

	if err := a.connection.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("Storage close error")
	}

	a.logger.Info().Msg("Shutdown complete")
}
