// Package server assembles the HTTP surface and the module lifecycle.
package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/NicolasFerec/ferelix-server/internal/auth"
	"github.com/NicolasFerec/ferelix-server/internal/config"
	"github.com/NicolasFerec/ferelix-server/internal/database"
	"github.com/NicolasFerec/ferelix-server/internal/events"
	"github.com/NicolasFerec/ferelix-server/internal/logger"
	"github.com/NicolasFerec/ferelix-server/internal/modules/jobmodule"
	"github.com/NicolasFerec/ferelix-server/internal/modules/mediamodule"
	"github.com/NicolasFerec/ferelix-server/internal/modules/modulemanager"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	// Modules without a direct reference still register via their init.
	_ "github.com/NicolasFerec/ferelix-server/internal/modules/playbackmodule"
	_ "github.com/NicolasFerec/ferelix-server/internal/modules/scannermodule"
	_ "github.com/NicolasFerec/ferelix-server/internal/modules/transcodemodule"
)

// Server is the assembled application.
type Server struct {
	engine *gin.Engine
	http   *http.Server
	bus    events.EventBus
}

// New wires the event bus, modules, and routes into a runnable server.
// database.Initialize must have run first.
func New() (*Server, error) {
	bus := events.NewEventBus(events.DefaultQueueCapacity)
	events.SetGlobalEventBus(bus)

	db := database.GetDB()
	if err := modulemanager.LoadAll(db); err != nil {
		return nil, err
	}

	// Settings drive the periodic schedules; changes re-schedule in place.
	settings, err := database.GetOrCreateSettings()
	if err != nil {
		return nil, err
	}
	jobs := jobmodule.GetModule()
	if err := jobs.ApplySettings(settings); err != nil {
		return nil, err
	}
	mediamodule.GetModule().OnSettingsChanged(func(updated *database.Settings) {
		if err := jobs.ApplySettings(updated); err != nil {
			logger.Error("Failed to re-schedule jobs after settings change: %v", err)
		}
	})

	engine := gin.New()
	engine.Use(gin.Recovery(), corsMiddleware())

	engine.GET("/health", func(c *gin.Context) {
		if err := database.HealthCheck(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	auth.RegisterRoutes(engine, db)
	modulemanager.RegisterRoutes(engine)

	cfg := config.Get()
	return &Server{
		engine: engine,
		bus:    bus,
		http: &http.Server{
			Addr:    cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port),
			Handler: engine,
		},
	}, nil
}

// Start launches the modules and serves HTTP until Shutdown.
func (s *Server) Start() error {
	if err := modulemanager.StartAll(); err != nil {
		return err
	}

	s.bus.Publish(events.Event{Type: events.EventSystemStarted, Source: "server"})
	logger.Info("Ferelix server listening on %s", s.http.Addr)

	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops HTTP, modules, and the event bus, bounded by the context.
func (s *Server) Shutdown(ctx context.Context) error {
	s.bus.Publish(events.Event{Type: events.EventSystemStopping, Source: "server"})

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return s.http.Shutdown(ctx)
	})
	group.Go(func() error {
		// Module stop includes the scheduler (waits for job bodies) and the
		// transcoder (kills encoder sessions).
		modulemanager.StopAll()
		return nil
	})

	err := group.Wait()
	s.bus.Close()
	return err
}

func corsMiddleware() gin.HandlerFunc {
	cfg := config.Get()
	origin := "*"
	if len(cfg.Server.AllowedOrigins) > 0 {
		origin = cfg.Server.AllowedOrigins[0]
	}
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

