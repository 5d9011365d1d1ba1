package jobmodule

import (
	"net/http"
	"time"

	"github.com/NicolasFerec/ferelix-server/internal/auth"
	"github.com/NicolasFerec/ferelix-server/internal/events"
	"github.com/NicolasFerec/ferelix-server/internal/logger"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// RegisterRoutes registers the dashboard job endpoints.
func (m *Module) RegisterRoutes(router *gin.Engine) {
	dashboard := router.Group("/api/v1/dashboard", auth.RequireAdmin())
	{
		dashboard.GET("/jobs", m.listJobs)
		dashboard.GET("/jobs/history", m.jobHistory)
		dashboard.POST("/jobs/:id/trigger", m.triggerJob)
		dashboard.POST("/jobs/:id/cancel", m.cancelJob)
		dashboard.GET("/status", m.systemStatus)
	}

	// The websocket carries its token as a query parameter; browsers cannot
	// set headers on websocket upgrades.
	router.GET("/api/v1/dashboard/events/ws", auth.RequireAdmin(), m.eventSocket)
}

// listJobs returns the scheduled (recurring) jobs with live state.
func (m *Module) listJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"jobs": m.registry.ListScheduled(m.scheduler),
	})
}

// jobHistory returns recent executions, most recent first.
func (m *Module) jobHistory(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"history": m.registry.History(),
	})
}

// triggerJob moves a scheduled job's next run to now.
func (m *Module) triggerJob(c *gin.Context) {
	jobID := c.Param("id")

	if !m.scheduler.Started() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "Scheduler is not running"})
		return
	}
	if _, ok := m.scheduler.GetJob(jobID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Job not found"})
		return
	}
	if state, ok := m.registry.Get(jobID); ok && state.Status == StatusRunning {
		c.JSON(http.StatusConflict, gin.H{"detail": "Job is already running"})
		return
	}

	if err := m.scheduler.ModifyJobNextRun(jobID, time.Now().UTC()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Job triggered", "job_id": jobID})
}

// cancelJob requests cooperative cancellation of a running job. Cancelling
// an already-cancelled job is idempotent; a non-running job is a conflict.
func (m *Module) cancelJob(c *gin.Context) {
	jobID := c.Param("id")

	state, ok := m.registry.Get(jobID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Job not found"})
		return
	}
	if state.Status == StatusCancelled {
		c.JSON(http.StatusOK, gin.H{"message": "Job already cancelled", "job_id": jobID})
		return
	}
	if !m.registry.RequestCancel(jobID) {
		c.JSON(http.StatusConflict, gin.H{"detail": "Job is not running"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Cancellation requested", "job_id": jobID})
}

// systemStatus reports host load alongside job counts for the dashboard.
func (m *Module) systemStatus(c *gin.Context) {
	status := gin.H{
		"scheduler_running": m.scheduler.Started(),
		"scheduled_jobs":    len(m.scheduler.GetJobs()),
		"subscribers":       m.eventBus.Subscriptions(),
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		status["cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		status["memory_percent"] = vm.UsedPercent
		status["memory_used"] = vm.Used
		status["memory_total"] = vm.Total
	}

	c.JSON(http.StatusOK, status)
}

// eventSocket relays job and transcode events to a dashboard websocket.
func (m *Module) eventSocket(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sub := m.eventBus.Subscribe(events.Filter{Types: []events.EventType{
		events.EventJobState, events.EventJobProgress,
		events.EventTranscodeStarted, events.EventTranscodeProgress,
		events.EventTranscodeCompleted, events.EventTranscodeFailed,
	}})
	defer m.eventBus.Unsubscribe(sub.ID)

	// Reader goroutine: detect client close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
