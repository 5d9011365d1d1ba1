package scannermodule

import (
	"net/http"
	"strconv"

	"github.com/NicolasFerec/ferelix-server/internal/auth"
	"github.com/NicolasFerec/ferelix-server/internal/database"
	"github.com/NicolasFerec/ferelix-server/internal/modules/jobmodule"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// RegisterRoutes registers the dashboard scan endpoints.
func (m *Module) RegisterRoutes(router *gin.Engine) {
	dashboard := router.Group("/api/v1/dashboard", auth.RequireAdmin())
	{
		dashboard.POST("/scans", m.triggerScanAll)
		dashboard.POST("/libraries/:id/scan", m.triggerLibraryScan)
	}
}

// triggerScanAll fans out one one-shot scan job per enabled library.
func (m *Module) triggerScanAll(c *gin.Context) {
	result, err := m.scanner.ScanAll(jobmodule.GetModule().Scheduler())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// triggerLibraryScan schedules a one-shot scan of a single library.
func (m *Module) triggerLibraryScan(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid library ID"})
		return
	}

	var library database.Library
	if err := m.db.First(&library, uint(id)).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Library not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	if !library.Enabled {
		c.JSON(http.StatusForbidden, gin.H{"detail": "Library is disabled"})
		return
	}

	jobID := m.scanner.ScheduleLibraryScan(jobmodule.GetModule().Scheduler(), library.ID, library.Name)
	if jobID == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to schedule scan"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Scan scheduled", "job_id": jobID})
}
