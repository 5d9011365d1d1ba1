package mediamodule

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/NicolasFerec/ferelix-server/internal/auth"
	"github.com/NicolasFerec/ferelix-server/internal/database"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// RegisterRoutes registers the catalog and dashboard endpoints.
func (m *Module) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1", auth.RequireUser())
	{
		v1.GET("/libraries", m.listLibraries)
		v1.GET("/libraries/:id/items", m.listLibraryItems)
		v1.GET("/libraries/:id/rows", m.listLibraryRows)
		v1.GET("/media/:id", m.getMedia)
	}

	dashboard := router.Group("/api/v1/dashboard", auth.RequireAdmin())
	{
		dashboard.GET("/libraries", m.dashboardListLibraries)
		dashboard.POST("/libraries", m.createLibrary)
		dashboard.PUT("/libraries/:id", m.updateLibrary)
		dashboard.DELETE("/libraries/:id", m.deleteLibrary)

		dashboard.GET("/recommendation-rows", m.listRecommendationRows)
		dashboard.POST("/recommendation-rows", m.createRecommendationRow)
		dashboard.PUT("/recommendation-rows/:id", m.updateRecommendationRow)
		dashboard.DELETE("/recommendation-rows/:id", m.deleteRecommendationRow)

		dashboard.GET("/users", m.listUsers)
		dashboard.POST("/users", m.createUser)
		dashboard.DELETE("/users/:id", m.deleteUser)

		dashboard.GET("/settings", m.getSettings)
		dashboard.PUT("/settings", m.updateSettings)

		dashboard.GET("/browse", m.browseDirectory)
	}
}

// listLibraries returns enabled libraries.
func (m *Module) listLibraries(c *gin.Context) {
	var libraries []database.Library
	if err := m.db.Where("enabled = ?", true).Order("name").Find(&libraries).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"libraries": libraries, "count": len(libraries)})
}

// listLibraryItems pages through non-deleted media files under a library.
func (m *Module) listLibraryItems(c *gin.Context) {
	library, ok := m.loadLibrary(c)
	if !ok {
		return
	}

	skip, _ := strconv.Atoi(c.DefaultQuery("skip", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if skip < 0 {
		skip = 0
	}

	var total int64
	base := m.db.Model(&database.MediaFile{}).
		Where("file_path LIKE ? AND deleted_at IS NULL", library.Path+"%")
	if err := base.Count(&total).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	var items []database.MediaFile
	err := m.db.
		Where("file_path LIKE ? AND deleted_at IS NULL", library.Path+"%").
		Order("file_name").
		Offset(skip).Limit(limit).
		Find(&items).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": items, "total": total, "skip": skip, "limit": limit})
}

// getMedia returns one media file with its tracks.
func (m *Module) getMedia(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid media ID"})
		return
	}

	var media database.MediaFile
	err = m.db.
		Preload("VideoTracks").
		Preload("AudioTracks").
		Preload("SubtitleTracks").
		First(&media, uint(id)).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Media file not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, media)
}

func (m *Module) loadLibrary(c *gin.Context) (*database.Library, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid library ID"})
		return nil, false
	}

	var library database.Library
	if err := m.db.First(&library, uint(id)).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Library not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return nil, false
	}
	return &library, true
}

// Dashboard: library CRUD

func (m *Module) dashboardListLibraries(c *gin.Context) {
	var libraries []database.Library
	if err := m.db.Order("id").Find(&libraries).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"libraries": libraries})
}

func (m *Module) createLibrary(c *gin.Context) {
	var req struct {
		Name    string `json:"name"`
		Path    string `json:"path" binding:"required"`
		Type    string `json:"type"`
		Enabled *bool  `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid request: " + err.Error()})
		return
	}

	name := req.Name
	if name == "" {
		name = req.Path
	}
	libType := req.Type
	if libType == "" {
		libType = "movies"
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	library := database.Library{
		Name:    name,
		Path:    strings.TrimRight(req.Path, "/"),
		Type:    libType,
		Enabled: enabled,
	}
	if err := m.db.Create(&library).Error; err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			c.JSON(http.StatusConflict, gin.H{"detail": "A library with this path already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, library)
}

func (m *Module) updateLibrary(c *gin.Context) {
	library, ok := m.loadLibrary(c)
	if !ok {
		return
	}

	var req struct {
		Name    *string `json:"name"`
		Type    *string `json:"type"`
		Enabled *bool   `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid request: " + err.Error()})
		return
	}

	if req.Name != nil {
		library.Name = *req.Name
	}
	if req.Type != nil {
		library.Type = *req.Type
	}
	if req.Enabled != nil {
		library.Enabled = *req.Enabled
	}
	if err := m.db.Save(library).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, library)
}

// deleteLibrary removes a library without cascading its MediaFiles; the
// scanner owns their lifecycle.
func (m *Module) deleteLibrary(c *gin.Context) {
	library, ok := m.loadLibrary(c)
	if !ok {
		return
	}
	if err := m.db.Delete(library).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// Dashboard: user CRUD

func (m *Module) listUsers(c *gin.Context) {
	var users []database.User
	if err := m.db.Order("id").Find(&users).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (m *Module) createUser(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
		IsAdmin  bool   `json:"is_admin"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid request: " + err.Error()})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to hash password"})
		return
	}

	user := database.User{
		Username:     req.Username,
		PasswordHash: hash,
		IsAdmin:      req.IsAdmin,
	}
	if err := m.db.Create(&user).Error; err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			c.JSON(http.StatusConflict, gin.H{"detail": "Username already taken"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (m *Module) deleteUser(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid user ID"})
		return
	}

	result := m.db.Delete(&database.User{}, uint(id))
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": result.Error.Error()})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"detail": "User not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Dashboard: settings

func (m *Module) getSettings(c *gin.Context) {
	settings, err := database.GetOrCreateSettings()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, settings)
}

// updateSettings persists new scheduler knobs and re-schedules the periodic
// jobs without a restart.
func (m *Module) updateSettings(c *gin.Context) {
	settings, err := database.GetOrCreateSettings()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	var req struct {
		LibraryScanIntervalMinutes *int `json:"library_scan_interval_minutes"`
		CleanupScheduleHour        *int `json:"cleanup_schedule_hour"`
		CleanupScheduleMinute      *int `json:"cleanup_schedule_minute"`
		CleanupGracePeriodDays     *int `json:"cleanup_grace_period_days"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid request: " + err.Error()})
		return
	}

	if req.LibraryScanIntervalMinutes != nil {
		if *req.LibraryScanIntervalMinutes < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Scan interval must be at least one minute"})
			return
		}
		settings.LibraryScanIntervalMinutes = *req.LibraryScanIntervalMinutes
	}
	if req.CleanupScheduleHour != nil {
		if *req.CleanupScheduleHour < 0 || *req.CleanupScheduleHour > 23 {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Cleanup hour must be 0-23"})
			return
		}
		settings.CleanupScheduleHour = *req.CleanupScheduleHour
	}
	if req.CleanupScheduleMinute != nil {
		if *req.CleanupScheduleMinute < 0 || *req.CleanupScheduleMinute > 59 {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Cleanup minute must be 0-59"})
			return
		}
		settings.CleanupScheduleMinute = *req.CleanupScheduleMinute
	}
	if req.CleanupGracePeriodDays != nil {
		if *req.CleanupGracePeriodDays < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Grace period cannot be negative"})
			return
		}
		settings.CleanupGracePeriodDays = *req.CleanupGracePeriodDays
	}

	if err := m.db.Save(settings).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	if m.settingsChanged != nil {
		m.settingsChanged(settings)
	}
	c.JSON(http.StatusOK, settings)
}
