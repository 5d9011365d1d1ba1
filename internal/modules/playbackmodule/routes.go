package playbackmodule

import (
	"net/http"
	"strconv"

	"github.com/NicolasFerec/ferelix-server/internal/auth"
	"github.com/NicolasFerec/ferelix-server/internal/database"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RegisterRoutes registers the playback decision endpoint.
func (m *Module) RegisterRoutes(router *gin.Engine) {
	router.POST("/api/v1/playback-info/:id", auth.RequireUser(), m.playbackInfo)
}

// playbackInfo runs the decision engine for one media file against the
// client's device profile.
func (m *Module) playbackInfo(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid media ID"})
		return
	}

	var req PlaybackInfoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid request body: " + err.Error()})
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

	opts := Options{
		AllowDirectPlay:     boolOrDefault(req.EnableDirectPlay, true),
		AllowDirectStream:   boolOrDefault(req.EnableDirectStream, true),
		AllowTranscode:      boolOrDefault(req.EnableTranscoding, true),
		RequestedResolution: req.RequestedResolution,
	}

	builder := NewStreamBuilder(req.DeviceProfile)
	info := builder.BuildStreamInfo(&media, opts)

	c.JSON(http.StatusOK, PlaybackInfoResponse{
		MediaSources:  []StreamInfo{info},
		PlaySessionID: uuid.NewString(),
	})
}

func boolOrDefault(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
