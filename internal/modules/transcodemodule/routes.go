package transcodemodule

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/NicolasFerec/ferelix-server/internal/auth"
	"github.com/NicolasFerec/ferelix-server/internal/config"
	"github.com/NicolasFerec/ferelix-server/internal/database"
	"github.com/NicolasFerec/ferelix-server/internal/modules/transcodemodule/transcoder"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RegisterRoutes registers the streaming and HLS endpoints. Authentication
// is optional on these so browser media elements can fetch them.
func (m *Module) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1", auth.OptionalUser())
	{
		v1.GET("/stream/:id", m.streamMedia)

		v1.POST("/hls/:id/remux", m.startRemux)
		v1.POST("/hls/:id/start", m.startTranscode)
		v1.POST("/hls/:id/audio-transcode", m.startAudioTranscode)

		// playlist.m3u8, segment_NNN.ts, and status share the :file slot;
		// gin cannot mix static and wildcard children on one level.
		v1.GET("/hls/:id/:file", m.hlsFile)
		v1.HEAD("/hls/:id/:file", m.hlsFile)
		v1.DELETE("/hls/:id/stop", m.stopSession)

		v1.GET("/subtitle/:id/:stream_index", m.subtitle)
	}
}

// loadMedia fetches a media file row and verifies it exists on disk.
func (m *Module) loadMedia(c *gin.Context, withTracks bool) (*database.MediaFile, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid media ID"})
		return nil, false
	}

	query := m.db
	if withTracks {
		query = query.Preload("AudioTracks").Preload("SubtitleTracks")
	}

	var media database.MediaFile
	if err := query.First(&media, uint(id)).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Media file not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return nil, false
	}

	if _, err := os.Stat(media.FilePath); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Media file not found on disk"})
		return nil, false
	}
	return &media, true
}

// createJob inserts the pending TranscodingJob row for a new session.
func (m *Module) createJob(c *gin.Context, media *database.MediaFile, jobType string) (*database.TranscodingJob, error) {
	clientIP := c.ClientIP()
	userAgent := c.GetHeader("User-Agent")
	sessionID := uuid.NewString()

	job := &database.TranscodingJob{
		ID:             uuid.NewString(),
		MediaFileID:    media.ID,
		Type:           jobType,
		Status:         database.TranscodingStatusPending,
		SessionID:      &sessionID,
		ClientIP:       &clientIP,
		UserAgent:      &userAgent,
		LastAccessedAt: time.Now().UTC(),
	}
	if err := m.db.Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (m *Module) startRemux(c *gin.Context) {
	media, ok := m.loadMedia(c, false)
	if !ok {
		return
	}

	job, err := m.createJob(c, media, database.TranscodingTypeRemux)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	params := transcoder.RemuxParams{
		SegmentDuration:  config.Get().Transcoder.SegmentDuration,
		AudioStreamIndex: queryIntPtr(c, "audio_stream_index"),
		StartTime:        queryFloat(c, "start_time"),
	}

	if _, err := m.manager.StartRemuxHLS(job.ID, media, params); err != nil {
		m.db.Delete(&database.TranscodingJob{}, "id = ?", job.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to start remuxing: " + err.Error()})
		return
	}

	m.respondWithJob(c, job.ID)
}

func (m *Module) startTranscode(c *gin.Context) {
	media, ok := m.loadMedia(c, true)
	if !ok {
		return
	}

	job, err := m.createJob(c, media, database.TranscodingTypeHLS)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	params := transcoder.HLSParams{
		VideoCodec:          c.DefaultQuery("video_codec", "h264"),
		AudioCodec:          c.DefaultQuery("audio_codec", "aac"),
		VideoBitrate:        queryInt(c, "video_bitrate"),
		AudioBitrate:        queryInt(c, "audio_bitrate"),
		MaxWidth:            queryInt(c, "max_width"),
		MaxHeight:           queryInt(c, "max_height"),
		SegmentDuration:     config.Get().Transcoder.SegmentDuration,
		AudioStreamIndex:    queryIntPtr(c, "audio_stream_index"),
		SubtitleStreamIndex: queryIntPtr(c, "subtitle_stream_index"),
		StartTime:           queryFloat(c, "start_time"),
	}

	if _, err := m.manager.StartHLSTranscode(job.ID, media, params); err != nil {
		m.db.Delete(&database.TranscodingJob{}, "id = ?", job.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to start transcoding: " + err.Error()})
		return
	}

	m.respondWithJob(c, job.ID)
}

func (m *Module) startAudioTranscode(c *gin.Context) {
	media, ok := m.loadMedia(c, true)
	if !ok {
		return
	}

	job, err := m.createJob(c, media, database.TranscodingTypeAudioTranscode)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	audioBitrate := queryInt(c, "audio_bitrate")
	if audioBitrate == 0 {
		audioBitrate = 128000
	}

	params := transcoder.HLSParams{
		AudioCodec:       c.DefaultQuery("audio_codec", "aac"),
		AudioBitrate:     audioBitrate,
		SegmentDuration:  config.Get().Transcoder.SegmentDuration,
		AudioStreamIndex: queryIntPtr(c, "audio_stream_index"),
		StartTime:        queryFloat(c, "start_time"),
	}

	if _, err := m.manager.StartAudioTranscodeHLS(job.ID, media, params); err != nil {
		m.db.Delete(&database.TranscodingJob{}, "id = ?", job.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to start audio-transcode: " + err.Error()})
		return
	}

	m.respondWithJob(c, job.ID)
}

func (m *Module) respondWithJob(c *gin.Context, jobID string) {
	var job database.TranscodingJob
	if err := m.db.First(&job, "id = ?", jobID).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, job)
}

// hlsFile dispatches GET /hls/{job_id}/{file} to the playlist, a segment,
// or the status document.
func (m *Module) hlsFile(c *gin.Context) {
	jobID := c.Param("id")
	file := c.Param("file")

	var job database.TranscodingJob
	if err := m.db.First(&job, "id = ?", jobID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Transcoding job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	switch {
	case file == "status":
		c.JSON(http.StatusOK, job)
	case file == "playlist.m3u8":
		m.servePlaylist(c, &job)
	default:
		var segment int
		if _, err := fmt.Sscanf(file, "segment_%03d.ts", &segment); err != nil || segment < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid segment name"})
			return
		}
		m.serveSegment(c, &job, segment)
	}
}

func (m *Module) servePlaylist(c *gin.Context, job *database.TranscodingJob) {
	switch job.Status {
	case database.TranscodingStatusCancelled:
		c.JSON(http.StatusGone, gin.H{"detail": "Transcoding job was cancelled"})
		return
	case database.TranscodingStatusFailed:
		detail := "Transcoding failed"
		if job.ErrorMessage != nil {
			detail = "Transcoding failed: " + *job.ErrorMessage
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": detail})
		return
	case database.TranscodingStatusRunning, database.TranscodingStatusCompleted:
	default:
		c.JSON(http.StatusNotFound, gin.H{"detail": "Playlist not ready yet"})
		return
	}

	if job.PlaylistPath == nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Playlist path not set"})
		return
	}

	c.Header("Cache-Control", "no-cache")
	if c.Request.Method == http.MethodHead {
		c.Header("Content-Type", "application/vnd.apple.mpegurl")
		c.Status(http.StatusOK)
		return
	}

	content, err := os.ReadFile(*job.PlaylistPath)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Playlist file not found"})
		return
	}

	m.touchJob(job.ID)
	c.Data(http.StatusOK, "application/vnd.apple.mpegurl", content)
}

func (m *Module) serveSegment(c *gin.Context, job *database.TranscodingJob, segment int) {
	if job.OutputPath == nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Job output path not set"})
		return
	}

	segmentPath := filepath.Join(*job.OutputPath, fmt.Sprintf("segment_%03d.ts", segment))
	if _, err := os.Stat(segmentPath); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": fmt.Sprintf("Segment %d not found", segment)})
		return
	}

	m.touchJob(job.ID)
	c.Header("Cache-Control", "public, max-age=3600")
	c.File(segmentPath)
}

// touchJob bumps last_accessed_at so cleanup spares live sessions.
func (m *Module) touchJob(jobID string) {
	m.db.Model(&database.TranscodingJob{}).Where("id = ?", jobID).
		Update("last_accessed_at", time.Now().UTC())
}

func (m *Module) stopSession(c *gin.Context) {
	jobID := c.Param("id")

	var job database.TranscodingJob
	if err := m.db.First(&job, "id = ?", jobID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Transcoding job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	if m.manager.Stop(jobID) {
		c.JSON(http.StatusOK, gin.H{"message": "Transcoding job stopped"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Job was not running or could not be stopped"})
}

// subtitle extracts a text subtitle track to WebVTT and serves it, caching
// the result under the transcode work root.
func (m *Module) subtitle(c *gin.Context) {
	media, ok := m.loadMedia(c, true)
	if !ok {
		return
	}

	streamIndex, err := strconv.Atoi(c.Param("stream_index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid stream index"})
		return
	}

	var track *database.SubtitleTrack
	for i := range media.SubtitleTracks {
		if media.SubtitleTracks[i].StreamIndex == streamIndex {
			track = &media.SubtitleTracks[i]
			break
		}
	}
	if track == nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Subtitle track not found"})
		return
	}

	if !transcoder.IsTextSubtitle(track.Codec) {
		c.JSON(http.StatusBadRequest, gin.H{
			"detail": fmt.Sprintf("Subtitle codec %q cannot be extracted to WebVTT. Image-based subtitles must be burned into the video.", track.Codec),
		})
		return
	}

	cacheDir := m.manager.SubtitleCacheDir()
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to create subtitle cache"})
		return
	}

	outputPath := filepath.Join(cacheDir, fmt.Sprintf("%d_%d.vtt", media.ID, streamIndex))
	if _, err := os.Stat(outputPath); err != nil {
		if !m.manager.ExtractSubtitle(media.FilePath, streamIndex, outputPath) {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to extract subtitle"})
			return
		}
	}

	content, err := os.ReadFile(outputPath)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to read subtitle"})
		return
	}

	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, "text/vtt", content)
}

func queryInt(c *gin.Context, name string) int {
	if v := c.Query(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

func queryIntPtr(c *gin.Context, name string) *int {
	if v := c.Query(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return &n
		}
	}
	return nil
}

func queryFloat(c *gin.Context, name string) float64 {
	if v := c.Query(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return 0
}
