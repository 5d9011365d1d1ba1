package database

import (
	"time"
)

// Transcoding job types
const (
	TranscodingTypeHLS            = "hls"
	TranscodingTypeProgressive    = "progressive"
	TranscodingTypeRemux          = "remux"
	TranscodingTypeAudioTranscode = "audio_transcode"
)

// Transcoding job statuses
const (
	TranscodingStatusPending   = "pending"
	TranscodingStatusRunning   = "running"
	TranscodingStatusCompleted = "completed"
	TranscodingStatusFailed    = "failed"
	TranscodingStatusCancelled = "cancelled"
)

// TranscodingJob tracks one encoder session. At most one child process is
// alive per job id; status "running" implies the process referenced by
// ProcessID is alive, otherwise the job must be transitioned to failed.
type TranscodingJob struct {
	ID          string `json:"id" gorm:"primaryKey"`
	MediaFileID uint   `json:"media_file_id" gorm:"index"`

	Type   string `json:"type"`
	Status string `json:"status" gorm:"default:pending"`

	// Transcoding settings
	VideoCodec   *string `json:"video_codec"`
	AudioCodec   *string `json:"audio_codec"`
	VideoBitrate *int    `json:"video_bitrate"`
	AudioBitrate *int    `json:"audio_bitrate"`
	MaxWidth     *int    `json:"max_width"`
	MaxHeight    *int    `json:"max_height"`

	// Seek offset in seconds; progress times are reported relative to it.
	StartTime float64 `json:"start_time"`

	// Output info
	OutputPath   *string `json:"output_path"`
	PlaylistPath *string `json:"playlist_path"`

	// Progress tracking
	ProgressPercent    *float64 `json:"progress_percent"`
	TranscodedDuration *float64 `json:"transcoded_duration"`
	CurrentFPS         *float64 `json:"current_fps"`
	CurrentBitrate     *int     `json:"current_bitrate"`

	// Process info
	ProcessID     *int    `json:"process_id"`
	FFmpegCommand *string `json:"ffmpeg_command" gorm:"column:ffmpeg_command;type:text"`

	// Error handling
	ErrorMessage *string `json:"error_message" gorm:"type:text"`
	RetryCount   int     `json:"retry_count" gorm:"default:0"`

	// Session info
	SessionID *string `json:"session_id" gorm:"index"`
	ClientIP  *string `json:"client_ip"`
	UserAgent *string `json:"user_agent"`

	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at"`
	LastAccessedAt time.Time  `json:"last_accessed_at"`

	// Cleanup flags
	AutoCleanup  bool `json:"auto_cleanup" gorm:"default:true"`
	KeepSegments bool `json:"keep_segments" gorm:"default:false"`
}

// IsTerminal reports whether the job reached a final state.
func (j *TranscodingJob) IsTerminal() bool {
	switch j.Status {
	case TranscodingStatusCompleted, TranscodingStatusFailed, TranscodingStatusCancelled:
		return true
	}
	return false
}
