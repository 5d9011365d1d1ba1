package database

import (
	"time"
)

// Library is a root directory the scanner indexes. Deleting a library does
// not cascade to MediaFiles; the scanner is the sole authority for their
// lifecycle.
type Library struct {
	ID        uint   `json:"id" gorm:"primaryKey"`
	Name      string `json:"name" gorm:"not null"`
	Path      string `json:"path" gorm:"uniqueIndex;not null"`
	Type      string `json:"type" gorm:"default:movies"`
	Enabled   bool   `json:"enabled" gorm:"default:true"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	RecommendationRows []RecommendationRow `json:"-" gorm:"constraint:OnDelete:CASCADE"`
}

// MediaFile is a video file discovered by the scanner. DeletedAt is the
// scanner-managed soft-delete timestamp: NULL means the file was present on
// disk as of the last scan. It is deliberately a plain *time.Time, not
// gorm.DeletedAt, so queries see soft-deleted rows unless they filter.
type MediaFile struct {
	ID            uint   `json:"id" gorm:"primaryKey"`
	FilePath      string `json:"file_path" gorm:"uniqueIndex;not null"`
	FileName      string `json:"file_name"`
	FileSize      int64  `json:"file_size"`
	FileExtension string `json:"file_extension"`

	// Container-level metadata from ffprobe; nil when the probe failed.
	Duration *float64 `json:"duration"`
	Width    *int     `json:"width"`
	Height   *int     `json:"height"`
	Codec    *string  `json:"codec"`
	Bitrate  *int64   `json:"bitrate"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ScannedAt time.Time  `json:"scanned_at"`
	DeletedAt *time.Time `json:"deleted_at" gorm:"index"`

	VideoTracks    []VideoTrack    `json:"video_tracks" gorm:"constraint:OnDelete:CASCADE"`
	AudioTracks    []AudioTrack    `json:"audio_tracks" gorm:"constraint:OnDelete:CASCADE"`
	SubtitleTracks []SubtitleTrack `json:"subtitle_tracks" gorm:"constraint:OnDelete:CASCADE"`
}

// VideoTrack carries per-stream video metadata. StreamIndex is the probe's
// absolute stream index, used verbatim in ffmpeg -map arguments.
type VideoTrack struct {
	ID          uint `json:"id" gorm:"primaryKey"`
	MediaFileID uint `json:"media_file_id" gorm:"index:idx_video_stream,unique"`
	StreamIndex int  `json:"stream_index" gorm:"index:idx_video_stream,unique"`

	Codec   string   `json:"codec"`
	Width   *int     `json:"width"`
	Height  *int     `json:"height"`
	Bitrate *int64   `json:"bitrate"`
	FPS     *float64 `json:"fps"`

	Profile     *string `json:"profile"`
	Level       *int    `json:"level"`
	PixelFormat *string `json:"pixel_format"`
	BitDepth    *int    `json:"bit_depth"`

	ColorRange     *string `json:"color_range"`
	ColorSpace     *string `json:"color_space"`
	ColorPrimaries *string `json:"color_primaries"`
	ColorTransfer  *string `json:"color_transfer"`

	// HDR mastering metadata
	MaxLuminance *int     `json:"max_luminance"`
	MinLuminance *float64 `json:"min_luminance"`
	MaxCLL       *int     `json:"max_cll"`
	MaxFALL      *int     `json:"max_fall"`

	Language  *string `json:"language"`
	Title     *string `json:"title"`
	IsDefault bool    `json:"is_default"`
}

// AudioTrack carries per-stream audio metadata.
type AudioTrack struct {
	ID          uint `json:"id" gorm:"primaryKey"`
	MediaFileID uint `json:"media_file_id" gorm:"index:idx_audio_stream,unique"`
	StreamIndex int  `json:"stream_index" gorm:"index:idx_audio_stream,unique"`

	Codec      string  `json:"codec"`
	Channels   *int    `json:"channels"`
	SampleRate *int    `json:"sample_rate"`
	Bitrate    *int64  `json:"bitrate"`
	Language   *string `json:"language"`
	Title      *string `json:"title"`
	IsDefault  bool    `json:"is_default"`
}

// SubtitleTrack carries per-stream subtitle metadata.
type SubtitleTrack struct {
	ID          uint `json:"id" gorm:"primaryKey"`
	MediaFileID uint `json:"media_file_id" gorm:"index:idx_subtitle_stream,unique"`
	StreamIndex int  `json:"stream_index" gorm:"index:idx_subtitle_stream,unique"`

	Codec     string  `json:"codec"`
	Language  *string `json:"language"`
	Title     *string `json:"title"`
	IsForced  bool    `json:"is_forced"`
	IsDefault bool    `json:"is_default"`
}

// RecommendationRow is an admin-defined media shelf. Criteria is a JSON
// filter expression evaluated against whitelisted MediaFile fields.
type RecommendationRow struct {
	ID        uint   `json:"id" gorm:"primaryKey"`
	LibraryID uint   `json:"library_id" gorm:"index"`
	Title     string `json:"title" gorm:"not null"`
	Criteria  string `json:"criteria" gorm:"type:text"`
	OrderBy   string `json:"order_by"`
	OrderDir  string `json:"order_dir" gorm:"default:desc"`
	Limit     int    `json:"limit" gorm:"column:row_limit;default:20"`
	Offset    int    `json:"offset" gorm:"column:row_offset;default:0"`
	Position  int    `json:"position" gorm:"default:0"`
	Enabled   bool   `json:"enabled" gorm:"default:true"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is an account that can authenticate against the API.
type User struct {
	ID           uint   `json:"id" gorm:"primaryKey"`
	Username     string `json:"username" gorm:"uniqueIndex;not null"`
	PasswordHash string `json:"-" gorm:"not null"`
	IsAdmin      bool   `json:"is_admin" gorm:"default:false"`
	Language     string `json:"language" gorm:"default:en"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RefreshToken stores hashed long-lived tokens so they can be revoked.
type RefreshToken struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UserID    uint      `json:"user_id" gorm:"index"`
	TokenHash string    `json:"-" gorm:"uniqueIndex;not null"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked" gorm:"default:false"`
	CreatedAt time.Time `json:"created_at"`
}

// Settings is the singleton row holding scheduler configuration. Updates
// re-schedule the scanner and maintenance jobs without a restart.
type Settings struct {
	ID                         uint `json:"id" gorm:"primaryKey"`
	LibraryScanIntervalMinutes int  `json:"library_scan_interval_minutes" gorm:"default:120"`
	CleanupScheduleHour        int  `json:"cleanup_schedule_hour" gorm:"default:3"`
	CleanupScheduleMinute      int  `json:"cleanup_schedule_minute" gorm:"default:0"`
	CleanupGracePeriodDays     int  `json:"cleanup_grace_period_days" gorm:"default:30"`
	UpdatedAt                  time.Time `json:"updated_at"`
}

// GetOrCreateSettings returns the singleton settings row, creating it with
// defaults on first run.
func GetOrCreateSettings() (*Settings, error) {
	var settings Settings
	err := DB.First(&settings, 1).Error
	if err == nil {
		return &settings, nil
	}
	settings = Settings{
		ID:                         1,
		LibraryScanIntervalMinutes: 120,
		CleanupScheduleHour:        3,
		CleanupScheduleMinute:      0,
		CleanupGracePeriodDays:     30,
	}
	if err := DB.Create(&settings).Error; err != nil {
		return nil, err
	}
	return &settings, nil
}
