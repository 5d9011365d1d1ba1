package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/NicolasFerec/ferelix-server/internal/apperrors"
	"github.com/NicolasFerec/ferelix-server/internal/database"
	"github.com/NicolasFerec/ferelix-server/internal/events"
	"github.com/NicolasFerec/ferelix-server/internal/logger"
	"github.com/NicolasFerec/ferelix-server/internal/modules/jobmodule"
	"gorm.io/gorm"
)

// videoExtensions is the supported set, matched case-insensitively.
var videoExtensions = map[string]bool{
	".mp4":  true,
	".mkv":  true,
	".avi":  true,
	".mov":  true,
	".webm": true,
	".m4v":  true,
	".flv":  true,
	".wmv":  true,
}

// DefaultBatchSize bounds memory and loss-on-crash for scan commits.
const DefaultBatchSize = 10

// ScanStats summarizes one library scan.
type ScanStats struct {
	New       int  `json:"new"`
	Updated   int  `json:"updated"`
	Deleted   int  `json:"deleted"`
	Restored  int  `json:"restored"`
	Cancelled bool `json:"cancelled"`
}

// JobTracker is the slice of the job registry the scanner needs: progress
// reporting and cooperative cancellation.
type JobTracker interface {
	UpdateProgress(jobID string, filesTotal, filesProcessed *int, currentFile *string)
	IsCancelRequested(jobID string) bool
	MarkCancelled(jobID string)
	Ensure(jobID string, sched *jobmodule.Scheduler) *jobmodule.JobState
}

// Scanner walks library trees, diffs against the database, and extracts
// metadata via the prober. It runs as a job.
type Scanner struct {
	db        *gorm.DB
	registry  JobTracker
	prober    *Prober
	bus       events.EventBus
	batchSize int
}

// NewScanner creates a scanner.
func NewScanner(db *gorm.DB, registry JobTracker, prober *Prober, bus events.EventBus, batchSize int) *Scanner {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Scanner{
		db:        db,
		registry:  registry,
		prober:    prober,
		bus:       bus,
		batchSize: batchSize,
	}
}

// IsVideoFile reports whether the path's extension is in the supported set.
func IsVideoFile(path string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(path))]
}

// ScanLibrary scans one library: enumerate, ingest, reap. The reap pass is
// skipped on cancellation so a partial scan never marks surviving files
// deleted.
func (s *Scanner) ScanLibrary(libraryID uint, jobID string) (ScanStats, error) {
	var library database.Library
	if err := s.db.First(&library, libraryID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return ScanStats{}, fmt.Errorf("%w: library %d", apperrors.ErrNotFound, libraryID)
		}
		return ScanStats{}, err
	}

	info, err := os.Stat(library.Path)
	if err != nil || !info.IsDir() {
		logger.Warn("Library path does not exist or is not a directory: %s", library.Path)
		return ScanStats{}, nil
	}

	logger.Info("Scanning library path: %s", library.Path)
	s.publish(events.EventScanStarted, library, nil)

	// First pass: enumerate video files, polling cancellation between
	// directory reads.
	paths, cancelled := s.enumerate(library.Path, jobID)
	if cancelled {
		s.markCancelled(jobID)
		stats := ScanStats{Cancelled: true}
		s.publish(events.EventScanCompleted, library, &stats)
		return stats, nil
	}

	filesTotal := len(paths)
	logger.Info("Found %d video files to process", filesTotal)
	s.updateProgress(jobID, &filesTotal, intPtr(0), nil)

	// Second pass: ingest in deterministic order with batched commits.
	stats, err := s.ingest(library, paths, jobID)
	if err != nil {
		s.publish(events.EventScanFailed, library, nil)
		return stats, err
	}

	// Third pass: reap rows for files not observed, only on a clean pass.
	if !stats.Cancelled {
		done := filesTotal
		s.updateProgress(jobID, nil, &done, strPtrEmpty())

		deleted, err := s.reap(library.Path, paths)
		if err != nil {
			s.publish(events.EventScanFailed, library, nil)
			return stats, err
		}
		stats.Deleted = deleted
	}

	if stats.Cancelled {
		logger.Info("Scan cancelled for %s: %d new, %d updated, %d restored (before cancellation)",
			library.Path, stats.New, stats.Updated, stats.Restored)
	} else {
		logger.Info("Scan complete for %s: %d new, %d updated, %d deleted, %d restored",
			library.Path, stats.New, stats.Updated, stats.Deleted, stats.Restored)
	}
	s.publish(events.EventScanCompleted, library, &stats)
	return stats, nil
}

// enumerate walks the tree collecting matching paths in deterministic order.
func (s *Scanner) enumerate(root, jobID string) (paths []string, cancelled bool) {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Warn("Skipping unreadable entry %s: %v", path, err)
			return nil
		}
		if d.IsDir() {
			if s.isCancelRequested(jobID) {
				cancelled = true
				return filepath.SkipAll
			}
			return nil
		}
		if IsVideoFile(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		logger.Warn("Walk failed for %s: %v", root, err)
	}
	sort.Strings(paths)
	return paths, cancelled
}

// ingest processes enumerated paths, committing every batchSize changes.
func (s *Scanner) ingest(library database.Library, paths []string, jobID string) (ScanStats, error) {
	stats := ScanStats{}
	pending := 0
	tx := s.db.Begin()
	if tx.Error != nil {
		return stats, tx.Error
	}

	commit := func() error {
		if err := tx.Commit().Error; err != nil {
			return err
		}
		tx = s.db.Begin()
		return tx.Error
	}

	for idx, path := range paths {
		if s.isCancelRequested(jobID) {
			logger.Info("Cancellation requested at file %d/%d", idx+1, len(paths))
			stats.Cancelled = true
			// Commit any pending batch before exiting.
			if pending > 0 {
				if err := tx.Commit().Error; err != nil {
					return stats, err
				}
			} else {
				tx.Rollback()
			}
			s.markCancelled(jobID)
			return stats, nil
		}

		s.updateProgress(jobID, nil, intPtr(idx), &path)

		changed, err := s.ingestFile(tx, library, path, &stats)
		if err != nil {
			tx.Rollback()
			return stats, err
		}
		if changed {
			pending++
		}

		if pending >= s.batchSize {
			if err := commit(); err != nil {
				return stats, err
			}
			pending = 0
		}
	}

	if err := tx.Commit().Error; err != nil {
		return stats, err
	}
	return stats, nil
}

// ingestFile creates or refreshes one MediaFile row. Probe failures degrade
// that record's metadata to nulls but do not abort the scan; other per-file
// I/O errors are logged and skipped.
func (s *Scanner) ingestFile(tx *gorm.DB, library database.Library, path string, stats *ScanStats) (bool, error) {
	now := time.Now().UTC()

	var existing database.MediaFile
	err := tx.Where("file_path = ?", path).First(&existing).Error
	switch err {
	case nil:
		if existing.DeletedAt != nil {
			logger.Info("File restored: %s", path)
			existing.DeletedAt = nil
			stats.Restored++
		}
		stats.Updated++

		info := s.probeFile(path)
		applyMediaInfo(&existing, info)
		existing.ScannedAt = now
		existing.UpdatedAt = now
		if err := tx.Save(&existing).Error; err != nil {
			return false, err
		}
		if err := s.replaceTracks(tx, existing.ID, info); err != nil {
			return false, err
		}
		return true, nil

	case gorm.ErrRecordNotFound:
		stat, statErr := os.Stat(path)
		if statErr != nil {
			logger.Warn("Skipping unreadable file %s: %v", path, statErr)
			return false, nil
		}

		logger.Info("Processing new file: %s", path)
		info := s.probeFile(path)

		mediaFile := database.MediaFile{
			FilePath:      path,
			FileName:      filepath.Base(path),
			FileSize:      stat.Size(),
			FileExtension: strings.ToLower(filepath.Ext(path)),
			ScannedAt:     now,
		}
		applyMediaInfo(&mediaFile, info)
		if err := tx.Create(&mediaFile).Error; err != nil {
			return false, err
		}
		if err := s.replaceTracks(tx, mediaFile.ID, info); err != nil {
			return false, err
		}
		stats.New++
		return true, nil

	default:
		return false, err
	}
}

// probeFile probes a path, returning nil on failure.
func (s *Scanner) probeFile(path string) *MediaInfo {
	info, err := s.prober.Probe(context.Background(), path)
	if err != nil {
		logger.Warn("Probe failed for %s: %v", path, err)
		return nil
	}
	return info
}

// applyMediaInfo copies container-level metadata onto the row. A nil info
// nulls the metadata out.
func applyMediaInfo(mediaFile *database.MediaFile, info *MediaInfo) {
	if info == nil {
		mediaFile.Duration = nil
		mediaFile.Width = nil
		mediaFile.Height = nil
		mediaFile.Codec = nil
		mediaFile.Bitrate = nil
		return
	}
	mediaFile.Duration = info.Duration
	mediaFile.Bitrate = info.Bitrate
	if len(info.VideoStreams) > 0 {
		first := info.VideoStreams[0]
		mediaFile.Width = first.Width
		mediaFile.Height = first.Height
		codec := first.Codec
		mediaFile.Codec = &codec
	} else {
		mediaFile.Width = nil
		mediaFile.Height = nil
		mediaFile.Codec = nil
	}
}

// replaceTracks atomically regenerates the track set for a media file.
func (s *Scanner) replaceTracks(tx *gorm.DB, mediaFileID uint, info *MediaInfo) error {
	if err := tx.Where("media_file_id = ?", mediaFileID).Delete(&database.VideoTrack{}).Error; err != nil {
		return err
	}
	if err := tx.Where("media_file_id = ?", mediaFileID).Delete(&database.AudioTrack{}).Error; err != nil {
		return err
	}
	if err := tx.Where("media_file_id = ?", mediaFileID).Delete(&database.SubtitleTrack{}).Error; err != nil {
		return err
	}
	if info == nil {
		return nil
	}

	for _, v := range info.VideoStreams {
		track := database.VideoTrack{
			MediaFileID:    mediaFileID,
			StreamIndex:    v.StreamIndex,
			Codec:          v.Codec,
			Width:          v.Width,
			Height:         v.Height,
			Bitrate:        v.Bitrate,
			FPS:            v.FPS,
			Profile:        v.Profile,
			Level:          v.Level,
			PixelFormat:    v.PixelFormat,
			BitDepth:       v.BitDepth,
			ColorRange:     v.ColorRange,
			ColorSpace:     v.ColorSpace,
			ColorPrimaries: v.ColorPrimaries,
			ColorTransfer:  v.ColorTransfer,
			MaxLuminance:   v.MaxLuminance,
			MinLuminance:   v.MinLuminance,
			MaxCLL:         v.MaxCLL,
			MaxFALL:        v.MaxFALL,
			Language:       v.Language,
			Title:          v.Title,
			IsDefault:      v.IsDefault,
		}
		if err := tx.Create(&track).Error; err != nil {
			return err
		}
	}
	for _, a := range info.AudioStreams {
		track := database.AudioTrack{
			MediaFileID: mediaFileID,
			StreamIndex: a.StreamIndex,
			Codec:       a.Codec,
			Channels:    a.Channels,
			SampleRate:  a.SampleRate,
			Bitrate:     a.Bitrate,
			Language:    a.Language,
			Title:       a.Title,
			IsDefault:   a.IsDefault,
		}
		if err := tx.Create(&track).Error; err != nil {
			return err
		}
	}
	for _, sub := range info.SubtitleStreams {
		track := database.SubtitleTrack{
			MediaFileID: mediaFileID,
			StreamIndex: sub.StreamIndex,
			Codec:       sub.Codec,
			Language:    sub.Language,
			Title:       sub.Title,
			IsForced:    sub.IsForced,
			IsDefault:   sub.IsDefault,
		}
		if err := tx.Create(&track).Error; err != nil {
			return err
		}
	}
	return nil
}

// reap soft-deletes rows under the library root that the pass did not
// observe.
func (s *Scanner) reap(root string, observedPaths []string) (int, error) {
	observed := make(map[string]bool, len(observedPaths))
	for _, p := range observedPaths {
		observed[p] = true
	}

	var rows []database.MediaFile
	if err := s.db.Where("file_path LIKE ? AND deleted_at IS NULL", root+"%").Find(&rows).Error; err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	deleted := 0
	for i := range rows {
		if observed[rows[i].FilePath] {
			continue
		}
		logger.Info("File missing, marking as deleted: %s", rows[i].FilePath)
		if err := s.db.Model(&rows[i]).Update("deleted_at", now).Error; err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// ScanAll enumerates enabled libraries. With a scheduler it fans out one
// one-shot job per library; without one it scans sequentially.
func (s *Scanner) ScanAll(sched *jobmodule.Scheduler) (map[string]int, error) {
	var libraries []database.Library
	if err := s.db.Where("enabled = ?", true).Find(&libraries).Error; err != nil {
		return nil, err
	}

	if len(libraries) == 0 {
		logger.Info("No library paths configured for scanning")
		return map[string]int{"libraries_scheduled": 0}, nil
	}

	if sched != nil {
		for _, library := range libraries {
			s.ScheduleLibraryScan(sched, library.ID, library.Name)
		}
		logger.Info("Scheduled %d library scan jobs", len(libraries))
		return map[string]int{"libraries_scheduled": len(libraries)}, nil
	}

	totals := map[string]int{"new": 0, "updated": 0, "deleted": 0, "restored": 0}
	for _, library := range libraries {
		stats, err := s.ScanLibrary(library.ID, "")
		if err != nil {
			logger.Error("Scan failed for library %d: %v", library.ID, err)
			continue
		}
		totals["new"] += stats.New
		totals["updated"] += stats.Updated
		totals["deleted"] += stats.Deleted
		totals["restored"] += stats.Restored
	}
	return totals, nil
}

// ScheduleLibraryScan creates a one-shot job to scan a specific library.
// The timestamp suffix keeps ids unique across rapid retriggers.
func (s *Scanner) ScheduleLibraryScan(sched *jobmodule.Scheduler, libraryID uint, libraryName string) string {
	jobID := fmt.Sprintf("%s%d_%d", jobmodule.ScanLibraryJobPrefix, libraryID, time.Now().UTC().Unix())

	fn := func(jobID string, args map[string]interface{}) error {
		id, _ := args["library_id"].(uint)
		_, err := s.ScanLibrary(id, jobID)
		return err
	}

	err := sched.AddJob(jobID, fmt.Sprintf("Library %d Scan", libraryID), fn, jobmodule.DateTrigger{At: time.Now().UTC()}, map[string]interface{}{
		"library_id":   libraryID,
		"library_name": libraryName,
	}, false)
	if err != nil {
		logger.Error("Failed to schedule scan job for library %d: %v", libraryID, err)
		return ""
	}

	// Prime the state so listings show the library name immediately.
	s.registry.Ensure(jobID, sched)

	logger.Info("Scheduled one-off scan job %s for library %d", jobID, libraryID)
	return jobID
}

func (s *Scanner) isCancelRequested(jobID string) bool {
	return jobID != "" && s.registry != nil && s.registry.IsCancelRequested(jobID)
}

func (s *Scanner) markCancelled(jobID string) {
	if jobID != "" && s.registry != nil {
		s.registry.MarkCancelled(jobID)
	}
}

func (s *Scanner) updateProgress(jobID string, total, processed *int, currentFile *string) {
	if jobID != "" && s.registry != nil {
		s.registry.UpdateProgress(jobID, total, processed, currentFile)
	}
}

func (s *Scanner) publish(eventType events.EventType, library database.Library, stats *ScanStats) {
	if s.bus == nil {
		return
	}
	data := map[string]interface{}{
		"library_id":   library.ID,
		"library_path": library.Path,
	}
	if stats != nil {
		data["stats"] = *stats
	}
	s.bus.Publish(events.Event{Type: eventType, Source: "scanner", Data: data})
}

func intPtr(v int) *int { return &v }

func strPtrEmpty() *string {
	s := ""
	return &s
}
