package scanner

import (
	"time"

	"github.com/NicolasFerec/ferelix-server/internal/database"
	"github.com/NicolasFerec/ferelix-server/internal/logger"
)

// CleanupDeleted permanently removes media files soft-deleted longer ago
// than the grace period, cascading their tracks. Returns the count removed.
func (s *Scanner) CleanupDeleted(gracePeriodDays int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -gracePeriodDays)

	var rows []database.MediaFile
	if err := s.db.Where("deleted_at IS NOT NULL AND deleted_at < ?", cutoff).Find(&rows).Error; err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		logger.Info("No deleted media files to clean up")
		return 0, nil
	}

	logger.Info("Cleaning up %d deleted media files older than %d days", len(rows), gracePeriodDays)

	tx := s.db.Begin()
	if tx.Error != nil {
		return 0, tx.Error
	}
	for i := range rows {
		id := rows[i].ID
		if err := tx.Where("media_file_id = ?", id).Delete(&database.VideoTrack{}).Error; err != nil {
			tx.Rollback()
			return 0, err
		}
		if err := tx.Where("media_file_id = ?", id).Delete(&database.AudioTrack{}).Error; err != nil {
			tx.Rollback()
			return 0, err
		}
		if err := tx.Where("media_file_id = ?", id).Delete(&database.SubtitleTrack{}).Error; err != nil {
			tx.Rollback()
			return 0, err
		}
		if err := tx.Delete(&database.MediaFile{}, id).Error; err != nil {
			tx.Rollback()
			return 0, err
		}
	}
	if err := tx.Commit().Error; err != nil {
		return 0, err
	}

	logger.Info("Permanently deleted %d media files", len(rows))
	return len(rows), nil
}
