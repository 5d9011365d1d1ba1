package transcoder

import (
	"os"
	"path/filepath"
	"time"

	"github.com/NicolasFerec/ferelix-server/internal/database"
)

// DefaultSessionMaxAge is how long a terminal session's output survives
// without being accessed.
const DefaultSessionMaxAge = 24 * time.Hour

// CleanupTranscodeFiles sweeps terminal jobs whose output has not been
// accessed within maxAge: working directories removed, records deleted.
// Returns the number of jobs cleaned.
func (m *Manager) CleanupTranscodeFiles(maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = DefaultSessionMaxAge
	}
	cutoff := time.Now().UTC().Add(-maxAge)

	var jobs []database.TranscodingJob
	err := m.db.Where("auto_cleanup = ? AND last_accessed_at < ? AND status IN ?",
		true, cutoff,
		[]string{
			database.TranscodingStatusCompleted,
			database.TranscodingStatusFailed,
			database.TranscodingStatusCancelled,
		}).Find(&jobs).Error
	if err != nil {
		return 0, err
	}

	cleaned := 0
	for i := range jobs {
		job := &jobs[i]
		if job.OutputPath != nil {
			if err := os.RemoveAll(*job.OutputPath); err != nil {
				m.log.Warn("failed to remove session dir", "job_id", job.ID, "error", err)
			}
		}
		if err := m.db.Delete(&database.TranscodingJob{}, "id = ?", job.ID).Error; err != nil {
			m.log.Warn("failed to delete session record", "job_id", job.ID, "error", err)
			continue
		}
		cleaned++
	}

	if cleaned > 0 {
		m.log.Info("cleaned up stale transcoding sessions", "count", cleaned)
	}
	return cleaned, nil
}

// CleanupStalledAtStartup purges every job with an output path: no encoder
// process survives a restart, so any recorded session is dead. Orphan
// directories under the work root with no matching record are removed too.
// Returns the number of jobs purged.
func (m *Manager) CleanupStalledAtStartup() (int, error) {
	var jobs []database.TranscodingJob
	if err := m.db.Where("output_path IS NOT NULL").Find(&jobs).Error; err != nil {
		return 0, err
	}

	known := make(map[string]bool)
	purged := 0
	for i := range jobs {
		job := &jobs[i]
		if job.OutputPath != nil {
			known[filepath.Base(*job.OutputPath)] = true
			if err := os.RemoveAll(*job.OutputPath); err != nil {
				m.log.Warn("failed to remove stalled session dir", "job_id", job.ID, "error", err)
			}
		}
		if err := m.db.Delete(&database.TranscodingJob{}, "id = ?", job.ID).Error; err != nil {
			m.log.Warn("failed to delete stalled session record", "job_id", job.ID, "error", err)
			continue
		}
		purged++
	}

	// Orphan directories: a crash can leave output with no record.
	entries, err := os.ReadDir(m.workDir)
	if err == nil {
		for _, entry := range entries {
			if !entry.IsDir() || entry.Name() == "subtitles" || known[entry.Name()] {
				continue
			}
			if err := os.RemoveAll(filepath.Join(m.workDir, entry.Name())); err != nil {
				m.log.Warn("failed to remove orphan session dir", "dir", entry.Name(), "error", err)
			}
		}
	}

	if purged > 0 {
		m.log.Info("purged stalled transcoding sessions at startup", "count", purged)
	}
	return purged, nil
}
