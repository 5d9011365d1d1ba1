package scanner

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/NicolasFerec/ferelix-server/internal/database"
	"github.com/NicolasFerec/ferelix-server/internal/modules/jobmodule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// fakeTracker implements JobTracker and can request cancellation after a
// given number of processed-file updates.
type fakeTracker struct {
	mu            sync.Mutex
	cancelAfter   int // files processed before cancel; -1 = never
	cancelled     bool
	markedCancel  bool
	lastProcessed int
	lastTotal     int
}

func newFakeTracker(cancelAfter int) *fakeTracker {
	return &fakeTracker{cancelAfter: cancelAfter}
}

func (f *fakeTracker) UpdateProgress(jobID string, total, processed *int, currentFile *string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if total != nil {
		f.lastTotal = *total
	}
	if processed != nil {
		f.lastProcessed = *processed
		if f.cancelAfter >= 0 && *processed >= f.cancelAfter {
			f.cancelled = true
		}
	}
}

func (f *fakeTracker) IsCancelRequested(jobID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

func (f *fakeTracker) MarkCancelled(jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markedCancel = true
}

func (f *fakeTracker) Ensure(jobID string, sched *jobmodule.Scheduler) *jobmodule.JobState {
	return &jobmodule.JobState{ID: jobID}
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

func newTestScanner(t *testing.T, db *gorm.DB, tracker JobTracker) *Scanner {
	t.Helper()
	// A nonexistent ffprobe binary makes every probe fail, which the scan
	// must tolerate by nulling metadata.
	prober := NewProber(filepath.Join(t.TempDir(), "missing-ffprobe"), time.Second)
	return NewScanner(db, tracker, prober, nil, DefaultBatchSize)
}

func createLibrary(t *testing.T, db *gorm.DB, root string) database.Library {
	t.Helper()
	library := database.Library{Name: "Test", Path: root, Type: "movies", Enabled: true}
	require.NoError(t, db.Create(&library).Error)
	return library
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("fake video payload"), 0o644))
}

func TestFreshScanCreatesMediaFiles(t *testing.T) {
	db := newTestDB(t)
	root := t.TempDir()
	library := createLibrary(t, db, root)
	s := newTestScanner(t, db, nil)

	touch(t, filepath.Join(root, "a.mp4"))
	touch(t, filepath.Join(root, "b.mkv"))
	touch(t, filepath.Join(root, "c.txt"))

	stats, err := s.ScanLibrary(library.ID, "")
	require.NoError(t, err)
	assert.Equal(t, ScanStats{New: 2, Updated: 0, Deleted: 0, Restored: 0}, stats)

	var count int64
	db.Model(&database.MediaFile{}).Count(&count)
	assert.Equal(t, int64(2), count)

	var media database.MediaFile
	require.NoError(t, db.Where("file_name = ?", "a.mp4").First(&media).Error)
	assert.Equal(t, ".mp4", media.FileExtension)
	assert.Nil(t, media.DeletedAt)
	assert.False(t, media.ScannedAt.IsZero())
	// Probe failed by construction, so container metadata is null.
	assert.Nil(t, media.Duration)
}

func TestRescanIsStable(t *testing.T) {
	db := newTestDB(t)
	root := t.TempDir()
	library := createLibrary(t, db, root)
	s := newTestScanner(t, db, nil)

	touch(t, filepath.Join(root, "a.mp4"))
	touch(t, filepath.Join(root, "nested", "b.mkv"))

	_, err := s.ScanLibrary(library.ID, "")
	require.NoError(t, err)

	stats, err := s.ScanLibrary(library.ID, "")
	require.NoError(t, err)
	assert.Equal(t, ScanStats{New: 0, Updated: 2, Deleted: 0, Restored: 0}, stats)
}

func TestScanSoftDeletesMissingFiles(t *testing.T) {
	db := newTestDB(t)
	root := t.TempDir()
	library := createLibrary(t, db, root)
	s := newTestScanner(t, db, nil)

	pathA := filepath.Join(root, "a.mp4")
	touch(t, pathA)
	touch(t, filepath.Join(root, "b.mkv"))

	_, err := s.ScanLibrary(library.ID, "")
	require.NoError(t, err)

	require.NoError(t, os.Remove(pathA))

	stats, err := s.ScanLibrary(library.ID, "")
	require.NoError(t, err)
	assert.Equal(t, ScanStats{New: 0, Updated: 1, Deleted: 1, Restored: 0}, stats)

	var media database.MediaFile
	require.NoError(t, db.Where("file_path = ?", pathA).First(&media).Error)
	assert.NotNil(t, media.DeletedAt)
}

func TestScanRestoresReturnedFiles(t *testing.T) {
	db := newTestDB(t)
	root := t.TempDir()
	library := createLibrary(t, db, root)
	s := newTestScanner(t, db, nil)

	pathA := filepath.Join(root, "a.mp4")
	touch(t, pathA)
	touch(t, filepath.Join(root, "b.mkv"))

	_, err := s.ScanLibrary(library.ID, "")
	require.NoError(t, err)

	require.NoError(t, os.Remove(pathA))
	_, err = s.ScanLibrary(library.ID, "")
	require.NoError(t, err)

	touch(t, pathA)
	stats, err := s.ScanLibrary(library.ID, "")
	require.NoError(t, err)
	assert.Equal(t, ScanStats{New: 0, Updated: 2, Deleted: 0, Restored: 1}, stats)

	var media database.MediaFile
	require.NoError(t, db.Where("file_path = ?", pathA).First(&media).Error)
	assert.Nil(t, media.DeletedAt)
}

func TestScanMissingLibraryRootReturnsZeroStats(t *testing.T) {
	db := newTestDB(t)
	library := createLibrary(t, db, filepath.Join(t.TempDir(), "does-not-exist"))
	s := newTestScanner(t, db, nil)

	stats, err := s.ScanLibrary(library.ID, "")
	require.NoError(t, err)
	assert.Equal(t, ScanStats{}, stats)
}

func TestScanUnknownLibraryFails(t *testing.T) {
	db := newTestDB(t)
	s := newTestScanner(t, db, nil)

	_, err := s.ScanLibrary(9999, "")
	assert.Error(t, err)
}

func TestCancellationDuringEnumerationYieldsZeroStats(t *testing.T) {
	db := newTestDB(t)
	root := t.TempDir()
	library := createLibrary(t, db, root)

	// Cancellation already requested before the walk starts.
	tracker := newFakeTracker(0)
	tracker.cancelled = true
	s := newTestScanner(t, db, tracker)

	touch(t, filepath.Join(root, "a.mp4"))
	touch(t, filepath.Join(root, "b.mkv"))

	stats, err := s.ScanLibrary(library.ID, "scan_library_1_1")
	require.NoError(t, err)
	assert.True(t, stats.Cancelled)
	assert.Equal(t, 0, stats.New+stats.Updated+stats.Deleted+stats.Restored)
	assert.True(t, tracker.markedCancel)

	var count int64
	db.Model(&database.MediaFile{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestCancellationDuringIngestSkipsReap(t *testing.T) {
	db := newTestDB(t)
	root := t.TempDir()
	library := createLibrary(t, db, root)

	// Seed a stale row that a full pass would soft-delete.
	stale := database.MediaFile{
		FilePath:      filepath.Join(root, "gone.mp4"),
		FileName:      "gone.mp4",
		FileExtension: ".mp4",
		ScannedAt:     time.Now().UTC(),
	}
	require.NoError(t, db.Create(&stale).Error)

	for _, name := range []string{"a.mp4", "b.mkv", "c.mp4", "d.mp4"} {
		touch(t, filepath.Join(root, name))
	}

	// Cancel once two files have been reported processed.
	tracker := newFakeTracker(2)
	s := newTestScanner(t, db, tracker)

	stats, err := s.ScanLibrary(library.ID, "scan_library_1_2")
	require.NoError(t, err)
	assert.True(t, stats.Cancelled)
	assert.True(t, tracker.markedCancel)

	// The reap pass must not have run: the stale row survives untouched.
	assert.Equal(t, 0, stats.Deleted)
	var survivor database.MediaFile
	require.NoError(t, db.Where("file_path = ?", stale.FilePath).First(&survivor).Error)
	assert.Nil(t, survivor.DeletedAt)

	// Work done before the cancel is committed: a, b, and c were ingested
	// before the flag was observed at d.
	assert.Equal(t, 3, stats.New)
	var ingested int64
	db.Model(&database.MediaFile{}).Where("deleted_at IS NULL AND file_path <> ?", stale.FilePath).Count(&ingested)
	assert.Equal(t, int64(3), ingested)
}

func TestProgressTotalsReported(t *testing.T) {
	db := newTestDB(t)
	root := t.TempDir()
	library := createLibrary(t, db, root)

	tracker := newFakeTracker(-1)
	s := newTestScanner(t, db, tracker)

	for _, name := range []string{"a.mp4", "b.mkv", "c.webm"} {
		touch(t, filepath.Join(root, name))
	}

	_, err := s.ScanLibrary(library.ID, "scan_library_1_3")
	require.NoError(t, err)
	assert.Equal(t, 3, tracker.lastTotal)
	assert.Equal(t, 3, tracker.lastProcessed)
}

func TestCleanupDeletedHonorsGracePeriod(t *testing.T) {
	db := newTestDB(t)
	s := newTestScanner(t, db, nil)

	old := time.Now().UTC().AddDate(0, 0, -45)
	recent := time.Now().UTC().AddDate(0, 0, -5)

	expired := database.MediaFile{
		FilePath: "/m/expired.mp4", FileName: "expired.mp4",
		FileExtension: ".mp4", ScannedAt: old, DeletedAt: &old,
	}
	require.NoError(t, db.Create(&expired).Error)
	require.NoError(t, db.Create(&database.VideoTrack{MediaFileID: expired.ID, StreamIndex: 0, Codec: "h264"}).Error)

	fresh := database.MediaFile{
		FilePath: "/m/fresh.mp4", FileName: "fresh.mp4",
		FileExtension: ".mp4", ScannedAt: recent, DeletedAt: &recent,
	}
	require.NoError(t, db.Create(&fresh).Error)

	count, err := s.CleanupDeleted(30)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	var remaining int64
	db.Model(&database.MediaFile{}).Count(&remaining)
	assert.Equal(t, int64(1), remaining)

	// Tracks cascade with their owner.
	var tracks int64
	db.Model(&database.VideoTrack{}).Count(&tracks)
	assert.Equal(t, int64(0), tracks)
}
