package scanner

import (
	"sync"
	"time"

	"github.com/NicolasFerec/ferelix-server/internal/database"
	"github.com/NicolasFerec/ferelix-server/internal/logger"
	"github.com/NicolasFerec/ferelix-server/internal/modules/jobmodule"
	"github.com/fsnotify/fsnotify"
)

// debounceWindow coalesces change bursts (a download finishing writes many
// events) into one rescan.
const debounceWindow = 30 * time.Second

// FileMonitor watches enabled library roots and schedules a one-shot scan
// for a library when its tree changes.
type FileMonitor struct {
	scanner *Scanner
	sched   *jobmodule.Scheduler

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	watched  map[string]uint // path -> library id
	pending  map[uint]*time.Timer
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewFileMonitor creates a monitor that schedules scans on the scheduler.
func NewFileMonitor(scanner *Scanner, sched *jobmodule.Scheduler) *FileMonitor {
	return &FileMonitor{
		scanner: scanner,
		sched:   sched,
		watched: make(map[string]uint),
		pending: make(map[uint]*time.Timer),
		stopCh:  make(chan struct{}),
	}
}

// Start begins watching every enabled library root.
func (m *FileMonitor) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.watcher = watcher
	m.mu.Unlock()

	var libraries []database.Library
	if err := m.scanner.db.Where("enabled = ?", true).Find(&libraries).Error; err != nil {
		watcher.Close()
		return err
	}
	for _, library := range libraries {
		if err := m.Watch(library); err != nil {
			logger.Warn("Cannot watch library %s: %v", library.Path, err)
		}
	}

	go m.loop()
	logger.Info("File monitoring started for %d library root(s)", len(m.watched))
	return nil
}

// Watch adds one library root to the watch set.
func (m *FileMonitor) Watch(library database.Library) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watcher == nil {
		return nil
	}
	if err := m.watcher.Add(library.Path); err != nil {
		return err
	}
	m.watched[library.Path] = library.ID
	return nil
}

// Stop shuts the monitor down.
func (m *FileMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.mu.Lock()
		if m.watcher != nil {
			m.watcher.Close()
		}
		for _, timer := range m.pending {
			timer.Stop()
		}
		m.mu.Unlock()
	})
}

func (m *FileMonitor) loop() {
	for {
		select {
		case <-m.stopCh:
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) == 0 {
				continue
			}
			m.handleChange(ev.Name)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("File monitor error: %v", err)
		}
	}
}

// handleChange debounces a change under some watched root into a scan job.
func (m *FileMonitor) handleChange(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for root, libraryID := range m.watched {
		if len(path) < len(root) || path[:len(root)] != root {
			continue
		}
		if timer, ok := m.pending[libraryID]; ok {
			timer.Reset(debounceWindow)
			return
		}
		id := libraryID
		m.pending[id] = time.AfterFunc(debounceWindow, func() {
			m.mu.Lock()
			delete(m.pending, id)
			m.mu.Unlock()

			var library database.Library
			if err := m.scanner.db.First(&library, id).Error; err != nil {
				return
			}
			logger.Info("Library %d changed on disk, scheduling rescan", id)
			m.scanner.ScheduleLibraryScan(m.sched, library.ID, library.Name)
		})
		return
	}
}
