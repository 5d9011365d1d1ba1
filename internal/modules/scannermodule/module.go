package scannermodule

import (
	"fmt"

	"github.com/NicolasFerec/ferelix-server/internal/config"
	"github.com/NicolasFerec/ferelix-server/internal/database"
	"github.com/NicolasFerec/ferelix-server/internal/events"
	"github.com/NicolasFerec/ferelix-server/internal/logger"
	"github.com/NicolasFerec/ferelix-server/internal/modules/jobmodule"
	"github.com/NicolasFerec/ferelix-server/internal/modules/modulemanager"
	"github.com/NicolasFerec/ferelix-server/internal/modules/scannermodule/scanner"
	"gorm.io/gorm"
)

// Auto-register the module when imported
func init() {
	Register()
}

const (
	// ModuleID is the unique identifier for the scanner module
	ModuleID = "system.scanner"

	// ModuleName is the display name for the scanner module
	ModuleName = "Library Scanner"
)

var moduleInstance *Module

// Module implements the scanner functionality as a module
type Module struct {
	db       *gorm.DB
	eventBus events.EventBus
	scanner  *scanner.Scanner
	monitor  *scanner.FileMonitor
}

func (m *Module) ID() string   { return ModuleID }
func (m *Module) Name() string { return ModuleName }
func (m *Module) Core() bool   { return true }

// Migrate is a no-op; the media schema is owned by the database package.
func (m *Module) Migrate(db *gorm.DB) error { return nil }

// Init builds the scanner and registers the periodic job bodies with the
// job module.
func (m *Module) Init() error {
	if m.db == nil {
		m.db = database.GetDB()
	}
	if m.eventBus == nil {
		m.eventBus = events.GetGlobalEventBus()
	}

	jobs := jobmodule.GetModule()
	if jobs == nil {
		return fmt.Errorf("job module not registered")
	}

	cfg := config.Get()
	prober := scanner.NewProber(cfg.Transcoder.FFprobePath, cfg.Scanner.ProbeTimeout)
	m.scanner = scanner.NewScanner(m.db, jobs.Registry(), prober, m.eventBus, cfg.Scanner.BatchSize)

	jobs.SetPeriodicJobs(m.scanAllJob, m.maintenanceJob)
	return nil
}

// Start launches file monitoring when enabled.
func (m *Module) Start() error {
	cfg := config.Get()
	if !cfg.Scanner.WatchLibraries {
		return nil
	}
	m.monitor = scanner.NewFileMonitor(m.scanner, jobmodule.GetModule().Scheduler())
	if err := m.monitor.Start(); err != nil {
		// Watching is best-effort; periodic scans still cover the library.
		logger.Warn("File monitoring unavailable: %v", err)
		m.monitor = nil
	}
	return nil
}

// Stop shuts down file monitoring.
func (m *Module) Stop() error {
	if m.monitor != nil {
		m.monitor.Stop()
	}
	return nil
}

// Scanner returns the underlying scanner.
func (m *Module) Scanner() *scanner.Scanner {
	return m.scanner
}

// scanAllJob is the periodic library_scanner job body: fan out one one-shot
// scan job per enabled library.
func (m *Module) scanAllJob(jobID string, args map[string]interface{}) error {
	_, err := m.scanner.ScanAll(jobmodule.GetModule().Scheduler())
	return err
}

// maintenanceJob is the periodic database_maintenance job body: purge
// soft-deleted media past the grace period, then sweep stale transcode
// sessions via the registered cleanup hook.
func (m *Module) maintenanceJob(jobID string, args map[string]interface{}) error {
	graceDays := config.Get().Scanner.CleanupGracePeriodDays
	if v, ok := args["grace_period_days"].(int); ok {
		graceDays = v
	}

	count, err := m.scanner.CleanupDeleted(graceDays)
	if err != nil {
		return err
	}
	if count > 0 {
		logger.Info("Maintenance removed %d expired media records", count)
	}

	for _, hook := range maintenanceHooks {
		if err := hook(); err != nil {
			logger.Error("Maintenance hook failed: %v", err)
		}
	}
	return nil
}

// maintenanceHooks lets other modules (the transcoder) join the nightly
// maintenance job without an import cycle.
var maintenanceHooks []func() error

// RegisterMaintenanceHook appends a cleanup function to the nightly job.
func RegisterMaintenanceHook(hook func() error) {
	maintenanceHooks = append(maintenanceHooks, hook)
}

// GetModule returns the registered scanner module instance.
func GetModule() *Module {
	return moduleInstance
}

// Register registers the scanner module with the module system.
func Register() {
	if moduleInstance != nil {
		return
	}
	moduleInstance = &Module{}
	modulemanager.Register(moduleInstance)
}
