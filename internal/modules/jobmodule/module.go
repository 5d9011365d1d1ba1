package jobmodule

import (
	"fmt"
	"time"

	"github.com/NicolasFerec/ferelix-server/internal/database"
	"github.com/NicolasFerec/ferelix-server/internal/events"
	"github.com/NicolasFerec/ferelix-server/internal/logger"
	"github.com/NicolasFerec/ferelix-server/internal/modules/modulemanager"
	"gorm.io/gorm"
)

// Auto-register the module when imported
func init() {
	Register()
}

const (
	// ModuleID is the unique identifier for the job module
	ModuleID = "system.jobs"

	// ModuleName is the display name for the job module
	ModuleName = "Job Runtime"
)

var moduleInstance *Module

// Module owns the process-wide job registry and the scheduler.
type Module struct {
	registry  *Registry
	scheduler *Scheduler
	eventBus  events.EventBus

	// Periodic job bodies, injected by the scanner module's Init.
	scanAllJob     JobFunc
	maintenanceJob JobFunc
}

// NewModule creates the job module.
func NewModule(eventBus events.EventBus) *Module {
	return &Module{eventBus: eventBus}
}

func (m *Module) ID() string   { return ModuleID }
func (m *Module) Name() string { return ModuleName }
func (m *Module) Core() bool   { return true }

// Migrate has nothing to do; job state is in-memory by design.
func (m *Module) Migrate(db *gorm.DB) error { return nil }

// Init builds the registry and scheduler and attaches the listener.
func (m *Module) Init() error {
	if m.eventBus == nil {
		m.eventBus = events.GetGlobalEventBus()
	}
	m.registry = NewRegistry(m.eventBus)
	m.scheduler = NewScheduler()
	m.scheduler.AddListener(func(ev SchedulerEvent) {
		m.registry.HandleSchedulerEvent(ev, m.scheduler)
	})
	return nil
}

// Start launches the scheduler loop. Periodic jobs fire only once
// ApplySettings has scheduled them; jobs added after Start wake the loop.
func (m *Module) Start() error {
	return m.scheduler.Start()
}

// Stop shuts the scheduler down, waiting for running job bodies.
func (m *Module) Stop() error {
	m.scheduler.Shutdown()
	return nil
}

// Registry returns the job registry.
func (m *Module) Registry() *Registry {
	return m.registry
}

// Scheduler returns the scheduler.
func (m *Module) Scheduler() *Scheduler {
	return m.scheduler
}

// SetPeriodicJobs injects the scanner and maintenance job bodies.
func (m *Module) SetPeriodicJobs(scanAll, maintenance JobFunc) {
	m.scanAllJob = scanAll
	m.maintenanceJob = maintenance
}

// ApplySettings (re)schedules the periodic jobs from the settings row.
// Called at startup and again whenever settings change.
func (m *Module) ApplySettings(settings *database.Settings) error {
	if m.scanAllJob == nil || m.maintenanceJob == nil {
		return fmt.Errorf("periodic jobs not configured")
	}

	interval := IntervalTrigger{
		Every: time.Duration(settings.LibraryScanIntervalMinutes) * time.Minute,
	}
	if err := m.scheduler.AddJob(JobIDLibraryScanner, "Library Scanner", m.scanAllJob, interval, nil, true); err != nil {
		return err
	}

	cronSpec := fmt.Sprintf("%d %d * * *", settings.CleanupScheduleMinute, settings.CleanupScheduleHour)
	cronTrigger, err := NewCronTrigger(cronSpec)
	if err != nil {
		return err
	}
	args := map[string]interface{}{
		"grace_period_days": settings.CleanupGracePeriodDays,
	}
	if err := m.scheduler.AddJob(JobIDDatabaseMaintenance, "Database Maintenance", m.maintenanceJob, cronTrigger, args, true); err != nil {
		return err
	}

	logger.Info("Scheduled library scanner (every %d minutes) and cleanup (daily at %02d:%02d, grace %d days)",
		settings.LibraryScanIntervalMinutes, settings.CleanupScheduleHour,
		settings.CleanupScheduleMinute, settings.CleanupGracePeriodDays)
	return nil
}

// GetModule returns the registered job module instance.
func GetModule() *Module {
	return moduleInstance
}

// Register registers the job module with the module system.
func Register() {
	if moduleInstance != nil {
		return
	}
	moduleInstance = NewModule(nil)
	modulemanager.Register(moduleInstance)
}
