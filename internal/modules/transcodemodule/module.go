package transcodemodule

import (
	"os"

	"github.com/NicolasFerec/ferelix-server/internal/config"
	"github.com/NicolasFerec/ferelix-server/internal/database"
	"github.com/NicolasFerec/ferelix-server/internal/events"
	"github.com/NicolasFerec/ferelix-server/internal/logger"
	"github.com/NicolasFerec/ferelix-server/internal/modules/modulemanager"
	"github.com/NicolasFerec/ferelix-server/internal/modules/scannermodule"
	"github.com/NicolasFerec/ferelix-server/internal/modules/transcodemodule/transcoder"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"
)

// Auto-register the module when imported
func init() {
	Register()
}

const (
	// ModuleID is the unique identifier for the transcode module
	ModuleID = "system.transcoder"

	// ModuleName is the display name for the transcode module
	ModuleName = "Transcoding Orchestrator"
)

var moduleInstance *Module

// Module owns the transcoder manager and the streaming routes.
type Module struct {
	db      *gorm.DB
	manager *transcoder.Manager
}

func (m *Module) ID() string   { return ModuleID }
func (m *Module) Name() string { return ModuleName }
func (m *Module) Core() bool   { return true }

func (m *Module) Migrate(db *gorm.DB) error { return nil }

// Init builds the manager, detecting hardware encoders once.
func (m *Module) Init() error {
	if m.db == nil {
		m.db = database.GetDB()
	}

	cfg := config.Get()
	log := hclog.New(&hclog.LoggerOptions{
		Name:   "transcoder",
		Level:  hclog.Info,
		Output: os.Stderr,
	})

	manager, err := transcoder.NewManager(m.db, events.GetGlobalEventBus(), log,
		cfg.Transcoder.WorkDir, cfg.Transcoder.FFmpegPath)
	if err != nil {
		return err
	}
	m.manager = manager

	// Stale sessions sweep joins the nightly maintenance job.
	scannermodule.RegisterMaintenanceHook(func() error {
		_, err := m.manager.CleanupTranscodeFiles(config.Get().Transcoder.SessionMaxAge)
		return err
	})
	return nil
}

// Start purges sessions left over from before the restart; no encoder
// process survives one.
func (m *Module) Start() error {
	purged, err := m.manager.CleanupStalledAtStartup()
	if err != nil {
		logger.Warn("Startup transcode cleanup failed: %v", err)
		return nil
	}
	if purged > 0 {
		logger.Info("Purged %d stalled transcoding sessions", purged)
	}
	return nil
}

// Stop terminates every active encoder session.
func (m *Module) Stop() error {
	m.manager.StopAll()
	return nil
}

// Manager returns the transcoder manager.
func (m *Module) Manager() *transcoder.Manager {
	return m.manager
}

// GetModule returns the registered transcode module instance.
func GetModule() *Module {
	return moduleInstance
}

// Register registers the transcode module with the module system.
func Register() {
	if moduleInstance != nil {
		return
	}
	moduleInstance = &Module{}
	modulemanager.Register(moduleInstance)
}
