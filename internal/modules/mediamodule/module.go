package mediamodule

import (
	"github.com/NicolasFerec/ferelix-server/internal/database"
	"github.com/NicolasFerec/ferelix-server/internal/modules/modulemanager"
	"gorm.io/gorm"
)

// Auto-register the module when imported
func init() {
	Register()
}

const (
	// ModuleID is the unique identifier for the media module
	ModuleID = "system.media"

	// ModuleName is the display name for the media module
	ModuleName = "Media Catalog"
)

var moduleInstance *Module

// Module serves the media catalog: libraries, media listings, dashboard
// CRUD, settings, and recommendation rows.
type Module struct {
	db *gorm.DB

	// settingsChanged is invoked after a successful settings update so the
	// job module can re-schedule without an import cycle.
	settingsChanged func(*database.Settings)
}

func (m *Module) ID() string   { return ModuleID }
func (m *Module) Name() string { return ModuleName }
func (m *Module) Core() bool   { return true }

func (m *Module) Migrate(db *gorm.DB) error { return nil }

func (m *Module) Init() error {
	if m.db == nil {
		m.db = database.GetDB()
	}
	return nil
}

// OnSettingsChanged registers the settings-update callback.
func (m *Module) OnSettingsChanged(fn func(*database.Settings)) {
	m.settingsChanged = fn
}

// GetModule returns the registered media module instance.
func GetModule() *Module {
	return moduleInstance
}

// Register registers the media module with the module system.
func Register() {
	if moduleInstance != nil {
		return
	}
	moduleInstance = &Module{}
	modulemanager.Register(moduleInstance)
}
