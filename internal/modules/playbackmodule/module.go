package playbackmodule

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
	// ModuleID is the unique identifier for the playback module
	ModuleID = "system.playback"

	// ModuleName is the display name for the playback module
	ModuleName = "Playback Decision Engine"
)

var moduleInstance *Module

// Module exposes the playback decision engine over HTTP. The engine itself
// is pure; the module only loads media rows and binds requests.
type Module struct {
	db *gorm.DB
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

// GetModule returns the registered playback module instance.
func GetModule() *Module {
	return moduleInstance
}

// Register registers the playback module with the module system.
func Register() {
	if moduleInstance != nil {
		return
	}
	moduleInstance = &Module{}
	modulemanager.Register(moduleInstance)
}
