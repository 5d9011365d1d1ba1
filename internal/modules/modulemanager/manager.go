// Package modulemanager wires the server's feature modules together. Each
// module registers itself on import and is migrated, initialized, and
// started in one pass at boot.
package modulemanager

import (
	"fmt"
	"sync"

	"github.com/NicolasFerec/ferelix-server/internal/logger"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Module defines the interface that all modules must implement
type Module interface {
	ID() string                // Unique identifier for the module
	Name() string              // Display name for the module
	Core() bool                // Whether this is a core module
	Migrate(db *gorm.DB) error // Run database migrations
	Init() error               // Initialize the module
}

// Startable is an optional interface for modules that need post-init startup.
type Startable interface {
	Start() error
}

// Stoppable is an optional interface for modules with shutdown work.
type Stoppable interface {
	Stop() error
}

// RouteRegistrar is an optional interface for modules that register routes
type RouteRegistrar interface {
	RegisterRoutes(router *gin.Engine)
}

// ModuleRegistry manages module registration and initialization
type ModuleRegistry struct {
	mu          sync.RWMutex
	modules     map[string]Module
	order       []string
	initialized bool
}

// Registry is the global module registry
var Registry = &ModuleRegistry{
	modules: make(map[string]Module),
}

// Register adds a module to the registry
func Register(m Module) {
	Registry.Register(m)
}

// Register adds a module to the registry
func (r *ModuleRegistry) Register(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		logger.Warn("Module %s (%s) registered after initialization", m.Name(), m.ID())
	}
	if _, exists := r.modules[m.ID()]; !exists {
		r.order = append(r.order, m.ID())
	}
	r.modules[m.ID()] = m
	logger.Info("Module registered: %s (%s)", m.Name(), m.ID())
}

// LoadAll migrates and initializes all registered modules in registration order.
func LoadAll(db *gorm.DB) error {
	return Registry.LoadAll(db)
}

// LoadAll migrates and initializes all registered modules in registration order.
func (r *ModuleRegistry) LoadAll(db *gorm.DB) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		logger.Warn("Module system already initialized")
		return nil
	}

	logger.Info("Loading %d modules...", len(r.modules))
	for _, id := range r.order {
		module := r.modules[id]
		if err := module.Migrate(db); err != nil {
			return fmt.Errorf("failed to migrate %s: %w", module.Name(), err)
		}
		if err := module.Init(); err != nil {
			return fmt.Errorf("failed to initialize %s: %w", module.Name(), err)
		}
		logger.Info("Module loaded: %s", module.Name())
	}

	r.initialized = true
	return nil
}

// StartAll starts every module implementing Startable, in registration order.
func StartAll() error {
	return Registry.StartAll()
}

// StartAll starts every module implementing Startable, in registration order.
func (r *ModuleRegistry) StartAll() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.order {
		if s, ok := r.modules[id].(Startable); ok {
			if err := s.Start(); err != nil {
				return fmt.Errorf("failed to start %s: %w", r.modules[id].Name(), err)
			}
		}
	}
	return nil
}

// StopAll stops every module implementing Stoppable, in reverse order.
func StopAll() {
	Registry.StopAll()
}

// StopAll stops every module implementing Stoppable, in reverse order.
func (r *ModuleRegistry) StopAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := len(r.order) - 1; i >= 0; i-- {
		module := r.modules[r.order[i]]
		if s, ok := module.(Stoppable); ok {
			if err := s.Stop(); err != nil {
				logger.Error("Error stopping module %s: %v", module.Name(), err)
			}
		}
	}
}

// GetModule returns a module by ID
func GetModule(id string) (Module, bool) {
	return Registry.GetModule(id)
}

// GetModule returns a module by ID
func (r *ModuleRegistry) GetModule(id string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	module, exists := r.modules[id]
	return module, exists
}

// ListModules returns all registered modules
func ListModules() []Module {
	return Registry.ListModules()
}

// ListModules returns all registered modules
func (r *ModuleRegistry) ListModules() []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	modules := make([]Module, 0, len(r.modules))
	for _, id := range r.order {
		modules = append(modules, r.modules[id])
	}
	return modules
}

// RegisterRoutes registers routes for all modules that implement RouteRegistrar
func RegisterRoutes(router *gin.Engine) {
	Registry.RegisterRoutes(router)
}

// RegisterRoutes registers routes for all modules that implement RouteRegistrar
func (r *ModuleRegistry) RegisterRoutes(router *gin.Engine) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.order {
		module := r.modules[id]
		if rr, ok := module.(RouteRegistrar); ok {
			rr.RegisterRoutes(router)
		}
	}
}

// Reset clears the registry (test hook).
func Reset() {
	Registry.mu.Lock()
	defer Registry.mu.Unlock()
	Registry.modules = make(map[string]Module)
	Registry.order = nil
	Registry.initialized = false
}
