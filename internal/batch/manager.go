package batch

import (
	"log/slog"
	"sync"
)

// Manager hands out one Controller per owner. A controller is created,
// restoring the owner's session, the first time the owner is seen and
// torn down when the owner signs out. A controller with a run in flight
// outlives sign-out until the run ends, so the owner never has two.
type Manager struct {
	deps Deps

	mu          sync.Mutex
	controllers map[string]*Controller
	closing     map[string]*Controller
}

// NewManager creates a Manager sharing deps between controllers
func NewManager(deps Deps) *Manager {
	return &Manager{
		deps:        deps,
		controllers: make(map[string]*Controller),
		closing:     make(map[string]*Controller),
	}
}

// Open returns the owner's controller, creating it if needed. Signing in
// while a signed-out run is still going returns that run's controller.
func (m *Manager) Open(owner string) *Controller {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.controllers[owner]; ok {
		delete(m.closing, owner)
		return c
	}

	slog.Info("Opening batch session", "owner", owner)
	c := NewController(owner, m.deps)
	c.onIdle = func() { m.runFinished(owner, c) }
	m.controllers[owner] = c
	return c
}

// Close tears down the owner's controller. Its persisted session is kept
// and restored on the next Open. If a run is in flight, its watches end
// now and the controller is torn down when the run finishes.
func (m *Manager) Close(owner string) {
	m.mu.Lock()
	c, ok := m.controllers[owner]
	if ok && c.Running() {
		m.closing[owner] = c
		m.mu.Unlock()

		slog.Info("Deferring batch session close until run finishes", "owner", owner)
		c.endWatches()
		return
	}
	delete(m.controllers, owner)
	delete(m.closing, owner)
	m.mu.Unlock()

	if ok {
		slog.Info("Closing batch session", "owner", owner)
		c.Close()
	}
}

func (m *Manager) runFinished(owner string, c *Controller) {
	m.mu.Lock()
	if m.closing[owner] != c {
		m.mu.Unlock()
		return
	}
	delete(m.closing, owner)
	delete(m.controllers, owner)
	m.mu.Unlock()

	slog.Info("Closing batch session", "owner", owner)
	c.Close()
}

// CloseAll tears down every controller
func (m *Manager) CloseAll() {
	m.mu.Lock()
	controllers := m.controllers
	m.controllers = make(map[string]*Controller)
	m.closing = make(map[string]*Controller)
	m.mu.Unlock()

	for _, c := range controllers {
		c.Close()
	}
}
