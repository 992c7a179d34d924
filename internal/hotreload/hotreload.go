package hotreload

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/leslieo2/go-template-reload/internal/observability"
)

// Manager owns the watcher and the hub that fans its events out.
type Manager struct {
	watcher *Watcher
	hub     *Hub
	logger  *observability.Logger

	mu      sync.Mutex
	started bool
}

// NewManager creates a manager watching root. metrics may be nil.
func NewManager(root string, logger *observability.Logger, metrics *observability.Metrics) (*Manager, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	hub := NewHub(logger, metrics)
	watcher, err := NewWatcher(root, hub, logger)
	if err != nil {
		return nil, err
	}

	return &Manager{
		watcher: watcher,
		hub:     hub,
		logger:  logger.WithComponent("hotreload"),
	}, nil
}

// Hub returns the hub events are published to.
func (m *Manager) Hub() *Hub {
	return m.hub
}

// Root returns the absolute path being watched.
func (m *Manager) Root() string {
	return m.watcher.Root()
}

// Subscribe registers a new subscription on the hub.
func (m *Manager) Subscribe() *Subscription {
	return m.hub.Subscribe()
}

// AddListener adds an event listener
func (m *Manager) AddListener(name string, listener Listener) error {
	return m.hub.AddListener(name, listener)
}

// Start starts the hot reload system
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}

	if err := m.watcher.Start(); err != nil {
		return err
	}

	m.started = true
	m.logger.Info("Hot reload system started", zap.String("root", m.watcher.Root()))
	return nil
}

// Stop stops the watcher and closes every subscription.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.watcher.Stop()
	m.hub.Close()
	if m.started {
		m.started = false
		m.logger.Info("Hot reload system stopped")
	}
}

// IsRunning returns whether the hot reload system is running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// Shutdown stops the system like Stop but gives up once ctx is done.
func (m *Manager) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
