package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/moolen/lookout/internal/logging"
)

// Manager starts components after their dependencies and stops them in
// reverse start order. A failed start rolls back everything started so far.
type Manager struct {
	mu              sync.Mutex
	components      []Component
	dependencies    map[Component][]Component
	started         []Component
	shutdownTimeout time.Duration
	logger          *logging.Logger
}

// NewManager creates a manager with a 30 second per-component stop timeout.
func NewManager() *Manager {
	return &Manager{
		dependencies:    make(map[Component][]Component),
		shutdownTimeout: 30 * time.Second,
		logger:          logging.GetLogger("lifecycle"),
	}
}

// Register adds a component. Dependencies must already be registered,
// which also rules out cycles.
func (m *Manager) Register(component Component, dependsOn ...Component) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if component == nil {
		return fmt.Errorf("cannot register nil component")
	}
	if component.Name() == "" {
		return fmt.Errorf("component must have a non-empty name")
	}
	if m.registered(component) {
		return fmt.Errorf("component %s is already registered", component.Name())
	}
	for _, dep := range dependsOn {
		if dep == component {
			return fmt.Errorf("component %s cannot depend on itself", component.Name())
		}
		if !m.registered(dep) {
			return fmt.Errorf("dependency %s is not registered", dep.Name())
		}
	}

	m.components = append(m.components, component)
	m.dependencies[component] = dependsOn
	m.logger.Debug("registered %s with %d dependencies", component.Name(), len(dependsOn))
	return nil
}

func (m *Manager) registered(c Component) bool {
	for _, existing := range m.components {
		if existing == c {
			return true
		}
	}
	return false
}

// Start starts every registered component in dependency order.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.started = nil
	for _, component := range m.order() {
		begin := time.Now()
		if err := component.Start(ctx); err != nil {
			m.logger.ErrorWithFields("component failed to start",
				logging.Field("component", component.Name()),
				logging.Field("error", err))
			m.rollback()
			return fmt.Errorf("initialization failed for %s: %w", component.Name(), err)
		}
		m.started = append(m.started, component)
		m.logger.InfoWithFields("component started",
			logging.Field("component", component.Name()),
			logging.Field("duration_ms", time.Since(begin).Milliseconds()))
	}
	return nil
}

// order returns components with dependencies first. Registration order
// already guarantees that, but a DFS keeps the contract explicit.
func (m *Manager) order() []Component {
	visited := make(map[Component]bool, len(m.components))
	sorted := make([]Component, 0, len(m.components))

	var visit func(c Component)
	visit = func(c Component) {
		if visited[c] {
			return
		}
		visited[c] = true
		for _, dep := range m.dependencies[c] {
			visit(dep)
		}
		sorted = append(sorted, c)
	}
	for _, c := range m.components {
		visit(c)
	}
	return sorted
}

func (m *Manager) rollback() {
	for i := len(m.started) - 1; i >= 0; i-- {
		component := m.started[i]
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := component.Stop(ctx); err != nil {
			m.logger.Warn("error stopping %s during rollback: %v", component.Name(), err)
		}
		cancel()
	}
	m.started = nil
}

// Stop stops started components in reverse order. Errors are logged and
// joined; every component gets a stop attempt.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for i := len(m.started) - 1; i >= 0; i-- {
		component := m.started[i]
		componentCtx, cancel := context.WithTimeout(ctx, m.shutdownTimeout)
		err := component.Stop(componentCtx)
		cancel()

		if err != nil {
			m.logger.ErrorWithFields("component failed to stop",
				logging.Field("component", component.Name()),
				logging.Field("error", err))
			errs = append(errs, fmt.Errorf("%s: %w", component.Name(), err))
			continue
		}
		m.logger.Debug("%s stopped", component.Name())
	}
	m.started = nil
	return errors.Join(errs...)
}

// IsRunning reports whether the component was started and not yet stopped.
func (m *Manager) IsRunning(component Component) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.started {
		if c == component {
			return true
		}
	}
	return false
}

// SetShutdownTimeout sets the per-component stop timeout.
func (m *Manager) SetShutdownTimeout(timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownTimeout = timeout
}
