package system

import (
	"context"
	"fmt"
	"sync"

	"github.com/R3E-Network/token_engine/internal/logging"
)

// State represents the manager state.
type State string

const (
	StateCreated  State = "created"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

// Manager starts and stops registered services.
type Manager struct {
	mu       sync.RWMutex
	state    State
	services []Service
	started  []Service
	log      *logging.Logger
}

// NewManager creates an empty manager.
func NewManager(log *logging.Logger) *Manager {
	if log == nil {
		log = logging.NewDefault("system")
	}
	return &Manager{state: StateCreated, log: log}
}

// State returns the current manager state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Register adds a service. Must be called before Start.
func (m *Manager) Register(svc Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateCreated {
		return fmt.Errorf("cannot register %s after manager has started", svc.Name())
	}
	for _, existing := range m.services {
		if existing.Name() == svc.Name() {
			return fmt.Errorf("service %s already registered", svc.Name())
		}
	}
	m.services = append(m.services, svc)
	return nil
}

// Start starts every service. On failure the services already started are
// stopped and the error is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateCreated {
		m.mu.Unlock()
		return fmt.Errorf("manager already started")
	}
	m.state = StateStarting
	services := append([]Service(nil), m.services...)
	m.mu.Unlock()

	for _, svc := range services {
		if err := svc.Start(ctx); err != nil {
			m.log.WithContext(ctx).WithError(err).WithField("service", svc.Name()).Error("Service failed to start")
			_ = m.Stop(context.WithoutCancel(ctx))
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
		m.mu.Lock()
		m.started = append(m.started, svc)
		m.mu.Unlock()
		m.log.WithContext(ctx).WithField("service", svc.Name()).Info("Service started")
	}

	m.mu.Lock()
	m.state = StateRunning
	m.mu.Unlock()
	return nil
}

// Stop stops started services in reverse order. It returns the first error.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateStopped {
		m.mu.Unlock()
		return nil
	}
	m.state = StateStopping
	started := m.started
	m.started = nil
	m.mu.Unlock()

	var firstErr error
	for i := len(started) - 1; i >= 0; i-- {
		svc := started[i]
		if err := svc.Stop(ctx); err != nil {
			m.log.WithContext(ctx).WithError(err).WithField("service", svc.Name()).Warn("Service failed to stop")
			if firstErr == nil {
				firstErr = fmt.Errorf("stop %s: %w", svc.Name(), err)
			}
		}
	}

	m.mu.Lock()
	m.state = StateStopped
	m.mu.Unlock()
	return firstErr
}
