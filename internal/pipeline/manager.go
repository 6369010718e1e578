package pipeline

import (
	"context"
	"sync"

	"tradeflow/internal/venue"
	"tradeflow/logger"
)

// Manager owns every venue pipeline and applies operator control commands.
// Disabling stops the pipeline and flags the venue in the registry so the
// health layer reports it; enabling reverses both.
type Manager struct {
	mu        sync.Mutex
	registry  *venue.Registry
	pipelines map[string]*Pipeline
	ctx       context.Context
	log       *logger.Entry
}

func NewManager(registry *venue.Registry) *Manager {
	return &Manager{
		registry:  registry,
		pipelines: make(map[string]*Pipeline),
		ctx:       context.Background(),
		log:       logger.GetLogger().WithComponent("manager"),
	}
}

// Add registers a pipeline under its venue name.
func (m *Manager) Add(p *Pipeline) {
	m.mu.Lock()
	m.pipelines[p.venue.Name] = p
	m.mu.Unlock()
}

// Get returns the pipeline for a venue, if one exists.
func (m *Manager) Get(name string) (*Pipeline, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pipelines[name]
	return p, ok
}

// StartAll starts every pipeline whose venue is not disabled.
func (m *Manager) StartAll(ctx context.Context) {
	m.mu.Lock()
	m.ctx = ctx
	pipelines := make([]*Pipeline, 0, len(m.pipelines))
	for name, p := range m.pipelines {
		if m.registry.IsDisabled(name) {
			m.log.WithFields(logger.Fields{"venue": name}).Info("venue disabled, not starting")
			continue
		}
		pipelines = append(pipelines, p)
	}
	m.mu.Unlock()

	for _, p := range pipelines {
		if err := p.Start(ctx); err != nil {
			m.log.WithError(err).Warn("pipeline start failed")
		}
	}
}

// StopAll stops every pipeline. Each stop flushes that pipeline's open
// candles before returning.
func (m *Manager) StopAll() {
	m.mu.Lock()
	pipelines := make([]*Pipeline, 0, len(m.pipelines))
	for _, p := range m.pipelines {
		pipelines = append(pipelines, p)
	}
	m.mu.Unlock()

	for _, p := range pipelines {
		p.Stop()
	}
}

// HandleControl dispatches one operator command received off the bus.
// Unknown actions and unknown venues are logged and ignored.
func (m *Manager) HandleControl(action, name string) {
	m.mu.Lock()
	p, ok := m.pipelines[name]
	ctx := m.ctx
	m.mu.Unlock()
	if !ok {
		m.log.WithFields(logger.Fields{"action": action, "venue": name}).Warn("control command for unknown venue")
		return
	}

	log := m.log.WithFields(logger.Fields{"action": action, "venue": name})
	switch action {
	case "reconnect":
		if p.Running() {
			p.ForceReconnect()
			return
		}
		// Dead or never started: a reconnect command revives it.
		log.Info("restarting stopped pipeline")
		if err := p.Start(ctx); err != nil {
			log.WithError(err).Warn("restart failed")
		}
	case "disable":
		m.registry.Disable(name)
		p.Stop()
		log.Info("venue disabled")
	case "enable":
		m.registry.Enable(name)
		if !p.Running() {
			if err := p.Start(ctx); err != nil {
				log.WithError(err).Warn("start failed")
			}
		}
		log.Info("venue enabled")
	default:
		log.Warn("unknown control action")
	}
}
