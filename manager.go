package agentbus

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/agentbus-dev/agentbus/agent"
	"github.com/agentbus-dev/agentbus/agents"
	"github.com/agentbus-dev/agentbus/bus"
	"github.com/agentbus-dev/agentbus/model"
	"github.com/agentbus-dev/agentbus/tool"
)

// Well-known ids of the built-in agents.
const (
	CoordinatorID  = "coordinator-001"
	ToolExecutorID = "tool-executor-001"
)

// Agent is the contract the manager requires from every managed agent.
// *agent.BaseAgent satisfies it, so embedding one is enough.
type Agent interface {
	ID() string
	Name() string
	Profile() agent.Profile
	Status() agent.Status
	Initialize(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// PerformanceMetrics aggregates query-level outcomes.
type PerformanceMetrics struct {
	TotalQueries        int64
	FailedQueries       int64
	SuccessRate         float64
	AverageResponseTime time.Duration
	LastQueryTime       time.Time
}

// SystemStatus is a point-in-time snapshot of the whole system.
type SystemStatus struct {
	Running       bool
	Uptime        time.Duration
	Bus           bus.Stats
	Agents        []agent.Profile
	Conversations int
	Performance   PerformanceMetrics
}

// Manager is the single entry point for embedding the multi-agent
// system. It owns the bus and the built-in coordinator and tool
// executor, and exposes one call to process a user query end to end.
type Manager struct {
	cfg Config

	bus         *bus.Bus
	coordinator *agents.Coordinator
	executor    *agents.ToolExecutor
	limiter     *rate.Limiter

	mu          sync.Mutex
	extras      map[string]Agent
	initialized bool
	running     bool
	startTime   time.Time

	statsMu sync.Mutex
	stats   PerformanceMetrics
}

// ManagerOption overrides a manager collaborator.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	generator model.Generator
	provider  tool.Provider
}

// WithGenerator injects the language-model generator used for
// response synthesis.
func WithGenerator(g model.Generator) ManagerOption {
	return func(o *managerOptions) { o.generator = g }
}

// WithToolProvider injects the tool provider served by the executor.
func WithToolProvider(p tool.Provider) ManagerOption {
	return func(o *managerOptions) { o.provider = p }
}

// NewManager assembles a manager from cfg. Without options the tool
// executor serves the builtin tools and synthesis uses the configured
// model provider, falling back to deterministic merging when none is
// configured.
func NewManager(cfg Config, opts ...ManagerOption) (*Manager, error) {
	cfg.applyDefaults()

	var o managerOptions
	for _, opt := range opts {
		opt(&o)
	}

	if o.generator == nil && cfg.Model.Provider == "openai" {
		gen, err := model.NewOpenAI(model.OpenAIConfig{
			APIKey:  cfg.Model.APIKey,
			BaseURL: cfg.Model.BaseURL,
			Model:   cfg.Model.Name,
		})
		if err != nil {
			return nil, fmt.Errorf("new manager: %w", err)
		}
		o.generator = gen
	}
	if o.provider == nil {
		o.provider = tool.Builtins()
	}

	b := bus.New(
		bus.WithQueueCapacity(cfg.Bus.QueueCapacity),
		bus.WithHistorySize(cfg.Bus.HistorySize),
	)

	m := &Manager{
		cfg:    cfg,
		bus:    b,
		extras: make(map[string]Agent),
	}
	m.coordinator = agents.NewCoordinator(CoordinatorID, b, o.generator, cfg.Coordinator.runtime())
	m.executor = agents.NewToolExecutor(ToolExecutorID, b, o.provider, cfg.ToolExecutor.runtime())

	if cfg.Manager.QueryRateLimit > 0 {
		burst := cfg.Manager.QueryBurst
		if burst <= 0 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(rate.Limit(cfg.Manager.QueryRateLimit), burst)
	}
	return m, nil
}

// Bus exposes the underlying message bus.
func (m *Manager) Bus() *bus.Bus { return m.bus }

// Coordinator exposes the built-in coordinator.
func (m *Manager) Coordinator() *agents.Coordinator { return m.coordinator }

// ToolExecutor exposes the built-in tool executor.
func (m *Manager) ToolExecutor() *agents.ToolExecutor { return m.executor }

// Initialize starts the bus and initializes the built-in agents.
// Idempotent.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return nil
	}

	m.bus.Start()
	if err := m.coordinator.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize manager: %w", err)
	}
	if err := m.executor.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize manager: %w", err)
	}
	if err := m.coordinator.Registry().Register(m.executor.Profile()); err != nil {
		return fmt.Errorf("initialize manager: %w", err)
	}

	m.initialized = true
	log.Printf("manager: initialized")
	return nil
}

// Start activates the built-in agents, auto-initializing if needed.
// Idempotent.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.Initialize(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	if err := m.coordinator.Start(ctx); err != nil {
		return fmt.Errorf("start manager: %w", err)
	}
	if err := m.executor.Start(ctx); err != nil {
		return fmt.Errorf("start manager: %w", err)
	}
	m.coordinator.Registry().SetActive(m.executor.ID(), true)

	m.running = true
	m.startTime = time.Now()
	log.Printf("manager: started")
	return nil
}

// Stop deactivates every agent and stops the bus. Idempotent.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	extras := make([]Agent, 0, len(m.extras))
	for _, a := range m.extras {
		extras = append(extras, a)
	}
	m.mu.Unlock()

	for _, a := range extras {
		if err := a.Stop(ctx); err != nil {
			log.Printf("manager: stopping %s: %v", a.Name(), err)
		}
	}
	if err := m.executor.Stop(ctx); err != nil {
		log.Printf("manager: stopping executor: %v", err)
	}
	if err := m.coordinator.Stop(ctx); err != nil {
		log.Printf("manager: stopping coordinator: %v", err)
	}
	m.bus.Stop()

	log.Printf("manager: stopped")
	return nil
}

// Shutdown is an alias for Stop.
func (m *Manager) Shutdown(ctx context.Context) error { return m.Stop(ctx) }

// Running reports whether the system accepts queries.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// ProcessUserQuery runs one user query end to end and returns the
// response text. It never returns an error; every failure mode is
// rendered as a user-facing message.
func (m *Manager) ProcessUserQuery(ctx context.Context, userID, query string, qctx map[string]string) string {
	if !m.Running() {
		return "The system is not running. Please start it first."
	}
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return "The system is shutting down. Please try again later."
		}
	}

	start := time.Now()
	msg := bus.NewUserQuery(userID, CoordinatorID, query, qctx)
	msg.ConversationID = msg.ID

	// The coordinator is invoked directly rather than via a transient
	// bus handler: the caller is already waiting synchronously.
	reply, err := m.coordinator.ProcessMessage(ctx, msg)

	failed := err != nil || reply == nil || reply.Type == bus.TypeError
	m.recordQuery(time.Since(start), failed)

	if err != nil || reply == nil {
		return "I apologize, but I encountered an error processing your request."
	}
	if reply.Type == bus.TypeError {
		// Content carries "Kind: details" from the error constructor.
		return fmt.Sprintf("I encountered an error processing your request: %s", reply.Content)
	}
	return reply.Content
}

func (m *Manager) recordQuery(d time.Duration, failed bool) {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	m.stats.TotalQueries++
	if failed {
		m.stats.FailedQueries++
	}
	m.stats.SuccessRate = float64(m.stats.TotalQueries-m.stats.FailedQueries) / float64(m.stats.TotalQueries)
	m.stats.LastQueryTime = time.Now()
	n := time.Duration(m.stats.TotalQueries)
	m.stats.AverageResponseTime += (d - m.stats.AverageResponseTime) / n
}

// AddAgent registers and starts a custom agent. The agent must be
// bound to this manager's bus.
func (m *Manager) AddAgent(ctx context.Context, a Agent) error {
	if err := m.coordinator.Registry().Register(a.Profile()); err != nil {
		return fmt.Errorf("add agent: %w", err)
	}
	if err := a.Start(ctx); err != nil {
		_ = m.coordinator.Registry().Unregister(a.ID())
		return fmt.Errorf("add agent %s: %w", a.Name(), err)
	}
	m.coordinator.Registry().SetActive(a.ID(), true)

	m.mu.Lock()
	m.extras[a.ID()] = a
	m.mu.Unlock()
	log.Printf("manager: added agent %s", a.Name())
	return nil
}

// RemoveAgent stops and unregisters a custom agent. The built-in
// coordinator and tool executor cannot be removed.
func (m *Manager) RemoveAgent(ctx context.Context, id string) error {
	if id == CoordinatorID || id == ToolExecutorID {
		return fmt.Errorf("remove agent %s: built-in agents cannot be removed", id)
	}

	m.mu.Lock()
	a, ok := m.extras[id]
	delete(m.extras, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("remove agent %s: %w", id, agent.ErrAgentNotFound)
	}

	if err := a.Stop(ctx); err != nil {
		log.Printf("manager: stopping %s: %v", a.Name(), err)
	}
	return m.coordinator.Registry().Unregister(id)
}

// AgentStatus returns the status of one managed agent.
func (m *Manager) AgentStatus(id string) (agent.Status, error) {
	switch id {
	case CoordinatorID:
		return m.coordinator.Status(), nil
	case ToolExecutorID:
		return m.executor.Status(), nil
	}

	m.mu.Lock()
	a, ok := m.extras[id]
	m.mu.Unlock()
	if !ok {
		return agent.Status{}, fmt.Errorf("agent status %s: %w", id, agent.ErrAgentNotFound)
	}
	return a.Status(), nil
}

// SystemStatus returns a snapshot of the whole system.
func (m *Manager) SystemStatus() SystemStatus {
	m.statsMu.Lock()
	perf := m.stats
	m.statsMu.Unlock()

	m.mu.Lock()
	var uptime time.Duration
	if m.running {
		uptime = time.Since(m.startTime)
	}
	m.mu.Unlock()

	return SystemStatus{
		Running:       m.Running(),
		Uptime:        uptime,
		Bus:           m.bus.Stats(),
		Agents:        m.coordinator.Registry().List(),
		Conversations: len(m.coordinator.Conversations()),
		Performance:   perf,
	}
}

// Performance returns the aggregated query metrics.
func (m *Manager) Performance() PerformanceMetrics {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.stats
}

// MessageHistory returns recent bus traffic matching the filters.
func (m *Manager) MessageHistory(handlerID string, t bus.Type, limit int) []*bus.Message {
	return m.bus.History(handlerID, t, limit)
}
