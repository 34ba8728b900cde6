package agent

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentbus-dev/agentbus/bus"
	"github.com/agentbus-dev/agentbus/observability"
)

// State is the lifecycle phase of an agent.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitialized   State = "initialized"
	StateActive        State = "active"
	StateStopped       State = "stopped"
)

// Hook processes one message and optionally returns a reply.
type Hook func(ctx context.Context, msg *bus.Message) (*bus.Message, error)

// Hooks are the overridable behaviors a specialized agent installs on
// its BaseAgent. Nil entries fall back to the base behavior: lifecycle
// hooks are no-ops, message hooks log a warning and produce no reply.
type Hooks struct {
	// InitComponents runs once during Initialize.
	InitComponents func(ctx context.Context) error
	// StartProcesses runs when the agent becomes active.
	StartProcesses func(ctx context.Context) error
	// StopProcesses runs when the agent stops, before unregistering.
	StopProcesses func(ctx context.Context) error

	UserQuery    Hook
	AgentRequest Hook
	ToolRequest  Hook
	Coordination Hook
	// Reply receives AGENT_RESPONSE, TOOL_RESULT and ERROR messages
	// addressed to this agent, typically replies to earlier requests.
	Reply Hook
}

const defaultMaxConcurrentTasks = 5

// BaseAgent provides lifecycle management, bus registration, per-type
// message dispatch and bounded background task tracking. Specialized
// agents embed a *BaseAgent and install Hooks.
type BaseAgent struct {
	id   string
	name string
	role Role
	caps []Capability

	b     *bus.Bus
	hooks Hooks

	mu           sync.Mutex
	state        State
	registered   bool
	startTime    time.Time
	lastActivity time.Time

	maxTasks int
	sem      chan struct{}
	tasksMu  sync.Mutex
	tasks    map[string]*task
	results  map[string]taskOutcome
}

type taskOutcome struct {
	value any
	err   error
}

type task struct {
	id     string
	done   chan struct{}
	cancel context.CancelFunc

	mu      sync.Mutex
	outcome taskOutcome
}

// Status is a point-in-time snapshot of an agent.
type Status struct {
	ID           string
	Name         string
	Role         Role
	Capabilities []Capability
	State        State
	StartTime    time.Time
	LastActivity time.Time
	ActiveTasks  int
}

// Option configures a BaseAgent.
type Option func(*BaseAgent)

// WithMaxConcurrentTasks bounds the number of simultaneously running
// background tasks. Starting one more blocks until a slot frees.
func WithMaxConcurrentTasks(n int) Option {
	return func(a *BaseAgent) {
		if n > 0 {
			a.maxTasks = n
		}
	}
}

// New creates a BaseAgent bound to b. The agent is not registered with
// the bus until Initialize.
func New(id, name string, role Role, caps []Capability, b *bus.Bus, opts ...Option) *BaseAgent {
	a := &BaseAgent{
		id:       id,
		name:     name,
		role:     role,
		caps:     caps,
		b:        b,
		state:    StateUninitialized,
		maxTasks: defaultMaxConcurrentTasks,
		tasks:    make(map[string]*task),
		results:  make(map[string]taskOutcome),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.sem = make(chan struct{}, a.maxTasks)
	return a
}

// SetHooks installs the specialized behaviors. Call before Initialize.
func (a *BaseAgent) SetHooks(h Hooks) { a.hooks = h }

// ID returns the agent id.
func (a *BaseAgent) ID() string { return a.id }

// Name returns the human-readable agent name.
func (a *BaseAgent) Name() string { return a.name }

// Role returns the agent role.
func (a *BaseAgent) Role() Role { return a.role }

// Capabilities returns the advertised capability tags.
func (a *BaseAgent) Capabilities() []Capability { return a.caps }

// Bus returns the message bus this agent is bound to.
func (a *BaseAgent) Bus() *bus.Bus { return a.b }

// Profile builds the registry profile for this agent.
func (a *BaseAgent) Profile() Profile {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Profile{
		ID:           a.id,
		Name:         a.name,
		Role:         a.role,
		Capabilities: a.caps,
		Active:       a.state == StateActive,
		CreatedAt:    time.Now(),
		LastActivity: a.lastActivity,
	}
}

// State returns the current lifecycle state.
func (a *BaseAgent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Active reports whether the agent is processing messages.
func (a *BaseAgent) Active() bool { return a.State() == StateActive }

// Initialize registers ProcessMessage as the agent's bus handler and
// runs the InitComponents hook. Idempotent: calling it while already
// initialized is a no-op success.
func (a *BaseAgent) Initialize(ctx context.Context) error {
	a.mu.Lock()
	if a.state == StateInitialized || a.state == StateActive {
		a.mu.Unlock()
		return nil
	}
	registered := a.registered
	a.mu.Unlock()

	if !registered {
		if err := a.b.RegisterHandler(a.id, a.ProcessMessage); err != nil {
			return fmt.Errorf("initialize %s: %w", a.name, err)
		}
		a.mu.Lock()
		a.registered = true
		a.mu.Unlock()
	}

	if a.hooks.InitComponents != nil {
		if err := a.hooks.InitComponents(ctx); err != nil {
			return fmt.Errorf("initialize %s: %w", a.name, err)
		}
	}

	a.mu.Lock()
	a.state = StateInitialized
	a.mu.Unlock()
	log.Printf("agent %s: initialized", a.name)
	return nil
}

// Start makes the agent active, auto-initializing if needed, and runs
// the StartProcesses hook. Idempotent.
func (a *BaseAgent) Start(ctx context.Context) error {
	if a.State() == StateActive {
		return nil
	}
	if err := a.Initialize(ctx); err != nil {
		return err
	}

	a.mu.Lock()
	a.state = StateActive
	a.startTime = time.Now()
	a.lastActivity = time.Now()
	a.mu.Unlock()

	if a.hooks.StartProcesses != nil {
		if err := a.hooks.StartProcesses(ctx); err != nil {
			return fmt.Errorf("start %s: %w", a.name, err)
		}
	}
	log.Printf("agent %s: started", a.name)
	return nil
}

// Stop deactivates the agent, cancels its tracked tasks, runs the
// StopProcesses hook and unregisters from the bus. Calling Stop on an
// already-stopped agent succeeds with no further side effects.
func (a *BaseAgent) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.state != StateActive {
		a.mu.Unlock()
		return nil
	}
	a.state = StateStopped
	registered := a.registered
	a.registered = false
	a.mu.Unlock()

	a.cancelTasks()

	// Drop outcomes nobody came back for; waiters are gone once the
	// agent stops.
	a.tasksMu.Lock()
	a.results = make(map[string]taskOutcome)
	a.tasksMu.Unlock()

	if a.hooks.StopProcesses != nil {
		if err := a.hooks.StopProcesses(ctx); err != nil {
			log.Printf("agent %s: stop hook failed: %v", a.name, err)
		}
	}

	if registered {
		if err := a.b.UnregisterHandler(a.id); err != nil {
			log.Printf("agent %s: unregister failed: %v", a.name, err)
		}
	}
	log.Printf("agent %s: stopped", a.name)
	return nil
}

// Shutdown is an alias for Stop.
func (a *BaseAgent) Shutdown(ctx context.Context) error { return a.Stop(ctx) }

// ProcessMessage dispatches an incoming message to the hook for its
// type. Hook errors and panics are converted into an ERROR reply to
// the original sender; the caller never observes a raw fault.
func (a *BaseAgent) ProcessMessage(ctx context.Context, msg *bus.Message) (reply *bus.Message, err error) {
	a.mu.Lock()
	a.lastActivity = time.Now()
	a.mu.Unlock()
	observability.RecordMessage(a.id, string(msg.Type))

	defer func() {
		if r := recover(); r != nil {
			log.Printf("agent %s: panic processing %s: %v", a.name, msg.ID, r)
			reply = bus.NewError(a.id, msg.Sender, ErrKindMessageProcessing, fmt.Sprint(r)).Reply(msg)
			err = nil
		}
	}()

	var hook Hook
	switch msg.Type {
	case bus.TypeUserQuery:
		hook = a.hooks.UserQuery
	case bus.TypeAgentRequest:
		hook = a.hooks.AgentRequest
	case bus.TypeToolRequest:
		hook = a.hooks.ToolRequest
	case bus.TypeCoordination:
		hook = a.hooks.Coordination
	case bus.TypeAgentResponse, bus.TypeToolResult, bus.TypeError:
		hook = a.hooks.Reply
	}

	if hook == nil {
		log.Printf("agent %s: %v", a.id, &NotImplementedError{AgentName: a.name, Hook: string(msg.Type)})
		return nil, nil
	}

	reply, hookErr := hook(ctx, msg)
	if hookErr != nil {
		log.Printf("agent %s: error processing %s: %v", a.name, msg.ID, hookErr)
		return bus.NewError(a.id, msg.Sender, ErrKindMessageProcessing, hookErr.Error()).Reply(msg), nil
	}
	return reply, nil
}

// Send routes a message through the bus.
func (a *BaseAgent) Send(msg *bus.Message) error {
	if msg.Sender == "" {
		msg.Sender = a.id
	}
	return a.b.Send(msg)
}

// Broadcast routes a message to all registered handlers.
func (a *BaseAgent) Broadcast(msg *bus.Message) error {
	if msg.Sender == "" {
		msg.Sender = a.id
	}
	return a.b.Broadcast(msg)
}

// Has reports whether the agent advertises c.
func (a *BaseAgent) Has(c Capability) bool {
	for _, cap := range a.caps {
		if cap == c {
			return true
		}
	}
	return false
}

// Status returns a snapshot of the agent.
func (a *BaseAgent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tasksMu.Lock()
	active := len(a.tasks)
	a.tasksMu.Unlock()
	return Status{
		ID:           a.id,
		Name:         a.name,
		Role:         a.role,
		Capabilities: a.caps,
		State:        a.state,
		StartTime:    a.startTime,
		LastActivity: a.lastActivity,
		ActiveTasks:  active,
	}
}

// StartTask runs fn as a tracked background task and returns its task
// id. At most the configured number of tasks run concurrently; when the
// limit is reached StartTask blocks until a running task finishes or
// ctx is canceled.
func (a *BaseAgent) StartTask(ctx context.Context, fn func(ctx context.Context) (any, error)) (string, error) {
	select {
	case a.sem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	id := uuid.New().String()
	taskCtx, cancel := context.WithCancel(ctx)
	t := &task{id: id, done: make(chan struct{}), cancel: cancel}

	a.tasksMu.Lock()
	a.tasks[id] = t
	a.tasksMu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				t.mu.Lock()
				t.outcome = taskOutcome{err: fmt.Errorf("task panicked: %v", r)}
				t.mu.Unlock()
			}
			t.mu.Lock()
			outcome := t.outcome
			t.mu.Unlock()

			a.tasksMu.Lock()
			delete(a.tasks, id)
			a.results[id] = outcome
			a.tasksMu.Unlock()

			cancel()
			close(t.done)
			<-a.sem
		}()

		value, err := fn(taskCtx)
		t.mu.Lock()
		t.outcome = taskOutcome{value: value, err: err}
		t.mu.Unlock()
	}()

	return id, nil
}

// WaitTask blocks up to timeout for the task to complete and returns
// its result. Exceeding the timeout returns ErrTaskTimeout; it never
// blocks longer than timeout and never propagates a panic. Retrieval
// consumes the outcome: a second wait on the same id returns
// ErrTaskNotFound. A timed-out wait does not consume, so the outcome
// stays retrievable once the task finishes.
func (a *BaseAgent) WaitTask(id string, timeout time.Duration) (any, error) {
	a.tasksMu.Lock()
	t, running := a.tasks[id]
	outcome, finished := a.results[id]
	if !running && finished {
		delete(a.results, id)
	}
	a.tasksMu.Unlock()

	if !running {
		if !finished {
			return nil, fmt.Errorf("wait for %s: %w", id, ErrTaskNotFound)
		}
		return outcome.value, outcome.err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-t.done:
		a.tasksMu.Lock()
		outcome, finished = a.results[id]
		delete(a.results, id)
		a.tasksMu.Unlock()
		if !finished {
			return nil, fmt.Errorf("wait for %s: %w", id, ErrTaskNotFound)
		}
		return outcome.value, outcome.err
	case <-timer.C:
		log.Printf("agent %s: task %s timed out after %s", a.name, id, timeout)
		return nil, ErrTaskTimeout
	}
}

// cancelTasks cancels every tracked task. Best effort: a task already
// inside a non-cancellable call finishes on its own.
func (a *BaseAgent) cancelTasks() {
	a.tasksMu.Lock()
	tasks := make([]*task, 0, len(a.tasks))
	for _, t := range a.tasks {
		tasks = append(tasks, t)
	}
	a.tasksMu.Unlock()

	for _, t := range tasks {
		t.cancel()
	}
}
