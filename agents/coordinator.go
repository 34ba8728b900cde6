package agents

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/agentbus-dev/agentbus/agent"
	"github.com/agentbus-dev/agentbus/bus"
	"github.com/agentbus-dev/agentbus/model"
	"github.com/agentbus-dev/agentbus/observability"
)

// CoordinatorConfig tunes delegation and background maintenance.
type CoordinatorConfig struct {
	// DelegationTimeout bounds how long the coordinator waits for one
	// delegated agent to reply.
	DelegationTimeout time.Duration
	// HealthCheckInterval spaces the periodic agent liveness sweep.
	HealthCheckInterval time.Duration
	// InactivityThreshold is how long an agent may stay silent before
	// the health sweep marks it inactive.
	InactivityThreshold time.Duration
	// CleanupInterval spaces the periodic conversation sweep.
	CleanupInterval time.Duration
	// ConversationRetention is how long completed conversations are
	// kept before the sweep drops them.
	ConversationRetention time.Duration
}

// DefaultCoordinatorConfig returns the production defaults.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		DelegationTimeout:     30 * time.Second,
		HealthCheckInterval:   60 * time.Second,
		InactivityThreshold:   5 * time.Minute,
		CleanupInterval:       5 * time.Minute,
		ConversationRetention: time.Hour,
	}
}

func (c *CoordinatorConfig) applyDefaults() {
	def := DefaultCoordinatorConfig()
	if c.DelegationTimeout <= 0 {
		c.DelegationTimeout = def.DelegationTimeout
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = def.HealthCheckInterval
	}
	if c.InactivityThreshold <= 0 {
		c.InactivityThreshold = def.InactivityThreshold
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = def.CleanupInterval
	}
	if c.ConversationRetention <= 0 {
		c.ConversationRetention = def.ConversationRetention
	}
}

// ConversationStatus describes one tracked user conversation.
type ConversationStatus struct {
	ID           string
	UserID       string
	Query        string
	Capabilities []agent.Capability
	Agents       []string
	Status       string
	Response     string
	StartedAt    time.Time
	EndedAt      time.Time
}

type conversation struct {
	id           string
	userID       string
	query        string
	capabilities []agent.Capability
	agents       []string
	status       string
	response     string
	startedAt    time.Time
	endedAt      time.Time
}

// agentReply is one delegated agent's contribution to a query.
type agentReply struct {
	agentID   string
	agentName string
	result    string
}

// Coordinator is the routing brain of the system. It owns the agent
// registry, classifies user queries into required capabilities, fans
// the work out to capable agents over the bus and synthesizes their
// replies into a single response.
type Coordinator struct {
	*agent.BaseAgent

	cfg        CoordinatorConfig
	registry   *agent.Registry
	classifier Classifier
	generator  model.Generator

	sched *cron.Cron

	convMu        sync.Mutex
	conversations map[string]*conversation

	pendingMu sync.Mutex
	pending   map[string]chan *bus.Message
}

// NewCoordinator creates a coordinator bound to b. generator may be
// nil; synthesis then always takes the deterministic fallback path.
func NewCoordinator(id string, b *bus.Bus, generator model.Generator, cfg CoordinatorConfig) *Coordinator {
	cfg.applyDefaults()

	c := &Coordinator{
		BaseAgent: agent.New(id, "Coordinator", agent.RoleCoordinator,
			[]agent.Capability{agent.CapabilityReasoning}, b),
		cfg:           cfg,
		registry:      agent.NewRegistry(),
		classifier:    KeywordClassifier{},
		generator:     generator,
		conversations: make(map[string]*conversation),
		pending:       make(map[string]chan *bus.Message),
	}

	c.SetHooks(agent.Hooks{
		InitComponents: c.initComponents,
		StartProcesses: c.startProcesses,
		StopProcesses:  c.stopProcesses,
		UserQuery:      c.handleUserQuery,
		AgentRequest:   c.handleAgentRequest,
		Coordination:   c.handleCoordination,
		Reply:          c.handleReply,
	})
	return c
}

// Registry exposes the agent registry the coordinator owns. The manager
// registers and unregisters agents through it.
func (c *Coordinator) Registry() *agent.Registry { return c.registry }

func (c *Coordinator) initComponents(context.Context) error {
	return c.registry.Register(c.Profile())
}

func (c *Coordinator) startProcesses(context.Context) error {
	c.registry.SetActive(c.ID(), true)

	c.sched = cron.New()
	if _, err := c.sched.AddFunc(every(c.cfg.CleanupInterval), c.sweepConversations); err != nil {
		return fmt.Errorf("schedule conversation sweep: %w", err)
	}
	if _, err := c.sched.AddFunc(every(c.cfg.HealthCheckInterval), c.checkAgentHealth); err != nil {
		return fmt.Errorf("schedule health check: %w", err)
	}
	c.sched.Start()
	return nil
}

func (c *Coordinator) stopProcesses(context.Context) error {
	c.registry.SetActive(c.ID(), false)
	if c.sched != nil {
		<-c.sched.Stop().Done()
	}
	return nil
}

func every(d time.Duration) string {
	return fmt.Sprintf("@every %s", d)
}

// handleUserQuery classifies a query, delegates it to capable agents
// and replies with the synthesized result. A query no agent can serve
// yields an ERROR reply, never silence.
func (c *Coordinator) handleUserQuery(ctx context.Context, msg *bus.Message) (*bus.Message, error) {
	start := time.Now()
	span := observability.StartSpan("coordinator.user_query", map[string]any{
		"message.id": msg.ID,
		"sender":     msg.Sender,
	})
	defer span.End()

	query := msg.Content
	userID := msg.Sender
	if p, ok := msg.UserQuery(); ok {
		query = p.Query
		if p.UserID != "" {
			userID = p.UserID
		}
	}
	if strings.TrimSpace(query) == "" {
		observability.RecordQuery("rejected", time.Since(start))
		return bus.NewError(c.ID(), msg.Sender, agent.ErrKindQueryProcessing,
			"user query carries no query text").Reply(msg), nil
	}

	caps := c.classifier.Classify(query)
	candidates := c.findAgents(caps)
	if len(candidates) == 0 {
		observability.RecordQuery("no_agents", time.Since(start))
		return bus.NewError(c.ID(), msg.Sender, agent.ErrKindNoAgents,
			fmt.Sprintf("%v: %v", agent.ErrNoAgents, caps)).Reply(msg), nil
	}

	conv := c.recordConversation(msg, userID, query, caps, candidates)

	replies := c.delegate(ctx, conv.id, query, caps, candidates)
	result := c.synthesize(ctx, query, replies)

	c.completeConversation(conv.id, result)
	observability.RecordQuery("completed", time.Since(start))

	names := make([]string, 0, len(replies))
	for _, r := range replies {
		names = append(names, r.agentName)
	}
	return bus.NewAgentResponse(c.ID(), msg.Sender, result, 0.9, names, time.Since(start)).Reply(msg), nil
}

// findAgents returns active agents covering any of caps, deduplicated,
// excluding the coordinator itself. Order is deterministic by id.
func (c *Coordinator) findAgents(caps []agent.Capability) []agent.Profile {
	seen := make(map[string]agent.Profile)
	for _, cap := range caps {
		for _, p := range c.registry.ByCapability(cap) {
			if p.ID == c.ID() || !p.Active {
				continue
			}
			seen[p.ID] = p
		}
	}

	out := make([]agent.Profile, 0, len(seen))
	for _, p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// delegate asks every candidate for assistance concurrently and
// collects the replies that arrive within the delegation timeout.
// Agents that time out or fail are simply absent from the result.
func (c *Coordinator) delegate(ctx context.Context, convID, query string, caps []agent.Capability, candidates []agent.Profile) []agentReply {
	taskIDs := make(map[string]string, len(candidates))
	for _, p := range candidates {
		p := p
		capability := matchCapability(p, caps)
		id, err := c.StartTask(ctx, func(taskCtx context.Context) (any, error) {
			return c.requestAssistance(taskCtx, convID, p, capability, query)
		})
		if err != nil {
			log.Printf("coordinator: could not start delegation to %s: %v", p.Name, err)
			continue
		}
		taskIDs[p.ID] = id
	}

	var (
		mu      sync.Mutex
		replies []agentReply
	)
	g := new(errgroup.Group)
	for _, p := range candidates {
		p := p
		taskID, ok := taskIDs[p.ID]
		if !ok {
			continue
		}
		g.Go(func() error {
			value, err := c.WaitTask(taskID, c.cfg.DelegationTimeout+time.Second)
			if err != nil {
				log.Printf("coordinator: delegation to %s failed: %v", p.Name, err)
				return nil
			}
			reply, ok := value.(*bus.Message)
			if !ok || reply == nil {
				return nil
			}
			result := reply.Content
			if rp, ok := reply.AgentResponse(); ok {
				result = rp.Result
			}
			mu.Lock()
			replies = append(replies, agentReply{agentID: p.ID, agentName: p.Name, result: result})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(replies, func(i, j int) bool { return replies[i].agentID < replies[j].agentID })
	return replies
}

func matchCapability(p agent.Profile, caps []agent.Capability) agent.Capability {
	for _, cap := range caps {
		if p.Has(cap) {
			return cap
		}
	}
	return agent.CapabilityReasoning
}

// requestAssistance sends one AGENT_REQUEST and waits for the reply
// linked back to it. The reply channel is keyed by the request id and
// resolved by handleReply.
func (c *Coordinator) requestAssistance(ctx context.Context, convID string, p agent.Profile, capability agent.Capability, task string) (*bus.Message, error) {
	req := bus.NewAgentRequest(c.ID(), p.ID, string(capability), task, nil)
	req.ConversationID = convID

	ch := make(chan *bus.Message, 1)
	c.pendingMu.Lock()
	c.pending[req.ID] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, req.ID)
		c.pendingMu.Unlock()
	}()

	if err := c.Send(req); err != nil {
		return nil, fmt.Errorf("delegate to %s: %w", p.Name, err)
	}

	timer := time.NewTimer(c.cfg.DelegationTimeout)
	defer timer.Stop()

	select {
	case reply := <-ch:
		c.registry.Touch(reply.Sender)
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("delegate to %s: %w", p.Name, agent.ErrTaskTimeout)
	}
}

// handleReply resolves pending delegation waits. Replies that do not
// correspond to an outstanding request are dropped after logging.
func (c *Coordinator) handleReply(_ context.Context, msg *bus.Message) (*bus.Message, error) {
	c.pendingMu.Lock()
	ch, ok := c.pending[msg.ParentID]
	c.pendingMu.Unlock()

	if !ok {
		log.Printf("coordinator: unmatched reply %s from %s", msg.ID, msg.Sender)
		return nil, nil
	}
	select {
	case ch <- msg:
	default:
	}
	return nil, nil
}

// handleAgentRequest forwards an assistance request from one agent to
// another agent with the required capability.
func (c *Coordinator) handleAgentRequest(_ context.Context, msg *bus.Message) (*bus.Message, error) {
	p, ok := msg.AgentRequest()
	if !ok {
		return bus.NewError(c.ID(), msg.Sender, agent.ErrKindAgentRequest,
			"agent request carries no request payload").Reply(msg), nil
	}

	var target *agent.Profile
	for _, candidate := range c.registry.ByCapability(agent.Capability(p.Capability)) {
		if candidate.ID == c.ID() || candidate.ID == msg.Sender || !candidate.Active {
			continue
		}
		candidate := candidate
		if target == nil || candidate.ID < target.ID {
			target = &candidate
		}
	}
	if target == nil {
		return bus.NewError(c.ID(), msg.Sender, agent.ErrKindNoAgents,
			fmt.Sprintf("no active agents advertise %s", p.Capability)).Reply(msg), nil
	}

	fwd := bus.NewAgentRequest(c.ID(), target.ID, p.Capability, p.Task, p.RequiredTools)
	fwd.ConversationID = msg.ConversationID
	if err := c.Send(fwd); err != nil {
		return bus.NewError(c.ID(), msg.Sender, agent.ErrKindMessageDelivery,
			fmt.Sprintf("forward to %s: %v", target.Name, err)).Reply(msg), nil
	}

	reply := bus.NewCoordination(c.ID(), msg.Sender, "routing", "forwarded", map[string]any{
		"target": target.ID,
	})
	reply.Content = fmt.Sprintf("Request forwarded to %s", target.Name)
	return reply.Reply(msg), nil
}

// handleCoordination answers system-level pings with a status snapshot.
func (c *Coordinator) handleCoordination(_ context.Context, msg *bus.Message) (*bus.Message, error) {
	c.convMu.Lock()
	active := 0
	for _, conv := range c.conversations {
		if conv.status == "active" {
			active++
		}
	}
	total := len(c.conversations)
	c.convMu.Unlock()

	return bus.NewStatus(c.ID(), msg.Sender, map[string]any{
		"registered_agents":    c.registry.Len(),
		"active_conversations": active,
		"total_conversations":  total,
	}).Reply(msg), nil
}

func (c *Coordinator) recordConversation(msg *bus.Message, userID, query string, caps []agent.Capability, candidates []agent.Profile) *conversation {
	id := msg.ConversationID
	if id == "" {
		id = msg.ID
	}

	names := make([]string, 0, len(candidates))
	for _, p := range candidates {
		names = append(names, p.ID)
	}

	conv := &conversation{
		id:           id,
		userID:       userID,
		query:        query,
		capabilities: caps,
		agents:       names,
		status:       "active",
		startedAt:    time.Now(),
	}

	c.convMu.Lock()
	c.conversations[id] = conv
	c.convMu.Unlock()
	return conv
}

func (c *Coordinator) completeConversation(id, response string) {
	c.convMu.Lock()
	defer c.convMu.Unlock()
	if conv, ok := c.conversations[id]; ok {
		conv.status = "completed"
		conv.response = response
		conv.endedAt = time.Now()
	}
}

// synthesize merges delegated replies into one response. The generator
// is consulted first; any failure falls back to a deterministic merge
// so the user always receives an answer.
func (c *Coordinator) synthesize(ctx context.Context, query string, replies []agentReply) string {
	if len(replies) == 0 {
		return "I apologize, but I was unable to get responses from any agents to help with your query."
	}

	if c.generator != nil {
		var b strings.Builder
		fmt.Fprintf(&b, "Synthesize a single helpful answer to the user query %q from these agent responses:\n", query)
		for _, r := range replies {
			fmt.Fprintf(&b, "- %s: %s\n", r.agentName, r.result)
		}
		if out, err := c.generator.Generate(ctx, b.String()); err == nil && strings.TrimSpace(out) != "" {
			return out
		} else if err != nil {
			log.Printf("coordinator: synthesis generator failed, using fallback: %v", err)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Based on the responses from %d agents:\n\n", len(replies))
	for _, r := range replies {
		fmt.Fprintf(&b, "- %s: %s\n", r.agentName, r.result)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// sweepConversations drops completed conversations older than the
// retention window.
func (c *Coordinator) sweepConversations() {
	cutoff := time.Now().Add(-c.cfg.ConversationRetention)

	c.convMu.Lock()
	defer c.convMu.Unlock()
	for id, conv := range c.conversations {
		if conv.status == "completed" && conv.endedAt.Before(cutoff) {
			delete(c.conversations, id)
		}
	}
}

// checkAgentHealth warns about agents silent beyond the inactivity
// threshold. Observation only; deactivation stays an operator call
// since a busy agent inside a long tool run looks identical.
func (c *Coordinator) checkAgentHealth() {
	cutoff := time.Now().Add(-c.cfg.InactivityThreshold)
	for _, p := range c.registry.Active() {
		if p.ID == c.ID() {
			continue
		}
		if !p.LastActivity.IsZero() && p.LastActivity.Before(cutoff) {
			log.Printf("coordinator: agent %s has been inactive since %s", p.Name, p.LastActivity.Format(time.RFC3339))
		}
	}
}

// Conversations returns a snapshot of all tracked conversations.
func (c *Coordinator) Conversations() []ConversationStatus {
	c.convMu.Lock()
	defer c.convMu.Unlock()

	out := make([]ConversationStatus, 0, len(c.conversations))
	for _, conv := range c.conversations {
		out = append(out, ConversationStatus{
			ID:           conv.id,
			UserID:       conv.userID,
			Query:        conv.query,
			Capabilities: conv.capabilities,
			Agents:       conv.agents,
			Status:       conv.status,
			Response:     conv.response,
			StartedAt:    conv.startedAt,
			EndedAt:      conv.endedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}
