package agents

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbus-dev/agentbus/agent"
	"github.com/agentbus-dev/agentbus/bus"
	"github.com/agentbus-dev/agentbus/model"
)

// worker is a minimal specialist agent answering every request with a
// fixed result.
func newWorker(t *testing.T, b *bus.Bus, id, result string, caps ...agent.Capability) *agent.BaseAgent {
	t.Helper()
	w := agent.New(id, "Worker-"+id, agent.RoleCalculator, caps, b)
	w.SetHooks(agent.Hooks{
		AgentRequest: func(_ context.Context, msg *bus.Message) (*bus.Message, error) {
			return bus.NewAgentResponse(id, msg.Sender, result, 0.95, nil, time.Millisecond).Reply(msg), nil
		},
	})
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop(context.Background()) })
	return w
}

func newTestCoordinator(t *testing.T, gen model.Generator) (*Coordinator, *bus.Bus) {
	t.Helper()
	b := bus.New()
	b.Start()
	t.Cleanup(b.Stop)

	c := NewCoordinator("coordinator-1", b, gen, CoordinatorConfig{
		DelegationTimeout: 2 * time.Second,
	})
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	return c, b
}

func register(t *testing.T, c *Coordinator, w *agent.BaseAgent) {
	t.Helper()
	require.NoError(t, c.Registry().Register(w.Profile()))
	c.Registry().SetActive(w.ID(), true)
}

func TestUserQueryDelegatedAndSynthesized(t *testing.T) {
	c, b := newTestCoordinator(t, nil)
	w := newWorker(t, b, "calc-1", "The result is 345", agent.CapabilityMath)
	register(t, c, w)

	msg := bus.NewUserQuery("user-1", c.ID(), "Calculate 15 * 23", nil)
	reply, err := c.ProcessMessage(context.Background(), msg)
	require.NoError(t, err)
	require.NotNil(t, reply)
	require.Equal(t, bus.TypeAgentResponse, reply.Type)

	p, ok := reply.AgentResponse()
	require.True(t, ok)
	assert.Contains(t, p.Result, "345")
	assert.Contains(t, p.ToolsUsed, "Worker-calc-1")
	assert.Equal(t, 0.9, p.Confidence)
	assert.Equal(t, "user-1", reply.Recipient)
	assert.Equal(t, msg.ID, reply.ParentID)
}

func TestUserQueryFansOutToAllCapableAgents(t *testing.T) {
	c, b := newTestCoordinator(t, nil)
	register(t, c, newWorker(t, b, "calc-1", "first answer", agent.CapabilityMath))
	register(t, c, newWorker(t, b, "calc-2", "second answer", agent.CapabilityReasoning))

	reply, err := c.ProcessMessage(context.Background(),
		bus.NewUserQuery("user-1", c.ID(), "Calculate 2 + 2", nil))
	require.NoError(t, err)

	p, ok := reply.AgentResponse()
	require.True(t, ok)
	assert.Contains(t, p.Result, "first answer")
	assert.Contains(t, p.Result, "second answer")
	assert.Len(t, p.ToolsUsed, 2)
}

func TestUserQueryWithNoCapableAgents(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)

	msg := bus.NewUserQuery("user-1", c.ID(), "Calculate 2 + 2", nil)
	reply, err := c.ProcessMessage(context.Background(), msg)
	require.NoError(t, err)
	require.NotNil(t, reply)
	require.Equal(t, bus.TypeError, reply.Type)

	p, ok := reply.Error()
	require.True(t, ok)
	assert.Equal(t, agent.ErrKindNoAgents, p.Kind)
}

func TestUserQueryWithoutTextIsRejected(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)

	reply, err := c.ProcessMessage(context.Background(),
		bus.NewUserQuery("user-1", c.ID(), "   ", nil))
	require.NoError(t, err)
	require.NotNil(t, reply)
	require.Equal(t, bus.TypeError, reply.Type)

	p, ok := reply.Error()
	require.True(t, ok)
	assert.Equal(t, agent.ErrKindQueryProcessing, p.Kind)
}

func TestCoordinatorNeverDelegatesToItself(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)

	// The coordinator advertises reasoning, and every query requires
	// reasoning, so a self-delegation bug would loop here.
	reply, err := c.ProcessMessage(context.Background(),
		bus.NewUserQuery("user-1", c.ID(), "tell me something", nil))
	require.NoError(t, err)
	require.Equal(t, bus.TypeError, reply.Type)
}

func TestSilentAgentYieldsApology(t *testing.T) {
	b := bus.New()
	b.Start()
	t.Cleanup(b.Stop)

	c := NewCoordinator("coordinator-1", b, nil, CoordinatorConfig{
		DelegationTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Stop(context.Background()) })

	// The mute worker receives requests and never replies.
	mute := agent.New("mute-1", "Mute", agent.RoleCalculator, []agent.Capability{agent.CapabilityMath}, b)
	mute.SetHooks(agent.Hooks{
		AgentRequest: func(context.Context, *bus.Message) (*bus.Message, error) {
			return nil, nil
		},
	})
	require.NoError(t, mute.Start(context.Background()))
	t.Cleanup(func() { _ = mute.Stop(context.Background()) })
	register(t, c, mute)

	reply, err := c.ProcessMessage(context.Background(),
		bus.NewUserQuery("user-1", c.ID(), "Calculate 2 + 2", nil))
	require.NoError(t, err)

	p, ok := reply.AgentResponse()
	require.True(t, ok)
	assert.Contains(t, p.Result, "unable to get responses")
}

func TestSynthesisUsesGenerator(t *testing.T) {
	c, b := newTestCoordinator(t, &model.Static{Reply: "synthesized by model"})
	register(t, c, newWorker(t, b, "calc-1", "raw agent output", agent.CapabilityMath))

	reply, err := c.ProcessMessage(context.Background(),
		bus.NewUserQuery("user-1", c.ID(), "Calculate 2 + 2", nil))
	require.NoError(t, err)
	assert.Equal(t, "synthesized by model", reply.Content)
}

func TestSynthesisFallsBackWhenGeneratorFails(t *testing.T) {
	c, b := newTestCoordinator(t, &model.Static{Err: assert.AnError})
	register(t, c, newWorker(t, b, "calc-1", "raw agent output", agent.CapabilityMath))

	reply, err := c.ProcessMessage(context.Background(),
		bus.NewUserQuery("user-1", c.ID(), "Calculate 2 + 2", nil))
	require.NoError(t, err)
	assert.Contains(t, reply.Content, "raw agent output")
}

func TestConversationTracking(t *testing.T) {
	c, b := newTestCoordinator(t, nil)
	register(t, c, newWorker(t, b, "calc-1", "done", agent.CapabilityMath))

	_, err := c.ProcessMessage(context.Background(),
		bus.NewUserQuery("user-1", c.ID(), "Calculate 2 + 2", nil))
	require.NoError(t, err)

	convs := c.Conversations()
	require.Len(t, convs, 1)
	assert.Equal(t, "completed", convs[0].Status)
	assert.Equal(t, "user-1", convs[0].UserID)
	assert.Equal(t, []string{"calc-1"}, convs[0].Agents)
	assert.False(t, convs[0].EndedAt.IsZero())
}

func TestConversationSweepDropsOldCompleted(t *testing.T) {
	c, b := newTestCoordinator(t, nil)
	register(t, c, newWorker(t, b, "calc-1", "done", agent.CapabilityMath))

	_, err := c.ProcessMessage(context.Background(),
		bus.NewUserQuery("user-1", c.ID(), "Calculate 2 + 2", nil))
	require.NoError(t, err)

	// Retention has not elapsed, the conversation stays.
	c.sweepConversations()
	require.Len(t, c.Conversations(), 1)

	c.convMu.Lock()
	for _, conv := range c.conversations {
		conv.endedAt = time.Now().Add(-2 * c.cfg.ConversationRetention)
	}
	c.convMu.Unlock()

	c.sweepConversations()
	assert.Empty(t, c.Conversations())
}

func TestHealthSweepObservesWithoutDeactivating(t *testing.T) {
	c, b := newTestCoordinator(t, nil)
	w := newWorker(t, b, "calc-1", "done", agent.CapabilityMath)
	register(t, c, w)

	// Backdate the activity beyond the threshold.
	stale := w.Profile()
	require.NoError(t, c.Registry().Unregister(w.ID()))
	stale.Active = true
	stale.LastActivity = time.Now().Add(-2 * c.cfg.InactivityThreshold)
	require.NoError(t, c.Registry().Register(stale))

	// The sweep logs the silence but never flips the active flag.
	c.checkAgentHealth()
	p, _ := c.Registry().Get(w.ID())
	assert.True(t, p.Active)
}

func TestAgentRequestForwarding(t *testing.T) {
	c, b := newTestCoordinator(t, nil)
	register(t, c, newWorker(t, b, "calc-1", "forwarded work done", agent.CapabilityMath))

	req := bus.NewAgentRequest("asker-1", c.ID(), string(agent.CapabilityMath), "Calculate 2 + 2", nil)
	reply, err := c.ProcessMessage(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Contains(t, reply.Content, "forwarded to Worker-calc-1")
	assert.Equal(t, "asker-1", reply.Recipient)
}

func TestAgentRequestForwardingWithoutCandidate(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)

	req := bus.NewAgentRequest("asker-1", c.ID(), string(agent.CapabilityWeather), "forecast please", nil)
	reply, err := c.ProcessMessage(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, bus.TypeError, reply.Type)

	p, ok := reply.Error()
	require.True(t, ok)
	assert.Equal(t, agent.ErrKindNoAgents, p.Kind)
}

func TestCoordinationStatusReply(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)

	reply, err := c.ProcessMessage(context.Background(),
		bus.NewCoordination("admin", c.ID(), "system", "ping", nil))
	require.NoError(t, err)
	require.Equal(t, bus.TypeStatus, reply.Type)

	p, ok := reply.Payload.(bus.StatusPayload)
	require.True(t, ok)
	assert.Equal(t, 1, p.Fields["registered_agents"])
}
