package agentbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbus-dev/agentbus/agent"
	"github.com/agentbus-dev/agentbus/bus"
)

func newTestManager(t *testing.T, opts ...ManagerOption) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Coordinator.DelegationTimeout = Duration(2 * time.Second)

	m, err := NewManager(cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Stop(context.Background()) })
	return m
}

func TestManagerAnswersMathQuery(t *testing.T) {
	m := newTestManager(t)

	answer := m.ProcessUserQuery(context.Background(), "user-1", "Calculate 15 * 23", nil)
	assert.Contains(t, answer, "345")

	perf := m.Performance()
	assert.Equal(t, int64(1), perf.TotalQueries)
	assert.Equal(t, int64(0), perf.FailedQueries)
	assert.Equal(t, 1.0, perf.SuccessRate)
	assert.Greater(t, perf.AverageResponseTime, time.Duration(0))
	assert.False(t, perf.LastQueryTime.IsZero())
}

func TestManagerQueryWithoutCapableAgents(t *testing.T) {
	m := newTestManager(t)

	// Only reasoning matches, which no active agent besides the
	// coordinator itself advertises.
	answer := m.ProcessUserQuery(context.Background(), "user-1", "tell me a story", nil)
	assert.Contains(t, answer, "error processing your request")
	assert.Contains(t, answer, "NoAgentsAvailable")

	perf := m.Performance()
	assert.Equal(t, int64(1), perf.FailedQueries)
}

func TestManagerRejectsQueriesWhenStopped(t *testing.T) {
	cfg := DefaultConfig()
	m, err := NewManager(cfg)
	require.NoError(t, err)

	answer := m.ProcessUserQuery(context.Background(), "user-1", "hi", nil)
	assert.Contains(t, answer, "not running")
}

func TestManagerLifecycleIsIdempotent(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Stop(context.Background()))
	require.NoError(t, m.Stop(context.Background()))
	assert.False(t, m.Running())
}

func TestManagerSystemStatus(t *testing.T) {
	m := newTestManager(t)

	status := m.SystemStatus()
	assert.True(t, status.Running)
	assert.GreaterOrEqual(t, status.Uptime, time.Duration(0))
	assert.True(t, status.Bus.Running)
	assert.Equal(t, 2, status.Bus.Handlers)
	assert.Len(t, status.Agents, 2)
}

func TestManagerAgentStatus(t *testing.T) {
	m := newTestManager(t)

	s, err := m.AgentStatus(CoordinatorID)
	require.NoError(t, err)
	assert.Equal(t, agent.StateActive, s.State)

	s, err = m.AgentStatus(ToolExecutorID)
	require.NoError(t, err)
	assert.Equal(t, agent.RoleToolExecutor, s.Role)

	_, err = m.AgentStatus("ghost")
	require.ErrorIs(t, err, agent.ErrAgentNotFound)
}

func TestManagerAddAndRemoveAgent(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	echo := agent.New("echo-1", "Echo", agent.RoleResearcher,
		[]agent.Capability{agent.CapabilityResearch}, m.Bus())
	echo.SetHooks(agent.Hooks{
		AgentRequest: func(_ context.Context, msg *bus.Message) (*bus.Message, error) {
			return bus.NewAgentResponse("echo-1", msg.Sender, "echo: "+msg.Content, 0.8, nil, 0).Reply(msg), nil
		},
	})

	require.NoError(t, m.AddAgent(ctx, echo))

	answer := m.ProcessUserQuery(ctx, "user-1", "research Go schedulers", nil)
	assert.Contains(t, answer, "echo:")

	require.NoError(t, m.RemoveAgent(ctx, "echo-1"))
	_, err := m.AgentStatus("echo-1")
	require.ErrorIs(t, err, agent.ErrAgentNotFound)

	// Built-ins are protected.
	require.Error(t, m.RemoveAgent(ctx, CoordinatorID))
}

func TestManagerRateLimiterStillServes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Coordinator.DelegationTimeout = Duration(2 * time.Second)
	cfg.Manager.QueryRateLimit = 100
	cfg.Manager.QueryBurst = 1

	m, err := NewManager(cfg)
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Stop(context.Background()) })

	for i := 0; i < 3; i++ {
		answer := m.ProcessUserQuery(context.Background(), "user-1", "Calculate 2 + 2", nil)
		assert.Contains(t, answer, "4")
	}
}

func TestManagerMessageHistory(t *testing.T) {
	m := newTestManager(t)

	_ = m.ProcessUserQuery(context.Background(), "user-1", "Calculate 2 + 2", nil)

	history := m.MessageHistory(ToolExecutorID, bus.TypeAgentRequest, 0)
	require.NotEmpty(t, history)
	assert.Equal(t, CoordinatorID, history[0].Sender)
}
