package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructorsSetTypeAndPayload(t *testing.T) {
	q := NewUserQuery("user-1", "coordinator", "what is 2+2", map[string]string{"lang": "en"})
	require.Equal(t, TypeUserQuery, q.Type)
	require.NotEmpty(t, q.ID)
	assert.Equal(t, StatusPending, q.Status)
	assert.Equal(t, PriorityNormal, q.Priority)
	assert.WithinDuration(t, time.Now(), q.Timestamp, time.Second)

	qp, ok := q.UserQuery()
	require.True(t, ok)
	assert.Equal(t, "user-1", qp.UserID)
	assert.Equal(t, "what is 2+2", qp.Query)

	req := NewAgentRequest("coordinator", "worker", "math", "calculate 2+2", []string{"math_calculator"})
	rp, ok := req.AgentRequest()
	require.True(t, ok)
	assert.Equal(t, "math", rp.Capability)
	assert.Equal(t, []string{"math_calculator"}, rp.RequiredTools)

	res := NewToolResult("executor", "coordinator", "math_calculator", 4, "", 10*time.Millisecond)
	tp, ok := res.ToolResult()
	require.True(t, ok)
	assert.True(t, tp.Success)
	assert.Equal(t, "4", res.Content)

	failed := NewToolResult("executor", "coordinator", "math_calculator", nil, "division by zero", 0)
	fp, ok := failed.ToolResult()
	require.True(t, ok)
	assert.False(t, fp.Success)
	assert.Contains(t, failed.Content, "division by zero")
}

func TestPayloadAccessorsRejectWrongVariant(t *testing.T) {
	q := NewUserQuery("user-1", "coordinator", "hi", nil)

	_, ok := q.AgentRequest()
	assert.False(t, ok)
	_, ok = q.ToolResult()
	assert.False(t, ok)
	_, ok = q.UserQuery()
	assert.True(t, ok)
}

func TestReplyLinksConversation(t *testing.T) {
	parent := NewUserQuery("user-1", "coordinator", "hi", nil)
	parent.ConversationID = "conv-42"

	reply := NewAgentResponse("coordinator", "", "hello", 0.9, nil, time.Millisecond).Reply(parent)
	assert.Equal(t, parent.ID, reply.ParentID)
	assert.Equal(t, "conv-42", reply.ConversationID)
	assert.Equal(t, "user-1", reply.Recipient)
}

func TestReplyKeepsExplicitRecipient(t *testing.T) {
	parent := NewUserQuery("user-1", "coordinator", "hi", nil)
	reply := NewError("coordinator", "auditor", "QueryProcessingError", "boom").Reply(parent)
	assert.Equal(t, "auditor", reply.Recipient)
}

func TestCloneIsIndependent(t *testing.T) {
	m := NewUserQuery("user-1", "coordinator", "hi", nil)
	c := m.Clone()

	c.Status = StatusCompleted
	c.Recipient = "elsewhere"

	assert.Equal(t, StatusPending, m.Status)
	assert.Equal(t, "coordinator", m.Recipient)
	assert.Equal(t, m.ID, c.ID)
}
