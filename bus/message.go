package bus

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of message traveling over the bus.
// The type determines which handler hook processes the message and
// which payload variant it carries.
type Type string

const (
	TypeUserQuery     Type = "user_query"
	TypeAgentRequest  Type = "agent_request"
	TypeAgentResponse Type = "agent_response"
	TypeToolRequest   Type = "tool_request"
	TypeToolResult    Type = "tool_result"
	TypeCoordination  Type = "coordination"
	TypeError         Type = "error"
	TypeStatus        Type = "status"
)

// Priority is a routing hint carried by a message. The bus currently
// delivers FIFO per queue regardless of priority; the field is retained
// for observability and future scheduling.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// DeliveryStatus tracks a message through its single delivery attempt.
// A message that reaches Completed, Failed or Cancelled is never reused
// for further delivery.
type DeliveryStatus string

const (
	StatusPending    DeliveryStatus = "pending"
	StatusProcessing DeliveryStatus = "processing"
	StatusCompleted  DeliveryStatus = "completed"
	StatusFailed     DeliveryStatus = "failed"
	StatusCancelled  DeliveryStatus = "cancelled"
)

// Payload is the typed content carried by a message. Each message type
// has exactly one payload variant, replacing an open key/value map with
// a statically checkable union.
type Payload interface {
	payload()
}

// UserQueryPayload accompanies TypeUserQuery messages.
type UserQueryPayload struct {
	UserID  string
	Query   string
	Context map[string]string
}

// AgentRequestPayload accompanies TypeAgentRequest messages.
type AgentRequestPayload struct {
	Capability    string
	Task          string
	RequiredTools []string
	OutputFormat  string
}

// AgentResponsePayload accompanies TypeAgentResponse messages.
type AgentResponsePayload struct {
	Result        string
	Confidence    float64
	ToolsUsed     []string
	ExecutionTime time.Duration
}

// ToolRequestPayload accompanies TypeToolRequest messages.
type ToolRequestPayload struct {
	Tool       string
	Parameters map[string]any
	Timeout    time.Duration
}

// ToolResultPayload accompanies TypeToolResult messages.
type ToolResultPayload struct {
	Tool          string
	Result        any
	Success       bool
	Error         string
	ExecutionTime time.Duration
}

// CoordinationPayload accompanies TypeCoordination messages.
type CoordinationPayload struct {
	Kind       string
	Action     string
	Parameters map[string]any
}

// ErrorPayload accompanies TypeError messages.
type ErrorPayload struct {
	Kind    string
	Details string
}

// StatusPayload accompanies TypeStatus messages.
type StatusPayload struct {
	Fields map[string]any
}

func (UserQueryPayload) payload()     {}
func (AgentRequestPayload) payload()  {}
func (AgentResponsePayload) payload() {}
func (ToolRequestPayload) payload()   {}
func (ToolResultPayload) payload()    {}
func (CoordinationPayload) payload()  {}
func (ErrorPayload) payload()         {}
func (StatusPayload) payload()        {}

// Message is one unit of communication between agents. Messages are
// treated as immutable once handed to the bus; the bus delivers a clone
// to each recipient, so receivers never observe sender-side mutation.
type Message struct {
	// ID is a unique identifier, automatically generated.
	ID string

	// Type identifies the message kind and its payload variant.
	Type Type

	// Sender is the agent id (or user id) that produced the message.
	Sender string

	// Recipient is the target handler id. Empty means the bus decides:
	// Send falls back to Broadcast.
	Recipient string

	// Content is a human-readable summary of the payload, used for
	// logging and as the synthesized text on responses.
	Content string

	// Payload carries the typed, per-Type body. May be nil for bare
	// status or coordination pings.
	Payload Payload

	Priority Priority
	Status   DeliveryStatus

	// Timestamp records creation time.
	Timestamp time.Time

	// ParentID links a reply to the message that caused it.
	ParentID string

	// ConversationID groups a multi-turn exchange across agents.
	ConversationID string
}

func newMessage(t Type, sender, recipient string) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      t,
		Sender:    sender,
		Recipient: recipient,
		Priority:  PriorityNormal,
		Status:    StatusPending,
		Timestamp: time.Now(),
	}
}

// NewUserQuery creates a user query message addressed to recipient.
func NewUserQuery(userID, recipient, query string, qctx map[string]string) *Message {
	m := newMessage(TypeUserQuery, userID, recipient)
	m.Content = query
	m.Payload = UserQueryPayload{UserID: userID, Query: query, Context: qctx}
	return m
}

// NewAgentRequest creates a request for assistance from another agent.
func NewAgentRequest(sender, recipient, capability, task string, requiredTools []string) *Message {
	m := newMessage(TypeAgentRequest, sender, recipient)
	m.Content = task
	m.Payload = AgentRequestPayload{
		Capability:    capability,
		Task:          task,
		RequiredTools: requiredTools,
	}
	return m
}

// NewAgentResponse creates a response carrying an agent's result.
func NewAgentResponse(sender, recipient, result string, confidence float64, toolsUsed []string, execTime time.Duration) *Message {
	m := newMessage(TypeAgentResponse, sender, recipient)
	m.Content = result
	m.Payload = AgentResponsePayload{
		Result:        result,
		Confidence:    confidence,
		ToolsUsed:     toolsUsed,
		ExecutionTime: execTime,
	}
	return m
}

// NewToolRequest creates a request to execute a named tool.
func NewToolRequest(sender, recipient, tool string, params map[string]any, timeout time.Duration) *Message {
	m := newMessage(TypeToolRequest, sender, recipient)
	m.Content = fmt.Sprintf("Execute tool: %s", tool)
	m.Payload = ToolRequestPayload{Tool: tool, Parameters: params, Timeout: timeout}
	return m
}

// NewToolResult creates a message carrying a tool execution outcome.
// errMsg is empty on success.
func NewToolResult(sender, recipient, tool string, result any, errMsg string, execTime time.Duration) *Message {
	m := newMessage(TypeToolResult, sender, recipient)
	success := errMsg == ""
	if success {
		m.Content = fmt.Sprint(result)
	} else {
		m.Content = fmt.Sprintf("Error: %s", errMsg)
	}
	m.Payload = ToolResultPayload{
		Tool:          tool,
		Result:        result,
		Success:       success,
		Error:         errMsg,
		ExecutionTime: execTime,
	}
	return m
}

// NewCoordination creates a coordination message between agents.
func NewCoordination(sender, recipient, kind, action string, params map[string]any) *Message {
	m := newMessage(TypeCoordination, sender, recipient)
	m.Content = fmt.Sprintf("%s: %s", kind, action)
	m.Payload = CoordinationPayload{Kind: kind, Action: action, Parameters: params}
	return m
}

// NewError creates an error report addressed back to a sender.
func NewError(sender, recipient, kind, details string) *Message {
	m := newMessage(TypeError, sender, recipient)
	m.Content = fmt.Sprintf("%s: %s", kind, details)
	m.Payload = ErrorPayload{Kind: kind, Details: details}
	return m
}

// NewStatus creates a status snapshot message.
func NewStatus(sender, recipient string, fields map[string]any) *Message {
	m := newMessage(TypeStatus, sender, recipient)
	m.Content = "status"
	m.Payload = StatusPayload{Fields: fields}
	return m
}

// Reply stamps m as a reply to parent: same conversation, ParentID set,
// recipient defaulted to the parent's sender. Returns m for chaining.
func (m *Message) Reply(parent *Message) *Message {
	m.ParentID = parent.ID
	m.ConversationID = parent.ConversationID
	if m.Recipient == "" {
		m.Recipient = parent.Sender
	}
	return m
}

// UserQuery returns the payload for TypeUserQuery messages.
func (m *Message) UserQuery() (UserQueryPayload, bool) {
	p, ok := m.Payload.(UserQueryPayload)
	return p, ok
}

// AgentRequest returns the payload for TypeAgentRequest messages.
func (m *Message) AgentRequest() (AgentRequestPayload, bool) {
	p, ok := m.Payload.(AgentRequestPayload)
	return p, ok
}

// AgentResponse returns the payload for TypeAgentResponse messages.
func (m *Message) AgentResponse() (AgentResponsePayload, bool) {
	p, ok := m.Payload.(AgentResponsePayload)
	return p, ok
}

// ToolRequest returns the payload for TypeToolRequest messages.
func (m *Message) ToolRequest() (ToolRequestPayload, bool) {
	p, ok := m.Payload.(ToolRequestPayload)
	return p, ok
}

// ToolResult returns the payload for TypeToolResult messages.
func (m *Message) ToolResult() (ToolResultPayload, bool) {
	p, ok := m.Payload.(ToolResultPayload)
	return p, ok
}

// Error returns the payload for TypeError messages.
func (m *Message) Error() (ErrorPayload, bool) {
	p, ok := m.Payload.(ErrorPayload)
	return p, ok
}

// Clone creates a copy of the message. Payload variants are value types,
// so the copy shares no mutable state with the original beyond map
// contents inside payloads, which receivers must not mutate.
func (m *Message) Clone() *Message {
	clone := *m
	return &clone
}

// String returns a short representation for logging.
func (m *Message) String() string {
	return fmt.Sprintf("Message{ID:%s, Type:%s, From:%s, To:%s}", m.ID, m.Type, m.Sender, m.Recipient)
}
