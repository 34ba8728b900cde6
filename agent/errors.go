package agent

import (
	"errors"
	"fmt"
)

// Sentinel errors for registry and task operations.
var (
	ErrDuplicateAgent = errors.New("agent id already registered")
	ErrAgentNotFound  = errors.New("agent not found")
	ErrTaskNotFound   = errors.New("task not found")
	ErrTaskTimeout    = errors.New("task timed out")
	ErrNoAgents       = errors.New("no agents available with required capabilities")
	ErrToolNotFound   = errors.New("tool not available")
	ErrToolTimeout    = errors.New("tool execution timed out")
)

// Error kinds carried in ERROR message payloads. Every processing
// boundary converts internal faults to one of these instead of letting
// them propagate to the caller's caller.
const (
	ErrKindNoAgents          = "NoAgentsAvailable"
	ErrKindMessageDelivery   = "MessageDeliveryError"
	ErrKindToolNotFound      = "ToolNotFound"
	ErrKindToolTimeout       = "ToolTimeout"
	ErrKindToolExecution     = "ToolExecutionError"
	ErrKindAgentRequest      = "AgentRequestError"
	ErrKindQueryProcessing   = "QueryProcessingError"
	ErrKindMessageProcessing = "MessageProcessingError"
)

// NotImplementedError describes a message type an agent declares no
// hook for. Dispatch logs it and drops the message.
type NotImplementedError struct {
	AgentName string
	Hook      string
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("agent %s does not implement %s", e.AgentName, e.Hook)
}
