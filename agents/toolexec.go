package agents

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/agentbus-dev/agentbus/agent"
	"github.com/agentbus-dev/agentbus/bus"
	"github.com/agentbus-dev/agentbus/observability"
	"github.com/agentbus-dev/agentbus/tool"
)

// ToolExecConfig tunes tool execution.
type ToolExecConfig struct {
	// DefaultTimeout bounds a tool call when the request carries none.
	DefaultTimeout time.Duration
	// RefreshInterval spaces the periodic rescan of the tool provider.
	RefreshInterval time.Duration
	// ExecutionLogSize bounds the in-memory execution log.
	ExecutionLogSize int
}

// DefaultToolExecConfig returns the production defaults.
func DefaultToolExecConfig() ToolExecConfig {
	return ToolExecConfig{
		DefaultTimeout:   30 * time.Second,
		RefreshInterval:  60 * time.Second,
		ExecutionLogSize: 1000,
	}
}

func (c *ToolExecConfig) applyDefaults() {
	def := DefaultToolExecConfig()
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = def.DefaultTimeout
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = def.RefreshInterval
	}
	if c.ExecutionLogSize <= 0 {
		c.ExecutionLogSize = def.ExecutionLogSize
	}
}

// ToolStats aggregates execution outcomes for one tool name. Every
// attempt counts, including calls to tools that turn out not to exist.
type ToolStats struct {
	Total         int64
	Successful    int64
	Failed        int64
	TotalTime     time.Duration
	AverageTime   time.Duration
	LastExecution time.Time
}

// ExecutionRecord is one entry in the bounded execution log. Failed
// records carry the error kind (ToolNotFound, ToolTimeout,
// ToolExecutionError) alongside the error text.
type ExecutionRecord struct {
	ID         string
	Tool       string
	Parameters map[string]any
	Steps      []string
	Result     any
	Success    bool
	Error      string
	ErrorKind  string
	StartedAt  time.Time
	Duration   time.Duration
}

// ToolExecutor runs registered tools on behalf of other agents. It
// serves direct TOOL_REQUEST messages and task-level AGENT_REQUEST
// messages, inferring tools and parameters from the task text when the
// request does not name them.
type ToolExecutor struct {
	*agent.BaseAgent

	cfg      ToolExecConfig
	provider tool.Provider
	sched    *cron.Cron

	mu        sync.Mutex
	available map[string]tool.Descriptor
	stats     map[string]*ToolStats
	records   []ExecutionRecord
}

// NewToolExecutor creates a tool executor bound to b, serving the tools
// exposed by provider.
func NewToolExecutor(id string, b *bus.Bus, provider tool.Provider, cfg ToolExecConfig) *ToolExecutor {
	cfg.applyDefaults()

	e := &ToolExecutor{
		BaseAgent: agent.New(id, "ToolExecutor", agent.RoleToolExecutor,
			[]agent.Capability{
				agent.CapabilityToolCalling,
				agent.CapabilityCodeExecution,
				agent.CapabilityMath,
				agent.CapabilitySearch,
				agent.CapabilityWeather,
			}, b),
		cfg:       cfg,
		provider:  provider,
		available: make(map[string]tool.Descriptor),
		stats:     make(map[string]*ToolStats),
	}

	e.SetHooks(agent.Hooks{
		InitComponents: e.initComponents,
		StartProcesses: e.startProcesses,
		StopProcesses:  e.stopProcesses,
		ToolRequest:    e.handleToolRequest,
		AgentRequest:   e.handleAgentRequest,
	})
	return e
}

func (e *ToolExecutor) initComponents(context.Context) error {
	e.refreshTools()
	return nil
}

func (e *ToolExecutor) startProcesses(context.Context) error {
	e.sched = cron.New()
	if _, err := e.sched.AddFunc(every(e.cfg.RefreshInterval), e.refreshTools); err != nil {
		return fmt.Errorf("schedule tool refresh: %w", err)
	}
	e.sched.Start()
	return nil
}

func (e *ToolExecutor) stopProcesses(context.Context) error {
	if e.sched != nil {
		<-e.sched.Stop().Done()
	}
	return nil
}

// refreshTools reconciles the cached tool set with the provider.
func (e *ToolExecutor) refreshTools() {
	current := e.provider.List()

	e.mu.Lock()
	defer e.mu.Unlock()
	for name := range e.available {
		if _, still := current[name]; !still {
			log.Printf("tool executor: tool %s removed", name)
			delete(e.available, name)
		}
	}
	for name, desc := range current {
		if _, known := e.available[name]; !known {
			log.Printf("tool executor: tool %s available", name)
		}
		e.available[name] = desc
	}
}

// handleToolRequest executes one named tool and replies with its result.
func (e *ToolExecutor) handleToolRequest(ctx context.Context, msg *bus.Message) (*bus.Message, error) {
	p, ok := msg.ToolRequest()
	if !ok {
		return bus.NewError(e.ID(), msg.Sender, agent.ErrKindToolExecution,
			"tool request carries no request payload").Reply(msg), nil
	}

	rec := e.executeTool(ctx, p.Tool, p.Parameters, p.Timeout)
	return bus.NewToolResult(e.ID(), msg.Sender, p.Tool, rec.Result, rec.Error, rec.Duration).Reply(msg), nil
}

// handleAgentRequest serves a task-level delegation: pick tools, infer
// parameters from the task text, execute and reply with a synthesized
// summary. A task needing no tools still gets a definitive answer.
func (e *ToolExecutor) handleAgentRequest(ctx context.Context, msg *bus.Message) (*bus.Message, error) {
	start := time.Now()
	span := observability.StartSpan("toolexec.agent_request", map[string]any{
		"message.id": msg.ID,
		"sender":     msg.Sender,
	})
	defer span.End()

	task := msg.Content
	var required []string
	if p, ok := msg.AgentRequest(); ok {
		task = p.Task
		required = p.RequiredTools
	}

	tools := e.selectTools(task, required)
	if len(tools) == 0 {
		return bus.NewAgentResponse(e.ID(), msg.Sender,
			"No tools required for this task", 0.9, nil, time.Since(start)).Reply(msg), nil
	}

	var (
		records  []ExecutionRecord
		execTime time.Duration
	)
	for _, name := range tools {
		rec := e.executeTool(ctx, name, e.extractParameters(name, task), 0)
		records = append(records, rec)
		if rec.Success {
			execTime += rec.Duration
		}
	}

	return bus.NewAgentResponse(e.ID(), msg.Sender,
		synthesizeResults(records), 0.9, tools, execTime).Reply(msg), nil
}

// selectTools resolves the tools to run. Explicitly required names are
// honored when available; otherwise tools are inferred from task
// keywords against the cached tool names.
func (e *ToolExecutor) selectTools(task string, required []string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(required) > 0 {
		var out []string
		for _, name := range required {
			if _, ok := e.available[name]; ok {
				out = append(out, name)
			} else {
				log.Printf("tool executor: required tool %s not available", name)
			}
		}
		return out
	}

	keywordHints := []struct {
		keywords []string
		nameHint []string
	}{
		{[]string{"calculate", "math", "+", "-", "*", "/"}, []string{"math", "calc"}},
		{[]string{"code", "program", "script", "execute"}, []string{"code", "exec"}},
		{[]string{"search", "find", "lookup"}, []string{"search"}},
		{[]string{"weather", "temperature", "forecast"}, []string{"weather"}},
	}

	lower := strings.ToLower(task)
	selected := make(map[string]struct{})
	for _, hint := range keywordHints {
		matched := false
		for _, kw := range hint.keywords {
			if strings.Contains(lower, kw) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		for name := range e.available {
			for _, sub := range hint.nameHint {
				if strings.Contains(name, sub) {
					selected[name] = struct{}{}
				}
			}
		}
	}

	out := make([]string, 0, len(selected))
	for name := range selected {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

var (
	numberPattern   = regexp.MustCompile(`\d+(?:\.\d+)?`)
	searchLeadWords = []string{"search for", "find", "lookup", "search"}
)

// extractParameters derives tool parameters from free-form task text.
// Best effort: tools validate their own inputs.
func (e *ToolExecutor) extractParameters(toolName, task string) map[string]any {
	params := make(map[string]any)
	lower := strings.ToLower(task)

	switch {
	case strings.Contains(toolName, "math") || strings.Contains(toolName, "calc"):
		numbers := numberPattern.FindAllString(task, -1)
		if len(numbers) >= 1 {
			if a, err := strconv.ParseFloat(numbers[0], 64); err == nil {
				params["a"] = a
			}
		}
		if len(numbers) >= 2 {
			if b, err := strconv.ParseFloat(numbers[1], 64); err == nil {
				params["b"] = b
			}
		}
		switch {
		case strings.Contains(lower, "+") || strings.Contains(lower, "add") || strings.Contains(lower, "plus"):
			params["operation"] = "add"
		case strings.Contains(lower, "-") || strings.Contains(lower, "subtract") || strings.Contains(lower, "minus"):
			params["operation"] = "subtract"
		case strings.Contains(lower, "/") || strings.Contains(lower, "divide"):
			params["operation"] = "divide"
		default:
			params["operation"] = "multiply"
		}

	case strings.Contains(toolName, "search"):
		query := task
		for _, lead := range searchLeadWords {
			if idx := strings.Index(lower, lead); idx >= 0 {
				query = strings.TrimSpace(task[idx+len(lead):])
				break
			}
		}
		params["query"] = query

	case strings.Contains(toolName, "weather"):
		location := "current"
		if idx := strings.Index(lower, " in "); idx >= 0 {
			location = strings.TrimRight(strings.TrimSpace(task[idx+4:]), "?.!")
		}
		params["location"] = location
	}

	return params
}

// executeTool runs one tool under a timeout, recording the outcome in
// the stats table and the execution log. Stats are updated on every
// attempt, so failure ratios stay honest even for misnamed tools.
func (e *ToolExecutor) executeTool(ctx context.Context, name string, params map[string]any, timeout time.Duration) ExecutionRecord {
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}

	rec := ExecutionRecord{
		ID:         uuid.New().String(),
		Tool:       name,
		Parameters: params,
		StartedAt:  time.Now(),
	}
	rec.Steps = append(rec.Steps, fmt.Sprintf("resolving %s", name))

	fn, ok := e.provider.Resolve(name)
	if !ok {
		rec.Error = fmt.Sprintf("%s: %v", name, agent.ErrToolNotFound)
		rec.ErrorKind = agent.ErrKindToolNotFound
		rec.Steps = append(rec.Steps, "tool not found")
		e.finishExecution(&rec)
		return rec
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool %s panicked: %v", name, r)}
			}
		}()
		value, err := fn(execCtx, params)
		done <- outcome{value: value, err: err}
	}()

	rec.Steps = append(rec.Steps, "executing")
	select {
	case out := <-done:
		rec.Duration = time.Since(rec.StartedAt)
		if out.err != nil {
			rec.Error = out.err.Error()
			rec.ErrorKind = agent.ErrKindToolExecution
			rec.Steps = append(rec.Steps, "failed")
		} else {
			rec.Result = out.value
			rec.Success = true
			rec.Steps = append(rec.Steps, "completed")
		}
	case <-execCtx.Done():
		rec.Duration = time.Since(rec.StartedAt)
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			rec.Error = fmt.Sprintf("%s after %s: %v", name, timeout, agent.ErrToolTimeout)
			rec.ErrorKind = agent.ErrKindToolTimeout
			rec.Steps = append(rec.Steps, "timed out")
		} else {
			// Parent context canceled, usually shutdown. Not a timeout.
			rec.Error = fmt.Sprintf("%s: %v", name, execCtx.Err())
			rec.ErrorKind = agent.ErrKindToolExecution
			rec.Steps = append(rec.Steps, "canceled")
		}
	}

	e.finishExecution(&rec)
	return rec
}

// finishExecution folds one outcome into the stats table and the
// bounded execution log.
func (e *ToolExecutor) finishExecution(rec *ExecutionRecord) {
	status := "success"
	if !rec.Success {
		status = "failure"
		log.Printf("tool executor: %s failed: %s", rec.Tool, rec.Error)
	}
	observability.RecordToolExecution(rec.Tool, status, rec.Duration)

	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.stats[rec.Tool]
	if !ok {
		s = &ToolStats{}
		e.stats[rec.Tool] = s
	}
	s.Total++
	if rec.Success {
		s.Successful++
	} else {
		s.Failed++
	}
	s.TotalTime += rec.Duration
	s.AverageTime = s.TotalTime / time.Duration(s.Total)
	s.LastExecution = time.Now()

	e.records = append(e.records, *rec)
	if len(e.records) > e.cfg.ExecutionLogSize {
		e.records = e.records[len(e.records)-e.cfg.ExecutionLogSize:]
	}
}

// synthesizeResults renders a set of execution outcomes as a single
// response text.
func synthesizeResults(records []ExecutionRecord) string {
	var successes, failures []string
	for _, rec := range records {
		if rec.Success {
			successes = append(successes, fmt.Sprintf("%s: %v", rec.Tool, rec.Result))
		} else {
			failures = append(failures, fmt.Sprintf("%s: %s", rec.Tool, rec.Error))
		}
	}

	var b strings.Builder
	if len(successes) > 0 {
		b.WriteString("Tool results:\n")
		for _, line := range successes {
			fmt.Fprintf(&b, "- %s\n", line)
		}
	}
	if len(failures) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Failed tools:\n")
		for _, line := range failures {
			fmt.Fprintf(&b, "- %s\n", line)
		}
	}
	if b.Len() == 0 {
		return "No tool results"
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// AvailableTools returns the cached tool descriptors.
func (e *ToolExecutor) AvailableTools() map[string]tool.Descriptor {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]tool.Descriptor, len(e.available))
	for name, desc := range e.available {
		out[name] = desc
	}
	return out
}

// Stats returns a copy of the per-tool statistics.
func (e *ToolExecutor) Stats() map[string]ToolStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]ToolStats, len(e.stats))
	for name, s := range e.stats {
		out[name] = *s
	}
	return out
}

// ExecutionLog returns up to limit most recent execution records,
// oldest first. limit <= 0 returns the full log.
func (e *ToolExecutor) ExecutionLog(limit int) []ExecutionRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	records := e.records
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	out := make([]ExecutionRecord, len(records))
	copy(out, records)
	return out
}
