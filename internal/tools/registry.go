// Package tools holds the tool registry and the policy engine that decides,
// per call, whether a tool runs, asks for approval, or is denied.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/hayahq/haya/internal/agent"
	"github.com/hayahq/haya/pkg/models"
)

// Policy is a per-tool execution decision.
type Policy string

const (
	PolicyAllow   Policy = "allow"
	PolicyConfirm Policy = "confirm"
	PolicyDeny    Policy = "deny"
)

// MaxResponseLength caps tool result strings fed back to the model.
const MaxResponseLength = 16000

// DeniedMessage is the tool-result content for a policy denial.
const DeniedMessage = "Tool call denied by policy"

const (
	// DefaultExecTimeout bounds one tool execution.
	DefaultExecTimeout = 60 * time.Second
	// DefaultApprovalTimeout bounds one confirm-mode approval wait. A
	// timeout counts as a denial.
	DefaultApprovalTimeout = 120 * time.Second
)

// Tool is one callable function advertised to the model.
type Tool interface {
	Name() string
	Description() string
	// Schema is the JSON-schema parameters object.
	Schema() json.RawMessage
	Execute(ctx context.Context, args Args) (string, error)
}

// PolicyDefaulter lets a tool declare its own default policy. Tools without
// it default to allow.
type PolicyDefaulter interface {
	DefaultPolicy() Policy
}

// Approver is the process-wide approval callback for confirm-mode tools.
// It receives the tool name and the raw argument string and reports whether
// the call may proceed.
type Approver func(ctx context.Context, tool, args string) bool

type entry struct {
	tool          Tool
	defaultPolicy Policy
	schema        *jsonschema.Schema // nil when the tool's schema fails to compile
}

// Registry maps tool names to tools and resolves policy per call. It is
// populated at startup and read-only afterward, except for the approver,
// which the gateway may swap when a client attaches.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	overrides map[string]Policy

	approverMu      sync.RWMutex
	approver        Approver
	approvalTimeout time.Duration

	execTimeout time.Duration
	logger      *slog.Logger
}

// NewRegistry builds an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries:         make(map[string]*entry),
		overrides:       make(map[string]Policy),
		approvalTimeout: DefaultApprovalTimeout,
		execTimeout:     DefaultExecTimeout,
		logger:          logger.With("component", "tools"),
	}
}

// Register adds a tool. Names must be unique and stable.
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("tool has empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	e := &entry{tool: tool, defaultPolicy: PolicyAllow}
	if d, ok := tool.(PolicyDefaulter); ok {
		e.defaultPolicy = d.DefaultPolicy()
	}
	e.schema = r.compileSchema(name, tool.Schema())
	r.entries[name] = e
	return nil
}

// compileSchema prepares argument validation. A schema that fails to
// compile disables validation for that tool rather than rejecting it.
func (r *Registry) compileSchema(name string, raw json.RawMessage) *jsonschema.Schema {
	if len(raw) == 0 {
		return nil
	}
	compiler := jsonschema.NewCompiler()
	url := "haya://tools/" + name + ".schema.json"
	if err := compiler.AddResource(url, strings.NewReader(string(raw))); err != nil {
		r.logger.Warn("tool schema rejected", "tool", name, "error", err)
		return nil
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		r.logger.Warn("tool schema failed to compile", "tool", name, "error", err)
		return nil
	}
	return schema
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// List returns registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetPolicy overrides the policy for one tool name. "*" applies to every
// tool without a more specific override.
func (r *Registry) SetPolicy(tool string, policy Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[tool] = policy
}

// SetApprover installs the confirm-mode callback. A nil approver means
// confirm-mode calls are denied.
func (r *Registry) SetApprover(a Approver) {
	r.approverMu.Lock()
	defer r.approverMu.Unlock()
	r.approver = a
}

// SetApprovalTimeout adjusts how long a confirm waits before denying.
func (r *Registry) SetApprovalTimeout(d time.Duration) {
	if d > 0 {
		r.approverMu.Lock()
		r.approvalTimeout = d
		r.approverMu.Unlock()
	}
}

// SetExecTimeout adjusts the per-execution ceiling.
func (r *Registry) SetExecTimeout(d time.Duration) {
	if d > 0 {
		r.execTimeout = d
	}
}

// EffectivePolicy resolves the policy for a tool: explicit override, then
// the "*" override, then the tool's default.
func (r *Registry) EffectivePolicy(name string) Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.overrides[name]; ok {
		return p
	}
	if p, ok := r.overrides["*"]; ok {
		return p
	}
	if e, ok := r.entries[name]; ok {
		return e.defaultPolicy
	}
	return PolicyAllow
}

// Specs lists the tools the model may see. Policy-denied tools are
// filtered out entirely so the model never attempts them.
func (r *Registry) Specs() []agent.ToolSpec {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	specs := make([]agent.ToolSpec, 0, len(names))
	for _, name := range names {
		if r.EffectivePolicy(name) == PolicyDeny {
			continue
		}
		tool, ok := r.Get(name)
		if !ok {
			continue
		}
		schema := tool.Schema()
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		specs = append(specs, agent.ToolSpec{
			Name:        name,
			Description: tool.Description(),
			Parameters:  schema,
		})
	}
	return specs
}

// Dispatch runs one tool call end to end: policy, approval, argument
// parsing, schema validation, execution, truncation. It always produces a
// result for the transcript; failures surface to the model as error
// results, never as Go errors.
func (r *Registry) Dispatch(ctx context.Context, sessionID string, call models.ToolCall) models.ToolResult {
	result := func(content string, isErr bool) models.ToolResult {
		return models.ToolResult{ToolCallID: call.ID, Content: capResult(content), IsError: isErr}
	}

	r.mu.RLock()
	e, ok := r.entries[call.Name]
	r.mu.RUnlock()
	if !ok {
		return result("Tool not found: "+call.Name, true)
	}

	switch r.EffectivePolicy(call.Name) {
	case PolicyDeny:
		r.logger.Info("tool denied by policy", "tool", call.Name, "session_id", sessionID)
		return result(DeniedMessage, true)
	case PolicyConfirm:
		if !r.approve(ctx, call) {
			r.logger.Info("tool approval refused", "tool", call.Name, "session_id", sessionID)
			return result(DeniedMessage, true)
		}
	}

	args, err := ParseArgs(call.Arguments)
	if err != nil {
		return result("Error: "+err.Error(), true)
	}
	if e.schema != nil {
		if err := e.schema.Validate(args.parsed); err != nil {
			return result(fmt.Sprintf("Error: arguments do not match the %s schema: %v", call.Name, err), true)
		}
	}

	content, err := r.execute(ctx, e.tool, args)
	if err != nil {
		return result("Error: "+err.Error(), true)
	}
	return result(content, false)
}

// approve consults the process-wide approver under the approval timeout.
func (r *Registry) approve(ctx context.Context, call models.ToolCall) bool {
	r.approverMu.RLock()
	approver := r.approver
	timeout := r.approvalTimeout
	r.approverMu.RUnlock()
	if approver == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan bool, 1)
	go func() { done <- approver(ctx, call.Name, call.Arguments) }()
	select {
	case approved := <-done:
		return approved
	case <-ctx.Done():
		return false
	}
}

// execute runs the tool under the execution ceiling, converting panics to
// error results.
func (r *Registry) execute(ctx context.Context, tool Tool, args Args) (content string, err error) {
	ctx, cancel := context.WithTimeout(ctx, r.execTimeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool %s panicked: %v", tool.Name(), rec)
		}
	}()

	type outcome struct {
		content string
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("tool %s panicked: %v", tool.Name(), rec)}
			}
		}()
		c, e := tool.Execute(ctx, args)
		done <- outcome{content: c, err: e}
	}()

	select {
	case out := <-done:
		return out.content, out.err
	case <-ctx.Done():
		return "", fmt.Errorf("tool %s timed out", tool.Name())
	}
}

// capResult truncates an oversized result, keeping the total length visible
// to the model.
func capResult(s string) string {
	if len(s) <= MaxResponseLength {
		return s
	}
	return s[:MaxResponseLength] + fmt.Sprintf("\n[Truncated — %d chars total]", len(s))
}

// PoliciesFromConfig applies configured tool→policy overrides.
func (r *Registry) PoliciesFromConfig(policies map[string]string) {
	for tool, policy := range policies {
		switch Policy(policy) {
		case PolicyAllow, PolicyConfirm, PolicyDeny:
			r.SetPolicy(tool, Policy(policy))
		default:
			r.logger.Warn("ignoring unknown tool policy", "tool", tool, "policy", policy)
		}
	}
}
