package toolexecutor

import (
	"fmt"
	"sort"
	"sync"

	"github.com/harun/tether/pkg/thread"
)

// Decision kinds a gate may allow for a request.
const (
	DecisionApprove = "approve"
	DecisionEdit    = "edit"
	DecisionReject  = "reject"
)

// AllDecisions is the default set of decisions allowed for a gated tool.
var AllDecisions = []string{DecisionApprove, DecisionEdit, DecisionReject}

// GateRule configures how calls to one tool are gated.
type GateRule struct {
	AllowedDecisions []string `json:"allowed_decisions,omitempty" mapstructure:"allowed_decisions"`
	Description      string   `json:"description,omitempty" mapstructure:"description"`
}

// Gate holds the set of tools whose calls require a human decision before running.
type Gate struct {
	mu    sync.RWMutex
	rules map[string]GateRule
}

// NewGate gates the named tools with all decisions allowed.
func NewGate(tools ...string) *Gate {
	g := &Gate{rules: make(map[string]GateRule)}
	for _, name := range tools {
		g.rules[name] = GateRule{}
	}
	return g
}

// Set replaces the gate's rules.
func (g *Gate) Set(rules map[string]GateRule) {
	next := make(map[string]GateRule, len(rules))
	for name, rule := range rules {
		next[name] = rule
	}
	g.mu.Lock()
	g.rules = next
	g.mu.Unlock()
}

// SetTools gates exactly the named tools with default rules.
func (g *Gate) SetTools(tools []string) {
	rules := make(map[string]GateRule, len(tools))
	for _, name := range tools {
		rules[name] = GateRule{}
	}
	g.Set(rules)
}

// Requires reports whether calls to the tool must be approved first.
func (g *Gate) Requires(toolName string) bool {
	if g == nil {
		return false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.rules[toolName]
	return ok
}

// Tools returns the gated tool names, sorted.
func (g *Gate) Tools() []string {
	if g == nil {
		return nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.rules))
	for name := range g.rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Request builds the action request for a gated call.
func (g *Gate) Request(call thread.ToolCall) thread.ActionRequest {
	rule := GateRule{}
	if g != nil {
		g.mu.RLock()
		rule = g.rules[call.Name]
		g.mu.RUnlock()
	}

	allowed := rule.AllowedDecisions
	if len(allowed) == 0 {
		allowed = AllDecisions
	}
	description := rule.Description
	if description == "" {
		description = fmt.Sprintf("Tool execution requires approval\n\nTool: %s", call.Name)
	}

	return thread.ActionRequest{
		ToolCallID:       call.ID,
		Name:             call.Name,
		Args:             call.Args,
		Description:      description,
		AllowedDecisions: append([]string(nil), allowed...),
	}
}

// Allows reports whether the decision kind is permitted for the request.
func Allows(req thread.ActionRequest, decision string) bool {
	if len(req.AllowedDecisions) == 0 {
		return true
	}
	for _, d := range req.AllowedDecisions {
		if d == decision {
			return true
		}
	}
	return false
}
