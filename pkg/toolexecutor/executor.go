package toolexecutor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/tether/internal/observability"
	"github.com/harun/tether/internal/tracing"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultMaxOutput = 10 * 1024
)

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	Handler     ToolHandler     `json:"-"`
}

// ToolHandler is the function signature for tool execution
type ToolHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// ExecutionContext provides runtime information for tool execution
type ExecutionContext struct {
	ThreadID   string
	WorkingDir string
	Timeout    time.Duration
	ToolPolicy *ToolPolicy
}

// ToolResult represents the result of a tool execution
type ToolResult struct {
	Success   bool                   `json:"success"`
	Output    interface{}            `json:"output,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Truncated bool                   `json:"truncated,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Content renders the result as the text a model reads back.
func (r ToolResult) Content() string {
	if !r.Success {
		return "Error: " + r.Error
	}
	switch out := r.Output.(type) {
	case nil:
		return ""
	case string:
		return out
	case []byte:
		return string(out)
	default:
		data, err := json.Marshal(out)
		if err != nil {
			return fmt.Sprintf("%v", out)
		}
		return string(data)
	}
}

// ToolExecutor manages and executes tools
type ToolExecutor struct {
	tools     map[string]*ToolDefinition
	schemas   map[string]*gojsonschema.Schema
	maxOutput int
	mu        sync.RWMutex
}

// New creates a new ToolExecutor
func New() *ToolExecutor {
	observability.EnsureRegistered()
	return &ToolExecutor{
		tools:     make(map[string]*ToolDefinition),
		schemas:   make(map[string]*gojsonschema.Schema),
		maxOutput: DefaultMaxOutput,
	}
}

// SetMaxOutput sets the truncation limit in bytes. Non-positive values disable truncation.
func (te *ToolExecutor) SetMaxOutput(n int) {
	te.mu.Lock()
	defer te.mu.Unlock()
	te.maxOutput = n
}

// RegisterTool registers a new tool
func (te *ToolExecutor) RegisterTool(def ToolDefinition) error {
	if err := te.validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := te.generateJSONSchema(def)
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	te.mu.Lock()
	defer te.mu.Unlock()

	if _, exists := te.tools[def.Name]; exists {
		return fmt.Errorf("tool %q already registered", def.Name)
	}
	te.tools[def.Name] = &def
	te.schemas[def.Name] = schema

	log.Debug().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// UnregisterTool removes a tool
func (te *ToolExecutor) UnregisterTool(name string) {
	te.mu.Lock()
	defer te.mu.Unlock()

	delete(te.tools, name)
	delete(te.schemas, name)
}

// GetTool returns a tool definition by name
func (te *ToolExecutor) GetTool(name string) *ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()
	return te.tools[name]
}

// ListTools returns all registered tool names, sorted
func (te *ToolExecutor) ListTools() []string {
	te.mu.RLock()
	defer te.mu.RUnlock()

	tools := make([]string, 0, len(te.tools))
	for name := range te.tools {
		tools = append(tools, name)
	}
	sort.Strings(tools)
	return tools
}

// Definitions returns the registered definitions sorted by name.
func (te *ToolExecutor) Definitions() []ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(te.tools))
	for _, def := range te.tools {
		defs = append(defs, *def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// GetToolCount returns the number of registered tools
func (te *ToolExecutor) GetToolCount() int {
	te.mu.RLock()
	defer te.mu.RUnlock()
	return len(te.tools)
}

// Execute executes a tool with the given parameters
func (te *ToolExecutor) Execute(ctx context.Context, toolName string, params map[string]interface{}, execCtx *ExecutionContext) ToolResult {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(ctx, "tether.toolexecutor", "tool.execute",
		attribute.String("tool", toolName),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("tool", toolName).Logger()

	startTime := time.Now()
	result := te.execute(ctx, toolName, params, execCtx)
	duration := time.Since(startTime)

	if result.Metadata == nil {
		result.Metadata = map[string]interface{}{}
	}
	result.Metadata["duration"] = duration.Milliseconds()

	observability.RecordToolExecution(toolName, duration, result.Success)
	status := "success"
	if !result.Success {
		status = "error"
		span.SetAttributes(attribute.String("error", result.Error))
		logger.Warn().Dur("duration", duration).Str("error", result.Error).Msg("Tool execution failed")
	} else {
		logger.Debug().Dur("duration", duration).Bool("truncated", result.Truncated).Msg("Tool execution completed")
	}
	observability.RecordToolAudit(ctx, toolName, "engine", status, map[string]interface{}{
		"duration_ms": duration.Milliseconds(),
	})

	return result
}

func (te *ToolExecutor) execute(ctx context.Context, toolName string, params map[string]interface{}, execCtx *ExecutionContext) ToolResult {
	if execCtx != nil && !execCtx.ToolPolicy.IsToolAllowed(toolName) {
		return ToolResult{
			Success:  false,
			Error:    fmt.Sprintf("tool '%s' is not allowed by policy", toolName),
			Metadata: map[string]interface{}{"policy_violation": true},
		}
	}

	te.mu.RLock()
	tool := te.tools[toolName]
	schema := te.schemas[toolName]
	maxOutput := te.maxOutput
	te.mu.RUnlock()

	if tool == nil {
		return ToolResult{
			Success: false,
			Error:   fmt.Sprintf("tool not found: %s", toolName),
		}
	}

	if params == nil {
		params = map[string]interface{}{}
	}
	if err := te.validateParameters(schema, params); err != nil {
		return ToolResult{
			Success: false,
			Error:   fmt.Sprintf("parameter validation failed: %v", err),
		}
	}

	timeout := DefaultTimeout
	if execCtx != nil && execCtx.Timeout > 0 {
		timeout = execCtx.Timeout
	}

	timeoutCtx, cancel := context.WithTimeout(withExecution(ctx, execCtx), timeout)
	defer cancel()

	type outcome struct {
		value interface{}
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		value, err := tool.Handler(timeoutCtx, params)
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return ToolResult{Success: false, Error: out.err.Error()}
		}
		output, truncated := truncateOutput(out.value, maxOutput)
		return ToolResult{Success: true, Output: output, Truncated: truncated}

	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return ToolResult{Success: false, Error: fmt.Sprintf("tool execution cancelled: %v", ctx.Err())}
		}
		return ToolResult{Success: false, Error: fmt.Sprintf("tool execution timeout after %v", timeout)}
	}
}

// validateToolDefinition validates a tool definition
func (te *ToolExecutor) validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Type == "" {
			return fmt.Errorf("parameter type cannot be empty for %s", param.Name)
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
	}

	return nil
}

// InputSchema returns the JSON Schema object for a definition's parameters.
func InputSchema(def ToolDefinition) map[string]interface{} {
	properties := make(map[string]interface{}, len(def.Parameters))
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schemaMap := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}
	return schemaMap
}

func (te *ToolExecutor) generateJSONSchema(def ToolDefinition) (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(InputSchema(def)))
}

func (te *ToolExecutor) validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}

	if !result.Valid() {
		errs := []string{}
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("validation errors: %v", errs)
	}
	return nil
}

func truncateOutput(output interface{}, maxSize int) (interface{}, bool) {
	if maxSize <= 0 {
		return output, false
	}

	var str string
	switch v := output.(type) {
	case string:
		str = v
	case nil:
		return output, false
	default:
		data, err := json.Marshal(v)
		if err != nil {
			str = fmt.Sprintf("%v", v)
		} else {
			str = string(data)
		}
	}

	if len(str) <= maxSize {
		return output, false
	}

	log.Warn().Int("original", len(str)).Int("truncated", maxSize).Msg("Output truncated")
	return str[:maxSize] + "\n... [output truncated]", true
}
