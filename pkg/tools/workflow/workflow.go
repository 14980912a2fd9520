// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package workflow executes named multi-step tool sequences. Steps run
// sequentially; a namespaced tool name sends the step to a federated
// backend, any other name to a local handler. A failing step aborts the
// remaining steps.
//
// The handler is itself dispatched by the local tool dispatcher, so the
// dispatcher is injected after construction through SetLocalCaller.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/klogins-hash/northflank-mcp-hub/pkg/config"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/logger"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/tools"
)

// Tool names owned by this handler.
const (
	ToolCreateWorkflow  = "create_workflow"
	ToolExecuteWorkflow = "execute_workflow"
	ToolGetWorkflow     = "get_workflow"
)

const (
	// defaultWorkflowTimeout is the maximum execution time for one run.
	defaultWorkflowTimeout = 5 * time.Minute

	// maxWorkflowSteps is the maximum number of steps allowed in a workflow.
	maxWorkflowSteps = 50
)

// Status describes the outcome of a workflow run or one of its steps.
type Status string

// Run and step outcomes.
const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Definition is a stored workflow.
type Definition struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Steps       []Step    `json:"steps"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Step is a single tool call within a workflow. Arguments are fixed at
// definition time and passed to the tool as-is.
type Step struct {
	ID        string         `json:"id"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Result is the outcome of one workflow run. When a step fails, Steps holds
// the results up to and including the failing step; later steps never ran.
type Result struct {
	WorkflowID string       `json:"workflowId"`
	RunID      string       `json:"runId"`
	Name       string       `json:"name"`
	Status     Status       `json:"status"`
	Steps      []StepResult `json:"steps"`
	Error      string       `json:"error,omitempty"`
	StartTime  time.Time    `json:"startTime"`
	Duration   string       `json:"duration"`
}

// StepResult is the outcome of one step.
type StepResult struct {
	StepID   string `json:"stepId"`
	Tool     string `json:"tool"`
	Status   Status `json:"status"`
	Output   any    `json:"output,omitempty"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

// LocalCaller dispatches local tool calls. Implemented by the tools
// dispatcher.
type LocalCaller interface {
	Call(ctx context.Context, name string, args map[string]any) (any, error)
	Has(name string) bool
}

// ToolRouter routes namespaced tool calls to federated backends.
// Implemented by the federation router.
type ToolRouter interface {
	CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error)
}

// Handler serves the workflow tools.
type Handler struct {
	rtr   ToolRouter
	now   func() time.Time
	newID func() string

	mu      sync.RWMutex
	local   LocalCaller
	defs    map[string]*Definition
	lastRun map[string]*Result
}

var _ tools.Handler = (*Handler)(nil)

// Option configures a Handler.
type Option func(*Handler)

// WithClock replaces the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

// WithIDGenerator replaces the run and workflow ID source. Used by tests.
func WithIDGenerator(newID func() string) Option {
	return func(h *Handler) {
		h.newID = newID
	}
}

// NewHandler creates the workflow handler and loads the configured seed
// workflows. Seed definitions are validated like created ones.
func NewHandler(rtr ToolRouter, seeds []config.WorkflowConfig, opts ...Option) (*Handler, error) {
	h := &Handler{
		rtr:     rtr,
		now:     time.Now,
		newID:   uuid.NewString,
		defs:    make(map[string]*Definition),
		lastRun: make(map[string]*Result),
	}
	for _, opt := range opts {
		opt(h)
	}

	for _, seed := range seeds {
		def := &Definition{
			ID:          h.newID(),
			Name:        seed.Name,
			Description: seed.Description,
			CreatedAt:   h.now(),
		}
		for _, step := range seed.Steps {
			def.Steps = append(def.Steps, Step{ID: step.ID, Tool: step.Tool, Arguments: step.Arguments})
		}
		if err := validateDefinition(def); err != nil {
			return nil, fmt.Errorf("workflow %q: %w", seed.Name, err)
		}
		if _, exists := h.defs[def.Name]; exists {
			return nil, fmt.Errorf("duplicate workflow name %q", def.Name)
		}
		h.defs[def.Name] = def
	}
	return h, nil
}

// SetLocalCaller injects the local tool dispatcher. Steps that target local
// tools fail until this is set.
func (h *Handler) SetLocalCaller(local LocalCaller) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.local = local
}

// Category implements tools.Handler.
func (*Handler) Category() tools.Category { return tools.CategoryWorkflow }

// Tools implements tools.Handler.
func (*Handler) Tools() []federation.ToolDef {
	return []federation.ToolDef{
		{
			Name:        ToolCreateWorkflow,
			Description: "Define a named sequence of tool calls",
			InputSchema: tools.ObjectSchema(map[string]tools.Property{
				"name":        {Type: "string", Description: "Workflow name, unique among workflows"},
				"description": {Type: "string", Description: "What the workflow does"},
				"steps":       {Type: "array", Description: "Steps as objects with id, tool and optional arguments"},
			}, "name", "steps"),
		},
		{
			Name:        ToolExecuteWorkflow,
			Description: "Run a stored workflow and return its per-step results",
			InputSchema: tools.ObjectSchema(map[string]tools.Property{
				"name": {Type: "string", Description: "Workflow name"},
			}, "name"),
		},
		{
			Name:        ToolGetWorkflow,
			Description: "Show a stored workflow and the result of its most recent run",
			InputSchema: tools.ObjectSchema(map[string]tools.Property{
				"name": {Type: "string", Description: "Workflow name"},
			}, "name"),
		},
	}
}

// Call implements tools.Handler.
func (h *Handler) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case ToolCreateWorkflow:
		return h.create(args)
	case ToolExecuteWorkflow:
		return h.execute(ctx, args)
	case ToolGetWorkflow:
		return h.get(args)
	default:
		return nil, fmt.Errorf("%w: %s", tools.ErrUnknownTool, name)
	}
}

// isWorkflowTool reports whether the name belongs to this handler. Workflows
// must not invoke workflow tools; that would allow unbounded recursion.
func isWorkflowTool(name string) bool {
	switch name {
	case ToolCreateWorkflow, ToolExecuteWorkflow, ToolGetWorkflow:
		return true
	default:
		return false
	}
}

func validateDefinition(def *Definition) error {
	if strings.TrimSpace(def.Name) == "" {
		return errors.New("workflow name is required")
	}
	if len(def.Steps) == 0 {
		return errors.New("workflow needs at least one step")
	}
	if len(def.Steps) > maxWorkflowSteps {
		return fmt.Errorf("workflow has %d steps, the maximum is %d", len(def.Steps), maxWorkflowSteps)
	}

	seen := make(map[string]bool, len(def.Steps))
	for i, step := range def.Steps {
		if strings.TrimSpace(step.ID) == "" {
			return fmt.Errorf("step %d has no id", i)
		}
		if seen[step.ID] {
			return fmt.Errorf("duplicate step id %q", step.ID)
		}
		seen[step.ID] = true
		if strings.TrimSpace(step.Tool) == "" {
			return fmt.Errorf("step %q has no tool", step.ID)
		}
		if isWorkflowTool(step.Tool) {
			return fmt.Errorf("step %q calls workflow tool %q, workflows cannot invoke workflow tools", step.ID, step.Tool)
		}
	}
	return nil
}

// parseSteps converts the create_workflow steps argument into Steps.
func parseSteps(v any) ([]Step, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: steps must be an array of objects", tools.ErrInvalidArguments)
	}

	steps := make([]Step, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: step %d is not an object", tools.ErrInvalidArguments, i)
		}
		id, err := tools.OptionalStringArg(obj, "id", "")
		if err != nil {
			return nil, err
		}
		tool, err := tools.OptionalStringArg(obj, "tool", "")
		if err != nil {
			return nil, err
		}
		arguments, err := tools.ObjectArg(obj, "arguments")
		if err != nil {
			return nil, err
		}
		steps = append(steps, Step{ID: id, Tool: tool, Arguments: arguments})
	}
	return steps, nil
}

func (h *Handler) create(args map[string]any) (any, error) {
	name, err := tools.StringArg(args, "name")
	if err != nil {
		return nil, err
	}
	description, err := tools.OptionalStringArg(args, "description", "")
	if err != nil {
		return nil, err
	}
	stepsArg, ok := args["steps"]
	if !ok {
		return nil, fmt.Errorf("%w: missing required argument %q", tools.ErrInvalidArguments, "steps")
	}
	steps, err := parseSteps(stepsArg)
	if err != nil {
		return nil, err
	}

	def := &Definition{
		ID:          h.newID(),
		Name:        name,
		Description: description,
		Steps:       steps,
		CreatedAt:   h.now(),
	}
	if err := validateDefinition(def); err != nil {
		return nil, fmt.Errorf("%w: %s", tools.ErrInvalidArguments, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.defs[name]; exists {
		return nil, fmt.Errorf("%w: workflow %q already exists", tools.ErrInvalidArguments, name)
	}
	h.defs[name] = def

	logger.Infow("workflow created", "workflow", name, "steps", len(steps))
	return def, nil
}

func (h *Handler) get(args map[string]any) (any, error) {
	name, err := tools.StringArg(args, "name")
	if err != nil {
		return nil, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	def, ok := h.defs[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown workflow %q", tools.ErrInvalidArguments, name)
	}

	result := map[string]any{"workflow": def}
	if last, ok := h.lastRun[name]; ok {
		result["lastRun"] = last
	}
	return result, nil
}

// execute runs the named workflow. A failed run is reported through the
// result's status, not as a call error, so clients always get the per-step
// breakdown.
func (h *Handler) execute(ctx context.Context, args map[string]any) (any, error) {
	name, err := tools.StringArg(args, "name")
	if err != nil {
		return nil, err
	}

	h.mu.RLock()
	def, ok := h.defs[name]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown workflow %q", tools.ErrInvalidArguments, name)
	}

	execCtx, cancel := context.WithTimeout(ctx, defaultWorkflowTimeout)
	defer cancel()

	result := &Result{
		WorkflowID: def.ID,
		RunID:      h.newID(),
		Name:       def.Name,
		Status:     StatusCompleted,
		StartTime:  h.now(),
	}

	logger.Infow("starting workflow", "workflow", def.Name, "run", result.RunID, "steps", len(def.Steps))

	for _, step := range def.Steps {
		select {
		case <-execCtx.Done():
			result.Status = StatusFailed
			result.Error = "workflow timed out"
		default:
		}
		if result.Status == StatusFailed {
			break
		}

		stepResult := h.runStep(execCtx, step)
		result.Steps = append(result.Steps, stepResult)

		if stepResult.Status == StatusFailed {
			result.Status = StatusFailed
			result.Error = fmt.Sprintf("step %s failed: %s", step.ID, stepResult.Error)
			logger.Warnw("workflow aborted", "workflow", def.Name, "run", result.RunID,
				"step", step.ID, "error", stepResult.Error)
			break
		}
	}

	result.Duration = h.now().Sub(result.StartTime).String()

	h.mu.Lock()
	h.lastRun[name] = result
	h.mu.Unlock()

	if result.Status == StatusCompleted {
		logger.Infow("workflow completed", "workflow", def.Name, "run", result.RunID, "duration", result.Duration)
	}
	return result, nil
}

func (h *Handler) runStep(ctx context.Context, step Step) StepResult {
	start := h.now()
	result := StepResult{StepID: step.ID, Tool: step.Tool, Status: StatusCompleted}

	var output any
	var err error
	if strings.Contains(step.Tool, ".") {
		output, err = h.callFederated(ctx, step)
	} else {
		output, err = h.callLocal(ctx, step)
	}

	if err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
	} else {
		result.Output = output
	}
	result.Duration = h.now().Sub(start).String()
	return result
}

func (h *Handler) callFederated(ctx context.Context, step Step) (any, error) {
	raw, err := h.rtr.CallTool(ctx, step.Tool, step.Arguments)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return string(raw), nil
	}
	return out, nil
}

func (h *Handler) callLocal(ctx context.Context, step Step) (any, error) {
	h.mu.RLock()
	local := h.local
	h.mu.RUnlock()
	if local == nil {
		return nil, errors.New("local tool dispatch is not configured")
	}
	return local.Call(ctx, step.Tool, step.Arguments)
}
