// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package tools dispatches the hub's local tools. Handlers come in a closed
// set of categories; each registers its tool names with the dispatcher at
// construction, so routing is a plain map lookup and a name can never belong
// to two handlers.
package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation"
)

// ErrUnknownTool is returned when no handler owns the requested tool name.
var ErrUnknownTool = errors.New("unknown tool")

// ErrInvalidArguments is returned when a tool call's arguments are missing
// or of the wrong type.
var ErrInvalidArguments = errors.New("invalid arguments")

// Category tags a handler with the kind of work it does. The set is closed;
// the dispatcher rejects anything else at construction.
type Category string

// All handler categories.
const (
	CategoryService   Category = "service"
	CategoryCache     Category = "cache"
	CategoryDatabase  Category = "database"
	CategoryVCS       Category = "vcs"
	CategoryExecution Category = "execution"
	CategoryWorkflow  Category = "workflow"
)

// Valid reports whether the category is one of the closed set.
func (c Category) Valid() bool {
	switch c {
	case CategoryService, CategoryCache, CategoryDatabase, CategoryVCS, CategoryExecution, CategoryWorkflow:
		return true
	default:
		return false
	}
}

// Handler implements one category of local tools.
type Handler interface {
	// Category returns the handler's category tag.
	Category() Category

	// Tools lists the tools this handler owns. The list must be stable for
	// the handler's lifetime.
	Tools() []federation.ToolDef

	// Call runs the named tool. The result must be JSON-serializable.
	Call(ctx context.Context, name string, args map[string]any) (any, error)
}

// Dispatcher routes local tool calls to their owning handler.
type Dispatcher struct {
	byName map[string]Handler
	defs   []federation.ToolDef
}

// NewDispatcher builds the routing table. Handlers keep their given order in
// listings. A handler outside the closed category set, a second handler for
// a category or a tool name owned twice are construction errors.
func NewDispatcher(handlers ...Handler) (*Dispatcher, error) {
	d := &Dispatcher{byName: make(map[string]Handler)}
	seen := make(map[Category]bool, len(handlers))

	for _, h := range handlers {
		cat := h.Category()
		if !cat.Valid() {
			return nil, fmt.Errorf("unrecognized tool category %q", cat)
		}
		if seen[cat] {
			return nil, fmt.Errorf("duplicate handler for category %q", cat)
		}
		seen[cat] = true

		for _, def := range h.Tools() {
			if owner, dup := d.byName[def.Name]; dup {
				return nil, fmt.Errorf("tool %q registered by both %q and %q", def.Name, owner.Category(), cat)
			}
			d.byName[def.Name] = h
			d.defs = append(d.defs, def)
		}
	}
	return d, nil
}

// Tools lists every registered tool in registration order.
func (d *Dispatcher) Tools() []federation.ToolDef {
	out := make([]federation.ToolDef, len(d.defs))
	copy(out, d.defs)
	return out
}

// Has reports whether a local tool with the given name exists.
func (d *Dispatcher) Has(name string) bool {
	_, ok := d.byName[name]
	return ok
}

// Call routes the call to the owning handler.
func (d *Dispatcher) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	h, ok := d.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return h.Call(ctx, name, args)
}
