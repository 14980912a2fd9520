// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"fmt"
	"math"
)

// Property describes one field of a tool's input schema.
type Property struct {
	Type        string
	Description string
}

// ObjectSchema builds a JSON Schema object for a tool's input. Handlers use
// it so every local tool advertises the same schema shape.
func ObjectSchema(props map[string]Property, required ...string) map[string]any {
	properties := make(map[string]any, len(props))
	for name, p := range props {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		properties[name] = prop
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// StringArg extracts a required string argument.
func StringArg(args map[string]any, name string) (string, error) {
	v, ok := args[name]
	if !ok {
		return "", fmt.Errorf("%w: missing required argument %q", ErrInvalidArguments, name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: argument %q must be a string", ErrInvalidArguments, name)
	}
	return s, nil
}

// OptionalStringArg extracts an optional string argument, returning the
// fallback when absent.
func OptionalStringArg(args map[string]any, name, fallback string) (string, error) {
	v, ok := args[name]
	if !ok {
		return fallback, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: argument %q must be a string", ErrInvalidArguments, name)
	}
	return s, nil
}

// IntArg extracts an optional integer argument, returning the fallback when
// absent. JSON numbers arrive as float64, so fractional values are rejected.
func IntArg(args map[string]any, name string, fallback int) (int, error) {
	v, ok := args[name]
	if !ok {
		return fallback, nil
	}
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%w: argument %q must be an integer", ErrInvalidArguments, name)
		}
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("%w: argument %q must be an integer", ErrInvalidArguments, name)
	}
}

// ObjectArg extracts an optional object argument, returning an empty map
// when absent.
func ObjectArg(args map[string]any, name string) (map[string]any, error) {
	v, ok := args[name]
	if !ok {
		return map[string]any{}, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: argument %q must be an object", ErrInvalidArguments, name)
	}
	return m, nil
}
