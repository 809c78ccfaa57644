// Package registry maps function names to local handlers and their parameter
// schemas. The schema list is advertised verbatim as the model's tool catalog
// and through the /tools inspection endpoint.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Schema describes one callable function the model may invoke. Type is always
// the literal "function".
type Schema struct {
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// HandlerFunc executes one function call. Handlers may block on outbound I/O;
// the relay runs dispatch on its own goroutine. The returned string is fed
// back to the model verbatim as the function result.
type HandlerFunc func(ctx context.Context, args json.RawMessage) (string, error)

type entry struct {
	schema  Schema
	handler HandlerFunc
}

// Registry holds the registered functions in registration order.
type Registry struct {
	logger *zap.Logger

	mu      sync.RWMutex
	order   []string
	entries map[string]entry
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger:  logger,
		entries: make(map[string]entry),
	}
}

// Register adds a function under its schema name. Registering a duplicate
// name replaces the prior entry in place; registration order is
// caller-controlled, so last write wins intentionally.
func (r *Registry) Register(schema Schema, handler HandlerFunc) {
	schema.Type = "function"
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[schema.Name]; !exists {
		r.order = append(r.order, schema.Name)
	}
	r.entries[schema.Name] = entry{schema: schema, handler: handler}
}

// Schemas returns the full ordered list of registered schemas.
func (r *Registry) Schemas() []Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]Schema, 0, len(r.order))
	for _, name := range r.order {
		schemas = append(schemas, r.entries[name].schema)
	}
	return schemas
}

// Dispatch invokes the named handler with the model's string-encoded argument
// object. Unknown names, malformed arguments, and handler failures are all
// converted into a structured error payload so the conversation can continue;
// Dispatch never lets a fault escape this boundary.
func (r *Registry) Dispatch(ctx context.Context, name string, rawArgs string) string {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		r.logger.Warn("function dispatch for unknown name", zap.String("function", name))
		return errorPayload(fmt.Sprintf("unknown function: %s", name))
	}

	args := json.RawMessage(rawArgs)
	if rawArgs == "" {
		args = json.RawMessage("{}")
	}
	if !json.Valid(args) {
		r.logger.Warn("function dispatch with malformed arguments",
			zap.String("function", name),
			zap.Int("bytes", len(rawArgs)),
		)
		return errorPayload(fmt.Sprintf("malformed arguments for function %s", name))
	}

	result, err := e.handler(ctx, args)
	if err != nil {
		r.logger.Warn("function handler failed",
			zap.String("function", name),
			zap.Error(err),
		)
		return errorPayload(err.Error())
	}
	return result
}

func errorPayload(message string) string {
	data, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return `{"error":"function dispatch failed"}`
	}
	return string(data)
}
