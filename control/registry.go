// Package control implements the directory through which external managers
// locate live jobs and oplets and invoke named operations on them.
//
// Each registration binds an explicit operation table, so dispatch is a map
// lookup rather than a runtime method search. Unknown types, aliases and
// operations are reported as "not handled" instead of raising, because
// requests may come from stale or mismatched clients.
package control

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/c360/edgestreams/errors"
)

// Interface describes the operations a control object exposes.
type Interface[T any] struct {
	Name       string
	Operations map[string]func(T) error
}

// Request names a control object and one zero-argument operation.
type Request struct {
	Type  string `json:"type"`
	Alias string `json:"alias"`
	Op    string `json:"op"`
}

// Response is the wire reply to a Request.
type Response struct {
	Handled bool `json:"handled"`
}

type entry struct {
	typ       string
	id        string
	alias     string
	iface     string
	object    any
	ops       map[string]func() error
	operNames []string
}

// Registry maps control ids to registered objects.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger.With("component", "control"),
	}
}

// ID derives the control id for a registration.
func ID(typ, id, alias string) string {
	if alias != "" {
		return typ + ":" + alias
	}
	return typ + ":" + id
}

// Register binds obj under (typ, alias-or-id) with the operations of iface.
func Register[T any](r *Registry, typ, id, alias string, iface Interface[T], obj T) (string, error) {
	if typ == "" || (id == "" && alias == "") {
		return "", errors.WrapInvalid(
			fmt.Errorf("type and one of id or alias are required"),
			"Registry", "Register", "validate control id")
	}
	// the type is the part of the control id before the first colon
	if strings.Contains(typ, ":") {
		return "", errors.WrapInvalid(
			fmt.Errorf("%w: control type %q contains ':'", errors.ErrInvalidConfig, typ),
			"Registry", "Register", "validate control id")
	}

	ops := make(map[string]func() error, len(iface.Operations))
	names := make([]string, 0, len(iface.Operations))
	for name, fn := range iface.Operations {
		if fn == nil {
			continue
		}
		fn := fn
		ops[name] = func() error { return fn(obj) }
		names = append(names, name)
	}
	sort.Strings(names)

	controlID := ID(typ, id, alias)
	e := &entry{
		typ:       typ,
		id:        id,
		alias:     alias,
		iface:     iface.Name,
		object:    obj,
		ops:       ops,
		operNames: names,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[controlID]; exists {
		return "", errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrDuplicateRegistration, controlID),
			"Registry", "Register", "register control")
	}
	r.entries[controlID] = e

	r.logger.Debug("Control registered", "control_id", controlID, "interface", iface.Name, "operations", names)
	return controlID, nil
}

// Unregister removes a control.
func (r *Registry) Unregister(controlID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[controlID]; !exists {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrNotFound, controlID),
			"Registry", "Unregister", "remove control")
	}
	delete(r.entries, controlID)

	r.logger.Debug("Control unregistered", "control_id", controlID)
	return nil
}

// Lookup returns the control object registered under (typ, alias).
func (r *Registry) Lookup(typ, alias string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[ID(typ, "", alias)]
	if !ok {
		return nil, false
	}
	return e.object, true
}

// Operations lists the operation names of a control, sorted.
func (r *Registry) Operations(controlID string) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[controlID]
	if !ok {
		return nil, false
	}
	out := make([]string, len(e.operNames))
	copy(out, e.operNames)
	return out, true
}

// IDs returns every registered control id, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered controls.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Handle resolves req and invokes its operation. It reports whether an
// operation was found and completed without error.
func (r *Registry) Handle(req Request) (handled bool) {
	r.mu.RLock()
	e, ok := r.entries[ID(req.Type, "", req.Alias)]
	var op func() error
	if ok {
		op = e.ops[req.Op]
	}
	r.mu.RUnlock()

	if op == nil {
		r.logger.Debug("Control request not handled", "type", req.Type, "alias", req.Alias, "op", req.Op)
		return false
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Control operation panicked",
				"type", req.Type, "alias", req.Alias, "op", req.Op, "panic", rec)
			handled = false
		}
	}()

	// Operations run outside the lock so they may unregister themselves.
	if err := op(); err != nil {
		r.logger.Warn("Control operation failed",
			"type", req.Type, "alias", req.Alias, "op", req.Op, "error", err)
		return false
	}
	return true
}

// HandleJSON decodes a wire request and handles it. Malformed input is not handled.
func (r *Registry) HandleJSON(data []byte) bool {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		r.logger.Debug("Malformed control request", "error", err)
		return false
	}
	return r.Handle(req)
}
