// Package service provides the capability-keyed service container that
// oplets query through their context. Services are registered by the
// interface (or concrete type) they are looked up by, not by name.
package service

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/c360/edgestreams/errors"
)

// Container maps capability types to service instances.
type Container struct {
	mu       sync.RWMutex
	services map[reflect.Type]any
	cleaners []func(jobID, opletID string)
}

// NewContainer creates an empty container.
func NewContainer() *Container {
	return &Container{
		services: make(map[reflect.Type]any),
	}
}

// Add registers svc under capability T. A second registration for the
// same capability fails.
func Add[T any](c *Container, svc T) error {
	capability := reflect.TypeFor[T]()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.services[capability]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("%w: service %s", errors.ErrDuplicateRegistration, capability),
			"Container", "Add", "register service")
	}
	c.services[capability] = svc
	return nil
}

// Get returns the service registered under capability T.
func Get[T any](c *Container) (T, bool) {
	svc, ok := c.Lookup(reflect.TypeFor[T]())
	if !ok {
		var zero T
		return zero, false
	}
	typed, ok := svc.(T)
	return typed, ok
}

// Lookup returns the service registered under capability.
func (c *Container) Lookup(capability reflect.Type) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	svc, ok := c.services[capability]
	return svc, ok
}

// Remove drops the service registered under capability T.
func Remove[T any](c *Container) bool {
	capability := reflect.TypeFor[T]()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.services[capability]; !ok {
		return false
	}
	delete(c.services, capability)
	return true
}

// AddCleaner registers a hook invoked for every oplet that is closed, so
// services can release per-oplet state.
func (c *Container) AddCleaner(fn func(jobID, opletID string)) {
	c.mu.Lock()
	c.cleaners = append(c.cleaners, fn)
	c.mu.Unlock()
}

// CleanOplet runs every cleaner for the given oplet.
func (c *Container) CleanOplet(jobID, opletID string) {
	c.mu.RLock()
	cleaners := make([]func(string, string), len(c.cleaners))
	copy(cleaners, c.cleaners)
	c.mu.RUnlock()

	for _, fn := range cleaners {
		fn(jobID, opletID)
	}
}
