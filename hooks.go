package catsync

import (
	"sync"

	"github.com/agentstation/catsync/pkg/entity"
	"github.com/agentstation/catsync/pkg/reconcile"
)

// Hook function types for sync events
type (
	// LocalCreatedHook is called after a local record is created from a remote row
	LocalCreatedHook func(b Binding, local entity.LocalRecord)

	// RemoteCreatedHook is called after a remote row is created for a local record
	RemoteCreatedHook func(b Binding, local entity.LocalRecord, remote entity.RemoteRecord)

	// LocalUpdatedHook is called after a local record takes the remote name
	LocalUpdatedHook func(b Binding, local entity.LocalRecord, newName string)

	// RemoteUpdatedHook is called after a remote row takes the local name
	RemoteUpdatedHook func(b Binding, local entity.LocalRecord, remote entity.RemoteRecord)

	// ConflictHook is called when a run finds a pair that needs a decision
	ConflictHook func(b Binding, conflict reconcile.PendingConflict)
)

// Hooks registers callbacks fired by sync and resolve runs. Preview and
// DetectConflicts never fire them.
type Hooks interface {
	OnLocalCreated(fn LocalCreatedHook)
	OnRemoteCreated(fn RemoteCreatedHook)
	OnLocalUpdated(fn LocalUpdatedHook)
	OnRemoteUpdated(fn RemoteUpdatedHook)
	OnConflict(fn ConflictHook)
}

// hooks manages event callbacks for every binding
type hooks struct {
	mu              sync.RWMutex
	onLocalCreated  []LocalCreatedHook
	onRemoteCreated []RemoteCreatedHook
	onLocalUpdated  []LocalUpdatedHook
	onRemoteUpdated []RemoteUpdatedHook
	onConflict      []ConflictHook
}

// newHooks creates a new hooks instance
func newHooks() *hooks {
	return &hooks{}
}

// OnLocalCreated registers a callback for local creates
func (c *client) OnLocalCreated(fn LocalCreatedHook) {
	c.hooks.mu.Lock()
	defer c.hooks.mu.Unlock()
	c.hooks.onLocalCreated = append(c.hooks.onLocalCreated, fn)
}

// OnRemoteCreated registers a callback for remote creates
func (c *client) OnRemoteCreated(fn RemoteCreatedHook) {
	c.hooks.mu.Lock()
	defer c.hooks.mu.Unlock()
	c.hooks.onRemoteCreated = append(c.hooks.onRemoteCreated, fn)
}

// OnLocalUpdated registers a callback for local renames
func (c *client) OnLocalUpdated(fn LocalUpdatedHook) {
	c.hooks.mu.Lock()
	defer c.hooks.mu.Unlock()
	c.hooks.onLocalUpdated = append(c.hooks.onLocalUpdated, fn)
}

// OnRemoteUpdated registers a callback for remote renames
func (c *client) OnRemoteUpdated(fn RemoteUpdatedHook) {
	c.hooks.mu.Lock()
	defer c.hooks.mu.Unlock()
	c.hooks.onRemoteUpdated = append(c.hooks.onRemoteUpdated, fn)
}

// OnConflict registers a callback for detected conflicts
func (c *client) OnConflict(fn ConflictHook) {
	c.hooks.mu.Lock()
	defer c.hooks.mu.Unlock()
	c.hooks.onConflict = append(c.hooks.onConflict, fn)
}

// forBinding adapts the registry to one engine. Callbacks registered after
// the engine was created are still seen, since lookups happen per event.
func (h *hooks) forBinding(b Binding) reconcile.Hooks {
	return reconcile.Hooks{
		OnLocalCreated: func(local entity.LocalRecord) {
			h.mu.RLock()
			defer h.mu.RUnlock()
			for _, fn := range h.onLocalCreated {
				fn(b, local)
			}
		},
		OnRemoteCreated: func(local entity.LocalRecord, remote entity.RemoteRecord) {
			h.mu.RLock()
			defer h.mu.RUnlock()
			for _, fn := range h.onRemoteCreated {
				fn(b, local, remote)
			}
		},
		OnLocalUpdated: func(local entity.LocalRecord, newName string) {
			h.mu.RLock()
			defer h.mu.RUnlock()
			for _, fn := range h.onLocalUpdated {
				fn(b, local, newName)
			}
		},
		OnRemoteUpdated: func(local entity.LocalRecord, remote entity.RemoteRecord) {
			h.mu.RLock()
			defer h.mu.RUnlock()
			for _, fn := range h.onRemoteUpdated {
				fn(b, local, remote)
			}
		},
		OnConflict: func(conflict reconcile.PendingConflict) {
			h.mu.RLock()
			defer h.mu.RUnlock()
			for _, fn := range h.onConflict {
				fn(b, conflict)
			}
		},
	}
}
