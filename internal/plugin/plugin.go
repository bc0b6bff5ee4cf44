// Package plugin hosts worker extensions. A plugin moves through a small
// state machine (registered, initializing, active, destroyed, error) and may
// implement optional hook interfaces that the host fans events into. Hooks
// run concurrently with per-call timeouts; a failing plugin never disturbs
// its siblings or the ingest path.
package plugin

import (
	"context"

	"go.uber.org/zap"

	"kiromemory/internal/store"
)

// Plugin is the minimal contract every extension satisfies.
type Plugin interface {
	// Name is the unique registry key.
	Name() string
	// Version is the plugin's own major.minor.patch version.
	Version() string
	// Init prepares the plugin. It runs once, bounded by initTimeout.
	Init(ctx context.Context, api *API) error
	// Destroy releases resources. It runs once, bounded by destroyTimeout.
	Destroy(ctx context.Context) error
}

// MinVersioner is implemented by plugins requiring a minimum worker version.
type MinVersioner interface {
	MinVersion() string
}

// ObservationHook receives every stored observation.
type ObservationHook interface {
	OnObservation(ctx context.Context, o *store.Observation) error
}

// SummaryHook receives every generated session summary.
type SummaryHook interface {
	OnSummary(ctx context.Context, s *store.Summary) error
}

// SessionStartHook fires when a memory session is created.
type SessionStartHook interface {
	OnSessionStart(ctx context.Context, s *store.Session) error
}

// SessionEndHook fires when a session completes.
type SessionEndHook interface {
	OnSessionEnd(ctx context.Context, s *store.Session) error
}

// API is the worker surface handed to plugins at Init.
type API struct {
	Store *store.Store
	Log   *zap.SugaredLogger
}

// State is a plugin's lifecycle position.
type State string

// Lifecycle states.
const (
	StateRegistered   State = "registered"
	StateInitializing State = "initializing"
	StateActive       State = "active"
	StateDestroyed    State = "destroyed"
	StateError        State = "error"
)
