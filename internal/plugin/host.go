package plugin

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"kiromemory/internal/apperr"
	"kiromemory/internal/logging"
	"kiromemory/internal/metrics"
	"kiromemory/internal/store"
	"kiromemory/internal/version"
)

const (
	initTimeout    = 5 * time.Second
	destroyTimeout = 5 * time.Second
	hookTimeout    = 10 * time.Second
)

// entry tracks one plugin. Its mutex serializes lifecycle transitions so a
// reload can never race an in-flight init.
type entry struct {
	mu      sync.Mutex
	plugin  Plugin
	state   State
	origin  string // directory for interpreted plugins, empty otherwise
	lastErr error
}

// Host owns the plugin registry and dispatches hooks.
type Host struct {
	api         *API
	hostVersion string
	metrics     *metrics.Metrics

	mu      sync.RWMutex
	entries map[string]*entry

	watch *watcher
}

// NewHost builds an empty host around the given API surface.
func NewHost(api *API, m *metrics.Metrics) *Host {
	return &Host{
		api:         api,
		hostVersion: version.Version,
		metrics:     m,
		entries:     map[string]*entry{},
	}
}

// Register validates and records a plugin in the registered state. origin is
// the on-disk directory for reloadable plugins, empty for compiled-in ones.
func (h *Host) Register(p Plugin, origin string) error {
	if err := validate(p, h.hostVersion); err != nil {
		return err
	}
	name := p.Name()

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.entries[name]; exists {
		return apperr.Conflictf("plugin %q is already registered", name)
	}
	h.entries[name] = &entry{plugin: p, state: StateRegistered, origin: origin}
	logging.Get(logging.CategoryPlugin).Infow("plugin registered",
		"name", name, "version", p.Version())
	return nil
}

// validate enforces the registration contract.
func validate(p Plugin, hostVersion string) error {
	if p == nil {
		return apperr.Validationf("plugin is nil")
	}
	name := strings.TrimSpace(p.Name())
	if name == "" {
		return apperr.Validationf("plugin has no name")
	}
	if strings.TrimSpace(p.Version()) == "" {
		return apperr.Validationf("plugin %q has no version", name)
	}
	if mv, ok := p.(MinVersioner); ok {
		if min := strings.TrimSpace(mv.MinVersion()); min != "" {
			if version.Compare(hostVersion, min) < 0 {
				return apperr.Validationf("plugin %q requires worker >= %s, running %s",
					name, min, hostVersion)
			}
		}
	}
	return nil
}

// InitAll initializes every registered plugin. Failures park the plugin in
// the error state and are reported together; working plugins stay active.
func (h *Host) InitAll(ctx context.Context) error {
	var errs []error
	for _, name := range h.names() {
		if err := h.initOne(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	h.updateActiveGauge()
	if len(errs) > 0 {
		return fmt.Errorf("plugin init failures: %v", errs)
	}
	return nil
}

func (h *Host) initOne(ctx context.Context, name string) error {
	e := h.entry(name)
	if e == nil {
		return apperr.NotFoundf("plugin %q is not registered", name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateRegistered {
		return apperr.Conflictf("plugin %q cannot init from state %s", name, e.state)
	}
	e.state = StateInitializing

	log := logging.Get(logging.CategoryPlugin)
	err := callWithTimeout(ctx, initTimeout, func(c context.Context) error {
		return e.plugin.Init(c, h.api)
	})
	if err != nil {
		e.state = StateError
		e.lastErr = err
		log.Errorw("plugin init failed", "name", name, "error", err)
		return err
	}
	e.state = StateActive
	log.Infow("plugin active", "name", name)
	return nil
}

// DestroyAll tears every active plugin down, best effort.
func (h *Host) DestroyAll(ctx context.Context) {
	if h.watch != nil {
		h.watch.stop()
		h.watch = nil
	}
	for _, name := range h.names() {
		h.destroyOne(ctx, name)
	}
	h.updateActiveGauge()
}

func (h *Host) destroyOne(ctx context.Context, name string) {
	e := h.entry(name)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateActive && e.state != StateError {
		return
	}

	log := logging.Get(logging.CategoryPlugin)
	err := callWithTimeout(ctx, destroyTimeout, func(c context.Context) error {
		return e.plugin.Destroy(c)
	})
	if err != nil {
		e.lastErr = err
		log.Warnw("plugin destroy failed", "name", name, "error", err)
	}
	e.state = StateDestroyed
}

// Reload destroys, unregisters and re-discovers an interpreted plugin from
// its recorded origin directory.
func (h *Host) Reload(ctx context.Context, name string) error {
	e := h.entry(name)
	if e == nil {
		return apperr.NotFoundf("plugin %q is not registered", name)
	}
	origin := e.origin
	if origin == "" {
		return apperr.Validationf("plugin %q is compiled in and cannot reload", name)
	}

	h.destroyOne(ctx, name)
	h.mu.Lock()
	delete(h.entries, name)
	h.mu.Unlock()

	p, err := loadInterpreted(origin)
	if err != nil {
		return err
	}
	if err := h.Register(p, origin); err != nil {
		return err
	}
	err = h.initOne(ctx, p.Name())
	h.updateActiveGauge()
	if err != nil {
		return err
	}
	logging.Get(logging.CategoryPlugin).Infow("plugin reloaded", "name", p.Name())
	return nil
}

// Status describes one plugin for the stats endpoint.
type Status struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	State   State  `json:"state"`
	Error   string `json:"error,omitempty"`
}

// Statuses lists every plugin sorted by name.
func (h *Host) Statuses() []Status {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Status, 0, len(h.entries))
	for name, e := range h.entries {
		e.mu.Lock()
		s := Status{Name: name, Version: e.plugin.Version(), State: e.state}
		if e.lastErr != nil {
			s.Error = e.lastErr.Error()
		}
		e.mu.Unlock()
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ActiveCount reports how many plugins are currently active.
func (h *Host) ActiveCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, e := range h.entries {
		e.mu.Lock()
		if e.state == StateActive {
			n++
		}
		e.mu.Unlock()
	}
	return n
}

func (h *Host) updateActiveGauge() {
	if h.metrics != nil {
		h.metrics.ActivePlugins.Set(float64(h.ActiveCount()))
	}
}

func (h *Host) entry(name string) *entry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.entries[name]
}

func (h *Host) names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.entries))
	for name := range h.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// active snapshots the currently active plugins for dispatch.
func (h *Host) active() []Plugin {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Plugin, 0, len(h.entries))
	for _, e := range h.entries {
		e.mu.Lock()
		if e.state == StateActive {
			out = append(out, e.plugin)
		}
		e.mu.Unlock()
	}
	return out
}

// EmitObservation fans an observation into every active ObservationHook.
func (h *Host) EmitObservation(ctx context.Context, o *store.Observation) {
	h.emit(ctx, "onObservation", func(p Plugin) func(context.Context) error {
		hook, ok := p.(ObservationHook)
		if !ok {
			return nil
		}
		return func(c context.Context) error { return hook.OnObservation(c, o) }
	})
}

// EmitSummary fans a summary into every active SummaryHook.
func (h *Host) EmitSummary(ctx context.Context, s *store.Summary) {
	h.emit(ctx, "onSummary", func(p Plugin) func(context.Context) error {
		hook, ok := p.(SummaryHook)
		if !ok {
			return nil
		}
		return func(c context.Context) error { return hook.OnSummary(c, s) }
	})
}

// EmitSessionStart fans a session start into every active SessionStartHook.
func (h *Host) EmitSessionStart(ctx context.Context, s *store.Session) {
	h.emit(ctx, "onSessionStart", func(p Plugin) func(context.Context) error {
		hook, ok := p.(SessionStartHook)
		if !ok {
			return nil
		}
		return func(c context.Context) error { return hook.OnSessionStart(c, s) }
	})
}

// EmitSessionEnd fans a session completion into every active SessionEndHook.
func (h *Host) EmitSessionEnd(ctx context.Context, s *store.Session) {
	h.emit(ctx, "onSessionEnd", func(p Plugin) func(context.Context) error {
		hook, ok := p.(SessionEndHook)
		if !ok {
			return nil
		}
		return func(c context.Context) error { return hook.OnSessionEnd(c, s) }
	})
}

// emit runs the hook concurrently on every active plugin that implements it
// and waits for all of them. Errors and timeouts are logged per plugin and
// never propagate to the caller.
func (h *Host) emit(ctx context.Context, hook string, bind func(Plugin) func(context.Context) error) {
	log := logging.Get(logging.CategoryPlugin)

	g := new(errgroup.Group)
	for _, p := range h.active() {
		fn := bind(p)
		if fn == nil {
			continue
		}
		name := p.Name()
		g.Go(func() error {
			if err := callWithTimeout(ctx, hookTimeout, fn); err != nil {
				if h.metrics != nil {
					h.metrics.PluginHookErrors.WithLabelValues(name, hook).Inc()
				}
				log.Warnw("plugin hook failed",
					"plugin", name, "hook", hook, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// callWithTimeout runs fn under a deadline, converting panics and overruns
// into errors. A plugin that ignores its context leaks a goroutine until it
// returns; the host itself never blocks past the deadline.
func callWithTimeout(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errc <- fmt.Errorf("panic: %v", r)
			}
		}()
		errc <- fn(callCtx)
	}()

	select {
	case err := <-errc:
		return err
	case <-callCtx.Done():
		return callCtx.Err()
	}
}
