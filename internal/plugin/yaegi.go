package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"gopkg.in/yaml.v3"

	"kiromemory/internal/apperr"
	"kiromemory/internal/store"
)

// ManifestName is the per-plugin manifest file.
const ManifestName = "plugin.yaml"

// allowedImports is the stdlib whitelist for interpreted plugin sources.
// os, os/exec, net, net/http, syscall and unsafe stay blocked.
var allowedImports = map[string]bool{
	"bytes":           true,
	"errors":          true,
	"fmt":             true,
	"math":            true,
	"regexp":          true,
	"sort":            true,
	"strconv":         true,
	"strings":         true,
	"time":            true,
	"unicode":         true,
	"unicode/utf8":    true,
	"encoding/json":   true,
	"encoding/base64": true,
	"encoding/hex":    true,
	"net/url":         true,
	"path":            true,
	"path/filepath":   true,
}

// manifest is the plugin.yaml schema.
type manifest struct {
	Name       string   `yaml:"name"`
	Version    string   `yaml:"version"`
	MinVersion string   `yaml:"min_version"`
	Entry      string   `yaml:"entry"`
	Hooks      []string `yaml:"hooks"`
}

// wants reports whether the manifest exposes the named hook. An empty hook
// list exposes everything the source defines.
func (m *manifest) wants(hook string) bool {
	if len(m.Hooks) == 0 {
		return true
	}
	for _, h := range m.Hooks {
		if strings.EqualFold(strings.TrimSpace(h), hook) {
			return true
		}
	}
	return false
}

// interpreted adapts a yaegi-evaluated plugin source to the Plugin interface.
// Hook payloads cross into the interpreter as JSON strings.
type interpreted struct {
	name       string
	version    string
	minVersion string

	initFn    func() error
	destroyFn func() error

	onObservation  func(string) error
	onSummary      func(string) error
	onSessionStart func(string) error
	onSessionEnd   func(string) error
}

func (p *interpreted) Name() string       { return p.name }
func (p *interpreted) Version() string    { return p.version }
func (p *interpreted) MinVersion() string { return p.minVersion }

func (p *interpreted) Init(ctx context.Context, _ *API) error { return p.initFn() }
func (p *interpreted) Destroy(ctx context.Context) error      { return p.destroyFn() }

func (p *interpreted) OnObservation(ctx context.Context, o *store.Observation) error {
	return callJSON(p.onObservation, o)
}

func (p *interpreted) OnSummary(ctx context.Context, s *store.Summary) error {
	return callJSON(p.onSummary, s)
}

func (p *interpreted) OnSessionStart(ctx context.Context, s *store.Session) error {
	return callJSON(p.onSessionStart, s)
}

func (p *interpreted) OnSessionEnd(ctx context.Context, s *store.Session) error {
	return callJSON(p.onSessionEnd, s)
}

func callJSON(fn func(string) error, payload any) error {
	if fn == nil {
		return nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return fn(string(b))
}

// loadInterpreted reads a plugin directory (manifest + entry source),
// validates its imports against the whitelist and evaluates it in a fresh
// interpreter.
func loadInterpreted(dir string) (Plugin, error) {
	m, err := readManifest(dir)
	if err != nil {
		return nil, err
	}

	entry := m.Entry
	if entry == "" {
		entry = "plugin.go"
	}
	if filepath.IsAbs(entry) || strings.Contains(entry, "..") {
		return nil, apperr.Validationf("plugin %q: entry %q must stay inside the plugin directory", m.Name, entry)
	}

	src, err := os.ReadFile(filepath.Join(dir, entry))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, fmt.Sprintf("plugin %q: read entry", m.Name), err)
	}
	if err := validateImports(string(src)); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, fmt.Sprintf("plugin %q: imports", m.Name), err)
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "load interpreter stdlib", err)
	}
	if _, err := i.Eval(string(src)); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, fmt.Sprintf("plugin %q: evaluate source", m.Name), err)
	}

	p := &interpreted{name: m.Name, version: m.Version, minVersion: m.MinVersion}

	if p.initFn, err = evalLifecycle(i, "main.Init"); err != nil {
		return nil, apperr.Validationf("plugin %q: %v", m.Name, err)
	}
	if p.destroyFn, err = evalLifecycle(i, "main.Destroy"); err != nil {
		return nil, apperr.Validationf("plugin %q: %v", m.Name, err)
	}
	if p.initFn == nil || p.destroyFn == nil {
		return nil, apperr.Validationf("plugin %q: source must define Init() error and Destroy() error", m.Name)
	}

	hooks := []struct {
		key    string
		symbol string
		dst    *func(string) error
	}{
		{"observation", "main.OnObservation", &p.onObservation},
		{"summary", "main.OnSummary", &p.onSummary},
		{"session_start", "main.OnSessionStart", &p.onSessionStart},
		{"session_end", "main.OnSessionEnd", &p.onSessionEnd},
	}
	for _, h := range hooks {
		if !m.wants(h.key) {
			continue
		}
		fn, err := evalHook(i, h.symbol)
		if err != nil {
			return nil, apperr.Validationf("plugin %q: %v", m.Name, err)
		}
		*h.dst = fn
	}

	return p, nil
}

func readManifest(dir string) (*manifest, error) {
	raw, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "read plugin manifest", err)
	}
	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "parse plugin manifest", err)
	}
	m.Name = strings.TrimSpace(m.Name)
	m.Version = strings.TrimSpace(m.Version)
	if m.Name == "" || m.Version == "" {
		return nil, apperr.Validationf("plugin manifest in %s needs name and version", dir)
	}
	return &m, nil
}

// evalLifecycle resolves an optional func() error symbol. A missing symbol
// returns nil without error; a symbol with the wrong signature errors.
func evalLifecycle(i *interp.Interpreter, symbol string) (func() error, error) {
	v, err := i.Eval(symbol)
	if err != nil {
		return nil, nil
	}
	fn, ok := v.Interface().(func() error)
	if !ok {
		return nil, fmt.Errorf("%s must have signature func() error", symbol)
	}
	return fn, nil
}

// evalHook resolves an optional func(string) error hook symbol.
func evalHook(i *interp.Interpreter, symbol string) (func(string) error, error) {
	v, err := i.Eval(symbol)
	if err != nil {
		return nil, nil
	}
	fn, ok := v.Interface().(func(string) error)
	if !ok {
		return nil, fmt.Errorf("%s must have signature func(string) error", symbol)
	}
	return fn, nil
}

// validateImports scans the source for import statements and rejects any
// package outside the whitelist.
func validateImports(src string) error {
	var imports []string
	inBlock := false
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "import ("):
			inBlock = true
		case inBlock && strings.HasPrefix(trimmed, ")"):
			inBlock = false
		case inBlock:
			if trimmed == "" || strings.HasPrefix(trimmed, "//") {
				continue
			}
			imports = append(imports, strings.Trim(trimmed, `"`))
		case strings.HasPrefix(trimmed, "import "):
			pkg := strings.TrimPrefix(trimmed, "import ")
			imports = append(imports, strings.Trim(pkg, `"`))
		}
	}

	var forbidden []string
	for _, pkg := range imports {
		if !allowedImports[pkg] {
			forbidden = append(forbidden, pkg)
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("forbidden imports: %s", strings.Join(forbidden, ", "))
	}
	return nil
}
