package plugin

import (
	"os"
	"path/filepath"
	"strings"

	"kiromemory/internal/config"
	"kiromemory/internal/logging"
)

// DiscoverOptions selects the plugin sources to scan. All fields are
// optional; empty sources are skipped.
type DiscoverOptions struct {
	// Builtins are compiled-in plugins registered first.
	Builtins []Plugin
	// Entries come from settings.json. An entry with a path loads an
	// interpreted plugin; a name-only entry with enabled=false suppresses a
	// plugin from any other source.
	Entries []config.PluginEntry
	// UserDir is scanned for <name>/plugin.yaml sub-directories.
	UserDir string
	// DepRoot is scanned for directories named *-plugin-* carrying a
	// manifest.
	DepRoot string
}

// Builtins returns the compiled-in plugin set.
func Builtins() []Plugin {
	return []Plugin{NewGithubLinks()}
}

// Discover registers plugins from builtins, config entries, the user plugin
// directory and the dependency root, in that order. Plugins that fail to
// load or register are logged and skipped. Returns the number registered.
func (h *Host) Discover(opts DiscoverOptions) int {
	log := logging.Get(logging.CategoryPlugin)

	disabled := map[string]bool{}
	for _, e := range opts.Entries {
		if e.Enabled != nil && !*e.Enabled && e.Name != "" {
			disabled[e.Name] = true
		}
	}

	n := 0
	for _, p := range opts.Builtins {
		if disabled[p.Name()] {
			log.Infow("builtin plugin disabled by config", "name", p.Name())
			continue
		}
		if err := h.Register(p, ""); err != nil {
			log.Warnw("builtin plugin rejected", "name", p.Name(), "error", err)
			continue
		}
		n++
	}

	for _, e := range opts.Entries {
		if e.Enabled != nil && !*e.Enabled {
			continue
		}
		if e.Path == "" {
			continue
		}
		p, err := loadInterpreted(e.Path)
		if err != nil {
			log.Warnw("configured plugin failed to load",
				"name", e.Name, "path", e.Path, "error", err)
			continue
		}
		if disabled[p.Name()] {
			continue
		}
		if err := h.Register(p, e.Path); err != nil {
			log.Warnw("configured plugin rejected", "name", p.Name(), "error", err)
			continue
		}
		n++
	}

	n += h.discoverDir(opts.UserDir, disabled, nil)
	n += h.discoverDir(opts.DepRoot, disabled, isDependencyPlugin)

	if n > 0 {
		log.Infow("plugin discovery complete", "registered", n)
	}
	return n
}

// discoverDir loads every manifest-bearing sub-directory of dir, optionally
// filtered by a directory name predicate.
func (h *Host) discoverDir(dir string, disabled map[string]bool, match func(string) bool) int {
	if dir == "" {
		return 0
	}
	log := logging.Get(logging.CategoryPlugin)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnw("plugin directory unreadable", "dir", dir, "error", err)
		}
		return 0
	}

	n := 0
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		if match != nil && !match(ent.Name()) {
			continue
		}
		sub := filepath.Join(dir, ent.Name())
		if _, err := os.Stat(filepath.Join(sub, ManifestName)); err != nil {
			continue
		}
		p, err := loadInterpreted(sub)
		if err != nil {
			log.Warnw("plugin failed to load", "dir", sub, "error", err)
			continue
		}
		if disabled[p.Name()] {
			continue
		}
		if err := h.Register(p, sub); err != nil {
			log.Warnw("plugin rejected", "dir", sub, "error", err)
			continue
		}
		n++
	}
	return n
}

// isDependencyPlugin matches the *-plugin-* naming convention used under the
// dependency root.
func isDependencyPlugin(name string) bool {
	return strings.Contains(name, "-plugin-")
}
