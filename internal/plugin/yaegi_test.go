package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiromemory/internal/apperr"
	"kiromemory/internal/config"
	"kiromemory/internal/store"
)

const greeterManifest = `name: greeter
version: 1.2.3
`

const greeterSource = `package main

import (
	"errors"
	"strings"
)

func Init() error { return nil }

func Destroy() error { return nil }

func OnObservation(payload string) error {
	if strings.Contains(payload, "explode") {
		return errors.New("asked to explode")
	}
	return nil
}
`

func writePlugin(t *testing.T, root, dirName, manifest, source string) string {
	t.Helper()
	dir := filepath.Join(root, dirName)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestName), []byte(manifest), 0o644))
	if source != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.go"), []byte(source), 0o644))
	}
	return dir
}

func TestLoadInterpretedPlugin(t *testing.T) {
	dir := writePlugin(t, t.TempDir(), "greeter", greeterManifest, greeterSource)

	p, err := loadInterpreted(dir)
	require.NoError(t, err)
	assert.Equal(t, "greeter", p.Name())
	assert.Equal(t, "1.2.3", p.Version())

	ctx := context.Background()
	require.NoError(t, p.Init(ctx, nil))

	hook, ok := p.(ObservationHook)
	require.True(t, ok)
	assert.NoError(t, hook.OnObservation(ctx, &store.Observation{Title: "fine"}))

	err = hook.OnObservation(ctx, &store.Observation{Title: "explode"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "asked to explode")

	require.NoError(t, p.Destroy(ctx))
}

func TestLoadRejectsForbiddenImport(t *testing.T) {
	src := `package main

import "os"

func Init() error { _ = os.Getpid(); return nil }
func Destroy() error { return nil }
`
	dir := writePlugin(t, t.TempDir(), "sneaky", "name: sneaky\nversion: 1.0.0\n", src)

	_, err := loadInterpreted(dir)
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "forbidden imports")
}

func TestLoadRequiresManifestFields(t *testing.T) {
	dir := writePlugin(t, t.TempDir(), "anon", "name: anon\n", greeterSource)

	_, err := loadInterpreted(dir)
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestLoadRequiresLifecycleFuncs(t *testing.T) {
	src := `package main

func Init() error { return nil }
`
	dir := writePlugin(t, t.TempDir(), "halfdone", "name: halfdone\nversion: 1.0.0\n", src)

	_, err := loadInterpreted(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Destroy() error")
}

func TestLoadRejectsWrongHookSignature(t *testing.T) {
	src := `package main

func Init() error { return nil }
func Destroy() error { return nil }
func OnObservation(n int) error { return nil }
`
	dir := writePlugin(t, t.TempDir(), "badsig", "name: badsig\nversion: 1.0.0\n", src)

	_, err := loadInterpreted(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "func(string) error")
}

func TestManifestHookFilter(t *testing.T) {
	src := `package main

import "errors"

func Init() error { return nil }
func Destroy() error { return nil }
func OnObservation(payload string) error { return errors.New("should not run") }
`
	manifest := "name: filtered\nversion: 1.0.0\nhooks: [summary]\n"
	dir := writePlugin(t, t.TempDir(), "filtered", manifest, src)

	p, err := loadInterpreted(dir)
	require.NoError(t, err)

	hook := p.(ObservationHook)
	assert.NoError(t, hook.OnObservation(context.Background(), &store.Observation{Title: "x"}))
}

func TestLoadRejectsEntryEscape(t *testing.T) {
	manifest := "name: escape\nversion: 1.0.0\nentry: ../outside.go\n"
	dir := writePlugin(t, t.TempDir(), "escape", manifest, "")

	_, err := loadInterpreted(dir)
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestInterpretedMinVersionEnforced(t *testing.T) {
	manifest := "name: future\nversion: 1.0.0\nmin_version: 99.0.0\n"
	dir := writePlugin(t, t.TempDir(), "future", manifest, greeterSource)

	p, err := loadInterpreted(dir)
	require.NoError(t, err)

	h, _ := newTestHost(t)
	err = h.Register(p, dir)
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestDiscoverSources(t *testing.T) {
	userDir := t.TempDir()
	writePlugin(t, userDir, "greeter", greeterManifest, greeterSource)
	writePlugin(t, userDir, "broken", "name: broken\nversion: 1.0.0\n", `package main

import "net/http"

func Init() error { _ = http.DefaultClient; return nil }
func Destroy() error { return nil }
`)
	require.NoError(t, os.MkdirAll(filepath.Join(userDir, "no-manifest"), 0o755))

	depRoot := t.TempDir()
	writePlugin(t, depRoot, "acme-plugin-links", "name: acme-links\nversion: 0.1.0\n", greeterSource)
	writePlugin(t, depRoot, "regular-lib", "name: regular\nversion: 0.1.0\n", greeterSource)

	h, _ := newTestHost(t)
	n := h.Discover(DiscoverOptions{
		Builtins: Builtins(),
		UserDir:  userDir,
		DepRoot:  depRoot,
	})

	assert.Equal(t, 3, n)
	names := map[string]bool{}
	for _, s := range h.Statuses() {
		names[s.Name] = true
	}
	assert.True(t, names["github-links"])
	assert.True(t, names["greeter"])
	assert.True(t, names["acme-links"])
	assert.False(t, names["broken"])
	assert.False(t, names["regular"])
}

func TestDiscoverDisablesByConfig(t *testing.T) {
	off := false
	h, _ := newTestHost(t)
	n := h.Discover(DiscoverOptions{
		Builtins: Builtins(),
		Entries:  []config.PluginEntry{{Name: "github-links", Enabled: &off}},
	})

	assert.Equal(t, 0, n)
	assert.Empty(t, h.Statuses())
}

func TestDiscoverConfigEntryPath(t *testing.T) {
	dir := writePlugin(t, t.TempDir(), "external", greeterManifest, greeterSource)

	h, _ := newTestHost(t)
	n := h.Discover(DiscoverOptions{
		Entries: []config.PluginEntry{{Name: "greeter", Path: dir}},
	})

	require.Equal(t, 1, n)
	assert.Equal(t, "greeter", h.Statuses()[0].Name)
}

func TestWatchHotReload(t *testing.T) {
	userDir := t.TempDir()
	h, _ := newTestHost(t)
	ctx := context.Background()

	require.NoError(t, h.Watch(ctx, userDir))
	t.Cleanup(func() { h.DestroyAll(ctx) })

	version := func(name string) string {
		for _, s := range h.Statuses() {
			if s.Name == name && s.State == StateActive {
				return s.Version
			}
		}
		return ""
	}

	writePlugin(t, userDir, "greeter", greeterManifest, greeterSource)
	require.Eventually(t, func() bool { return version("greeter") == "1.2.3" },
		10*time.Second, 50*time.Millisecond, "new plugin never became active")

	require.NoError(t, os.WriteFile(
		filepath.Join(userDir, "greeter", ManifestName),
		[]byte("name: greeter\nversion: 2.0.0\n"), 0o644))
	require.Eventually(t, func() bool { return version("greeter") == "2.0.0" },
		10*time.Second, 50*time.Millisecond, "plugin never reloaded")

	require.NoError(t, os.RemoveAll(filepath.Join(userDir, "greeter")))
	require.Eventually(t, func() bool { return len(h.Statuses()) == 0 },
		10*time.Second, 50*time.Millisecond, "plugin never removed")
}
