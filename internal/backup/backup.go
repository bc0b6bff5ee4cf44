// Package backup produces and restores online snapshots of the live store.
// Snapshots are taken with VACUUM INTO so a copy is consistent even while the
// worker keeps writing, and every snapshot carries a sibling .meta.json
// manifest describing what was captured.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"kiromemory/internal/apperr"
	"kiromemory/internal/logging"
	"kiromemory/internal/store"
)

// nameRe is the only shape a snapshot file may have. List and Restore both
// enforce it so a crafted filename can never escape the backup directory.
var nameRe = regexp.MustCompile(`^backup-\d{4}-\d{2}-\d{2}-\d{6}(-\d{3})?\.db$`)

const metaSuffix = ".meta.json"

// Meta is the manifest written next to each snapshot.
type Meta struct {
	Filename       string           `json:"filename"`
	CreatedAt      string           `json:"created_at"`
	CreatedAtEpoch int64            `json:"created_at_epoch"`
	SchemaVersion  int              `json:"schema_version"`
	Counts         map[string]int64 `json:"counts"`
}

// Info is a listed snapshot: its manifest plus the on-disk size.
type Info struct {
	Meta
	SizeBytes int64 `json:"size_bytes"`
}

// Manager owns the backup directory for one store.
type Manager struct {
	store   *store.Store
	dir     string
	maxKeep int

	now func() time.Time
}

// NewManager keeps maxKeep most recent snapshots in dir; maxKeep < 1 keeps 1.
func NewManager(st *store.Store, dir string, maxKeep int) *Manager {
	if maxKeep < 1 {
		maxKeep = 1
	}
	return &Manager{store: st, dir: dir, maxKeep: maxKeep, now: time.Now}
}

// Create snapshots the live database, writes the manifest and rotates old
// pairs out. The returned Info describes the new snapshot.
func (m *Manager) Create(ctx context.Context) (*Info, error) {
	log := logging.Get(logging.CategoryBackup)
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "create backup directory", err)
	}

	name := m.freshName()
	dest := filepath.Join(m.dir, name)
	if err := m.store.VacuumInto(ctx, dest); err != nil {
		// VACUUM INTO refuses to overwrite; drop a partial file if one exists.
		_ = os.Remove(dest)
		return nil, apperr.Wrap(apperr.KindInternal, "snapshot database", err)
	}

	meta, err := m.writeMeta(ctx, name)
	if err != nil {
		_ = os.Remove(dest)
		return nil, err
	}

	fi, err := os.Stat(dest)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "stat snapshot", err)
	}

	removed, err := m.rotate()
	if err != nil {
		log.Warnw("backup rotation failed", "error", err)
	} else if removed > 0 {
		log.Infow("rotated old backups", "removed", removed, "kept", m.maxKeep)
	}

	log.Infow("backup created", "file", name, "bytes", fi.Size())
	return &Info{Meta: *meta, SizeBytes: fi.Size()}, nil
}

// List returns all valid snapshots, newest first. Files that do not match the
// snapshot name shape are ignored, as are manifests without their database.
func (m *Manager) List() ([]*Info, error) {
	entries, err := os.ReadDir(m.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "read backup directory", err)
	}

	var infos []*Info
	for _, e := range entries {
		if e.IsDir() || !nameRe.MatchString(e.Name()) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		info := &Info{SizeBytes: fi.Size()}
		if err := readMeta(filepath.Join(m.dir, e.Name()+metaSuffix), &info.Meta); err != nil {
			// Manifest lost; reconstruct the essentials from the file itself.
			info.Meta = Meta{
				Filename:       e.Name(),
				CreatedAt:      fi.ModTime().UTC().Format(time.RFC3339),
				CreatedAtEpoch: fi.ModTime().UnixMilli(),
			}
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAtEpoch != infos[j].CreatedAtEpoch {
			return infos[i].CreatedAtEpoch > infos[j].CreatedAtEpoch
		}
		return infos[i].Filename > infos[j].Filename
	})
	return infos, nil
}

// Restore copies the named snapshot over the live database path. The name
// must match the snapshot shape and be present in the backup directory. The
// running process keeps serving the old database; callers must restart the
// worker for the restored file to take effect.
func (m *Manager) Restore(ctx context.Context, filename string) error {
	if !nameRe.MatchString(filename) {
		return apperr.Validationf("invalid backup filename %q", filename)
	}
	src := filepath.Join(m.dir, filename)
	if _, err := os.Stat(src); err != nil {
		return apperr.NotFoundf("backup %q not found", filename)
	}

	dbPath := m.store.Path()
	tmp := dbPath + ".restore"
	if err := copyFile(src, tmp); err != nil {
		_ = os.Remove(tmp)
		return apperr.Wrap(apperr.KindInternal, "copy snapshot", err)
	}
	if err := os.Rename(tmp, dbPath); err != nil {
		_ = os.Remove(tmp)
		return apperr.Wrap(apperr.KindInternal, "replace database", err)
	}
	// Sidecar journal files belong to the replaced database.
	_ = os.Remove(dbPath + "-wal")
	_ = os.Remove(dbPath + "-shm")

	logging.Get(logging.CategoryBackup).Infow("backup restored, restart required",
		"file", filename)
	return nil
}

// freshName yields a timestamped filename that does not collide with an
// existing snapshot. A second snapshot within the same second gains a
// millisecond suffix.
func (m *Manager) freshName() string {
	now := m.now().UTC()
	base := now.Format("2006-01-02-150405")
	name := fmt.Sprintf("backup-%s.db", base)
	if !m.exists(name) {
		return name
	}
	ms := now.Nanosecond() / int(time.Millisecond)
	for i := 0; i < 1000; i++ {
		name = fmt.Sprintf("backup-%s-%03d.db", base, (ms+i)%1000)
		if !m.exists(name) {
			return name
		}
	}
	return name
}

func (m *Manager) exists(name string) bool {
	_, err := os.Stat(filepath.Join(m.dir, name))
	return err == nil
}

func (m *Manager) writeMeta(ctx context.Context, filename string) (*Meta, error) {
	counts, err := m.store.Stats(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "collect row counts", err)
	}
	schema, err := m.store.CurrentSchemaVersion(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "read schema version", err)
	}

	now := m.now().UTC()
	meta := &Meta{
		Filename:       filename,
		CreatedAt:      now.Format(time.RFC3339),
		CreatedAtEpoch: now.UnixMilli(),
		SchemaVersion:  schema,
		Counts:         counts,
	}
	buf, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "encode manifest", err)
	}
	path := filepath.Join(m.dir, filename+metaSuffix)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "write manifest", err)
	}
	return meta, nil
}

// rotate deletes snapshot pairs beyond the maxKeep most recent.
func (m *Manager) rotate() (int, error) {
	infos, err := m.List()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, info := range infos[min(len(infos), m.maxKeep):] {
		if err := os.Remove(filepath.Join(m.dir, info.Filename)); err != nil {
			return removed, err
		}
		_ = os.Remove(filepath.Join(m.dir, info.Filename+metaSuffix))
		removed++
	}
	return removed, nil
}

func readMeta(path string, dst *Meta) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, dst)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
