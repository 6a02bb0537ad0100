// Package workspace is the client-side working copy: a .converge
// directory holding a local object store, the HEAD pointer, the workspace
// configuration, and sync state against a remote repo. Filesystem
// scanning and chunking are producers behind the ManifestProducer
// interface; everything here operates on manifests already in the store.
package workspace

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/converge-vcs/converge/cerr"
	"github.com/converge-vcs/converge/model"
	"github.com/converge-vcs/converge/objectid"
	"github.com/converge-vcs/converge/store"
	"github.com/converge-vcs/converge/store/driver/filesystem"
)

// ConvergeDirName is the marker directory identifying a workspace root.
const ConvergeDirName = ".converge"

// ManifestProducer builds the current manifest tree of a workspace into
// its object store and returns the root manifest id plus scan stats. The
// filesystem scanner and chunker live behind this interface.
type ManifestProducer interface {
	BuildManifest(ctx context.Context) (objectid.ID, model.SnapStats, error)
}

// Workspace is one working copy rooted at Root.
type Workspace struct {
	Root  string
	Store *store.Store

	dir string // Root/.converge
}

// Init creates the .converge directory and an empty config. Errors with
// Conflict if the workspace already exists, unless force is set.
func Init(root string, force bool) (*Workspace, error) {
	dir := filepath.Join(root, ConvergeDirName)
	if _, err := os.Stat(dir); err == nil && !force {
		return nil, cerr.New(cerr.Conflict, "workspace already initialized at %s", root)
	}
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return nil, cerr.New(cerr.Io, "create %s: %v", dir, err)
	}
	ws, err := open(root)
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(ws.configPath()); os.IsNotExist(statErr) {
		if err := ws.SaveConfig(&Config{Version: 1}); err != nil {
			return nil, err
		}
	}
	return ws, nil
}

// Discover walks up from start to find the nearest enclosing workspace.
func Discover(start string) (*Workspace, error) {
	abs, err := filepath.Abs(start)
	if err != nil {
		return nil, cerr.New(cerr.Io, "resolve %s: %v", start, err)
	}
	for dir := abs; ; dir = filepath.Dir(dir) {
		if fi, err := os.Stat(filepath.Join(dir, ConvergeDirName)); err == nil && fi.IsDir() {
			return open(dir)
		}
		if dir == filepath.Dir(dir) {
			return nil, cerr.New(cerr.NotFound, "no %s directory found (run `converge init`)", ConvergeDirName)
		}
	}
}

func open(root string) (*Workspace, error) {
	dir := filepath.Join(root, ConvergeDirName)
	d, err := filesystem.New(dir)
	if err != nil {
		return nil, cerr.New(cerr.Io, "open workspace store: %v", err)
	}
	return &Workspace{Root: root, Store: store.New(d), dir: dir}, nil
}

func (ws *Workspace) configPath() string { return filepath.Join(ws.dir, "config.yaml") }
func (ws *Workspace) statePath() string  { return filepath.Join(ws.dir, "state.json") }
func (ws *Workspace) headPath() string   { return filepath.Join(ws.dir, "HEAD") }

// Head returns the current HEAD snap id, or "" when unset.
func (ws *Workspace) Head() (objectid.ID, error) {
	b, err := os.ReadFile(ws.headPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", cerr.New(cerr.Io, "read HEAD: %v", err)
	}
	return objectid.ID(strings.TrimSpace(string(b))), nil
}

// SetHead points HEAD at snapID, or clears it when snapID is empty.
func (ws *Workspace) SetHead(snapID objectid.ID) error {
	if snapID == "" {
		if err := os.Remove(ws.headPath()); err != nil && !os.IsNotExist(err) {
			return cerr.New(cerr.Io, "remove HEAD: %v", err)
		}
		return nil
	}
	return writeFileAtomic(ws.headPath(), []byte(snapID))
}

// CreateSnap builds the current tree via producer, records a snap, and
// moves HEAD to it.
func (ws *Workspace) CreateSnap(ctx context.Context, producer ManifestProducer, message string) (model.Snap, error) {
	rootManifest, stats, err := producer.BuildManifest(ctx)
	if err != nil {
		return model.Snap{}, err
	}
	createdAt := time.Now().UTC().Format(time.RFC3339Nano)
	snap := model.NewSnap(createdAt, rootManifest, message, stats)
	if _, err := ws.Store.PutSnap(snap); err != nil {
		return model.Snap{}, err
	}
	if err := ws.SetHead(snap.ID); err != nil {
		return model.Snap{}, err
	}
	return snap, nil
}

// ListSnaps returns every local snap, newest first.
func (ws *Workspace) ListSnaps() ([]model.Snap, error) {
	ids, err := ws.Store.WalkSnaps()
	if err != nil {
		return nil, err
	}
	snaps := make([]model.Snap, 0, len(ids))
	for _, id := range ids {
		snap, err := ws.Store.GetSnap(id)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].CreatedAt > snaps[j].CreatedAt })
	return snaps, nil
}

func writeFileAtomic(target string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o777); err != nil {
		return cerr.New(cerr.Io, "create %s: %v", filepath.Dir(target), err)
	}
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, b, 0o666); err != nil {
		return cerr.New(cerr.Io, "write %s: %v", tmp, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return cerr.New(cerr.Io, "rename %s: %v", target, err)
	}
	return nil
}
