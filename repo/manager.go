// Package repo is the repo state machine: it owns the in-memory map of
// repo id → repo state, enforces validation before every mutation, and
// persists via atomic overwrite of repo.json. A single RWMutex guards the
// map of repo handles; a per-repo mutex makes publication/bundle/promote/
// release/pin/approve/GC single-writer critical sections.
package repo

import (
	"encoding/json"
	"path/filepath"
	"sync"

	"github.com/converge-vcs/converge/cerr"
	"github.com/converge-vcs/converge/model"
	"github.com/converge-vcs/converge/store"
	"github.com/converge-vcs/converge/store/driver/filesystem"
)

// Handle is one repo's in-memory state plus its own object store and a
// mutex serializing mutating operations on it.
type Handle struct {
	mu    sync.Mutex
	Repo  *model.Repo
	Store *store.Store

	dataDir string
}

// Lock acquires the handle's write lock for the duration of a mutating
// operation, keeping each repo a single-writer critical section.
func (h *Handle) Lock()   { h.mu.Lock() }
func (h *Handle) Unlock() { h.mu.Unlock() }

// DataDir returns the data directory this handle's manager was rooted
// at, for the bundle/release archival file helpers.
func (h *Handle) DataDir() string { return h.dataDir }

// Persist writes h's current in-memory state to disk via atomic
// overwrite. Callers must hold h's lock.
func (h *Handle) Persist() error {
	return persist(h.dataDir, h.Repo)
}

// Manager owns every repo handle for one data directory.
type Manager struct {
	mu      sync.RWMutex
	repos   map[string]*Handle
	dataDir string
}

// NewManager constructs a Manager rooted at dataDir. It does not load any
// repo eagerly; repos are loaded from disk on first Get/Create.
func NewManager(dataDir string) *Manager {
	return &Manager{repos: map[string]*Handle{}, dataDir: dataDir}
}

func (m *Manager) repoDir(repoID string) string {
	return filepath.Join(m.dataDir, repoID)
}

func (m *Manager) repoStatePath(repoID string) string {
	return filepath.Join(m.repoDir(repoID), "repo.json")
}

func newHandle(dataDir, repoID string, r *model.Repo) (*Handle, error) {
	objDriver, err := filesystem.New(filepath.Join(dataDir, repoID))
	if err != nil {
		return nil, cerr.New(cerr.Io, "open repo object store: %v", err)
	}
	return &Handle{Repo: r, Store: store.New(objDriver), dataDir: dataDir}, nil
}

// Get returns the handle for repoID, loading it from disk on first
// access. Returns NotFound if no such repo exists.
func (m *Manager) Get(repoID string) (*Handle, error) {
	m.mu.RLock()
	h, ok := m.repos[repoID]
	m.mu.RUnlock()
	if ok {
		return h, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.repos[repoID]; ok {
		return h, nil
	}

	b, err := readFileIfExists(m.repoStatePath(repoID))
	if err != nil {
		return nil, cerr.New(cerr.Io, "read repo state: %v", err)
	}
	if b == nil {
		return nil, cerr.New(cerr.NotFound, "repo %s not found", repoID)
	}
	var r model.Repo
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, cerr.New(cerr.IntegrityError, "decode repo.json for %s: %v", repoID, err)
	}

	h, err = newHandle(m.dataDir, repoID, &r)
	if err != nil {
		return nil, err
	}
	m.repos[repoID] = h
	return h, nil
}

// Create registers a brand-new repo with default gate graph, lane, and
// scope (mirroring the server's first-run backfill defaults), persists
// it, and returns its handle. Returns Conflict if repoID already exists.
func (m *Manager) Create(repoID, owner, ownerUserID string) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.repos[repoID]; ok {
		return nil, cerr.New(cerr.Conflict, "repo %s already exists", repoID)
	}
	existing, err := readFileIfExists(m.repoStatePath(repoID))
	if err != nil {
		return nil, cerr.New(cerr.Io, "stat repo state: %v", err)
	}
	if existing != nil {
		return nil, cerr.New(cerr.Conflict, "repo %s already exists", repoID)
	}

	r := defaultRepo(repoID, owner, ownerUserID)
	h, err := newHandle(m.dataDir, repoID, r)
	if err != nil {
		return nil, err
	}
	if err := persist(m.dataDir, r); err != nil {
		return nil, err
	}
	m.repos[repoID] = h
	return h, nil
}

// List returns every repo id known on disk, without loading their state.
func (m *Manager) List() ([]string, error) {
	entries, err := listDirs(m.dataDir)
	if err != nil {
		return nil, cerr.New(cerr.Io, "list repos: %v", err)
	}
	return entries, nil
}

// Persist writes h's current state to disk via atomic overwrite. Callers
// must hold h's lock.
func (m *Manager) Persist(h *Handle) error {
	return persist(m.dataDir, h.Repo)
}

// Purge removes a repo's entire on-disk state and drops its handle. The
// admin-only destructive operation behind `remote purge`.
func (m *Manager) Purge(repoID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.repos[repoID]; !ok {
		existing, err := readFileIfExists(m.repoStatePath(repoID))
		if err != nil {
			return cerr.New(cerr.Io, "stat repo state: %v", err)
		}
		if existing == nil {
			return cerr.New(cerr.NotFound, "repo %s not found", repoID)
		}
	}
	delete(m.repos, repoID)
	if err := removeAll(m.repoDir(repoID)); err != nil {
		return cerr.New(cerr.Io, "purge repo %s: %v", repoID, err)
	}
	return nil
}
