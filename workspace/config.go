package workspace

import (
	"encoding/json"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/converge-vcs/converge/cerr"
)

// RemoteConfig names the server and the (repo, scope, gate) this
// workspace publishes into. The bearer token is kept in state.json, not
// here, so config.yaml can be committed or shared.
type RemoteConfig struct {
	BaseURL string `yaml:"base_url"`
	RepoID  string `yaml:"repo_id"`
	Scope   string `yaml:"scope"`
	Gate    string `yaml:"gate"`
}

// ChunkingConfig controls the large-file chunker behind the manifest
// producer.
type ChunkingConfig struct {
	// ChunkSize is the chunk size in bytes.
	ChunkSize uint64 `yaml:"chunk_size"`
	// Threshold is the file size at which files start being chunked.
	Threshold uint64 `yaml:"threshold"`
}

// RetentionConfig controls local snap retention for workspace-side GC.
type RetentionConfig struct {
	KeepLast   uint64   `yaml:"keep_last,omitempty"`
	KeepDays   uint64   `yaml:"keep_days,omitempty"`
	Pinned     []string `yaml:"pinned,omitempty"`
	PruneSnaps bool     `yaml:"prune_snaps,omitempty"`
}

// Config is the workspace's config.yaml.
type Config struct {
	Version   int              `yaml:"version"`
	Remote    *RemoteConfig    `yaml:"remote,omitempty"`
	Chunking  *ChunkingConfig  `yaml:"chunking,omitempty"`
	Retention *RetentionConfig `yaml:"retention,omitempty"`
}

// LoadConfig reads config.yaml; a missing file yields the zero config.
func (ws *Workspace) LoadConfig() (*Config, error) {
	b, err := os.ReadFile(ws.configPath())
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{Version: 1}, nil
		}
		return nil, cerr.New(cerr.Io, "read config.yaml: %v", err)
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, cerr.New(cerr.InvalidInput, "parse config.yaml: %v", err)
	}
	return &c, nil
}

// SaveConfig writes config.yaml atomically.
func (ws *Workspace) SaveConfig(c *Config) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return cerr.New(cerr.Io, "encode config.yaml: %v", err)
	}
	return writeFileAtomic(ws.configPath(), b)
}

// LaneSyncRecord remembers the last snap synced into a lane.
type LaneSyncRecord struct {
	SnapID   string `json:"snap_id"`
	SyncedAt string `json:"synced_at"`
}

// State is the workspace's mutable sync state, kept out of config.yaml.
type State struct {
	Version int `json:"version"`

	LaneSync map[string]LaneSyncRecord `json:"lane_sync,omitempty"`

	// RemoteTokens maps a remote base URL to its bearer token.
	RemoteTokens map[string]string `json:"remote_tokens,omitempty"`

	// LastPublished tracks the last snap published per remote+scope+gate
	// key.
	LastPublished map[string]string `json:"last_published,omitempty"`
}

// LoadState reads state.json; a missing file yields the zero state.
func (ws *Workspace) LoadState() (*State, error) {
	b, err := os.ReadFile(ws.statePath())
	if err != nil {
		if os.IsNotExist(err) {
			return &State{Version: 1}, nil
		}
		return nil, cerr.New(cerr.Io, "read state.json: %v", err)
	}
	var s State
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, cerr.New(cerr.InvalidInput, "parse state.json: %v", err)
	}
	return &s, nil
}

// SaveState writes state.json atomically.
func (ws *Workspace) SaveState(s *State) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return cerr.New(cerr.Io, "encode state.json: %v", err)
	}
	return writeFileAtomic(ws.statePath(), b)
}

// RemoteToken returns the stored bearer token for baseURL, or "".
func (ws *Workspace) RemoteToken(baseURL string) (string, error) {
	s, err := ws.LoadState()
	if err != nil {
		return "", err
	}
	return s.RemoteTokens[baseURL], nil
}

// SetRemoteToken stores (or, with an empty token, clears) the bearer
// token for baseURL.
func (ws *Workspace) SetRemoteToken(baseURL, token string) error {
	s, err := ws.LoadState()
	if err != nil {
		return err
	}
	if s.RemoteTokens == nil {
		s.RemoteTokens = map[string]string{}
	}
	if token == "" {
		delete(s.RemoteTokens, baseURL)
	} else {
		s.RemoteTokens[baseURL] = token
	}
	return ws.SaveState(s)
}

// RecordLaneSync remembers that snapID was synced into laneID.
func (ws *Workspace) RecordLaneSync(laneID, snapID, syncedAt string) error {
	s, err := ws.LoadState()
	if err != nil {
		return err
	}
	if s.LaneSync == nil {
		s.LaneSync = map[string]LaneSyncRecord{}
	}
	s.LaneSync[laneID] = LaneSyncRecord{SnapID: snapID, SyncedAt: syncedAt}
	return ws.SaveState(s)
}
