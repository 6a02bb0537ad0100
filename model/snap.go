package model

import (
	"encoding/json"
	"fmt"

	"github.com/converge-vcs/converge/objectid"
)

// FileRecipeChunk is one ordered chunk of a large file recipe.
type FileRecipeChunk struct {
	Blob objectid.ID `json:"blob"`
	Size uint64      `json:"size"`
}

// FileRecipe is the ordered chunk list for reconstructing a large file.
type FileRecipe struct {
	Version uint32            `json:"version"`
	Chunks  []FileRecipeChunk `json:"chunks"`
}

func (r FileRecipe) Canonical() ([]byte, error) { return json.Marshal(r) }

func (r FileRecipe) ID() (objectid.ID, error) {
	b, err := r.Canonical()
	if err != nil {
		return "", err
	}
	return objectid.Of(b), nil
}

// SnapStats is a summary attached to a Snap, computed by the workspace
// manifest producer (out of core scope) and carried through untouched.
type SnapStats struct {
	FileCount uint64 `json:"file_count"`
	DirCount  uint64 `json:"dir_count"`
	TotalSize uint64 `json:"total_size"`
}

// Snap is an immutable reference to a root manifest with a timestamp and
// optional message. Its id is derived, not a hash of the whole
// record: `id = hash(created_at || "\n" || root_manifest)`.
type Snap struct {
	Version      uint32      `json:"version"`
	ID           objectid.ID `json:"id"`
	CreatedAt    string      `json:"created_at"`
	RootManifest objectid.ID `json:"root_manifest"`
	Message      string      `json:"message,omitempty"`
	Stats        SnapStats   `json:"stats"`
}

// ComputeSnapID derives a Snap's id from its created_at and
// root_manifest fields.
func ComputeSnapID(createdAt string, rootManifest objectid.ID) objectid.ID {
	return objectid.Of([]byte(fmt.Sprintf("%s\n%s", createdAt, rootManifest)))
}

// NewSnap builds a Snap with its id computed from createdAt/rootManifest.
func NewSnap(createdAt string, rootManifest objectid.ID, message string, stats SnapStats) Snap {
	return Snap{
		Version:      1,
		ID:           ComputeSnapID(createdAt, rootManifest),
		CreatedAt:    createdAt,
		RootManifest: rootManifest,
		Message:      message,
		Stats:        stats,
	}
}
