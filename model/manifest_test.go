package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/converge-vcs/converge/objectid"
)

func TestManifestEntryRoundTrip(t *testing.T) {
	m := Manifest{
		Version: 1,
		Entries: []ManifestEntry{
			{Name: "a.txt", Kind: File{Blob: objectid.Of([]byte("one\n")), Mode: 0o100644, Size: 4}},
			{Name: "b", Kind: Dir{Manifest: objectid.Of([]byte("sub"))}},
			{Name: "c", Kind: Symlink{Target: "a.txt"}},
			{Name: "d.bin", Kind: FileChunks{Recipe: objectid.Of([]byte("recipe")), Mode: 0o100644, Size: 99}},
		},
	}

	b, err := m.Canonical()
	require.NoError(t, err)

	var decoded Manifest
	require.NoError(t, json.Unmarshal(b, &decoded))
	require.Equal(t, m, decoded)
}

func TestSuperpositionRoundTrip(t *testing.T) {
	sp := Superposition{Variants: []SuperpositionVariant{
		{SourceTag: "pub-1", Kind: File{Blob: objectid.Of([]byte("one\n")), Mode: 0o100644, Size: 4}},
		{SourceTag: "pub-2", Kind: Tombstone{}},
	}}
	entry := ManifestEntry{Name: "a.txt", Kind: sp}

	b, err := json.Marshal(entry)
	require.NoError(t, err)
	require.Contains(t, string(b), `"type":"Superposition"`)

	var decoded ManifestEntry
	require.NoError(t, json.Unmarshal(b, &decoded))
	require.Equal(t, entry, decoded)
}

func TestManifestIDIsContentAddressed(t *testing.T) {
	m1 := Manifest{Version: 1, Entries: []ManifestEntry{{Name: "a", Kind: Symlink{Target: "x"}}}}
	m2 := Manifest{Version: 1, Entries: []ManifestEntry{{Name: "a", Kind: Symlink{Target: "x"}}}}
	m3 := Manifest{Version: 1, Entries: []ManifestEntry{{Name: "a", Kind: Symlink{Target: "y"}}}}

	id1, err := m1.ID()
	require.NoError(t, err)
	id2, err := m2.ID()
	require.NoError(t, err)
	id3, err := m3.ID()
	require.NoError(t, err)

	require.Equal(t, id1, id2)
	require.NotEqual(t, id1, id3)
}

func TestHasSuperposition(t *testing.T) {
	plain := Manifest{Entries: []ManifestEntry{{Name: "a", Kind: Symlink{Target: "x"}}}}
	require.False(t, plain.HasSuperposition())

	withSuper := Manifest{Entries: []ManifestEntry{{Name: "a", Kind: Superposition{}}}}
	require.True(t, withSuper.HasSuperposition())
}
