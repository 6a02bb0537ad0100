package workspace

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/converge-vcs/converge/model"
	"github.com/converge-vcs/converge/objectid"
	"github.com/converge-vcs/converge/store"
	"github.com/converge-vcs/converge/store/driver/inmemory"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	return store.New(inmemory.New())
}

func putFileManifest(t *testing.T, s *store.Store, entries...model.ManifestEntry) objectid.ID {
	t.Helper()
	id, err := s.PutManifest(model.Manifest{Entries: entries})
	require.NoError(t, err)
	return id
}

func fileEntry(t *testing.T, s *store.Store, name, content string) model.ManifestEntry {
	t.Helper()
	blob, err := s.PutBlob([]byte(content))
	require.NoError(t, err)
	return model.ManifestEntry{Name: name, Kind: model.File{Blob: blob, Mode: 0o100644, Size: uint64(len(content))}}
}

func TestDiffTreesDetectsRenameForSameBlob(t *testing.T) {
	s := testStore(t)
	base := putFileManifest(t, s, fileEntry(t, s, "a.txt", "hello\n"))
	cur := putFileManifest(t, s, fileEntry(t, s, "b.txt", "hello\n"))

	changes, err := DiffTrees(s, base, cur)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, ChangeRenamed, changes[0].Kind)
	require.Equal(t, "b.txt", changes[0].Path)
	require.Equal(t, "a.txt", changes[0].From)
}

func TestDiffTreesAmbiguousRenameFallsBackToAddDelete(t *testing.T) {
	s := testStore(t)
	base := putFileManifest(t, s, fileEntry(t, s, "a.txt", "same\n"))
	// Two added paths share the deleted file's identity: no unique pairing.
	cur := putFileManifest(t, s,
		fileEntry(t, s, "b.txt", "same\n"),
		fileEntry(t, s, "c.txt", "same\n"),
	)

	changes, err := DiffTrees(s, base, cur)
	require.NoError(t, err)
	require.Len(t, changes, 3)
	kinds := map[string]ChangeKind{}
	for _, c := range changes {
		kinds[c.Path] = c.Kind
	}
	require.Equal(t, ChangeDeleted, kinds["a.txt"])
	require.Equal(t, ChangeAdded, kinds["b.txt"])
	require.Equal(t, ChangeAdded, kinds["c.txt"])
}

func TestDiffTreesModifiedAndNested(t *testing.T) {
	s := testStore(t)

	baseSub := putFileManifest(t, s, fileEntry(t, s, "inner.txt", "v1\n"))
	base := putFileManifest(t, s,
		model.ManifestEntry{Name: "dir", Kind: model.Dir{Manifest: baseSub}},
		fileEntry(t, s, "top.txt", "same\n"),
	)

	curSub := putFileManifest(t, s, fileEntry(t, s, "inner.txt", "v2\n"))
	cur := putFileManifest(t, s,
		model.ManifestEntry{Name: "dir", Kind: model.Dir{Manifest: curSub}},
		fileEntry(t, s, "top.txt", "same\n"),
	)

	changes, err := DiffTrees(s, base, cur)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, ChangeModified, changes[0].Kind)
	require.Equal(t, "dir/inner.txt", changes[0].Path)
}

func TestDiffTreesSymlinkIdentity(t *testing.T) {
	s := testStore(t)
	base := putFileManifest(t, s, model.ManifestEntry{Name: "ln", Kind: model.Symlink{Target: "a"}})
	cur := putFileManifest(t, s, model.ManifestEntry{Name: "ln", Kind: model.Symlink{Target: "b"}})

	changes, err := DiffTrees(s, base, cur)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, ChangeModified, changes[0].Kind)
}

func TestDiffTreesEmptyBaseIsAllAdds(t *testing.T) {
	s := testStore(t)
	cur := putFileManifest(t, s, fileEntry(t, s, "a.txt", "x\n"))

	changes, err := DiffTrees(s, "", cur)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, ChangeAdded, changes[0].Kind)
}
