package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/converge-vcs/converge/cerr"
	"github.com/converge-vcs/converge/model"
	"github.com/converge-vcs/converge/objectid"
	"github.com/converge-vcs/converge/store/driver/inmemory"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(inmemory.New())
}

func TestPutGetBlobRoundTrip(t *testing.T) {
	s := newTestStore(t)
	id, err := s.PutBlob([]byte("payload"))
	require.NoError(t, err)

	got, err := s.GetBlob(id)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), got)

	ok, err := s.Has(KindBlob, id)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestPutIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	id1, err := s.PutBlob([]byte("same"))
	require.NoError(t, err)
	id2, err := s.PutBlob([]byte("same"))
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestGetBytesRoundTripEqualsPut(t *testing.T) {
	s := newTestStore(t)
	id, err := s.PutBlob([]byte("roundtrip"))
	require.NoError(t, err)

	b, err := s.GetBytes(KindBlob, id)
	require.NoError(t, err)
	id2, err := s.PutBlob(b)
	require.NoError(t, err)
	require.Equal(t, id, id2)
}

func TestGetBlobMissingIsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetBlob(objectid.Of([]byte("never-written")))
	require.Error(t, err)
	require.Equal(t, cerr.NotFound, cerr.CodeOf(err))
}

func TestPutBytesWithIDVerifiesHash(t *testing.T) {
	s := newTestStore(t)
	wrongID := objectid.Of([]byte("other"))
	err := s.PutBytesWithID(KindBlob, wrongID, []byte("payload"))
	require.Error(t, err)
	require.Equal(t, cerr.IntegrityError, cerr.CodeOf(err))

	rightID := objectid.Of([]byte("payload"))
	require.NoError(t, s.PutBytesWithID(KindBlob, rightID, []byte("payload")))
}

func TestManifestRoundTrip(t *testing.T) {
	s := newTestStore(t)
	m := model.Manifest{Version: 1, Entries: []model.ManifestEntry{
		{Name: "a", Kind: model.Symlink{Target: "x"}},
	}}
	id, err := s.PutManifest(m)
	require.NoError(t, err)

	got, err := s.GetManifest(id)
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func TestSnapPutGetAndDerivedID(t *testing.T) {
	s := newTestStore(t)
	root, err := s.PutManifest(model.Manifest{})
	require.NoError(t, err)
	snap := model.NewSnap("2026-07-29T00:00:00Z", root, "first snap", model.SnapStats{})

	id, err := s.PutSnap(snap)
	require.NoError(t, err)
	require.Equal(t, model.ComputeSnapID("2026-07-29T00:00:00Z", root), id)

	got, err := s.GetSnap(id)
	require.NoError(t, err)
	require.Equal(t, snap, got)
}

func TestWalkKindListsWrittenObjects(t *testing.T) {
	s := newTestStore(t)
	id1, err := s.PutBlob([]byte("one"))
	require.NoError(t, err)
	id2, err := s.PutBlob([]byte("two"))
	require.NoError(t, err)

	ids, err := s.WalkKind(KindBlob)
	require.NoError(t, err)
	require.ElementsMatch(t, []objectid.ID{id1, id2}, ids)
}

func TestDeleteThenWalkOmitsObject(t *testing.T) {
	s := newTestStore(t)
	id, err := s.PutBlob([]byte("to-delete"))
	require.NoError(t, err)
	require.NoError(t, s.Delete(KindBlob, id))

	ids, err := s.WalkKind(KindBlob)
	require.NoError(t, err)
	require.NotContains(t, ids, id)

	_, err = s.GetBlob(id)
	require.Error(t, err)
}

func TestIntegrityErrorOnTamperedBytes(t *testing.T) {
	d := inmemory.New()
	s := New(d)
	id, err := s.PutBlob([]byte("original"))
	require.NoError(t, err)

	require.NoError(t, d.PutContent(objectPath(KindBlob, id), []byte("tampered")))

	_, err = s.GetBlob(id)
	require.Error(t, err)
	require.Equal(t, cerr.IntegrityError, cerr.CodeOf(err))
}
