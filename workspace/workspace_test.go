package workspace

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/converge-vcs/converge/model"
	"github.com/converge-vcs/converge/objectid"
	"github.com/converge-vcs/converge/server"
)

// staticProducer returns a pre-built manifest tree, standing in for the
// filesystem scanner.
type staticProducer struct {
	root  objectid.ID
	stats model.SnapStats
}

func (p staticProducer) BuildManifest(context.Context) (objectid.ID, model.SnapStats, error) {
	return p.root, p.stats, nil
}

func initWorkspace(t *testing.T) *Workspace {
	t.Helper()
	ws, err := Init(t.TempDir(), false)
	require.NoError(t, err)
	return ws
}

func buildTree(t *testing.T, ws *Workspace, content string) objectid.ID {
	t.Helper()
	blob, err := ws.Store.PutBlob([]byte(content))
	require.NoError(t, err)
	root, err := ws.Store.PutManifest(model.Manifest{Entries: []model.ManifestEntry{
		{Name: "a.txt", Kind: model.File{Blob: blob, Mode: 0o100644, Size: uint64(len(content))}},
	}})
	require.NoError(t, err)
	return root
}

func TestInitDiscoverAndHead(t *testing.T) {
	root := t.TempDir()
	ws, err := Init(root, false)
	require.NoError(t, err)

	// Re-init without force conflicts.
	_, err = Init(root, false)
	require.Error(t, err)

	found, err := Discover(root)
	require.NoError(t, err)
	require.Equal(t, ws.Root, found.Root)

	head, err := ws.Head()
	require.NoError(t, err)
	require.Empty(t, head)

	require.NoError(t, ws.SetHead("abc"))
	head, err = ws.Head()
	require.NoError(t, err)
	require.Equal(t, objectid.ID("abc"), head)

	require.NoError(t, ws.SetHead(""))
	head, err = ws.Head()
	require.NoError(t, err)
	require.Empty(t, head)
}

func TestCreateSnapMovesHead(t *testing.T) {
	ws := initWorkspace(t)
	root := buildTree(t, ws, "content\n")

	snap, err := ws.CreateSnap(context.Background(), staticProducer{root: root, stats: model.SnapStats{FileCount: 1}}, "first")
	require.NoError(t, err)
	require.Equal(t, root, snap.RootManifest)

	head, err := ws.Head()
	require.NoError(t, err)
	require.Equal(t, snap.ID, head)

	snaps, err := ws.ListSnaps()
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.Equal(t, "first", snaps[0].Message)
}

func TestConfigAndStateRoundTrip(t *testing.T) {
	ws := initWorkspace(t)

	cfg := &Config{
		Version: 1,
		Remote:  &RemoteConfig{BaseURL: "http://localhost:7690", RepoID: "r1", Scope: "main", Gate: "dev-intake"},
	}
	require.NoError(t, ws.SaveConfig(cfg))
	got, err := ws.LoadConfig()
	require.NoError(t, err)
	require.Equal(t, cfg, got)

	require.NoError(t, ws.SetRemoteToken("http://localhost:7690", "secret"))
	token, err := ws.RemoteToken("http://localhost:7690")
	require.NoError(t, err)
	require.Equal(t, "secret", token)

	require.NoError(t, ws.SetRemoteToken("http://localhost:7690", ""))
	token, err = ws.RemoteToken("http://localhost:7690")
	require.NoError(t, err)
	require.Empty(t, token)
}

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	config := server.Default()
	config.Storage.DataDir = t.TempDir()
	config.Bootstrap.DevUser = "alice"
	config.Bootstrap.DevToken = "alice-token"
	app, err := server.NewApp(context.Background(), config)
	require.NoError(t, err)
	srv := httptest.NewServer(app)
	t.Cleanup(srv.Close)
	return srv, "alice-token"
}

func TestPublishRoundTrip(t *testing.T) {
	srv, token := newTestServer(t)
	rm := NewRemote(srv.URL, token)
	ctx := context.Background()

	require.NoError(t, rm.CreateRepo(ctx, "r1"))

	ws := initWorkspace(t)
	root := buildTree(t, ws, "publish me\n")
	snap, err := ws.CreateSnap(ctx, staticProducer{root: root, stats: model.SnapStats{FileCount: 1}}, "")
	require.NoError(t, err)

	remote := RemoteConfig{BaseURL: srv.URL, RepoID: "r1", Scope: "main", Gate: "dev-intake"}
	pub, err := ws.Publish(ctx, rm, remote, snap.ID, false, nil)
	require.NoError(t, err)
	require.Equal(t, snap.ID, pub.SnapID)
	require.Equal(t, "alice", pub.Publisher)

	// Publishing the same snap twice into the same scope/gate conflicts.
	_, err = ws.Publish(ctx, rm, remote, snap.ID, false, nil)
	require.Error(t, err)

	// The pushed tree is retrievable from the server.
	pulled := initWorkspace(t)
	got, err := pulled.Pull(ctx, rm, "r1", snap.ID)
	require.NoError(t, err)
	require.Equal(t, snap.RootManifest, got.RootManifest)
}

func TestSyncLane(t *testing.T) {
	srv, token := newTestServer(t)
	rm := NewRemote(srv.URL, token)
	ctx := context.Background()

	require.NoError(t, rm.CreateRepo(ctx, "r1"))

	ws := initWorkspace(t)
	root := buildTree(t, ws, "lane work\n")
	snap, err := ws.CreateSnap(ctx, staticProducer{root: root}, "")
	require.NoError(t, err)

	rec, err := ws.SyncLane(ctx, rm, "r1", "default", "alice", snap.ID, "laptop-1")
	require.NoError(t, err)
	require.Equal(t, snap.ID, rec.SnapID)

	status, err := ws.CheckLane(ctx, rm, "r1", "default", "alice")
	require.NoError(t, err)
	require.True(t, status.InSync)

	// A newer snap from elsewhere makes us out of sync.
	other := buildTree(t, ws, "other work\n")
	snap2, err := ws.CreateSnap(ctx, staticProducer{root: other}, "")
	require.NoError(t, err)
	require.NoError(t, ws.Push(ctx, rm, "r1", snap2.ID))
	_, err = rm.SetLaneHead(ctx, "r1", "default", "alice", snap2.ID, "desktop")
	require.NoError(t, err)

	status, err = ws.CheckLane(ctx, rm, "r1", "default", "alice")
	require.NoError(t, err)
	require.False(t, status.InSync)
	require.Equal(t, snap2.ID, status.RemoteSnap)
}
