package graph

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubCloner struct {
	files    []fileInfo
	checkout Checkout
}

func (s stubCloner) CloneOrUpdate(ctx context.Context, cloneURL, localPath, branch string) (Checkout, error) {
	return s.checkout, nil
}

type recordingCloner struct {
	checkout   Checkout
	seenBranch string
}

func (c *recordingCloner) CloneOrUpdate(ctx context.Context, cloneURL, localPath, branch string) (Checkout, error) {
	c.seenBranch = branch
	return c.checkout, nil
}

func newTestAdapter() (*Adapter, *MemoryBackend) {
	backend := NewMemoryBackend()
	cloner := stubCloner{checkout: Checkout{
		Branches: []branchInfo{{Name: "main", IsDefault: true}},
		Commits:  []commitInfo{{Hash: "abc123", Message: "init", Author: "a"}},
	}}
	adapter := New(backend, cloner, "/tmp/ragserver-test-workspace", 50)
	return adapter, backend
}

// IngestRepository walks the real filesystem via analyzeTree, so these tests
// exercise the node/edge wiring directly against the backend instead,
// mirroring what IngestRepository would write for a repo containing one
// file with one class (one method, one attribute) and one free function.
func seedRepo(t *testing.T, ctx context.Context, backend *MemoryBackend, repoName string) string {
	t.Helper()
	repoID := "repo:" + repoName
	require.NoError(t, backend.UpsertNode(ctx, repoID, []string{LabelRepository}, map[string]any{"name": repoName}))

	fileID := repoID + ":file:main.py"
	require.NoError(t, backend.UpsertNode(ctx, fileID, []string{LabelFile}, map[string]any{"path": "main.py"}))
	require.NoError(t, backend.UpsertEdge(ctx, repoID, RelContains, fileID, nil))

	classID := fileID + ":class:Widget"
	require.NoError(t, backend.UpsertNode(ctx, classID, []string{LabelClass}, map[string]any{"name": "Widget"}))
	require.NoError(t, backend.UpsertEdge(ctx, fileID, RelDefines, classID, nil))

	methodID := classID + ":method:render"
	require.NoError(t, backend.UpsertNode(ctx, methodID, []string{LabelMethod}, map[string]any{"name": "render"}))
	require.NoError(t, backend.UpsertEdge(ctx, classID, RelHasMethod, methodID, nil))

	attrID := classID + ":attr:size"
	require.NoError(t, backend.UpsertNode(ctx, attrID, []string{LabelAttribute}, map[string]any{"name": "size"}))
	require.NoError(t, backend.UpsertEdge(ctx, classID, RelHasAttr, attrID, nil))

	fnID := fileID + ":func:helper"
	require.NoError(t, backend.UpsertNode(ctx, fnID, []string{LabelFunction}, map[string]any{"name": "helper"}))
	require.NoError(t, backend.UpsertEdge(ctx, fileID, RelDefines, fnID, nil))

	branchID := repoID + ":branch:main"
	require.NoError(t, backend.UpsertNode(ctx, branchID, []string{LabelBranch}, map[string]any{"name": "main", "is_default": true}))
	require.NoError(t, backend.UpsertEdge(ctx, repoID, RelHasBranch, branchID, nil))

	commitID := repoID + ":commit:abc123"
	require.NoError(t, backend.UpsertNode(ctx, commitID, []string{LabelCommit}, map[string]any{"hash": "abc123"}))
	require.NoError(t, backend.UpsertEdge(ctx, repoID, RelHasCommit, commitID, nil))

	return repoID
}

func TestClearRepositoryRemovesEveryReachableNode(t *testing.T) {
	adapter, backend := newTestAdapter()
	ctx := context.Background()
	repoID := seedRepo(t, ctx, backend, "widgets")

	require.NoError(t, adapter.ClearRepository(ctx, "widgets"))

	for _, id := range []string{
		repoID,
		repoID + ":file:main.py",
		repoID + ":file:main.py:class:Widget",
		repoID + ":file:main.py:class:Widget:method:render",
		repoID + ":file:main.py:class:Widget:attr:size",
		repoID + ":file:main.py:func:helper",
		repoID + ":branch:main",
		repoID + ":commit:abc123",
	} {
		_, ok, err := backend.GetNode(ctx, id)
		require.NoError(t, err)
		require.False(t, ok, "expected %s to be deleted", id)
	}
}

func TestClearRepositoryToleratesMissingNodeKinds(t *testing.T) {
	adapter, backend := newTestAdapter()
	ctx := context.Background()
	repoID := "repo:empty"
	require.NoError(t, backend.UpsertNode(ctx, repoID, []string{LabelRepository}, map[string]any{"name": "empty"}))

	require.NoError(t, adapter.ClearRepository(ctx, "empty"))

	_, ok, err := backend.GetNode(ctx, repoID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFindMethodNarrowsByClassAndRepo(t *testing.T) {
	adapter, backend := newTestAdapter()
	ctx := context.Background()
	seedRepo(t, ctx, backend, "widgets")

	found, err := adapter.FindMethod(ctx, "render", "Widget", "widgets")
	require.NoError(t, err)
	require.Len(t, found, 1)

	notFound, err := adapter.FindMethod(ctx, "render", "OtherClass", "widgets")
	require.NoError(t, err)
	require.Empty(t, notFound)
}

func TestListRepositoriesReturnsAllIngested(t *testing.T) {
	adapter, backend := newTestAdapter()
	ctx := context.Background()
	seedRepo(t, ctx, backend, "widgets")
	seedRepo(t, ctx, backend, "gadgets")

	repos, err := adapter.ListRepositories(ctx)
	require.NoError(t, err)
	require.Len(t, repos, 2)
}

func TestIngestRepositoryWritesRepoBranchAndCommitNodes(t *testing.T) {
	backend := NewMemoryBackend()
	cloner := stubCloner{checkout: Checkout{
		Branches: []branchInfo{{Name: "main", IsDefault: true}},
		Commits:  []commitInfo{{Hash: "deadbeef", Message: "init"}},
	}}
	workspace := t.TempDir()
	require.NoError(t, os.MkdirAll(workspace+"/widgets", 0o755))
	adapter := New(backend, cloner, workspace, 50)
	ctx := context.Background()

	require.NoError(t, adapter.IngestRepository(ctx, "https://example.test/acme/widgets.git", ""))

	repos, err := adapter.ListRepositories(ctx)
	require.NoError(t, err)
	require.Len(t, repos, 1)
	require.Equal(t, "widgets", repos[0].Props["name"])

	branches, err := backend.Neighbors(ctx, repos[0].ID, RelHasBranch)
	require.NoError(t, err)
	require.Len(t, branches, 1)

	commits, err := backend.Neighbors(ctx, repos[0].ID, RelHasCommit)
	require.NoError(t, err)
	require.Len(t, commits, 1)
}

func TestIngestRepositoryPassesBranchThroughToTheCloner(t *testing.T) {
	cloner := &recordingCloner{checkout: Checkout{}}
	ws := t.TempDir()
	require.NoError(t, os.MkdirAll(ws+"/widgets", 0o755))
	adapter := New(NewMemoryBackend(), cloner, ws, 50)
	require.NoError(t, adapter.IngestRepository(context.Background(), "https://example.test/acme/widgets.git", "feature-x"))
	require.Equal(t, "feature-x", cloner.seenBranch)
}
