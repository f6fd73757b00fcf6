// Package graph implements the code knowledge graph adapter (C8): ingest of
// a cloned repository into Repository/File/Class/Method/Function/Attribute/
// Branch/Commit nodes and edges, plus the read operations retrieval needs.
package graph

import (
	"context"
	"fmt"
	"path/filepath"
)

// Node labels used throughout the graph.
const (
	LabelRepository = "Repository"
	LabelBranch     = "Branch"
	LabelCommit     = "Commit"
	LabelFile       = "File"
	LabelClass      = "Class"
	LabelMethod     = "Method"
	LabelFunction   = "Function"
	LabelAttribute  = "Attribute"
)

// Edge relationship names.
const (
	RelContains    = "CONTAINS"
	RelDefines     = "DEFINES"
	RelHasMethod   = "HAS_METHOD"
	RelHasAttr     = "HAS_ATTRIBUTE"
	RelHasBranch   = "HAS_BRANCH"
	RelHasCommit   = "HAS_COMMIT"
)

// Node is a single graph entity.
type Node struct {
	ID     string
	Labels []string
	Props  map[string]any
}

// Backend is the minimal transactional graph primitive the adapter needs.
// A concrete backend (in-memory, Postgres node/edge tables) must support
// label+property lookups and a best-effort transaction wrapper.
type Backend interface {
	UpsertNode(ctx context.Context, id string, labels []string, props map[string]any) error
	UpsertEdge(ctx context.Context, srcID, rel, dstID string, props map[string]any) error
	Neighbors(ctx context.Context, id string, rel string) ([]string, error)
	GetNode(ctx context.Context, id string) (Node, bool, error)
	FindNodes(ctx context.Context, label string, propFilter map[string]any) ([]Node, error)
	DeleteNode(ctx context.Context, id string) error
	// RunInTransaction executes fn atomically where the backend supports
	// real transactions: PostgresBackend runs fn in one pgx transaction, so
	// a failure anywhere in fn leaves no partial effect. MemoryBackend runs
	// fn directly, with no lock held across it and no rollback.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx Backend) error) error
}

// ErrGraphUnavailable is returned by read operations when the backend is
// closed or unreachable; callers must tolerate it and degrade gracefully.
var ErrGraphUnavailable = fmt.Errorf("graph backend unavailable")

// ErrCleanupFailed wraps any error encountered mid cascade-clear.
type ErrCleanupFailed struct {
	Repo string
	Err  error
}

func (e *ErrCleanupFailed) Error() string {
	return fmt.Sprintf("graph cleanup failed for repository %q: %v", e.Repo, e.Err)
}

func (e *ErrCleanupFailed) Unwrap() error { return e.Err }

// Adapter is the C8 graph store adapter.
type Adapter struct {
	backend            Backend
	cloner             Cloner
	workspaceDir       string
	commitHistoryLimit int
}

// New builds an Adapter. commitHistoryLimit caps how many Commit nodes are
// retained per ingest, most-recent first; <=0 defaults to 50.
func New(backend Backend, cloner Cloner, workspaceDir string, commitHistoryLimit int) *Adapter {
	if commitHistoryLimit <= 0 {
		commitHistoryLimit = 50
	}
	return &Adapter{backend: backend, cloner: cloner, workspaceDir: workspaceDir, commitHistoryLimit: commitHistoryLimit}
}

func repoNameFromCloneURL(cloneURL string) string {
	base := filepath.Base(cloneURL)
	for _, suffix := range []string{".git"} {
		if len(base) > len(suffix) && base[len(base)-len(suffix):] == suffix {
			base = base[:len(base)-len(suffix)]
		}
	}
	return base
}

// IngestRepository clones or updates cloneURL, clears any prior graph state
// for it, statically analyzes the checkout, and writes File/Class/Method/
// Function/Attribute nodes plus Repository/Branch/Commit nodes and edges.
// branch empty analyzes the default branch; otherwise that branch is checked
// out first.
func (a *Adapter) IngestRepository(ctx context.Context, cloneURL, branch string) error {
	repoName := repoNameFromCloneURL(cloneURL)
	localPath := filepath.Join(a.workspaceDir, repoName)

	checkout, err := a.cloner.CloneOrUpdate(ctx, cloneURL, localPath, branch)
	if err != nil {
		return fmt.Errorf("clone %s: %w", cloneURL, err)
	}

	if err := a.ClearRepository(ctx, repoName); err != nil {
		return err
	}

	files, err := analyzeTree(localPath)
	if err != nil {
		return fmt.Errorf("analyze %s: %w", repoName, err)
	}

	return a.backend.RunInTransaction(ctx, func(ctx context.Context, tx Backend) error {
		repoID := "repo:" + repoName
		if err := tx.UpsertNode(ctx, repoID, []string{LabelRepository}, map[string]any{"name": repoName, "clone_url": cloneURL}); err != nil {
			return err
		}
		for _, f := range files {
			fileID := repoID + ":file:" + f.Path
			if err := tx.UpsertNode(ctx, fileID, []string{LabelFile}, map[string]any{"path": f.Path}); err != nil {
				return err
			}
			if err := tx.UpsertEdge(ctx, repoID, RelContains, fileID, nil); err != nil {
				return err
			}
			if err := writeClasses(ctx, tx, fileID, f.Classes); err != nil {
				return err
			}
			if err := writeFunctions(ctx, tx, fileID, f.Functions); err != nil {
				return err
			}
		}
		if err := writeBranches(ctx, tx, repoID, checkout.Branches); err != nil {
			return err
		}
		return writeCommits(ctx, tx, repoID, checkout.Commits, a.commitHistoryLimit)
	})
}

func writeClasses(ctx context.Context, tx Backend, fileID string, classes []classInfo) error {
	for _, c := range classes {
		classID := fileID + ":class:" + c.Name
		if err := tx.UpsertNode(ctx, classID, []string{LabelClass}, map[string]any{
			"name": c.Name, "qualified_name": c.QualifiedName, "line": c.Line, "docstring": c.Docstring,
		}); err != nil {
			return err
		}
		if err := tx.UpsertEdge(ctx, fileID, RelDefines, classID, nil); err != nil {
			return err
		}
		for _, m := range c.Methods {
			methodID := classID + ":method:" + m.Name
			if err := tx.UpsertNode(ctx, methodID, []string{LabelMethod}, methodProps(m)); err != nil {
				return err
			}
			if err := tx.UpsertEdge(ctx, classID, RelHasMethod, methodID, nil); err != nil {
				return err
			}
		}
		for _, attr := range c.Attributes {
			attrID := classID + ":attr:" + attr
			if err := tx.UpsertNode(ctx, attrID, []string{LabelAttribute}, map[string]any{"name": attr}); err != nil {
				return err
			}
			if err := tx.UpsertEdge(ctx, classID, RelHasAttr, attrID, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeFunctions(ctx context.Context, tx Backend, fileID string, funcs []funcInfo) error {
	for _, fn := range funcs {
		fnID := fileID + ":func:" + fn.Name
		if err := tx.UpsertNode(ctx, fnID, []string{LabelFunction}, methodProps(fn)); err != nil {
			return err
		}
		if err := tx.UpsertEdge(ctx, fileID, RelDefines, fnID, nil); err != nil {
			return err
		}
	}
	return nil
}

func methodProps(f funcInfo) map[string]any {
	return map[string]any{
		"name":           f.Name,
		"qualified_name": f.QualifiedName,
		"line":           f.Line,
		"params":         f.RawParams,
		"return_type":    f.ReturnType,
		"docstring":      f.Docstring,
		"is_async":       f.IsAsync,
		"is_static":      f.IsStatic,
		"is_classmethod": f.IsClassMethod,
	}
}

func writeBranches(ctx context.Context, tx Backend, repoID string, branches []branchInfo) error {
	for _, b := range branches {
		branchID := repoID + ":branch:" + b.Name
		if err := tx.UpsertNode(ctx, branchID, []string{LabelBranch}, map[string]any{"name": b.Name, "is_default": b.IsDefault}); err != nil {
			return err
		}
		if err := tx.UpsertEdge(ctx, repoID, RelHasBranch, branchID, nil); err != nil {
			return err
		}
	}
	return nil
}

func writeCommits(ctx context.Context, tx Backend, repoID string, commits []commitInfo, limit int) error {
	if len(commits) > limit {
		commits = commits[:limit]
	}
	for _, c := range commits {
		commitID := repoID + ":commit:" + c.Hash
		if err := tx.UpsertNode(ctx, commitID, []string{LabelCommit}, map[string]any{
			"hash": c.Hash, "message": c.Message, "author": c.Author, "when": c.When,
		}); err != nil {
			return err
		}
		if err := tx.UpsertEdge(ctx, repoID, RelHasCommit, commitID, nil); err != nil {
			return err
		}
	}
	return nil
}

// ClearRepository deletes, in one transaction, every node reachable from the
// named repository in dependency order: methods, attributes, functions,
// classes, files, branches, commits, and finally the repository node itself.
// Missing node kinds are tolerated. On any failure the transaction rolls
// back and an ErrCleanupFailed is returned; no automatic re-ingest follows.
func (a *Adapter) ClearRepository(ctx context.Context, repoName string) error {
	repoID := "repo:" + repoName
	err := a.backend.RunInTransaction(ctx, func(ctx context.Context, tx Backend) error {
		files, err := childrenOf(ctx, tx, repoID, RelContains)
		if err != nil {
			return err
		}
		for _, fileID := range files {
			classes, err := neighborsByLabel(ctx, tx, fileID, RelDefines, LabelClass)
			if err != nil {
				return err
			}
			for _, classID := range classes {
				methods, err := childrenOf(ctx, tx, classID, RelHasMethod)
				if err != nil {
					return err
				}
				if err := deleteAll(ctx, tx, methods); err != nil {
					return err
				}
				attrs, err := childrenOf(ctx, tx, classID, RelHasAttr)
				if err != nil {
					return err
				}
				if err := deleteAll(ctx, tx, attrs); err != nil {
					return err
				}
			}
			functions, err := neighborsByLabel(ctx, tx, fileID, RelDefines, LabelFunction)
			if err != nil {
				return err
			}
			if err := deleteAll(ctx, tx, functions); err != nil {
				return err
			}
			if err := deleteAll(ctx, tx, classes); err != nil {
				return err
			}
		}
		if err := deleteAll(ctx, tx, files); err != nil {
			return err
		}
		branches, err := childrenOf(ctx, tx, repoID, RelHasBranch)
		if err != nil {
			return err
		}
		if err := deleteAll(ctx, tx, branches); err != nil {
			return err
		}
		commits, err := childrenOf(ctx, tx, repoID, RelHasCommit)
		if err != nil {
			return err
		}
		if err := deleteAll(ctx, tx, commits); err != nil {
			return err
		}
		return tx.DeleteNode(ctx, repoID)
	})
	if err != nil {
		return &ErrCleanupFailed{Repo: repoName, Err: err}
	}
	return nil
}

func childrenOf(ctx context.Context, tx Backend, id, rel string) ([]string, error) {
	return tx.Neighbors(ctx, id, rel)
}

func neighborsByLabel(ctx context.Context, tx Backend, id, rel, label string) ([]string, error) {
	ids, err := tx.Neighbors(ctx, id, rel)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, candidate := range ids {
		n, ok, err := tx.GetNode(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		for _, l := range n.Labels {
			if l == label {
				out = append(out, candidate)
				break
			}
		}
	}
	return out, nil
}

func deleteAll(ctx context.Context, tx Backend, ids []string) error {
	for _, id := range ids {
		if err := tx.DeleteNode(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// FindMethod looks up method nodes by name, optionally narrowed by class or
// repository name.
func (a *Adapter) FindMethod(ctx context.Context, name, class, repo string) ([]Node, error) {
	return a.findByLabel(ctx, LabelMethod, name, class, repo)
}

// FindFunction looks up function nodes by name, optionally narrowed by repo.
func (a *Adapter) FindFunction(ctx context.Context, name, repo string) ([]Node, error) {
	return a.findByLabel(ctx, LabelFunction, name, "", repo)
}

// FindClass looks up class nodes by name, optionally narrowed by repo.
func (a *Adapter) FindClass(ctx context.Context, name, repo string) ([]Node, error) {
	return a.findByLabel(ctx, LabelClass, name, "", repo)
}

func (a *Adapter) findByLabel(ctx context.Context, label, name, class, repo string) ([]Node, error) {
	filter := map[string]any{"name": name}
	nodes, err := a.backend.FindNodes(ctx, label, filter)
	if err != nil {
		return nil, err
	}
	if class == "" && repo == "" {
		return nodes, nil
	}
	var out []Node
	for _, n := range nodes {
		if class != "" && !idContains(n.ID, ":class:"+class+":") {
			continue
		}
		if repo != "" && !idContains(n.ID, "repo:"+repo+":") {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func idContains(id, substr string) bool {
	for i := 0; i+len(substr) <= len(id); i++ {
		if id[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// ListRepositories returns every ingested repository node.
func (a *Adapter) ListRepositories(ctx context.Context) ([]Node, error) {
	return a.backend.FindNodes(ctx, LabelRepository, nil)
}

// RepositoryInfo summarizes a previously ingested repository for inspection:
// its file/class/function counts and its known branches and commits.
type RepositoryInfo struct {
	Name          string
	CloneURL      string
	FileCount     int
	ClassCount    int
	FunctionCount int
	Branches      []string
	Commits       []string
}

// RepositoryInfo walks the Repository node named repoName and its direct
// children, returning a RepositoryInfo. It returns ErrGraphUnavailable
// unchanged if the backend can't be reached.
func (a *Adapter) RepositoryInfo(ctx context.Context, repoName string) (RepositoryInfo, error) {
	repoID := "repo:" + repoName
	node, ok, err := a.backend.GetNode(ctx, repoID)
	if err != nil {
		return RepositoryInfo{}, err
	}
	if !ok {
		return RepositoryInfo{}, fmt.Errorf("repository %q not found", repoName)
	}

	info := RepositoryInfo{Name: repoName}
	if cloneURL, ok := node.Props["clone_url"].(string); ok {
		info.CloneURL = cloneURL
	}

	fileIDs, err := a.backend.Neighbors(ctx, repoID, RelContains)
	if err != nil {
		return RepositoryInfo{}, err
	}
	info.FileCount = len(fileIDs)
	for _, fileID := range fileIDs {
		childIDs, err := a.backend.Neighbors(ctx, fileID, RelDefines)
		if err != nil {
			return RepositoryInfo{}, err
		}
		for _, childID := range childIDs {
			child, ok, err := a.backend.GetNode(ctx, childID)
			if err != nil || !ok {
				continue
			}
			for _, label := range child.Labels {
				switch label {
				case LabelClass:
					info.ClassCount++
				case LabelFunction:
					info.FunctionCount++
				}
			}
		}
	}

	branchIDs, err := a.backend.Neighbors(ctx, repoID, RelHasBranch)
	if err != nil {
		return RepositoryInfo{}, err
	}
	for _, id := range branchIDs {
		if n, ok, _ := a.backend.GetNode(ctx, id); ok {
			if name, ok := n.Props["name"].(string); ok {
				info.Branches = append(info.Branches, name)
			}
		}
	}

	commitIDs, err := a.backend.Neighbors(ctx, repoID, RelHasCommit)
	if err != nil {
		return RepositoryInfo{}, err
	}
	for _, id := range commitIDs {
		if n, ok, _ := a.backend.GetNode(ctx, id); ok {
			if hash, ok := n.Props["hash"].(string); ok {
				info.Commits = append(info.Commits, hash)
			}
		}
	}
	return info, nil
}
