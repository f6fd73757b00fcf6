package graph

import (
	"context"
	"fmt"
	"io"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

type branchInfo struct {
	Name      string
	IsDefault bool
}

type commitInfo struct {
	Hash    string
	Message string
	Author  string
	When    string
}

// Checkout is the branch/commit metadata a Cloner gathers alongside the
// working tree it leaves on disk.
type Checkout struct {
	Branches []branchInfo
	Commits  []commitInfo
}

// Cloner materializes a repository on disk and reports its branch/commit
// history. Abstracted so ingest tests don't need real network access. branch
// empty means the repository's default branch; otherwise that branch is
// checked out before the commit/branch history is gathered.
type Cloner interface {
	CloneOrUpdate(ctx context.Context, cloneURL, localPath, branch string) (Checkout, error)
}

// GoGitCloner clones (or opens and fetches) a repository with go-git,
// grounded on the same clone-or-open pattern used elsewhere in the corpus
// to pull a repository onto a local workspace before walking it.
type GoGitCloner struct{}

func (GoGitCloner) CloneOrUpdate(ctx context.Context, cloneURL, localPath, branch string) (Checkout, error) {
	var cloneOpts git.CloneOptions
	cloneOpts.URL = cloneURL
	cloneOpts.Progress = io.Discard
	if branch != "" {
		cloneOpts.ReferenceName = plumbing.NewBranchReferenceName(branch)
	}

	repo, err := git.PlainOpen(localPath)
	if err != nil {
		repo, err = git.PlainCloneContext(ctx, localPath, false, &cloneOpts)
		if err != nil {
			return Checkout{}, fmt.Errorf("clone %s: %w", cloneURL, err)
		}
	} else {
		if branch != "" {
			if err := checkoutBranch(ctx, repo, branch); err != nil {
				return Checkout{}, fmt.Errorf("checkout %s: %w", branch, err)
			}
		}
		if w, err := repo.Worktree(); err == nil {
			_ = w.PullContext(ctx, &git.PullOptions{Progress: io.Discard})
		}
	}

	headRef, err := repo.Head()
	var defaultBranch string
	if err == nil && headRef.Name().IsBranch() {
		defaultBranch = headRef.Name().Short()
	}

	var branches []branchInfo
	refs, err := repo.Branches()
	if err == nil {
		_ = refs.ForEach(func(ref *plumbing.Reference) error {
			name := ref.Name().Short()
			branches = append(branches, branchInfo{Name: name, IsDefault: name == defaultBranch})
			return nil
		})
	}
	if len(branches) == 0 && defaultBranch != "" {
		branches = append(branches, branchInfo{Name: defaultBranch, IsDefault: true})
	}

	var commits []commitInfo
	if headRef != nil {
		iter, err := repo.Log(&git.LogOptions{From: headRef.Hash()})
		if err == nil {
			_ = iter.ForEach(func(c *object.Commit) error {
				commits = append(commits, commitInfo{
					Hash:    c.Hash.String(),
					Message: c.Message,
					Author:  c.Author.Name,
					When:    c.Author.When.Format("2006-01-02T15:04:05Z07:00"),
				})
				return nil
			})
		}
	}

	return Checkout{Branches: branches, Commits: commits}, nil
}

// checkoutBranch switches an already-cloned working tree onto branch,
// creating a local tracking ref from origin if branch has no local ref yet.
func checkoutBranch(ctx context.Context, repo *git.Repository, branch string) error {
	_ = repo.FetchContext(ctx, &git.FetchOptions{Progress: io.Discard})

	branchRef := plumbing.NewBranchReferenceName(branch)
	if _, err := repo.Reference(branchRef, true); err != nil {
		remoteRef := plumbing.NewRemoteReferenceName("origin", branch)
		hash, err := repo.ResolveRevision(plumbing.Revision(remoteRef))
		if err != nil {
			return fmt.Errorf("resolve remote branch %s: %w", branch, err)
		}
		if err := repo.Storer.SetReference(plumbing.NewHashReference(branchRef, *hash)); err != nil {
			return err
		}
	}

	w, err := repo.Worktree()
	if err != nil {
		return err
	}
	return w.Checkout(&git.CheckoutOptions{Branch: branchRef, Force: true})
}
