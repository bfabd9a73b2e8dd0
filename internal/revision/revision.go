// Package revision describes the checkout a process runs from, so an issue
// can name the commit that produced the failure.
package revision

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5"
)

// ErrNotRepository is returned when no git repository encloses the path.
var ErrNotRepository = errors.New("not a git repository")

const shortHashLen = 7

// Revision is the state of a checkout.
type Revision struct {
	Commit   string
	Branch   string
	Detached bool
	Dirty    bool
}

// Detect inspects the repository containing path, walking up to the
// enclosing .git directory.
func Detect(path string) (Revision, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return Revision{}, fmt.Errorf("%w: %s", ErrNotRepository, path)
		}
		return Revision{}, fmt.Errorf("failed to open repository: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return Revision{}, fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	rev := Revision{Commit: head.Hash().String()}
	if head.Name().IsBranch() {
		rev.Branch = head.Name().Short()
	} else {
		rev.Detached = true
	}

	wt, err := repo.Worktree()
	if err != nil {
		// Bare repositories have no worktree to be dirty.
		if errors.Is(err, git.ErrIsBareRepository) {
			return rev, nil
		}
		return Revision{}, fmt.Errorf("failed to open worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return Revision{}, fmt.Errorf("failed to read worktree status: %w", err)
	}
	rev.Dirty = !status.IsClean()
	return rev, nil
}

// Short returns the abbreviated commit hash.
func (r Revision) Short() string {
	if len(r.Commit) > shortHashLen {
		return r.Commit[:shortHashLen]
	}
	return r.Commit
}

// String renders the line added to an issue body, e.g.
// "Revision: 1a2b3c4 (main, dirty)".
func (r Revision) String() string {
	var notes []string
	switch {
	case r.Branch != "":
		notes = append(notes, r.Branch)
	case r.Detached:
		notes = append(notes, "detached")
	}
	if r.Dirty {
		notes = append(notes, "dirty")
	}
	if len(notes) == 0 {
		return "Revision: " + r.Short()
	}
	return fmt.Sprintf("Revision: %s (%s)", r.Short(), strings.Join(notes, ", "))
}
