package revision

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initRepo creates a repository with one commit and returns its path and hash.
func initRepo(t *testing.T) (string, plumbing.Hash) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("main.go")
	require.NoError(t, err)
	hash, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "ci", Email: "ci@example.com", When: time.Unix(1700000000, 0)},
	})
	require.NoError(t, err)
	return dir, hash
}

func TestDetect_CleanCheckout(t *testing.T) {
	dir, hash := initRepo(t)
	sub := filepath.Join(dir, "internal", "app")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	rev, err := Detect(sub)
	require.NoError(t, err)
	assert.Equal(t, hash.String(), rev.Commit)
	assert.NotEmpty(t, rev.Branch)
	assert.False(t, rev.Detached)
	assert.False(t, rev.Dirty)
	assert.Equal(t, "Revision: "+hash.String()[:7]+" ("+rev.Branch+")", rev.String())
}

func TestDetect_DirtyCheckout(t *testing.T) {
	dir, _ := initRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n\nfunc main() {}\n"), 0o644))

	rev, err := Detect(dir)
	require.NoError(t, err)
	assert.True(t, rev.Dirty)
	assert.Contains(t, rev.String(), ", dirty)")
}

func TestDetect_DetachedHead(t *testing.T) {
	dir, hash := initRepo(t)
	repo, err := git.PlainOpen(dir)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, wt.Checkout(&git.CheckoutOptions{Hash: hash}))

	rev, err := Detect(dir)
	require.NoError(t, err)
	assert.True(t, rev.Detached)
	assert.Empty(t, rev.Branch)
	assert.Equal(t, "Revision: "+hash.String()[:7]+" (detached)", rev.String())
}

func TestDetect_NotARepository(t *testing.T) {
	_, err := Detect(t.TempDir())
	assert.ErrorIs(t, err, ErrNotRepository)
}

func TestRevision_String(t *testing.T) {
	assert.Equal(t, "Revision: abc", Revision{Commit: "abc"}.String())
	assert.Equal(t, "Revision: 0123456 (main, dirty)", Revision{Commit: "0123456789", Branch: "main", Dirty: true}.String())
}
