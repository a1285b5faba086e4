//go:build e2e && unix

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serverSource has a single hit on line 10 and enough lines around it for
// full context on both sides
func serverSource() string {
	var b strings.Builder
	for i := 1; i <= 20; i++ {
		if i == 10 {
			b.WriteString("func needle() {}\n")
			continue
		}
		fmt.Fprintf(&b, "// line %d\n", i)
	}
	return b.String()
}

type jsonOutput struct {
	Query string `json:"query"`
	Files []struct {
		Path   string `json:"path"`
		Ranges []struct {
			Start int `json:"start"`
			End   int `json:"end"`
		} `json:"ranges"`
		FirstSubMatchLine *int `json:"firstSubMatchLine"`
	} `json:"files"`
}

func setupRepo(t *testing.T, tf *TUITestFramework, options ...RepoOption) string {
	t.Helper()
	_, err := tf.CreateTestWorkspace()
	require.NoError(t, err)

	options = append([]RepoOption{WithFiles(map[string]string{
		"pkg/server.go": serverSource(),
		"docs/notes.md": "nothing to see\n",
	})}, options...)
	repo, err := tf.CreateTestRepo("proj", options...)
	require.NoError(t, err)
	return repo
}

func TestHeadlessSearchJSON(t *testing.T) {
	t.Parallel()
	tf := NewTUITest(t)
	defer tf.Cleanup()
	repo := setupRepo(t, tf)

	stdout, stderr, code := tf.RunHeadless("--root", repo, "search", "--json", "needle")
	require.Equal(t, 0, code, stderr)

	var out jsonOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, "needle", out.Query)
	require.Len(t, out.Files, 1)

	f := out.Files[0]
	assert.Equal(t, "pkg/server.go", f.Path)
	require.Len(t, f.Ranges, 1)
	assert.Equal(t, 7, f.Ranges[0].Start)
	assert.Equal(t, 13, f.Ranges[0].End)
	require.NotNil(t, f.FirstSubMatchLine)
	assert.Equal(t, 10, *f.FirstSubMatchLine)
}

func TestHeadlessSearchText(t *testing.T) {
	t.Parallel()
	tf := NewTUITest(t)
	defer tf.Cleanup()
	repo := setupRepo(t, tf)

	stdout, stderr, code := tf.RunHeadless("--root", repo, "search", "--blocks", "needle")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "pkg/server.go:10 (1 matches)")
	assert.Contains(t, stdout, "7-13 -> 10")
	assert.Contains(t, stdout, "10 │ func needle() {}")

	stdout, _, code = tf.RunHeadless("--root", repo, "search", "absent-token-xyz")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "No results")
}

func TestHeadlessSearchRevision(t *testing.T) {
	t.Parallel()
	tf := NewTUITest(t)
	defer tf.Cleanup()
	repo := setupRepo(t, tf, WithDirtyFiles(map[string]string{
		"pkg/extra.go": "var needle = 1\n",
	}))

	stdout, stderr, code := tf.RunHeadless("--root", repo, "search", "--json", "needle")
	require.Equal(t, 0, code, stderr)
	var worktree jsonOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &worktree))
	assert.Len(t, worktree.Files, 2)

	stdout, stderr, code = tf.RunHeadless("--root", repo, "--rev", "HEAD", "search", "--json", "needle")
	require.Equal(t, 0, code, stderr)
	var committed jsonOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &committed))
	require.Len(t, committed.Files, 1)
	assert.Equal(t, "pkg/server.go", committed.Files[0].Path)
}

func TestHeadlessSearchErrors(t *testing.T) {
	t.Parallel()
	tf := NewTUITest(t)
	defer tf.Cleanup()
	repo := setupRepo(t, tf)

	_, stderr, code := tf.RunHeadless("--root", repo, "search")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "usage")

	_, stderr, code = tf.RunHeadless("--root", repo, "--rev", "no-such-branch", "search", "needle")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "search failed")
}

func TestInitWritesConfig(t *testing.T) {
	t.Parallel()
	tf := NewTUITest(t)
	defer tf.Cleanup()
	repo := setupRepo(t, tf)

	stdout, stderr, code := tf.RunHeadless("--root", repo, "init")
	require.Equal(t, 0, code, stderr)
	configPath := filepath.Join(repo, ".srcgrep.toml")
	assert.Contains(t, stdout, configPath)

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[search]")
	assert.Contains(t, string(data), "root = '.'")

	_, _, code = tf.RunHeadless("--root", repo, "init")
	assert.Equal(t, 1, code, "init must not overwrite without --force")

	// The relative root resolves against the config file
	sub := filepath.Join(repo, "docs")
	stdout, stderr, code = tf.RunIn(sub, "--config", configPath, "search", "needle")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "pkg/server.go:10")
}
