//go:build e2e && unix

package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// RepoOption is a function that configures repository creation
type RepoOption func(*repoOptions)

type repoOptions struct {
	withCommit bool
	files      map[string]string // committed files
	dirty      map[string]string // written after the commit
}

// WithCommit creates the repository with an initial commit
func WithCommit(commit bool) RepoOption {
	return func(opts *repoOptions) {
		opts.withCommit = commit
	}
}

// WithFiles creates the repository with specific files and contents
func WithFiles(files map[string]string) RepoOption {
	return func(opts *repoOptions) {
		opts.files = files
	}
}

// WithDirtyFiles overwrites or adds files after the commit
func WithDirtyFiles(files map[string]string) RepoOption {
	return func(opts *repoOptions) {
		opts.dirty = files
	}
}

// CreateTestWorkspace creates a temporary directory holding the repositories
func (tf *TUITestFramework) CreateTestWorkspace() (string, error) {
	tmpDir := tf.t.TempDir()
	tf.workspace = tmpDir
	return tmpDir, nil
}

// CreateTestRepo creates a Git repository in the workspace
func (tf *TUITestFramework) CreateTestRepo(name string, options ...RepoOption) (string, error) {
	if tf.workspace == "" {
		return "", fmt.Errorf("workspace not created")
	}

	repoPath := filepath.Join(tf.workspace, name)
	if err := os.MkdirAll(repoPath, 0755); err != nil {
		return "", err
	}

	if err := tf.runGitCommand(repoPath, "init"); err != nil {
		return "", err
	}
	if err := tf.runGitCommand(repoPath, "checkout", "-b", "main"); err != nil {
		return "", err
	}

	opts := &repoOptions{withCommit: true}
	for _, opt := range options {
		opt(opts)
	}

	if err := writeFiles(repoPath, opts.files); err != nil {
		return "", err
	}

	if opts.withCommit {
		readme := fmt.Sprintf("# %s\n\nTest repository for srcgrep testing.\n", name)
		if err := os.WriteFile(filepath.Join(repoPath, "README.md"), []byte(readme), 0644); err != nil {
			return "", err
		}
		if err := tf.runGitCommand(repoPath, "add", "."); err != nil {
			return "", err
		}
		if err := tf.runGitCommand(repoPath, "commit", "-m", "Initial commit"); err != nil {
			return "", err
		}
	}

	if err := writeFiles(repoPath, opts.dirty); err != nil {
		return "", err
	}

	return repoPath, nil
}

func writeFiles(root string, files map[string]string) error {
	for name, content := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return err
		}
	}
	return nil
}

func (tf *TUITestFramework) runGitCommand(dir string, args ...string) error {
	cmd := exec.Command("git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=srcgrep Test",
		"GIT_AUTHOR_EMAIL=test@srcgrep.test",
		"GIT_COMMITTER_NAME=srcgrep Test",
		"GIT_COMMITTER_EMAIL=test@srcgrep.test",
		"GIT_CONFIG_GLOBAL=/dev/null", // ignore user ~/.gitconfig
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %v failed: %v; out=%s", args, err, out)
	}
	return nil
}
