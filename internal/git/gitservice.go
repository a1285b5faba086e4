// Package git reads file contents at a revision through git plumbing, so a
// search can target a commit without touching the worktree.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"strings"
)

// ErrNotRepository is returned when the directory is not inside a git worktree
var ErrNotRepository = errors.New("not a git repository")

// GitService runs read-only git commands against one repository
type GitService interface {
	ResolveRevision(ctx context.Context, rev string) (string, error)
	ListFiles(ctx context.Context, rev string) ([]string, error)
	ReadBlob(ctx context.Context, rev, path string) ([]byte, error)
}

// gitService is the concrete implementation
type gitService struct {
	repoPath string
	binary   string
}

// NewGitService creates a git service rooted at repoPath
func NewGitService(repoPath string) GitService {
	return &gitService{repoPath: repoPath, binary: "git"}
}

// CommandError carries the stderr of a failed git invocation
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("git %s: %s", strings.Join(e.Args, " "), msg)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ResolveRevision returns the full commit hash rev points to
func (gs *gitService) ResolveRevision(ctx context.Context, rev string) (string, error) {
	out, err := gs.run(ctx, "rev-parse", "--verify", "--quiet", rev+"^{commit}")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// ListFiles returns every file path tracked at rev
func (gs *gitService) ListFiles(ctx context.Context, rev string) ([]string, error) {
	out, err := gs.run(ctx, "ls-tree", "-r", "-z", "--name-only", rev)
	if err != nil {
		return nil, err
	}
	return splitNUL(out), nil
}

// ReadBlob returns the contents of path at rev
func (gs *gitService) ReadBlob(ctx context.Context, rev, path string) ([]byte, error) {
	return gs.run(ctx, "cat-file", "blob", rev+":"+path)
}

func (gs *gitService) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, gs.binary, args...)
	cmd.Dir = gs.repoPath

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if strings.Contains(stderr.String(), "not a git repository") {
			return nil, fmt.Errorf("%s: %w", gs.repoPath, ErrNotRepository)
		}
		cmdErr := &CommandError{Args: args, Stderr: stderr.String(), Err: err}
		log.Printf("Git: %v", cmdErr)
		return nil, cmdErr
	}
	return output, nil
}

func splitNUL(out []byte) []string {
	var paths []string
	for _, p := range bytes.Split(out, []byte{0}) {
		if len(p) > 0 {
			paths = append(paths, string(p))
		}
	}
	return paths
}
