package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// GitDestination commits each export to a file inside a local clone and,
// unless WithoutPush is given, pushes the branch to origin.
type GitDestination struct {
	repo    string
	file    string
	branch  string
	message string // fixed commit message; empty derives one from the export
	push    bool
}

// GitOption configures a GitDestination.
type GitOption func(*GitDestination)

// WithCommitMessage uses msg for every commit instead of a summary of the
// export.
func WithCommitMessage(msg string) GitOption {
	return func(d *GitDestination) { d.message = msg }
}

// WithoutPush commits locally only, for clones without a remote.
func WithoutPush() GitOption {
	return func(d *GitDestination) { d.push = false }
}

// NewGitDestination writes to file (relative to repo) on branch. repo must
// be an existing clone with a committer identity configured.
func NewGitDestination(repo, file, branch string, opts ...GitOption) *GitDestination {
	d := &GitDestination{repo: repo, file: file, branch: branch, push: true}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *GitDestination) Name() string {
	return "git:" + filepath.Join(d.repo, d.file) + "@" + d.branch
}

// Write commits data. An export identical to the committed file makes no
// commit.
func (d *GitDestination) Write(ctx context.Context, data []byte) error {
	if err := d.git(ctx, "checkout", "--quiet", d.branch); err != nil {
		return err
	}
	if d.push {
		// The branch may not exist on the remote yet.
		_ = d.git(ctx, "pull", "--quiet", "--ff-only", "origin", d.branch)
	}

	path := filepath.Join(d.repo, d.file)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}

	if err := d.git(ctx, "add", "--", d.file); err != nil {
		return err
	}
	// Exit status 0 means nothing is staged.
	if d.git(ctx, "diff", "--cached", "--quiet") == nil {
		return nil
	}
	if err := d.git(ctx, "commit", "--quiet", "-m", d.commitMessage(data)); err != nil {
		return err
	}
	if !d.push {
		return nil
	}
	return d.git(ctx, "push", "--quiet", "origin", d.branch)
}

func (d *GitDestination) commitMessage(data []byte) string {
	if d.message != "" {
		return d.message
	}
	line, _, _ := bytes.Cut(data, []byte("\n"))
	var h header
	if json.Unmarshal(line, &h) != nil || h.Type != "header" {
		return "sync: update paramgraph export"
	}
	return fmt.Sprintf("sync: export %d workbooks, %d parameters", h.WorkbookCount, h.ParameterCount)
}

func (d *GitDestination) git(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = d.repo
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(out.String()); msg != "" {
			return fmt.Errorf("git %s: %w: %s", args[0], err, msg)
		}
		return fmt.Errorf("git %s: %w", args[0], err)
	}
	return nil
}
