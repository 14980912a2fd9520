// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package vcs provides Git repository tools: cloning repositories under the
// hub's work directory and inspecting their status, history and files. File
// reads go through the Git tree of HEAD, so they cannot escape a repository.
package vcs

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/klogins-hash/northflank-mcp-hub/pkg/config"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/logger"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/tools"
)

// Tool names owned by this handler.
const (
	ToolGitClone    = "git_clone"
	ToolGitStatus   = "git_status"
	ToolGitLog      = "git_log"
	ToolGitReadFile = "git_read_file"
)

// defaultLogLimit caps git_log output unless the caller asks for more.
const defaultLogLimit = 10

// Handler serves the Git tools. Cloned repositories are tracked by name for
// the lifetime of the handler.
type Handler struct {
	workDir string

	mu    sync.RWMutex
	repos map[string]*git.Repository
}

var _ tools.Handler = (*Handler)(nil)

// NewHandler prepares the work directory that clones land in. An empty
// WorkDir gets a fresh temporary directory.
func NewHandler(cfg *config.VCSConfig) (*Handler, error) {
	workDir := cfg.WorkDir
	if workDir == "" {
		dir, err := os.MkdirTemp("", "mcphub-vcs-")
		if err != nil {
			return nil, fmt.Errorf("creating vcs work directory: %w", err)
		}
		workDir = dir
	} else if err := os.MkdirAll(workDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating vcs work directory %s: %w", workDir, err)
	}

	logger.Infow("vcs handler ready", "workDir", workDir)
	return &Handler{
		workDir: workDir,
		repos:   make(map[string]*git.Repository),
	}, nil
}

// Category implements tools.Handler.
func (*Handler) Category() tools.Category { return tools.CategoryVCS }

// Tools implements tools.Handler.
func (*Handler) Tools() []federation.ToolDef {
	return []federation.ToolDef{
		{
			Name:        ToolGitClone,
			Description: "Clone a Git repository into the hub's work directory",
			InputSchema: tools.ObjectSchema(map[string]tools.Property{
				"url":    {Type: "string", Description: "Repository URL or local path"},
				"name":   {Type: "string", Description: "Name to track the clone under; derived from the URL when omitted"},
				"branch": {Type: "string", Description: "Branch to check out; the remote HEAD when omitted"},
			}, "url"),
		},
		{
			Name:        ToolGitStatus,
			Description: "Show the worktree status of a cloned repository",
			InputSchema: tools.ObjectSchema(map[string]tools.Property{
				"name": {Type: "string", Description: "Clone name"},
			}, "name"),
		},
		{
			Name:        ToolGitLog,
			Description: "List recent commits of a cloned repository, newest first",
			InputSchema: tools.ObjectSchema(map[string]tools.Property{
				"name":  {Type: "string", Description: "Clone name"},
				"limit": {Type: "integer", Description: "Maximum commits to return"},
			}, "name"),
		},
		{
			Name:        ToolGitReadFile,
			Description: "Read a file from the HEAD commit of a cloned repository",
			InputSchema: tools.ObjectSchema(map[string]tools.Property{
				"name": {Type: "string", Description: "Clone name"},
				"path": {Type: "string", Description: "File path within the repository"},
			}, "name", "path"),
		},
	}
}

// Call implements tools.Handler.
func (h *Handler) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case ToolGitClone:
		return h.clone(ctx, args)
	case ToolGitStatus:
		return h.status(args)
	case ToolGitLog:
		return h.log(args)
	case ToolGitReadFile:
		return h.readFile(args)
	default:
		return nil, fmt.Errorf("%w: %s", tools.ErrUnknownTool, name)
	}
}

// cloneName derives a tracking name from the repository URL.
func cloneName(rawURL string) string {
	trimmed := strings.TrimSuffix(rawURL, ".git")
	if u, err := url.Parse(trimmed); err == nil && u.Path != "" {
		trimmed = u.Path
	}
	return path.Base(filepath.ToSlash(trimmed))
}

func (h *Handler) clone(ctx context.Context, args map[string]any) (any, error) {
	repoURL, err := tools.StringArg(args, "url")
	if err != nil {
		return nil, err
	}
	name, err := tools.OptionalStringArg(args, "name", "")
	if err != nil {
		return nil, err
	}
	branch, err := tools.OptionalStringArg(args, "branch", "")
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = cloneName(repoURL)
	}
	if name == "" || name == "." || name == "/" {
		return nil, fmt.Errorf("%w: cannot derive a clone name from %q", tools.ErrInvalidArguments, repoURL)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.repos[name]; exists {
		return nil, fmt.Errorf("%w: repository %q is already cloned", tools.ErrInvalidArguments, name)
	}

	cloneOptions := &git.CloneOptions{URL: repoURL}
	if branch != "" {
		cloneOptions.ReferenceName = plumbing.NewBranchReferenceName(branch)
		cloneOptions.SingleBranch = true
	}

	dir := filepath.Join(h.workDir, name)
	repo, err := git.PlainCloneContext(ctx, dir, false, cloneOptions)
	if err != nil {
		// A failed clone may leave a partial directory behind.
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("cloning %s: %w", repoURL, err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("reading HEAD of %s: %w", name, err)
	}

	h.repos[name] = repo
	logger.Infow("repository cloned", "name", name, "url", repoURL, "head", head.Hash().String())

	result := map[string]any{
		"name": name,
		"path": dir,
		"head": head.Hash().String(),
	}
	if head.Name().IsBranch() {
		result["branch"] = head.Name().Short()
	}
	return result, nil
}

// repo looks up a tracked clone.
func (h *Handler) repo(name string) (*git.Repository, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	repo, ok := h.repos[name]
	if !ok {
		return nil, fmt.Errorf("%w: repository %q is not cloned", tools.ErrInvalidArguments, name)
	}
	return repo, nil
}

func (h *Handler) status(args map[string]any) (any, error) {
	name, err := tools.StringArg(args, "name")
	if err != nil {
		return nil, err
	}
	repo, err := h.repo(name)
	if err != nil {
		return nil, err
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("getting worktree of %s: %w", name, err)
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("reading status of %s: %w", name, err)
	}

	var changes []map[string]any
	for filePath, st := range status {
		if st.Staging == git.Unmodified && st.Worktree == git.Unmodified {
			continue
		}
		changes = append(changes, map[string]any{
			"path":     filePath,
			"staging":  string(rune(st.Staging)),
			"worktree": string(rune(st.Worktree)),
		})
	}
	sort.Slice(changes, func(i, j int) bool {
		return changes[i]["path"].(string) < changes[j]["path"].(string)
	})

	result := map[string]any{
		"name":    name,
		"clean":   status.IsClean(),
		"changes": changes,
	}
	if head, err := repo.Head(); err == nil && head.Name().IsBranch() {
		result["branch"] = head.Name().Short()
	}
	return result, nil
}

func (h *Handler) log(args map[string]any) (any, error) {
	name, err := tools.StringArg(args, "name")
	if err != nil {
		return nil, err
	}
	limit, err := tools.IntArg(args, "limit", defaultLogLimit)
	if err != nil {
		return nil, err
	}
	repo, err := h.repo(name)
	if err != nil {
		return nil, err
	}

	iter, err := repo.Log(&git.LogOptions{})
	if err != nil {
		return nil, fmt.Errorf("reading log of %s: %w", name, err)
	}
	defer iter.Close()

	var commits []map[string]any
	err = iter.ForEach(func(c *object.Commit) error {
		if len(commits) >= limit {
			return storer.ErrStop
		}
		commits = append(commits, map[string]any{
			"hash":    c.Hash.String(),
			"author":  c.Author.Name,
			"email":   c.Author.Email,
			"when":    c.Author.When.UTC().Format(time.RFC3339),
			"message": firstLine(c.Message),
		})
		return nil
	})
	if err != nil && !errors.Is(err, storer.ErrStop) {
		return nil, fmt.Errorf("iterating log of %s: %w", name, err)
	}

	return map[string]any{"name": name, "count": len(commits), "commits": commits}, nil
}

// readFile reads the file from the tree of HEAD, not from the worktree, so
// uncommitted changes are never exposed and paths cannot leave the tree.
func (h *Handler) readFile(args map[string]any) (any, error) {
	name, err := tools.StringArg(args, "name")
	if err != nil {
		return nil, err
	}
	filePath, err := tools.StringArg(args, "path")
	if err != nil {
		return nil, err
	}
	repo, err := h.repo(name)
	if err != nil {
		return nil, err
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("reading HEAD of %s: %w", name, err)
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("reading HEAD commit of %s: %w", name, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("reading HEAD tree of %s: %w", name, err)
	}
	file, err := tree.File(filePath)
	if err != nil {
		return nil, fmt.Errorf("file %s in %s: %w", filePath, name, err)
	}
	content, err := file.Contents()
	if err != nil {
		return nil, fmt.Errorf("reading %s in %s: %w", filePath, name, err)
	}

	return map[string]any{
		"name":    name,
		"path":    filePath,
		"size":    len(content),
		"content": content,
	}, nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}
