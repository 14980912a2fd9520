// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package execution runs code snippets in one-shot containers. Each call
// creates a fresh container without network access, waits for it to exit
// within the configured timeout and returns its output. Containers are
// always removed, whatever the outcome.
package execution

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	dockerimage "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/klogins-hash/northflank-mcp-hub/pkg/config"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/logger"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/tools"
)

// Tool names owned by this handler.
const (
	ToolExecutePython = "execute_python"
	ToolExecuteNode   = "execute_node"
	ToolExecuteShell  = "execute_shell"
)

// Interpreter images for the language tools. Shell commands run in the
// configured base image instead.
const (
	pythonImage = "python:3.12-alpine"
	nodeImage   = "node:22-alpine"
)

// maxOutputBytes caps each captured stream so a chatty snippet cannot blow
// up the tool result.
const maxOutputBytes = 64 * 1024

// dockerAPI is the narrow slice of the Docker client used by the handler.
type dockerAPI interface {
	ImagePull(ctx context.Context, refStr string, options dockerimage.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// Handler serves the execution tools over a container runtime.
type Handler struct {
	api     dockerAPI
	closer  io.Closer
	image   string
	timeout time.Duration
}

var _ tools.Handler = (*Handler)(nil)

// NewHandler connects to the container runtime and verifies it responds.
// An empty SocketPath falls back to the runtime's environment discovery.
func NewHandler(ctx context.Context, cfg *config.ExecutionConfig) (*Handler, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if cfg.SocketPath != "" {
		opts = append(opts, client.WithHost("unix://"+cfg.SocketPath))
	} else {
		opts = append(opts, client.FromEnv)
	}

	dockerClient, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating container client: %w", err)
	}
	if _, err := dockerClient.Ping(ctx); err != nil {
		_ = dockerClient.Close()
		return nil, fmt.Errorf("container runtime is not available: %w", err)
	}

	logger.Infow("execution handler connected", "image", cfg.Image, "timeout", time.Duration(cfg.Timeout).String())
	h := newHandlerWithAPI(dockerClient, cfg.Image, time.Duration(cfg.Timeout))
	h.closer = dockerClient
	return h, nil
}

// newHandlerWithAPI wires an existing runtime API. Used by tests.
func newHandlerWithAPI(api dockerAPI, image string, timeout time.Duration) *Handler {
	return &Handler{api: api, image: image, timeout: timeout}
}

// Close releases the container runtime client.
func (h *Handler) Close() error {
	if h.closer != nil {
		return h.closer.Close()
	}
	return nil
}

// Category implements tools.Handler.
func (*Handler) Category() tools.Category { return tools.CategoryExecution }

// Tools implements tools.Handler.
func (h *Handler) Tools() []federation.ToolDef {
	return []federation.ToolDef{
		{
			Name:        ToolExecutePython,
			Description: "Run a Python snippet in a disposable container",
			InputSchema: tools.ObjectSchema(map[string]tools.Property{
				"code": {Type: "string", Description: "Python source to execute"},
			}, "code"),
		},
		{
			Name:        ToolExecuteNode,
			Description: "Run a JavaScript snippet in a disposable container",
			InputSchema: tools.ObjectSchema(map[string]tools.Property{
				"code": {Type: "string", Description: "JavaScript source to execute"},
			}, "code"),
		},
		{
			Name:        ToolExecuteShell,
			Description: "Run a shell command in a disposable " + h.image + " container",
			InputSchema: tools.ObjectSchema(map[string]tools.Property{
				"command": {Type: "string", Description: "Shell command to execute"},
			}, "command"),
		},
	}
}

// Call implements tools.Handler.
func (h *Handler) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case ToolExecutePython:
		code, err := tools.StringArg(args, "code")
		if err != nil {
			return nil, err
		}
		return h.run(ctx, pythonImage, []string{"python", "-c", code})
	case ToolExecuteNode:
		code, err := tools.StringArg(args, "code")
		if err != nil {
			return nil, err
		}
		return h.run(ctx, nodeImage, []string{"node", "-e", code})
	case ToolExecuteShell:
		command, err := tools.StringArg(args, "command")
		if err != nil {
			return nil, err
		}
		return h.run(ctx, h.image, []string{"/bin/sh", "-c", command})
	default:
		return nil, fmt.Errorf("%w: %s", tools.ErrUnknownTool, name)
	}
}

// run executes one command in a fresh container and collects its output.
func (h *Handler) run(ctx context.Context, image string, cmd []string) (any, error) {
	runCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	// Pull is best-effort: a locally available image is good enough.
	if reader, err := h.api.ImagePull(runCtx, image, dockerimage.PullOptions{}); err != nil {
		logger.Debugw("image pull failed, using local image", "image", image, "error", err)
	} else {
		_, _ = io.Copy(io.Discard, reader)
		_ = reader.Close()
	}

	resp, err := h.api.ContainerCreate(runCtx,
		&container.Config{
			Image:           image,
			Cmd:             cmd,
			NetworkDisabled: true,
			Labels:          map[string]string{"mcphub": "true"},
		},
		&container.HostConfig{},
		&network.NetworkingConfig{},
		nil,
		"",
	)
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}

	// Removal must run even when the surrounding call timed out.
	defer func() {
		removeCtx := context.WithoutCancel(runCtx)
		if err := h.api.ContainerRemove(removeCtx, resp.ID, container.RemoveOptions{Force: true}); err != nil {
			logger.Warnw("failed to remove container", "container", resp.ID, "error", err)
		}
	}()

	if err := h.api.ContainerStart(runCtx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("starting container: %w", err)
	}

	waitCh, errCh := h.api.ContainerWait(runCtx, resp.ID, container.WaitConditionNotRunning)

	var exitCode int64
	select {
	case status := <-waitCh:
		exitCode = status.StatusCode
	case err := <-errCh:
		return nil, fmt.Errorf("waiting for container: %w", err)
	case <-runCtx.Done():
		return nil, fmt.Errorf("execution timed out after %s", h.timeout)
	}

	stdout, stderr, err := h.collectOutput(runCtx, resp.ID)
	if err != nil {
		return nil, err
	}

	result := map[string]any{
		"exitCode": exitCode,
		"stdout":   stdout,
		"stderr":   stderr,
	}
	if exitCode != 0 {
		logger.Debugw("command exited non-zero", "image", image, "exitCode", exitCode)
	}
	return result, nil
}

// collectOutput demultiplexes the container's log stream into stdout and
// stderr, truncating each to maxOutputBytes.
func (h *Handler) collectOutput(ctx context.Context, containerID string) (string, string, error) {
	logs, err := h.api.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", fmt.Errorf("reading container logs: %w", err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return "", "", fmt.Errorf("demultiplexing container logs: %w", err)
	}
	return truncate(stdout.String()), truncate(stderr.String()), nil
}

func truncate(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	return s[:maxOutputBytes] + "\n[output truncated]"
}
