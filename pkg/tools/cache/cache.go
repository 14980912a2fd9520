// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package cache provides Redis-backed key-value tools: get, set with an
// optional TTL, and delete. Keys are namespaced under a hub prefix so the
// handler can share a Redis database with other applications.
package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"

	"github.com/klogins-hash/northflank-mcp-hub/pkg/config"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/logger"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/tools"
)

// Tool names owned by this handler.
const (
	ToolCacheGet    = "cache_get"
	ToolCacheSet    = "cache_set"
	ToolCacheDelete = "cache_delete"
)

const (
	// defaultKeyPrefix namespaces all hub cache entries.
	defaultKeyPrefix = "mcphub:cache:"

	// pingMaxTries bounds the startup connectivity probe.
	pingMaxTries = 5

	// pingInitialInterval is the first retry delay of the startup probe.
	pingInitialInterval = 200 * time.Millisecond
)

// Handler serves the cache tools over a Redis client.
type Handler struct {
	client    redis.UniversalClient
	keyPrefix string
}

var _ tools.Handler = (*Handler)(nil)

// NewHandler connects to the configured Redis server and verifies it is
// reachable, retrying with exponential backoff within cfg.DialTimeout.
func NewHandler(ctx context.Context, cfg *config.CacheConfig) (*Handler, error) {
	password := ""
	if cfg.PasswordEnv != "" {
		password = os.Getenv(cfg.PasswordEnv)
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.Addr},
		DB:       cfg.DB,
		Password: password,
	})

	pingCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.DialTimeout))
	defer cancel()

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = pingInitialInterval

	_, err := backoff.Retry(pingCtx, func() (struct{}, error) {
		return struct{}{}, client.Ping(pingCtx).Err()
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(pingMaxTries),
		backoff.WithNotify(func(err error, duration time.Duration) {
			logger.Debugw("redis not ready, retrying", "addr", cfg.Addr, "backoff", duration, "error", err)
		}),
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}

	logger.Infow("cache handler connected", "addr", cfg.Addr, "db", cfg.DB)
	return NewHandlerWithClient(client), nil
}

// NewHandlerWithClient wraps an existing Redis client. Used by tests.
func NewHandlerWithClient(client redis.UniversalClient) *Handler {
	return &Handler{client: client, keyPrefix: defaultKeyPrefix}
}

// Close releases the underlying Redis client.
func (h *Handler) Close() error {
	return h.client.Close()
}

// Category implements tools.Handler.
func (*Handler) Category() tools.Category { return tools.CategoryCache }

// Tools implements tools.Handler.
func (*Handler) Tools() []federation.ToolDef {
	return []federation.ToolDef{
		{
			Name:        ToolCacheGet,
			Description: "Read a value from the shared cache",
			InputSchema: tools.ObjectSchema(map[string]tools.Property{
				"key": {Type: "string", Description: "Cache key"},
			}, "key"),
		},
		{
			Name:        ToolCacheSet,
			Description: "Store a value in the shared cache, optionally with a TTL",
			InputSchema: tools.ObjectSchema(map[string]tools.Property{
				"key":   {Type: "string", Description: "Cache key"},
				"value": {Type: "string", Description: "Value to store"},
				"ttl":   {Type: "string", Description: "Expiry as a duration string such as \"5m\"; empty means no expiry"},
			}, "key", "value"),
		},
		{
			Name:        ToolCacheDelete,
			Description: "Delete a key from the shared cache",
			InputSchema: tools.ObjectSchema(map[string]tools.Property{
				"key": {Type: "string", Description: "Cache key"},
			}, "key"),
		},
	}
}

// Call implements tools.Handler.
func (h *Handler) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case ToolCacheGet:
		return h.get(ctx, args)
	case ToolCacheSet:
		return h.set(ctx, args)
	case ToolCacheDelete:
		return h.delete(ctx, args)
	default:
		return nil, fmt.Errorf("%w: %s", tools.ErrUnknownTool, name)
	}
}

func (h *Handler) key(k string) string {
	return h.keyPrefix + k
}

// get returns found=false for a missing key rather than an error, so tool
// callers can probe without triggering failure handling.
func (h *Handler) get(ctx context.Context, args map[string]any) (any, error) {
	key, err := tools.StringArg(args, "key")
	if err != nil {
		return nil, err
	}

	value, err := h.client.Get(ctx, h.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return map[string]any{"key": key, "found": false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache key %q: %w", key, err)
	}
	return map[string]any{"key": key, "found": true, "value": value}, nil
}

func (h *Handler) set(ctx context.Context, args map[string]any) (any, error) {
	key, err := tools.StringArg(args, "key")
	if err != nil {
		return nil, err
	}
	value, err := tools.StringArg(args, "value")
	if err != nil {
		return nil, err
	}
	ttlArg, err := tools.OptionalStringArg(args, "ttl", "")
	if err != nil {
		return nil, err
	}

	var ttl time.Duration
	if ttlArg != "" {
		ttl, err = time.ParseDuration(ttlArg)
		if err != nil {
			return nil, fmt.Errorf("%w: ttl %q is not a duration", tools.ErrInvalidArguments, ttlArg)
		}
	}

	if err := h.client.Set(ctx, h.key(key), value, ttl).Err(); err != nil {
		return nil, fmt.Errorf("writing cache key %q: %w", key, err)
	}

	result := map[string]any{"key": key, "stored": true}
	if ttl > 0 {
		result["ttl"] = ttl.String()
	}
	return result, nil
}

func (h *Handler) delete(ctx context.Context, args map[string]any) (any, error) {
	key, err := tools.StringArg(args, "key")
	if err != nil {
		return nil, err
	}

	n, err := h.client.Del(ctx, h.key(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("deleting cache key %q: %w", key, err)
	}
	return map[string]any{"key": key, "deleted": n > 0}, nil
}
