package runtimeenv

import (
	"context"

	"github.com/cespare/xxhash/v2"
	"github.com/xinkaiwang/goraylet/internal/data"
)

// GetOrCreateCallback is invoked with (success, serializedContext, errorMessage).
type GetOrCreateCallback func(success bool, serializedContext string, errorMessage string)

// DeleteCallback is invoked with the delete outcome; the env may legally
// survive the call when other holders remain.
type DeleteCallback func(success bool)

// RuntimeEnvClient talks to the runtime env agent that materialises
// per-task execution environments. Both calls are asynchronous; the
// callback may fire on any goroutine, callers re-enter their own loop.
type RuntimeEnvClient interface {
	// GetOrCreateRuntimeEnv is idempotent per serializedEnv and increments
	// the agent-side reference on success.
	GetOrCreateRuntimeEnv(ctx context.Context, jobId data.JobId, serializedEnv string, config data.RuntimeEnvConfig, callback GetOrCreateCallback)
	// DeleteRuntimeEnvIfPossible decrements the agent-side reference.
	DeleteRuntimeEnvIfPossible(ctx context.Context, serializedEnv string, callback DeleteCallback)
}

// CalculateRuntimeEnvHash digests the serialized descriptor down to the
// 32-bit hash that partitions the worker cache. Empty descriptors hash to 0
// so env-less workers all land in one partition.
func CalculateRuntimeEnvHash(serializedEnv string) data.RuntimeEnvHash {
	if serializedEnv == "" || serializedEnv == "{}" {
		return 0
	}
	sum := xxhash.Sum64String(serializedEnv)
	return data.RuntimeEnvHash(int32(uint32(sum ^ (sum >> 32))))
}
