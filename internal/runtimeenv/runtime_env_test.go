package runtimeenv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/xinkaiwang/goraylet/internal/data"
)

func TestCalculateRuntimeEnvHash(t *testing.T) {
	// empty descriptors all land in partition 0
	assert.Equal(t, data.RuntimeEnvHash(0), CalculateRuntimeEnvHash(""))
	assert.Equal(t, data.RuntimeEnvHash(0), CalculateRuntimeEnvHash("{}"))

	envA := `{"env_vars": {"FOO": "bar"}}`
	envB := `{"env_vars": {"FOO": "baz"}}`
	hashA := CalculateRuntimeEnvHash(envA)
	hashB := CalculateRuntimeEnvHash(envB)
	assert.NotEqual(t, data.RuntimeEnvHash(0), hashA)
	assert.NotEqual(t, hashA, hashB)
	// stable across calls
	assert.Equal(t, hashA, CalculateRuntimeEnvHash(envA))
}

func TestFakeRuntimeEnvClientReferences(t *testing.T) {
	ctx := context.Background()
	client := NewFakeRuntimeEnvClient()
	env := `{"py_modules": ["s3://123"]}`

	created := 0
	client.GetOrCreateRuntimeEnv(ctx, "job-1", env, data.RuntimeEnvConfig{}, func(success bool, serializedContext string, errorMessage string) {
		assert.True(t, success)
		assert.NotEmpty(t, serializedContext)
		created++
	})
	client.GetOrCreateRuntimeEnv(ctx, "job-1", env, data.RuntimeEnvConfig{}, func(success bool, serializedContext string, errorMessage string) {
		created++
	})
	assert.Equal(t, 2, created)
	assert.Equal(t, 2, client.GetReferenceCount(env))

	deleted := 0
	client.DeleteRuntimeEnvIfPossible(ctx, env, func(success bool) {
		assert.True(t, success)
		deleted++
	})
	assert.Equal(t, 1, deleted)
	assert.Equal(t, 1, client.GetReferenceCount(env))
}

func TestFakeRuntimeEnvClientBadEnv(t *testing.T) {
	ctx := context.Background()
	client := NewFakeRuntimeEnvClient()
	client.GetOrCreateRuntimeEnv(ctx, "job-1", BadRuntimeEnv, data.RuntimeEnvConfig{}, func(success bool, serializedContext string, errorMessage string) {
		assert.False(t, success)
		assert.Equal(t, BadRuntimeEnvErrorMsg, errorMessage)
	})
	assert.Equal(t, 0, client.GetReferenceCount(BadRuntimeEnv))
}
