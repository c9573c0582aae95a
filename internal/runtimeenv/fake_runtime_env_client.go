package runtimeenv

import (
	"context"
	"sync"

	"github.com/xinkaiwang/goraylet/internal/data"
	"github.com/xinkaiwang/goraylet/klib/klogging"
)

// BadRuntimeEnv is a distinguished descriptor the fake agent always rejects.
const (
	BadRuntimeEnv         = "bad runtime env"
	BadRuntimeEnvErrorMsg = "bad runtime env"
)

// FakeRuntimeEnvClient: implements RuntimeEnvClient for tests. Keeps the
// per-descriptor reference counts in memory and invokes callbacks inline.
type FakeRuntimeEnvClient struct {
	mu         sync.Mutex
	references map[string]int
}

func NewFakeRuntimeEnvClient() *FakeRuntimeEnvClient {
	return &FakeRuntimeEnvClient{
		references: map[string]int{},
	}
}

func (client *FakeRuntimeEnvClient) GetOrCreateRuntimeEnv(ctx context.Context, jobId data.JobId, serializedEnv string, config data.RuntimeEnvConfig, callback GetOrCreateCallback) {
	if serializedEnv == BadRuntimeEnv {
		callback(false, "", BadRuntimeEnvErrorMsg)
		return
	}
	client.mu.Lock()
	client.references[serializedEnv]++
	client.mu.Unlock()
	callback(true, `{"dummy":"dummy"}`, "")
}

func (client *FakeRuntimeEnvClient) DeleteRuntimeEnvIfPossible(ctx context.Context, serializedEnv string, callback DeleteCallback) {
	client.mu.Lock()
	count, ok := client.references[serializedEnv]
	if !ok || count <= 0 {
		client.mu.Unlock()
		klogging.Fatal(ctx).With("serializedEnv", serializedEnv).Log("RuntimeEnvRefUnderflow", "delete without reference")
		return
	}
	client.references[serializedEnv] = count - 1
	client.mu.Unlock()
	callback(true)
}

// GetReferenceCount: test-side visibility of the agent-side reference.
func (client *FakeRuntimeEnvClient) GetReferenceCount(serializedEnv string) int {
	client.mu.Lock()
	defer client.mu.Unlock()
	return client.references[serializedEnv]
}
