package core

import (
	"context"

	"github.com/xinkaiwang/goraylet/klib/klogging"
)

// RuntimeEnvRefTable tracks how many local holders (jobs with eager install,
// live workers) reference each serialized runtime env descriptor. Every
// decrement forwards a DeleteRuntimeEnvIfPossible to the agent, which owns
// the real release decision. The local count exists for the invariant: it
// never goes negative, and going negative is fatal.
type RuntimeEnvRefTable struct {
	pool   *PoolState
	counts map[string]int
}

func NewRuntimeEnvRefTable(pool *PoolState) *RuntimeEnvRefTable {
	return &RuntimeEnvRefTable{
		pool:   pool,
		counts: map[string]int{},
	}
}

func (table *RuntimeEnvRefTable) Increase(ctx context.Context, serializedEnv string) {
	table.counts[serializedEnv]++
}

func (table *RuntimeEnvRefTable) Decrease(ctx context.Context, serializedEnv string) {
	count, ok := table.counts[serializedEnv]
	if !ok || count <= 0 {
		klogging.Fatal(ctx).With("serializedEnv", serializedEnv).Log("RuntimeEnvRefUnderflow", "runtime env reference went negative")
		return
	}
	if count == 1 {
		delete(table.counts, serializedEnv)
	} else {
		table.counts[serializedEnv] = count - 1
	}
	table.pool.runtimeEnvClient.DeleteRuntimeEnvIfPossible(ctx, serializedEnv, func(success bool) {
		if !success {
			klogging.Debug(ctx).With("serializedEnv", serializedEnv).Log("RuntimeEnvDelete", "agent kept the runtime env alive")
		}
	})
}

func (table *RuntimeEnvRefTable) GetCount(serializedEnv string) int {
	return table.counts[serializedEnv]
}
