package core

import (
	"context"

	"github.com/xinkaiwang/goraylet/klib/klogging"
)

// PrestartWorkers pre-warms workers for the given task shape. Ensures at
// least min(numNeeded, softLimit) launches are in flight for the request's
// (language, runtime env hash); repeated calls never take that hash's
// in-flight launches past the soft limit, launches under other hashes are
// not counted against it, and the startup concurrency budget still binds.
func (ps *PoolState) PrestartWorkers(ctx context.Context, req *PopWorkerRequest, numNeeded int) {
	st := ps.langState(req.Language)
	softLimit := ps.getNumAvailableCpus()
	target := numNeeded
	if target > softLimit {
		target = softLimit
	}
	toStart := target - st.numGenericStartingForHash(req.RuntimeEnvHash)
	if toStart <= 0 {
		return
	}
	klogging.Info(ctx).With("language", string(req.Language)).With("numNeeded", numNeeded).With("toStart", toStart).Log("PrestartWorkers", "pre-warming workers")
	for i := 0; i < toStart; i++ {
		if st.numGenericStarting() >= ps.Config.MaximumStartupConcurrency {
			break
		}
		ps.startPrestartedWorker(ctx, req)
	}
}

// startPrestartedWorker launches a process with no pending request attached;
// the worker becomes a plain idle resource once it announces.
func (ps *PoolState) startPrestartedWorker(ctx context.Context, req *PopWorkerRequest) {
	if !req.RuntimeEnvInfo.HasRuntimeEnv() {
		ps.launchWorkerProcess(ctx, req)
		return
	}
	serializedEnv := req.RuntimeEnvInfo.SerializedRuntimeEnv
	ps.runtimeEnvClient.GetOrCreateRuntimeEnv(ctx, req.JobId, serializedEnv, req.RuntimeEnvInfo.Config, func(success bool, serializedContext string, errorMessage string) {
		ps.PostEvent(NewActionEvent(func(ps *PoolState) {
			if !success {
				klogging.Warning(ctx).With("error", errorMessage).Log("PrestartWorkers", "runtime env creation failed, skipping prestart")
				return
			}
			ps.envRefs.Increase(ctx, serializedEnv)
			if !ps.launchWorkerProcess(ctx, req) {
				ps.envRefs.Decrease(ctx, serializedEnv)
			}
		}))
	})
}
