package core

import (
	"context"

	"github.com/xinkaiwang/goraylet/internal/data"
	"github.com/xinkaiwang/goraylet/klib/kcommon"
	"github.com/xinkaiwang/goraylet/klib/klogging"
	"github.com/xinkaiwang/goraylet/klib/kmetrics"
)

var (
	popWorkerMetric = kmetrics.CreateKmetric(context.Background(), "pop_worker_total", "pop worker completions", []string{"language", "status"})
)

// PopWorkerCallback receives the outcome of a PopWorker request, exactly
// once, with exactly one of (worker, error status). Returning false hands a
// non-nil worker straight back to the idle pool.
type PopWorkerCallback func(worker *WorkerRecord, status data.PopWorkerStatus, runtimeEnvErrorMsg string) bool

// PopWorkerRequest is immutable once created.
type PopWorkerRequest struct {
	Language            data.Language
	WorkerType          data.WorkerType
	JobId               data.JobId
	RootDetachedActorId data.ActorId
	IsGpu               *bool
	IsActorWorker       *bool
	RuntimeEnvInfo      data.RuntimeEnvInfo
	RuntimeEnvHash      data.RuntimeEnvHash
	DynamicOptions      []string
	KeepAliveDurationMs int64
	Callback            PopWorkerCallback

	// loop-private bookkeeping
	completed bool
}

// completeRequest invokes the continuation at most once. A worker the
// caller declines (callback returns false) goes back to the idle pool.
func (ps *PoolState) completeRequest(ctx context.Context, req *PopWorkerRequest, worker *WorkerRecord, status data.PopWorkerStatus, runtimeEnvErrorMsg string) {
	if req.completed {
		return
	}
	req.completed = true
	popWorkerMetric.GetTimeSequence(ctx, string(req.Language), string(status)).Add(1)
	if req.Callback == nil {
		if worker != nil {
			ps.PushWorker(ctx, worker.WorkerId)
		}
		return
	}
	used := req.Callback(worker, status, runtimeEnvErrorMsg)
	if worker != nil && !used {
		ps.makeIdle(ps.langState(worker.Language), worker)
	}
}

// PopWorker: the matcher & dispatcher. See the registration path for how a
// launched process eventually satisfies the request.
func (ps *PoolState) PopWorker(ctx context.Context, req *PopWorkerRequest) {
	// job gate
	job, ok := ps.allJobs[req.JobId]
	if !ok {
		ps.completeRequest(ctx, req, nil, data.POP_JobConfigMissing, "")
		return
	}
	if job.State == data.JS_Finished {
		ps.completeRequest(ctx, req, nil, data.POP_JobFinished, "")
		return
	}

	st := ps.langState(req.Language)

	// idle pool first, newest-first for cache locality
	for i := len(st.idle) - 1; i >= 0; i-- {
		worker := st.idle[i].worker
		if !worker.MatchesRequest(req) {
			continue
		}
		st.idle = append(st.idle[:i], st.idle[i+1:]...)
		worker.bindToRequest(req)
		worker.State = data.WS_Leased
		ps.completeRequest(ctx, req, worker, data.POP_OK, "")
		return
	}

	// no compatible idle worker: spawn if the startup budget allows
	if st.numGenericStarting() >= ps.Config.MaximumStartupConcurrency {
		st.pendingStartRequests = append(st.pendingStartRequests, req)
		return
	}
	ps.startNewWorkerForRequest(ctx, req)
}

// StartNewWorker: direct spawn for an already-built request, bypassing the
// idle pool and the soft limit. The startup concurrency budget still binds:
// over budget the request queues as a pending start.
func (ps *PoolState) StartNewWorker(ctx context.Context, req *PopWorkerRequest) {
	st := ps.langState(req.Language)
	if st.numGenericStarting() >= ps.Config.MaximumStartupConcurrency {
		st.pendingStartRequests = append(st.pendingStartRequests, req)
		return
	}
	ps.startNewWorkerForRequest(ctx, req)
}

func (ps *PoolState) startNewWorkerForRequest(ctx context.Context, req *PopWorkerRequest) {
	if !req.RuntimeEnvInfo.HasRuntimeEnv() {
		ps.launchWorkerForRequest(ctx, req)
		return
	}
	serializedEnv := req.RuntimeEnvInfo.SerializedRuntimeEnv
	ps.runtimeEnvClient.GetOrCreateRuntimeEnv(ctx, req.JobId, serializedEnv, req.RuntimeEnvInfo.Config, func(success bool, serializedContext string, errorMessage string) {
		ps.PostEvent(&runtimeEnvReadyEvent{request: req, success: success, errorMessage: errorMessage})
	})
}

func (ps *PoolState) handleRuntimeEnvReady(ctx context.Context, req *PopWorkerRequest, success bool, errorMessage string) {
	if req.completed {
		// the request died while the agent was working; the env reference
		// it took has no holder, give it back
		if success {
			ps.envRefs.Increase(ctx, req.RuntimeEnvInfo.SerializedRuntimeEnv)
			ps.envRefs.Decrease(ctx, req.RuntimeEnvInfo.SerializedRuntimeEnv)
		}
		return
	}
	if !success {
		klogging.Warning(ctx).With("jobId", string(req.JobId)).With("error", errorMessage).Log("PopWorker", "runtime env creation failed")
		ps.completeRequest(ctx, req, nil, data.POP_RuntimeEnvCreationFailed, errorMessage)
		ps.drainPendingStartRequests(ctx, ps.langState(req.Language))
		return
	}
	ps.envRefs.Increase(ctx, req.RuntimeEnvInfo.SerializedRuntimeEnv)
	ps.launchWorkerForRequest(ctx, req)
}

// launchWorkerForRequest spawns the process and parks the request in
// pending_registration_requests under a registration deadline.
func (ps *PoolState) launchWorkerForRequest(ctx context.Context, req *PopWorkerRequest) {
	st := ps.langState(req.Language)
	ok := ps.launchWorkerProcess(ctx, req)
	if !ok {
		if req.RuntimeEnvInfo.HasRuntimeEnv() {
			ps.envRefs.Decrease(ctx, req.RuntimeEnvInfo.SerializedRuntimeEnv)
		}
		ps.completeRequest(ctx, req, nil, data.POP_WorkerPendingRegistration, "")
		return
	}
	st.pendingRegistrationRequests = append(st.pendingRegistrationRequests, req)

	timeoutMs := ps.Config.WorkerRegisterTimeoutSeconds * 1000
	kcommon.ScheduleRun(timeoutMs, func() {
		ps.PostEvent(&registrationTimeoutEvent{request: req})
	})
}

// launchWorkerProcess allocates a startup token, spawns the process and
// records the starting slot. Shared by the dispatch and prestart paths.
func (ps *PoolState) launchWorkerProcess(ctx context.Context, req *PopWorkerRequest) bool {
	st := ps.langState(req.Language)
	token := ps.launcher.AllocateStartupToken()
	argv := ps.buildWorkerCommand(req, token)
	proc, err := ps.launcher.Launch(ctx, token, argv, nil)
	if err != nil {
		klogging.Error(ctx).With("language", string(req.Language)).With("error", err.Error()).Log("PopWorker", "worker process launch failed")
		return false
	}
	keepAliveDeadlineMs := int64(0)
	if req.KeepAliveDurationMs > 0 {
		keepAliveDeadlineMs = kcommon.GetWallTimeMs() + req.KeepAliveDurationMs
	}
	st.startingProcs[token] = &startingProcess{
		Token:                token,
		Proc:                 proc,
		WorkerType:           req.WorkerType,
		SerializedRuntimeEnv: req.RuntimeEnvInfo.SerializedRuntimeEnv,
		RuntimeEnvHash:       req.RuntimeEnvHash,
		DynamicOptions:       req.DynamicOptions,
		KeepAliveDeadlineMs:  keepAliveDeadlineMs,
	}
	if ioState := st.ioStateFor(req.WorkerType); ioState != nil {
		ioState.numStarting++
	}
	klogging.Debug(ctx).With("language", string(req.Language)).With("token", int64(token)).With("pid", proc.Pid).Log("PopWorker", "worker process launched")
	return true
}

// handleRegistrationTimeout: the deadline passed with no announce. The
// request fails; the launched process stays a starting slot until it either
// announces (and idles, available to any later request) or disconnects.
func (ps *PoolState) handleRegistrationTimeout(ctx context.Context, req *PopWorkerRequest) {
	if req.completed {
		return
	}
	st := ps.langState(req.Language)
	for i, queued := range st.pendingRegistrationRequests {
		if queued == req {
			st.pendingRegistrationRequests = append(st.pendingRegistrationRequests[:i], st.pendingRegistrationRequests[i+1:]...)
			break
		}
	}
	klogging.Warning(ctx).With("language", string(req.Language)).With("jobId", string(req.JobId)).Log("PopWorker", "worker registration timed out")
	ps.completeRequest(ctx, req, nil, data.POP_WorkerPendingRegistration, "")
}

// drainPendingStartRequests: while a startup slot is free, promote queued
// requests into launches.
func (ps *PoolState) drainPendingStartRequests(ctx context.Context, st *languageState) {
	for len(st.pendingStartRequests) > 0 && st.numGenericStarting() < ps.Config.MaximumStartupConcurrency {
		req := st.pendingStartRequests[0]
		st.pendingStartRequests = st.pendingStartRequests[1:]
		if req.completed {
			continue
		}
		ps.startNewWorkerForRequest(ctx, req)
	}
}
