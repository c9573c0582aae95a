package core

import (
	"context"

	"github.com/xinkaiwang/goraylet/internal/data"
	"github.com/xinkaiwang/goraylet/klib/klogging"
)

// JobRecord is the local view of one job announced by the cluster metadata
// service. JS_Finished is terminal.
type JobRecord struct {
	JobId  data.JobId
	State  data.JobStateEnum
	Config *data.JobConfig

	// eagerRefHeld: the job start took a runtime env reference that the
	// finish edge has to give back.
	eagerRefHeld bool
}

// HandleJobStarted registers the job locally, applies an eager runtime env
// install when asked for, and makes the job eligible for worker assignment.
func (ps *PoolState) HandleJobStarted(ctx context.Context, jobId data.JobId, jobConfig *data.JobConfig) {
	existing, ok := ps.allJobs[jobId]
	if ok {
		if existing.State == data.JS_Finished {
			klogging.Warning(ctx).With("jobId", string(jobId)).Log("HandleJobStarted", "ignoring start of already-finished job")
		}
		return
	}
	if jobConfig == nil {
		jobConfig = &data.JobConfig{}
	}
	job := &JobRecord{
		JobId:  jobId,
		State:  data.JS_Running,
		Config: jobConfig,
	}
	ps.allJobs[jobId] = job
	klogging.Info(ctx).With("jobId", string(jobId)).Log("HandleJobStarted", "job registered")

	envInfo := &jobConfig.RuntimeEnvInfo
	if envInfo.HasRuntimeEnv() && envInfo.Config.EagerInstall {
		serializedEnv := envInfo.SerializedRuntimeEnv
		ps.runtimeEnvClient.GetOrCreateRuntimeEnv(ctx, jobId, serializedEnv, envInfo.Config, func(success bool, serializedContext string, errorMessage string) {
			ps.PostEvent(NewActionEvent(func(ps *PoolState) {
				if !success {
					klogging.Warning(ctx).With("jobId", string(jobId)).With("error", errorMessage).Log("EagerInstall", "eager runtime env install failed")
					return
				}
				job.eagerRefHeld = true
				ps.envRefs.Increase(ctx, serializedEnv)
			}))
		})
	}
}

// HandleJobFinished marks the job FINISHED, fails every queued request bound
// to it, releases the eager-install reference and triggers forced
// reclamation of its idle workers.
func (ps *PoolState) HandleJobFinished(ctx context.Context, jobId data.JobId) {
	job, ok := ps.allJobs[jobId]
	if !ok {
		klogging.Warning(ctx).With("jobId", string(jobId)).Log("HandleJobFinished", "finish for unknown job")
		return
	}
	if job.State == data.JS_Finished {
		return
	}
	job.State = data.JS_Finished
	klogging.Info(ctx).With("jobId", string(jobId)).Log("HandleJobFinished", "job finished")

	ps.failQueuedRequestsForJob(ctx, jobId)

	if job.eagerRefHeld {
		job.eagerRefHeld = false
		ps.envRefs.Decrease(ctx, job.Config.RuntimeEnvInfo.SerializedRuntimeEnv)
	}

	ps.TryKillingIdleWorkers(ctx)
}

func (ps *PoolState) failQueuedRequestsForJob(ctx context.Context, jobId data.JobId) {
	for _, st := range ps.statesByLang {
		keptStart := st.pendingStartRequests[:0]
		for _, req := range st.pendingStartRequests {
			if req.JobId == jobId {
				ps.completeRequest(ctx, req, nil, data.POP_JobFinished, "")
			} else {
				keptStart = append(keptStart, req)
			}
		}
		st.pendingStartRequests = keptStart

		keptReg := st.pendingRegistrationRequests[:0]
		for _, req := range st.pendingRegistrationRequests {
			if req.JobId == jobId {
				ps.completeRequest(ctx, req, nil, data.POP_JobFinished, "")
			} else {
				keptReg = append(keptReg, req)
			}
		}
		st.pendingRegistrationRequests = keptReg
	}
}

// OnJobStarted / OnJobFinished implement gcsprov.JobEventListener: edges
// arrive on the event source's goroutine and re-enter the loop here.
func (ps *PoolState) OnJobStarted(ctx context.Context, jobId data.JobId, jobConfig *data.JobConfig) {
	ps.PostEvent(NewActionEvent(func(ps *PoolState) {
		ps.HandleJobStarted(ctx, jobId, jobConfig)
	}))
}

func (ps *PoolState) OnJobFinished(ctx context.Context, jobId data.JobId) {
	ps.PostEvent(NewActionEvent(func(ps *PoolState) {
		ps.HandleJobFinished(ctx, jobId)
	}))
}
