package core

import (
	"github.com/xinkaiwang/goraylet/internal/data"
	"github.com/xinkaiwang/goraylet/internal/launch"
	"github.com/xinkaiwang/goraylet/internal/workerrpc"
)

// WorkerRecord is the in-memory record of one live worker process. Records
// are arena-owned by the pool and always looked up by WorkerId; callbacks
// capture the id only and re-resolve, never the record.
type WorkerRecord struct {
	WorkerId   data.WorkerId
	Language   data.Language
	WorkerType data.WorkerType

	// JobId: unset until the first task assignment binds it (drivers bind at
	// registration). Immutable once set.
	JobId data.JobId
	// RootDetachedActorId: copied from the first assigned task that carries one.
	RootDetachedActorId data.ActorId

	RuntimeEnvHash       data.RuntimeEnvHash
	SerializedRuntimeEnv string
	DynamicOptions       []string
	StartupToken         data.StartupToken
	Proc                 launch.ProcessHandle
	IpAddress            string
	Port                 int
	RpcClient            workerrpc.CoreWorkerClient

	State data.WorkerStateEnum

	LastIdleTimeMs      int64
	KeepAliveDeadlineMs int64 // 0 = no keep-alive
}

func NewWorkerRecord(workerId data.WorkerId, language data.Language, workerType data.WorkerType, jobId data.JobId, runtimeEnvHash data.RuntimeEnvHash, startupToken data.StartupToken) *WorkerRecord {
	return &WorkerRecord{
		WorkerId:       workerId,
		Language:       language,
		WorkerType:     workerType,
		JobId:          jobId,
		RuntimeEnvHash: runtimeEnvHash,
		StartupToken:   startupToken,
		State:          data.WS_Starting,
	}
}

// MatchesRequest is the §matching predicate between an idle (or announcing)
// worker and a pending request. Job gate: a worker already bound to another
// job never serves this request. Detached-actor gate: a worker rooted in a
// detached actor stays private to that actor's requests, but still serves
// plain requests of its own job.
func (worker *WorkerRecord) MatchesRequest(req *PopWorkerRequest) bool {
	if worker.Language != req.Language {
		return false
	}
	if worker.WorkerType != req.WorkerType {
		return false
	}
	if worker.RuntimeEnvHash != req.RuntimeEnvHash {
		return false
	}
	if !equalStringSlices(worker.DynamicOptions, req.DynamicOptions) {
		return false
	}
	if worker.JobId != "" && worker.JobId != req.JobId {
		return false
	}
	if req.RootDetachedActorId != "" {
		if worker.RootDetachedActorId != "" && worker.RootDetachedActorId != req.RootDetachedActorId {
			return false
		}
	}
	return true
}

// bindToRequest sets the job binding (and detached actor scope) if the
// worker was still unbound.
func (worker *WorkerRecord) bindToRequest(req *PopWorkerRequest) {
	if worker.JobId == "" {
		worker.JobId = req.JobId
	}
	if worker.RootDetachedActorId == "" && req.RootDetachedActorId != "" {
		worker.RootDetachedActorId = req.RootDetachedActorId
	}
}

func equalStringSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
