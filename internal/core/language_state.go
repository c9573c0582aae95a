package core

import (
	"github.com/xinkaiwang/goraylet/internal/data"
	"github.com/xinkaiwang/goraylet/internal/launch"
)

// startingProcess is one spawned process whose registration has not
// completed yet. Keyed by startup token in languageState.startingProcs.
type startingProcess struct {
	Token      data.StartupToken
	Proc       launch.ProcessHandle
	WorkerType data.WorkerType

	// carried from the request that caused the launch, copied onto the
	// WorkerRecord at registration
	SerializedRuntimeEnv string
	RuntimeEnvHash       data.RuntimeEnvHash
	DynamicOptions       []string
	KeepAliveDeadlineMs  int64
}

// idleEntry: one idle worker plus the timestamp it went idle at. The slice
// is ordered oldest-first; pops take the newest end, eviction the oldest.
type idleEntry struct {
	worker      *WorkerRecord
	idleSinceMs int64
}

// ioWorkerState is one bounded sub-pool (spill or restore).
type ioWorkerState struct {
	kind             data.WorkerType
	numStarting      int
	started          map[data.WorkerId]*WorkerRecord
	idle             []*WorkerRecord
	pendingCallbacks []IoWorkerCallback
}

func newIoWorkerState(kind data.WorkerType) *ioWorkerState {
	return &ioWorkerState{
		kind:    kind,
		started: map[data.WorkerId]*WorkerRecord{},
	}
}

// languageState holds the pools and pending requests for one language.
type languageState struct {
	language data.Language

	startingProcs map[data.StartupToken]*startingProcess
	idle          []*idleEntry

	registeredByWorkerId map[data.WorkerId]*WorkerRecord

	// pendingStartRequests: requests waiting for a startup slot.
	pendingStartRequests []*PopWorkerRequest
	// pendingRegistrationRequests: requests whose spawn is in flight.
	pendingRegistrationRequests []*PopWorkerRequest

	spillIoWorkerState   *ioWorkerState
	restoreIoWorkerState *ioWorkerState

	firstDriverRegistered bool
	firstWorkerAnnounced  bool
	// deferred first-driver registration callbacks, flushed at first announce
	pendingDriverCallbacks []RegisterCallback
}

func newLanguageState(language data.Language) *languageState {
	return &languageState{
		language:             language,
		startingProcs:        map[data.StartupToken]*startingProcess{},
		registeredByWorkerId: map[data.WorkerId]*WorkerRecord{},
		spillIoWorkerState:   newIoWorkerState(data.WT_SPILL_WORKER),
		restoreIoWorkerState: newIoWorkerState(data.WT_RESTORE_WORKER),
	}
}

// numGenericStarting: processes of type WORKER pending registration. This is
// what the startup concurrency budget counts; I/O workers have their own cap.
func (st *languageState) numGenericStarting() int {
	count := 0
	for _, sp := range st.startingProcs {
		if sp.WorkerType == data.WT_WORKER {
			count++
		}
	}
	return count
}

// numGenericStartingForHash: starting WORKER processes launched under one
// runtime env hash. The pre-start budget is scoped to (language, hash), not
// to the language-wide startup concurrency figure.
func (st *languageState) numGenericStartingForHash(hash data.RuntimeEnvHash) int {
	count := 0
	for _, sp := range st.startingProcs {
		if sp.WorkerType == data.WT_WORKER && sp.RuntimeEnvHash == hash {
			count++
		}
	}
	return count
}

// numLiveGenericWorkers: registered non-I/O workers, any state (idle,
// leased, pending exit). This is what the soft limit compares against.
func (st *languageState) numLiveGenericWorkers() int {
	count := 0
	for _, worker := range st.registeredByWorkerId {
		if worker.WorkerType == data.WT_WORKER {
			count++
		}
	}
	return count
}

func (st *languageState) removeFromIdle(workerId data.WorkerId) bool {
	for i, entry := range st.idle {
		if entry.worker.WorkerId == workerId {
			st.idle = append(st.idle[:i], st.idle[i+1:]...)
			return true
		}
	}
	return false
}

func (st *languageState) ioStateFor(kind data.WorkerType) *ioWorkerState {
	switch kind {
	case data.WT_SPILL_WORKER:
		return st.spillIoWorkerState
	case data.WT_RESTORE_WORKER:
		return st.restoreIoWorkerState
	default:
		return nil
	}
}
