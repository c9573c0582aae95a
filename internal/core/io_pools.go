package core

import (
	"context"

	"github.com/xinkaiwang/goraylet/internal/data"
	"github.com/xinkaiwang/goraylet/klib/klogging"
)

// IoWorkerCallback receives a leased I/O worker. Callbacks queue FIFO when
// no idle worker is available.
type IoWorkerCallback func(worker *WorkerRecord)

// ioWorkerLanguage: spill/restore/delete workers are Python processes.
const ioWorkerLanguage = data.LANG_PYTHON

func (ps *PoolState) PopSpillWorker(ctx context.Context, callback IoWorkerCallback) {
	st := ps.langState(ioWorkerLanguage)
	ps.popIoWorker(ctx, st, st.spillIoWorkerState, callback)
}

func (ps *PoolState) PopRestoreWorker(ctx context.Context, callback IoWorkerCallback) {
	st := ps.langState(ioWorkerLanguage)
	ps.popIoWorker(ctx, st, st.restoreIoWorkerState, callback)
}

// PopDeleteWorker: deletion can ride either pipeline; picking whichever
// sub-pool has the larger idle population keeps deletes from starving
// spills or restores.
func (ps *PoolState) PopDeleteWorker(ctx context.Context, callback IoWorkerCallback) {
	st := ps.langState(ioWorkerLanguage)
	ioState := st.spillIoWorkerState
	if len(st.restoreIoWorkerState.idle) > len(st.spillIoWorkerState.idle) {
		ioState = st.restoreIoWorkerState
	}
	ps.popIoWorker(ctx, st, ioState, callback)
}

func (ps *PoolState) PushSpillWorker(ctx context.Context, workerId data.WorkerId) {
	ps.pushIoWorkerById(ctx, workerId, data.WT_SPILL_WORKER)
}

func (ps *PoolState) PushRestoreWorker(ctx context.Context, workerId data.WorkerId) {
	ps.pushIoWorkerById(ctx, workerId, data.WT_RESTORE_WORKER)
}

// PushDeleteWorker routes the worker back to the sub-pool it came from.
func (ps *PoolState) PushDeleteWorker(ctx context.Context, workerId data.WorkerId) {
	worker := ps.GetRegisteredWorker(workerId)
	if worker == nil {
		return
	}
	ps.pushIoWorkerById(ctx, workerId, worker.WorkerType)
}

func (ps *PoolState) pushIoWorkerById(ctx context.Context, workerId data.WorkerId, kind data.WorkerType) {
	worker := ps.GetRegisteredWorker(workerId)
	if worker == nil {
		klogging.Debug(ctx).With("workerId", string(workerId)).Log("PushIoWorker", "push of unknown or dead io worker, ignored")
		return
	}
	st := ps.langState(worker.Language)
	ioState := st.ioStateFor(kind)
	if ioState == nil {
		klogging.Warning(ctx).With("workerId", string(workerId)).With("kind", string(kind)).Log("PushIoWorker", "not an io worker kind")
		return
	}
	ps.pushIoWorkerInternal(ctx, ioState, worker)
}

func (ps *PoolState) pushIoWorkerByType(ctx context.Context, worker *WorkerRecord) {
	st := ps.langState(worker.Language)
	ioState := st.ioStateFor(worker.WorkerType)
	if ioState == nil {
		return
	}
	ps.pushIoWorkerInternal(ctx, ioState, worker)
}

func (ps *PoolState) popIoWorker(ctx context.Context, st *languageState, ioState *ioWorkerState, callback IoWorkerCallback) {
	if n := len(ioState.idle); n > 0 {
		worker := ioState.idle[n-1]
		ioState.idle = ioState.idle[:n-1]
		worker.State = data.WS_Leased
		callback(worker)
		return
	}
	ioState.pendingCallbacks = append(ioState.pendingCallbacks, callback)
	ps.maybeStartIoWorker(ctx, st, ioState)
}

func (ps *PoolState) pushIoWorkerInternal(ctx context.Context, ioState *ioWorkerState, worker *WorkerRecord) {
	if len(ioState.pendingCallbacks) > 0 {
		callback := ioState.pendingCallbacks[0]
		ioState.pendingCallbacks = ioState.pendingCallbacks[1:]
		worker.State = data.WS_Leased
		callback(worker)
		return
	}
	if worker.State == data.WS_Idle {
		return
	}
	worker.State = data.WS_Idle
	ioState.idle = append(ioState.idle, worker)
}

// maybeStartIoWorker launches one more auxiliary worker when callbacks are
// waiting and the starting+started population is under the cap.
func (ps *PoolState) maybeStartIoWorker(ctx context.Context, st *languageState, ioState *ioWorkerState) {
	if len(ioState.pendingCallbacks) == 0 {
		return
	}
	if ioState.numStarting+len(ioState.started) >= ps.Config.MaxIoWorkers {
		return
	}
	req := &PopWorkerRequest{Language: st.language, WorkerType: ioState.kind}
	if !ps.launchWorkerProcess(ctx, req) {
		klogging.Error(ctx).With("kind", string(ioState.kind)).Log("PushIoWorker", "io worker launch failed")
	}
}

func (ps *PoolState) removeIoIdle(ioState *ioWorkerState, workerId data.WorkerId) {
	for i, worker := range ioState.idle {
		if worker.WorkerId == workerId {
			ioState.idle = append(ioState.idle[:i], ioState.idle[i+1:]...)
			return
		}
	}
}
