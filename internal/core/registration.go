package core

import (
	"context"

	"github.com/xinkaiwang/goraylet/internal/data"
	"github.com/xinkaiwang/goraylet/klib/kcommon"
	"github.com/xinkaiwang/goraylet/klib/kerror"
	"github.com/xinkaiwang/goraylet/klib/klogging"
)

// RegisterCallback fires when the pool has accepted (or, for bootstrap
// drivers, when the node is ready to serve) a registration.
type RegisterCallback func(ke *kerror.Kerror)

// RegisterWorker: phase one of the registration path. Locates the owning
// starting slot by startup token, installs the record and leaves the worker
// in PENDING_ANNOUNCE until its port announcement arrives.
func (ps *PoolState) RegisterWorker(ctx context.Context, worker *WorkerRecord, pid int, token data.StartupToken, callback RegisterCallback) *kerror.Kerror {
	st := ps.langState(worker.Language)
	sp, ok := st.startingProcs[token]
	if !ok {
		return kerror.Create("UnknownStartupToken", "register with unknown startup token").
			With("token", int64(token)).With("pid", pid).
			WithErrorCode(kerror.EC_NOT_FOUND)
	}
	if _, exists := st.registeredByWorkerId[worker.WorkerId]; exists {
		// double registration is a programming error, not a peer error
		klogging.Fatal(ctx).With("workerId", string(worker.WorkerId)).Log("RegisterWorker", "double registration")
		return nil
	}
	worker.StartupToken = token
	if worker.Proc.IsNull() {
		worker.Proc = sp.Proc
	}
	if worker.SerializedRuntimeEnv == "" {
		worker.SerializedRuntimeEnv = sp.SerializedRuntimeEnv
	}
	if worker.RuntimeEnvHash == 0 {
		worker.RuntimeEnvHash = sp.RuntimeEnvHash
	}
	if worker.DynamicOptions == nil {
		worker.DynamicOptions = sp.DynamicOptions
	}
	worker.KeepAliveDeadlineMs = sp.KeepAliveDeadlineMs
	worker.State = data.WS_PendingAnnounce
	st.registeredByWorkerId[worker.WorkerId] = worker
	klogging.Debug(ctx).With("workerId", string(worker.WorkerId)).With("token", int64(token)).With("pid", pid).Log("RegisterWorker", "worker registered")
	if callback != nil {
		callback(nil)
	}
	return nil
}

// OnWorkerStarted: phase two, the port announcement. Frees the starting
// slot, wires the RPC client, satisfies the first matching pending request
// or parks the worker idle, then drains queued start requests into the
// freed slot.
func (ps *PoolState) OnWorkerStarted(ctx context.Context, worker *WorkerRecord) {
	st := ps.langState(worker.Language)
	if _, ok := st.startingProcs[worker.StartupToken]; ok {
		delete(st.startingProcs, worker.StartupToken)
	} else {
		klogging.Warning(ctx).With("workerId", string(worker.WorkerId)).With("token", int64(worker.StartupToken)).Log("OnWorkerStarted", "announce without a starting slot")
	}
	if worker.RpcClient == nil && ps.clientFactory != nil {
		worker.RpcClient = ps.clientFactory(worker.WorkerId, worker.IpAddress, worker.Port)
	}

	if worker.WorkerType.IsIoWorkerType() {
		ioState := st.ioStateFor(worker.WorkerType)
		if ioState.numStarting > 0 {
			ioState.numStarting--
		}
		ioState.started[worker.WorkerId] = worker
		ps.pushIoWorkerInternal(ctx, ioState, worker)
		return
	}

	if !st.firstWorkerAnnounced {
		st.firstWorkerAnnounced = true
		pending := st.pendingDriverCallbacks
		st.pendingDriverCallbacks = nil
		for _, driverCallback := range pending {
			driverCallback(nil)
		}
	}

	ps.dispatchOrMakeIdle(ctx, st, worker)
	ps.drainPendingStartRequests(ctx, st)
}

// AnnounceWorkerPort: inbound RPC surface for OnWorkerStarted.
func (ps *PoolState) AnnounceWorkerPort(ctx context.Context, workerId data.WorkerId, port int) *kerror.Kerror {
	worker := ps.GetRegisteredWorker(workerId)
	if worker == nil {
		return kerror.Create("WorkerNotRegistered", "announce from unregistered worker").
			With("workerId", string(workerId)).
			WithErrorCode(kerror.EC_NOT_FOUND)
	}
	worker.Port = port
	ps.OnWorkerStarted(ctx, worker)
	return nil
}

// dispatchOrMakeIdle hands the worker to the FIFO-first pending
// registration request it matches, or parks it in the idle pool.
func (ps *PoolState) dispatchOrMakeIdle(ctx context.Context, st *languageState, worker *WorkerRecord) {
	for i, req := range st.pendingRegistrationRequests {
		if req.completed {
			continue
		}
		if !worker.MatchesRequest(req) {
			continue
		}
		st.pendingRegistrationRequests = append(st.pendingRegistrationRequests[:i], st.pendingRegistrationRequests[i+1:]...)
		worker.bindToRequest(req)
		worker.State = data.WS_Leased
		ps.completeRequest(ctx, req, worker, data.POP_OK, "")
		return
	}
	ps.makeIdle(st, worker)
}

func (ps *PoolState) makeIdle(st *languageState, worker *WorkerRecord) {
	worker.State = data.WS_Idle
	worker.LastIdleTimeMs = kcommon.GetWallTimeMs()
	st.idle = append(st.idle, &idleEntry{worker: worker, idleSinceMs: worker.LastIdleTimeMs})
}

// PushWorker: return-to-pool. Also the hand-back path for a worker whose
// PopWorker request carries no continuation.
func (ps *PoolState) PushWorker(ctx context.Context, workerId data.WorkerId) {
	worker := ps.GetRegisteredWorker(workerId)
	if worker == nil {
		klogging.Debug(ctx).With("workerId", string(workerId)).Log("PushWorker", "push of unknown or dead worker, ignored")
		return
	}
	if worker.WorkerType.IsIoWorkerType() {
		ps.pushIoWorkerByType(ctx, worker)
		return
	}
	if worker.State == data.WS_Idle || worker.State == data.WS_PendingExit {
		return
	}
	st := ps.langState(worker.Language)
	ps.dispatchOrMakeIdle(ctx, st, worker)
}

// RegisterDriver: drivers bypass the pools. The first driver of a
// bootstrap-style language (PYTHON) only hears back once the first worker
// port of that language has been announced, so it observes a ready node
// manager; JVM-style eager languages and all later drivers hear back
// synchronously.
func (ps *PoolState) RegisterDriver(ctx context.Context, driver *WorkerRecord, jobConfig *data.JobConfig, callback RegisterCallback) *kerror.Kerror {
	driver.WorkerType = data.WT_DRIVER
	driver.State = data.WS_Leased
	ps.registeredDrivers[driver.WorkerId] = driver
	if driver.JobId != "" {
		ps.HandleJobStarted(ctx, driver.JobId, jobConfig)
	}
	st := ps.langState(driver.Language)
	isFirstDriver := !st.firstDriverRegistered
	st.firstDriverRegistered = true
	if isFirstDriver && driver.Language == data.LANG_PYTHON && !st.firstWorkerAnnounced {
		if callback != nil {
			st.pendingDriverCallbacks = append(st.pendingDriverCallbacks, callback)
		}
		return nil
	}
	if callback != nil {
		callback(nil)
	}
	return nil
}

func (ps *PoolState) DisconnectDriver(ctx context.Context, workerId data.WorkerId) {
	delete(ps.registeredDrivers, workerId)
}

// DisconnectWorker: transport-level disconnect, legal in any phase. Frees
// the starting slot when the worker never announced, clears every index,
// releases the runtime env reference, and backfills from queued starts.
func (ps *PoolState) DisconnectWorker(ctx context.Context, workerId data.WorkerId, exitType data.ExitType) {
	worker := ps.GetRegisteredWorker(workerId)
	if worker == nil {
		if _, ok := ps.registeredDrivers[workerId]; ok {
			ps.DisconnectDriver(ctx, workerId)
			return
		}
		klogging.Debug(ctx).With("workerId", string(workerId)).Log("DisconnectWorker", "disconnect of unknown worker, ignored")
		return
	}
	st := ps.langState(worker.Language)

	wasStarting := false
	if sp, ok := st.startingProcs[worker.StartupToken]; ok && sp.Proc == worker.Proc {
		delete(st.startingProcs, worker.StartupToken)
		wasStarting = true
	}
	delete(st.registeredByWorkerId, workerId)
	st.removeFromIdle(workerId)
	delete(ps.pendingExitWorkers, workerId)

	if worker.WorkerType.IsIoWorkerType() {
		ioState := st.ioStateFor(worker.WorkerType)
		if ioState != nil {
			if wasStarting && ioState.numStarting > 0 {
				ioState.numStarting--
			}
			delete(ioState.started, workerId)
			ps.removeIoIdle(ioState, workerId)
			ps.maybeStartIoWorker(ctx, st, ioState)
		}
	}

	if worker.SerializedRuntimeEnv != "" {
		ps.envRefs.Decrease(ctx, worker.SerializedRuntimeEnv)
	}
	worker.State = data.WS_Dead
	klogging.Info(ctx).With("workerId", string(workerId)).With("exitType", string(exitType)).Log("DisconnectWorker", "worker disconnected")

	if worker.WorkerType == data.WT_WORKER {
		ps.drainPendingStartRequests(ctx, st)
	}
}
