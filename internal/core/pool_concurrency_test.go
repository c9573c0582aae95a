package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xinkaiwang/goraylet/internal/data"
	"github.com/xinkaiwang/goraylet/internal/launch"
)

// 100 requests against an empty pool: the startup budget admits exactly
// MAX_STARTUP_CONCURRENCY spawns, the rest queue as pending starts.
func TestMaximumStartupConcurrency(t *testing.T) {
	setup := newPoolTestSetup(t)
	setup.RunWith(func() {
		setup.registerDriver(data.LANG_PYTHON, testJobId1, nil)

		for i := 0; i < 100; i++ {
			setup.Pool.PopWorker(setup.ctx, &PopWorkerRequest{
				Language:   data.LANG_PYTHON,
				WorkerType: data.WT_WORKER,
				JobId:      testJobId1,
				Callback: func(worker *WorkerRecord, status data.PopWorkerStatus, errMsg string) bool {
					return true
				},
			})
		}
		assert.Equal(t, maximumStartupConcurrency, setup.Pool.NumWorkersStarting())
		assert.Equal(t, 100-maximumStartupConcurrency, setup.Pool.NumPendingStartRequests())
		assert.Equal(t, maximumStartupConcurrency, setup.Pool.NumPendingRegistrationRequests())
		assert.Equal(t, maximumStartupConcurrency, setup.Launcher.GetProcessSize())
	})
}

// One announce frees one startup slot; the queue head moves from pending
// start into a fresh launch, and the announced worker serves the FIFO head
// of the pending registration queue.
func TestStartupSlotRecycling(t *testing.T) {
	setup := newPoolTestSetup(t)
	setup.RunWith(func() {
		setup.registerDriver(data.LANG_PYTHON, testJobId1, nil)

		served := 0
		for i := 0; i < maximumStartupConcurrency+2; i++ {
			setup.Pool.PopWorker(setup.ctx, &PopWorkerRequest{
				Language:   data.LANG_PYTHON,
				WorkerType: data.WT_WORKER,
				JobId:      testJobId1,
				Callback: func(worker *WorkerRecord, status data.PopWorkerStatus, errMsg string) bool {
					if worker != nil {
						served++
					}
					return true
				},
			})
		}
		assert.Equal(t, maximumStartupConcurrency, setup.Pool.NumWorkersStarting())
		assert.Equal(t, 2, setup.Pool.NumPendingStartRequests())
		assert.Equal(t, maximumStartupConcurrency, setup.Pool.NumPendingRegistrationRequests())

		// answer for one launched process
		proc := setup.Launcher.LastStartedProcess()
		token := setup.Launcher.GetStartupToken(proc)
		worker := setup.createWorker(launch.ProcessHandle{}, data.LANG_PYTHON, "", data.WT_WORKER, 0, token)
		require.Nil(t, setup.Pool.RegisterWorker(setup.ctx, worker, proc.Pid, token, nil))
		setup.Pool.OnWorkerStarted(setup.ctx, worker)
		setup.pushedProcs[proc] = true

		// the announce served one queued request and backfilled one launch
		assert.Equal(t, 1, served)
		assert.Equal(t, maximumStartupConcurrency, setup.Pool.NumWorkersStarting())
		assert.Equal(t, 1, setup.Pool.NumPendingStartRequests())
		assert.Equal(t, maximumStartupConcurrency, setup.Pool.NumPendingRegistrationRequests())
		assert.Equal(t, maximumStartupConcurrency+1, setup.Launcher.GetProcessSize())
	})
}

// A disconnect of a registered-but-unannounced worker frees its slot and
// backfills from the pending start queue; no request fails on its behalf.
func TestDisconnectFreesStartupSlot(t *testing.T) {
	setup := newPoolTestSetup(t)
	setup.RunWith(func() {
		setup.registerDriver(data.LANG_PYTHON, testJobId1, nil)

		for i := 0; i < maximumStartupConcurrency+1; i++ {
			setup.Pool.PopWorker(setup.ctx, &PopWorkerRequest{
				Language:   data.LANG_PYTHON,
				WorkerType: data.WT_WORKER,
				JobId:      testJobId1,
				Callback: func(worker *WorkerRecord, status data.PopWorkerStatus, errMsg string) bool {
					return true
				},
			})
		}
		assert.Equal(t, 1, setup.Pool.NumPendingStartRequests())

		proc := setup.Launcher.LastStartedProcess()
		token := setup.Launcher.GetStartupToken(proc)
		worker := setup.createWorker(launch.ProcessHandle{}, data.LANG_PYTHON, "", data.WT_WORKER, 0, token)
		require.Nil(t, setup.Pool.RegisterWorker(setup.ctx, worker, proc.Pid, token, nil))
		setup.Pool.DisconnectWorker(setup.ctx, worker.WorkerId, data.ET_SystemError)

		assert.Equal(t, maximumStartupConcurrency, setup.Pool.NumWorkersStarting())
		assert.Equal(t, 0, setup.Pool.NumPendingStartRequests())
		assert.Equal(t, maximumStartupConcurrency+1, setup.Pool.NumPendingRegistrationRequests())
		assert.Equal(t, maximumStartupConcurrency+1, setup.Launcher.GetProcessSize())
		assert.Equal(t, 0, setup.Pool.GetIdleWorkerSize())
	})
}
