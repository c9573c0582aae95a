package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xinkaiwang/goraylet/internal/data"
	"github.com/xinkaiwang/goraylet/internal/runtimeenv"
)

func detachedRequest(jobId data.JobId, detachedActorId data.ActorId) *PopWorkerRequest {
	req := exampleRequest(data.LANG_PYTHON, jobId)
	req.RootDetachedActorId = detachedActorId
	return req
}

// Requests rooted in a detached actor only accept workers whose job and
// detached-actor scope are compatible.
func TestPopWorkerForRequestWithRootDetachedActor(t *testing.T) {
	setup := newPoolTestSetup(t)
	setup.RunWith(func() {
		setup.registerDriver(data.LANG_PYTHON, testJobId1, nil)
		setup.registerDriver(data.LANG_PYTHON, testJobId2, nil)
		actor1Job1 := data.ActorId("actor-1-job-1")
		actor2Job1 := data.ActorId("actor-2-job-1")
		actor3Job2 := data.ActorId("actor-3-job-2")

		// case 1 (match): no job, no detached actor
		worker := setup.addIdleWorker(data.LANG_PYTHON, "", "")
		result := setup.popWorkerSync(detachedRequest(testJobId1, actor1Job1), true)
		require.NotNil(t, result.worker)
		assert.Equal(t, worker.WorkerId, result.worker.WorkerId)
		assert.Equal(t, 0, setup.Pool.GetIdleWorkerSize())

		// case 2 (match): same job, no detached actor
		worker = setup.addIdleWorker(data.LANG_PYTHON, testJobId1, "")
		result = setup.popWorkerSync(detachedRequest(testJobId1, actor1Job1), true)
		require.NotNil(t, result.worker)
		assert.Equal(t, worker.WorkerId, result.worker.WorkerId)

		// case 3 (match): same job, same detached actor
		worker = setup.addIdleWorker(data.LANG_PYTHON, testJobId1, actor1Job1)
		result = setup.popWorkerSync(detachedRequest(testJobId1, actor1Job1), true)
		require.NotNil(t, result.worker)
		assert.Equal(t, worker.WorkerId, result.worker.WorkerId)

		// case 4 (mismatch): different job, no detached actor
		worker = setup.addIdleWorker(data.LANG_PYTHON, testJobId2, "")
		result = setup.popWorkerSync(detachedRequest(testJobId1, actor1Job1), true)
		require.NotNil(t, result.worker)
		assert.NotEqual(t, worker.WorkerId, result.worker.WorkerId)
		assert.Equal(t, 1, setup.Pool.GetIdleWorkerSize())
		setup.Pool.DisconnectWorker(setup.ctx, worker.WorkerId, data.ET_IntendedUserExit)
		assert.Equal(t, 0, setup.Pool.GetIdleWorkerSize())

		// case 5 (mismatch): different job, different detached actor
		worker = setup.addIdleWorker(data.LANG_PYTHON, testJobId2, actor3Job2)
		result = setup.popWorkerSync(detachedRequest(testJobId1, actor1Job1), true)
		require.NotNil(t, result.worker)
		assert.NotEqual(t, worker.WorkerId, result.worker.WorkerId)
		assert.Equal(t, 1, setup.Pool.GetIdleWorkerSize())
		setup.Pool.DisconnectWorker(setup.ctx, worker.WorkerId, data.ET_IntendedUserExit)

		// case 6 (mismatch): same job, different detached actor
		worker = setup.addIdleWorker(data.LANG_PYTHON, testJobId1, actor2Job1)
		result = setup.popWorkerSync(detachedRequest(testJobId1, actor1Job1), true)
		require.NotNil(t, result.worker)
		assert.NotEqual(t, worker.WorkerId, result.worker.WorkerId)
		assert.Equal(t, 1, setup.Pool.GetIdleWorkerSize())
		setup.Pool.DisconnectWorker(setup.ctx, worker.WorkerId, data.ET_IntendedUserExit)

		// case 7 (mismatch): different job, same detached actor
		worker = setup.addIdleWorker(data.LANG_PYTHON, testJobId2, actor1Job1)
		result = setup.popWorkerSync(detachedRequest(testJobId1, actor1Job1), true)
		require.NotNil(t, result.worker)
		assert.NotEqual(t, worker.WorkerId, result.worker.WorkerId)
		assert.Equal(t, 1, setup.Pool.GetIdleWorkerSize())
	})
}

// A worker rooted in a detached actor still serves plain requests of its
// own job, but nothing from other jobs or other detached actors.
func TestPopWorkerWithRootDetachedActorID(t *testing.T) {
	setup := newPoolTestSetup(t)
	setup.RunWith(func() {
		setup.registerDriver(data.LANG_PYTHON, testJobId1, nil)
		setup.registerDriver(data.LANG_PYTHON, testJobId2, nil)
		actor1Job1 := data.ActorId("actor-1-job-1")
		actor2Job2 := data.ActorId("actor-2-job-2")

		worker := setup.addIdleWorker(data.LANG_PYTHON, testJobId1, actor1Job1)

		// case 1 (match): same job, no detached actor on the request
		result := setup.popWorkerSync(exampleRequest(data.LANG_PYTHON, testJobId1), true)
		require.NotNil(t, result.worker)
		assert.Equal(t, worker.WorkerId, result.worker.WorkerId)
		assert.Equal(t, 0, setup.Pool.GetIdleWorkerSize())
		setup.Pool.PushWorker(setup.ctx, worker.WorkerId)

		// case 2 (match): same job, same detached actor
		result = setup.popWorkerSync(detachedRequest(testJobId1, actor1Job1), true)
		require.NotNil(t, result.worker)
		assert.Equal(t, worker.WorkerId, result.worker.WorkerId)
		setup.Pool.PushWorker(setup.ctx, worker.WorkerId)

		// case 3 (mismatch): different job, no detached actor
		result = setup.popWorkerSync(exampleRequest(data.LANG_PYTHON, testJobId2), true)
		require.NotNil(t, result.worker)
		assert.NotEqual(t, worker.WorkerId, result.worker.WorkerId)
		assert.Equal(t, 1, setup.Pool.GetIdleWorkerSize())

		// case 4 (mismatch): different job, different detached actor
		result = setup.popWorkerSync(detachedRequest(testJobId2, actor2Job2), true)
		require.NotNil(t, result.worker)
		assert.NotEqual(t, worker.WorkerId, result.worker.WorkerId)
		assert.Equal(t, 1, setup.Pool.GetIdleWorkerSize())
	})
}

// The idle cache is partitioned by runtime env hash: a request only reuses
// a worker launched under the same serialized descriptor.
func TestCacheWorkersByRuntimeEnvHash(t *testing.T) {
	setup := newPoolTestSetup(t)
	setup.RunWith(func() {
		setup.registerDriver(data.LANG_PYTHON, testJobId1, nil)

		env1 := "mock_runtime_env_1"
		env2 := "mock_runtime_env_2"
		hash1 := runtimeenv.CalculateRuntimeEnvHash(env1)

		proc, token := setup.startWorkerProcess(data.LANG_PYTHON, data.WT_WORKER, testJobId1)
		worker := setup.createWorker(proc, data.LANG_PYTHON, "", data.WT_WORKER, hash1, token)
		setup.registerAndAnnounce(worker, proc, token)
		setup.pushedProcs[proc] = true

		// env 2 can't reuse the env 1 worker
		result := setup.popWorkerSync(requestWithEnv(data.LANG_PYTHON, testJobId1, env2, false), true)
		require.NotNil(t, result.worker)
		assert.NotEqual(t, worker.WorkerId, result.worker.WorkerId)

		// env 1 takes the cached worker
		result = setup.popWorkerSync(requestWithEnv(data.LANG_PYTHON, testJobId1, env1, false), true)
		require.NotNil(t, result.worker)
		assert.Equal(t, worker.WorkerId, result.worker.WorkerId)
	})
}

// Workers bound to one job never leak to another; both jobs keep their own
// warm workers across rounds.
func TestPopWorkerMultiTenancy(t *testing.T) {
	setup := newPoolTestSetup(t)
	setup.RunWith(func() {
		setup.registerDriver(data.LANG_PYTHON, testJobId1, nil)
		setup.registerDriver(data.LANG_PYTHON, testJobId2, nil)

		jobIds := []data.JobId{testJobId1, testJobId2}
		for _, jobId := range jobIds {
			setup.addIdleWorker(data.LANG_PYTHON, jobId, "")
			setup.addIdleWorker(data.LANG_PYTHON, jobId, "")
		}

		firstRound := map[data.WorkerId]bool{}
		for round := 0; round < 2; round++ {
			var popped []*WorkerRecord
			for _, jobId := range jobIds {
				for i := 0; i < 2; i++ {
					result := setup.popWorkerSync(exampleRequest(data.LANG_PYTHON, jobId), true)
					require.NotNil(t, result.worker)
					assert.Equal(t, jobId, result.worker.JobId)
					popped = append(popped, result.worker)
				}
			}
			for _, worker := range popped {
				setup.Pool.PushWorker(setup.ctx, worker.WorkerId)
				if round == 0 {
					assert.False(t, firstRound[worker.WorkerId])
					firstRound[worker.WorkerId] = true
				} else {
					assert.True(t, firstRound[worker.WorkerId])
				}
			}
		}
	})
}

// Dynamic options are part of the identity: a worker started with one
// option vector is invisible to requests carrying another.
func TestDynamicOptionsPartitionTheCache(t *testing.T) {
	setup := newPoolTestSetup(t)
	setup.RunWith(func() {
		setup.registerDriver(data.LANG_PYTHON, testJobId1, nil)

		req := exampleRequest(data.LANG_PYTHON, testJobId1)
		req.DynamicOptions = []string{"OPT=A"}
		result := setup.popWorkerSync(req, true)
		require.NotNil(t, result.worker)
		setup.Pool.PushWorker(setup.ctx, result.worker.WorkerId)
		assert.Equal(t, 1, setup.Pool.GetIdleWorkerSize())

		other := exampleRequest(data.LANG_PYTHON, testJobId1)
		other.DynamicOptions = []string{"OPT=B"}
		result2 := setup.popWorkerSync(other, true)
		require.NotNil(t, result2.worker)
		assert.NotEqual(t, result.worker.WorkerId, result2.worker.WorkerId)
		assert.Equal(t, 1, setup.Pool.GetIdleWorkerSize())

		same := exampleRequest(data.LANG_PYTHON, testJobId1)
		same.DynamicOptions = []string{"OPT=A"}
		result3 := setup.popWorkerSync(same, true)
		require.NotNil(t, result3.worker)
		assert.Equal(t, result.worker.WorkerId, result3.worker.WorkerId)
	})
}
