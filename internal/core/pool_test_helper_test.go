package core

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/xinkaiwang/goraylet/internal/config"
	"github.com/xinkaiwang/goraylet/internal/data"
	"github.com/xinkaiwang/goraylet/internal/launch"
	"github.com/xinkaiwang/goraylet/internal/runtimeenv"
	"github.com/xinkaiwang/goraylet/internal/workerrpc"
	"github.com/xinkaiwang/goraylet/klib/kcommon"
	"github.com/xinkaiwang/goraylet/klib/klogging"
)

// 测试常量，与原始实现的测试保持同一标定
const (
	maximumStartupConcurrency = 15
	maxIoWorkerSize           = 2
	poolSizeSoftLimit         = 3
	workerRegisterTimeoutSec  = 1

	testJobId1 data.JobId = "job-1"
	testJobId2 data.JobId = "job-2"
	testNodeId data.NodeId = "node-1"
)

// poolTestSetup wires a PoolState to fake providers. The runloop is never
// started: events process inline on the test goroutine, and all timers go
// through the FakeTimeProvider, so the whole pool is synchronous and
// deterministic.
type poolTestSetup struct {
	t                *testing.T
	ctx              context.Context
	FakeTime         *kcommon.FakeTimeProvider
	Launcher         *launch.FakeProcessLauncher
	EnvClient        *runtimeenv.FakeRuntimeEnvClient
	ClientFactory    *workerrpc.FakeCoreWorkerClientFactory
	Pool             *PoolState
	numAvailableCpus int

	pushedProcs map[launch.ProcessHandle]bool
}

func newPoolTestSetup(t *testing.T) *poolTestSetup {
	klogging.SetDefaultLogger(klogging.NewNullLogger())
	ctx := context.Background()
	setup := &poolTestSetup{
		t:                t,
		ctx:              ctx,
		FakeTime:         kcommon.NewFakeTimeProvider(0),
		Launcher:         launch.NewFakeProcessLauncher(),
		EnvClient:        runtimeenv.NewFakeRuntimeEnvClient(),
		ClientFactory:    workerrpc.NewFakeCoreWorkerClientFactory(),
		numAvailableCpus: poolSizeSoftLimit,
		pushedProcs:      map[launch.ProcessHandle]bool{},
	}
	cfg := config.NewRayletConfig()
	cfg.WorkerRegisterTimeoutSeconds = workerRegisterTimeoutSec
	cfg.ObjectSpillingConfig = "dummy"
	cfg.MaxIoWorkers = maxIoWorkerSize
	cfg.KillIdleWorkersIntervalMs = 0
	cfg.IdleWorkerKillingTimeThresholdMs = 1000
	cfg.EnableWorkerPrestart = true
	cfg.MaximumStartupConcurrency = maximumStartupConcurrency
	cfg.WorkerCommands = map[data.Language][]string{
		data.LANG_PYTHON: {"dummy_py_worker_command"},
		data.LANG_JAVA:   {"java", config.DynamicOptionPlaceholder, "MainClass"},
	}
	setup.Pool = NewPoolState(ctx, "test-pool", testNodeId, cfg, setup.Launcher, setup.EnvClient, setup.ClientFactory.Create, func() int {
		return setup.numAvailableCpus
	})
	return setup
}

// RunWith installs the fake time provider for the duration of the test body.
func (setup *poolTestSetup) RunWith(fn func()) {
	kcommon.RunWithTimeProvider(setup.FakeTime, fn)
}

// SetCurrentTimeMs jumps the fake clock without firing scheduled timers.
func (setup *poolTestSetup) SetCurrentTimeMs(timeMs int64) {
	setup.FakeTime.WallTime = timeMs
	setup.FakeTime.MonoTime = timeMs
}

func exampleRequest(language data.Language, jobId data.JobId) *PopWorkerRequest {
	return &PopWorkerRequest{
		Language:   language,
		WorkerType: data.WT_WORKER,
		JobId:      jobId,
	}
}

func requestWithEnv(language data.Language, jobId data.JobId, serializedEnv string, eagerInstall bool) *PopWorkerRequest {
	return &PopWorkerRequest{
		Language:   language,
		WorkerType: data.WT_WORKER,
		JobId:      jobId,
		RuntimeEnvInfo: data.RuntimeEnvInfo{
			SerializedRuntimeEnv: serializedEnv,
			Config:               data.RuntimeEnvConfig{EagerInstall: eagerInstall},
		},
		RuntimeEnvHash: runtimeenv.CalculateRuntimeEnvHash(serializedEnv),
	}
}

// startWorkerProcess mirrors the direct-spawn entry some scenarios need.
func (setup *poolTestSetup) startWorkerProcess(language data.Language, workerType data.WorkerType, jobId data.JobId) (launch.ProcessHandle, data.StartupToken) {
	req := &PopWorkerRequest{Language: language, WorkerType: workerType, JobId: jobId}
	ok := setup.Pool.launchWorkerProcess(setup.ctx, req)
	if !ok {
		setup.t.Fatalf("launchWorkerProcess failed")
	}
	proc := setup.Launcher.LastStartedProcess()
	return proc, setup.Launcher.GetStartupToken(proc)
}

func (setup *poolTestSetup) createWorker(proc launch.ProcessHandle, language data.Language, jobId data.JobId, workerType data.WorkerType, envHash data.RuntimeEnvHash, token data.StartupToken) *WorkerRecord {
	worker := NewWorkerRecord(data.NewWorkerId(), language, workerType, jobId, envHash, token)
	worker.Proc = proc
	worker.IpAddress = "127.0.0.1"
	return worker
}

// registerAndAnnounce drives both phases of the registration path.
func (setup *poolTestSetup) registerAndAnnounce(worker *WorkerRecord, proc launch.ProcessHandle, token data.StartupToken) {
	ke := setup.Pool.RegisterWorker(setup.ctx, worker, proc.Pid, token, nil)
	if ke != nil {
		setup.t.Fatalf("RegisterWorker failed: %v", ke)
	}
	setup.Pool.OnWorkerStarted(setup.ctx, worker)
}

// addIdleWorker spawns, registers and announces one worker and expects it to
// land in the idle pool (no pending requests outstanding).
func (setup *poolTestSetup) addIdleWorker(language data.Language, jobId data.JobId, detachedActorId data.ActorId) *WorkerRecord {
	proc, token := setup.startWorkerProcess(language, data.WT_WORKER, jobId)
	worker := setup.createWorker(launch.ProcessHandle{}, language, jobId, data.WT_WORKER, 0, token)
	worker.RootDetachedActorId = detachedActorId
	setup.registerAndAnnounce(worker, proc, token)
	setup.pushedProcs[proc] = true
	return worker
}

func (setup *poolTestSetup) registerDriver(language data.Language, jobId data.JobId, jobConfig *data.JobConfig) *WorkerRecord {
	driver := setup.createWorker(launch.ProcessHandle{Pid: 1}, language, jobId, data.WT_DRIVER, 0, data.NilStartupToken)
	ke := setup.Pool.RegisterDriver(setup.ctx, driver, jobConfig, nil)
	if ke != nil {
		setup.t.Fatalf("RegisterDriver failed: %v", ke)
	}
	return driver
}

// pushWorkers plays the worker side: for every process the launcher spawned
// and nobody answered for yet, register a synthetic worker and announce its
// port. The runtime env hash and language are recovered from the command
// line, the same way a real worker would consume them.
func (setup *poolTestSetup) pushWorkers() {
	for proc, argv := range setup.Launcher.CommandsByProc {
		if setup.pushedProcs[proc] {
			continue
		}
		setup.pushedProcs[proc] = true
		language := data.LANG_PYTHON
		var envHash data.RuntimeEnvHash
		workerType := data.WT_WORKER
		for _, arg := range argv {
			if arg == "java" {
				language = data.LANG_JAVA
			}
			if strings.HasPrefix(arg, "--runtime-env-hash=") {
				parsed, _ := strconv.ParseInt(strings.TrimPrefix(arg, "--runtime-env-hash="), 10, 64)
				envHash = data.RuntimeEnvHash(int32(parsed))
			}
			if strings.HasPrefix(arg, "-Dray.internal.runtime-env-hash=") {
				parsed, _ := strconv.ParseInt(strings.TrimPrefix(arg, "-Dray.internal.runtime-env-hash="), 10, 64)
				envHash = data.RuntimeEnvHash(int32(parsed))
			}
			if strings.HasPrefix(arg, "--worker-type=") {
				workerType = data.WorkerType(strings.TrimPrefix(arg, "--worker-type="))
			}
		}
		token := setup.Launcher.GetStartupToken(proc)
		worker := setup.createWorker(launch.ProcessHandle{}, language, "", workerType, envHash, token)
		setup.registerAndAnnounce(worker, proc, token)
	}
}

type popResult struct {
	worker *WorkerRecord
	status data.PopWorkerStatus
	errMsg string
	done   bool
}

// popWorkerSync drives PopWorker to completion: either an idle worker
// matches synchronously, or pushWorkers answers for the launched process.
func (setup *poolTestSetup) popWorkerSync(req *PopWorkerRequest, pushWorkers bool) *popResult {
	result := &popResult{}
	req.Callback = func(worker *WorkerRecord, status data.PopWorkerStatus, errMsg string) bool {
		result.worker = worker
		result.status = status
		result.errMsg = errMsg
		result.done = true
		return worker != nil
	}
	setup.Pool.PopWorker(setup.ctx, req)
	if !result.done && pushWorkers {
		setup.pushWorkers()
	}
	return result
}

func (setup *poolTestSetup) exitClientOf(worker *WorkerRecord) *workerrpc.FakeCoreWorkerClient {
	return setup.ClientFactory.GetClient(worker.WorkerId)
}
