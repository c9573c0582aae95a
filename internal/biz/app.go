package biz

import (
	"context"
	"runtime"

	"github.com/xinkaiwang/goraylet/api"
	"github.com/xinkaiwang/goraylet/internal/config"
	"github.com/xinkaiwang/goraylet/internal/core"
	"github.com/xinkaiwang/goraylet/internal/data"
	"github.com/xinkaiwang/goraylet/internal/gcsprov"
	"github.com/xinkaiwang/goraylet/internal/launch"
	"github.com/xinkaiwang/goraylet/internal/runtimeenv"
	"github.com/xinkaiwang/goraylet/internal/workerrpc"
	"github.com/xinkaiwang/goraylet/klib/kerror"
	"github.com/xinkaiwang/goraylet/klib/klogging"
)

// App wires the pool to its providers and exposes the node manager surface
// to the handlers. Every call re-enters the pool's runloop.
type App struct {
	ps        *core.PoolState
	jobSource gcsprov.JobEventSource
}

func NewApp(ctx context.Context, cfg *config.RayletConfig) *App {
	nodeId := data.NewNodeId()
	launcher := launch.NewOsProcessLauncher()
	envClient := runtimeenv.NewHttpRuntimeEnvClient(cfg.RuntimeEnvAgentUrl)
	clientFactory := workerrpc.CoreWorkerClientFactory(workerrpc.NewHttpCoreWorkerClient)
	ps := core.NewPoolState(ctx, "raylet", nodeId, cfg, launcher, envClient, clientFactory, runtime.NumCPU)
	ps.StartRunLoop(ctx)

	var jobSource gcsprov.JobEventSource
	if cfg.GcsStorage == config.GS_Redis {
		jobSource = gcsprov.NewRedisJobEventSource(cfg.RedisAddr)
	} else {
		jobSource = gcsprov.NewMemoryJobEventSource()
	}
	jobSource.Subscribe(ctx, ps)

	app := &App{
		ps:        ps,
		jobSource: jobSource,
	}
	if cfg.EnableWorkerPrestart && cfg.NumPrestartPythonWorkers > 0 {
		app.prestartPythonWorkers(ctx, cfg.NumPrestartPythonWorkers)
	}
	return app
}

func (app *App) StopAndWaitForExit(ctx context.Context) {
	app.jobSource.StopAndWaitForExit(ctx)
	app.ps.StopAndWaitForExit(ctx)
}

func (app *App) prestartPythonWorkers(ctx context.Context, numNeeded int) {
	req := &core.PopWorkerRequest{
		Language:   data.LANG_PYTHON,
		WorkerType: data.WT_WORKER,
	}
	app.ps.PostActionAndWait(func(ps *core.PoolState) {
		ps.PrestartWorkers(ctx, req, numNeeded)
	})
}

func (app *App) Ping(ctx context.Context) string {
	return "goraylet:" + Version()
}

func (app *App) GetStatus(ctx context.Context) *api.GetStatusResponse {
	resp := &api.GetStatusResponse{
		Workers: make([]api.WorkerStatus, 0),
		Jobs:    make([]api.JobStatus, 0),
	}
	app.ps.PostActionAndWait(func(ps *core.PoolState) {
		resp.NumWorkersStarting = ps.NumWorkersStarting()
		resp.NumPendingStartRequests = ps.NumPendingStartRequests()
		resp.NumPendingRegistrationRequests = ps.NumPendingRegistrationRequests()
		resp.IdleWorkerSize = ps.GetIdleWorkerSize()
		resp.NumPendingExitWorkers = ps.NumPendingExitWorkers()
		ps.VisitWorkers(func(worker *core.WorkerRecord) {
			resp.Workers = append(resp.Workers, api.WorkerStatus{
				WorkerId: string(worker.WorkerId),
				Language: string(worker.Language),
				Type:     string(worker.WorkerType),
				JobId:    string(worker.JobId),
				State:    string(worker.State),
			})
		})
		ps.VisitJobs(func(job *core.JobRecord) {
			resp.Jobs = append(resp.Jobs, api.JobStatus{
				JobId: string(job.JobId),
				State: string(job.State),
			})
		})
	})
	return resp
}

// RegisterWorker assigns the worker id and installs the record; panics
// kerror on unknown startup tokens (the middleware maps it to a 404).
func (app *App) RegisterWorker(ctx context.Context, req *api.RegisterWorkerRequest) *api.RegisterWorkerResponse {
	workerId := data.NewWorkerId()
	worker := core.NewWorkerRecord(workerId, data.Language(req.Language), data.WorkerType(req.WorkerType), "", data.RuntimeEnvHash(req.RuntimeEnvHash), data.StartupToken(req.StartupToken))
	worker.IpAddress = req.IpAddress
	var ke *kerror.Kerror
	app.ps.PostActionAndWait(func(ps *core.PoolState) {
		ke = ps.RegisterWorker(ctx, worker, req.Pid, data.StartupToken(req.StartupToken), nil)
	})
	if ke != nil {
		panic(ke)
	}
	return &api.RegisterWorkerResponse{WorkerId: string(workerId)}
}

// RegisterDriver: the reply is deferred for the first bootstrap driver of a
// language, so this blocks until the node is ready to serve it.
func (app *App) RegisterDriver(ctx context.Context, req *api.RegisterDriverRequest) *api.RegisterDriverResponse {
	workerId := data.NewWorkerId()
	driver := core.NewWorkerRecord(workerId, data.Language(req.Language), data.WT_DRIVER, data.JobId(req.JobId), 0, data.NilStartupToken)
	driver.IpAddress = req.IpAddress
	jobConfig := jobConfigFromApi(req.JobConfig)
	done := make(chan *kerror.Kerror, 1)
	app.ps.PostActionAndWait(func(ps *core.PoolState) {
		registerKe := ps.RegisterDriver(ctx, driver, jobConfig, func(ke *kerror.Kerror) {
			done <- ke
		})
		if registerKe != nil {
			done <- registerKe
		}
	})
	ke := <-done
	if ke != nil {
		panic(ke)
	}
	return &api.RegisterDriverResponse{WorkerId: string(workerId)}
}

func (app *App) AnnounceWorkerPort(ctx context.Context, req *api.AnnounceWorkerPortRequest) {
	var ke *kerror.Kerror
	app.ps.PostActionAndWait(func(ps *core.PoolState) {
		ke = ps.AnnounceWorkerPort(ctx, data.WorkerId(req.WorkerId), req.Port)
	})
	if ke != nil {
		panic(ke)
	}
}

func (app *App) DisconnectWorker(ctx context.Context, req *api.DisconnectWorkerRequest) {
	app.ps.PostActionAndWait(func(ps *core.PoolState) {
		ps.DisconnectWorker(ctx, data.WorkerId(req.WorkerId), data.ExitType(req.ExitType))
	})
}

// PopWorker blocks until the pool hands back a worker or a terminal status;
// the contract underneath stays asynchronous.
func (app *App) PopWorker(ctx context.Context, req *api.PopWorkerRequest) *api.PopWorkerResponse {
	envInfo := data.RuntimeEnvInfo{
		SerializedRuntimeEnv: req.SerializedRuntimeEnv,
		Config:               data.RuntimeEnvConfig{EagerInstall: req.EagerInstall},
	}
	done := make(chan *api.PopWorkerResponse, 1)
	coreReq := &core.PopWorkerRequest{
		Language:            data.Language(req.Language),
		WorkerType:          data.WorkerType(req.WorkerType),
		JobId:               data.JobId(req.JobId),
		RootDetachedActorId: data.ActorId(req.RootDetachedActorId),
		RuntimeEnvInfo:      envInfo,
		RuntimeEnvHash:      runtimeenv.CalculateRuntimeEnvHash(req.SerializedRuntimeEnv),
		DynamicOptions:      req.DynamicOptions,
		KeepAliveDurationMs: req.KeepAliveDurationMs,
		Callback: func(worker *core.WorkerRecord, status data.PopWorkerStatus, runtimeEnvErrorMsg string) bool {
			resp := &api.PopWorkerResponse{
				Status:             string(status),
				RuntimeEnvErrorMsg: runtimeEnvErrorMsg,
			}
			if worker != nil {
				resp.WorkerId = string(worker.WorkerId)
			}
			done <- resp
			return worker != nil
		},
	}
	app.ps.PostActionAndWait(func(ps *core.PoolState) {
		ps.PopWorker(ctx, coreReq)
	})
	return <-done
}

func (app *App) PushWorker(ctx context.Context, req *api.PushWorkerRequest) {
	app.ps.PostActionAndWait(func(ps *core.PoolState) {
		ps.PushWorker(ctx, data.WorkerId(req.WorkerId))
	})
}

func (app *App) PrestartWorkers(ctx context.Context, req *api.PrestartWorkersRequest) {
	coreReq := &core.PopWorkerRequest{
		Language:   data.Language(req.Language),
		WorkerType: data.WT_WORKER,
		JobId:      data.JobId(req.JobId),
		RuntimeEnvInfo: data.RuntimeEnvInfo{
			SerializedRuntimeEnv: req.SerializedRuntimeEnv,
		},
		RuntimeEnvHash: runtimeenv.CalculateRuntimeEnvHash(req.SerializedRuntimeEnv),
	}
	app.ps.PostActionAndWait(func(ps *core.PoolState) {
		ps.PrestartWorkers(ctx, coreReq, req.NumNeeded)
	})
}

// PublishJobStarted / PublishJobFinished: local announce path used when the
// node runs with the in-memory event source.
func (app *App) PublishJobStarted(ctx context.Context, jobId data.JobId, jobConfig *data.JobConfig) {
	source, ok := app.jobSource.(*gcsprov.MemoryJobEventSource)
	if !ok {
		klogging.Warning(ctx).Log("PublishJobStarted", "job announces come from gcs in redis mode")
		return
	}
	source.PublishJobStarted(ctx, jobId, jobConfig)
}

func (app *App) PublishJobFinished(ctx context.Context, jobId data.JobId) {
	source, ok := app.jobSource.(*gcsprov.MemoryJobEventSource)
	if !ok {
		klogging.Warning(ctx).Log("PublishJobFinished", "job announces come from gcs in redis mode")
		return
	}
	source.PublishJobFinished(ctx, jobId)
}

func jobConfigFromApi(jobConfig *api.JobConfig) *data.JobConfig {
	if jobConfig == nil {
		return &data.JobConfig{}
	}
	return &data.JobConfig{
		CodeSearchPath: jobConfig.CodeSearchPath,
		JvmOptions:     jobConfig.JvmOptions,
		RuntimeEnvInfo: data.RuntimeEnvInfo{
			SerializedRuntimeEnv: jobConfig.SerializedRuntimeEnv,
			Config:               data.RuntimeEnvConfig{EagerInstall: jobConfig.EagerInstall},
		},
	}
}
