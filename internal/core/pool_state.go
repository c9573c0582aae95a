package core

import (
	"context"
	"sort"

	"github.com/xinkaiwang/goraylet/internal/config"
	"github.com/xinkaiwang/goraylet/internal/data"
	"github.com/xinkaiwang/goraylet/internal/launch"
	"github.com/xinkaiwang/goraylet/internal/runtimeenv"
	"github.com/xinkaiwang/goraylet/internal/workerrpc"
	"github.com/xinkaiwang/goraylet/klib/kcommon"
	"github.com/xinkaiwang/goraylet/klib/krunloop"
)

// PoolState implements the krunloop.CriticalResource interface. It owns the
// lifecycle of every worker process on this node. All fields below the
// providers are loop-private: they must never be touched outside the
// runloop (or, in tests that never start the loop, outside the single test
// goroutine).
type PoolState struct {
	Name    string
	NodeId  data.NodeId
	Config  *config.RayletConfig
	runloop *krunloop.RunLoop[*PoolState]

	launcher            launch.ProcessLauncher
	runtimeEnvClient    runtimeenv.RuntimeEnvClient
	clientFactory       workerrpc.CoreWorkerClientFactory
	getNumAvailableCpus func() int

	// 以下字段只能在 runloop 内访问
	statesByLang       map[data.Language]*languageState
	registeredDrivers  map[data.WorkerId]*WorkerRecord
	allJobs            map[data.JobId]*JobRecord
	envRefs            *RuntimeEnvRefTable
	pendingExitWorkers map[data.WorkerId]*WorkerRecord
}

func NewPoolState(ctx context.Context, name string, nodeId data.NodeId, cfg *config.RayletConfig, launcher launch.ProcessLauncher, runtimeEnvClient runtimeenv.RuntimeEnvClient, clientFactory workerrpc.CoreWorkerClientFactory, getNumAvailableCpus func() int) *PoolState {
	ps := &PoolState{
		Name:                name,
		NodeId:              nodeId,
		Config:              cfg,
		launcher:            launcher,
		runtimeEnvClient:    runtimeEnvClient,
		clientFactory:       clientFactory,
		getNumAvailableCpus: getNumAvailableCpus,
		statesByLang:        map[data.Language]*languageState{},
		registeredDrivers:   map[data.WorkerId]*WorkerRecord{},
		allJobs:             map[data.JobId]*JobRecord{},
		pendingExitWorkers:  map[data.WorkerId]*WorkerRecord{},
	}
	ps.envRefs = NewRuntimeEnvRefTable(ps)
	for _, language := range []data.Language{data.LANG_PYTHON, data.LANG_JAVA} {
		ps.statesByLang[language] = newLanguageState(language)
	}
	return ps
}

// IsResource implements the CriticalResource interface
func (ps *PoolState) IsResource() {}

// StartRunLoop: production entry. Tests that drive the pool synchronously
// never call this; PostEvent then processes inline.
func (ps *PoolState) StartRunLoop(ctx context.Context) {
	ps.runloop = krunloop.NewRunLoop[*PoolState](ctx, ps, ps.Name)
	go ps.runloop.Run(ctx)
	if ps.Config.KillIdleWorkersIntervalMs > 0 {
		kcommon.ScheduleRun(ps.Config.KillIdleWorkersIntervalMs, func() {
			ps.PostEvent(NewKillIdleWorkersEvent())
		})
	}
}

func (ps *PoolState) StopAndWaitForExit(ctx context.Context) {
	if ps.runloop != nil {
		ps.runloop.StopAndWaitForExit()
	}
}

// PostEvent: with a running loop this enqueues; without one (synchronous
// tests) the event processes inline on the caller's goroutine.
func (ps *PoolState) PostEvent(event krunloop.IEvent[*PoolState]) {
	if ps.runloop != nil {
		ps.runloop.PostEvent(event)
		return
	}
	event.Process(context.Background(), ps)
}

func (ps *PoolState) PostActionAndWait(fn func(ps *PoolState)) {
	if ps.runloop == nil {
		fn(ps)
		return
	}
	ch := make(chan struct{})
	ps.runloop.PostEvent(NewActionEvent(func(ps *PoolState) {
		fn(ps)
		close(ch)
	}))
	<-ch
}

func (ps *PoolState) langState(language data.Language) *languageState {
	st, ok := ps.statesByLang[language]
	if !ok {
		st = newLanguageState(language)
		ps.statesByLang[language] = st
	}
	return st
}

// sortedLanguages: deterministic iteration order for reclamation and status.
func (ps *PoolState) sortedLanguages() []data.Language {
	languages := make([]data.Language, 0, len(ps.statesByLang))
	for language := range ps.statesByLang {
		languages = append(languages, language)
	}
	sort.Slice(languages, func(i, j int) bool { return languages[i] < languages[j] })
	return languages
}

/********************************* introspection ************************************/

// NumWorkersStarting: generic worker processes pending registration, all
// languages. Never exceeds MaximumStartupConcurrency per language.
func (ps *PoolState) NumWorkersStarting() int {
	total := 0
	for _, st := range ps.statesByLang {
		total += st.numGenericStarting()
	}
	return total
}

func (ps *PoolState) NumPendingStartRequests() int {
	total := 0
	for _, st := range ps.statesByLang {
		total += len(st.pendingStartRequests)
	}
	return total
}

func (ps *PoolState) NumPendingRegistrationRequests() int {
	total := 0
	for _, st := range ps.statesByLang {
		total += len(st.pendingRegistrationRequests)
	}
	return total
}

// GetIdleWorkerSize: idle generic workers, all languages. Workers with an
// outstanding Exit are not idle.
func (ps *PoolState) GetIdleWorkerSize() int {
	total := 0
	for _, st := range ps.statesByLang {
		total += len(st.idle)
	}
	return total
}

func (ps *PoolState) NumPendingExitWorkers() int {
	return len(ps.pendingExitWorkers)
}

func (ps *PoolState) GetRegisteredWorker(workerId data.WorkerId) *WorkerRecord {
	for _, st := range ps.statesByLang {
		if worker, ok := st.registeredByWorkerId[workerId]; ok {
			return worker
		}
	}
	return nil
}

func (ps *PoolState) GetRegisteredDriver(workerId data.WorkerId) *WorkerRecord {
	return ps.registeredDrivers[workerId]
}

func (ps *PoolState) NumSpillWorkersStarting(language data.Language) int {
	return ps.langState(language).spillIoWorkerState.numStarting
}

func (ps *PoolState) NumSpillWorkersStarted(language data.Language) int {
	return len(ps.langState(language).spillIoWorkerState.started)
}

func (ps *PoolState) NumRestoreWorkersStarting(language data.Language) int {
	return ps.langState(language).restoreIoWorkerState.numStarting
}

// VisitWorkers / VisitJobs: loop-private iteration, call from the loop only
// (biz wraps them in PostActionAndWait).
func (ps *PoolState) VisitWorkers(fn func(worker *WorkerRecord)) {
	for _, language := range ps.sortedLanguages() {
		st := ps.statesByLang[language]
		for _, worker := range st.registeredByWorkerId {
			fn(worker)
		}
	}
	for _, driver := range ps.registeredDrivers {
		fn(driver)
	}
}

func (ps *PoolState) VisitJobs(fn func(job *JobRecord)) {
	for _, job := range ps.allJobs {
		fn(job)
	}
}

func (ps *PoolState) GetJobState(jobId data.JobId) (data.JobStateEnum, bool) {
	job, ok := ps.allJobs[jobId]
	if !ok {
		return "", false
	}
	return job.State, true
}
