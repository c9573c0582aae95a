package core

import (
	"context"

	"github.com/xinkaiwang/goraylet/internal/data"
	"github.com/xinkaiwang/goraylet/klib/kcommon"
	"github.com/xinkaiwang/goraylet/klib/klogging"
	"github.com/xinkaiwang/goraylet/klib/kmetrics"
)

var (
	idleKillMetric = kmetrics.CreateKmetric(context.Background(), "idle_worker_kill_total", "exit requests issued to idle workers", []string{"language", "forced"})
)

// TryKillingIdleWorkers runs on the reclamation timer and on every
// job-finished edge. Per language, idle workers are visited oldest-first:
// workers of finished jobs are force-killed unconditionally; beyond that,
// workers are asked to exit only while the language's live count exceeds
// the soft limit, and only once they are past both the idle threshold and
// their keep-alive deadline. At most one Exit is in flight per worker.
func (ps *PoolState) TryKillingIdleWorkers(ctx context.Context) {
	softLimit := ps.getNumAvailableCpus()
	now := kcommon.GetWallTimeMs()

	for _, language := range ps.sortedLanguages() {
		st := ps.statesByLang[language]

		pendingExitCount := 0
		for _, worker := range ps.pendingExitWorkers {
			if worker.Language == language && worker.WorkerType == data.WT_WORKER {
				pendingExitCount++
			}
		}
		// how many more soft-limit kills this round may issue
		killBudget := st.numLiveGenericWorkers() - pendingExitCount - softLimit

		var victims []*WorkerRecord
		var forced []bool
		for _, entry := range st.idle {
			worker := entry.worker
			jobFinished := false
			if worker.JobId != "" {
				if job, ok := ps.allJobs[worker.JobId]; ok && job.State == data.JS_Finished {
					jobFinished = true
				}
			}
			if jobFinished {
				victims = append(victims, worker)
				forced = append(forced, true)
				continue
			}
			if killBudget <= 0 {
				continue
			}
			if now-entry.idleSinceMs < int64(ps.Config.IdleWorkerKillingTimeThresholdMs) {
				continue
			}
			if worker.KeepAliveDeadlineMs > 0 && now < worker.KeepAliveDeadlineMs {
				continue
			}
			victims = append(victims, worker)
			forced = append(forced, false)
			killBudget--
		}

		for i, worker := range victims {
			ps.requestWorkerExit(ctx, st, worker, forced[i])
		}
	}
}

func (ps *PoolState) requestWorkerExit(ctx context.Context, st *languageState, worker *WorkerRecord, forceExit bool) {
	st.removeFromIdle(worker.WorkerId)
	worker.State = data.WS_PendingExit
	ps.pendingExitWorkers[worker.WorkerId] = worker
	idleKillMetric.GetTimeSequence(ctx, string(worker.Language), boolTag(forceExit)).Add(1)
	klogging.Info(ctx).With("workerId", string(worker.WorkerId)).With("forceExit", forceExit).Log("IdleReclaimer", "requesting worker exit")

	if worker.RpcClient == nil {
		// never announced a port; nothing to hand-shake with
		ps.handleExitReply(ctx, worker.WorkerId, true, nil)
		return
	}
	workerId := worker.WorkerId
	worker.RpcClient.Exit(ctx, forceExit, func(success bool, err error) {
		ps.PostEvent(NewExitReplyEvent(workerId, success, err))
	})
}

// handleExitReply: success retires the worker exactly like a disconnect;
// refusal (the worker still owns objects someone needs) restores it to the
// newest end of the idle pool so the next tick tries the next candidate.
func (ps *PoolState) handleExitReply(ctx context.Context, workerId data.WorkerId, success bool, err error) {
	worker, ok := ps.pendingExitWorkers[workerId]
	if !ok {
		// disconnected while the reply was in flight
		return
	}
	delete(ps.pendingExitWorkers, workerId)
	if err != nil {
		klogging.Warning(ctx).With("workerId", string(workerId)).With("error", err.Error()).Log("IdleReclaimer", "exit rpc failed, keeping worker")
		success = false
	}
	if success {
		ps.DisconnectWorker(ctx, workerId, data.ET_IntendedSystemExit)
		return
	}
	st := ps.langState(worker.Language)
	worker.State = data.WS_Idle
	worker.LastIdleTimeMs = kcommon.GetWallTimeMs()
	st.idle = append(st.idle, &idleEntry{worker: worker, idleSinceMs: worker.LastIdleTimeMs})
}

func boolTag(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
