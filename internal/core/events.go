package core

import (
	"context"

	"github.com/xinkaiwang/goraylet/internal/data"
	"github.com/xinkaiwang/goraylet/klib/kcommon"
	"github.com/xinkaiwang/goraylet/klib/klogging"
)

// ActionEvent: implements krunloop.IEvent[*PoolState], runs an arbitrary
// closure on the loop.
type ActionEvent struct {
	fn func(ps *PoolState)
}

func NewActionEvent(fn func(ps *PoolState)) *ActionEvent {
	return &ActionEvent{fn: fn}
}

func (eve *ActionEvent) GetName() string {
	return "ActionEvent"
}

func (eve *ActionEvent) Process(ctx context.Context, ps *PoolState) {
	eve.fn(ps)
}

// KillIdleWorkersEvent: implements krunloop.IEvent[*PoolState], the periodic
// reclamation tick.
type KillIdleWorkersEvent struct {
}

func NewKillIdleWorkersEvent() *KillIdleWorkersEvent {
	return &KillIdleWorkersEvent{}
}

func (eve *KillIdleWorkersEvent) GetName() string {
	return "KillIdleWorkersEvent"
}

func (eve *KillIdleWorkersEvent) Process(ctx context.Context, ps *PoolState) {
	ke := kcommon.TryCatchRun(ctx, func() {
		ps.TryKillingIdleWorkers(ctx)
	})
	if ke != nil {
		klogging.Error(ctx).WithError(ke).Log("KillIdleWorkersEvent", "TryKillingIdleWorkers failed")
	}
	if ps.Config.KillIdleWorkersIntervalMs > 0 {
		kcommon.ScheduleRun(ps.Config.KillIdleWorkersIntervalMs, func() {
			ps.PostEvent(NewKillIdleWorkersEvent())
		})
	}
}

// ExitReplyEvent: implements krunloop.IEvent[*PoolState]. Posted by the
// worker rpc client callback when an Exit reply (or transport error) lands.
type ExitReplyEvent struct {
	workerId data.WorkerId
	success  bool
	err      error
}

func NewExitReplyEvent(workerId data.WorkerId, success bool, err error) *ExitReplyEvent {
	return &ExitReplyEvent{workerId: workerId, success: success, err: err}
}

func (eve *ExitReplyEvent) GetName() string {
	return "ExitReplyEvent"
}

func (eve *ExitReplyEvent) Process(ctx context.Context, ps *PoolState) {
	ps.handleExitReply(ctx, eve.workerId, eve.success, eve.err)
}

// registrationTimeoutEvent: fires when a PopWorker request's registration
// deadline passes without an announce.
type registrationTimeoutEvent struct {
	request *PopWorkerRequest
}

func (eve *registrationTimeoutEvent) GetName() string {
	return "RegistrationTimeoutEvent"
}

func (eve *registrationTimeoutEvent) Process(ctx context.Context, ps *PoolState) {
	ps.handleRegistrationTimeout(ctx, eve.request)
}

// runtimeEnvReadyEvent: re-enters the loop once the runtime env agent
// answered a GetOrCreate issued for a launch.
type runtimeEnvReadyEvent struct {
	request      *PopWorkerRequest
	success      bool
	errorMessage string
}

func (eve *runtimeEnvReadyEvent) GetName() string {
	return "RuntimeEnvReadyEvent"
}

func (eve *runtimeEnvReadyEvent) Process(ctx context.Context, ps *PoolState) {
	ps.handleRuntimeEnvReady(ctx, eve.request, eve.success, eve.errorMessage)
}
