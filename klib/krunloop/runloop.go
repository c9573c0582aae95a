package krunloop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xinkaiwang/goraylet/klib/kcommon"
	"github.com/xinkaiwang/goraylet/klib/klogging"
	"github.com/xinkaiwang/goraylet/klib/kmetrics"
)

var (
	RunLoopElapsedMsMetric = kmetrics.CreateKmetric(context.Background(), "runloop_elapsed_ms", "time spent processing runloop events", []string{"name", "event"})
)

// CriticalResource is an interface that represents resources that can be
// processed by events in a RunLoop. This provides better type safety than
// using 'any'.
type CriticalResource interface {
	// IsResource is a marker method to identify types that can be used as critical resources
	IsResource()
}

// IEvent is a generic interface for events that can be processed by a RunLoop
type IEvent[T CriticalResource] interface {
	GetName() string
	Process(ctx context.Context, resource T)
}

type EventPoster[T CriticalResource] interface {
	PostEvent(event IEvent[T])
}

// RunLoop: implements EventPoster interface.
// All access to the resource happens on this loop; the loop is the lock.
type RunLoop[T CriticalResource] struct {
	name             string // for logging/metrics purposes only
	resource         T
	queue            *UnboundedQueue[T]
	currentEventName atomic.Value
	mu               sync.Mutex // 保护 ctx 和 cancel
	ctx              context.Context
	cancel           context.CancelFunc
	exited           chan struct{}
}

func NewRunLoop[T CriticalResource](ctx context.Context, resource T, name string) *RunLoop[T] {
	return &RunLoop[T]{
		name:     name,
		resource: resource,
		queue:    NewUnboundedQueue[T](ctx),
		exited:   make(chan struct{}),
	}
}

// PostEvent: Enqueue an event to the run loop. This call never blocks.
func (rl *RunLoop[T]) PostEvent(event IEvent[T]) {
	rl.queue.Enqueue(event)
}

func (rl *RunLoop[T]) Run(ctx context.Context) {
	rl.mu.Lock()
	rl.ctx, rl.cancel = context.WithCancel(ctx)
	runCtx := rl.ctx
	rl.mu.Unlock()

	defer func() {
		rl.queue.Close()
		close(rl.exited)
	}()

	for {
		select {
		case <-runCtx.Done():
			klogging.Info(ctx).Log("RunLoopCtxCanceled", "run loop stopped")
			return
		case event, ok := <-rl.queue.GetOutputChan():
			if !ok {
				klogging.Info(ctx).Log("EventQueueClosed", "event queue closed")
				return
			}
			start := kcommon.GetMonoTimeMs()
			eveName := event.GetName()
			rl.currentEventName.Store(eveName)
			event.Process(ctx, rl.resource)
			rl.currentEventName.Store("")
			RunLoopElapsedMsMetric.GetTimeSequence(ctx, rl.name, eveName).Add(kcommon.GetMonoTimeMs() - start)
		}
	}
}

func (rl *RunLoop[T]) StopAndWaitForExit() {
	rl.mu.Lock()
	cancel := rl.cancel
	rl.mu.Unlock()

	// cancel 为 nil 说明 runloop 尚未启动，无需等待
	if cancel == nil {
		return
	}
	cancel()

	select {
	case <-rl.exited:
	case <-time.After(1000 * time.Millisecond):
		klogging.Warning(context.Background()).With("name", rl.name).Log("RunLoopStopTimeout", "timed out waiting for runloop exit")
	}
}
