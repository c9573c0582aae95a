package kcommon

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// FakeTimeProvider: implements TimeProvider interface. Unlike
// MockTimeProvider it keeps a heap of scheduled tasks and replays them in
// virtual-time order, so a test can forward the clock and have every timer
// along the way fire exactly once.
type FakeTimeProvider struct {
	WallTime int64
	MonoTime int64

	mu        sync.Mutex
	taskQueue *fakeTaskQueue
}

func NewFakeTimeProvider(currentTimeMs int64) *FakeTimeProvider {
	return &FakeTimeProvider{
		WallTime:  currentTimeMs,
		MonoTime:  currentTimeMs,
		taskQueue: newFakeTaskQueue(),
	}
}

func (provider *FakeTimeProvider) GetWallTimeMs() int64 {
	return provider.WallTime
}

func (provider *FakeTimeProvider) GetMonoTimeMs() int64 {
	return provider.MonoTime
}

func (provider *FakeTimeProvider) ScheduleRun(delayMs int, fn func()) {
	task := &fakeTimerTask{
		taskFunc:       fn,
		scheduledForMs: provider.GetMonoTimeMs() + int64(delayMs),
	}
	RunWithLock(&provider.mu, func() {
		heap.Push(provider.taskQueue, task)
	})
}

func (provider *FakeTimeProvider) SleepMs(ctx context.Context, ms int) {
	provider.VirtualTimeForward(ctx, ms)
}

func (provider *FakeTimeProvider) SetAsDefault() *FakeTimeProvider {
	currentTimeProvider = provider
	return provider
}

// VirtualTimeForward moves virtual time ahead by forwardMs, running every
// task scheduled inside the window in order. Between steps it yields for 1ms
// of real time so a runloop on another goroutine can drain the events those
// tasks post. Returns true when the deadline was reached; false means the
// yield counter ran out first (guards against deadlock in broken tests).
func (provider *FakeTimeProvider) VirtualTimeForward(ctx context.Context, forwardMs int) bool {
	deadlineReached := false
	provider.ScheduleRun(forwardMs, func() {
		deadlineReached = true
	})

	sleepCounter := 0
	sleptAtThisTime := false
	for !deadlineReached && sleepCounter < 20 {
		var runTask *fakeTimerTask
		needSleep := false
		RunWithLock(&provider.mu, func() {
			top := provider.taskQueue.Peek()
			if top == nil {
				needSleep = true
				sleepCounter++
				return
			}
			if top.scheduledForMs <= provider.MonoTime {
				runTask = heap.Pop(provider.taskQueue).(*fakeTimerTask)
				return
			}
			// 先让出一轮，再把虚拟时间推到下一个任务
			if !sleptAtThisTime {
				needSleep = true
				sleptAtThisTime = true
				return
			}
			provider.MonoTime = top.scheduledForMs
			provider.WallTime = top.scheduledForMs
			sleptAtThisTime = false
			runTask = heap.Pop(provider.taskQueue).(*fakeTimerTask)
		})
		if needSleep {
			time.Sleep(time.Millisecond)
			continue
		}
		if runTask != nil {
			runTask.taskFunc()
		}
	}
	return deadlineReached
}

type fakeTimerTask struct {
	taskFunc       func()
	scheduledForMs int64
	seq            int64 // ties broken by schedule order
}

// fakeTaskQueue implements heap.Interface ordered by scheduledForMs.
type fakeTaskQueue struct {
	tasks   []*fakeTimerTask
	nextSeq int64
}

func newFakeTaskQueue() *fakeTaskQueue {
	return &fakeTaskQueue{}
}

func (q *fakeTaskQueue) Len() int { return len(q.tasks) }

func (q *fakeTaskQueue) Less(i, j int) bool {
	if q.tasks[i].scheduledForMs != q.tasks[j].scheduledForMs {
		return q.tasks[i].scheduledForMs < q.tasks[j].scheduledForMs
	}
	return q.tasks[i].seq < q.tasks[j].seq
}

func (q *fakeTaskQueue) Swap(i, j int) {
	q.tasks[i], q.tasks[j] = q.tasks[j], q.tasks[i]
}

func (q *fakeTaskQueue) Push(x interface{}) {
	task := x.(*fakeTimerTask)
	task.seq = q.nextSeq
	q.nextSeq++
	q.tasks = append(q.tasks, task)
}

func (q *fakeTaskQueue) Pop() interface{} {
	old := q.tasks
	n := len(old)
	task := old[n-1]
	q.tasks = old[:n-1]
	return task
}

func (q *fakeTaskQueue) Peek() *fakeTimerTask {
	if len(q.tasks) == 0 {
		return nil
	}
	return q.tasks[0]
}
