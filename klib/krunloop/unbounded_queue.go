package krunloop

import (
	"context"
	"sync/atomic"
)

// UnboundedQueue 实现了一个无界队列: Enqueue 永不阻塞
type UnboundedQueue[T CriticalResource] struct {
	input  chan IEvent[T]
	buffer []IEvent[T]
	output chan IEvent[T]
	closed atomic.Bool
	size   atomic.Int64
	doneCh chan struct{}
}

func NewUnboundedQueue[T CriticalResource](ctx context.Context) *UnboundedQueue[T] {
	q := &UnboundedQueue[T]{
		input:  make(chan IEvent[T], 1),
		buffer: make([]IEvent[T], 0),
		output: make(chan IEvent[T]),
		doneCh: make(chan struct{}),
	}
	go q.process(ctx)
	return q
}

func (q *UnboundedQueue[T]) process(ctx context.Context) {
	defer close(q.doneCh)

	var out chan IEvent[T] // nil channel 永远不会被选中
	var firstItem IEvent[T]

	for {
		if len(q.buffer) > 0 {
			out = q.output
			firstItem = q.buffer[0]
		} else {
			out = nil
			firstItem = nil
		}

		select {
		case item, ok := <-q.input:
			if !ok {
				close(q.output)
				return
			}
			q.buffer = append(q.buffer, item)

		case out <- firstItem:
			q.buffer = q.buffer[1:]
			q.size.Add(-1)

		case <-ctx.Done():
			if q.closed.CompareAndSwap(false, true) {
				close(q.input)
			}
			close(q.output)
			return
		}
	}
}

// Enqueue 将一个元素添加到队列中。此调用永不阻塞。
func (q *UnboundedQueue[T]) Enqueue(item IEvent[T]) {
	q.input <- item
	q.size.Add(1)
}

func (q *UnboundedQueue[T]) GetOutputChan() <-chan IEvent[T] {
	return q.output
}

func (q *UnboundedQueue[T]) GetSize() int64 {
	return q.size.Load()
}

func (q *UnboundedQueue[T]) Close() {
	if !q.closed.CompareAndSwap(false, true) {
		return
	}
	close(q.input)
	<-q.doneCh
}
