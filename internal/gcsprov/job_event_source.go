package gcsprov

import (
	"context"

	"github.com/xinkaiwang/goraylet/internal/data"
)

// JobEventListener receives job lifecycle edges from the cluster metadata
// service. Callbacks may fire on the source's goroutine; the pool re-posts
// them onto its own loop.
type JobEventListener interface {
	OnJobStarted(ctx context.Context, jobId data.JobId, config *data.JobConfig)
	OnJobFinished(ctx context.Context, jobId data.JobId)
}

// JobEventSource is the local view of job lifecycle announcements.
// gcs_storage selects the implementation: memory for tests and single-node
// runs, redis for clusters.
type JobEventSource interface {
	Subscribe(ctx context.Context, listener JobEventListener)
	StopAndWaitForExit(ctx context.Context)
}

// MemoryJobEventSource: implements JobEventSource fully in-process.
type MemoryJobEventSource struct {
	listeners []JobEventListener
}

func NewMemoryJobEventSource() *MemoryJobEventSource {
	return &MemoryJobEventSource{}
}

func (source *MemoryJobEventSource) Subscribe(ctx context.Context, listener JobEventListener) {
	source.listeners = append(source.listeners, listener)
}

func (source *MemoryJobEventSource) StopAndWaitForExit(ctx context.Context) {}

func (source *MemoryJobEventSource) PublishJobStarted(ctx context.Context, jobId data.JobId, config *data.JobConfig) {
	for _, listener := range source.listeners {
		listener.OnJobStarted(ctx, jobId, config)
	}
}

func (source *MemoryJobEventSource) PublishJobFinished(ctx context.Context, jobId data.JobId) {
	for _, listener := range source.listeners {
		listener.OnJobFinished(ctx, jobId)
	}
}
