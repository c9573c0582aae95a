package gcsprov

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xinkaiwang/goraylet/internal/data"
)

type capturedEvent struct {
	started bool
	jobId   data.JobId
	config  *data.JobConfig
}

type captureListener struct {
	events chan capturedEvent
}

func newCaptureListener() *captureListener {
	return &captureListener{events: make(chan capturedEvent, 10)}
}

func (listener *captureListener) OnJobStarted(ctx context.Context, jobId data.JobId, config *data.JobConfig) {
	listener.events <- capturedEvent{started: true, jobId: jobId, config: config}
}

func (listener *captureListener) OnJobFinished(ctx context.Context, jobId data.JobId) {
	listener.events <- capturedEvent{started: false, jobId: jobId}
}

func (listener *captureListener) waitForEvent(t *testing.T) capturedEvent {
	select {
	case event := <-listener.events:
		return event
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job event")
		return capturedEvent{}
	}
}

func TestMemoryJobEventSource(t *testing.T) {
	ctx := context.Background()
	source := NewMemoryJobEventSource()
	listener := newCaptureListener()
	source.Subscribe(ctx, listener)

	source.PublishJobStarted(ctx, "job-1", &data.JobConfig{JvmOptions: []string{"-Xmx1g"}})
	event := listener.waitForEvent(t)
	assert.True(t, event.started)
	assert.Equal(t, data.JobId("job-1"), event.jobId)
	require.NotNil(t, event.config)
	assert.Equal(t, []string{"-Xmx1g"}, event.config.JvmOptions)

	source.PublishJobFinished(ctx, "job-1")
	event = listener.waitForEvent(t)
	assert.False(t, event.started)
	assert.Equal(t, data.JobId("job-1"), event.jobId)
}

func TestRedisJobEventSource(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	source := NewRedisJobEventSource(mr.Addr())
	listener := newCaptureListener()
	source.Subscribe(ctx, listener)
	defer source.StopAndWaitForExit(ctx)

	producer := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer producer.Close()

	// the pubsub subscription needs a moment to land in miniredis
	require.Eventually(t, func() bool {
		subs := producer.PubSubNumSub(ctx, JobEventChannel).Val()
		return subs[JobEventChannel] > 0
	}, 5*time.Second, 10*time.Millisecond)

	jobConfig := &data.JobConfig{
		CodeSearchPath: []string{"/srv/code"},
		RuntimeEnvInfo: data.RuntimeEnvInfo{SerializedRuntimeEnv: `{"py_modules": ["s3://1"]}`},
	}
	PublishJobStarted(ctx, producer, "job-7", jobConfig)

	event := listener.waitForEvent(t)
	assert.True(t, event.started)
	assert.Equal(t, data.JobId("job-7"), event.jobId)
	require.NotNil(t, event.config)
	assert.Equal(t, []string{"/srv/code"}, event.config.CodeSearchPath)

	// the config is also stored for late subscribers
	stored := mr.HGet(JobConfigHashKey, "job-7")
	assert.NotEmpty(t, stored)

	PublishJobFinished(ctx, producer, "job-7")
	event = listener.waitForEvent(t)
	assert.False(t, event.started)
	assert.Equal(t, data.JobId("job-7"), event.jobId)
	assert.False(t, mr.Exists(JobConfigHashKey))
}

// A subscriber that attaches after a job's started edge fired (e.g. a
// restarted node) recovers the running job from the config hash.
func TestRedisJobEventSourceReplaysRunningJobs(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	producer := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer producer.Close()
	jobConfig := &data.JobConfig{JvmOptions: []string{"-Xmx1g"}}
	PublishJobStarted(ctx, producer, "job-early", jobConfig)

	// nobody was listening when the edge fired
	source := NewRedisJobEventSource(mr.Addr())
	listener := newCaptureListener()
	source.Subscribe(ctx, listener)
	defer source.StopAndWaitForExit(ctx)

	event := listener.waitForEvent(t)
	assert.True(t, event.started)
	assert.Equal(t, data.JobId("job-early"), event.jobId)
	require.NotNil(t, event.config)
	assert.Equal(t, []string{"-Xmx1g"}, event.config.JvmOptions)
}
