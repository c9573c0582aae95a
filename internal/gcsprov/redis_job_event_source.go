package gcsprov

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/xinkaiwang/goraylet/internal/data"
	"github.com/xinkaiwang/goraylet/klib/kerror"
	"github.com/xinkaiwang/goraylet/klib/klogging"
)

const (
	// JobEventChannel is the pub/sub channel job lifecycle edges travel on.
	JobEventChannel = "goraylet:job_events"
	// JobConfigHashKey holds serialized job configs keyed by job id, so a
	// late subscriber can still resolve a running job's config.
	JobConfigHashKey = "goraylet:jobs"
)

const (
	jobEventStarted  = "started"
	jobEventFinished = "finished"
)

type jobEventJson struct {
	Type   string          `json:"type"`
	JobId  string          `json:"job_id"`
	Config *data.JobConfig `json:"config,omitempty"`
}

// RedisJobEventSource: implements JobEventSource over redis pub/sub.
// go-redis re-subscribes on connection loss; the pool is preserved as-is
// across a metadata service restart.
type RedisJobEventSource struct {
	client *redis.Client

	mu        sync.Mutex
	listeners []JobEventListener
	pubsub    *redis.PubSub
	exited    chan struct{}
}

func NewRedisJobEventSource(addr string) *RedisJobEventSource {
	return &RedisJobEventSource{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		exited: make(chan struct{}),
	}
}

func (source *RedisJobEventSource) Subscribe(ctx context.Context, listener JobEventListener) {
	source.mu.Lock()
	source.listeners = append(source.listeners, listener)
	alreadyRunning := source.pubsub != nil
	if !alreadyRunning {
		source.pubsub = source.client.Subscribe(ctx, JobEventChannel)
	}
	pubsub := source.pubsub
	source.mu.Unlock()

	// replay running jobs from the config hash, so a subscriber that attaches
	// after a job's started edge (a restarted raylet included) still learns
	// about it; the channel only carries future edges
	source.replayRunningJobs(ctx, listener)

	if alreadyRunning {
		return
	}
	go source.consumeLoop(ctx, pubsub)
}

func (source *RedisJobEventSource) replayRunningJobs(ctx context.Context, listener JobEventListener) {
	stored, err := source.client.HGetAll(ctx, JobConfigHashKey).Result()
	if err != nil {
		klogging.Warning(ctx).With("error", err.Error()).Log("JobEventReplay", "failed to read stored job configs")
		return
	}
	for jobId, configJson := range stored {
		config := &data.JobConfig{}
		err = json.Unmarshal([]byte(configJson), config)
		if err != nil {
			klogging.Warning(ctx).With("jobId", jobId).With("error", err.Error()).Log("JobEventReplay", "dropping malformed stored job config")
			continue
		}
		listener.OnJobStarted(ctx, data.JobId(jobId), config)
	}
}

func (source *RedisJobEventSource) consumeLoop(ctx context.Context, pubsub *redis.PubSub) {
	defer close(source.exited)
	for msg := range pubsub.Channel() {
		var event jobEventJson
		err := json.Unmarshal([]byte(msg.Payload), &event)
		if err != nil {
			klogging.Warning(ctx).With("payload", msg.Payload).With("error", err.Error()).Log("JobEventDecode", "dropping malformed job event")
			continue
		}
		source.dispatch(ctx, &event)
	}
}

func (source *RedisJobEventSource) dispatch(ctx context.Context, event *jobEventJson) {
	source.mu.Lock()
	listeners := append([]JobEventListener{}, source.listeners...)
	source.mu.Unlock()
	switch event.Type {
	case jobEventStarted:
		for _, listener := range listeners {
			listener.OnJobStarted(ctx, data.JobId(event.JobId), event.Config)
		}
	case jobEventFinished:
		for _, listener := range listeners {
			listener.OnJobFinished(ctx, data.JobId(event.JobId))
		}
	default:
		klogging.Warning(ctx).With("type", event.Type).Log("JobEventDecode", "unknown job event type")
	}
}

func (source *RedisJobEventSource) StopAndWaitForExit(ctx context.Context) {
	source.mu.Lock()
	pubsub := source.pubsub
	source.mu.Unlock()
	if pubsub == nil {
		return
	}
	_ = pubsub.Close()
	<-source.exited
	_ = source.client.Close()
}

// PublishJobStarted: producer side, used by the job submission path and by
// tests. Stores the config then announces the edge.
func PublishJobStarted(ctx context.Context, client *redis.Client, jobId data.JobId, config *data.JobConfig) {
	payload, err := json.Marshal(&jobEventJson{Type: jobEventStarted, JobId: string(jobId), Config: config})
	if err != nil {
		panic(kerror.Wrap(err, "MarshalError", "failed to marshal job event", false))
	}
	configJson, _ := json.Marshal(config)
	err = client.HSet(ctx, JobConfigHashKey, string(jobId), string(configJson)).Err()
	if err != nil {
		panic(kerror.Wrap(err, "RedisError", "failed to store job config", false).WithErrorCode(kerror.EC_NETWORK_ERR))
	}
	err = client.Publish(ctx, JobEventChannel, string(payload)).Err()
	if err != nil {
		panic(kerror.Wrap(err, "RedisError", "failed to publish job event", false).WithErrorCode(kerror.EC_NETWORK_ERR))
	}
}

// PublishJobFinished: producer side of the finished edge.
func PublishJobFinished(ctx context.Context, client *redis.Client, jobId data.JobId) {
	payload, err := json.Marshal(&jobEventJson{Type: jobEventFinished, JobId: string(jobId)})
	if err != nil {
		panic(kerror.Wrap(err, "MarshalError", "failed to marshal job event", false))
	}
	err = client.HDel(ctx, JobConfigHashKey, string(jobId)).Err()
	if err != nil {
		panic(kerror.Wrap(err, "RedisError", "failed to delete job config", false).WithErrorCode(kerror.EC_NETWORK_ERR))
	}
	err = client.Publish(ctx, JobEventChannel, string(payload)).Err()
	if err != nil {
		panic(kerror.Wrap(err, "RedisError", "failed to publish job event", false).WithErrorCode(kerror.EC_NETWORK_ERR))
	}
}
