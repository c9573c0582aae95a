package config

import (
	"encoding/json"

	"github.com/xinkaiwang/goraylet/internal/data"
	"github.com/xinkaiwang/goraylet/klib/kerror"
)

type GcsStorageType string

const (
	GS_Memory GcsStorageType = "memory"
	GS_Redis  GcsStorageType = "redis"
)

// DynamicOptionPlaceholder marks where per-process dynamic options get
// spliced into a worker command template.
const DynamicOptionPlaceholder = "RAY_WORKER_DYNAMIC_OPTION_PLACEHOLDER"

// RayletConfig is the dynamic configuration surface of the node manager.
// Initialized from JSON, typed fields only.
type RayletConfig struct {
	WorkerRegisterTimeoutSeconds        int            `json:"worker_register_timeout_seconds"`
	ObjectSpillingConfig                string         `json:"object_spilling_config"`
	MaxIoWorkers                        int            `json:"max_io_workers"`
	KillIdleWorkersIntervalMs           int            `json:"kill_idle_workers_interval_ms"`
	IdleWorkerKillingTimeThresholdMs    int            `json:"idle_worker_killing_time_threshold_ms"`
	EnableWorkerPrestart                bool           `json:"enable_worker_prestart"`
	NumPrestartPythonWorkers            int            `json:"num_prestart_python_workers"`
	MaximumStartupConcurrency           int            `json:"maximum_startup_concurrency"`
	MaximumGcsDestroyedActorCachedCount int            `json:"maximum_gcs_destroyed_actor_cached_count"`
	MaximumGcsDeadNodeCachedCount       int            `json:"maximum_gcs_dead_node_cached_count"`
	GcsStorage                          GcsStorageType `json:"gcs_storage"`
	EnableClusterAuth                   bool           `json:"enable_cluster_auth"`

	// RedisAddr is only used when GcsStorage == GS_Redis.
	RedisAddr string `json:"redis_addr"`

	// RuntimeEnvAgentUrl: base url of the runtime env agent's JSON endpoint.
	RuntimeEnvAgentUrl string `json:"runtime_env_agent_url"`

	// WorkerCommands: per-language worker command template. JAVA templates
	// carry the DynamicOptionPlaceholder element.
	WorkerCommands map[data.Language][]string `json:"worker_commands"`
}

func NewRayletConfig() *RayletConfig {
	return &RayletConfig{
		WorkerRegisterTimeoutSeconds:        30,
		MaxIoWorkers:                        1,
		KillIdleWorkersIntervalMs:           200,
		IdleWorkerKillingTimeThresholdMs:    1000,
		EnableWorkerPrestart:                false,
		NumPrestartPythonWorkers:            0,
		MaximumStartupConcurrency:           10,
		MaximumGcsDestroyedActorCachedCount: 100000,
		MaximumGcsDeadNodeCachedCount:       1000,
		GcsStorage:                          GS_Memory,
		RuntimeEnvAgentUrl:                  "http://127.0.0.1:20203",
		WorkerCommands: map[data.Language][]string{
			data.LANG_PYTHON: {"python", "default_worker.py"},
			data.LANG_JAVA:   {"java", DynamicOptionPlaceholder, "io.ray.runtime.runner.worker.DefaultWorker"},
		},
	}
}

// RayletConfigFromJson: parse on top of defaults. Panics (kerror) on bad input.
func RayletConfigFromJson(jsonStr string) *RayletConfig {
	cfg := NewRayletConfig()
	err := json.Unmarshal([]byte(jsonStr), cfg)
	if err != nil {
		panic(kerror.Wrap(err, "UnmarshalError", "failed to parse raylet config", false).
			WithErrorCode(kerror.EC_INVALID_PARAMETER))
	}
	if cfg.GcsStorage != GS_Memory && cfg.GcsStorage != GS_Redis {
		panic(kerror.Create("InvalidConfig", "unknown gcs_storage").
			With("gcs_storage", string(cfg.GcsStorage)).
			WithErrorCode(kerror.EC_INVALID_PARAMETER))
	}
	return cfg
}

func (cfg *RayletConfig) ToJson() string {
	bytes, err := json.Marshal(cfg)
	if err != nil {
		panic(kerror.Wrap(err, "MarshalError", "failed to marshal raylet config", false))
	}
	return string(bytes)
}
