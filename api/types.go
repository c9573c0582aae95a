package api

// Request/response JSON types of the node manager's worker pool surface.

type RegisterWorkerRequest struct {
	Pid            int    `json:"pid"`
	StartupToken   int64  `json:"startup_token"`
	Language       string `json:"language"`
	WorkerType     string `json:"worker_type"`
	RuntimeEnvHash int32  `json:"runtime_env_hash"`
	IpAddress      string `json:"ip_address"`
}

type RegisterWorkerResponse struct {
	WorkerId string `json:"worker_id"`
}

type RegisterDriverRequest struct {
	JobId     string     `json:"job_id"`
	Language  string     `json:"language"`
	IpAddress string     `json:"ip_address"`
	JobConfig *JobConfig `json:"job_config,omitempty"`
}

type RegisterDriverResponse struct {
	WorkerId string `json:"worker_id"`
}

type JobConfig struct {
	CodeSearchPath       []string `json:"code_search_path,omitempty"`
	JvmOptions           []string `json:"jvm_options,omitempty"`
	SerializedRuntimeEnv string   `json:"serialized_runtime_env,omitempty"`
	EagerInstall         bool     `json:"eager_install,omitempty"`
}

type AnnounceWorkerPortRequest struct {
	WorkerId string `json:"worker_id"`
	Port     int    `json:"port"`
}

type DisconnectWorkerRequest struct {
	WorkerId string `json:"worker_id"`
	ExitType string `json:"exit_type"`
}

type PopWorkerRequest struct {
	Language             string   `json:"language"`
	WorkerType           string   `json:"worker_type"`
	JobId                string   `json:"job_id"`
	RootDetachedActorId  string   `json:"root_detached_actor_id,omitempty"`
	SerializedRuntimeEnv string   `json:"serialized_runtime_env,omitempty"`
	EagerInstall         bool     `json:"eager_install,omitempty"`
	DynamicOptions       []string `json:"dynamic_options,omitempty"`
	KeepAliveDurationMs  int64    `json:"keep_alive_duration_ms,omitempty"`
}

type PopWorkerResponse struct {
	WorkerId           string `json:"worker_id,omitempty"`
	Status             string `json:"status"`
	RuntimeEnvErrorMsg string `json:"runtime_env_error_msg,omitempty"`
}

type PushWorkerRequest struct {
	WorkerId string `json:"worker_id"`
}

type PrestartWorkersRequest struct {
	Language             string `json:"language"`
	JobId                string `json:"job_id"`
	SerializedRuntimeEnv string `json:"serialized_runtime_env,omitempty"`
	NumNeeded            int    `json:"num_needed"`
}

type WorkerStatus struct {
	WorkerId string `json:"worker_id"`
	Language string `json:"language"`
	Type     string `json:"type"`
	JobId    string `json:"job_id,omitempty"`
	State    string `json:"state"`
}

type JobStatus struct {
	JobId string `json:"job_id"`
	State string `json:"state"`
}

type GetStatusResponse struct {
	NumWorkersStarting             int            `json:"num_workers_starting"`
	NumPendingStartRequests        int            `json:"num_pending_start_requests"`
	NumPendingRegistrationRequests int            `json:"num_pending_registration_requests"`
	IdleWorkerSize                 int            `json:"idle_worker_size"`
	NumPendingExitWorkers          int            `json:"num_pending_exit_workers"`
	Workers                        []WorkerStatus `json:"workers"`
	Jobs                           []JobStatus    `json:"jobs"`
}
