package data

// JobConfig is the per-job configuration the cluster metadata service
// announces at job start. Only the fields the worker pool consumes are kept.
type JobConfig struct {
	CodeSearchPath []string       `json:"code_search_path,omitempty"`
	JvmOptions     []string       `json:"jvm_options,omitempty"`
	RuntimeEnvInfo RuntimeEnvInfo `json:"runtime_env_info"`
}
