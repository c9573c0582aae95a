package core

import (
	"fmt"
	"strings"

	"github.com/xinkaiwang/goraylet/internal/config"
	"github.com/xinkaiwang/goraylet/internal/data"
)

// buildWorkerCommand materialises the per-language command vector.
//
// JVM argv order is a wire contract, fixed from the top: entry binary,
// Ray-defined per-job options, user per-job jvm options, Ray-defined
// per-process options, user per-process dynamic options, entry class,
// trailing language flag. Do not reorder existing parameters.
func (ps *PoolState) buildWorkerCommand(req *PopWorkerRequest, token data.StartupToken) []string {
	template := ps.Config.WorkerCommands[req.Language]
	var jobConfig *data.JobConfig
	if job, ok := ps.allJobs[req.JobId]; ok {
		jobConfig = job.Config
	}

	if req.WorkerType.IsIoWorkerType() {
		return ps.buildIoWorkerCommand(req.Language, req.WorkerType, token)
	}
	if req.Language == data.LANG_JAVA {
		return ps.buildJavaWorkerCommand(template, req, jobConfig, token)
	}
	return ps.buildPythonWorkerCommand(template, req, token)
}

func (ps *PoolState) buildJavaWorkerCommand(template []string, req *PopWorkerRequest, jobConfig *data.JobConfig, token data.StartupToken) []string {
	argv := make([]string, 0, len(template)+8)
	for _, arg := range template {
		if arg != config.DynamicOptionPlaceholder {
			argv = append(argv, arg)
			continue
		}
		// Ray-defined per-job options
		if jobConfig != nil && len(jobConfig.CodeSearchPath) > 0 {
			argv = append(argv, "-Dray.job.code-search-path="+strings.Join(jobConfig.CodeSearchPath, ":"))
		}
		// user per-job jvm options, in config order
		if jobConfig != nil {
			argv = append(argv, jobConfig.JvmOptions...)
		}
		// Ray-defined per-process options
		argv = append(argv, fmt.Sprintf("-Dray.raylet.startup-token=%d", token))
		argv = append(argv, fmt.Sprintf("-Dray.internal.runtime-env-hash=%d", req.RuntimeEnvHash))
		// user per-process dynamic options (actor jvm options, in spec order)
		argv = append(argv, req.DynamicOptions...)
	}
	argv = append(argv, "--language=JAVA")
	return argv
}

func (ps *PoolState) buildPythonWorkerCommand(template []string, req *PopWorkerRequest, token data.StartupToken) []string {
	argv := make([]string, 0, len(template)+4)
	argv = append(argv, template...)
	argv = append(argv, "--node-id="+string(ps.NodeId))
	argv = append(argv, fmt.Sprintf("--startup-token=%d", token))
	argv = append(argv, fmt.Sprintf("--runtime-env-hash=%d", req.RuntimeEnvHash))
	argv = append(argv, req.DynamicOptions...)
	return argv
}

// buildIoWorkerCommand: argv for the auxiliary spill/restore workers.
func (ps *PoolState) buildIoWorkerCommand(language data.Language, kind data.WorkerType, token data.StartupToken) []string {
	template := ps.Config.WorkerCommands[language]
	argv := make([]string, 0, len(template)+4)
	argv = append(argv, template...)
	argv = append(argv, "--node-id="+string(ps.NodeId))
	argv = append(argv, fmt.Sprintf("--startup-token=%d", token))
	argv = append(argv, "--worker-type="+string(kind))
	if ps.Config.ObjectSpillingConfig != "" {
		argv = append(argv, "--object-spilling-config="+ps.Config.ObjectSpillingConfig)
	}
	return argv
}
