package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xinkaiwang/goraylet/internal/data"
)

// The JVM command vector is a wire contract: fixed segment order from the
// top, trailing language flag last.
func TestStartWorkerWithDynamicOptionsCommand(t *testing.T) {
	setup := newPoolTestSetup(t)
	setup.RunWith(func() {
		jobId := data.JobId("job-12345")
		actorJvmOptions := []string{"-Dmy-actor.hello=foo", "-Dmy-actor.world=bar", "-Xmx2g", "-Xms1g"}
		setup.Pool.HandleJobStarted(setup.ctx, jobId, &data.JobConfig{
			CodeSearchPath: []string{"/test/code_search_path"},
			JvmOptions:     []string{"-Xmx1g", "-Xms500m", "-Dmy-job.hello=world", "-Dmy-job.foo=bar"},
		})

		req := exampleRequest(data.LANG_JAVA, jobId)
		req.DynamicOptions = actorJvmOptions
		result := setup.popWorkerSync(req, true)
		require.NotNil(t, result.worker)

		argv := setup.Launcher.GetCommand(setup.Launcher.LastStartedProcess())
		expected := []string{"java"}
		// Ray-defined per-job options
		expected = append(expected, "-Dray.job.code-search-path=/test/code_search_path")
		// user-defined per-job options
		expected = append(expected, "-Xmx1g", "-Xms500m", "-Dmy-job.hello=world", "-Dmy-job.foo=bar")
		// Ray-defined per-process options
		expected = append(expected, "-Dray.raylet.startup-token=0")
		expected = append(expected, "-Dray.internal.runtime-env-hash=0")
		// user-defined per-process options
		expected = append(expected, actorJvmOptions...)
		// entry point
		expected = append(expected, "MainClass")
		expected = append(expected, "--language=JAVA")
		assert.Equal(t, expected, argv)

		setup.Pool.HandleJobFinished(setup.ctx, jobId)
	})
}

func TestStartWorkerWithNodeIdArg(t *testing.T) {
	setup := newPoolTestSetup(t)
	setup.RunWith(func() {
		setup.registerDriver(data.LANG_PYTHON, testJobId1, nil)
		result := setup.popWorkerSync(exampleRequest(data.LANG_PYTHON, testJobId1), true)
		require.NotNil(t, result.worker)

		argv := setup.Launcher.GetCommand(result.worker.Proc)
		found := false
		for _, arg := range argv {
			if strings.Contains(arg, "--node-id="+string(testNodeId)) {
				found = true
			}
		}
		assert.True(t, found)
	})
}

func TestPythonWorkerCommandCarriesRuntimeEnvHash(t *testing.T) {
	setup := newPoolTestSetup(t)
	setup.RunWith(func() {
		setup.registerDriver(data.LANG_PYTHON, testJobId1, nil)
		env := `{"env_vars": {"A": "B"}}`
		req := requestWithEnv(data.LANG_PYTHON, testJobId1, env, false)
		result := setup.popWorkerSync(req, true)
		require.NotNil(t, result.worker)

		argv := setup.Launcher.GetCommand(result.worker.Proc)
		found := false
		for _, arg := range argv {
			if strings.HasPrefix(arg, "--runtime-env-hash=") {
				found = true
			}
		}
		assert.True(t, found)
	})
}
