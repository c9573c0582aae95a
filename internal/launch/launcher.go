package launch

import (
	"context"
	"os/exec"
	"sync"

	"github.com/xinkaiwang/goraylet/internal/data"
	"github.com/xinkaiwang/goraylet/klib/kerror"
	"github.com/xinkaiwang/goraylet/klib/klogging"
)

// ProcessHandle is the opaque reference the pool keeps for a spawned worker
// process. Pid 0 means null.
type ProcessHandle struct {
	Pid int
}

func (ph ProcessHandle) IsNull() bool {
	return ph.Pid == 0
}

// ProcessLauncher spawns worker OS processes. Startup tokens are handed out
// under a lock and increase monotonically across all languages; the token
// goes into the worker's command line, so it is allocated before Launch and
// bound to the spawn it pays for. The token is what ties the later
// RegisterWorker back to this launch.
type ProcessLauncher interface {
	AllocateStartupToken() data.StartupToken
	Launch(ctx context.Context, token data.StartupToken, argv []string, env []string) (ProcessHandle, error)
}

// OsProcessLauncher: implements ProcessLauncher via os/exec. Never waits on
// the child beyond starting it; reaping happens on a detached goroutine so
// dead children don't linger as zombies.
type OsProcessLauncher struct {
	mu        sync.Mutex
	nextToken data.StartupToken
}

func NewOsProcessLauncher() *OsProcessLauncher {
	return &OsProcessLauncher{}
}

func (launcher *OsProcessLauncher) AllocateStartupToken() data.StartupToken {
	launcher.mu.Lock()
	defer launcher.mu.Unlock()
	token := launcher.nextToken
	launcher.nextToken++
	return token
}

func (launcher *OsProcessLauncher) Launch(ctx context.Context, token data.StartupToken, argv []string, env []string) (ProcessHandle, error) {
	if len(argv) == 0 {
		return ProcessHandle{}, kerror.Create("EmptyWorkerCommand", "worker command is empty").
			WithErrorCode(kerror.EC_INVALID_PARAMETER)
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = env
	err := cmd.Start()
	if err != nil {
		return ProcessHandle{}, kerror.Wrap(err, "ProcessStartFailed", "failed to start worker process", false)
	}
	pid := cmd.Process.Pid
	go func() {
		waitErr := cmd.Wait()
		if waitErr != nil {
			klogging.Debug(context.Background()).With("pid", pid).With("token", int64(token)).With("error", waitErr.Error()).Log("WorkerProcessExit", "worker process exited with error")
		}
	}()
	return ProcessHandle{Pid: pid}, nil
}

// FakeProcessLauncher: implements ProcessLauncher for tests. Hands out
// synthetic non-conflicting pids without spawning anything, and remembers
// every command it was asked to run.
type FakeProcessLauncher struct {
	mu             sync.Mutex
	nextToken      data.StartupToken
	nextPid        int
	CommandsByProc map[ProcessHandle][]string
	TokensByProc   map[ProcessHandle]data.StartupToken
	procByToken    map[data.StartupToken]ProcessHandle
	lastProc       ProcessHandle
}

func NewFakeProcessLauncher() *FakeProcessLauncher {
	return &FakeProcessLauncher{
		nextPid:        1 << 22, // beyond any real pid space
		CommandsByProc: map[ProcessHandle][]string{},
		TokensByProc:   map[ProcessHandle]data.StartupToken{},
		procByToken:    map[data.StartupToken]ProcessHandle{},
	}
}

func (launcher *FakeProcessLauncher) AllocateStartupToken() data.StartupToken {
	launcher.mu.Lock()
	defer launcher.mu.Unlock()
	token := launcher.nextToken
	launcher.nextToken++
	return token
}

func (launcher *FakeProcessLauncher) Launch(ctx context.Context, token data.StartupToken, argv []string, env []string) (ProcessHandle, error) {
	launcher.mu.Lock()
	defer launcher.mu.Unlock()
	launcher.nextPid++
	proc := ProcessHandle{Pid: launcher.nextPid}
	launcher.CommandsByProc[proc] = append([]string{}, argv...)
	launcher.TokensByProc[proc] = token
	launcher.procByToken[token] = proc
	launcher.lastProc = proc
	return proc, nil
}

func (launcher *FakeProcessLauncher) LastStartedProcess() ProcessHandle {
	launcher.mu.Lock()
	defer launcher.mu.Unlock()
	return launcher.lastProc
}

func (launcher *FakeProcessLauncher) GetProcessSize() int {
	launcher.mu.Lock()
	defer launcher.mu.Unlock()
	return len(launcher.CommandsByProc)
}

func (launcher *FakeProcessLauncher) GetCommand(proc ProcessHandle) []string {
	launcher.mu.Lock()
	defer launcher.mu.Unlock()
	return launcher.CommandsByProc[proc]
}

func (launcher *FakeProcessLauncher) GetStartupToken(proc ProcessHandle) data.StartupToken {
	launcher.mu.Lock()
	defer launcher.mu.Unlock()
	token, ok := launcher.TokensByProc[proc]
	if !ok {
		return data.NilStartupToken
	}
	return token
}

func (launcher *FakeProcessLauncher) GetProcByToken(token data.StartupToken) ProcessHandle {
	launcher.mu.Lock()
	defer launcher.mu.Unlock()
	return launcher.procByToken[token]
}

func (launcher *FakeProcessLauncher) ClearProcesses() {
	launcher.mu.Lock()
	defer launcher.mu.Unlock()
	launcher.CommandsByProc = map[ProcessHandle][]string{}
	launcher.TokensByProc = map[ProcessHandle]data.StartupToken{}
	launcher.procByToken = map[data.StartupToken]ProcessHandle{}
}
