package workerrpc

import (
	"context"

	"github.com/xinkaiwang/goraylet/internal/data"
)

// ExitCallback receives the worker's answer to a graceful Exit request.
// success == false means the worker refused to die (typically because it
// still owns objects someone needs); the pool retries on a later tick.
type ExitCallback func(success bool, err error)

// CoreWorkerClient is the pool's outbound RPC surface towards one worker
// process. The pool never keeps more than one Exit in flight per worker.
type CoreWorkerClient interface {
	Exit(ctx context.Context, forceExit bool, callback ExitCallback)
}

// CoreWorkerClientFactory builds the client once the worker has announced
// its port.
type CoreWorkerClientFactory func(workerId data.WorkerId, ipAddress string, port int) CoreWorkerClient
