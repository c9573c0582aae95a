package workerrpc

import (
	"context"
	"sync"

	"github.com/xinkaiwang/goraylet/internal/data"
)

// FakeCoreWorkerClient: implements CoreWorkerClient for tests. Exit calls
// queue their callbacks; the test replies by calling ExitReplySucceed /
// ExitReplyFailed in its own time.
type FakeCoreWorkerClient struct {
	mu             sync.Mutex
	ExitCount      int
	LastExitForced bool
	callbacks      []ExitCallback
}

func NewFakeCoreWorkerClient() *FakeCoreWorkerClient {
	return &FakeCoreWorkerClient{}
}

func (client *FakeCoreWorkerClient) Exit(ctx context.Context, forceExit bool, callback ExitCallback) {
	client.mu.Lock()
	defer client.mu.Unlock()
	client.ExitCount++
	client.LastExitForced = forceExit
	client.callbacks = append(client.callbacks, callback)
}

func (client *FakeCoreWorkerClient) popCallback() ExitCallback {
	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.callbacks) == 0 {
		return nil
	}
	callback := client.callbacks[0]
	client.callbacks = client.callbacks[1:]
	return callback
}

// ExitReplySucceed: reply success to the oldest outstanding Exit. Returns
// false when nothing is outstanding.
func (client *FakeCoreWorkerClient) ExitReplySucceed() bool {
	callback := client.popCallback()
	if callback == nil {
		return false
	}
	callback(true, nil)
	return true
}

// ExitReplyFailed: the worker refuses to exit.
func (client *FakeCoreWorkerClient) ExitReplyFailed() bool {
	callback := client.popCallback()
	if callback == nil {
		return false
	}
	callback(false, nil)
	return true
}

func (client *FakeCoreWorkerClient) PendingCallbackCount() int {
	client.mu.Lock()
	defer client.mu.Unlock()
	return len(client.callbacks)
}

// FakeCoreWorkerClientFactory keeps one fake client per worker id so tests
// can find the client for any worker the pool talked to.
type FakeCoreWorkerClientFactory struct {
	mu      sync.Mutex
	Clients map[data.WorkerId]*FakeCoreWorkerClient
}

func NewFakeCoreWorkerClientFactory() *FakeCoreWorkerClientFactory {
	return &FakeCoreWorkerClientFactory{
		Clients: map[data.WorkerId]*FakeCoreWorkerClient{},
	}
}

func (factory *FakeCoreWorkerClientFactory) Create(workerId data.WorkerId, ipAddress string, port int) CoreWorkerClient {
	factory.mu.Lock()
	defer factory.mu.Unlock()
	client, ok := factory.Clients[workerId]
	if !ok {
		client = NewFakeCoreWorkerClient()
		factory.Clients[workerId] = client
	}
	return client
}

func (factory *FakeCoreWorkerClientFactory) GetClient(workerId data.WorkerId) *FakeCoreWorkerClient {
	factory.mu.Lock()
	defer factory.mu.Unlock()
	return factory.Clients[workerId]
}
