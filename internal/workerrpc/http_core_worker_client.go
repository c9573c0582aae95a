package workerrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/xinkaiwang/goraylet/internal/data"
	"github.com/xinkaiwang/goraylet/klib/klogging"
)

// HttpCoreWorkerClient: implements CoreWorkerClient against the JSON control
// endpoint every worker serves on its announced port.
type HttpCoreWorkerClient struct {
	workerId   data.WorkerId
	baseUrl    string
	httpClient *http.Client
}

func NewHttpCoreWorkerClient(workerId data.WorkerId, ipAddress string, port int) CoreWorkerClient {
	return &HttpCoreWorkerClient{
		workerId: workerId,
		baseUrl:  fmt.Sprintf("http://%s:%d", ipAddress, port),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type exitRequest struct {
	ForceExit bool `json:"force_exit"`
}

type exitReply struct {
	Success bool `json:"success"`
}

func (client *HttpCoreWorkerClient) Exit(ctx context.Context, forceExit bool, callback ExitCallback) {
	payload, _ := json.Marshal(&exitRequest{ForceExit: forceExit})
	go func() {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, client.baseUrl+"/exit", bytes.NewReader(payload))
		if err != nil {
			callback(false, err)
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		resp, err := client.httpClient.Do(httpReq)
		if err != nil {
			klogging.Debug(ctx).With("workerId", string(client.workerId)).With("error", err.Error()).Log("WorkerExitRpc", "exit request failed")
			callback(false, err)
			return
		}
		defer resp.Body.Close()
		var reply exitReply
		err = json.NewDecoder(resp.Body).Decode(&reply)
		if err != nil {
			callback(false, err)
			return
		}
		callback(reply.Success, nil)
	}()
}
