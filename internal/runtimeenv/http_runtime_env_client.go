package runtimeenv

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/xinkaiwang/goraylet/internal/data"
	"github.com/xinkaiwang/goraylet/klib/klogging"
)

// HttpRuntimeEnvClient: implements RuntimeEnvClient against the runtime env
// agent's JSON endpoints. Requests run on their own goroutine; the caller's
// callback is invoked from there once the reply arrives.
type HttpRuntimeEnvClient struct {
	baseUrl    string
	httpClient *http.Client
}

func NewHttpRuntimeEnvClient(baseUrl string) *HttpRuntimeEnvClient {
	return &HttpRuntimeEnvClient{
		baseUrl: baseUrl,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type getOrCreateRequest struct {
	JobId                string                `json:"job_id"`
	SerializedRuntimeEnv string                `json:"serialized_runtime_env"`
	RuntimeEnvConfig     data.RuntimeEnvConfig `json:"runtime_env_config"`
}

type getOrCreateReply struct {
	Success                 bool   `json:"success"`
	SerializedRuntimeEnvCtx string `json:"serialized_runtime_env_context"`
	ErrorMessage            string `json:"error_message"`
}

type deleteRequest struct {
	SerializedRuntimeEnv string `json:"serialized_runtime_env"`
}

type deleteReply struct {
	Success bool `json:"success"`
}

func (client *HttpRuntimeEnvClient) GetOrCreateRuntimeEnv(ctx context.Context, jobId data.JobId, serializedEnv string, config data.RuntimeEnvConfig, callback GetOrCreateCallback) {
	req := &getOrCreateRequest{
		JobId:                string(jobId),
		SerializedRuntimeEnv: serializedEnv,
		RuntimeEnvConfig:     config,
	}
	go func() {
		var reply getOrCreateReply
		err := client.postJson(ctx, "/get_or_create_runtime_env", req, &reply)
		if err != nil {
			klogging.Warning(ctx).With("error", err.Error()).Log("RuntimeEnvAgent", "get_or_create_runtime_env failed")
			callback(false, "", err.Error())
			return
		}
		callback(reply.Success, reply.SerializedRuntimeEnvCtx, reply.ErrorMessage)
	}()
}

func (client *HttpRuntimeEnvClient) DeleteRuntimeEnvIfPossible(ctx context.Context, serializedEnv string, callback DeleteCallback) {
	req := &deleteRequest{SerializedRuntimeEnv: serializedEnv}
	go func() {
		var reply deleteReply
		err := client.postJson(ctx, "/delete_runtime_env_if_possible", req, &reply)
		if err != nil {
			klogging.Warning(ctx).With("error", err.Error()).Log("RuntimeEnvAgent", "delete_runtime_env_if_possible failed")
			callback(false)
			return
		}
		callback(reply.Success)
	}()
}

func (client *HttpRuntimeEnvClient) postJson(ctx context.Context, path string, body interface{}, reply interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, client.baseUrl+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := client.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(reply)
}
