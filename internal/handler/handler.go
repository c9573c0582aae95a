package handler

import (
	"encoding/json"
	"net/http"

	"github.com/xinkaiwang/goraylet/api"
	"github.com/xinkaiwang/goraylet/internal/biz"
	"github.com/xinkaiwang/goraylet/klib/kerror"
	"github.com/xinkaiwang/goraylet/klib/klogging"
	"github.com/xinkaiwang/goraylet/klib/kmetrics"
)

// Handler 处理 HTTP 请求
type Handler struct {
	app *biz.App
}

func NewHandler(app *biz.App) *Handler {
	return &Handler{app: app}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/api/ping", ErrorHandlingMiddleware(http.HandlerFunc(h.PingHandler)))
	mux.Handle("/api/get_status", ErrorHandlingMiddleware(http.HandlerFunc(h.GetStatusHandler)))
	mux.Handle("/api/register_worker", ErrorHandlingMiddleware(http.HandlerFunc(h.RegisterWorkerHandler)))
	mux.Handle("/api/register_driver", ErrorHandlingMiddleware(http.HandlerFunc(h.RegisterDriverHandler)))
	mux.Handle("/api/announce_worker_port", ErrorHandlingMiddleware(http.HandlerFunc(h.AnnounceWorkerPortHandler)))
	mux.Handle("/api/disconnect_worker", ErrorHandlingMiddleware(http.HandlerFunc(h.DisconnectWorkerHandler)))
	mux.Handle("/api/pop_worker", ErrorHandlingMiddleware(http.HandlerFunc(h.PopWorkerHandler)))
	mux.Handle("/api/push_worker", ErrorHandlingMiddleware(http.HandlerFunc(h.PushWorkerHandler)))
	mux.Handle("/api/prestart_workers", ErrorHandlingMiddleware(http.HandlerFunc(h.PrestartWorkersHandler)))
}

func requireMethod(r *http.Request, method string) {
	if r.Method != method {
		panic(kerror.Create("MethodNotAllowed", "only "+method+" method is allowed").
			WithErrorCode(kerror.EC_INVALID_PARAMETER))
	}
}

func decodeJsonBody(r *http.Request, target interface{}) {
	err := json.NewDecoder(r.Body).Decode(target)
	if err != nil {
		panic(kerror.Wrap(err, "BadRequestBody", "failed to decode request body", false).
			WithErrorCode(kerror.EC_INVALID_PARAMETER))
	}
}

func encodeJsonResponse(w http.ResponseWriter, resp interface{}) {
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		panic(kerror.Create("EncodingError", "failed to encode response").
			WithErrorCode(kerror.EC_INTERNAL_ERROR).
			With("error", err.Error()))
	}
}

// PingHandler 处理 /api/ping 请求
func (h *Handler) PingHandler(w http.ResponseWriter, r *http.Request) {
	requireMethod(r, http.MethodGet)
	var resp string
	kmetrics.InstrumentSummaryRunVoid(r.Context(), "biz.Ping", func() {
		resp = h.app.Ping(r.Context())
	}, "")
	encodeJsonResponse(w, resp)
}

// GetStatusHandler 处理 /api/get_status 请求
func (h *Handler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	requireMethod(r, http.MethodGet)
	var resp *api.GetStatusResponse
	kmetrics.InstrumentSummaryRunVoid(r.Context(), "biz.GetStatus", func() {
		resp = h.app.GetStatus(r.Context())
	}, "")
	klogging.Verbose(r.Context()).
		With("idle", resp.IdleWorkerSize).
		With("starting", resp.NumWorkersStarting).
		Log("GetStatusResponse", "sending get status response")
	encodeJsonResponse(w, resp)
}

func (h *Handler) RegisterWorkerHandler(w http.ResponseWriter, r *http.Request) {
	requireMethod(r, http.MethodPost)
	var req api.RegisterWorkerRequest
	decodeJsonBody(r, &req)
	var resp *api.RegisterWorkerResponse
	kmetrics.InstrumentSummaryRunVoid(r.Context(), "biz.RegisterWorker", func() {
		resp = h.app.RegisterWorker(r.Context(), &req)
	}, "")
	encodeJsonResponse(w, resp)
}

func (h *Handler) RegisterDriverHandler(w http.ResponseWriter, r *http.Request) {
	requireMethod(r, http.MethodPost)
	var req api.RegisterDriverRequest
	decodeJsonBody(r, &req)
	var resp *api.RegisterDriverResponse
	kmetrics.InstrumentSummaryRunVoid(r.Context(), "biz.RegisterDriver", func() {
		resp = h.app.RegisterDriver(r.Context(), &req)
	}, "")
	encodeJsonResponse(w, resp)
}

func (h *Handler) AnnounceWorkerPortHandler(w http.ResponseWriter, r *http.Request) {
	requireMethod(r, http.MethodPost)
	var req api.AnnounceWorkerPortRequest
	decodeJsonBody(r, &req)
	kmetrics.InstrumentSummaryRunVoid(r.Context(), "biz.AnnounceWorkerPort", func() {
		h.app.AnnounceWorkerPort(r.Context(), &req)
	}, "")
	encodeJsonResponse(w, map[string]bool{"ok": true})
}

func (h *Handler) DisconnectWorkerHandler(w http.ResponseWriter, r *http.Request) {
	requireMethod(r, http.MethodPost)
	var req api.DisconnectWorkerRequest
	decodeJsonBody(r, &req)
	kmetrics.InstrumentSummaryRunVoid(r.Context(), "biz.DisconnectWorker", func() {
		h.app.DisconnectWorker(r.Context(), &req)
	}, "")
	encodeJsonResponse(w, map[string]bool{"ok": true})
}

func (h *Handler) PopWorkerHandler(w http.ResponseWriter, r *http.Request) {
	requireMethod(r, http.MethodPost)
	var req api.PopWorkerRequest
	decodeJsonBody(r, &req)
	var resp *api.PopWorkerResponse
	kmetrics.InstrumentSummaryRunVoid(r.Context(), "biz.PopWorker", func() {
		resp = h.app.PopWorker(r.Context(), &req)
	}, "")
	encodeJsonResponse(w, resp)
}

func (h *Handler) PushWorkerHandler(w http.ResponseWriter, r *http.Request) {
	requireMethod(r, http.MethodPost)
	var req api.PushWorkerRequest
	decodeJsonBody(r, &req)
	kmetrics.InstrumentSummaryRunVoid(r.Context(), "biz.PushWorker", func() {
		h.app.PushWorker(r.Context(), &req)
	}, "")
	encodeJsonResponse(w, map[string]bool{"ok": true})
}

func (h *Handler) PrestartWorkersHandler(w http.ResponseWriter, r *http.Request) {
	requireMethod(r, http.MethodPost)
	var req api.PrestartWorkersRequest
	decodeJsonBody(r, &req)
	kmetrics.InstrumentSummaryRunVoid(r.Context(), "biz.PrestartWorkers", func() {
		h.app.PrestartWorkers(r.Context(), &req)
	}, "")
	encodeJsonResponse(w, map[string]bool{"ok": true})
}
