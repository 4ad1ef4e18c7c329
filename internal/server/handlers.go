// Package server exposes the lock manager over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/flirtduo/chatlock/internal/auth"
	"github.com/flirtduo/chatlock/internal/lock"
	"github.com/flirtduo/chatlock/pkg/errclass"
	"github.com/flirtduo/chatlock/pkg/idutil"
	"github.com/flirtduo/chatlock/pkg/logging"
	"github.com/flirtduo/chatlock/pkg/metrics"
	"github.com/flirtduo/chatlock/pkg/model"
	"github.com/flirtduo/chatlock/pkg/uuidutil"
)

// MaxStatusIDs caps one batch status query.
const MaxStatusIDs = 500

const maxBodyBytes = 4 << 10

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-ID"

// Config wires the handler to its collaborators. Metrics may be nil, in
// which case /metrics is not served.
type Config struct {
	Manager *lock.Manager
	Auth    auth.Authenticator
	Metrics *metrics.Registry
	Logger  *logging.Logger
}

type handler struct {
	manager *lock.Manager
	auth    auth.Authenticator
	logger  *logging.Logger
}

// NewHandler returns the routed HTTP handler.
func NewHandler(cfg Config) (http.Handler, error) {
	if cfg.Manager == nil {
		return nil, errors.New("server: manager is required")
	}
	if cfg.Auth == nil {
		return nil, errors.New("server: authenticator is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	h := &handler{manager: cfg.Manager, auth: cfg.Auth, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.Handle("POST /lock/{id}", h.authenticated(h.handleAcquire, false))
	mux.Handle("POST /heartbeat/{id}", h.authenticated(h.handleHeartbeat, false))
	mux.Handle("POST /unlock/{id}", h.authenticated(h.handleRelease, true))
	mux.Handle("GET /status/{id}", h.authenticated(h.handleStatus, false))
	mux.Handle("GET /status", h.authenticated(h.handleStatusMany, false))
	mux.Handle("POST /verify/{id}", h.authenticated(h.handleVerify, false))
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics.Handler())
	}
	return h.withRequestLog(mux), nil
}

func (h *handler) handleHealth(writer http.ResponseWriter, _ *http.Request) {
	writeJSON(writer, http.StatusOK, map[string]any{"ok": true})
}

func (h *handler) handleAcquire(writer http.ResponseWriter, request *http.Request) {
	p, _ := auth.FromContext(request.Context())
	res, err := h.manager.Acquire(request.Context(), request.PathValue("id"), p)
	if err != nil {
		h.writeError(writer, request, err)
		return
	}
	writeJSON(writer, http.StatusOK, res)
}

func (h *handler) handleHeartbeat(writer http.ResponseWriter, request *http.Request) {
	p, _ := auth.FromContext(request.Context())
	res, err := h.manager.Heartbeat(request.Context(), request.PathValue("id"), p)
	if err != nil {
		h.writeError(writer, request, err)
		return
	}
	writeJSON(writer, http.StatusOK, res)
}

func (h *handler) handleRelease(writer http.ResponseWriter, request *http.Request) {
	p, _ := auth.FromContext(request.Context())
	id := request.PathValue("id")

	// Tab-close beacons arrive as the page is torn down; finish the
	// release even if the client connection goes away.
	ctx := context.WithoutCancel(request.Context())
	released, err := h.manager.Release(ctx, id, p.ID)
	if err != nil {
		h.writeError(writer, request, err)
		return
	}
	writeJSON(writer, http.StatusOK, model.ReleaseResult{ConversationID: id, Released: released})
}

func (h *handler) handleStatus(writer http.ResponseWriter, request *http.Request) {
	st, err := h.manager.Status(request.Context(), request.PathValue("id"))
	if err != nil {
		h.writeError(writer, request, err)
		return
	}
	writeJSON(writer, http.StatusOK, st.View())
}

func (h *handler) handleStatusMany(writer http.ResponseWriter, request *http.Request) {
	ids := idutil.SplitIDs(request.URL.Query().Get("ids"))
	if len(ids) == 0 {
		h.writeError(writer, request, errclass.ErrNameInvalid.WithMessage("ids query parameter is required"))
		return
	}
	if len(ids) > MaxStatusIDs {
		h.writeError(writer, request, errclass.ErrNameInvalid.WithMessagef("at most %d ids per request", MaxStatusIDs))
		return
	}

	sts, err := h.manager.StatusMany(request.Context(), ids)
	if err != nil {
		h.writeError(writer, request, err)
		return
	}
	out := model.StatusList{Statuses: make([]model.StatusView, len(sts))}
	for i, st := range sts {
		out.Statuses[i] = st.View()
	}
	writeJSON(writer, http.StatusOK, out)
}

func (h *handler) handleVerify(writer http.ResponseWriter, request *http.Request) {
	p, _ := auth.FromContext(request.Context())

	var body model.VerifyRequest
	decoder := json.NewDecoder(http.MaxBytesReader(writer, request.Body, maxBodyBytes))
	if err := decoder.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(writer, http.StatusBadRequest, "invalid verify request", requestID(request))
		return
	}

	st, err := h.manager.Verify(request.Context(), request.PathValue("id"), p.ID, body.Fence)
	switch {
	case err == nil:
		writeJSON(writer, http.StatusOK, model.VerifyResult{Held: true, Status: st.View()})
	case errors.Is(err, errclass.ErrLockNotHeld), errors.Is(err, errclass.ErrFencingMismatch):
		writeJSON(writer, http.StatusConflict, model.VerifyResult{
			Held:   false,
			Code:   errclass.Code(err),
			Status: st.View(),
		})
	default:
		h.writeError(writer, request, err)
	}
}

// authenticated resolves the caller before next runs; unauthenticated
// requests never reach the lock store. allowFormToken also accepts an
// access_token form or query field, for navigator.sendBeacon which
// cannot set headers.
func (h *handler) authenticated(next http.HandlerFunc, allowFormToken bool) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		token := auth.BearerToken(request)
		if token == "" && allowFormToken {
			request.Body = http.MaxBytesReader(writer, request.Body, maxBodyBytes)
			token = strings.TrimSpace(request.FormValue("access_token"))
		}
		p, err := h.auth.Authenticate(request.Context(), token)
		if err != nil {
			h.writeError(writer, request, err)
			return
		}
		next(writer, request.WithContext(auth.WithPrincipal(request.Context(), p)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (h *handler) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		start := time.Now()
		id := uuidutil.RequestID(request.Header.Get(HeaderRequestID))
		request.Header.Set(HeaderRequestID, id)
		writer.Header().Set(HeaderRequestID, id)

		rec := &statusRecorder{ResponseWriter: writer, status: http.StatusOK}
		next.ServeHTTP(rec, request)

		fields := map[string]any{
			"request_id":  id,
			"method":      request.Method,
			"path":        request.URL.Path,
			"status":      rec.status,
			"duration_ms": time.Since(start).Milliseconds(),
		}
		if rec.status >= http.StatusInternalServerError {
			h.logger.Warn("http request", fields)
		} else {
			h.logger.Debug("http request", fields)
		}
	})
}

func (h *handler) writeError(writer http.ResponseWriter, request *http.Request, err error) {
	status := errclass.HTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.ErrorErr("request failed", err, map[string]any{
			"request_id": requestID(request),
			"path":       request.URL.Path,
		})
		message = "internal error"
	}
	writeJSON(writer, status, model.ErrorBody{
		OK:        false,
		Code:      errclass.Code(err),
		Error:     strings.TrimSpace(message),
		RequestID: requestID(request),
	})
}

func requestID(request *http.Request) string {
	return request.Header.Get(HeaderRequestID)
}

func writeError(writer http.ResponseWriter, status int, message, reqID string) {
	writeJSON(writer, status, model.ErrorBody{
		OK:        false,
		Error:     strings.TrimSpace(message),
		RequestID: reqID,
	})
}

func writeJSON(writer http.ResponseWriter, status int, value any) {
	encoded, err := json.Marshal(value)
	if err != nil {
		http.Error(writer, `{"ok":false,"error":"encode response"}`, http.StatusInternalServerError)
		return
	}
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_, _ = writer.Write(append(encoded, '\n'))
}
