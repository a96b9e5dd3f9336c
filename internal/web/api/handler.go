// Package api maps HTTP requests onto the transport-agnostic dispatcher:
// the native request becomes a request context, and the finalized
// result/status pair becomes the JSON response.
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/quarrydb/quarry/internal/core/dispatch"
	"github.com/quarrydb/quarry/internal/core/request"
)

// Handler serves the /api/ surface
type Handler struct {
	dispatcher *dispatch.Dispatcher
	logger     *zap.Logger
	prefix     string
}

// NewHandler creates an API handler stripping the given path prefix
// before dispatch.
func NewHandler(dispatcher *dispatch.Dispatcher, logger *zap.Logger, prefix string) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		dispatcher: dispatcher,
		logger:     logger,
		prefix:     prefix,
	}
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method, ok := mapMethod(r.Method)
	if !ok {
		writeJSON(w, http.StatusMethodNotAllowed, &request.ErrorBody{Error: "method not allowed"})
		return
	}

	path := strings.TrimPrefix(r.URL.Path, h.prefix)
	rc := request.New(r.Context(), path, method)

	for name, values := range r.Header {
		if len(values) > 0 {
			rc.Headers[name] = values[0]
		}
	}
	for name, values := range r.URL.Query() {
		if len(values) > 0 {
			rc.Params[name] = values[0]
		}
	}

	if method == request.MethodCreate || method == request.MethodPatch {
		data, err := readBody(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, &request.ErrorBody{Error: "invalid JSON body"})
			return
		}
		rc.Data = data
	}

	h.dispatcher.Dispatch(rc)

	writeJSON(w, rc.StatusCode, rc.Result)
}

// mapMethod translates HTTP verbs into dispatch methods. Verbs outside
// the CRUD surface are rejected by the transport.
func mapMethod(verb string) (request.Method, bool) {
	switch verb {
	case http.MethodPost:
		return request.MethodCreate, true
	case http.MethodGet, http.MethodHead:
		return request.MethodGet, true
	case http.MethodPatch:
		return request.MethodPatch, true
	case http.MethodDelete:
		return request.MethodRemove, true
	default:
		return 0, false
	}
}

// readBody decodes the request body. An empty body yields nil data so
// the dispatcher can answer with its required-data error shape.
func readBody(r *http.Request) (map[string]any, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if statusCode == 0 {
		statusCode = http.StatusOK
	}
	w.WriteHeader(statusCode)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}
