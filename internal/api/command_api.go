package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-messaging-bridge/internal/codec"
	"github.com/tinywideclouds/go-messaging-bridge/pkg/bridge"
)

// maxArgumentBytes bounds a command body.
const maxArgumentBytes = 64 << 10

// Caller runs one command to completion.
type Caller interface {
	Call(ctx context.Context, cmd bridge.Command) bridge.Result
}

type CommandAPI struct {
	Commands Caller
	Timeout  time.Duration
	Logger   *slog.Logger
}

func NewCommandAPI(commands Caller, timeout time.Duration, logger *slog.Logger) *CommandAPI {
	return &CommandAPI{
		Commands: commands,
		Timeout:  timeout,
		Logger:   logger.With("component", "CommandAPI"),
	}
}

type successResponse struct {
	Status string `json:"status"`
	Value  any    `json:"value"`
}

type failureResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type notImplementedResponse struct {
	Status string `json:"status"`
	Method string `json:"method"`
}

// HandleCommand serves POST /api/v1/commands/{method}. The body is the
// arguments object, JSON by default or CBOR by Content-Type.
func (api *CommandAPI) HandleCommand(w http.ResponseWriter, r *http.Request) {
	method := bridge.Method(r.PathValue("method"))
	if method == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing method")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxArgumentBytes))
	if err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	args, err := codec.ForContentType(r.Header.Get("Content-Type")).DecodeArguments(body)
	if err != nil {
		api.Logger.Warn("HandleCommand: argument decode failed", "method", method, "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, "invalid arguments")
		return
	}

	ctx := r.Context()
	if api.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, api.Timeout)
		defer cancel()
	}

	result := api.Commands.Call(ctx, bridge.Command{Method: method, Arguments: args})
	api.Logger.Debug("Command resolved", "method", method, "result", result.Kind.String(), "code", result.Code())

	switch result.Kind {
	case bridge.ResultSuccess:
		writeJSON(w, http.StatusOK, successResponse{Status: "success", Value: result.Value})
	case bridge.ResultNotImplemented:
		writeJSON(w, http.StatusNotImplemented, notImplementedResponse{Status: "not_implemented", Method: string(method)})
	default:
		f := result.Failure
		if f == nil {
			f = bridge.NewFailure(bridge.CodeNativeError, "unknown failure")
		}
		writeJSON(w, http.StatusUnprocessableEntity, failureResponse{
			Status:  "error",
			Code:    f.Code,
			Message: f.Message,
			Details: f.Details,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
