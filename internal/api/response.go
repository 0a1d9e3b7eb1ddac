package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/lzjever/ledgerseal/internal/core"
	"github.com/lzjever/ledgerseal/internal/sealerclient"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes an error response.
func WriteError(w http.ResponseWriter, err *core.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Code.HTTPStatus())
	json.NewEncoder(w).Encode(ErrorResponse{
		Code:    string(err.Code),
		Message: err.Message,
	})
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ToAppError classifies a domain error. Anything unrecognised is internal
// and its message is not exposed.
func ToAppError(err error) *core.AppError {
	var appErr *core.AppError
	var valErr *core.ValidationError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.As(err, &valErr):
		return core.NewAppError(core.ErrBadRequest, valErr.Error())
	case errors.Is(err, core.ErrRecordNotFound):
		return core.NewAppError(core.ErrNotFound, "not found")
	case errors.Is(err, core.ErrIdempotencyConflict):
		return core.NewAppError(core.ErrConflictIdempotent, err.Error())
	case errors.Is(err, core.ErrChainConflict):
		return core.NewAppError(core.ErrConflictChain, "chain tail moved, retry the append")
	case errors.Is(err, core.ErrAppendOnly):
		return core.NewAppError(core.ErrImmutable, "record is append-only")
	case errors.Is(err, sealerclient.ErrTimeout):
		return core.NewAppError(core.ErrSealerTimeout, "seal service timed out")
	case errors.Is(err, sealerclient.ErrUnavailable):
		return core.NewAppError(core.ErrSealerError, "seal service unavailable")
	default:
		return core.NewAppError(core.ErrInternal, "internal error")
	}
}

// fail writes err and logs it when it is a server-side failure.
func (a *API) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	appErr := ToAppError(err)
	if appErr.Code.HTTPStatus() >= http.StatusInternalServerError {
		a.log.Error(op+" failed",
			zap.Error(err),
			zap.String("path", r.URL.Path),
		)
	}
	WriteError(w, appErr)
}

// readBody reads a request body up to the configured limit.
func (a *API) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, core.NewAppError(core.ErrBadRequest, "request body too large"))
			return nil, false
		}
		WriteError(w, core.NewAppError(core.ErrBadRequest, "failed to read request body"))
		return nil, false
	}
	return body, true
}

// decodeBody reads and unmarshals a JSON request body into v. An empty body
// leaves v untouched.
func (a *API) decodeBody(w http.ResponseWriter, r *http.Request, v any) ([]byte, bool) {
	body, ok := a.readBody(w, r)
	if !ok {
		return nil, false
	}
	if len(body) == 0 {
		return body, true
	}
	if err := json.Unmarshal(body, v); err != nil {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "invalid JSON body"))
		return nil, false
	}
	return body, true
}

func parseLimit(s string, defaultVal, maxVal int) int {
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return defaultVal
	}
	if n > maxVal {
		return maxVal
	}
	return n
}
