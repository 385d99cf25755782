package handle

import (
	"encoding/json"
	"errors"
	"net/http"

	"kitchen-ledger/internal/order/app/core"
	"kitchen-ledger/internal/xpkg/logger"
)

// jsonResponse writes data as a JSON-encoded HTTP response with the given status code.
func jsonResponse(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

// jsonError writes an error response as JSON with the specified HTTP status code.
func jsonError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err == nil {
		return
	}
	body := map[string]interface{}{
		"error": err.Error(),
		"code":  code,
	}
	if reason := core.ReasonOf(err); reason != "" {
		body["reason"] = reason
	}
	_ = json.NewEncoder(w).Encode(body)
}

// statusOf maps an error kind to its HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidTransition), errors.Is(err, core.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, core.ErrTransientStore), errors.Is(err, core.ErrMaxConcurentExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// serviceError writes err with its mapped status. Internal details of
// unexpected errors are logged, not returned.
func serviceError(w http.ResponseWriter, mylog logger.Logger, err error) {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		mylog.Error("Request failed", err)
		if !errors.Is(err, core.ErrInvariantViolation) {
			err = errors.New("internal error")
		}
	}
	jsonError(w, code, err)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return core.Validation(core.ReasonInvalidJSON, "failed to parse JSON: %v", err)
	}
	return nil
}
