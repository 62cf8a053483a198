package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/umar/users-api/internal/apperrors"
)

// Result is what an operation produced: either a value to serialize with
// Status, or an error. A nil Value with no error means an empty body.
type Result struct {
	Status int
	Value  any
	Err    *apperrors.AppError
}

func Ok(status int, value any) Result {
	return Result{Status: status, Value: value}
}

func Fail(err *apperrors.AppError) Result {
	return Result{Status: err.HTTPCode, Err: err}
}

func (r Result) IsErr() bool {
	return r.Err != nil
}

// writeResult is the only place a Result becomes wire bytes.
func writeResult(w http.ResponseWriter, res Result) {
	switch {
	case res.Err != nil && apperrors.IsType(res.Err, apperrors.CodeMethodNotAllowed):
		w.Header().Set("Allow", allowedMethods)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(res.Status)
		_, _ = io.WriteString(w, res.Err.Message)
	case res.Err != nil:
		writeError(w, res.Status, res.Err.Message)
	case res.Value == nil:
		w.WriteHeader(res.Status)
	default:
		writeJSON(w, res.Status, res.Value)
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
