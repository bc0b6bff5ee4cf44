package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"kiromemory/internal/apperr"
	"kiromemory/internal/logging"
)

// errorBody is the wire shape of every failed request.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Get(logging.CategoryHTTP).Warnw("response encode failed", "error", err)
	}
}

// writeError maps the error kind to a status and emits the sanitized public
// message. Raw causes go to the log, never to the wire.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status >= 500 {
		logging.WithRequestID(logging.CategoryHTTP, RequestIDFrom(r)).
			Errorw("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorBody{
		Error: apperr.PublicMessage(err),
		Kind:  apperr.KindOf(err).String(),
	})
}

// decodeJSON fills dst from the request body. Oversized bodies surface as a
// validation error so the cap reads as a client fault, not a worker one.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &tooBig):
			return apperr.Validationf("request body exceeds %d bytes", tooBig.Limit)
		case errors.Is(err, io.EOF):
			return apperr.Validationf("request body is required")
		default:
			return apperr.Wrap(apperr.KindValidation, "malformed JSON body", err)
		}
	}
	return nil
}

// queryInt parses an integer query parameter, falling back when absent or
// unparseable.
func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
