package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/quarkoj/quark"
)

type errorBody struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
	// Message is omitted on errors that carry no extra detail.
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Couldn't encode response", slog.Any("err", err))
	}
}

func returnData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, data)
}

func statusError(w http.ResponseWriter, err error) {
	var serr *quark.StatusError
	if !errors.As(err, &serr) {
		serr = &quark.StatusError{Code: quark.CodeInternal, Text: err.Error()}
	}
	writeJSON(w, serr.Code.HTTPStatus(), errorBody{
		Code:    int(serr.Code),
		Reason:  serr.Code.Reason(),
		Message: serr.Text,
	})
}

func invalidArgument(w http.ResponseWriter, format string, args ...any) {
	statusError(w, quark.Statusf(quark.CodeInvalidArgument, format, args...))
}

// decodeJSON parses a request body, mapping malformed payloads to the
// ERR_INVALID_ARGUMENT body.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		invalidArgument(w, "Invalid request body.")
		return false
	}
	return true
}
