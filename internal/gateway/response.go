package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	qerrors "github.com/conduit-lang/namedquery/internal/query/errors"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Query   string `json:"query,omitempty"`
}

func renderJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func renderError(w http.ResponseWriter, status int, code string, err error) {
	renderJSON(w, status, &ErrorResponse{Error: code, Message: err.Error()})
}

// renderQueryError maps an engine failure onto an HTTP status
func renderQueryError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind, ok := qerrors.KindOf(err)
	if ok {
		switch kind {
		case qerrors.NotFound:
			status = http.StatusNotFound
		case qerrors.Conversion:
			status = http.StatusBadRequest
		}
	}

	resp := &ErrorResponse{Error: "internal_error", Message: err.Error()}
	if ok {
		resp.Error = kind.String()
	}
	var qerr *qerrors.Error
	if errors.As(err, &qerr) {
		resp.Query = qerr.Query
	}
	renderJSON(w, status, resp)
}
