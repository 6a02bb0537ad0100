package server

import (
	"encoding/json"
	"net/http"

	"github.com/converge-vcs/converge/cerr"
)

// errorEnvelope is the JSON body served for every failed request.
type errorEnvelope struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Detail any    `json:"detail,omitempty"`
}

// serveError translates a core error to its HTTP status and a JSON body.
func serveError(w http.ResponseWriter, err error) {
	code := cerr.CodeOf(err)
	env := errorEnvelope{Error: err.Error(), Code: string(code)}
	var ce *cerr.Error
	if e, ok := err.(*cerr.Error); ok {
		ce = e
	}
	if ce != nil {
		env.Detail = ce.Detail
	}
	serveJSON(w, code.HTTPStatus(), env)
}

func serveJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Encode errors past this point cannot be reported to the client; the
	// status line is already written.
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return cerr.New(cerr.InvalidInput, "decode request body: %v", err)
	}
	return nil
}
