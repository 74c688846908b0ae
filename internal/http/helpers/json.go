// Package helpers holds the small response/request utilities shared by the
// controllers.
package helpers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bastionlabs/bastion/internal/oauth"
)

// WriteJSON writes v as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteOAuthError writes a protocol error with its RFC 6749 status. An
// invalid_client rejection carries WWW-Authenticate per §5.2 since the
// client may retry with Basic credentials.
func WriteOAuthError(w http.ResponseWriter, err error) {
	oe := oauth.AsError(err)
	if oe.Code == oauth.CodeInvalidClient {
		w.Header().Set("WWW-Authenticate", `Basic realm="oauth2"`)
	}
	WriteJSON(w, oe.Status(), oe)
}

// ReadJSON decodes a JSON body, tolerating unknown fields, with a 1MB cap.
func ReadJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := strings.ToLower(r.Header.Get("Content-Type"))
	if !strings.Contains(ct, "application/json") {
		WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request", "error_description": "Content-Type must be application/json"})
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && err != io.EOF {
		WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request", "error_description": "malformed JSON body"})
		return false
	}
	return true
}

// FormValue returns the trimmed form field. ParseForm must already have
// run (PostFormValue triggers it).
func FormValue(r *http.Request, name string) string {
	return strings.TrimSpace(r.PostFormValue(name))
}

// ParseBody populates r.PostForm from the request body, accepting both
// application/x-www-form-urlencoded and a flat JSON object, so the token,
// revoke and introspect endpoints take either encoding.
func ParseBody(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	ct := strings.ToLower(r.Header.Get("Content-Type"))
	if !strings.Contains(ct, "application/json") {
		return r.ParseForm()
	}
	defer r.Body.Close()
	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil && err != io.EOF {
		return err
	}
	form := make(url.Values, len(fields))
	for k, v := range fields {
		switch t := v.(type) {
		case string:
			form.Set(k, t)
		case float64:
			form.Set(k, strconv.FormatFloat(t, 'f', -1, 64))
		case bool:
			form.Set(k, strconv.FormatBool(t))
		}
	}
	r.PostForm = form
	if r.Form == nil {
		r.Form = form
	}
	return nil
}
