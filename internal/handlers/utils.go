package handlers

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

const maxFormBytes = 1 << 20

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, title, detail string) {
	writeJSON(w, status, ErrorResponse{Title: title, Detail: detail})
}

// formValues returns the url-encoded body merged with the query string.
// net/http only parses bodies of POST, PUT and PATCH requests, so DELETE
// bodies are decoded here.
func formValues(r *http.Request) (url.Values, error) {
	if r.Method != http.MethodDelete {
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		return r.Form, nil
	}

	values := r.URL.Query()
	if r.Body == nil {
		return values, nil
	}
	contentType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if contentType != "application/x-www-form-urlencoded" {
		return values, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxFormBytes))
	if err != nil {
		return nil, err
	}
	parsed, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, err
	}
	for key, vals := range parsed {
		values[key] = append(vals, values[key]...)
	}
	return values, nil
}

// optional returns a pointer to the form value, or nil when the key is absent.
func optional(values url.Values, key string) *string {
	if _, ok := values[key]; !ok {
		return nil
	}
	value := values.Get(key)
	return &value
}

func required(values url.Values, keys ...string) bool {
	for _, key := range keys {
		if strings.TrimSpace(values.Get(key)) == "" {
			return false
		}
	}
	return true
}
