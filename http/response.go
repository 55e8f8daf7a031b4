package http

import (
	"encoding/json"
	"net/http"

	"gopkg.in/yaml.v3"
)

// ── Response ─────────────────────────────────────────────────────────────────

// Response wraps http.ResponseWriter with envelope helpers.
type Response struct {
	w http.ResponseWriter
}

// NewResponse wraps a ResponseWriter.
func NewResponse(w http.ResponseWriter) *Response {
	return &Response{w: w}
}

// ── JSON / YAML responses ─────────────────────────────────────────────────────

// JSON sends a JSON response.
//
//	res.JSON(http.StatusOK, map[string]any{"message": "ok"})
func (res *Response) JSON(status int, data any) {
	res.w.Header().Set("Content-Type", "application/json")
	res.w.WriteHeader(status)
	_ = json.NewEncoder(res.w).Encode(data)
}

// YAML sends a YAML response. Values are encoded through their yaml tags.
func (res *Response) YAML(status int, data any) {
	res.w.Header().Set("Content-Type", "application/yaml")
	res.w.WriteHeader(status)
	enc := yaml.NewEncoder(res.w)
	enc.SetIndent(2)
	_ = enc.Encode(data)
	_ = enc.Close()
}

// Negotiate sends data as YAML when the request asks for it, JSON otherwise.
func (res *Response) Negotiate(req *Request, status int, data any) {
	if req.WantsYAML() {
		res.YAML(status, data)
		return
	}
	res.JSON(status, data)
}

// Success sends 200 JSON: {"data": v}
func (res *Response) Success(v any) {
	res.JSON(http.StatusOK, envelope{"data": v})
}

// Error sends a JSON error response.
//
//	res.Error(http.StatusNotFound, "Resource not found")
func (res *Response) Error(status int, message string) {
	res.JSON(status, envelope{"message": message})
}

// NotFound sends 404.
func (res *Response) NotFound(message ...string) {
	msg := first(message, "Not found.")
	res.JSON(http.StatusNotFound, envelope{"message": msg})
}

// ServerError sends 500.
func (res *Response) ServerError(message ...string) {
	msg := first(message, "Server Error.")
	res.JSON(http.StatusInternalServerError, envelope{"message": msg})
}

// ── Helpers ──────────────────────────────────────────────────────────────────

type envelope map[string]any

func first(ss []string, fallback string) string {
	if len(ss) > 0 && ss[0] != "" {
		return ss[0]
	}
	return fallback
}
