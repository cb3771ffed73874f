package api

import (
	"encoding/json"
	"net/http"

	"codeberg.org/mutker/bmsctl/internal/errors"
)

const (
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrListen        = errors.ErrorCode("api_listen_failed")
	ErrShutdown      = errors.ErrorCode("api_shutdown_failed")
	ErrClientGone    = errors.ErrorCode("api_client_gone")
	ErrEncode        = errors.ErrorCode("api_encode_failed")
)

func init() {
	errors.RegisterMessages(map[errors.ErrorCode]string{
		ErrListen:     "Failed to start HTTP listener",
		ErrShutdown:   "Failed to shut down HTTP server",
		ErrClientGone: "Websocket client disconnected",
		ErrEncode:     "Failed to encode websocket event",
	})
}

// Error is the JSON body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v) //nolint:errcheck // connection may be gone
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}
