package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/chathub/internal/chat"
	"github.com/chathub/internal/logger"
	"github.com/go-chi/chi/v5"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeChatError maps a chat failure kind onto an HTTP status. Storage
// errors stay opaque.
func writeChatError(w http.ResponseWriter, err error) {
	var ce *chat.Error
	if !errors.As(err, &ce) {
		logger.Errorf("handler: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	status := http.StatusInternalServerError
	switch ce.Kind {
	case chat.KindUnauthenticated:
		status = http.StatusUnauthorized
	case chat.KindNotAMember, chat.KindPrivateRoomDenied, chat.KindForbidden:
		status = http.StatusForbidden
	case chat.KindRoomNotFound, chat.KindNotFound:
		status = http.StatusNotFound
	case chat.KindRoomFull:
		status = http.StatusConflict
	case chat.KindInvalidName, chat.KindInvalidContent, chat.KindInvalidReply, chat.KindInvalidPair:
		status = http.StatusBadRequest
	}
	writeJSON(w, status, errorResponse{Error: ce.Msg, Kind: string(ce.Kind)})
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func queryInt64(r *http.Request, key string, defaultVal int64) int64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return n
}

// pathID parses a numeric chi URL parameter; 0 means missing or malformed.
func pathID(r *http.Request, key string) int64 {
	n, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
