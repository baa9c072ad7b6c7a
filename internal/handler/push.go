package handler

import (
	"encoding/json"
	"net/http"

	"github.com/chathub/internal/logger"
	"github.com/chathub/internal/middleware"
	"github.com/chathub/internal/model"
	"github.com/chathub/internal/push"
)

type PushHandler struct {
	subs        push.SubStore
	vapidPublic string
}

func NewPushHandler(subs push.SubStore, vapidPublic string) *PushHandler {
	return &PushHandler{subs: subs, vapidPublic: vapidPublic}
}

func (h *PushHandler) VAPIDPublic(w http.ResponseWriter, r *http.Request) {
	if h.vapidPublic == "" {
		http.Error(w, "push not configured", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(h.vapidPublic))
}

type subscribeRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Endpoint == "" || req.Keys.P256dh == "" || req.Keys.Auth == "" {
		writeError(w, http.StatusBadRequest, "endpoint, keys.p256dh and keys.auth required")
		return
	}
	identity := middleware.GetIdentity(r.Context())
	sub := &model.PushSubscription{
		UserID:   identity,
		Endpoint: req.Endpoint,
		P256dh:   req.Keys.P256dh,
		Auth:     req.Keys.Auth,
	}
	if err := h.subs.Save(r.Context(), sub); err != nil {
		logger.Errorf("push subscribe user=%d: %v", identity, err)
		writeError(w, http.StatusInternalServerError, "failed to save subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req unsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint required")
		return
	}
	identity := middleware.GetIdentity(r.Context())
	if err := h.subs.Delete(r.Context(), identity, req.Endpoint); err != nil {
		logger.Errorf("push unsubscribe user=%d: %v", identity, err)
		writeError(w, http.StatusInternalServerError, "failed to delete subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
