package handler

import (
	"encoding/json"
	"net/http"

	"github.com/chathub/internal/chat"
	"github.com/chathub/internal/middleware"
	"github.com/chathub/internal/model"
)

type MessageHandler struct {
	messages *chat.Messages
}

func NewMessageHandler(messages *chat.Messages) *MessageHandler {
	return &MessageHandler{messages: messages}
}

// List returns room history. Without before_id it serves the recent window
// (cache-backed); with before_id it pages durable history.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	roomID := pathID(r, "roomID")
	if roomID == 0 {
		writeError(w, http.StatusBadRequest, "invalid room id")
		return
	}
	identity := middleware.GetIdentity(r.Context())
	limit := queryInt(r, "limit", 50)
	beforeID := queryInt64(r, "before_id", 0)

	var (
		msgs []model.Message
		err  error
	)
	if beforeID > 0 {
		msgs, err = h.messages.Backfill(r.Context(), identity, roomID, beforeID, limit)
	} else {
		msgs, err = h.messages.Recent(r.Context(), identity, roomID, limit)
	}
	if err != nil {
		writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type sendMessageRequest struct {
	Content   string            `json:"content"`
	Kind      model.MessageKind `json:"kind"`
	ReplyToID *int64            `json:"reply_to_id"`
}

// Send is the REST twin of the send_message frame, for clients without a
// live socket.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	roomID := pathID(r, "roomID")
	if roomID == 0 {
		writeError(w, http.StatusBadRequest, "invalid room id")
		return
	}
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	identity := middleware.GetIdentity(r.Context())
	msg, err := h.messages.Send(r.Context(), identity, roomID, req.Content, req.Kind, req.ReplyToID)
	if err != nil {
		writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

type editMessageRequest struct {
	Content string `json:"content"`
}

func (h *MessageHandler) Edit(w http.ResponseWriter, r *http.Request) {
	messageID := pathID(r, "messageID")
	if messageID == 0 {
		writeError(w, http.StatusBadRequest, "invalid message id")
		return
	}
	var req editMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	identity := middleware.GetIdentity(r.Context())
	msg, err := h.messages.Edit(r.Context(), identity, messageID, req.Content)
	if err != nil {
		writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	messageID := pathID(r, "messageID")
	if messageID == 0 {
		writeError(w, http.StatusBadRequest, "invalid message id")
		return
	}
	identity := middleware.GetIdentity(r.Context())
	if err := h.messages.Delete(r.Context(), identity, messageID); err != nil {
		writeChatError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MessageHandler) Reactions(w http.ResponseWriter, r *http.Request) {
	messageID := pathID(r, "messageID")
	if messageID == 0 {
		writeError(w, http.StatusBadRequest, "invalid message id")
		return
	}
	identity := middleware.GetIdentity(r.Context())
	reactions, err := h.messages.Reactions(r.Context(), identity, messageID)
	if err != nil {
		writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reactions)
}
