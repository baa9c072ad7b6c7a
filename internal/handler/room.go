package handler

import (
	"encoding/json"
	"net/http"

	"github.com/chathub/internal/chat"
	"github.com/chathub/internal/middleware"
	"github.com/chathub/internal/model"
)

type RoomHandler struct {
	rooms    *chat.Rooms
	presence *chat.Presence
	direct   *chat.DirectResolver
}

func NewRoomHandler(rooms *chat.Rooms, presence *chat.Presence, direct *chat.DirectResolver) *RoomHandler {
	return &RoomHandler{rooms: rooms, presence: presence, direct: direct}
}

type createRoomRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Kind        model.RoomKind `json:"kind"`
	Capacity    int            `json:"capacity"`
}

func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	identity := middleware.GetIdentity(r.Context())
	room, err := h.rooms.Create(r.Context(), identity, req.Name, req.Description, req.Kind, req.Capacity)
	if err != nil {
		writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (h *RoomHandler) List(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	rooms, err := h.rooms.RoomsOf(r.Context(), identity)
	if err != nil {
		writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	roomID := pathID(r, "roomID")
	if roomID == 0 {
		writeError(w, http.StatusBadRequest, "invalid room id")
		return
	}
	identity := middleware.GetIdentity(r.Context())
	room, err := h.rooms.Get(r.Context(), identity, roomID)
	if err != nil {
		writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

type updateRoomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Capacity    int    `json:"capacity"`
}

func (h *RoomHandler) Update(w http.ResponseWriter, r *http.Request) {
	roomID := pathID(r, "roomID")
	if roomID == 0 {
		writeError(w, http.StatusBadRequest, "invalid room id")
		return
	}
	var req updateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	identity := middleware.GetIdentity(r.Context())
	room, err := h.rooms.Update(r.Context(), identity, roomID, req.Name, req.Description, req.Capacity)
	if err != nil {
		writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *RoomHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	roomID := pathID(r, "roomID")
	if roomID == 0 {
		writeError(w, http.StatusBadRequest, "invalid room id")
		return
	}
	identity := middleware.GetIdentity(r.Context())
	if err := h.rooms.Deactivate(r.Context(), identity, roomID); err != nil {
		writeChatError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RoomHandler) Join(w http.ResponseWriter, r *http.Request) {
	roomID := pathID(r, "roomID")
	if roomID == 0 {
		writeError(w, http.StatusBadRequest, "invalid room id")
		return
	}
	identity := middleware.GetIdentity(r.Context())
	m, err := h.rooms.Join(r.Context(), identity, roomID)
	if err != nil {
		writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *RoomHandler) Leave(w http.ResponseWriter, r *http.Request) {
	roomID := pathID(r, "roomID")
	if roomID == 0 {
		writeError(w, http.StatusBadRequest, "invalid room id")
		return
	}
	identity := middleware.GetIdentity(r.Context())
	if err := h.rooms.Leave(r.Context(), identity, roomID); err != nil {
		writeChatError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RoomHandler) Members(w http.ResponseWriter, r *http.Request) {
	roomID := pathID(r, "roomID")
	if roomID == 0 {
		writeError(w, http.StatusBadRequest, "invalid room id")
		return
	}
	identity := middleware.GetIdentity(r.Context())
	members, err := h.rooms.Members(r.Context(), identity, roomID)
	if err != nil {
		writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

// Online reports the active members with at least one live connection.
func (h *RoomHandler) Online(w http.ResponseWriter, r *http.Request) {
	roomID := pathID(r, "roomID")
	if roomID == 0 {
		writeError(w, http.StatusBadRequest, "invalid room id")
		return
	}
	identity := middleware.GetIdentity(r.Context())
	// Presence is scoped to members: non-members get the same answer as a
	// missing room.
	if _, err := h.rooms.Members(r.Context(), identity, roomID); err != nil {
		writeChatError(w, err)
		return
	}
	online, err := h.presence.OnlineIn(r.Context(), roomID)
	if err != nil {
		writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, online)
}

type inviteRequest struct {
	UserID int64 `json:"user_id"`
}

func (h *RoomHandler) Invite(w http.ResponseWriter, r *http.Request) {
	roomID := pathID(r, "roomID")
	if roomID == 0 {
		writeError(w, http.StatusBadRequest, "invalid room id")
		return
	}
	var req inviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	identity := middleware.GetIdentity(r.Context())
	if err := h.rooms.Invite(r.Context(), identity, roomID, req.UserID); err != nil {
		writeChatError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type directRequest struct {
	UserID int64 `json:"user_id"`
}

// Direct resolves the room for a two-party conversation, creating it on
// first use. The same pair always maps to the same room.
func (h *RoomHandler) Direct(w http.ResponseWriter, r *http.Request) {
	var req directRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	identity := middleware.GetIdentity(r.Context())
	roomID, err := h.direct.Resolve(r.Context(), identity, req.UserID)
	if err != nil {
		writeChatError(w, err)
		return
	}
	room, err := h.rooms.Get(r.Context(), identity, roomID)
	if err != nil {
		writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}
