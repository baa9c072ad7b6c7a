package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/chathub/internal/logger"
	"github.com/chathub/internal/middleware"
	"github.com/chathub/internal/registry"
	"github.com/chathub/internal/ws"
	"github.com/gorilla/websocket"
)

type WSHandler struct {
	reg            *registry.Registry
	router         *ws.Router
	opts           ws.Options
	allowedOrigins string
}

// NewWSHandler creates the WebSocket endpoint. allowedOrigins follows CORS
// conventions (comma-separated or "*").
func NewWSHandler(reg *registry.Registry, router *ws.Router, opts ws.Options, allowedOrigins string) *WSHandler {
	return &WSHandler{
		reg:            reg,
		router:         router,
		opts:           opts,
		allowedOrigins: strings.TrimSpace(allowedOrigins),
	}
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigins == "*" || h.allowedOrigins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(h.allowedOrigins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	if identity <= 0 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return h.checkOrigin(r) },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade: %v", err)
		return
	}

	client := ws.NewClient(conn, h.router, h.reg, identity, h.opts)
	id, err := h.reg.Admit(identity, client)
	if err != nil {
		if errors.Is(err, registry.ErrConnectionLimit) {
			logger.Errorf("ws connection limit reached, rejecting user=%d", identity)
		}
		conn.Close()
		return
	}
	client.SetID(id)

	ctx, cancel := context.WithCancel(context.Background())
	client.Start(ctx, cancel)
}
