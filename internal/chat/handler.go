package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	myMiddleware "chatcore/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

type Handler struct {
	coord          *Coordinator
	upgrader       websocket.Upgrader
	allowedOrigins map[string]struct{}
	maxMessageSize int64
	// baseCtx outlives the upgrade request; read pumps dispatch under it.
	baseCtx context.Context
}

func NewHandler(ctx context.Context, coord *Coordinator, allowedOrigins []string, maxMessageSize int64) *Handler {
	h := &Handler{
		coord:          coord,
		allowedOrigins: make(map[string]struct{}, len(allowedOrigins)),
		maxMessageSize: maxMessageSize,
		baseCtx:        ctx,
	}
	for _, o := range allowedOrigins {
		h.allowedOrigins[strings.TrimSuffix(o, "/")] = struct{}{}
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin accepts same-host requests, non-browser clients that send
// no Origin, and the configured origins.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if _, ok := h.allowedOrigins["*"]; ok {
		return true
	}
	if _, ok := h.allowedOrigins[strings.TrimSuffix(origin, "/")]; ok {
		return true
	}
	if strings.TrimPrefix(strings.TrimPrefix(origin, "http://"), "https://") == r.Host {
		return true
	}
	log.Printf("[ws] blocked connection from origin %q", origin)
	return false
}

// ServeWs upgrades the request and authenticates inline: a bad token gets
// an error event and a closed socket rather than an HTTP 401.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade: %v", err)
		return
	}

	client := newClient(h.coord, conn, h.maxMessageSize)
	go client.WritePump()

	if err := h.coord.Connect(r.Context(), client, myMiddleware.TokenFromRequest(r)); err != nil {
		log.Printf("[ws] %s rejected: %v", client.ID(), err)
		return
	}
	go client.ReadPump(h.baseCtx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrAuthorization):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		log.Printf("[directory] request failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// ListRooms returns the public rooms plus the caller's private rooms.
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	userID, ok := myMiddleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	rooms, err := h.coord.Directory().RoomsFor(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

// GetHistory returns recent messages of a room, oldest first.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := myMiddleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	roomID := CanonicalRoomID(chi.URLParam(r, "roomID"))
	if err := ValidateRoomID(roomID); err != nil {
		writeError(w, err)
		return
	}
	if err := CanAccess(userID, roomID); err != nil {
		writeError(w, err)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	msgs, err := h.coord.History(r.Context(), roomID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}
