package chat

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Outbound event names.
const (
	EventConnected           = "connected"
	EventError               = "error"
	EventRoomList            = "roomList"
	EventUserJoined          = "userJoined"
	EventUserJoinedRoom      = "userJoinedRoom"
	EventUserLeftRoom        = "userLeftRoom"
	EventUserDisconnected    = "userDisconnected"
	EventOnlineStatusChanged = "onlineStatusChanged"
	EventRoomHistory         = "roomHistory"
	EventRoomUserList        = "roomUserList"
	EventNewMessage          = "newMessage"
	EventTyping              = "typing"
	EventRoomCreated         = "roomCreated"
	EventRoomCreationError   = "roomCreationError"
	EventUserColorChanged    = "userColorChanged"
	EventUserAvatarChanged   = "userAvatarChanged"
)

const maxContentLen = 500

// Envelope is the JSON frame exchanged on the socket.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func encodeEvent(name string, data any) ([]byte, error) {
	return json.Marshal(Envelope{Event: name, Data: data})
}

type connectedPayload struct {
	User Identity `json:"user"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type roomListPayload struct {
	Rooms []Room `json:"rooms"`
}

type userJoinedPayload struct {
	User Identity `json:"user"`
}

type userJoinedRoomPayload struct {
	User   Identity `json:"user"`
	RoomID string   `json:"roomId"`
}

type userLeftRoomPayload struct {
	UserID   int    `json:"userId"`
	Username string `json:"username"`
	RoomID   string `json:"roomId"`
}

type userDisconnectedPayload struct {
	UserID   int    `json:"userId"`
	Username string `json:"username"`
}

type onlineStatusPayload struct {
	UserID   int    `json:"userId"`
	Username string `json:"username"`
	IsOnline bool   `json:"isOnline"`
}

type roomHistoryPayload struct {
	Messages []MessageView `json:"messages"`
	Users    []MemberView  `json:"users"`
	RoomID   string        `json:"roomId"`
}

type roomUserListPayload struct {
	Users  []MemberView `json:"users"`
	RoomID string       `json:"roomId"`
}

type typingPayload struct {
	UserID   int      `json:"userId"`
	Username string   `json:"username"`
	IsTyping bool     `json:"isTyping"`
	RoomID   string   `json:"roomId"`
	User     Identity `json:"user"`
}

type roomCreatedPayload struct {
	RoomID    string   `json:"roomId"`
	RoomName  string   `json:"roomName"`
	IsPrivate bool     `json:"isPrivate"`
	CreatedBy Identity `json:"createdBy"`
}

type roomCreationErrorPayload struct {
	RoomID   string `json:"roomId"`
	RoomName string `json:"roomName"`
	Message  string `json:"message"`
}

type colorChangedPayload struct {
	UserID   int    `json:"userId"`
	Username string `json:"username"`
	Color    string `json:"color"`
}

type avatarChangedPayload struct {
	UserID   int    `json:"userId"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// ActionKind is a normalized inbound event.
type ActionKind string

const (
	ActionJoin       ActionKind = "join"
	ActionLeave      ActionKind = "leave"
	ActionSend       ActionKind = "send"
	ActionTyping     ActionKind = "typing"
	ActionCreateRoom ActionKind = "createRoom"
)

var actionNames = map[string]ActionKind{
	"join":        ActionJoin,
	"joinRoom":    ActionJoin,
	"leave":       ActionLeave,
	"leaveRoom":   ActionLeave,
	"send":        ActionSend,
	"sendMessage": ActionSend,
	"typing":      ActionTyping,
	"createRoom":  ActionCreateRoom,
}

// Action is the single internal shape every inbound frame is mapped to.
type Action struct {
	Kind      ActionKind
	RoomID    string
	Content   string
	RoomName  string
	IsPrivate bool
	IsTyping  bool
	// TargetUserID lets a client open a private room by naming the other
	// participant instead of the room id.
	TargetUserID int
}

var (
	roomIDKeys   = []string{"roomId", "room_id", "room"}
	contentKeys  = []string{"content", "message", "text"}
	roomNameKeys = []string{"roomName", "room_name", "name"}
	privateKeys  = []string{"isPrivate", "is_private", "private"}
	typingKeys   = []string{"isTyping", "is_typing", "typing"}
	targetKeys   = []string{"targetUserId", "target_user_id", "otherUserId", "userId", "user_id"}
)

// ParseAction normalizes a raw frame. Kind is set whenever the event name
// was recognized, even if the payload is invalid, so callers can answer
// with the right error event.
func ParseAction(raw []byte) (Action, error) {
	var env struct {
		Event string          `json:"event"`
		Type  string          `json:"type"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return Action{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	name := env.Event
	if name == "" {
		name = env.Type
	}
	kind, ok := actionNames[name]
	if !ok {
		return Action{}, fmt.Errorf("%w: unknown event %q", ErrValidation, name)
	}
	a := Action{Kind: kind}

	// Older clients put the fields next to the event name.
	src := []byte(env.Data)
	if len(src) == 0 || string(src) == "null" {
		src = raw
	}
	fields := map[string]any{}
	if err := json.Unmarshal(src, &fields); err != nil {
		return a, fmt.Errorf("%w: %s payload: %v", ErrValidation, name, err)
	}

	a.RoomID = strings.TrimSpace(stringField(fields, roomIDKeys...))
	a.Content = strings.TrimSpace(stringField(fields, contentKeys...))
	a.RoomName = strings.TrimSpace(stringField(fields, roomNameKeys...))
	a.IsPrivate = boolField(fields, privateKeys...)
	a.IsTyping = boolField(fields, typingKeys...)
	a.TargetUserID = intField(fields, targetKeys...)

	switch kind {
	case ActionJoin, ActionLeave, ActionTyping:
		if a.RoomID == "" {
			return a, fmt.Errorf("%w: %s requires a room id", ErrValidation, kind)
		}
	case ActionSend:
		if a.RoomID == "" {
			return a, fmt.Errorf("%w: send requires a room id", ErrValidation)
		}
		if err := validateContent(a.Content); err != nil {
			return a, err
		}
	case ActionCreateRoom:
		if a.IsPrivate && a.RoomID == "" && a.TargetUserID == 0 {
			return a, fmt.Errorf("%w: private room requires a room id or a target user", ErrValidation)
		}
	}
	return a, nil
}

func validateContent(content string) error {
	switch {
	case content == "":
		return fmt.Errorf("%w: message is empty", ErrValidation)
	case len([]rune(content)) > maxContentLen:
		return fmt.Errorf("%w: message exceeds %d characters", ErrValidation, maxContentLen)
	}
	return nil
}

func stringField(fields map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := fields[k].(type) {
		case string:
			return v
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func boolField(fields map[string]any, keys ...string) bool {
	for _, k := range keys {
		switch v := fields[k].(type) {
		case bool:
			return v
		case string:
			b, err := strconv.ParseBool(v)
			if err == nil {
				return b
			}
		case float64:
			return v != 0
		}
	}
	return false
}

func intField(fields map[string]any, keys ...string) int {
	for _, k := range keys {
		switch v := fields[k].(type) {
		case float64:
			return int(v)
		case string:
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
	}
	return 0
}
