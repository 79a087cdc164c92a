package chat

import (
	"time"

	"chatcore/internal/user"
)

type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	IsPrivate bool      `json:"isPrivate"`
	CreatedAt time.Time `json:"-"`
}

// DisplayName prettifies a public room that never got a friendly name.
func (r Room) DisplayName() string {
	if r.IsPrivate || (r.Name != "" && r.Name != r.ID) {
		return r.Name
	}
	prefix := r.ID
	if len(prefix) > 5 {
		prefix = prefix[:5]
	}
	return "Room " + prefix + "..."
}

type Message struct {
	ID        int       `json:"id"`
	Content   string    `json:"content"`
	RoomID    string    `json:"roomId"`
	UserID    int       `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Identity is the public face of a user as shown next to messages and in
// member lists.
type Identity struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Color    string `json:"color"`
	Avatar   string `json:"avatar,omitempty"`
}

func identityOf(u *user.User) Identity {
	return Identity{ID: u.ID, Username: u.Username, Color: u.Color, Avatar: u.Avatar}
}

type MemberView struct {
	Identity
	IsOnline bool `json:"isOnline"`
}

// MessageView is a persisted message together with its author's identity.
type MessageView struct {
	Message
	User Identity `json:"user"`
}

// RoomFilter narrows ListRooms. Zero values mean "any".
type RoomFilter struct {
	MemberID  int
	IsPrivate *bool
}

// RoomUpdate carries the fields to change; nil fields are left alone.
type RoomUpdate struct {
	Name      *string
	IsPrivate *bool
}

func (u RoomUpdate) empty() bool {
	return u.Name == nil && u.IsPrivate == nil
}
