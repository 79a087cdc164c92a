package chat

import (
	"context"

	"chatcore/internal/user"
)

// Store is the durable side of the chat core. Implementations return
// ErrNotFound for missing rows and wrap driver failures with ErrPersistence.
type Store interface {
	FindUser(ctx context.Context, id int) (*user.User, error)

	FindRoom(ctx context.Context, id string) (*Room, error)
	// CreateRoom returns the stored row. If the id already exists the
	// existing row wins.
	CreateRoom(ctx context.Context, room Room) (*Room, error)
	UpdateRoom(ctx context.Context, id string, upd RoomUpdate) (*Room, error)
	// ListRooms orders by name.
	ListRooms(ctx context.Context, filter RoomFilter) ([]*Room, error)

	// UpsertMembership is idempotent.
	UpsertMembership(ctx context.Context, userID int, roomID string) error

	CreateMessage(ctx context.Context, msg Message) (*Message, error)
	// ListMessages returns up to limit messages, newest first.
	ListMessages(ctx context.Context, roomID string, limit int) ([]*Message, error)
}
