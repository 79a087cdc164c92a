package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"chatcore/internal/user"
)

// Repository is the Postgres Store.
type Repository struct {
	db    *sql.DB
	users *user.Repository
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, users: user.NewRepository(db)}
}

func persistErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

func (r *Repository) FindUser(ctx context.Context, id int) (*user.User, error) {
	u, err := r.users.GetUserByID(ctx, id)
	if errors.Is(err, user.ErrUserNotFound) {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, persistErr("find user", err)
	}
	return u, nil
}

const roomColumns = "id, name, is_private, created_at"

func scanRoom(row interface{ Scan(...any) error }) (*Room, error) {
	room := &Room{}
	if err := row.Scan(&room.ID, &room.Name, &room.IsPrivate, &room.CreatedAt); err != nil {
		return nil, err
	}
	return room, nil
}

func (r *Repository) FindRoom(ctx context.Context, id string) (*Room, error) {
	query := "SELECT " + roomColumns + " FROM rooms WHERE id = $1"
	room, err := scanRoom(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("room %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, persistErr("find room", err)
	}
	return room, nil
}

func (r *Repository) CreateRoom(ctx context.Context, room Room) (*Room, error) {
	query := "INSERT INTO rooms (id, name, is_private) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING"
	if _, err := r.db.ExecContext(ctx, query, room.ID, room.Name, room.IsPrivate); err != nil {
		return nil, persistErr("create room", err)
	}
	return r.FindRoom(ctx, room.ID)
}

func (r *Repository) UpdateRoom(ctx context.Context, id string, upd RoomUpdate) (*Room, error) {
	var name sql.NullString
	var isPrivate sql.NullBool
	if upd.Name != nil {
		name = sql.NullString{String: *upd.Name, Valid: true}
	}
	if upd.IsPrivate != nil {
		isPrivate = sql.NullBool{Bool: *upd.IsPrivate, Valid: true}
	}

	query := `
		UPDATE rooms
		SET name = COALESCE($2, name), is_private = COALESCE($3, is_private)
		WHERE id = $1
		RETURNING ` + roomColumns
	room, err := scanRoom(r.db.QueryRowContext(ctx, query, id, name, isPrivate))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("room %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, persistErr("update room", err)
	}
	return room, nil
}

func (r *Repository) ListRooms(ctx context.Context, filter RoomFilter) ([]*Room, error) {
	var (
		from  = "rooms r"
		where []string
		args  []any
	)
	if filter.MemberID != 0 {
		args = append(args, filter.MemberID)
		from += fmt.Sprintf(" JOIN room_members m ON m.room_id = r.id AND m.user_id = $%d", len(args))
	}
	if filter.IsPrivate != nil {
		args = append(args, *filter.IsPrivate)
		where = append(where, fmt.Sprintf("r.is_private = $%d", len(args)))
	}

	query := "SELECT r.id, r.name, r.is_private, r.created_at FROM " + from
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY r.name ASC, r.id ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr("list rooms", err)
	}
	defer rows.Close()

	var rooms []*Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, persistErr("list rooms", err)
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list rooms", err)
	}
	return rooms, nil
}

func (r *Repository) UpsertMembership(ctx context.Context, userID int, roomID string) error {
	query := "INSERT INTO room_members (user_id, room_id) VALUES ($1, $2) ON CONFLICT DO NOTHING"
	if _, err := r.db.ExecContext(ctx, query, userID, roomID); err != nil {
		return persistErr("upsert membership", err)
	}
	return nil
}

func (r *Repository) CreateMessage(ctx context.Context, msg Message) (*Message, error) {
	query := "INSERT INTO messages (content, room_id, user_id) VALUES ($1, $2, $3) RETURNING id, created_at"
	err := r.db.QueryRowContext(ctx, query, msg.Content, msg.RoomID, msg.UserID).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return nil, persistErr("create message", err)
	}
	return &msg, nil
}

func (r *Repository) ListMessages(ctx context.Context, roomID string, limit int) ([]*Message, error) {
	query := `
		SELECT id, content, room_id, user_id, created_at
		FROM messages
		WHERE room_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, roomID, limit)
	if err != nil {
		return nil, persistErr("list messages", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg := &Message{}
		if err := rows.Scan(&msg.ID, &msg.Content, &msg.RoomID, &msg.UserID, &msg.CreatedAt); err != nil {
			return nil, persistErr("list messages", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list messages", err)
	}
	return messages, nil
}
