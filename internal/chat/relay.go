package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
)

const unknownUsername = "Unknown user"

// Send persists a message and broadcasts it to the room, sender included.
// The author identity comes from the live session, not the store.
func (c *Coordinator) Send(ctx context.Context, connID, roomID, content string) error {
	s, ok := c.hub.Session(connID)
	if !ok {
		return nil
	}
	roomID = CanonicalRoomID(roomID)
	content = strings.TrimSpace(content)

	fail := func(err error) error {
		c.hub.SendTo(connID, EventError, errorPayload{Message: clientMessage(err)})
		return err
	}

	if err := validateContent(content); err != nil {
		return fail(err)
	}
	if err := ValidateRoomID(roomID); err != nil {
		return fail(err)
	}
	if err := CanAccess(s.ID, roomID); err != nil {
		return fail(err)
	}
	if _, err := c.store.FindRoom(ctx, roomID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fail(fmt.Errorf("%w: room %s", ErrNotFound, roomID))
		}
		return fail(err)
	}

	msg, err := c.store.CreateMessage(ctx, Message{Content: content, RoomID: roomID, UserID: s.ID})
	if err != nil {
		return fail(err)
	}

	// Pick up a color or avatar change that landed while persisting.
	author := s.Identity
	if current, ok := c.hub.Session(connID); ok {
		author = current.Identity
	}

	c.hub.SendToRoom(roomID, EventNewMessage, MessageView{Message: *msg, User: author}, "")
	return nil
}

// History returns up to limit recent messages of roomID in chronological
// order, each with its author's current stored identity.
func (c *Coordinator) History(ctx context.Context, roomID string, limit int) ([]MessageView, error) {
	if limit <= 0 || limit > c.historyLimit {
		limit = c.historyLimit
	}
	msgs, err := c.store.ListMessages(ctx, roomID, limit)
	if err != nil {
		return nil, err
	}

	authors := make(map[int]Identity)
	out := make([]MessageView, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		msg := msgs[i]
		author, ok := authors[msg.UserID]
		if !ok {
			author = c.authorOf(ctx, msg.UserID)
			authors[msg.UserID] = author
		}
		out = append(out, MessageView{Message: *msg, User: author})
	}
	return out, nil
}

func (c *Coordinator) authorOf(ctx context.Context, userID int) Identity {
	u, err := c.store.FindUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Printf("[relay] author %d: %v", userID, err)
		}
		return Identity{ID: userID, Username: unknownUsername}
	}
	return identityOf(u)
}
