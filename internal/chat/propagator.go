package chat

import (
	"context"
	"log"

	"chatcore/internal/events"
)

// ColorChanged pushes a new color to every live session of userID and
// refreshes the member lists of the rooms those sessions are in.
func (c *Coordinator) ColorChanged(ctx context.Context, userID int, username, color string) {
	sessions := c.hub.UpdateIdentity(userID, func(id *Identity) { id.Color = color })
	if username == "" && len(sessions) > 0 {
		username = sessions[0].Username
	}

	c.hub.Broadcast(EventUserColorChanged, colorChangedPayload{UserID: userID, Username: username, Color: color}, "")
	c.refreshRooms(ctx, roomsOf(sessions))
}

// AvatarChanged is ColorChanged for avatars, except it also refreshes the
// user's private rooms that are open somewhere, even when the user is
// offline.
func (c *Coordinator) AvatarChanged(ctx context.Context, userID int, username, avatar string) {
	sessions := c.hub.UpdateIdentity(userID, func(id *Identity) { id.Avatar = avatar })
	if username == "" && len(sessions) > 0 {
		username = sessions[0].Username
	}

	c.hub.Broadcast(EventUserAvatarChanged, avatarChangedPayload{UserID: userID, Username: username, Avatar: avatar}, "")

	rooms := roomsOf(sessions)
	for _, roomID := range c.hub.ActiveRooms() {
		if IsPrivateRoomID(roomID) && CanAccess(userID, roomID) == nil {
			rooms[roomID] = struct{}{}
		}
	}
	c.refreshRooms(ctx, rooms)
}

// HandleProfileChange applies one change received from the bus.
func (c *Coordinator) HandleProfileChange(ctx context.Context, change events.ProfileChange) {
	if err := change.Validate(); err != nil {
		log.Printf("[profile] ignoring change: %v", err)
		return
	}
	switch change.Kind {
	case events.ColorChanged:
		c.ColorChanged(ctx, change.UserID, change.Username, change.Value)
	case events.AvatarChanged:
		c.AvatarChanged(ctx, change.UserID, change.Username, change.Value)
	}
}

// ListenProfileChanges drains changes until the channel closes or ctx is
// done.
func (c *Coordinator) ListenProfileChanges(ctx context.Context, changes <-chan events.ProfileChange) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			c.HandleProfileChange(ctx, change)
		}
	}
}

func roomsOf(sessions []SessionInfo) map[string]struct{} {
	rooms := make(map[string]struct{})
	for _, s := range sessions {
		for _, id := range s.Rooms {
			rooms[id] = struct{}{}
		}
	}
	return rooms
}

func (c *Coordinator) refreshRooms(ctx context.Context, rooms map[string]struct{}) {
	for roomID := range rooms {
		c.broadcastMembers(ctx, roomID)
	}
}
