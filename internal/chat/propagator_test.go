package chat

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"chatcore/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropagator_ColorChanged(t *testing.T) {
	ctx := context.Background()
	coord, store := newTestCoordinator(t)
	store.addUser(1, "ann", "#111111")
	store.addUser(2, "bob", "#222222")
	store.addUser(3, "cy", "#333333")
	a := connect(t, coord, "c1", 1)
	b := connect(t, coord, "c2", 2)
	c := connect(t, coord, "c3", 3)
	require.NoError(t, coord.Join(ctx, "c1", "lobby"))
	require.NoError(t, coord.Join(ctx, "c2", "lobby"))
	a.reset()
	b.reset()
	c.reset()

	coord.ColorChanged(ctx, 1, "ann", "#abcdef")

	for _, conn := range []*fakeConn{a, b, c} {
		var changed colorChangedPayload
		lastAs(t, conn, EventUserColorChanged, &changed)
		assert.Equal(t, colorChangedPayload{UserID: 1, Username: "ann", Color: "#abcdef"}, changed)
	}

	// lobby members see the new color without rejoining.
	lists := b.named(EventRoomUserList)
	require.Len(t, lists, 2)
	seen := map[string]bool{}
	for _, raw := range lists {
		var list roomUserListPayload
		require.NoError(t, json.Unmarshal(raw, &list))
		seen[list.RoomID] = true
		for _, m := range list.Users {
			if m.ID == 1 {
				assert.Equal(t, "#abcdef", m.Color)
			}
		}
	}
	assert.Equal(t, map[string]bool{GeneralRoomID: true, "lobby": true}, seen)

	// cy is only in general, which ann is also in.
	assert.Len(t, c.named(EventRoomUserList), 1)

	s, _ := coord.Hub().Session("c1")
	assert.Equal(t, "#abcdef", s.Color)
}

func TestPropagator_AvatarChangedForOfflineUser(t *testing.T) {
	ctx := context.Background()
	coord, store := newTestCoordinator(t)
	store.addUser(2, "bob", "#222222")
	store.addUser(9, "ivy", "#999999")
	store.addUser(4, "dan", "#444444")
	require.NoError(t, store.UpsertMembership(ctx, 2, "private_2_9"))

	ivy := connect(t, coord, "c9", 9)
	dan := connect(t, coord, "c4", 4)
	require.NoError(t, coord.Join(ctx, "c9", "private_2_9"))
	ivy.reset()
	dan.reset()

	// The profile row is written before the signal fires.
	store.setAvatar(2, "bob.png")
	coord.AvatarChanged(ctx, 2, "bob", "bob.png")

	var changed avatarChangedPayload
	lastAs(t, dan, EventUserAvatarChanged, &changed)
	assert.Equal(t, avatarChangedPayload{UserID: 2, Username: "bob", Avatar: "bob.png"}, changed)
	lastAs(t, ivy, EventUserAvatarChanged, &changed)

	var list roomUserListPayload
	lastAs(t, ivy, EventRoomUserList, &list)
	assert.Equal(t, "private_2_9", list.RoomID)
	require.Len(t, list.Users, 2)
	for _, m := range list.Users {
		if m.ID == 2 {
			assert.Equal(t, "bob.png", m.Avatar)
			assert.False(t, m.IsOnline)
		}
	}

	assert.Empty(t, dan.named(EventRoomUserList))
}

func TestPropagator_HandleProfileChange(t *testing.T) {
	ctx := context.Background()
	coord, store := newTestCoordinator(t)
	store.addUser(1, "ann", "#111111")
	conn := connect(t, coord, "c1", 1)
	conn.reset()

	coord.HandleProfileChange(ctx, events.ProfileChange{Kind: "mood", UserID: 1, Value: "x"})
	assert.Empty(t, conn.names())

	coord.HandleProfileChange(ctx, events.ProfileChange{Kind: events.ColorChanged, UserID: 1, Value: "#000"})
	var changed colorChangedPayload
	lastAs(t, conn, EventUserColorChanged, &changed)
	assert.Equal(t, "ann", changed.Username)
}

func TestPropagator_ListenProfileChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	coord, store := newTestCoordinator(t)
	store.addUser(1, "ann", "#111111")
	conn := connect(t, coord, "c1", 1)

	changes := make(chan events.ProfileChange)
	done := make(chan struct{})
	go func() {
		coord.ListenProfileChanges(ctx, changes)
		close(done)
	}()

	changes <- events.ProfileChange{Kind: events.AvatarChanged, UserID: 1, Username: "ann", Value: "a.png"}
	close(changes)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("listener did not stop after the channel closed")
	}
	assert.Len(t, conn.named(EventUserAvatarChanged), 1)
}
