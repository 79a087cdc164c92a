package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/singleflight"
)

const privateRoomFallbackName = "Private conversation"

// Directory resolves room ids to stored rooms, creating them on first
// reference and keeping privacy and private-room names correct.
type Directory struct {
	store Store
	group singleflight.Group
}

func NewDirectory(store Store) *Directory {
	return &Directory{store: store}
}

// Resolve returns the room with the given id, creating it if needed.
// A nil isPrivate infers privacy from the id shape. An explicit hint
// overrides the stored flag; an inferred one only ever upgrades a room to
// private.
func (d *Directory) Resolve(ctx context.Context, id, nameHint string, isPrivate *bool) (*Room, error) {
	if err := ValidateRoomID(id); err != nil {
		return nil, err
	}
	id = CanonicalRoomID(id)

	key := id + "|" + hintKey(isPrivate)
	v, err, _ := d.group.Do(key, func() (any, error) {
		return d.resolve(ctx, id, nameHint, isPrivate)
	})
	if err != nil {
		return nil, err
	}
	room := *v.(*Room)
	return &room, nil
}

func hintKey(isPrivate *bool) string {
	if isPrivate == nil {
		return "infer"
	}
	return strconv.FormatBool(*isPrivate)
}

func (d *Directory) resolve(ctx context.Context, id, nameHint string, hint *bool) (*Room, error) {
	private := IsPrivateRoomID(id)
	if hint != nil {
		private = *hint
	}

	room, err := d.store.FindRoom(ctx, id)
	switch {
	case err == nil:
		var upd RoomUpdate
		if hint != nil && room.IsPrivate != *hint {
			upd.IsPrivate = hint
		} else if hint == nil && private && !room.IsPrivate {
			upd.IsPrivate = &private
		}
		if private && (room.Name == "" || room.Name == room.ID) {
			name := d.privateRoomName(ctx, id)
			upd.Name = &name
		}
		if upd.empty() {
			return room, nil
		}
		return d.store.UpdateRoom(ctx, id, upd)

	case errors.Is(err, ErrNotFound):
		name := strings.TrimSpace(nameHint)
		if private && (name == "" || name == id) {
			name = d.privateRoomName(ctx, id)
		}
		if name == "" {
			name = id
		}
		return d.store.CreateRoom(ctx, Room{ID: id, Name: name, IsPrivate: private})

	default:
		return nil, err
	}
}

// privateRoomName names a 1:1 room after its participants, ordered by id.
// Any lookup failure falls back to a generic name.
func (d *Directory) privateRoomName(ctx context.Context, id string) string {
	a, b, ok := ParsePrivateRoomID(id)
	if !ok {
		return privateRoomFallbackName
	}
	first, err := d.store.FindUser(ctx, a)
	if err != nil {
		log.Printf("[directory] naming %s: %v", id, err)
		return privateRoomFallbackName
	}
	second, err := d.store.FindUser(ctx, b)
	if err != nil {
		log.Printf("[directory] naming %s: %v", id, err)
		return privateRoomFallbackName
	}
	return fmt.Sprintf("Chat between %s and %s", first.Username, second.Username)
}

// ListPublic returns every public room except general, with display names.
func (d *Directory) ListPublic(ctx context.Context) ([]Room, error) {
	public := false
	rooms, err := d.store.ListRooms(ctx, RoomFilter{IsPrivate: &public})
	if err != nil {
		return nil, err
	}

	out := make([]Room, 0, len(rooms))
	for _, r := range rooms {
		if r.ID == GeneralRoomID || r.IsPrivate || IsPrivateRoomID(r.ID) {
			continue
		}
		view := *r
		view.Name = r.DisplayName()
		out = append(out, view)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ListPrivateFor returns the private rooms userID belongs to. Membership
// rows that contradict the participants encoded in the room id are
// dropped.
func (d *Directory) ListPrivateFor(ctx context.Context, userID int) ([]Room, error) {
	private := true
	rooms, err := d.store.ListRooms(ctx, RoomFilter{MemberID: userID, IsPrivate: &private})
	if err != nil {
		return nil, err
	}

	out := make([]Room, 0, len(rooms))
	for _, r := range rooms {
		if _, _, ok := ParsePrivateRoomID(r.ID); ok && CanAccess(userID, r.ID) != nil {
			log.Printf("[directory] corrupt membership: user %d listed in %s", userID, r.ID)
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

// RoomsFor is the combined room list a client sees: public rooms first,
// then the caller's private rooms.
func (d *Directory) RoomsFor(ctx context.Context, userID int) ([]Room, error) {
	public, err := d.ListPublic(ctx)
	if err != nil {
		return nil, err
	}
	private, err := d.ListPrivateFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	return append(public, private...), nil
}

// AddMember persists membership. Private rooms only accept their two
// encoded participants.
func (d *Directory) AddMember(ctx context.Context, userID int, roomID string) error {
	roomID = CanonicalRoomID(roomID)
	if err := CanAccess(userID, roomID); err != nil {
		return err
	}
	return d.store.UpsertMembership(ctx, userID, roomID)
}

// RepairPrivateRooms fixes rooms whose id encodes a participant pair but
// which were stored as public or without a friendly name. It returns the
// number of rooms touched.
func (d *Directory) RepairPrivateRooms(ctx context.Context) (int, error) {
	rooms, err := d.store.ListRooms(ctx, RoomFilter{})
	if err != nil {
		return 0, err
	}

	repaired := 0
	private := true
	for _, r := range rooms {
		if !IsPrivateRoomID(r.ID) || CanonicalRoomID(r.ID) != r.ID {
			continue
		}
		if r.IsPrivate && r.Name != "" && r.Name != r.ID {
			continue
		}
		if _, err := d.Resolve(ctx, r.ID, "", &private); err != nil {
			return repaired, fmt.Errorf("repair %s: %w", r.ID, err)
		}
		repaired++
	}
	return repaired, nil
}
