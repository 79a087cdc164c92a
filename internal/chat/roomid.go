package chat

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	GeneralRoomID   = "general"
	GeneralRoomName = "General"

	privatePrefix = "private_"
	maxRoomIDLen  = 100
)

// PrivateRoomID is the only place a 1:1 room id is built. The smaller
// user id always comes first.
func PrivateRoomID(a, b int) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%s%d_%d", privatePrefix, a, b)
}

// ParsePrivateRoomID returns the two participants of a private_<a>_<b> id
// in ascending order. Both ids must be positive and distinct.
func ParsePrivateRoomID(id string) (int, int, bool) {
	rest, ok := strings.CutPrefix(id, privatePrefix)
	if !ok {
		return 0, 0, false
	}
	first, second, ok := strings.Cut(rest, "_")
	if !ok {
		return 0, 0, false
	}
	a, err := strconv.Atoi(first)
	if err != nil || a <= 0 {
		return 0, 0, false
	}
	b, err := strconv.Atoi(second)
	if err != nil || b <= 0 || a == b {
		return 0, 0, false
	}
	if a > b {
		a, b = b, a
	}
	return a, b, true
}

func IsPrivateRoomID(id string) bool {
	_, _, ok := ParsePrivateRoomID(id)
	return ok
}

// CanonicalRoomID rewrites private_9_2 to private_2_9 and leaves every
// other id untouched.
func CanonicalRoomID(id string) string {
	if a, b, ok := ParsePrivateRoomID(id); ok {
		return PrivateRoomID(a, b)
	}
	return id
}

// ValidateRoomID rejects empty or oversized ids, and ids that use the
// private prefix without encoding a valid participant pair.
func ValidateRoomID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return fmt.Errorf("%w: room id is required", ErrValidation)
	case len(id) > maxRoomIDLen:
		return fmt.Errorf("%w: room id is too long", ErrValidation)
	case strings.HasPrefix(id, privatePrefix) && !IsPrivateRoomID(id):
		return fmt.Errorf("%w: malformed private room id %q", ErrValidation, id)
	}
	return nil
}

// CanAccess reports whether userID may act in roomID. Only private rooms
// restrict access, and only to the two encoded participants.
func CanAccess(userID int, roomID string) error {
	a, b, ok := ParsePrivateRoomID(roomID)
	if !ok {
		return nil
	}
	if userID != a && userID != b {
		return fmt.Errorf("%w: user %d is not a participant of %s", ErrAuthorization, userID, roomID)
	}
	return nil
}

// otherParticipant returns the partner of userID in a private room.
func otherParticipant(roomID string, userID int) (int, bool) {
	a, b, ok := ParsePrivateRoomID(roomID)
	switch {
	case !ok:
		return 0, false
	case userID == a:
		return b, true
	case userID == b:
		return a, true
	}
	return 0, false
}
