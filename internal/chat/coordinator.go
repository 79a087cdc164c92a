package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	nanoid "github.com/jaevor/go-nanoid"
)

const (
	DefaultHistoryLimit = 50

	roomIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	roomIDLength   = 12
)

// CredentialVerifier turns a bearer token into a user id.
type CredentialVerifier interface {
	VerifyCredential(token string) (int, error)
}

// Coordinator reacts to connection lifecycle and room actions. It is the
// only writer of the Hub.
type Coordinator struct {
	hub          *Hub
	directory    *Directory
	store        Store
	verifier     CredentialVerifier
	historyLimit int
	newRoomID    func() string
}

func NewCoordinator(hub *Hub, directory *Directory, store Store, verifier CredentialVerifier, historyLimit int) (*Coordinator, error) {
	gen, err := nanoid.CustomASCII(roomIDAlphabet, roomIDLength)
	if err != nil {
		return nil, fmt.Errorf("room id generator: %w", err)
	}
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Coordinator{
		hub:          hub,
		directory:    directory,
		store:        store,
		verifier:     verifier,
		historyLimit: historyLimit,
		newRoomID:    gen,
	}, nil
}

func (c *Coordinator) Hub() *Hub { return c.hub }

func (c *Coordinator) Directory() *Directory { return c.directory }

// reject tells an unauthenticated connection why and closes it.
func reject(conn Conn, message string) {
	if payload, err := encodeEvent(EventError, errorPayload{Message: message}); err == nil {
		conn.Send(payload)
	}
	conn.Close()
}

// Connect authenticates conn and registers its session. Any error is
// terminal: the connection has already been told and closed.
func (c *Coordinator) Connect(ctx context.Context, conn Conn, token string) error {
	if token == "" {
		reject(conn, "Authentication required")
		return fmt.Errorf("%w: missing token", ErrAuthentication)
	}
	userID, err := c.verifier.VerifyCredential(token)
	if err != nil {
		reject(conn, "Authentication failed")
		return fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	u, err := c.store.FindUser(ctx, userID)
	if err != nil {
		reject(conn, "Authentication failed")
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: user %d no longer exists", ErrAuthentication, userID)
		}
		return err
	}

	if _, err := c.directory.Resolve(ctx, GeneralRoomID, GeneralRoomName, nil); err != nil {
		reject(conn, "Could not join the general room")
		return err
	}

	evicted, stale := c.hub.Evict(u.ID, conn.ID())
	for _, old := range stale {
		log.Printf("[hub] evicting connection %s of user %d", old.ID(), u.ID)
		old.Close()
	}

	id := identityOf(u)
	c.hub.Register(conn, id)

	if err := c.directory.AddMember(ctx, u.ID, GeneralRoomID); err != nil {
		log.Printf("[hub] general membership for user %d: %v", u.ID, err)
	}

	c.hub.SendTo(conn.ID(), EventConnected, connectedPayload{User: id})
	c.hub.Broadcast(EventOnlineStatusChanged, onlineStatusPayload{UserID: id.ID, Username: id.Username, IsOnline: true}, "")

	if rooms, err := c.directory.RoomsFor(ctx, u.ID); err != nil {
		log.Printf("[hub] room list for user %d: %v", u.ID, err)
	} else {
		c.hub.SendTo(conn.ID(), EventRoomList, roomListPayload{Rooms: rooms})
	}

	c.hub.Broadcast(EventUserJoined, userJoinedPayload{User: id}, conn.ID())
	c.hub.SendToRoom(GeneralRoomID, EventUserJoinedRoom, userJoinedRoomPayload{User: id, RoomID: GeneralRoomID}, "")

	// Rooms the evicted sessions were in no longer see them.
	for _, s := range evicted {
		for _, roomID := range s.Rooms {
			c.broadcastMembers(ctx, roomID)
		}
	}

	log.Printf("[hub] user %d (%s) connected on %s", u.ID, u.Username, conn.ID())
	return nil
}

// Disconnect tears down the session for connID. Unknown ids are ignored.
func (c *Coordinator) Disconnect(ctx context.Context, connID string) {
	s, ok := c.hub.Session(connID)
	if !ok {
		return
	}

	c.hub.Broadcast(EventUserDisconnected, userDisconnectedPayload{UserID: s.ID, Username: s.Username}, "")

	s, ok = c.hub.Unregister(connID)
	if !ok {
		return
	}

	if !c.hub.IsOnline(s.ID) {
		c.hub.Broadcast(EventOnlineStatusChanged, onlineStatusPayload{UserID: s.ID, Username: s.Username, IsOnline: false}, "")
	}

	for _, roomID := range s.Rooms {
		c.hub.SendToRoom(roomID, EventUserLeftRoom, userLeftRoomPayload{UserID: s.ID, Username: s.Username, RoomID: roomID}, "")
		c.broadcastMembers(ctx, roomID)
	}

	log.Printf("[hub] user %d (%s) disconnected from %s", s.ID, s.Username, connID)
}

// Join adds the connection to roomID and sends it the room's history and
// members.
func (c *Coordinator) Join(ctx context.Context, connID, roomID string) error {
	s, ok := c.hub.Session(connID)
	if !ok {
		return nil
	}
	roomID = CanonicalRoomID(roomID)

	fail := func(err error) error {
		c.hub.SendTo(connID, EventError, errorPayload{Message: clientMessage(err)})
		return err
	}

	if err := ValidateRoomID(roomID); err != nil {
		return fail(err)
	}
	if err := CanAccess(s.ID, roomID); err != nil {
		return fail(err)
	}
	if _, err := c.directory.Resolve(ctx, roomID, "", nil); err != nil {
		return fail(err)
	}
	if err := c.directory.AddMember(ctx, s.ID, roomID); err != nil {
		return fail(err)
	}

	if !c.hub.JoinRoom(connID, roomID) {
		return nil
	}
	c.hub.SendToRoom(roomID, EventUserJoinedRoom, userJoinedRoomPayload{User: s.Identity, RoomID: roomID}, "")

	history, err := c.History(ctx, roomID, c.historyLimit)
	if err != nil {
		log.Printf("[hub] history for %s: %v", roomID, err)
		history = []MessageView{}
	}
	members := c.LiveMembers(ctx, roomID)

	c.hub.SendTo(connID, EventRoomHistory, roomHistoryPayload{Messages: history, Users: members, RoomID: roomID})
	c.hub.SendToRoom(roomID, EventRoomUserList, roomUserListPayload{Users: members, RoomID: roomID}, "")
	return nil
}

// Leave removes the connection from roomID. Persisted membership stays.
func (c *Coordinator) Leave(ctx context.Context, connID, roomID string) {
	s, ok := c.hub.Session(connID)
	if !ok {
		return
	}
	roomID = CanonicalRoomID(roomID)
	if !c.hub.LeaveRoom(connID, roomID) {
		return
	}

	c.hub.SendToRoom(roomID, EventUserLeftRoom, userLeftRoomPayload{UserID: s.ID, Username: s.Username, RoomID: roomID}, "")
	c.broadcastMembers(ctx, roomID)
}

// CreateRoomRequest is a normalized createRoom action.
type CreateRoomRequest struct {
	RoomID       string
	RoomName     string
	IsPrivate    bool
	TargetUserID int
}

// CreateRoom creates (or reuses) a room and auto-joins the creator.
// Nothing is broadcast unless every persistence step succeeded.
func (c *Coordinator) CreateRoom(ctx context.Context, connID string, req CreateRoomRequest) error {
	s, ok := c.hub.Session(connID)
	if !ok {
		return nil
	}

	roomID := strings.TrimSpace(req.RoomID)
	name := strings.TrimSpace(req.RoomName)
	fail := func(err error) error {
		c.hub.SendTo(connID, EventRoomCreationError, roomCreationErrorPayload{
			RoomID:   roomID,
			RoomName: name,
			Message:  clientMessage(err),
		})
		return err
	}

	var participants []int
	if req.IsPrivate {
		if roomID == "" && req.TargetUserID > 0 {
			roomID = PrivateRoomID(s.ID, req.TargetUserID)
		}
		a, b, ok := ParsePrivateRoomID(roomID)
		if !ok {
			return fail(fmt.Errorf("%w: private rooms need an id of the form private_<id>_<id>", ErrValidation))
		}
		roomID = PrivateRoomID(a, b)
		if err := CanAccess(s.ID, roomID); err != nil {
			return fail(err)
		}
		other, _ := otherParticipant(roomID, s.ID)
		if _, err := c.store.FindUser(ctx, other); err != nil {
			if errors.Is(err, ErrNotFound) {
				return fail(fmt.Errorf("%w: user %d does not exist", ErrValidation, other))
			}
			return fail(err)
		}
		participants = []int{a, b}
	} else {
		if roomID == "" {
			roomID = c.newRoomID()
		}
		if err := ValidateRoomID(roomID); err != nil {
			return fail(err)
		}
		if roomID == GeneralRoomID || IsPrivateRoomID(roomID) {
			return fail(fmt.Errorf("%w: room id %q is reserved", ErrValidation, roomID))
		}
		if name == "" {
			name = fmt.Sprintf("%s's room", s.Username)
		}
	}

	isPrivate := req.IsPrivate
	room, err := c.directory.Resolve(ctx, roomID, name, &isPrivate)
	if err != nil {
		return fail(err)
	}
	if err := c.directory.AddMember(ctx, s.ID, roomID); err != nil {
		return fail(err)
	}
	if other, ok := otherParticipant(roomID, s.ID); ok && isPrivate {
		if err := c.directory.AddMember(ctx, other, roomID); err != nil {
			return fail(err)
		}
	}

	created := roomCreatedPayload{
		RoomID:    room.ID,
		RoomName:  room.DisplayName(),
		IsPrivate: room.IsPrivate,
		CreatedBy: s.Identity,
	}
	if isPrivate {
		c.hub.SendToUsers(participants, EventRoomCreated, created)
	} else {
		c.hub.Broadcast(EventRoomCreated, created, "")
	}

	log.Printf("[directory] user %d created room %s (private=%t)", s.ID, room.ID, room.IsPrivate)
	return c.Join(ctx, connID, room.ID)
}

// Typing relays a typing indicator to the room's other connections.
func (c *Coordinator) Typing(connID, roomID string, isTyping bool) {
	s, ok := c.hub.Session(connID)
	if !ok {
		return
	}
	roomID = CanonicalRoomID(roomID)
	if err := CanAccess(s.ID, roomID); err != nil {
		log.Printf("[hub] typing from %s dropped: %v", connID, err)
		return
	}
	c.hub.SendToRoom(roomID, EventTyping, typingPayload{
		UserID:   s.ID,
		Username: s.Username,
		IsTyping: isTyping,
		RoomID:   roomID,
		User:     s.Identity,
	}, connID)
}

// LiveMembers lists who is in roomID right now. Private rooms always list
// both participants, online or not.
func (c *Coordinator) LiveMembers(ctx context.Context, roomID string) []MemberView {
	present := c.hub.RoomPresence(roomID)
	members := make([]MemberView, 0, len(present)+2)
	covered := make(map[int]struct{}, len(present))
	for _, id := range present {
		members = append(members, MemberView{Identity: id, IsOnline: true})
		covered[id.ID] = struct{}{}
	}

	a, b, ok := ParsePrivateRoomID(roomID)
	if !ok {
		return members
	}
	for _, userID := range []int{a, b} {
		if _, ok := covered[userID]; ok {
			continue
		}
		u, err := c.store.FindUser(ctx, userID)
		if err != nil {
			log.Printf("[hub] member %d of %s: %v", userID, roomID, err)
			continue
		}
		members = append(members, MemberView{Identity: identityOf(u), IsOnline: c.hub.IsOnline(userID)})
	}
	return members
}

func (c *Coordinator) broadcastMembers(ctx context.Context, roomID string) {
	members := c.LiveMembers(ctx, roomID)
	c.hub.SendToRoom(roomID, EventRoomUserList, roomUserListPayload{Users: members, RoomID: roomID}, "")
}

// Dispatch routes one inbound frame. Invalid frames are logged and
// dropped; send and createRoom also answer with an error event.
func (c *Coordinator) Dispatch(ctx context.Context, connID string, raw []byte) {
	action, err := ParseAction(raw)
	if err != nil {
		log.Printf("[ws] %s: dropping event: %v", connID, err)
		switch action.Kind {
		case ActionSend:
			c.hub.SendTo(connID, EventError, errorPayload{Message: clientMessage(err)})
		case ActionCreateRoom:
			c.hub.SendTo(connID, EventRoomCreationError, roomCreationErrorPayload{
				RoomID:   action.RoomID,
				RoomName: action.RoomName,
				Message:  clientMessage(err),
			})
		}
		return
	}

	switch action.Kind {
	case ActionJoin:
		err = c.Join(ctx, connID, action.RoomID)
	case ActionLeave:
		c.Leave(ctx, connID, action.RoomID)
	case ActionSend:
		err = c.Send(ctx, connID, action.RoomID, action.Content)
	case ActionTyping:
		c.Typing(connID, action.RoomID, action.IsTyping)
	case ActionCreateRoom:
		err = c.CreateRoom(ctx, connID, CreateRoomRequest{
			RoomID:       action.RoomID,
			RoomName:     action.RoomName,
			IsPrivate:    action.IsPrivate,
			TargetUserID: action.TargetUserID,
		})
	}
	if err != nil {
		log.Printf("[ws] %s: %s %s: %v", connID, action.Kind, action.RoomID, err)
	}
}

// clientMessage hides storage details from clients.
func clientMessage(err error) string {
	switch {
	case errors.Is(err, ErrPersistence):
		return "Something went wrong, please try again"
	case errors.Is(err, ErrAuthorization):
		return ErrAuthorization.Error()
	}
	return err.Error()
}
