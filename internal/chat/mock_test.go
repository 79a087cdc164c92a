package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"chatcore/internal/user"

	"github.com/stretchr/testify/require"
)

// memStore implements Store for testing.
type memStore struct {
	mu       sync.Mutex
	users    map[int]*user.User
	rooms    map[string]*Room
	members  map[string]map[int]struct{}
	messages []*Message
	nextMsg  int

	upserts      int
	createRooms  int
	failMessages error
	failMember   map[int]error
}

func newMemStore() *memStore {
	return &memStore{
		users:      make(map[int]*user.User),
		rooms:      make(map[string]*Room),
		members:    make(map[string]map[int]struct{}),
		failMember: make(map[int]error),
	}
}

func (m *memStore) addUser(id int, username, color string) *user.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := &user.User{ID: id, Username: username, Email: username + "@example.com", Color: color}
	m.users[id] = u
	return u
}

func (m *memStore) setAvatar(id int, avatar string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id].Avatar = avatar
}

func (m *memStore) putRoom(r Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[r.ID] = &r
}

func (m *memStore) room(id string) (Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return Room{}, false
	}
	return *r, true
}

func (m *memStore) isMember(userID int, roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.members[roomID][userID]
	return ok
}

func (m *memStore) membershipRows() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, set := range m.members {
		n += len(set)
	}
	return n
}

func (m *memStore) FindUser(_ context.Context, id int) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) FindRoom(_ context.Context, id string) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return nil, fmt.Errorf("room %s: %w", id, ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) CreateRoom(_ context.Context, room Room) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createRooms++
	if existing, ok := m.rooms[room.ID]; ok {
		cp := *existing
		return &cp, nil
	}
	room.CreatedAt = time.Now()
	m.rooms[room.ID] = &room
	cp := room
	return &cp, nil
}

func (m *memStore) UpdateRoom(_ context.Context, id string, upd RoomUpdate) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return nil, fmt.Errorf("room %s: %w", id, ErrNotFound)
	}
	if upd.Name != nil {
		r.Name = *upd.Name
	}
	if upd.IsPrivate != nil {
		r.IsPrivate = *upd.IsPrivate
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) ListRooms(_ context.Context, filter RoomFilter) ([]*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Room
	for _, r := range m.rooms {
		if filter.IsPrivate != nil && r.IsPrivate != *filter.IsPrivate {
			continue
		}
		if filter.MemberID != 0 {
			if _, ok := m.members[r.ID][filter.MemberID]; !ok {
				continue
			}
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memStore) UpsertMembership(_ context.Context, userID int, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failMember[userID]; err != nil {
		return err
	}
	m.upserts++
	set, ok := m.members[roomID]
	if !ok {
		set = make(map[int]struct{})
		m.members[roomID] = set
	}
	set[userID] = struct{}{}
	return nil
}

func (m *memStore) CreateMessage(_ context.Context, msg Message) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failMessages != nil {
		return nil, m.failMessages
	}
	m.nextMsg++
	msg.ID = m.nextMsg
	msg.CreatedAt = time.Now()
	m.messages = append(m.messages, &msg)
	cp := msg
	return &cp, nil
}

func (m *memStore) ListMessages(_ context.Context, roomID string, limit int) ([]*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Message
	for i := len(m.messages) - 1; i >= 0 && len(out) < limit; i-- {
		if m.messages[i].RoomID == roomID {
			cp := *m.messages[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

// fakeConn records every frame it is sent.
type fakeConn struct {
	id string

	mu     sync.Mutex
	frames [][]byte
	closed bool
	full   bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(payload []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.full {
		return false
	}
	f.frames = append(f.frames, payload)
	return true
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (f *fakeConn) events() []frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]frame, 0, len(f.frames))
	for _, raw := range f.frames {
		var fr frame
		if err := json.Unmarshal(raw, &fr); err == nil {
			out = append(out, fr)
		}
	}
	return out
}

func (f *fakeConn) names() []string {
	var out []string
	for _, fr := range f.events() {
		out = append(out, fr.Event)
	}
	return out
}

func (f *fakeConn) named(event string) []json.RawMessage {
	var out []json.RawMessage
	for _, fr := range f.events() {
		if fr.Event == event {
			out = append(out, fr.Data)
		}
	}
	return out
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = nil
}

// lastAs decodes the most recent event with the given name into v.
func lastAs(t *testing.T, f *fakeConn, event string, v any) {
	t.Helper()
	got := f.named(event)
	require.NotEmpty(t, got, "no %s event on %s (got %v)", event, f.id, f.names())
	require.NoError(t, json.NewDecoder(bytes.NewReader(got[len(got)-1])).Decode(v))
}

// tokenVerifier accepts tokens of the form "tok-<id>".
type tokenVerifier struct{}

func (tokenVerifier) VerifyCredential(token string) (int, error) {
	raw, ok := strings.CutPrefix(token, "tok-")
	if !ok {
		return 0, errors.New("bad token")
	}
	return strconv.Atoi(raw)
}

func token(userID int) string {
	return "tok-" + strconv.Itoa(userID)
}

func newTestCoordinator(t *testing.T) (*Coordinator, *memStore) {
	t.Helper()
	store := newMemStore()
	coord, err := NewCoordinator(NewHub(), NewDirectory(store), store, tokenVerifier{}, DefaultHistoryLimit)
	require.NoError(t, err)
	return coord, store
}

func connect(t *testing.T, coord *Coordinator, connID string, userID int) *fakeConn {
	t.Helper()
	conn := newFakeConn(connID)
	require.NoError(t, coord.Connect(context.Background(), conn, token(userID)))
	return conn
}

func memberIDs(members []MemberView) map[int]bool {
	out := make(map[int]bool, len(members))
	for _, m := range members {
		out[m.ID] = m.IsOnline
	}
	return out
}
