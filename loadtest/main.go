package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var (
	baseURL   = flag.String("base", "http://localhost:8080", "server base URL")
	pairCount = flag.Int("pairs", 50, "number of user pairs") // Start small; the database may choke on 1000 immediately.
	msgCount  = flag.Int("msgs", 20, "messages per user")
)

type LoginResponse struct {
	Token string `json:"access_token"`
	User  struct {
		ID       int    `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
}

type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

var received atomic.Int64

func main() {
	flag.Parse()
	log.Printf("🔥 STARTING STRESS TEST: %d Users, %d Messages each...", *pairCount*2, *msgCount)
	start := time.Now()

	var wg sync.WaitGroup
	// Pairs: user A talks to user B in general and in their private room.
	for i := 0; i < *pairCount; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(pairID)
		}(i)
	}

	wg.Wait()
	log.Printf("✅ LOAD TEST COMPLETE in %s, %d events received", time.Since(start).Round(time.Millisecond), received.Load())
}

func runPair(pairID int) {
	userA := fmt.Sprintf("u_%d_a", pairID)
	userB := fmt.Sprintf("u_%d_b", pairID)
	pass := "password123"

	a, okA := authenticate(userA, pass)
	b, okB := authenticate(userB, pass)
	if !okA || !okB {
		return
	}

	roomID := privateRoomID(a.User.ID, b.User.ID)

	var wsWg sync.WaitGroup
	wsWg.Add(2)
	go spamChat(&wsWg, a, roomID, b.User.ID, true)
	go spamChat(&wsWg, b, roomID, a.User.ID, false)
	wsWg.Wait()
}

func privateRoomID(x, y int) string {
	if x > y {
		x, y = y, x
	}
	return fmt.Sprintf("private_%d_%d", x, y)
}

// authenticate registers (ignores error if exists) and logs in.
func authenticate(username, password string) (*LoginResponse, bool) {
	email := username + "@loadtest.local"
	if resp, err := postJSON("/register", map[string]string{"email": email, "username": username, "password": password}); err == nil {
		resp.Body.Close()
	}

	resp, err := postJSON("/login", map[string]string{"email": email, "password": password})
	if err != nil {
		log.Printf("❌ Login Failed [%s]: %v", username, err)
		return nil, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Printf("❌ Login Failed [%s]: %s", username, resp.Status)
		return nil, false
	}

	var data LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil || data.Token == "" {
		log.Printf("❌ Login Failed [%s]: bad response", username)
		return nil, false
	}
	return &data, true
}

func spamChat(wg *sync.WaitGroup, login *LoginResponse, roomID string, peerID int, creator bool) {
	defer wg.Done()
	user := login.User.Username

	wsURL := "ws" + strings.TrimPrefix(*baseURL, "http") + "/ws?token=" + login.Token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		log.Printf("❌ WS Connect Fail [%s]: %v", user, err)
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go drain(conn, done)

	if creator {
		conn.WriteJSON(envelope{Event: "createRoom", Data: map[string]any{"isPrivate": true, "targetUserId": peerID}})
	} else {
		conn.WriteJSON(envelope{Event: "join", Data: map[string]string{"roomId": roomID}})
	}

	for i := 0; i < *msgCount; i++ {
		room := roomID
		if i%2 == 0 {
			room = "general"
		}
		msg := envelope{Event: "send", Data: map[string]string{
			"roomId":  room,
			"content": fmt.Sprintf("LoadTest Msg %d from %s", i, user),
		}}
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("❌ Send Fail [%s]: %v", user, err)
			break
		}
		// Small sleep to simulate a real network.
		time.Sleep(10 * time.Millisecond)
	}

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
	log.Printf("✅ %s finished sending %d msgs", user, *msgCount)
}

// drain counts events until the socket closes. Frames may batch several
// newline separated envelopes.
func drain(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received.Add(int64(bytes.Count(data, []byte{'\n'}) + 1))
	}
}

func postJSON(endpoint string, data any) (*http.Response, error) {
	jsonData, _ := json.Marshal(data)
	return http.Post(*baseURL+endpoint, "application/json", bytes.NewBuffer(jsonData))
}
