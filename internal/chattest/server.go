// Package chattest provides an in-process chat server for tests.
//
// The server speaks the same HTTP API and WebSocket channel as the real chat
// server: accounts, rooms, join and leave announcements, text rebroadcast and
// typing relay. Hooks let tests drop every open channel or refuse new ones to
// exercise reconnect behavior.
package chattest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/inercia/chatline/internal/client"
	"github.com/inercia/chatline/internal/protocol"
)

// DefaultRoomID is the room a channel joins when no room_id is given.
const DefaultRoomID = 1

// Frame is one frame a channel sent to the server.
type Frame struct {
	Username string
	RoomID   int
	Type     string
	Content  string
	IsTyping bool
}

// Server is a running in-process chat server.
type Server struct {
	URL string

	http     *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	users    map[string]string // username -> password
	tokens   map[string]string // token -> username
	rooms    []client.Room
	peers    map[*peer]struct{}
	received []Frame
	reject   int
	dials    int
}

type peer struct {
	conn     *websocket.Conn
	username string
	roomID   int

	writeMu sync.Mutex
}

// New starts a server with room 1 ("General") and no accounts. It is closed
// when the test ends.
func New(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		users:  make(map[string]string),
		tokens: make(map[string]string),
		rooms:  []client.Room{{ID: DefaultRoomID, Name: "General", CreatedAt: time.Now().UTC()}},
		peers:  make(map[*peer]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/register", s.handleRegister)
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("GET /api/rooms", s.handleListRooms)
	mux.HandleFunc("POST /api/rooms", s.handleCreateRoom)
	mux.HandleFunc("GET /api/rooms/{id}", s.handleGetRoom)
	mux.HandleFunc("/ws", s.handleChannel)

	s.http = httptest.NewServer(mux)
	s.URL = s.http.URL
	t.Cleanup(s.Close)
	return s
}

// Close drops every channel and stops the server.
func (s *Server) Close() {
	s.DropAll()
	s.http.Close()
}

// AddUser creates an account and returns a valid token for it.
func (s *Server) AddUser(username, password string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = password
	return s.issueLocked(username)
}

// RejectChannels makes the next n channel handshakes fail with 503.
// A negative n refuses every handshake until RejectChannels(0).
func (s *Server) RejectChannels(n int) {
	s.mu.Lock()
	s.reject = n
	s.mu.Unlock()
}

// DropAll closes every open channel without a close frame.
func (s *Server) DropAll() {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		p.conn.Close()
	}
}

// Peers returns how many channels are open.
func (s *Server) Peers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Dials returns how many channel handshakes were attempted.
func (s *Server) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// Received returns a copy of every frame channels have sent.
func (s *Server) Received() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Frame(nil), s.received...)
}

// Announce broadcasts a system message to a room.
func (s *Server) Announce(roomID int, content string) {
	s.broadcast(roomID, nil, outbound{Type: protocol.TypeSystem, Content: content, Timestamp: time.Now().UTC()})
}

// Push sends raw bytes to every channel in a room as one message.
func (s *Server) Push(roomID int, data []byte) {
	for _, p := range s.roomPeers(roomID, nil) {
		p.write(data)
	}
}

func (s *Server) issueLocked(username string) string {
	token := uuid.NewString()
	s.tokens[token] = username
	return token
}

type authRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Email == "" || len(req.Password) < 6 {
		http.Error(w, "Username, email and a password of at least 6 characters are required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	if _, exists := s.users[req.Username]; exists {
		s.mu.Unlock()
		http.Error(w, "Username already exists", http.StatusConflict)
		return
	}
	s.users[req.Username] = req.Password
	token := s.issueLocked(req.Username)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, client.AuthResponse{Token: token, Username: req.Username})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	password, ok := s.users[req.Username]
	if !ok || password != req.Password {
		s.mu.Unlock()
		http.Error(w, "Invalid username or password", http.StatusUnauthorized)
		return
	}
	token := s.issueLocked(req.Username)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, client.AuthResponse{Token: token, Username: req.Username})
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	rooms := append([]client.Room(nil), s.rooms...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, rooms)
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		http.Error(w, "Room name is required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	room := client.Room{ID: uint(len(s.rooms) + 1), Name: req.Name, CreatedAt: time.Now().UTC()}
	s.rooms = append(s.rooms, room)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, room)
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		http.Error(w, "Invalid room ID", http.StatusBadRequest)
		return
	}
	room, ok := s.room(id)
	if !ok {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (s *Server) room(id int) (client.Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, room := range s.rooms {
		if int(room.ID) == id {
			return room, true
		}
	}
	return client.Room{}, false
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}

	s.mu.Lock()
	s.dials++
	username, ok := s.tokens[token]
	rejected := s.reject != 0
	if s.reject > 0 {
		s.reject--
	}
	s.mu.Unlock()

	if rejected {
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}
	if !ok {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	roomID := DefaultRoomID
	if v := r.URL.Query().Get("room_id"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "Invalid room ID", http.StatusBadRequest)
			return
		}
		roomID = id
	}
	if _, ok := s.room(roomID); !ok {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	p := &peer{conn: conn, username: username, roomID: roomID}

	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.mu.Unlock()

	s.broadcast(roomID, nil, outbound{
		Type:      protocol.TypeUserJoined,
		Username:  username,
		Content:   username + " joined the chat",
		Timestamp: time.Now().UTC(),
	})

	go s.readLoop(p)
}

func (s *Server) readLoop(p *peer) {
	defer func() {
		p.conn.Close()
		s.mu.Lock()
		delete(s.peers, p)
		s.mu.Unlock()
		s.broadcast(p.roomID, nil, outbound{
			Type:      protocol.TypeUserLeft,
			Username:  p.username,
			Content:   p.username + " left the chat",
			Timestamp: time.Now().UTC(),
		})
	}()

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		var in struct {
			Type     string `json:"type"`
			Content  string `json:"content"`
			IsTyping bool   `json:"is_typing"`
		}
		if err := json.Unmarshal(data, &in); err != nil {
			continue
		}

		s.mu.Lock()
		s.received = append(s.received, Frame{
			Username: p.username,
			RoomID:   p.roomID,
			Type:     in.Type,
			Content:  in.Content,
			IsTyping: in.IsTyping,
		})
		s.mu.Unlock()

		switch in.Type {
		case protocol.TypeTyping:
			s.broadcast(p.roomID, p, outbound{
				Type:     protocol.TypeTyping,
				Username: p.username,
				IsTyping: in.IsTyping,
			})
		case protocol.TypeText:
			// The author always comes from the token, never from the frame.
			s.broadcast(p.roomID, nil, outbound{
				Type:      protocol.TypeText,
				Username:  p.username,
				Content:   in.Content,
				Timestamp: time.Now().UTC(),
			})
		}
	}
}

type outbound struct {
	Type      string    `json:"type"`
	Username  string    `json:"username,omitempty"`
	Content   string    `json:"content,omitempty"`
	IsTyping  bool      `json:"is_typing,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// broadcast sends msg to every channel in roomID except skip.
func (s *Server) broadcast(roomID int, skip *peer, msg outbound) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	data = append(data, '\n')
	for _, p := range s.roomPeers(roomID, skip) {
		p.write(data)
	}
}

func (s *Server) roomPeers(roomID int, skip *peer) []*peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*peer
	for p := range s.peers {
		if p.roomID == roomID && p != skip {
			out = append(out, p)
		}
	}
	return out
}

func (p *peer) write(data []byte) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = p.conn.WriteMessage(websocket.TextMessage, data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
