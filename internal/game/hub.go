package game

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/golang-jwt/jwt/v5"
)

// Role is the connection's authorization level, attached at handshake
// or by a later authenticate message.
type Role string

const (
	RoleGuest Role = "GUEST"
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Client is one connected websocket, identified once authenticated.
type Client struct {
	conn   *websocket.Conn
	userID string
	role   Role
	mu     sync.Mutex
}

// UserID returns the identity attached to this connection, or "" for
// a still-GUEST connection.
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Role returns the connection's current authorization level.
func (c *Client) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// Authenticated reports whether the connection has attached an identity.
func (c *Client) Authenticated() bool {
	return c.Role() != RoleGuest
}

func (c *Client) attach(userID string, role Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	c.role = role
}

// Hub is the socket connection registry: every connected client plus a
// one-primary-socket-per-user map used to target balance_update
// deliveries. It knows nothing about game rules — the Gateway layer
// owns op dispatch and wires the Hub to the Engine's EventBus.
type Hub struct {
	jwtSecret []byte

	mu            sync.RWMutex
	clients       map[*Client]bool
	primaryByUser map[string]*Client

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
}

// NewHub returns a Hub that verifies JWTs with the given secret. An
// empty secret means every connection stays GUEST regardless of the
// token it presents.
func NewHub(jwtSecret []byte) *Hub {
	return &Hub{
		jwtSecret:     jwtSecret,
		clients:       make(map[*Client]bool),
		primaryByUser: make(map[string]*Client),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		broadcast:     make(chan []byte, 256),
	}
}

// Run drives the registration/broadcast loop. Call it once, in its
// own goroutine, before accepting connections.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				if uid := client.UserID(); uid != "" && h.primaryByUser[uid] == client {
					delete(h.primaryByUser, uid)
				}
				client.conn.Close()
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				go client.send(message)
			}
			h.mu.RUnlock()
		}
	}
}

// RegisterClient admits a new connection, pre-authenticated if a
// non-empty userID/role was resolved at handshake time (GUEST
// otherwise); late authentication upgrades it via Authenticate.
func (h *Hub) RegisterClient(conn *websocket.Conn, userID string, role Role) *Client {
	client := &Client{conn: conn, userID: userID, role: role}
	h.register <- client
	if userID != "" {
		h.mu.Lock()
		h.primaryByUser[userID] = client
		h.mu.Unlock()
	}
	return client
}

func (h *Hub) UnregisterClient(client *Client) {
	h.unregister <- client
}

// Authenticate upgrades a GUEST connection in place, per the
// late-authentication inbound op. It becomes the user's new primary
// socket for balance-update targeting.
func (h *Hub) Authenticate(client *Client, token string) bool {
	userID, ok := h.verifyToken(token)
	if !ok {
		return false
	}
	client.attach(userID, RoleUser)
	h.mu.Lock()
	h.primaryByUser[userID] = client
	h.mu.Unlock()
	return true
}

// verifyToken resolves a bearer JWT to its subject claim.
func (h *Hub) verifyToken(token string) (string, bool) {
	if len(h.jwtSecret) == 0 || token == "" {
		return "", false
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return h.jwtSecret, nil
	})
	if err != nil || !parsed.Valid {
		return "", false
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", false
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", false
	}
	return sub, true
}

// Broadcast fans a pre-marshalled frame out to every connected client,
// dropping the send if the hub's own queue is full rather than
// blocking the publisher.
func (h *Hub) Broadcast(frame []byte) {
	select {
	case h.broadcast <- frame:
	default:
		log.Println("[WS] broadcast queue full, dropping frame")
	}
}

// SendToUser delivers frame only to userID's current primary socket,
// per the Gateway's "only the most recent socket" balance-update rule.
func (h *Hub) SendToUser(userID string, frame []byte) {
	h.mu.RLock()
	client, ok := h.primaryByUser[userID]
	h.mu.RUnlock()
	if ok {
		client.send(frame)
	}
}

// ClientCount reports the number of currently connected sockets.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *Client) send(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		log.Printf("[WS] write error for user %q: %v", c.userID, err)
	}
}

// WriteJSON marshals v and writes it directly to this client, used for
// handshake-time responses that shouldn't wait on the broadcast loop.
func (c *Client) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.send(data)
	return nil
}
