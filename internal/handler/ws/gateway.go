// Package ws bridges browser clients into call session signaling over
// WebSocket. Clients authenticate with a session join token; frames are
// fanned out to every other participant of the same session, and relayed
// through Redis Pub/Sub when the service runs as multiple instances.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/meghabhansali2911/customer-engagement-platform/internal/domain"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/signaling"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/token"
	"github.com/meghabhansali2911/customer-engagement-platform/pkg/logger"
)

const (
	pingInterval   = 54 * time.Second
	writeDeadline  = 10 * time.Second
	sendBufferSize = 256
)

// ConnMetrics receives gateway counters. Satisfied by pkg/metrics.
type ConnMetrics interface {
	IncrementWebsocketConnections()
	DecrementWebsocketConnections()
	RecordSignalSent(signalType string)
	RecordSignalDropped()
}

// Frame is one signal on the WebSocket wire. ClientID identifies the sender
// within the session so relayed copies are not echoed back.
type Frame struct {
	Type      signaling.Type `json:"type"`
	Data      string         `json:"data,omitempty"`
	SessionID string         `json:"sessionId"`
	ClientID  uuid.UUID      `json:"clientId,omitempty"`
	Role      domain.Role    `json:"role,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Gateway manages signaling WebSocket connections
type Gateway struct {
	validator *token.Issuer
	redis     *redis.Client // may be nil, disables cross-instance relay
	metrics   ConnMetrics   // may be nil

	mu       sync.RWMutex
	sessions map[string]map[*client]bool
	cancels  map[string]context.CancelFunc

	register   chan *client
	unregister chan *client
	broadcast  chan *Frame

	maxConnections int
	semaphore      chan struct{}
}

type client struct {
	gw        *Gateway
	conn      *websocket.Conn
	send      chan []byte
	id        uuid.UUID
	sessionID string
	role      domain.Role
}

// allowedOrigins returns the WebSocket origin allow-list from the
// environment plus local development defaults
func allowedOrigins() map[string]bool {
	allowed := map[string]bool{
		"http://localhost:3000": true,
		"http://localhost:8080": true,
		"http://127.0.0.1:3000": true,
		"http://127.0.0.1:8080": true,
	}
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		for _, origin := range strings.Split(origins, ",") {
			allowed[strings.TrimSpace(origin)] = true
		}
	}
	return allowed
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return false
		}
		return allowedOrigins()[origin]
	},
}

// NewGateway creates a signaling gateway and starts its event loop.
// redisClient and metrics may be nil.
func NewGateway(validator *token.Issuer, redisClient *redis.Client, metrics ConnMetrics, maxConnections int) *Gateway {
	if maxConnections <= 0 {
		maxConnections = 1000
	}

	gw := &Gateway{
		validator:      validator,
		redis:          redisClient,
		metrics:        metrics,
		sessions:       make(map[string]map[*client]bool),
		cancels:        make(map[string]context.CancelFunc),
		register:       make(chan *client),
		unregister:     make(chan *client),
		broadcast:      make(chan *Frame, 256),
		maxConnections: maxConnections,
		semaphore:      make(chan struct{}, maxConnections),
	}

	go gw.run()
	return gw
}

func (g *Gateway) run() {
	for {
		select {
		case c := <-g.register:
			g.mu.Lock()
			if g.sessions[c.sessionID] == nil {
				g.sessions[c.sessionID] = make(map[*client]bool)
				if g.redis != nil {
					ctx, cancel := context.WithCancel(context.Background())
					g.cancels[c.sessionID] = cancel
					go g.relaySession(ctx, c.sessionID)
				}
			}
			g.sessions[c.sessionID][c] = true
			g.mu.Unlock()

			if g.metrics != nil {
				g.metrics.IncrementWebsocketConnections()
			}

		case c := <-g.unregister:
			g.mu.Lock()
			g.removeClientLocked(c)
			g.mu.Unlock()

		case frame := <-g.broadcast:
			g.deliverLocal(frame)
		}
	}
}

// deliverLocal fans a frame out to every local session participant except
// its sender. A client that cannot keep up is dropped rather than allowed
// to stall the session.
func (g *Gateway) deliverLocal(frame *Frame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		logger.Error("failed to encode signal frame", zap.Error(err))
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for c := range g.sessions[frame.SessionID] {
		if c.id == frame.ClientID {
			continue
		}
		select {
		case c.send <- payload:
			if g.metrics != nil {
				g.metrics.RecordSignalSent(string(frame.Type))
			}
		default:
			if g.metrics != nil {
				g.metrics.RecordSignalDropped()
			}
			logger.Warn("dropping slow signaling client",
				zap.String("session_id", frame.SessionID),
				zap.String("client_id", c.id.String()))
			g.removeClientLocked(c)
		}
	}
}

// removeClientLocked takes a client out of its session, closing its send
// channel, settling the connection gauge and stopping the session relay when
// the session empties. A second removal for the same client is a no-op, so
// the eventual unregister after a slow-client drop does not double-count.
func (g *Gateway) removeClientLocked(c *client) {
	clients, ok := g.sessions[c.sessionID]
	if !ok {
		return
	}
	if _, exists := clients[c]; !exists {
		return
	}
	delete(clients, c)
	close(c.send)

	if len(clients) == 0 {
		if cancel, ok := g.cancels[c.sessionID]; ok {
			cancel()
			delete(g.cancels, c.sessionID)
		}
		delete(g.sessions, c.sessionID)
	}

	if g.metrics != nil {
		g.metrics.DecrementWebsocketConnections()
	}
}

// dispatch routes a client's frame to the session. With Redis the frame goes
// through Pub/Sub so every instance delivers it; otherwise it fans out
// locally only.
func (g *Gateway) dispatch(ctx context.Context, frame *Frame) {
	if g.redis == nil {
		g.broadcast <- frame
		return
	}

	payload, err := json.Marshal(frame)
	if err != nil {
		logger.Error("failed to encode signal frame", zap.Error(err))
		return
	}
	if err := g.redis.Publish(ctx, sessionChannel(frame.SessionID), payload).Err(); err != nil {
		logger.Warn("redis publish failed, delivering locally only",
			zap.String("session_id", frame.SessionID), zap.Error(err))
		g.broadcast <- frame
	}
}

// relaySession forwards Redis-relayed frames for one session to local clients
func (g *Gateway) relaySession(ctx context.Context, sessionID string) {
	pubsub := g.redis.Subscribe(ctx, sessionChannel(sessionID))
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		logger.Error("failed to subscribe to session channel",
			zap.String("session_id", sessionID), zap.Error(err))
		return
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			if msg == nil {
				continue
			}
			var frame Frame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				logger.Warn("failed to decode relayed signal",
					zap.String("session_id", sessionID), zap.Error(err))
				continue
			}
			g.broadcast <- &frame
		}
	}
}

func sessionChannel(sessionID string) string {
	return "signal:session:" + sessionID
}

// ServeWS upgrades a signaling connection
// GET /ws/signal?token=<join token>
func (g *Gateway) ServeWS(c *gin.Context) {
	select {
	case g.semaphore <- struct{}{}:
	default:
		logger.Warn("signaling connection rejected, gateway at capacity",
			zap.Int("max_connections", g.maxConnections))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server at capacity, please try again later"})
		return
	}

	tokenString := c.Query("token")
	if tokenString == "" {
		<-g.semaphore
		c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
		return
	}

	claims, err := g.validator.Validate(tokenString)
	if err != nil {
		<-g.semaphore
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		<-g.semaphore
		logger.Warn("websocket upgrade failed",
			zap.String("session_id", claims.SessionID), zap.Error(err))
		return
	}

	cl := &client{
		gw:        g,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		id:        uuid.New(),
		sessionID: claims.SessionID,
		role:      claims.Role,
	}

	g.register <- cl

	go cl.writePump()
	go cl.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.gw.unregister <- c
		c.conn.Close()
		<-c.gw.semaphore
	}()

	c.conn.SetReadDeadline(time.Now().Add(pingInterval + writeDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + writeDeadline))
		return nil
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("signaling connection closed",
					zap.String("session_id", c.sessionID),
					zap.String("client_id", c.id.String()),
					zap.Error(err))
			}
			break
		}

		var msg signaling.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			logger.Warn("invalid signal frame",
				zap.String("session_id", c.sessionID), zap.Error(err))
			continue
		}

		c.gw.dispatch(context.Background(), &Frame{
			Type:      msg.Type,
			Data:      msg.Data,
			SessionID: c.sessionID,
			ClientID:  c.id,
			Role:      c.role,
			Timestamp: time.Now(),
		})
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(payload)
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
