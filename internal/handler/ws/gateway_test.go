package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meghabhansali2911/customer-engagement-platform/internal/domain"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/signaling"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/token"
)

func setupGateway(t *testing.T) (*httptest.Server, *token.Issuer) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	issuer := token.NewIssuer("api-key", "secret", time.Hour)
	gw := NewGateway(issuer, nil, nil, 8)

	router := gin.New()
	router.GET("/ws/signal", gw.ServeWS)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, issuer
}

func dial(t *testing.T, srv *httptest.Server, issuer *token.Issuer, sessionID string, role domain.Role) *websocket.Conn {
	t.Helper()

	joinToken, err := issuer.Issue(sessionID, role, "", time.Hour)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/signal?token=" + joinToken
	header := http.Header{"Origin": []string{"http://localhost:3000"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestSignalReachesSessionPeersOnly(t *testing.T) {
	srv, issuer := setupGateway(t)

	customer := dial(t, srv, issuer, "session-1", domain.RoleCustomer)
	agent := dial(t, srv, issuer, "session-1", domain.RoleAgent)
	outsider := dial(t, srv, issuer, "session-2", domain.RoleCustomer)

	// connections register asynchronously
	time.Sleep(50 * time.Millisecond)

	msg := signaling.Message{Type: signaling.TypeCallAccepted}
	require.NoError(t, customer.WriteJSON(msg))

	agent.SetReadDeadline(time.Now().Add(time.Second))
	var frame Frame
	require.NoError(t, agent.ReadJSON(&frame))
	assert.Equal(t, signaling.TypeCallAccepted, frame.Type)
	assert.Equal(t, "session-1", frame.SessionID)
	assert.Equal(t, domain.RoleCustomer, frame.Role)

	// neither the sender nor the other session hears the frame
	customer.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	assert.Error(t, customer.ReadJSON(&frame))
	outsider.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	assert.Error(t, outsider.ReadJSON(&frame))
}

func TestRejectsMissingToken(t *testing.T) {
	srv, _ := setupGateway(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/signal"
	header := http.Header{"Origin": []string{"http://localhost:3000"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRejectsInvalidToken(t *testing.T) {
	srv, _ := setupGateway(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/signal?token=garbage"
	header := http.Header{"Origin": []string{"http://localhost:3000"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRejectsDisallowedOrigin(t *testing.T) {
	srv, issuer := setupGateway(t)

	joinToken, err := issuer.Issue("session-1", domain.RoleCustomer, "", time.Hour)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/signal?token=" + joinToken
	header := http.Header{"Origin": []string{"http://evil.example.com"}}
	_, _, err = websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
}

func TestInvalidFrameIgnored(t *testing.T) {
	srv, issuer := setupGateway(t)

	customer := dial(t, srv, issuer, "session-1", domain.RoleCustomer)
	agent := dial(t, srv, issuer, "session-1", domain.RoleAgent)
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, customer.WriteMessage(websocket.TextMessage, []byte("not json")))

	data, err := json.Marshal(signaling.Message{Type: signaling.TypeEndCall})
	require.NoError(t, err)
	require.NoError(t, customer.WriteMessage(websocket.TextMessage, data))

	// the garbage frame is skipped, the valid one still arrives
	agent.SetReadDeadline(time.Now().Add(time.Second))
	var frame Frame
	require.NoError(t, agent.ReadJSON(&frame))
	assert.Equal(t, signaling.TypeEndCall, frame.Type)
}

type countingMetrics struct {
	mu      sync.Mutex
	conns   int
	dropped int
}

func (m *countingMetrics) IncrementWebsocketConnections() {
	m.mu.Lock()
	m.conns++
	m.mu.Unlock()
}

func (m *countingMetrics) DecrementWebsocketConnections() {
	m.mu.Lock()
	m.conns--
	m.mu.Unlock()
}

func (m *countingMetrics) RecordSignalSent(string) {}

func (m *countingMetrics) RecordSignalDropped() {
	m.mu.Lock()
	m.dropped++
	m.mu.Unlock()
}

func (m *countingMetrics) snapshot() (conns, dropped int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conns, m.dropped
}

func TestSlowClientDropSettlesConnectionGauge(t *testing.T) {
	issuer := token.NewIssuer("api-key", "secret", time.Hour)
	metrics := &countingMetrics{}
	gw := NewGateway(issuer, nil, metrics, 8)

	sender := &client{gw: gw, send: make(chan []byte, sendBufferSize), id: uuid.New(), sessionID: "session-1"}
	// an unbuffered send channel with no reader overflows on the first frame
	slow := &client{gw: gw, send: make(chan []byte), id: uuid.New(), sessionID: "session-1"}
	gw.register <- sender
	gw.register <- slow

	require.Eventually(t, func() bool {
		conns, _ := metrics.snapshot()
		return conns == 2
	}, time.Second, 5*time.Millisecond)

	gw.broadcast <- &Frame{Type: signaling.TypeCallAccepted, SessionID: "session-1", ClientID: sender.id}

	require.Eventually(t, func() bool {
		conns, dropped := metrics.snapshot()
		return conns == 1 && dropped == 1
	}, time.Second, 5*time.Millisecond)

	// the eventual unregister for the dropped client must not double-count
	gw.unregister <- slow
	gw.unregister <- sender

	require.Eventually(t, func() bool {
		conns, _ := metrics.snapshot()
		return conns == 0
	}, time.Second, 5*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	conns, _ := metrics.snapshot()
	assert.Equal(t, 0, conns)
}
