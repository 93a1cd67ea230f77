// Package memhub is an in-process implementation of the media session
// provider contract. It routes signals and stream lifecycle events between
// the participants of a session: the WebSocket gateway bridges browser
// clients into it, and tests drive both call state machines against it.
//
// Delivery semantics match the managed provider's: best-effort, at-most-once,
// FIFO per sender, no ordering across senders.
package memhub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meghabhansali2911/customer-engagement-platform/internal/domain"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/media"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/provider"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/signaling"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/token"
	"github.com/meghabhansali2911/customer-engagement-platform/pkg/logger"
)

// eventQueueSize bounds the per-participant event buffer; events beyond it
// are dropped, matching the provider's best-effort delivery.
const eventQueueSize = 64

// TokenValidator checks join tokens. Satisfied by token.Issuer.
type TokenValidator interface {
	Validate(tokenString string) (*token.Claims, error)
}

// SignalMetrics receives signal delivery and call lifecycle counters.
// Satisfied by pkg/metrics.
type SignalMetrics interface {
	RecordSignalSent(signalType string)
	RecordSignalDropped()
	RecordCallStarted()
	RecordCallEnded(duration time.Duration)
}

// Hub owns all in-process media sessions
type Hub struct {
	validator TokenValidator
	metrics   SignalMetrics // may be nil

	mu       sync.RWMutex
	sessions map[string]*session
}

// New creates an empty hub. metrics may be nil.
func New(validator TokenValidator, metrics SignalMetrics) *Hub {
	return &Hub{
		validator: validator,
		metrics:   metrics,
		sessions:  make(map[string]*session),
	}
}

// CreateSession allocates a new session id
func (h *Hub) CreateSession(ctx context.Context) (string, error) {
	id := uuid.New().String()

	h.mu.Lock()
	h.sessions[id] = &session{id: id, conns: make(map[*conn]bool)}
	h.mu.Unlock()

	logger.Debug("session created", zap.String("session_id", id))
	return id, nil
}

// Connect joins a session with a role-scoped token
func (h *Hub) Connect(ctx context.Context, sessionID, tokenString string) (provider.Session, error) {
	claims, err := h.validator.Validate(tokenString)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProvider, err)
	}
	if claims.SessionID != sessionID {
		return nil, fmt.Errorf("%w: token not issued for session", domain.ErrProvider)
	}

	h.mu.RLock()
	sess := h.sessions[sessionID]
	h.mu.RUnlock()
	if sess == nil {
		return nil, fmt.Errorf("%w: unknown session %s", domain.ErrProvider, sessionID)
	}

	c := &conn{
		hub:    h,
		sess:   sess,
		role:   claims.Role,
		events: make(chan func(), eventQueueSize),
		done:   make(chan struct{}),
	}
	go c.pump()

	sess.mu.Lock()
	sess.conns[c] = true
	live := !sess.started && len(sess.conns) >= 2
	if live {
		sess.started = true
		sess.startedAt = time.Now()
	}
	sess.mu.Unlock()

	if live && h.metrics != nil {
		h.metrics.RecordCallStarted()
	}

	logger.Debug("participant connected",
		zap.String("session_id", sessionID),
		zap.String("role", string(claims.Role)))
	return c, nil
}

// session is one media session with its connected participants
type session struct {
	id string

	mu        sync.RWMutex
	conns     map[*conn]bool
	started   bool
	startedAt time.Time
}

// others returns a snapshot of all participants except c
func (s *session) others(c *conn) []*conn {
	s.mu.RLock()
	out := make([]*conn, 0, len(s.conns))
	for peer := range s.conns {
		if peer != c {
			out = append(out, peer)
		}
	}
	s.mu.RUnlock()
	return out
}

// conn is one participant's connection
type conn struct {
	hub  *Hub
	sess *session
	role domain.Role

	mu      sync.Mutex
	handler provider.Handler
	pub     *publisher
	closed  bool

	events chan func()
	done   chan struct{}
}

// pump executes queued events sequentially, so handlers for one participant
// never run concurrently.
func (c *conn) pump() {
	for {
		select {
		case <-c.done:
			return
		case fn := <-c.events:
			fn()
		}
	}
}

// deliver enqueues an event for this participant, dropping it if the queue
// is full or the connection is gone.
func (c *conn) deliver(fn func()) {
	select {
	case <-c.done:
	case c.events <- fn:
		return
	default:
	}
	if c.hub.metrics != nil {
		c.hub.metrics.RecordSignalDropped()
	}
	logger.Warn("event dropped", zap.String("session_id", c.sess.id))
}

func (c *conn) ID() string { return c.sess.id }

func (c *conn) Handle(h provider.Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

func (c *conn) currentHandler() provider.Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler
}

// Signal broadcasts a typed message to all other participants
func (c *conn) Signal(ctx context.Context, msg signaling.Message) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("%w: connection closed", domain.ErrProvider)
	}
	c.mu.Unlock()

	if c.hub.metrics != nil {
		c.hub.metrics.RecordSignalSent(string(msg.Type))
	}

	for _, peer := range c.sess.others(c) {
		peer := peer
		peer.deliver(func() {
			if h := peer.currentHandler(); h.OnSignal != nil {
				h.OnSignal(msg)
			}
		})
	}
	return nil
}

// Publish sends a local track into the session
func (c *conn) Publish(ctx context.Context, track media.Track) (provider.Publisher, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: connection closed", domain.ErrProvider)
	}
	if c.pub != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: connection already has a live publisher", domain.ErrProvider)
	}

	p := &publisher{
		conn:  c,
		track: track,
		stream: &stream{
			id:       uuid.New().String(),
			name:     string(c.role),
			hasVideo: track.HasVideo(),
		},
	}
	c.pub = p
	c.mu.Unlock()

	for _, peer := range c.sess.others(c) {
		peer := peer
		peer.deliver(func() {
			if h := peer.currentHandler(); h.OnStreamCreated != nil {
				h.OnStreamCreated(p.stream)
			}
		})
	}
	return p, nil
}

// Subscribe attaches to a remote stream
func (c *conn) Subscribe(ctx context.Context, remote provider.RemoteStream) (provider.Subscriber, error) {
	var owner *publisher
	for _, peer := range c.sess.others(c) {
		peer.mu.Lock()
		if peer.pub != nil && peer.pub.stream.ID() == remote.ID() {
			owner = peer.pub
		}
		peer.mu.Unlock()
		if owner != nil {
			break
		}
	}
	if owner == nil {
		return nil, fmt.Errorf("%w: stream %s is gone", domain.ErrProvider, remote.ID())
	}

	sub := &subscriber{conn: c, pub: owner}
	owner.attach(sub)
	return sub, nil
}

// Disconnect leaves the session, withdrawing any live publisher first
func (c *conn) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pub := c.pub
	c.mu.Unlock()

	if pub != nil {
		pub.Unpublish()
	}

	c.sess.mu.Lock()
	delete(c.sess.conns, c)
	over := c.sess.started && len(c.sess.conns) == 0
	var began time.Time
	if over {
		c.sess.started = false
		began = c.sess.startedAt
	}
	c.sess.mu.Unlock()

	if over && c.hub.metrics != nil {
		c.hub.metrics.RecordCallEnded(time.Since(began))
	}

	for _, peer := range c.sess.others(c) {
		peer := peer
		peer.deliver(func() {
			if h := peer.currentHandler(); h.OnConnectionDestroyed != nil {
				h.OnConnectionDestroyed()
			}
		})
	}

	close(c.done)
	logger.Debug("participant disconnected",
		zap.String("session_id", c.sess.id),
		zap.String("role", string(c.role)))
}

// stream is a published remote stream as seen by subscribers
type stream struct {
	id   string
	name string

	mu       sync.Mutex
	hasVideo bool
}

func (s *stream) ID() string   { return s.id }
func (s *stream) Name() string { return s.name }

func (s *stream) HasVideo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasVideo
}

func (s *stream) setVideo(enabled bool) {
	s.mu.Lock()
	s.hasVideo = enabled
	s.mu.Unlock()
}

// publisher is a live outgoing track slot
type publisher struct {
	conn   *conn
	track  media.Track
	stream *stream

	mu       sync.Mutex
	subs     []*subscriber
	withdrew bool
}

func (p *publisher) Track() media.Track { return p.track }

func (p *publisher) SetAudioEnabled(enabled bool) {
	p.track.SetAudioEnabled(enabled)
}

func (p *publisher) SetVideoEnabled(enabled bool) {
	p.track.SetVideoEnabled(enabled)
	p.stream.setVideo(enabled)

	p.mu.Lock()
	subs := make([]*subscriber, len(p.subs))
	copy(subs, p.subs)
	p.mu.Unlock()

	for _, sub := range subs {
		sub := sub
		sub.conn.deliver(func() { sub.notifyVideo(enabled) })
	}
}

func (p *publisher) attach(sub *subscriber) {
	p.mu.Lock()
	p.subs = append(p.subs, sub)
	p.mu.Unlock()
}

func (p *publisher) detach(sub *subscriber) {
	p.mu.Lock()
	for i, s := range p.subs {
		if s == sub {
			p.subs = append(p.subs[:i], p.subs[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
}

// Unpublish withdraws the stream and notifies other participants
func (p *publisher) Unpublish() {
	p.mu.Lock()
	if p.withdrew {
		p.mu.Unlock()
		return
	}
	p.withdrew = true
	p.subs = nil
	p.mu.Unlock()

	p.conn.mu.Lock()
	if p.conn.pub == p {
		p.conn.pub = nil
	}
	p.conn.mu.Unlock()

	for _, peer := range p.conn.sess.others(p.conn) {
		peer := peer
		peer.deliver(func() {
			if h := peer.currentHandler(); h.OnStreamDestroyed != nil {
				h.OnStreamDestroyed(p.stream)
			}
		})
	}
}

// subscriber is one participant's attachment to a remote stream
type subscriber struct {
	conn *conn
	pub  *publisher

	mu      sync.Mutex
	onVideo func(bool)
	closed  bool
}

func (s *subscriber) Stream() provider.RemoteStream { return s.pub.stream }

func (s *subscriber) OnVideoChanged(fn func(enabled bool)) {
	s.mu.Lock()
	s.onVideo = fn
	s.mu.Unlock()
}

func (s *subscriber) notifyVideo(enabled bool) {
	s.mu.Lock()
	fn := s.onVideo
	closed := s.closed
	s.mu.Unlock()

	if fn != nil && !closed {
		fn(enabled)
	}
}

func (s *subscriber) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.pub.detach(s)
}
