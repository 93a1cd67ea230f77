// Package customer implements the customer side of a live call: requesting a
// call through the queue, waiting for an agent with a give-up timer, then
// publishing local media once the agent accepts.
package customer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meghabhansali2911/customer-engagement-platform/internal/call/collab"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/domain"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/media"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/provider"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/signaling"
	"github.com/meghabhansali2911/customer-engagement-platform/pkg/logger"
)

// State is the customer call lifecycle phase
type State string

const (
	StateIdle       State = "idle"
	StateRequesting State = "requesting"
	StateWaiting    State = "waiting"
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StateEnded      State = "ended"
	StateFailed     State = "failed"
)

// publishPhase guards the publish-on-accept path. It is checked and advanced
// before the first blocking call so a duplicate callAccepted can never start
// a second publish.
type publishPhase int

const (
	publishIdle publishPhase = iota
	publishInProgress
	publishDone
)

const defaultWaitTimeout = 15 * time.Second

// ErrAlreadyStarted rejects a second Start on the same machine
var ErrAlreadyStarted = errors.New("call already started")

// QueueClient is the slice of the call-request queue the customer needs.
// Satisfied by *queue.Queue.
type QueueClient interface {
	CreateRequest(ctx context.Context, displayName string) (domain.Credentials, error)
	Resolve(id uuid.UUID, outcome domain.Outcome) error
}

// Config tunes the customer machine
type Config struct {
	// WaitTimeout bounds how long the customer waits for an agent before
	// giving up. Zero means the default of 15 seconds.
	WaitTimeout time.Duration
}

// Hooks surface lifecycle events to the embedding application. All optional.
type Hooks struct {
	OnStateChange func(state State)
	OnAgentStream func(sub provider.Subscriber)
	OnAgentLeft   func()
	OnFailure     func(err error)

	// Collab is forwarded to the collaboration peer
	Collab collab.Hooks
}

// Machine drives one customer call from request to teardown. All methods and
// session callbacks are safe for concurrent use; session events for one call
// arrive sequentially.
type Machine struct {
	cfg        Config
	queue      QueueClient
	provider   provider.Provider
	devices    media.Devices
	uploads    collab.Uploader
	compositor collab.Compositor
	cobrowse   collab.CobrowseAllocator
	hooks      Hooks

	mu         sync.Mutex
	state      State
	phase      publishPhase
	requestID  uuid.UUID
	session    provider.Session
	track      media.Track
	publisher  provider.Publisher
	subscriber provider.Subscriber
	waitTimer  *time.Timer
	peer       *collab.Peer
	failure    error
}

// New creates an idle customer machine. uploads, compositor and cobrowse
// feed the collaboration peer; compositor may be nil if this customer never
// signs, cobrowse nil if co-browsing is not offered.
func New(cfg Config, q QueueClient, p provider.Provider, d media.Devices, uploads collab.Uploader, compositor collab.Compositor, cobrowse collab.CobrowseAllocator, hooks Hooks) *Machine {
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = defaultWaitTimeout
	}
	return &Machine{
		cfg:        cfg,
		queue:      q,
		provider:   p,
		devices:    d,
		uploads:    uploads,
		compositor: compositor,
		cobrowse:   cobrowse,
		hooks:      hooks,
		state:      StateIdle,
	}
}

// State returns the current lifecycle phase
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Failure returns the terminal error after StateFailed, nil otherwise
func (m *Machine) Failure() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failure
}

// RequestID returns the queued request's id once Start has created it
func (m *Machine) RequestID() uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestID
}

// Collab returns the collaboration peer, valid once Start has connected
func (m *Machine) Collab() *collab.Peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peer
}

// Start acquires local media, enqueues a call request, connects to the
// allocated session and waits for an agent. Media is acquired first so a
// denied permission never leaves a dangling queue entry. Nothing is
// published until the agent accepts.
//
// A blank display name fails with ErrValidation before anything is touched;
// the machine stays Idle so the caller can re-prompt and try again.
func (m *Machine) Start(ctx context.Context, displayName string) error {
	if strings.TrimSpace(displayName) == "" {
		return domain.ErrValidation
	}

	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.setStateLocked(StateRequesting)
	m.mu.Unlock()

	track, err := m.devices.AcquireInput(ctx, true, true)
	if err != nil {
		return m.fail(fmt.Errorf("%w: %v", domain.ErrMediaPermission, err))
	}

	creds, err := m.queue.CreateRequest(ctx, displayName)
	if err != nil {
		track.Stop()
		return m.fail(fmt.Errorf("failed to create call request: %w", err))
	}

	session, err := m.provider.Connect(ctx, creds.SessionID, creds.Token)
	if err != nil {
		track.Stop()
		if rerr := m.queue.Resolve(creds.RequestID, domain.OutcomeErrored); rerr != nil {
			logger.Warn("failed to report errored call request",
				zap.String("request_id", creds.RequestID.String()), zap.Error(rerr))
		}
		return m.fail(fmt.Errorf("%w: %v", domain.ErrProvider, err))
	}

	dispatch := signaling.NewDispatcher()
	peer := collab.NewPeer(session, m.uploads, m.compositor, m.cobrowse, m.hooks.Collab)
	peer.Bind(dispatch)
	dispatch.On(signaling.TypeCallAccepted, m.handleCallAccepted)
	dispatch.On(signaling.TypeEndCall, func(signaling.Message) { m.handleEndCall() })

	m.mu.Lock()
	m.requestID = creds.RequestID
	m.session = session
	m.track = track
	m.peer = peer
	m.waitTimer = time.AfterFunc(m.cfg.WaitTimeout, m.handleWaitTimeout)
	m.setStateLocked(StateWaiting)
	m.mu.Unlock()

	session.Handle(provider.Handler{
		OnSignal:              dispatch.Dispatch,
		OnStreamCreated:       m.handleStreamCreated,
		OnStreamDestroyed:     m.handleStreamDestroyed,
		OnConnectionDestroyed: m.handleConnectionLost,
		OnException: func(err error) {
			logger.Warn("session exception", zap.Error(err))
		},
	})

	return nil
}

// End hangs up. Safe in any state; a call still waiting for an agent is
// withdrawn from the queue.
func (m *Machine) End(ctx context.Context) {
	m.mu.Lock()
	if m.state == StateEnded || m.state == StateFailed || m.state == StateIdle {
		m.mu.Unlock()
		return
	}
	session := m.session
	withdraw := m.state == StateWaiting
	requestID := m.requestID
	m.mu.Unlock()

	if withdraw && requestID != uuid.Nil {
		if err := m.queue.Resolve(requestID, domain.OutcomeDeclined); err != nil {
			logger.Debug("call request already resolved",
				zap.String("request_id", requestID.String()), zap.Error(err))
		}
	}
	if session != nil {
		if err := session.Signal(ctx, signaling.Message{Type: signaling.TypeEndCall}); err != nil {
			logger.Warn("failed to signal endCall", zap.Error(err))
		}
	}

	m.mu.Lock()
	m.teardownLocked()
	m.setStateLocked(StateEnded)
	m.mu.Unlock()
}

// SetAudioEnabled mutes or unmutes the local microphone
func (m *Machine) SetAudioEnabled(enabled bool) {
	m.mu.Lock()
	pub, track := m.publisher, m.track
	m.mu.Unlock()

	if pub != nil {
		pub.SetAudioEnabled(enabled)
		return
	}
	if track != nil {
		track.SetAudioEnabled(enabled)
	}
}

// SetVideoEnabled pauses or resumes the local camera
func (m *Machine) SetVideoEnabled(enabled bool) {
	m.mu.Lock()
	pub, track := m.publisher, m.track
	m.mu.Unlock()

	if pub != nil {
		pub.SetVideoEnabled(enabled)
		return
	}
	if track != nil {
		track.SetVideoEnabled(enabled)
	}
}

// handleCallAccepted publishes local media into the session. The publish
// phase advances before the first blocking call, so a replayed callAccepted
// finds it non-idle and does nothing.
func (m *Machine) handleCallAccepted(signaling.Message) {
	m.mu.Lock()
	if m.phase != publishIdle {
		m.mu.Unlock()
		logger.Debug("duplicate callAccepted ignored")
		return
	}
	if m.state != StateWaiting {
		m.mu.Unlock()
		logger.Debug("callAccepted outside waiting state ignored",
			zap.String("state", string(m.state)))
		return
	}
	m.phase = publishInProgress
	m.stopWaitTimerLocked()
	m.setStateLocked(StateConnecting)
	session, track := m.session, m.track
	m.mu.Unlock()

	ctx := context.Background()
	pub, err := session.Publish(ctx, track)
	if err != nil {
		logger.Warn("publish failed, retrying once", zap.Error(err))
		pub, err = session.Publish(ctx, track)
	}
	if err != nil {
		if serr := session.Signal(ctx, signaling.Message{Type: signaling.TypeMediaFailed}); serr != nil {
			logger.Warn("failed to signal media-failed", zap.Error(serr))
		}
		if serr := session.Signal(ctx, signaling.Message{Type: signaling.TypeEndCall}); serr != nil {
			logger.Warn("failed to signal endCall", zap.Error(serr))
		}
		m.fail(fmt.Errorf("%w: %v", domain.ErrMediaPublish, err))
		return
	}

	m.mu.Lock()
	if m.state != StateConnecting {
		// call ended while publish was in flight
		m.mu.Unlock()
		pub.Unpublish()
		return
	}
	m.publisher = pub
	m.phase = publishDone
	m.setStateLocked(StateActive)
	m.mu.Unlock()
}

func (m *Machine) handleEndCall() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateEnded || m.state == StateFailed {
		return
	}
	m.teardownLocked()
	m.setStateLocked(StateEnded)
}

// handleWaitTimeout gives up on an unanswered request. The queue entry is
// withdrawn so agents stop seeing it; losing the withdrawal race to an agent
// is harmless because the state check makes this machine deaf to the late
// callAccepted.
func (m *Machine) handleWaitTimeout() {
	m.mu.Lock()
	if m.state != StateWaiting {
		m.mu.Unlock()
		return
	}
	requestID := m.requestID
	m.teardownLocked()
	m.failure = domain.ErrNoAgent
	m.setStateLocked(StateFailed)
	m.mu.Unlock()

	if err := m.queue.Resolve(requestID, domain.OutcomeDeclined); err != nil {
		logger.Debug("timed-out call request already resolved",
			zap.String("request_id", requestID.String()), zap.Error(err))
	}
	logger.Info("no agent answered before timeout",
		zap.String("request_id", requestID.String()))

	if m.hooks.OnFailure != nil {
		m.hooks.OnFailure(domain.ErrNoAgent)
	}
}

func (m *Machine) handleStreamCreated(stream provider.RemoteStream) {
	m.mu.Lock()
	session := m.session
	m.mu.Unlock()
	if session == nil {
		return
	}

	sub, err := session.Subscribe(context.Background(), stream)
	if err != nil {
		logger.Warn("failed to subscribe to agent stream",
			zap.String("stream_id", stream.ID()), zap.Error(err))
		return
	}

	m.mu.Lock()
	m.subscriber = sub
	m.mu.Unlock()

	if m.hooks.OnAgentStream != nil {
		m.hooks.OnAgentStream(sub)
	}
}

// handleStreamDestroyed notes the agent's departure. The call itself stays
// up until an endCall signal or local hangup; the agent may republish.
func (m *Machine) handleStreamDestroyed(provider.RemoteStream) {
	m.mu.Lock()
	sub := m.subscriber
	m.subscriber = nil
	m.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	if m.hooks.OnAgentLeft != nil {
		m.hooks.OnAgentLeft()
	}
}

func (m *Machine) handleConnectionLost() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateEnded || m.state == StateFailed {
		return
	}
	logger.Warn("session connection lost")
	m.teardownLocked()
	m.setStateLocked(StateEnded)
}

// fail tears down and parks the machine in StateFailed
func (m *Machine) fail(err error) error {
	m.mu.Lock()
	m.teardownLocked()
	m.failure = err
	m.setStateLocked(StateFailed)
	m.mu.Unlock()

	logger.Error("customer call failed", zap.Error(err))
	if m.hooks.OnFailure != nil {
		m.hooks.OnFailure(err)
	}
	return err
}

// teardownLocked releases everything the call holds. Every step is
// idempotent, so teardown may run on any exit path without tracking which
// resources were acquired.
func (m *Machine) teardownLocked() {
	m.stopWaitTimerLocked()
	if m.subscriber != nil {
		m.subscriber.Close()
		m.subscriber = nil
	}
	if m.publisher != nil {
		m.publisher.Unpublish()
		m.publisher = nil
	}
	if m.track != nil {
		m.track.Stop()
		m.track = nil
	}
	if m.session != nil {
		m.session.Disconnect()
	}
	if m.peer != nil {
		m.peer.Reset()
	}
}

func (m *Machine) stopWaitTimerLocked() {
	if m.waitTimer != nil {
		m.waitTimer.Stop()
		m.waitTimer = nil
	}
}

func (m *Machine) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	if m.hooks.OnStateChange != nil {
		go m.hooks.OnStateChange(s)
	}
}
