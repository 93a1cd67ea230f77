// Package agent implements the agent side of a live call: claiming a request
// from the queue, joining its session, optionally publishing local media per
// desk policy, and swapping between webcam and screen capture.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meghabhansali2911/customer-engagement-platform/internal/call/collab"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/domain"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/media"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/provider"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/signaling"
	"github.com/meghabhansali2911/customer-engagement-platform/pkg/logger"
)

// State is the agent call lifecycle phase
type State string

const (
	StateIdle    State = "idle"
	StateJoining State = "joining"
	StateActive  State = "active"
	StateEnded   State = "ended"
	StateFailed  State = "failed"
)

// publishMode tracks what the agent currently sends into the session
type publishMode int

const (
	modeNone publishMode = iota
	modeCamera
	modeScreen
)

var (
	// ErrNotActive rejects media operations outside an active call
	ErrNotActive = errors.New("no active call")

	// ErrSwapInProgress rejects a second track swap while one is running
	ErrSwapInProgress = errors.New("track swap in progress")
)

// Picker is the slice of the queue coordinator the agent needs.
// Satisfied by *queue.Coordinator.
type Picker interface {
	PickRequest(ctx context.Context, id uuid.UUID) (domain.CallRequest, domain.Credentials, error)
	DeclineRequest(ctx context.Context, id uuid.UUID) error
}

// Config is the agent's desk policy for outgoing media. A disabled component
// is never captured; an enabled one is captured only if a matching device
// exists. A device-less agent still joins in listen-and-view mode.
type Config struct {
	EnableAudio bool
	EnableVideo bool
}

// Hooks surface lifecycle events to the embedding application. All optional.
type Hooks struct {
	OnStateChange    func(state State)
	OnCustomerStream func(sub provider.Subscriber)
	OnCustomerLeft   func()
	OnMediaFailed    func()
	OnFailure        func(err error)

	// Collab is forwarded to the collaboration peer
	Collab collab.Hooks
}

// Machine drives one agent call. Public methods and session callbacks are
// safe for concurrent use.
type Machine struct {
	cfg      Config
	picker   Picker
	provider provider.Provider
	devices  media.Devices
	uploads  collab.Uploader
	hooks    Hooks

	mu         sync.Mutex
	state      State
	mode       publishMode
	swapping   bool
	hasMic     bool
	hasCam     bool
	request      domain.CallRequest
	session      provider.Session
	track        media.Track
	publisher    provider.Publisher
	subscriber   provider.Subscriber
	peer         *collab.Peer
	customerGone bool
	failure      error
}

// New creates an idle agent machine. uploads feeds the collaboration peer's
// file sharing and signing helpers.
func New(cfg Config, picker Picker, p provider.Provider, d media.Devices, uploads collab.Uploader, hooks Hooks) *Machine {
	return &Machine{
		cfg:      cfg,
		picker:   picker,
		provider: p,
		devices:  d,
		uploads:  uploads,
		hooks:    hooks,
		state:    StateIdle,
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

// Request returns the claimed call request once Accept has picked it
func (m *Machine) Request() domain.CallRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.request
}

// Collab returns the collaboration peer, valid once Accept has connected
func (m *Machine) Collab() *collab.Peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peer
}

// ScreenSharing reports whether the agent currently publishes screen capture
func (m *Machine) ScreenSharing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode == modeScreen
}

// CustomerLeft reports whether the customer's stream or connection went away
// during the active call
func (m *Machine) CustomerLeft() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.customerGone
}

// Accept claims the request and joins its session. Losing the claim race to
// another agent returns ErrAlreadyHandled and leaves the machine idle for
// the next pick. Publish failures do not abort the join; the agent falls
// back to listen-and-view mode.
func (m *Machine) Accept(ctx context.Context, requestID uuid.UUID) error {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return fmt.Errorf("agent busy in state %s", m.state)
	}
	m.setStateLocked(StateJoining)
	m.mu.Unlock()

	req, creds, err := m.picker.PickRequest(ctx, requestID)
	if err != nil {
		m.mu.Lock()
		m.setStateLocked(StateIdle)
		m.mu.Unlock()
		if errors.Is(err, domain.ErrAlreadyHandled) {
			logger.Info("call request already handled",
				zap.String("request_id", requestID.String()))
		}
		return err
	}

	session, err := m.provider.Connect(ctx, creds.SessionID, creds.Token)
	if err != nil {
		// the claim is consumed; the customer's wait timer covers them
		return m.fail(fmt.Errorf("%w: %v", domain.ErrProvider, err))
	}

	dispatch := signaling.NewDispatcher()
	peer := collab.NewPeer(session, m.uploads, nil, nil, m.hooks.Collab)
	peer.Bind(dispatch)
	dispatch.On(signaling.TypeEndCall, func(signaling.Message) { m.handleEndCall() })
	dispatch.On(signaling.TypeMediaFailed, func(signaling.Message) { m.handleMediaFailed() })

	m.mu.Lock()
	m.request = req
	m.session = session
	m.peer = peer
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

	m.probeDevices(ctx)
	m.publishCamera(ctx)

	// accept is signaled regardless of publish outcome so the customer's
	// side of the handshake proceeds even for a device-less agent
	if err := session.Signal(ctx, signaling.Message{Type: signaling.TypeCallAccepted}); err != nil {
		return m.fail(fmt.Errorf("failed to signal callAccepted: %w", err))
	}

	m.mu.Lock()
	m.setStateLocked(StateActive)
	m.mu.Unlock()
	return nil
}

// Decline removes a request from the queue without joining it
func (m *Machine) Decline(ctx context.Context, requestID uuid.UUID) error {
	return m.picker.DeclineRequest(ctx, requestID)
}

// End hangs up, telling the customer first
func (m *Machine) End(ctx context.Context) {
	m.mu.Lock()
	if m.state == StateEnded || m.state == StateFailed || m.state == StateIdle {
		m.mu.Unlock()
		return
	}
	session := m.session
	m.mu.Unlock()

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

// SetAudioEnabled mutes or unmutes the outgoing microphone. No-op while
// screen sharing or without a published track.
func (m *Machine) SetAudioEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode != modeCamera || m.publisher == nil {
		return
	}
	m.publisher.SetAudioEnabled(enabled)
}

// SetVideoEnabled pauses or resumes the outgoing camera. No-op while screen
// sharing or without a published track.
func (m *Machine) SetVideoEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode != modeCamera || m.publisher == nil {
		return
	}
	m.publisher.SetVideoEnabled(enabled)
}

// ToggleScreenShare swaps between webcam and screen capture. The swap is
// two-step: the outgoing track is fully withdrawn before its replacement is
// published, so the session never carries both. A failed screen acquisition
// leaves the webcam untouched.
func (m *Machine) ToggleScreenShare(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateActive {
		m.mu.Unlock()
		return ErrNotActive
	}
	if m.swapping {
		m.mu.Unlock()
		return ErrSwapInProgress
	}
	m.swapping = true
	toScreen := m.mode != modeScreen
	m.mu.Unlock()

	var err error
	if toScreen {
		err = m.startScreenShare(ctx)
	} else {
		err = m.stopScreenShare(ctx)
	}

	m.mu.Lock()
	m.swapping = false
	m.mu.Unlock()
	return err
}

func (m *Machine) startScreenShare(ctx context.Context) error {
	// acquire before withdrawing anything so a denied capture is a clean no-op
	screen, err := m.devices.AcquireScreen(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMediaPermission, err)
	}

	m.withdrawCurrent()

	m.mu.Lock()
	session := m.session
	m.mu.Unlock()

	pub, err := session.Publish(ctx, screen)
	if err != nil {
		screen.Stop()
		m.publishCamera(ctx)
		return fmt.Errorf("%w: %v", domain.ErrMediaPublish, err)
	}

	screen.OnEnded(m.handleScreenEnded)

	m.mu.Lock()
	m.track = screen
	m.publisher = pub
	m.mode = modeScreen
	m.mu.Unlock()
	return nil
}

func (m *Machine) stopScreenShare(ctx context.Context) error {
	m.withdrawCurrent()
	m.publishCamera(ctx)
	return nil
}

// handleScreenEnded fires when the OS ends a screen capture out-of-band
// (e.g. the browser's stop-sharing button). The agent falls back to the
// webcam without any user action.
func (m *Machine) handleScreenEnded() {
	m.mu.Lock()
	if m.state != StateActive || m.mode != modeScreen || m.swapping {
		m.mu.Unlock()
		return
	}
	m.swapping = true
	m.mu.Unlock()

	logger.Info("screen capture ended externally, reverting to camera")
	m.withdrawCurrent()
	m.publishCamera(context.Background())

	m.mu.Lock()
	m.swapping = false
	m.mu.Unlock()
}

// withdrawCurrent unpublishes and stops whatever is outgoing
func (m *Machine) withdrawCurrent() {
	m.mu.Lock()
	pub, track := m.publisher, m.track
	m.publisher, m.track = nil, nil
	m.mode = modeNone
	m.mu.Unlock()

	if pub != nil {
		pub.Unpublish()
	}
	if track != nil {
		track.Stop()
	}
}

// probeDevices records which capture hardware the desk actually has
func (m *Machine) probeDevices(ctx context.Context) {
	devices, err := m.devices.Enumerate(ctx)
	if err != nil {
		logger.Warn("device enumeration failed, joining without media", zap.Error(err))
		return
	}

	m.mu.Lock()
	m.hasMic = media.HasKind(devices, media.DeviceAudioInput)
	m.hasCam = media.HasKind(devices, media.DeviceVideoInput)
	m.mu.Unlock()
}

// publishCamera captures and publishes camera/microphone per desk policy.
// Any failure leaves the agent in listen-and-view mode; the call goes on.
func (m *Machine) publishCamera(ctx context.Context) {
	m.mu.Lock()
	audio := m.cfg.EnableAudio && m.hasMic
	video := m.cfg.EnableVideo && m.hasCam
	session := m.session
	m.mu.Unlock()

	if !audio && !video {
		return
	}

	track, err := m.devices.AcquireInput(ctx, audio, video)
	if err != nil {
		logger.Warn("camera acquisition failed, continuing without outgoing media", zap.Error(err))
		return
	}

	pub, err := session.Publish(ctx, track)
	if err != nil {
		track.Stop()
		logger.Warn("camera publish failed, continuing without outgoing media", zap.Error(err))
		return
	}

	m.mu.Lock()
	m.track = track
	m.publisher = pub
	m.mode = modeCamera
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

// handleMediaFailed notes the customer's publish failure. The customer
// follows it with endCall; only the notification happens here.
func (m *Machine) handleMediaFailed() {
	logger.Warn("customer reported media failure")
	if m.hooks.OnMediaFailed != nil {
		m.hooks.OnMediaFailed()
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
		logger.Warn("failed to subscribe to customer stream",
			zap.String("stream_id", stream.ID()), zap.Error(err))
		return
	}

	m.mu.Lock()
	m.subscriber = sub
	m.mu.Unlock()

	if m.hooks.OnCustomerStream != nil {
		m.hooks.OnCustomerStream(sub)
	}
}

// handleStreamDestroyed notes the customer's departure without ending the
// call; the call ends only on an endCall signal or local hangup
func (m *Machine) handleStreamDestroyed(provider.RemoteStream) {
	m.noteCustomerGone()
}

// handleConnectionLost notes the customer dropping without an endCall. The
// call stays Active so the agent can wrap up and hang up explicitly.
func (m *Machine) handleConnectionLost() {
	logger.Warn("customer connection lost")
	m.noteCustomerGone()
}

func (m *Machine) noteCustomerGone() {
	m.mu.Lock()
	if m.state != StateActive {
		m.mu.Unlock()
		return
	}
	sub := m.subscriber
	m.subscriber = nil
	seen := m.customerGone
	m.customerGone = true
	m.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	if !seen && m.hooks.OnCustomerLeft != nil {
		m.hooks.OnCustomerLeft()
	}
}

func (m *Machine) fail(err error) error {
	m.mu.Lock()
	m.teardownLocked()
	m.failure = err
	m.setStateLocked(StateFailed)
	m.mu.Unlock()

	logger.Error("agent call failed", zap.Error(err))
	if m.hooks.OnFailure != nil {
		m.hooks.OnFailure(err)
	}
	return err
}

// teardownLocked releases everything the call holds; every step is idempotent
func (m *Machine) teardownLocked() {
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
	m.mode = modeNone
	m.customerGone = false
	if m.session != nil {
		m.session.Disconnect()
	}
	if m.peer != nil {
		m.peer.Reset()
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
