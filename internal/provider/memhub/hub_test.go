package memhub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meghabhansali2911/customer-engagement-platform/internal/domain"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/media"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/provider"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/signaling"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/token"
)

type fakeTrack struct {
	mu    sync.Mutex
	audio bool
	video bool
}

func (f *fakeTrack) Source() media.Source { return media.SourceCamera }
func (f *fakeTrack) HasAudio() bool       { return f.audio }

func (f *fakeTrack) HasVideo() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.video
}

func (f *fakeTrack) SetAudioEnabled(enabled bool) {
	f.mu.Lock()
	f.audio = enabled
	f.mu.Unlock()
}

func (f *fakeTrack) SetVideoEnabled(enabled bool) {
	f.mu.Lock()
	f.video = enabled
	f.mu.Unlock()
}

func (f *fakeTrack) OnEnded(func()) {}
func (f *fakeTrack) Stop()          {}

type participant struct {
	sess provider.Session

	mu        sync.Mutex
	signals   []signaling.Message
	created   []provider.RemoteStream
	destroyed int
	left      int
}

func (p *participant) install() {
	p.sess.Handle(provider.Handler{
		OnSignal: func(msg signaling.Message) {
			p.mu.Lock()
			p.signals = append(p.signals, msg)
			p.mu.Unlock()
		},
		OnStreamCreated: func(s provider.RemoteStream) {
			p.mu.Lock()
			p.created = append(p.created, s)
			p.mu.Unlock()
		},
		OnStreamDestroyed: func(provider.RemoteStream) {
			p.mu.Lock()
			p.destroyed++
			p.mu.Unlock()
		},
		OnConnectionDestroyed: func() {
			p.mu.Lock()
			p.left++
			p.mu.Unlock()
		},
	})
}

func (p *participant) counts() (signals, created, destroyed, left int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.signals), len(p.created), p.destroyed, p.left
}

func setupSession(t *testing.T) (*Hub, *token.Issuer, string) {
	t.Helper()
	issuer := token.NewIssuer("api-key", "secret", time.Hour)
	hub := New(issuer, nil)
	sessionID, err := hub.CreateSession(context.Background())
	require.NoError(t, err)
	return hub, issuer, sessionID
}

func join(t *testing.T, hub *Hub, issuer *token.Issuer, sessionID string, role domain.Role) *participant {
	t.Helper()
	tok, err := issuer.Issue(sessionID, role, "", time.Hour)
	require.NoError(t, err)
	sess, err := hub.Connect(context.Background(), sessionID, tok)
	require.NoError(t, err)
	p := &participant{sess: sess}
	p.install()
	return p
}

func TestConnectRejectsForeignToken(t *testing.T) {
	hub, issuer, sessionID := setupSession(t)

	otherID, err := hub.CreateSession(context.Background())
	require.NoError(t, err)

	tok, err := issuer.Issue(otherID, domain.RoleCustomer, "", time.Hour)
	require.NoError(t, err)

	_, err = hub.Connect(context.Background(), sessionID, tok)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProvider)
}

func TestConnectRejectsUnknownSession(t *testing.T) {
	_, issuer, _ := setupSession(t)
	hub := New(issuer, nil)

	tok, err := issuer.Issue("nowhere", domain.RoleCustomer, "", time.Hour)
	require.NoError(t, err)

	_, err = hub.Connect(context.Background(), "nowhere", tok)
	assert.ErrorIs(t, err, domain.ErrProvider)
}

func TestSignalReachesOthersOnly(t *testing.T) {
	hub, issuer, sessionID := setupSession(t)
	customer := join(t, hub, issuer, sessionID, domain.RoleCustomer)
	agent := join(t, hub, issuer, sessionID, domain.RoleAgent)

	require.NoError(t, customer.sess.Signal(context.Background(), signaling.Message{Type: signaling.TypeEndCall}))

	require.Eventually(t, func() bool {
		s, _, _, _ := agent.counts()
		return s == 1
	}, time.Second, 5*time.Millisecond)

	s, _, _, _ := customer.counts()
	assert.Zero(t, s)
}

func TestPublishSingleSlot(t *testing.T) {
	hub, issuer, sessionID := setupSession(t)
	customer := join(t, hub, issuer, sessionID, domain.RoleCustomer)
	agent := join(t, hub, issuer, sessionID, domain.RoleAgent)

	pub, err := customer.sess.Publish(context.Background(), &fakeTrack{audio: true, video: true})
	require.NoError(t, err)

	_, err = customer.sess.Publish(context.Background(), &fakeTrack{})
	require.Error(t, err)

	require.Eventually(t, func() bool {
		_, c, _, _ := agent.counts()
		return c == 1
	}, time.Second, 5*time.Millisecond)

	// withdrawing frees the slot
	pub.Unpublish()
	pub.Unpublish() // idempotent

	_, err = customer.sess.Publish(context.Background(), &fakeTrack{video: true})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, c, d, _ := agent.counts()
		return c == 2 && d == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSubscriberSeesVideoToggle(t *testing.T) {
	hub, issuer, sessionID := setupSession(t)
	customer := join(t, hub, issuer, sessionID, domain.RoleCustomer)
	agent := join(t, hub, issuer, sessionID, domain.RoleAgent)

	pub, err := customer.sess.Publish(context.Background(), &fakeTrack{audio: true, video: true})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, c, _, _ := agent.counts()
		return c == 1
	}, time.Second, 5*time.Millisecond)

	agent.mu.Lock()
	remote := agent.created[0]
	agent.mu.Unlock()

	sub, err := agent.sess.Subscribe(context.Background(), remote)
	require.NoError(t, err)
	assert.True(t, sub.Stream().HasVideo())

	var mu sync.Mutex
	var toggles []bool
	sub.OnVideoChanged(func(enabled bool) {
		mu.Lock()
		toggles = append(toggles, enabled)
		mu.Unlock()
	})

	pub.SetVideoEnabled(false)
	pub.SetVideoEnabled(true)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(toggles) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []bool{false, true}, toggles)
	mu.Unlock()
}

func TestDisconnectNotifiesPeers(t *testing.T) {
	hub, issuer, sessionID := setupSession(t)
	customer := join(t, hub, issuer, sessionID, domain.RoleCustomer)
	agent := join(t, hub, issuer, sessionID, domain.RoleAgent)

	_, err := customer.sess.Publish(context.Background(), &fakeTrack{audio: true})
	require.NoError(t, err)

	customer.sess.Disconnect()
	customer.sess.Disconnect() // idempotent

	require.Eventually(t, func() bool {
		_, _, d, l := agent.counts()
		return d == 1 && l == 1
	}, time.Second, 5*time.Millisecond)

	// a closed connection refuses further sends
	err = customer.sess.Signal(context.Background(), signaling.Message{Type: signaling.TypeEndCall})
	assert.ErrorIs(t, err, domain.ErrProvider)
}

func TestSubscribeToWithdrawnStreamFails(t *testing.T) {
	hub, issuer, sessionID := setupSession(t)
	customer := join(t, hub, issuer, sessionID, domain.RoleCustomer)
	agent := join(t, hub, issuer, sessionID, domain.RoleAgent)

	pub, err := customer.sess.Publish(context.Background(), &fakeTrack{video: true})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, c, _, _ := agent.counts()
		return c == 1
	}, time.Second, 5*time.Millisecond)

	agent.mu.Lock()
	remote := agent.created[0]
	agent.mu.Unlock()

	pub.Unpublish()

	_, err = agent.sess.Subscribe(context.Background(), remote)
	assert.ErrorIs(t, err, domain.ErrProvider)
}
