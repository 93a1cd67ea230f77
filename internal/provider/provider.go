// Package provider defines the contract the call state machines need from the
// managed real-time media session. The production provider is an external
// service; memhub implements the same contract in-process for the signaling
// gateway and for tests.
package provider

import (
	"context"

	"github.com/meghabhansali2911/customer-engagement-platform/internal/media"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/signaling"
)

// Provider allocates media sessions and connects participants to them
type Provider interface {
	// CreateSession allocates a new media session and returns its id
	CreateSession(ctx context.Context) (string, error)

	// Connect joins a session with a role-scoped token. The returned Session
	// is connected but publishes nothing yet.
	Connect(ctx context.Context, sessionID, token string) (Session, error)
}

// Handler receives session events. Callbacks for one session are invoked
// sequentially; a handler runs to completion before the next event fires.
type Handler struct {
	OnSignal              func(msg signaling.Message)
	OnStreamCreated       func(stream RemoteStream)
	OnStreamDestroyed     func(stream RemoteStream)
	OnConnectionDestroyed func()
	OnException           func(err error)
}

// Session is one party's connection to a media session
type Session interface {
	// ID returns the session id this connection belongs to
	ID() string

	// Signal broadcasts a typed message to the other session participants.
	// Fire-and-forget: an error means the local send failed, not that
	// delivery failed.
	Signal(ctx context.Context, msg signaling.Message) error

	// Publish sends a local track into the session. At most one publisher
	// per connection may be live; publishing while one exists is an error.
	Publish(ctx context.Context, track media.Track) (Publisher, error)

	// Subscribe attaches to a remote stream
	Subscribe(ctx context.Context, stream RemoteStream) (Subscriber, error)

	// Handle installs the event handler. Must be called before events are
	// expected; replaces any previous handler.
	Handle(h Handler)

	// Disconnect leaves the session. Idempotent.
	Disconnect()
}

// Publisher is a live outgoing track slot
type Publisher interface {
	// Track returns the published local track
	Track() media.Track

	// SetAudioEnabled flips the published audio flag
	SetAudioEnabled(enabled bool)

	// SetVideoEnabled flips the published video flag; subscribers observe
	// the change as a video enabled/disabled event
	SetVideoEnabled(enabled bool)

	// Unpublish withdraws the stream from the session. The track itself
	// stays owned by the caller. Idempotent.
	Unpublish()
}

// RemoteStream describes another participant's published stream
type RemoteStream interface {
	ID() string
	Name() string
	HasVideo() bool
}

// Subscriber is an attachment to a remote stream
type Subscriber interface {
	// Stream returns the subscribed remote stream
	Stream() RemoteStream

	// OnVideoChanged registers a callback for remote video enable/disable
	OnVideoChanged(fn func(enabled bool))

	// Close detaches from the stream. Idempotent.
	Close()
}
