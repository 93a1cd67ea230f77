// Package media defines the surface the call state machines need from local
// device capture. Real capture backends live with the embedding application;
// this package only fixes the contract so track ownership and release rules
// can be enforced by the machines.
package media

import "context"

// DeviceKind distinguishes capture hardware classes
type DeviceKind string

const (
	DeviceAudioInput DeviceKind = "audioinput"
	DeviceVideoInput DeviceKind = "videoinput"
)

// DeviceInfo describes one attached capture device
type DeviceInfo struct {
	ID    string
	Kind  DeviceKind
	Label string
}

// Source identifies what a track captures
type Source string

const (
	SourceCamera Source = "camera"
	SourceScreen Source = "screen"
)

// Track is a local outgoing media track. The acquiring party owns it
// exclusively and must Stop it on every exit path.
type Track interface {
	// Source reports what the track captures
	Source() Source

	// HasAudio reports whether the track carries audio
	HasAudio() bool

	// HasVideo reports whether the track carries video
	HasVideo() bool

	// SetAudioEnabled mutes or unmutes the audio component
	SetAudioEnabled(enabled bool)

	// SetVideoEnabled pauses or resumes the video component
	SetVideoEnabled(enabled bool)

	// OnEnded registers a callback fired when capture stops out-of-band
	// (e.g. the OS ends a screen share). Fired at most once.
	OnEnded(fn func())

	// Stop releases the underlying device. Idempotent.
	Stop()
}

// Devices acquires local capture hardware. All methods may block on
// permission prompts and may fail; failures map to ErrMediaPermission.
type Devices interface {
	// Enumerate lists attached capture devices without acquiring them
	Enumerate(ctx context.Context) ([]DeviceInfo, error)

	// AcquireInput opens a camera/microphone track with the requested components
	AcquireInput(ctx context.Context, audio, video bool) (Track, error)

	// AcquireScreen opens a screen-capture track (video only)
	AcquireScreen(ctx context.Context) (Track, error)
}

// HasKind reports whether devices contains at least one device of kind
func HasKind(devices []DeviceInfo, kind DeviceKind) bool {
	for _, d := range devices {
		if d.Kind == kind {
			return true
		}
	}
	return false
}
