package main

import (
	"context"
	"sync"

	"github.com/meghabhansali2911/customer-engagement-platform/internal/media"
)

// probeDevices is a scripted capture backend with one microphone and one
// camera. Every acquisition succeeds immediately.
type probeDevices struct{}

func newProbeDevices() media.Devices { return probeDevices{} }

func (probeDevices) Enumerate(context.Context) ([]media.DeviceInfo, error) {
	return []media.DeviceInfo{
		{ID: "mic0", Kind: media.DeviceAudioInput, Label: "Probe Microphone"},
		{ID: "cam0", Kind: media.DeviceVideoInput, Label: "Probe Camera"},
	}, nil
}

func (probeDevices) AcquireInput(_ context.Context, audio, video bool) (media.Track, error) {
	return &probeTrack{source: media.SourceCamera, audio: audio, video: video}, nil
}

func (probeDevices) AcquireScreen(context.Context) (media.Track, error) {
	return &probeTrack{source: media.SourceScreen, video: true}, nil
}

type probeTrack struct {
	source media.Source
	audio  bool
	video  bool

	mu      sync.Mutex
	stopped bool
	onEnded func()
}

func (t *probeTrack) Source() media.Source { return t.source }
func (t *probeTrack) HasAudio() bool       { return t.audio }
func (t *probeTrack) HasVideo() bool       { return t.video }

func (t *probeTrack) SetAudioEnabled(bool) {}
func (t *probeTrack) SetVideoEnabled(bool) {}

func (t *probeTrack) OnEnded(fn func()) {
	t.mu.Lock()
	t.onEnded = fn
	t.mu.Unlock()
}

func (t *probeTrack) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}
