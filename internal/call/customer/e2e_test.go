package customer_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meghabhansali2911/customer-engagement-platform/internal/call/agent"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/call/collab"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/call/customer"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/media"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/provider/memhub"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/queue"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/token"
)

type e2eTrack struct {
	source media.Source
	mu     sync.Mutex
	ended  func()
}

func (t *e2eTrack) Source() media.Source { return t.source }
func (t *e2eTrack) HasAudio() bool       { return t.source == media.SourceCamera }
func (t *e2eTrack) HasVideo() bool       { return true }
func (t *e2eTrack) SetAudioEnabled(bool) {}
func (t *e2eTrack) SetVideoEnabled(bool) {}
func (t *e2eTrack) OnEnded(fn func())    { t.mu.Lock(); t.ended = fn; t.mu.Unlock() }
func (t *e2eTrack) Stop()                {}

type e2eDevices struct{}

func (e2eDevices) Enumerate(context.Context) ([]media.DeviceInfo, error) {
	return []media.DeviceInfo{
		{ID: "mic", Kind: media.DeviceAudioInput},
		{ID: "cam", Kind: media.DeviceVideoInput},
	}, nil
}

func (e2eDevices) AcquireInput(context.Context, bool, bool) (media.Track, error) {
	return &e2eTrack{source: media.SourceCamera}, nil
}

func (e2eDevices) AcquireScreen(context.Context) (media.Track, error) {
	return &e2eTrack{source: media.SourceScreen}, nil
}

type memUploader struct{}

func (memUploader) Upload(_ context.Context, data []byte, filename string) (collab.FileRef, error) {
	return collab.FileRef{Name: filename, URL: fmt.Sprintf("mem://%s/%d", filename, len(data))}, nil
}

type stampCompositor struct{}

func (stampCompositor) CompositeSignature(document, signature []byte) ([]byte, error) {
	return append(append([]byte{}, document...), signature...), nil
}

type fixedAllocator struct{}

func (fixedAllocator) CreateSession(context.Context) (string, error) {
	return "https://cobrowse.example/session/42", nil
}

func recv[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

// TestFullCallScenario walks one call through its whole life: request,
// accept, media both ways, a shared file, a signed document, a co-browse
// handshake, the video-assist advisory, then hangup.
func TestFullCallScenario(t *testing.T) {
	ctx := context.Background()

	issuer := token.NewIssuer("api-key", "secret", time.Hour)
	hub := memhub.New(issuer, nil)
	q := queue.New(hub, issuer, nil, time.Hour)
	coord := queue.NewCoordinator(q, issuer, time.Hour)

	previews := make(chan collab.FileRef, 1)
	signed := make(chan collab.FileRef, 1)
	cobrowseURLs := make(chan string, 1)

	var cust *customer.Machine
	cust = customer.New(customer.Config{}, q, hub, e2eDevices{}, memUploader{},
		stampCompositor{}, fixedAllocator{}, customer.Hooks{
			Collab: collab.Hooks{
				OnFileShared: func(f collab.FileRef) { previews <- f },
				OnFileForSigning: func(f collab.FileRef) {
					go func() {
						_, err := cust.Collab().SignAndReturn(ctx,
							[]byte("contract"), []byte("jane"), f.Name)
						assert.NoError(t, err)
					}()
				},
			},
		})

	ag := agent.New(agent.Config{EnableAudio: true, EnableVideo: true}, coord,
		hub, e2eDevices{}, memUploader{}, agent.Hooks{
			Collab: collab.Hooks{
				OnSignedDocument: func(f collab.FileRef) { signed <- f },
				OnCobrowseURL:    func(url string) { cobrowseURLs <- url },
			},
		})

	// Jane requests a call and an agent picks it up
	require.NoError(t, cust.Start(ctx, "Jane Doe"))
	require.NoError(t, ag.Accept(ctx, cust.RequestID()))
	require.Empty(t, q.ListPending())

	require.Eventually(t, func() bool {
		return cust.State() == customer.StateActive && ag.State() == agent.StateActive
	}, time.Second, 5*time.Millisecond)

	// the agent shares a statement for preview; Jane closes it
	_, err := ag.Collab().ShareFile(ctx, []byte("statement"), "statement.pdf")
	require.NoError(t, err)
	assert.Equal(t, "statement.pdf", recv(t, previews, "file preview").Name)

	require.NoError(t, cust.Collab().ClosePreview(ctx))

	// the closed preview frees the slot for another share
	require.Eventually(t, func() bool {
		_, err := ag.Collab().ShareFile(ctx, []byte("followup"), "followup.pdf")
		return err == nil
	}, time.Second, 5*time.Millisecond)
	recv(t, previews, "second preview")

	// signing round trip
	_, err = ag.Collab().SendForSigning(ctx, []byte("contract"), "contract.pdf")
	require.NoError(t, err)
	assert.Equal(t, "signed-contract.pdf", recv(t, signed, "signed document").Name)

	// co-browse handshake: Jane's side allocates, the agent gets the URL
	require.NoError(t, ag.Collab().RequestCobrowse(ctx))
	assert.Equal(t, "https://cobrowse.example/session/42", recv(t, cobrowseURLs, "cobrowse url"))

	// video-assist advisory is last-write-wins on Jane's side
	require.NoError(t, ag.Collab().SetVideoAssist(ctx, true))
	require.Eventually(t, func() bool { return cust.Collab().AssistActive() },
		time.Second, 5*time.Millisecond)
	require.NoError(t, ag.Collab().SetVideoAssist(ctx, false))
	require.Eventually(t, func() bool { return !cust.Collab().AssistActive() },
		time.Second, 5*time.Millisecond)

	// the agent hangs up and Jane's side follows
	ag.End(ctx)
	require.Eventually(t, func() bool { return cust.State() == customer.StateEnded },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, agent.StateEnded, ag.State())
}
