// Package collab implements the collaboration sub-protocols that ride on an
// active call's signaling channel: file preview, file request, the document
// signing round trip, the video-assist advisory, and the co-browse handshake.
//
// Every sub-protocol is stateless at the channel level. The only state is the
// initiator's outstanding-exchange flag, cleared on receipt of the response
// or on call end. A response with no matching outstanding request is logged
// and ignored, never fatal.
package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/meghabhansali2911/customer-engagement-platform/internal/domain"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/signaling"
	"github.com/meghabhansali2911/customer-engagement-platform/pkg/logger"
)

// ErrExchangeInFlight rejects starting an exchange of a kind that already has
// one outstanding. This is the initiating side's guard, not a protocol error.
var ErrExchangeInFlight = errors.New("exchange of this kind already in flight")

// Kind identifies a collaboration sub-protocol
type Kind string

const (
	KindFilePreview Kind = "file-preview"
	KindFileRequest Kind = "file-request"
	KindSigning     Kind = "signing"
	KindCobrowse    Kind = "cobrowse"
)

// FileRef points at an uploaded file
type FileRef struct {
	Name string
	URL  string
}

// Uploader stores file bytes and returns a retrievable reference.
// Satisfied by the storage service.
type Uploader interface {
	Upload(ctx context.Context, data []byte, filename string) (FileRef, error)
}

// Compositor stamps a captured signature onto a document. External
// collaborator; the compositing itself is out of scope.
type Compositor interface {
	CompositeSignature(document, signature []byte) ([]byte, error)
}

// CobrowseAllocator allocates a co-browse session out-of-band and returns
// its join URL
type CobrowseAllocator interface {
	CreateSession(ctx context.Context) (string, error)
}

// Sender broadcasts a signal to the other call participants.
// Satisfied by provider.Session.
type Sender interface {
	Signal(ctx context.Context, msg signaling.Message) error
}

// Hooks surface collaboration events to the embedding application. All are
// optional. Hooks fire only for well-formed signals; a matched response also
// clears its exchange before the hook runs.
type Hooks struct {
	// OnFileShared fires when the remote party shares a file for preview
	OnFileShared func(file FileRef)

	// OnFileRequested fires when the remote party asks for a local upload
	OnFileRequested func()

	// OnPreviewClosed fires when the remote party closes a shared preview
	OnPreviewClosed func()

	// OnFileForSigning fires when the remote party sends a document to sign
	OnFileForSigning func(file FileRef)

	// OnSignedDocument fires when the signed copy comes back
	OnSignedDocument func(file FileRef)

	// OnCobrowseURL fires when the co-browse join URL arrives
	OnCobrowseURL func(sessionURL string)

	// OnVideoAssist fires on each advisory toggle with the latest value
	OnVideoAssist func(enabled bool)
}

// Peer is one party's collaboration endpoint for a single call. It owns the
// outstanding-exchange flags and the video-assist advisory value.
type Peer struct {
	send       Sender
	uploads    Uploader
	compositor Compositor
	cobrowse   CobrowseAllocator
	hooks      Hooks

	mu          sync.Mutex
	outstanding map[Kind]bool
	assist      bool
}

// NewPeer creates a collaboration endpoint. uploads is required for the
// initiating helpers that share files; compositor and cobrowse may be nil on
// a party that never responds to those exchanges.
func NewPeer(send Sender, uploads Uploader, compositor Compositor, cobrowse CobrowseAllocator, hooks Hooks) *Peer {
	return &Peer{
		send:        send,
		uploads:     uploads,
		compositor:  compositor,
		cobrowse:    cobrowse,
		hooks:       hooks,
		outstanding: make(map[Kind]bool),
	}
}

// Bind registers this peer's handlers on the signal dispatcher
func (p *Peer) Bind(d *signaling.Dispatcher) {
	d.On(signaling.TypeFileShare, p.handleFileShare)
	d.On(signaling.TypeFilePreview, p.handleFileShare)
	d.On(signaling.TypeFileRequest, func(signaling.Message) { p.handleFileRequest() })
	d.On(signaling.TypeFilePreviewClosed, func(signaling.Message) { p.handlePreviewClosed() })
	d.On(signaling.TypeFileForSigning, p.handleFileForSigning)
	d.On(signaling.TypeSignedDocument, p.handleSignedDocument)
	d.On(signaling.TypeCobrowseRequest, p.handleCobrowseRequest)
	d.On(signaling.TypeCobrowseURL, p.handleCobrowseURL)
	d.On(signaling.TypeVideoAssist, p.handleVideoAssist)
}

// begin marks an exchange outstanding, rejecting a duplicate of the same kind
func (p *Peer) begin(kind Kind) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.outstanding[kind] {
		return fmt.Errorf("%w: %s", ErrExchangeInFlight, kind)
	}
	p.outstanding[kind] = true
	return nil
}

// complete clears an outstanding exchange; false means there was none
func (p *Peer) complete(kind Kind) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.outstanding[kind] {
		return false
	}
	delete(p.outstanding, kind)
	return true
}

// clear drops an exchange without requiring it to exist (send-failure unwind)
func (p *Peer) clear(kind Kind) {
	p.mu.Lock()
	delete(p.outstanding, kind)
	p.mu.Unlock()
}

// Outstanding reports whether an exchange of kind is in flight
func (p *Peer) Outstanding(kind Kind) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outstanding[kind]
}

// Reset clears all outstanding exchanges, for call end
func (p *Peer) Reset() {
	p.mu.Lock()
	p.outstanding = make(map[Kind]bool)
	p.assist = false
	p.mu.Unlock()
}

// ShareFile uploads data and signals the remote party to preview it. The
// exchange stays outstanding until the remote party closes the preview.
func (p *Peer) ShareFile(ctx context.Context, data []byte, filename string) (FileRef, error) {
	if err := p.begin(KindFilePreview); err != nil {
		return FileRef{}, err
	}

	ref, err := p.uploads.Upload(ctx, data, filename)
	if err != nil {
		p.clear(KindFilePreview)
		return FileRef{}, fmt.Errorf("%w: %v", domain.ErrUpload, err)
	}

	msg, err := signaling.NewFileMessage(signaling.TypeFileShare, ref.Name, ref.URL)
	if err != nil {
		p.clear(KindFilePreview)
		return FileRef{}, err
	}
	if err := p.send.Signal(ctx, msg); err != nil {
		p.clear(KindFilePreview)
		return FileRef{}, err
	}
	return ref, nil
}

// RequestFile asks the remote party to upload and share a file
func (p *Peer) RequestFile(ctx context.Context) error {
	if err := p.begin(KindFileRequest); err != nil {
		return err
	}
	if err := p.send.Signal(ctx, signaling.Message{Type: signaling.TypeFileRequest}); err != nil {
		p.clear(KindFileRequest)
		return err
	}
	return nil
}

// ClosePreview acknowledges a received file preview as closed
func (p *Peer) ClosePreview(ctx context.Context) error {
	return p.send.Signal(ctx, signaling.Message{Type: signaling.TypeFilePreviewClosed})
}

// SendForSigning uploads a document and asks the remote party to sign it
func (p *Peer) SendForSigning(ctx context.Context, data []byte, filename string) (FileRef, error) {
	if err := p.begin(KindSigning); err != nil {
		return FileRef{}, err
	}

	ref, err := p.uploads.Upload(ctx, data, filename)
	if err != nil {
		p.clear(KindSigning)
		return FileRef{}, fmt.Errorf("%w: %v", domain.ErrUpload, err)
	}

	msg, err := signaling.NewFileMessage(signaling.TypeFileForSigning, ref.Name, ref.URL)
	if err != nil {
		p.clear(KindSigning)
		return FileRef{}, err
	}
	if err := p.send.Signal(ctx, msg); err != nil {
		p.clear(KindSigning)
		return FileRef{}, err
	}
	return ref, nil
}

// SignAndReturn composites a captured signature onto the received document,
// uploads the result, and returns it to the requesting party
func (p *Peer) SignAndReturn(ctx context.Context, document, signature []byte, filename string) (FileRef, error) {
	if p.compositor == nil {
		return FileRef{}, fmt.Errorf("no signature compositor configured")
	}

	composited, err := p.compositor.CompositeSignature(document, signature)
	if err != nil {
		return FileRef{}, fmt.Errorf("composite signature: %w", err)
	}

	ref, err := p.uploads.Upload(ctx, composited, "signed-"+filename)
	if err != nil {
		return FileRef{}, fmt.Errorf("%w: %v", domain.ErrUpload, err)
	}

	msg, err := signaling.NewFileMessage(signaling.TypeSignedDocument, ref.Name, ref.URL)
	if err != nil {
		return FileRef{}, err
	}
	if err := p.send.Signal(ctx, msg); err != nil {
		return FileRef{}, err
	}
	return ref, nil
}

// RequestCobrowse asks the remote party to allocate a co-browse session
func (p *Peer) RequestCobrowse(ctx context.Context) error {
	if err := p.begin(KindCobrowse); err != nil {
		return err
	}
	if err := p.send.Signal(ctx, signaling.Message{Type: signaling.TypeCobrowseRequest}); err != nil {
		p.clear(KindCobrowse)
		return err
	}
	return nil
}

// SetVideoAssist sends the advisory toggle. It does not alter any publish
// state on either side; repeated sends are last-write-wins for the receiver.
func (p *Peer) SetVideoAssist(ctx context.Context, enabled bool) error {
	data := signaling.VideoAssistDisable
	if enabled {
		data = signaling.VideoAssistEnable
	}
	return p.send.Signal(ctx, signaling.Message{Type: signaling.TypeVideoAssist, Data: data})
}

// AssistActive returns the latest advisory value received
func (p *Peer) AssistActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.assist
}

func (p *Peer) handleFileShare(msg signaling.Message) {
	payload, err := signaling.ParseFilePayload(msg.Data)
	if err != nil {
		logger.Warn("malformed file signal", zap.String("type", string(msg.Type)), zap.Error(err))
		return
	}

	// A file-share may answer an outstanding file-request or arrive
	// spontaneously; both open a preview on this side.
	p.complete(KindFileRequest)

	if p.hooks.OnFileShared != nil {
		p.hooks.OnFileShared(FileRef{Name: payload.Name, URL: payload.URL})
	}
}

func (p *Peer) handleFileRequest() {
	if p.hooks.OnFileRequested != nil {
		p.hooks.OnFileRequested()
	}
}

func (p *Peer) handlePreviewClosed() {
	if !p.complete(KindFilePreview) {
		logger.Warn("file-preview-closed with no outstanding preview")
		return
	}
	if p.hooks.OnPreviewClosed != nil {
		p.hooks.OnPreviewClosed()
	}
}

func (p *Peer) handleFileForSigning(msg signaling.Message) {
	payload, err := signaling.ParseFilePayload(msg.Data)
	if err != nil {
		logger.Warn("malformed file-for-signing signal", zap.Error(err))
		return
	}
	if p.hooks.OnFileForSigning != nil {
		p.hooks.OnFileForSigning(FileRef{Name: payload.Name, URL: payload.URL})
	}
}

func (p *Peer) handleSignedDocument(msg signaling.Message) {
	if !p.complete(KindSigning) {
		logger.Warn("signed-document with no outstanding signing request")
		return
	}

	payload, err := signaling.ParseFilePayload(msg.Data)
	if err != nil {
		logger.Warn("malformed signed-document signal", zap.Error(err))
		return
	}
	if p.hooks.OnSignedDocument != nil {
		p.hooks.OnSignedDocument(FileRef{Name: payload.Name, URL: payload.URL})
	}
}

func (p *Peer) handleCobrowseRequest(msg signaling.Message) {
	if p.cobrowse == nil {
		logger.Warn("cobrowse requested but no allocator configured")
		return
	}

	ctx := context.Background()
	sessionURL, err := p.cobrowse.CreateSession(ctx)
	if err != nil {
		logger.Error("cobrowse session allocation failed", zap.Error(err))
		return
	}

	reply, err := signaling.NewCobrowseURLMessage(sessionURL)
	if err != nil {
		logger.Error("cobrowse reply encoding failed", zap.Error(err))
		return
	}
	if err := p.send.Signal(ctx, reply); err != nil {
		logger.Error("cobrowse reply send failed", zap.Error(err))
	}
}

func (p *Peer) handleCobrowseURL(msg signaling.Message) {
	if !p.complete(KindCobrowse) {
		logger.Warn("cobrowsing-url with no outstanding request")
		return
	}

	payload, err := signaling.ParseCobrowsePayload(msg.Data)
	if err != nil {
		logger.Warn("malformed cobrowsing-url signal", zap.Error(err))
		return
	}
	if p.hooks.OnCobrowseURL != nil {
		p.hooks.OnCobrowseURL(payload.SessionURL)
	}
}

func (p *Peer) handleVideoAssist(msg signaling.Message) {
	enabled := msg.Data == signaling.VideoAssistEnable

	p.mu.Lock()
	p.assist = enabled
	p.mu.Unlock()

	if p.hooks.OnVideoAssist != nil {
		p.hooks.OnVideoAssist(enabled)
	}
}
