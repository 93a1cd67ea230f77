// Package signaling defines the typed messages both parties exchange over the
// media session's broadcast signal primitive, and a dispatcher that routes
// incoming signals to registered handlers by type.
package signaling

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/meghabhansali2911/customer-engagement-platform/pkg/logger"
)

// Type names a signal on the wire
type Type string

// Call lifecycle signals
const (
	TypeCallAccepted Type = "callAccepted"
	TypeEndCall      Type = "endCall"
	TypeMediaFailed  Type = "media-failed"
)

// Collaboration signals
const (
	TypeVideoAssist       Type = "video-assist"
	TypeFileShare         Type = "file-share"
	TypeFilePreview       Type = "file-preview"
	TypeFileRequest       Type = "file-request"
	TypeFilePreviewClosed Type = "file-preview-closed"
	TypeFileForSigning    Type = "file-for-signing"
	TypeSignedDocument    Type = "signed-document"
	TypeCobrowseRequest   Type = "request-cobrowsing-url"
	TypeCobrowseURL       Type = "cobrowsing-url"
)

// Video assist payload values; repeated toggles are last-write-wins
const (
	VideoAssistEnable  = "enable-video"
	VideoAssistDisable = "disable-video"
)

// Message is one signal on the wire. Delivery is best-effort with no
// ordering guarantee across senders.
type Message struct {
	Type Type   `json:"type"`
	Data string `json:"data,omitempty"`
}

// FilePayload is the body of file-share, file-preview, file-for-signing and
// signed-document signals
type FilePayload struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// CobrowsePayload is the body of a cobrowsing-url signal
type CobrowsePayload struct {
	SessionURL string `json:"sessionUrl"`
}

// NewFileMessage builds a signal carrying a file reference
func NewFileMessage(t Type, name, url string) (Message, error) {
	data, err := json.Marshal(FilePayload{Name: name, URL: url})
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode file payload: %w", err)
	}
	return Message{Type: t, Data: string(data)}, nil
}

// NewCobrowseURLMessage builds a cobrowsing-url signal
func NewCobrowseURLMessage(sessionURL string) (Message, error) {
	data, err := json.Marshal(CobrowsePayload{SessionURL: sessionURL})
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode cobrowse payload: %w", err)
	}
	return Message{Type: TypeCobrowseURL, Data: string(data)}, nil
}

// ParseFilePayload decodes a file payload from a signal body
func ParseFilePayload(data string) (FilePayload, error) {
	var p FilePayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return FilePayload{}, fmt.Errorf("failed to decode file payload: %w", err)
	}
	return p, nil
}

// ParseCobrowsePayload decodes a cobrowse payload from a signal body
func ParseCobrowsePayload(data string) (CobrowsePayload, error) {
	var p CobrowsePayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return CobrowsePayload{}, fmt.Errorf("failed to decode cobrowse payload: %w", err)
	}
	return p, nil
}

// Handler processes one incoming signal
type Handler func(msg Message)

// Dispatcher routes incoming signals to handlers registered per type.
// Unhandled types are logged at debug level and dropped; a stray signal is
// never fatal to the call.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[Type]Handler
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[Type]Handler)}
}

// On registers the handler for a signal type, replacing any previous one
func (d *Dispatcher) On(t Type, h Handler) {
	d.mu.Lock()
	d.handlers[t] = h
	d.mu.Unlock()
}

// Off removes the handler for a signal type
func (d *Dispatcher) Off(t Type) {
	d.mu.Lock()
	delete(d.handlers, t)
	d.mu.Unlock()
}

// Dispatch routes one signal to its handler
func (d *Dispatcher) Dispatch(msg Message) {
	d.mu.RLock()
	h, ok := d.handlers[msg.Type]
	d.mu.RUnlock()

	if !ok {
		logger.Debug("unhandled signal", zap.String("type", string(msg.Type)))
		return
	}
	h(msg)
}
