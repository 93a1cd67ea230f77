package signaling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchRoutesByType(t *testing.T) {
	d := NewDispatcher()

	var got []Message
	d.On(TypeCallAccepted, func(msg Message) { got = append(got, msg) })

	d.Dispatch(Message{Type: TypeCallAccepted})
	d.Dispatch(Message{Type: TypeEndCall}) // unhandled, dropped

	require.Len(t, got, 1)
	assert.Equal(t, TypeCallAccepted, got[0].Type)
}

func TestOnReplacesHandler(t *testing.T) {
	d := NewDispatcher()

	first, second := 0, 0
	d.On(TypeEndCall, func(Message) { first++ })
	d.On(TypeEndCall, func(Message) { second++ })

	d.Dispatch(Message{Type: TypeEndCall})

	assert.Zero(t, first)
	assert.Equal(t, 1, second)
}

func TestOffRemovesHandler(t *testing.T) {
	d := NewDispatcher()

	calls := 0
	d.On(TypeFileShare, func(Message) { calls++ })
	d.Off(TypeFileShare)

	msg, err := NewFileMessage(TypeFileShare, "a.pdf", "https://files/a.pdf")
	require.NoError(t, err)
	d.Dispatch(msg)

	assert.Zero(t, calls)
}

func TestFilePayloadRoundTrip(t *testing.T) {
	msg, err := NewFileMessage(TypeFileForSigning, "contract.pdf", "https://files/contract.pdf")
	require.NoError(t, err)

	payload, err := ParseFilePayload(msg.Data)
	require.NoError(t, err)
	assert.Equal(t, "contract.pdf", payload.Name)
	assert.Equal(t, "https://files/contract.pdf", payload.URL)
}

func TestParseFilePayloadRejectsGarbage(t *testing.T) {
	_, err := ParseFilePayload("not json")
	assert.Error(t, err)
}

func TestCobrowsePayloadRoundTrip(t *testing.T) {
	msg, err := NewCobrowseURLMessage("https://cobrowse/join/abc")
	require.NoError(t, err)
	assert.Equal(t, TypeCobrowseURL, msg.Type)

	payload, err := ParseCobrowsePayload(msg.Data)
	require.NoError(t, err)
	assert.Equal(t, "https://cobrowse/join/abc", payload.SessionURL)
}
