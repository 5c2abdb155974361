package wire

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpnostr/signer"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	kp, err := signer.Generate()
	require.NoError(t, err)

	params, _ := json.Marshal(map[string]any{})
	msg := NewRequest(jsonrpc2.ID{Num: 7}, "tools/list", params)
	tags := nostr.Tags{{TagRecipient, "deadbeef"}}

	evt, err := Encode(msg, kp.PublicKeyHex, KindRPC, tags)
	require.NoError(t, err)
	assert.Equal(t, tags, evt.Tags)
	assert.Equal(t, KindRPC, evt.Kind)

	decoded, err := Decode(evt)
	require.NoError(t, err)
	assert.Equal(t, msg.Method, decoded.Method)
	assert.Equal(t, msg.ID, decoded.ID)
	assert.Equal(t, KindRequest, decoded.Kind)
}

func TestDecodeInvalidContentIsSentinel(t *testing.T) {
	evt := nostr.Event{Content: "not json at all"}
	_, err := Decode(evt)
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestMarshalRejectsOversizedMessage(t *testing.T) {
	huge := strings.Repeat("a", MaxContentBytes+1)
	params, _ := json.Marshal(map[string]string{"blob": huge})
	msg := NewRequest(jsonrpc2.ID{Num: 1}, "x", params)
	_, err := Marshal(msg)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestGiftWrapRoundTrip(t *testing.T) {
	sender, err := signer.Generate()
	require.NoError(t, err)
	recipientKp, err := signer.Generate()
	require.NoError(t, err)
	recipient := signer.New(recipientKp)

	params, _ := json.Marshal(map[string]any{})
	msg := NewRequest(jsonrpc2.ID{Num: 1}, "ping", params)
	inner, err := Encode(msg, sender.PublicKeyHex, KindRPC, nostr.Tags{{TagRecipient, recipientKp.PublicKeyHex}})
	require.NoError(t, err)
	require.NoError(t, signer.New(sender).Sign(&inner))

	outer, err := Wrap(inner, recipientKp.PublicKeyHex)
	require.NoError(t, err)
	assert.Equal(t, KindGiftWrap, outer.Kind)

	unwrapped, err := Unwrap(outer, recipient)
	require.NoError(t, err)
	assert.Equal(t, sender.PublicKeyHex, unwrapped.PubKey)
	assert.Equal(t, inner.ID, unwrapped.ID)
}

func TestUnwrapDetectsTamperedCiphertext(t *testing.T) {
	sender, err := signer.Generate()
	require.NoError(t, err)
	recipientKp, err := signer.Generate()
	require.NoError(t, err)
	recipient := signer.New(recipientKp)

	params, _ := json.Marshal(map[string]any{})
	msg := NewRequest(jsonrpc2.ID{Num: 1}, "ping", params)
	inner, err := Encode(msg, sender.PublicKeyHex, KindRPC, nostr.Tags{})
	require.NoError(t, err)
	require.NoError(t, signer.New(sender).Sign(&inner))

	outer, err := Wrap(inner, recipientKp.PublicKeyHex)
	require.NoError(t, err)
	outer.Content = outer.Content[:len(outer.Content)-4] + "AAAA"

	_, err = Unwrap(outer, recipient)
	assert.ErrorIs(t, err, signer.ErrDecryptFailed)
}
