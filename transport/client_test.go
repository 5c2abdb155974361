package transport

import (
	"encoding/json"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpnostr/relaypool"
	"mcpnostr/signer"
	"mcpnostr/wire"
)

func TestTagHelpers(t *testing.T) {
	tags := nostr.Tags{{"p", "abc"}, {"support_encryption"}}
	v, ok := firstTagValue(tags, "p")
	assert.True(t, ok)
	assert.Equal(t, "abc", v)

	assert.True(t, hasTagValue(tags, "p", "abc"))
	assert.False(t, hasTagValue(tags, "p", "xyz"))
	assert.True(t, hasTag(tags, "support_encryption"))
	assert.False(t, hasTag(tags, "cap"))
}

func newTestClient(t *testing.T) (*Client, signer.Keypair, signer.Keypair) {
	clientKp, err := signer.Generate()
	require.NoError(t, err)
	serverKp, err := signer.Generate()
	require.NoError(t, err)
	pool := relaypool.New(nil)
	c := NewClient(pool, signer.New(clientKp), serverKp.PublicKeyHex, EncryptionOptional)
	return c, clientKp, serverKp
}

func TestClientOnEventDeliversKnownCorrelation(t *testing.T) {
	c, clientKp, serverKp := newTestClient(t)

	c.mu.Lock()
	c.pendingRequestIDs["req-event-1"] = struct{}{}
	c.mu.Unlock()

	result, _ := json.Marshal(map[string]any{"tools": []any{}})
	msg := wire.NewResult(jsonrpc2.ID{Num: 7}, result)
	evt, err := wire.Encode(msg, serverKp.PublicKeyHex, wire.KindRPC,
		nostr.Tags{{wire.TagRecipient, clientKp.PublicKeyHex}, {wire.TagEvent, "req-event-1"}})
	require.NoError(t, err)
	require.NoError(t, signer.New(serverKp).Sign(&evt))

	c.onEvent(evt)

	select {
	case delivered := <-c.Recv():
		assert.Equal(t, jsonrpc2.ID{Num: 7}, delivered.ID)
	default:
		t.Fatal("expected a delivered message")
	}

	c.mu.Lock()
	_, stillPending := c.pendingRequestIDs["req-event-1"]
	c.mu.Unlock()
	assert.False(t, stillPending)
}

func TestClientOnEventDropsUnknownCorrelation(t *testing.T) {
	c, clientKp, serverKp := newTestClient(t)

	result, _ := json.Marshal(map[string]any{})
	msg := wire.NewResult(jsonrpc2.ID{Num: 1}, result)
	evt, err := wire.Encode(msg, serverKp.PublicKeyHex, wire.KindRPC,
		nostr.Tags{{wire.TagRecipient, clientKp.PublicKeyHex}, {wire.TagEvent, "unknown-event"}})
	require.NoError(t, err)
	require.NoError(t, signer.New(serverKp).Sign(&evt))

	c.onEvent(evt)

	select {
	case <-c.Recv():
		t.Fatal("did not expect a delivered message for an unknown correlation id")
	default:
	}
}

func TestClientOnEventDeliversNotificationWithoutETag(t *testing.T) {
	c, clientKp, serverKp := newTestClient(t)

	params, _ := json.Marshal(map[string]any{})
	msg := wire.NewNotification("notifications/progress", params)
	evt, err := wire.Encode(msg, serverKp.PublicKeyHex, wire.KindRPC,
		nostr.Tags{{wire.TagRecipient, clientKp.PublicKeyHex}})
	require.NoError(t, err)
	require.NoError(t, signer.New(serverKp).Sign(&evt))

	c.onEvent(evt)

	select {
	case delivered := <-c.Recv():
		assert.Equal(t, "notifications/progress", delivered.Method)
	default:
		t.Fatal("expected the notification to be delivered")
	}
}
