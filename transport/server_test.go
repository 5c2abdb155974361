package transport

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpnostr/internal/config"
	"mcpnostr/payments"
	"mcpnostr/relaypool"
	"mcpnostr/signer"
	"mcpnostr/wire"
)

type fakeLocal struct {
	handled []wire.Message
	out     chan wire.Message
}

func newFakeLocal() *fakeLocal {
	return &fakeLocal{out: make(chan wire.Message, 8)}
}

func (f *fakeLocal) Handle(ctx context.Context, msg wire.Message) error {
	f.handled = append(f.handled, msg)
	return nil
}

func (f *fakeLocal) Outbound() <-chan wire.Message { return f.out }

func newTestServer(t *testing.T, local LocalServer, cfg ServerConfig) (*Server, signer.Keypair) {
	serverKp, err := signer.Generate()
	require.NoError(t, err)
	pool := relaypool.New(nil)
	return NewServer(pool, signer.New(serverKp), local, cfg), serverKp
}

func signedRequestEvent(t *testing.T, client signer.Keypair, serverPubkeyHex string, id jsonrpc2.ID, method string, params json.RawMessage) nostr.Event {
	msg := wire.NewRequest(id, method, params)
	evt, err := wire.Encode(msg, client.PublicKeyHex, wire.KindRPC, nostr.Tags{{wire.TagRecipient, serverPubkeyHex}})
	require.NoError(t, err)
	require.NoError(t, signer.New(client).Sign(&evt))
	return evt
}

func TestOnEventCreatesSessionAndOverloadsID(t *testing.T) {
	local := newFakeLocal()
	srv, serverKp := newTestServer(t, local, ServerConfig{EncryptionMode: EncryptionOptional})

	clientKp, err := signer.Generate()
	require.NoError(t, err)

	params, _ := json.Marshal(map[string]any{})
	evt := signedRequestEvent(t, clientKp, serverKp.PublicKeyHex, jsonrpc2.ID{Num: 7}, "tools/list", params)

	srv.onEvent(evt)

	require.Len(t, local.handled, 1)
	assert.Equal(t, "tools/list", local.handled[0].Method)
	assert.True(t, local.handled[0].ID.IsString)
	assert.Equal(t, evt.ID, local.handled[0].ID.Str)

	srv.mu.Lock()
	sess, ok := srv.sessions[clientKp.PublicKeyHex]
	srv.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, jsonrpc2.ID{Num: 7}, sess.pendingByEvent[evt.ID])
}

func TestOnEventDropsUnauthorizedSender(t *testing.T) {
	local := newFakeLocal()
	allowedKp, err := signer.Generate()
	require.NoError(t, err)
	srv, serverKp := newTestServer(t, local, ServerConfig{
		EncryptionMode:    EncryptionOptional,
		AllowedPublicKeys: []string{allowedKp.PublicKeyHex},
	})

	otherKp, err := signer.Generate()
	require.NoError(t, err)
	params, _ := json.Marshal(map[string]any{})
	evt := signedRequestEvent(t, otherKp, serverKp.PublicKeyHex, jsonrpc2.ID{Num: 1}, "tools/list", params)

	srv.onEvent(evt)

	assert.Empty(t, local.handled)
	select {
	case err := <-srv.Errors():
		terr, ok := err.(*Error)
		require.True(t, ok)
		assert.Equal(t, ErrUnauthorized, terr.Kind)
	default:
		t.Fatal("expected an Unauthorized error to be reported")
	}
}

func TestDispatchResponseCleansPending(t *testing.T) {
	local := newFakeLocal()
	srv, serverKp := newTestServer(t, local, ServerConfig{EncryptionMode: EncryptionOptional})

	clientKp, err := signer.Generate()
	require.NoError(t, err)
	params, _ := json.Marshal(map[string]any{})
	evt := signedRequestEvent(t, clientKp, serverKp.PublicKeyHex, jsonrpc2.ID{Num: 7}, "tools/list", params)
	srv.onEvent(evt)

	result, _ := json.Marshal(map[string]any{"tools": []any{}})
	resp := wire.NewResult(wire.StringID(evt.ID), result)

	srv.dispatchResponse(context.Background(), resp)

	srv.mu.Lock()
	sess := srv.sessions[clientKp.PublicKeyHex]
	_, stillPending := sess.pendingByEvent[evt.ID]
	_, stillIndexed := srv.eventToSession[evt.ID]
	srv.mu.Unlock()
	assert.False(t, stillPending)
	assert.False(t, stillIndexed)
}

func TestDispatchResponseWithUnknownEventReportsError(t *testing.T) {
	local := newFakeLocal()
	srv, _ := newTestServer(t, local, ServerConfig{EncryptionMode: EncryptionOptional})

	resp := wire.NewResult(wire.StringID("nonexistent"), []byte(`{}`))
	srv.dispatchResponse(context.Background(), resp)

	select {
	case err := <-srv.Errors():
		terr, ok := err.(*Error)
		require.True(t, ok)
		assert.Equal(t, ErrNoPendingRequest, terr.Kind)
	default:
		t.Fatal("expected a NoPendingRequest error")
	}
}

func TestDispatchProgressWithoutSessionReportsError(t *testing.T) {
	local := newFakeLocal()
	srv, _ := newTestServer(t, local, ServerConfig{EncryptionMode: EncryptionOptional})

	params, _ := json.Marshal(map[string]any{"_meta": map[string]any{"progressToken": "t-42"}})
	msg := wire.NewNotification("notifications/progress", params)
	srv.dispatchNotification(context.Background(), msg)

	select {
	case err := <-srv.Errors():
		terr, ok := err.(*Error)
		require.True(t, ok)
		assert.Equal(t, ErrProgressWithoutRequest, terr.Kind)
	default:
		t.Fatal("expected a ProgressWithoutRequest error")
	}
}

func TestExtractCapabilityIDFromToolsCall(t *testing.T) {
	params, _ := json.Marshal(map[string]any{"name": "weather"})
	msg := wire.NewRequest(jsonrpc2.ID{Num: 1}, "tools/call", params)
	id, ok := extractCapabilityID(msg)
	assert.True(t, ok)
	assert.Equal(t, "weather", id)
}

func TestExtractCapabilityIDFromResourcesRead(t *testing.T) {
	params, _ := json.Marshal(map[string]any{"uri": "file:///a"})
	msg := wire.NewRequest(jsonrpc2.ID{Num: 1}, "resources/read", params)
	id, ok := extractCapabilityID(msg)
	assert.True(t, ok)
	assert.Equal(t, "file:///a", id)
}

func TestExtractCapabilityIDAbsentWithoutNameOrURI(t *testing.T) {
	params, _ := json.Marshal(map[string]any{})
	msg := wire.NewRequest(jsonrpc2.ID{Num: 1}, "tools/list", params)
	_, ok := extractCapabilityID(msg)
	assert.False(t, ok)
}

func TestResolveInvoiceRejectsUndecodableStaticPrice(t *testing.T) {
	local := newFakeLocal()
	srv, _ := newTestServer(t, local, ServerConfig{EncryptionMode: EncryptionOptional})
	srv.config.Pricing = payments.NewResolver([]config.CapabilityPrice{
		{CapabilityID: "tools/weather", Price: "not-a-bolt11", Currency: "sats"},
	})

	_, _, err := srv.resolveInvoice("tools/weather", "not-a-bolt11", "sats")
	assert.Error(t, err)
}

func TestResolveInvoiceRejectsNonNumericPriceWithLightningAddress(t *testing.T) {
	local := newFakeLocal()
	srv, _ := newTestServer(t, local, ServerConfig{EncryptionMode: EncryptionOptional})
	srv.config.Pricing = payments.NewResolver([]config.CapabilityPrice{
		{CapabilityID: "tools/weather", Price: "twenty-one", Currency: "sats", LightningAddress: "sat@example.com"},
	})

	_, _, err := srv.resolveInvoice("tools/weather", "twenty-one", "sats")
	assert.Error(t, err)
}

func TestOnEventWithUnpricedCapabilityStillForwardsToLocal(t *testing.T) {
	local := newFakeLocal()
	srv, serverKp := newTestServer(t, local, ServerConfig{
		EncryptionMode: EncryptionOptional,
		Pricing: payments.NewResolver([]config.CapabilityPrice{
			{CapabilityID: "tools/other", Price: "21", Currency: "sats"},
		}),
	})

	clientKp, err := signer.Generate()
	require.NoError(t, err)
	params, _ := json.Marshal(map[string]any{"name": "weather"})
	evt := signedRequestEvent(t, clientKp, serverKp.PublicKeyHex, jsonrpc2.ID{Num: 1}, "tools/call", params)

	srv.onEvent(evt)

	require.Len(t, local.handled, 1)
	assert.Equal(t, "tools/call", local.handled[0].Method)
}

func TestSweepOnceRemovesIdleSessions(t *testing.T) {
	local := newFakeLocal()
	srv, _ := newTestServer(t, local, ServerConfig{EncryptionMode: EncryptionOptional})

	srv.mu.Lock()
	sess := newSession("stale-client") // lastActivity left at zero value, i.e. long idle
	srv.sessions["stale-client"] = sess
	srv.mu.Unlock()

	srv.sweepOnce(sess.lastActivity.Add(time.Hour))

	srv.mu.Lock()
	_, ok := srv.sessions["stale-client"]
	srv.mu.Unlock()
	assert.False(t, ok)
}
