package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sasha-s/go-deadlock"

	"mcpnostr/relaypool"
	"mcpnostr/signer"
	"mcpnostr/wire"
)

// Client implements C5: it sends outbound JSON-RPC requests/notifications as
// signed (optionally gift-wrapped) events, correlates inbound responses by
// the referenced event id, and surfaces notifications. Per §9's design
// note, its consumer-facing surface is a single recv channel rather than
// mutable onmessage/onerror/onclose callback slots.
type Client struct {
	base
	serverPubkeyHex string

	mu                       deadlock.Mutex
	pendingRequestIDs        map[string]struct{}
	serverSupportsEncryption bool
	initializeResult         *wire.Message

	unsubscribe func()
	incoming    chan wire.Message
	errs        chan error
}

// NewClient builds a client transport bound to one remote server's public
// key. encryptionMode governs whether outbound sends are wrapped and which
// inbound events are accepted, per §4.4.
func NewClient(pool *relaypool.Pool, s *signer.Signer, serverPubkeyHex string, mode EncryptionMode) *Client {
	return &Client{
		base:              newBase(pool, s, mode, "client-transport"),
		serverPubkeyHex:   serverPubkeyHex,
		pendingRequestIDs: make(map[string]struct{}),
		incoming:          make(chan wire.Message, 64),
		errs:              make(chan error, 16),
	}
}

// Recv returns the channel of inbound responses and notifications delivered
// to this client's local caller.
func (c *Client) Recv() <-chan wire.Message { return c.incoming }

// Errors returns the channel of non-fatal errors raised while processing
// inbound events, per §7's "error callback" surface.
func (c *Client) Errors() <-chan error { return c.errs }

// InitializeResult returns the server's captured initialize response, if one
// has arrived yet, for thin wrappers that want to display server metadata.
func (c *Client) InitializeResult() (wire.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initializeResult == nil {
		return wire.Message{}, false
	}
	return *c.initializeResult, true
}

// Start connects the relay pool and subscribes with the base filter, per
// §4.5's "On start."
func (c *Client) Start(ctx context.Context) error {
	if err := c.connect(ctx); err != nil {
		return err
	}
	unsubscribe, err := c.pool.Subscribe(c.buildFilter(nostr.Now()), c.onEvent, nil)
	if err != nil {
		return fmt.Errorf("transport: client subscribe: %w", err)
	}
	c.unsubscribe = unsubscribe
	return nil
}

// Close tears down the subscription and relay pool and drops pending state
// without replying, per §5's cancellation rules.
func (c *Client) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	c.disconnect()
	c.mu.Lock()
	c.pendingRequestIDs = make(map[string]struct{})
	c.mu.Unlock()
}

// Send publishes an outbound MCP message to the server, per §4.5's "On
// outbound send": tag set is exactly [["p", server_pubkey]], no e tag on a
// fresh request, and the resulting event id is tracked as pending.
func (c *Client) Send(ctx context.Context, msg wire.Message) error {
	c.mu.Lock()
	preferEncrypted := c.serverSupportsEncryption
	c.mu.Unlock()

	tags := nostr.Tags{{wire.TagRecipient, c.serverPubkeyHex}}
	eventID, err := c.sendMCPMessage(ctx, msg, c.serverPubkeyHex, wire.KindRPC, tags, preferEncrypted)
	if err != nil {
		return err
	}

	if msg.IsRequest() {
		c.mu.Lock()
		c.pendingRequestIDs[eventID] = struct{}{}
		c.mu.Unlock()
	}
	return nil
}

func (c *Client) onEvent(outer nostr.Event) {
	in, err := c.receiveEvent(outer)
	if err != nil {
		c.log.Warn("dropping inbound event %s: %v", outer.ID, err)
		c.reportError(err)
		return
	}

	if !hasTagValue(in.inner.Tags, wire.TagRecipient, c.signer.PublicKeyHex()) {
		c.log.Debug("dropping event %s: p tag does not name this client", outer.ID)
		return
	}
	if hasTag(in.inner.Tags, wire.TagSupportEncryption) {
		c.mu.Lock()
		c.serverSupportsEncryption = true
		c.mu.Unlock()
	}

	c.captureInitializeResult(in.msg)

	eTag, hasE := firstTagValue(in.inner.Tags, wire.TagEvent)
	if hasE {
		c.mu.Lock()
		_, known := c.pendingRequestIDs[eTag]
		if known {
			delete(c.pendingRequestIDs, eTag)
		}
		c.mu.Unlock()
		if !known {
			c.log.Warn("dropping response referencing unknown event %s", eTag)
			return
		}
		c.deliver(in.msg)
		return
	}

	if in.msg.Kind == wire.KindNotification {
		c.deliver(in.msg)
		return
	}

	c.log.Warn("protocol error: event %s has neither e tag nor notification shape", outer.ID)
	c.reportError(newErr(ErrInvalidEvent, "event has neither e tag nor notification shape", nil))
}

func (c *Client) captureInitializeResult(msg wire.Message) {
	if msg.Kind != wire.KindResponse || msg.Result == nil {
		return
	}
	var probe struct {
		ProtocolVersion string          `json:"protocolVersion"`
		Capabilities    json.RawMessage `json:"capabilities"`
	}
	if err := json.Unmarshal(msg.Result, &probe); err != nil || probe.ProtocolVersion == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initializeResult == nil {
		m := msg
		c.initializeResult = &m
	}
}

func (c *Client) deliver(msg wire.Message) {
	select {
	case c.incoming <- msg:
	case <-time.After(5 * time.Second):
		c.log.Error("consumer not draining Recv(), dropping message")
	}
}

func (c *Client) reportError(err error) {
	select {
	case c.errs <- err:
	default:
	}
}

func firstTagValue(tags nostr.Tags, name string) (string, bool) {
	for _, t := range tags {
		if len(t) >= 2 && t[0] == name {
			return t[1], true
		}
	}
	return "", false
}

func hasTagValue(tags nostr.Tags, name, value string) bool {
	v, ok := firstTagValue(tags, name)
	return ok && v == value
}

func hasTag(tags nostr.Tags, name string) bool {
	for _, t := range tags {
		if len(t) >= 1 && t[0] == name {
			return true
		}
	}
	return false
}
