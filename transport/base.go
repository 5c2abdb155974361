package transport

import (
	"context"
	"fmt"

	"github.com/nbd-wtf/go-nostr"

	"mcpnostr/internal/logging"
	"mcpnostr/relaypool"
	"mcpnostr/signer"
	"mcpnostr/wire"
)

const kindRPC = wire.KindRPC

// base implements C4: the lifecycle, filter construction, and
// encrypted-or-plaintext publish choice shared by the client and server
// transports. It is embedded by value in both, never exported on its own,
// mirroring the way the teacher threads a handful of package-level helpers
// through both ends of a connection without a public "base" type.
type base struct {
	pool           *relaypool.Pool
	signer         *signer.Signer
	encryptionMode EncryptionMode
	log            *logging.Logger
}

func newBase(pool *relaypool.Pool, s *signer.Signer, mode EncryptionMode, component string) base {
	return base{pool: pool, signer: s, encryptionMode: mode, log: logging.Named(component)}
}

// connect idempotently connects the relay pool.
func (b *base) connect(ctx context.Context) error {
	return b.pool.Connect(ctx)
}

func (b *base) disconnect() {
	b.pool.Disconnect()
}

// buildFilter constructs the minimum subscription filter of §6: both
// carrier kinds, addressed to this transport's own public key, restricted to
// events at or after since so old ephemeral events are never replayed on
// startup.
func (b *base) buildFilter(since nostr.Timestamp) nostr.Filters {
	return nostr.Filters{{
		Kinds: []int{wire.KindRPC, wire.KindGiftWrap},
		Tags:  nostr.TagMap{"p": []string{b.signer.PublicKeyHex()}},
		Since: &since,
	}}
}

// sendMCPMessage implements §4.4's send_mcp_message: it signs an event
// carrying msg, decides whether to gift-wrap it per the encryption policy,
// and publishes the result. It returns the id of the signed carrier event:
// the inner event's id when wrapped (since that is the id callers correlate
// against, not the id of the published gift wrap), or the published event's
// own id otherwise.
func (b *base) sendMCPMessage(ctx context.Context, msg wire.Message, recipientPubkeyHex string, kind int, tags nostr.Tags, preferEncrypted bool) (string, error) {
	evt, err := wire.Encode(msg, b.signer.PublicKeyHex(), kind, tags)
	if err != nil {
		return "", newErr(ErrInvalidEvent, "encode outbound message", err)
	}
	if err := b.signer.Sign(&evt); err != nil {
		return "", fmt.Errorf("transport: sign outbound event: %w", err)
	}

	toPublish := evt
	if shouldEncryptOutbound(b.encryptionMode, kind, preferEncrypted) {
		wrapped, err := wire.Wrap(evt, recipientPubkeyHex)
		if err != nil {
			return "", fmt.Errorf("transport: gift wrap outbound event: %w", err)
		}
		toPublish = wrapped
	}

	if err := b.pool.Publish(ctx, toPublish); err != nil {
		return "", newErr(ErrRelayPublishError, "publish outbound event", err)
	}
	return evt.ID, nil
}

// publishClear signs and publishes a plain (never gift-wrapped) event with
// exactly the given content and tags, used by the discovery announcer whose
// events carry a raw result payload rather than a full MCP message envelope
// per §6 ("content is the initialize result").
func (b *base) publishClear(ctx context.Context, kind int, content string, tags nostr.Tags) (nostr.Event, error) {
	evt := nostr.Event{
		PubKey:    b.signer.PublicKeyHex(),
		CreatedAt: nostr.Now(),
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}
	if err := b.signer.Sign(&evt); err != nil {
		return nostr.Event{}, fmt.Errorf("transport: sign discovery event: %w", err)
	}
	if err := b.pool.Publish(ctx, evt); err != nil {
		return nostr.Event{}, newErr(ErrRelayPublishError, "publish discovery event", err)
	}
	return evt, nil
}

// inboundEvent is a decoded, policy-checked, and (if needed) unwrapped
// inbound event ready for a transport's own correlation logic.
type inboundEvent struct {
	outer       nostr.Event
	inner       nostr.Event
	wasEncrypted bool
	msg         wire.Message
}

// receiveEvent implements §4.6.2 steps 1, 2 and 4 (and the
// equivalent unnamed prefix of §4.5's inbound handling): unwrap if
// gift-wrapped, enforce the encryption policy, and decode the content.
// Authorization and session bookkeeping are caller-specific and happen after
// this returns.
func (b *base) receiveEvent(outer nostr.Event) (inboundEvent, error) {
	var inner nostr.Event
	wasEncrypted := outer.Kind == wire.KindGiftWrap

	if wasEncrypted {
		unwrapped, err := wire.Unwrap(outer, b.signer)
		if err != nil {
			return inboundEvent{}, newErr(ErrDecryptFailed, "unwrap gift wrap", err)
		}
		inner = unwrapped
	} else {
		inner = outer
	}

	if err := checkInboundPolicy(b.encryptionMode, wasEncrypted); err != nil {
		return inboundEvent{}, err
	}

	if err := signer.Verify(inner); err != nil {
		return inboundEvent{}, newErr(ErrInvalidEvent, "verify inner event signature", err)
	}

	msg, err := wire.Decode(inner)
	if err != nil {
		return inboundEvent{}, newErr(ErrInvalidEvent, "decode event content", err)
	}

	return inboundEvent{outer: outer, inner: inner, wasEncrypted: wasEncrypted, msg: msg}, nil
}
