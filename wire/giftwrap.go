package wire

import (
	"encoding/json"
	"fmt"
	"math/rand"

	"github.com/nbd-wtf/go-nostr"

	"mcpnostr/signer"
)

// giftWrapJitterSeconds bounds how far a gift wrap's timestamp is randomized
// away from its true send time, per §4.3's "small jitter window to hide send
// time." NIP-59-style wraps commonly jitter by hours to days; this module
// uses a much smaller window since the bridge's wraps are short-lived
// request/response carriers, not long-lived social posts.
const giftWrapJitterSeconds = 120

// Wrap implements §4.3's gift-wrap encryption: the caller signs the inner
// event first (sign is the caller's job so the codec never touches a signer
// meant for the long-term identity key), then Wrap generates a throwaway
// keypair, encrypts the inner event's full JSON under the shared secret
// between that throwaway key and the recipient, and produces a signed kind
// 1059 event.
func Wrap(innerSigned nostr.Event, recipientPubkeyHex string) (nostr.Event, error) {
	ephemeral, err := signer.Generate()
	if err != nil {
		return nostr.Event{}, fmt.Errorf("wire: generate ephemeral keypair: %w", err)
	}
	ephemeralSigner := signer.New(ephemeral)

	innerJSON, err := json.Marshal(innerSigned)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("wire: marshal inner event: %w", err)
	}

	ciphertext, err := ephemeralSigner.Encrypt(string(innerJSON), recipientPubkeyHex)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("wire: encrypt gift wrap: %w", err)
	}

	outer := nostr.Event{
		PubKey:    ephemeral.PublicKeyHex,
		CreatedAt: jitteredTimestamp(),
		Kind:      KindGiftWrap,
		Tags:      nostr.Tags{{TagRecipient, recipientPubkeyHex}},
		Content:   ciphertext,
	}
	if err := ephemeralSigner.Sign(&outer); err != nil {
		return nostr.Event{}, fmt.Errorf("wire: sign gift wrap: %w", err)
	}
	return outer, nil
}

// Unwrap implements the decrypt half of §4.3: it verifies the outer kind,
// decrypts using the shared secret between the recipient's real signer and
// the wrap's (ephemeral) author, and parses the result as a signed inner
// event. The inner event's own PubKey is the true sender, per §4.3's last
// sentence — callers must read sender identity from the returned inner
// event, never from the outer event's author.
func Unwrap(outer nostr.Event, recipient *signer.Signer) (nostr.Event, error) {
	if outer.Kind != KindGiftWrap {
		return nostr.Event{}, fmt.Errorf("wire: unwrap: event kind %d is not gift wrap", outer.Kind)
	}
	plaintext, err := recipient.Decrypt(outer.Content, outer.PubKey)
	if err != nil {
		return nostr.Event{}, signer.ErrDecryptFailed
	}
	var inner nostr.Event
	if err := json.Unmarshal([]byte(plaintext), &inner); err != nil {
		return nostr.Event{}, ErrInvalidEvent
	}
	return inner, nil
}

func jitteredTimestamp() nostr.Timestamp {
	now := nostr.Now()
	offset := rand.Intn(2*giftWrapJitterSeconds) - giftWrapJitterSeconds
	return nostr.Timestamp(int64(now) + int64(offset))
}
