// Package signer implements C1: keypair generation, event signing and
// signature verification, and NIP-44 authenticated encryption between two
// Nostr keypairs. It is grounded on the teacher's engine/actors/wallet.go key
// handling and engine/eventcatcher.go's manual event-signing flow, generalized
// away from the teacher's on-disk wallet persistence since the signer here is
// handed a secret key programmatically rather than loading one from disk.
package signer

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip44"
)

// Keypair is a Nostr secp256k1 keypair: a 32-byte secret key and its x-only
// public key, both hex-encoded, matching nostr.Event's PubKey/sig conventions.
type Keypair struct {
	SecretKeyHex string
	PublicKeyHex string
}

// Generate produces a fresh random keypair.
func Generate() (Keypair, error) {
	sk := nostr.GeneratePrivateKey()
	return FromSecretKey(sk)
}

// FromSecretKey derives the public key for an existing hex-encoded secret
// key, mirroring the teacher's getPubKey helper in wallet.go.
func FromSecretKey(secretKeyHex string) (Keypair, error) {
	pub, err := nostr.GetPublicKey(secretKeyHex)
	if err != nil {
		return Keypair{}, fmt.Errorf("signer: derive public key: %w", err)
	}
	return Keypair{SecretKeyHex: secretKeyHex, PublicKeyHex: pub}, nil
}

// Signer signs and verifies Nostr events and performs NIP-44 encryption on
// behalf of one keypair. A bridge process holds exactly one Signer for its
// own identity keypair; ephemeral gift-wrap keypairs get their own throwaway
// Signer per wrap.
type Signer struct {
	kp Keypair
}

func New(kp Keypair) *Signer { return &Signer{kp: kp} }

func (s *Signer) PublicKeyHex() string { return s.kp.PublicKeyHex }

// Sign computes the event id and Schnorr signature in place, the same two
// steps the teacher performs by hand in ignition.go and eventcatcher.go
// (GetID then Sign) before publishing.
func (s *Signer) Sign(evt *nostr.Event) error {
	evt.PubKey = s.kp.PublicKeyHex
	evt.ID = evt.GetID()
	if err := evt.Sign(s.kp.SecretKeyHex); err != nil {
		return fmt.Errorf("signer: sign event: %w", err)
	}
	return nil
}

// Verify checks an event's id and signature, returning an error naming which
// check failed so callers can log precisely.
func Verify(evt nostr.Event) error {
	if evt.GetID() != evt.ID {
		return fmt.Errorf("signer: event id mismatch")
	}
	ok, err := evt.CheckSignature()
	if err != nil {
		return fmt.Errorf("signer: check signature: %w", err)
	}
	if !ok {
		return fmt.Errorf("signer: invalid signature")
	}
	return nil
}

// ConversationKey derives the shared NIP-44 conversation key between this
// signer's secret key and a peer's public key.
func (s *Signer) ConversationKey(peerPublicKeyHex string) ([]byte, error) {
	key, err := nip44.GenerateConversationKey(peerPublicKeyHex, s.kp.SecretKeyHex)
	if err != nil {
		return nil, fmt.Errorf("signer: derive conversation key: %w", err)
	}
	return key, nil
}

// Encrypt authenticated-encrypts plaintext for peerPublicKeyHex using NIP-44.
// Unlike NIP-04, tampering with the returned ciphertext is detected on
// Decrypt rather than silently producing garbage plaintext.
func (s *Signer) Encrypt(plaintext string, peerPublicKeyHex string) (string, error) {
	key, err := s.ConversationKey(peerPublicKeyHex)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("signer: encrypt: %w", err)
	}
	ciphertext, err := nip44.Encrypt(plaintext, key, nip44.WithCustomNonce(nonce))
	if err != nil {
		return "", fmt.Errorf("signer: encrypt: %w", err)
	}
	return ciphertext, nil
}

// ErrDecryptFailed is returned by Decrypt when the ciphertext fails MAC
// verification, was truncated, or was not produced for this conversation key.
var ErrDecryptFailed = fmt.Errorf("signer: decrypt failed")

// Decrypt authenticated-decrypts ciphertext received from peerPublicKeyHex.
func (s *Signer) Decrypt(ciphertext string, peerPublicKeyHex string) (string, error) {
	key, err := s.ConversationKey(peerPublicKeyHex)
	if err != nil {
		return "", err
	}
	plaintext, err := nip44.Decrypt(ciphertext, key)
	if err != nil {
		return "", ErrDecryptFailed
	}
	return plaintext, nil
}

// publicKeyFromXOnly is kept for parity with the teacher's manual btcec-based
// derivation in wallet.go, used only by tests that want to cross-check
// nostr.GetPublicKey's output against a hand-derived value.
func publicKeyFromXOnly(secretKeyHex string) (string, error) {
	keyb, err := hex.DecodeString(secretKeyHex)
	if err != nil {
		return "", fmt.Errorf("signer: decode secret key: %w", err)
	}
	_, pub := btcec.PrivKeyFromBytes(keyb)
	return hex.EncodeToString(pub.SerializeCompressed()[1:]), nil
}
