package relaypool

import (
	"context"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
)

func TestSeenSetDedup(t *testing.T) {
	s := newSeenSet(2)
	assert.False(t, s.markSeen("a"))
	assert.True(t, s.markSeen("a"))
	assert.False(t, s.markSeen("b"))
	assert.False(t, s.markSeen("c")) // evicts "a"
	assert.False(t, s.markSeen("a")) // "a" was evicted, so it's new again
}

func TestRelayConnBackoffDoublesAndCaps(t *testing.T) {
	rc := newRelayConn("wss://example")
	now := time.Now()
	assert.Equal(t, initialBackoff, rc.reconnectInterval)
	for i := 0; i < 10; i++ {
		rc.bumpBackoff(now)
	}
	assert.Equal(t, maxBackoff, rc.reconnectInterval)
	assert.Equal(t, 10, rc.retryCount)
}

func TestRelayConnFirstBackoffIsInitialInterval(t *testing.T) {
	rc := newRelayConn("wss://example")
	now := time.Now()
	rc.bumpBackoff(now)
	assert.Equal(t, now.Add(initialBackoff), rc.nextAttempt)
	assert.Equal(t, 2*initialBackoff, rc.reconnectInterval)
}

func TestRelayConnResetBackoff(t *testing.T) {
	rc := newRelayConn("wss://example")
	rc.bumpBackoff(time.Now())
	rc.bumpBackoff(time.Now())
	rc.resetBackoff()
	assert.Equal(t, 0, rc.retryCount)
	assert.Equal(t, initialBackoff, rc.reconnectInterval)
}

func TestPublishWithNoConnectionsFails(t *testing.T) {
	p := New([]string{"wss://relay.invalid.example"})
	err := p.Publish(context.Background(), nostr.Event{})
	assert.ErrorIs(t, err, ErrAllRelaysFailed)
}
