package relaypool

import (
	"time"
)

// relayConn tracks one relay's connection and backoff state, matching the
// per-relay fields §4.2 calls for: reconnect_interval, retry_count.
type relayConn struct {
	url string

	connected bool
	abandoned bool

	reconnectInterval time.Duration
	retryCount        int
	nextAttempt       time.Time
}

func newRelayConn(url string) *relayConn {
	return &relayConn{url: url, reconnectInterval: initialBackoff}
}

// bumpBackoff schedules the next attempt after the current reconnect
// interval, then doubles that interval (capped at maxBackoff) for the
// attempt after that, implementing §4.2's "initial 1s, doubling, 30s
// ceiling" sequence: the first retry waits 1s, the second 2s, and so on.
func (rc *relayConn) bumpBackoff(now time.Time) {
	rc.retryCount++
	rc.nextAttempt = now.Add(rc.reconnectInterval)
	rc.reconnectInterval *= 2
	if rc.reconnectInterval > maxBackoff {
		rc.reconnectInterval = maxBackoff
	}
}

func (rc *relayConn) resetBackoff() {
	rc.retryCount = 0
	rc.reconnectInterval = initialBackoff
	rc.nextAttempt = time.Time{}
}
