package transport

import (
	"time"

	"github.com/sourcegraph/jsonrpc2"
)

// session is per-remote-client state held exclusively by the server
// transport, per §3's Client session / Ownership rules. The spec's single
// "pending: correlation key -> value" map is modeled here as two typed maps
// (pendingByEvent and pendingToken) rather than one polymorphic map, since
// the two correlation keys map to differently-typed values (an original
// JSON-RPC id vs. an event id) and Go has no convenient sum type for a map
// value — see DESIGN.md.
type session struct {
	clientPubkeyHex string
	isInitialized   bool
	isEncrypted     bool
	lastActivity    time.Time

	pendingByEvent map[string]jsonrpc2.ID // inbound event id -> original JSON-RPC id
	pendingToken   map[string]string      // progress token -> inbound event id
}

func newSession(clientPubkeyHex string) *session {
	return &session{
		clientPubkeyHex: clientPubkeyHex,
		pendingByEvent:  make(map[string]jsonrpc2.ID),
		pendingToken:    make(map[string]string),
	}
}

func (s *session) touch(now time.Time) { s.lastActivity = now }

func (s *session) idle(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.lastActivity) > timeout
}
