package transport

import (
	"testing"
	"time"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"

	"mcpnostr/wire"
)

func TestSessionIdle(t *testing.T) {
	sess := newSession("abc")
	sess.touch(time.Now().Add(-10 * time.Minute))
	assert.True(t, sess.idle(time.Now(), 5*time.Minute))
	assert.False(t, sess.idle(time.Now(), 20*time.Minute))
}

func TestSessionPendingMaps(t *testing.T) {
	sess := newSession("abc")
	sess.pendingByEvent["event-1"] = jsonrpc2.ID{Num: 7}
	sess.pendingToken["t-42"] = "event-1"

	assert.Equal(t, jsonrpc2.ID{Num: 7}, sess.pendingByEvent["event-1"])
	assert.Equal(t, "event-1", sess.pendingToken["t-42"])
}

func TestExtractProgressToken(t *testing.T) {
	params := []byte(`{"_meta":{"progressToken":"t-42"}}`)
	token, ok := extractProgressToken(params)
	assert.True(t, ok)
	assert.Equal(t, "t-42", token)

	_, ok = extractProgressToken([]byte(`{}`))
	assert.False(t, ok)

	numeric := []byte(`{"_meta":{"progressToken":42}}`)
	token, ok = extractProgressToken(numeric)
	assert.True(t, ok)
	assert.Equal(t, "42", token)
}

func TestIsInitializeResult(t *testing.T) {
	id := jsonrpc2.ID{Num: 1}
	ok := isInitializeResult(wire.NewResult(id, []byte(`{"protocolVersion":"2024-11-05"}`)))
	assert.True(t, ok)

	ok = isInitializeResult(wire.NewResult(id, []byte(`{"tools":[]}`)))
	assert.False(t, ok)
}
