package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldEncryptOutbound(t *testing.T) {
	assert.False(t, shouldEncryptOutbound(EncryptionDisabled, kindRPC, true))
	assert.True(t, shouldEncryptOutbound(EncryptionRequired, kindRPC, false))
	assert.True(t, shouldEncryptOutbound(EncryptionOptional, kindRPC, true))
	assert.False(t, shouldEncryptOutbound(EncryptionOptional, kindRPC, false))
	assert.False(t, shouldEncryptOutbound(EncryptionRequired, 11316, true), "discovery kinds are never encrypted")
}

func TestCheckInboundPolicy(t *testing.T) {
	assert.NoError(t, checkInboundPolicy(EncryptionOptional, true))
	assert.NoError(t, checkInboundPolicy(EncryptionOptional, false))
	assert.Error(t, checkInboundPolicy(EncryptionDisabled, true))
	assert.NoError(t, checkInboundPolicy(EncryptionDisabled, false))
	assert.Error(t, checkInboundPolicy(EncryptionRequired, false))
	assert.NoError(t, checkInboundPolicy(EncryptionRequired, true))
}

func TestParseEncryptionMode(t *testing.T) {
	m, err := ParseEncryptionMode("REQUIRED")
	assert.NoError(t, err)
	assert.Equal(t, EncryptionRequired, m)

	m, err = ParseEncryptionMode("")
	assert.NoError(t, err)
	assert.Equal(t, EncryptionOptional, m)

	_, err = ParseEncryptionMode("bogus")
	assert.Error(t, err)
}
