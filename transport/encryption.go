package transport

import "fmt"

// EncryptionMode is the three-way policy of §4.4.
type EncryptionMode int

const (
	EncryptionOptional EncryptionMode = iota
	EncryptionDisabled
	EncryptionRequired
)

func ParseEncryptionMode(s string) (EncryptionMode, error) {
	switch s {
	case "", "OPTIONAL":
		return EncryptionOptional, nil
	case "DISABLED":
		return EncryptionDisabled, nil
	case "REQUIRED":
		return EncryptionRequired, nil
	default:
		return EncryptionOptional, fmt.Errorf("transport: unknown encryption_mode %q", s)
	}
}

func (m EncryptionMode) String() string {
	switch m {
	case EncryptionDisabled:
		return "DISABLED"
	case EncryptionRequired:
		return "REQUIRED"
	default:
		return "OPTIONAL"
	}
}

// shouldEncryptOutbound decides whether an outbound kind-25910 event should
// be gift-wrapped, per §4.4: discovery kinds are never encrypted regardless
// of mode; REQUIRED always encrypts; DISABLED never encrypts; OPTIONAL
// honors the caller's preference (recipient known to accept it, or the
// inbound request that prompted this send arrived encrypted).
func shouldEncryptOutbound(mode EncryptionMode, kind int, preferEncrypted bool) bool {
	if kind != kindRPC {
		return false
	}
	switch mode {
	case EncryptionDisabled:
		return false
	case EncryptionRequired:
		return true
	default:
		return preferEncrypted
	}
}

// checkInboundPolicy implements §4.4's inbound acceptance rules: DISABLED
// rejects anything that arrived encrypted; REQUIRED rejects anything that
// arrived in clear; OPTIONAL accepts either.
func checkInboundPolicy(mode EncryptionMode, wasEncrypted bool) error {
	switch mode {
	case EncryptionDisabled:
		if wasEncrypted {
			return newErr(ErrEncryptionPolicyMismatch, "inbound encrypted event under DISABLED", nil)
		}
	case EncryptionRequired:
		if !wasEncrypted {
			return newErr(ErrEncryptionPolicyMismatch, "inbound cleartext event under REQUIRED", nil)
		}
	}
	return nil
}
