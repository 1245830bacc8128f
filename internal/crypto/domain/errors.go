package domain

import (
	"fmt"
	"strings"

	"github.com/carevault/fieldcrypt/internal/errors"
)

// Cryptographic and key-lifecycle error definitions.
//
// These domain-specific errors wrap the base sentinels from internal/errors
// so callers can classify failures with errors.Is while log messages stay
// specific. Tampering, missing keys, and infrastructure outages map to
// distinct bases on purpose: an unreachable secret store must never be
// reported as a corrupt payload.
var (
	// ErrEncryption indicates an encryption operation could not be performed,
	// for example because the key material has the wrong size.
	ErrEncryption = errors.Wrap(errors.ErrInvalidInput, "encryption failed")

	// ErrAuthentication indicates a payload failed authenticated decryption.
	//
	// This error can occur due to:
	//   - Ciphertext or authentication tag tampered with
	//   - Version header modified after sealing
	//   - Payload encrypted under a key this deployment never had
	//
	// The specific cause is not disclosed to avoid giving an attacker an
	// oracle over which part of the payload was rejected.
	ErrAuthentication = errors.Wrap(errors.ErrInvalidInput, "payload authentication failed")

	// ErrInvalidKeySize indicates key material is not exactly KeySize bytes.
	ErrInvalidKeySize = errors.Wrap(errors.ErrInvalidInput, "invalid key size")

	// ErrInvalidPayload indicates a blob is structurally too short to be any
	// encrypted payload form, versioned or legacy.
	ErrInvalidPayload = errors.Wrap(errors.ErrInvalidInput, "invalid encrypted payload")

	// ErrInvalidVersion indicates a version token or number is malformed.
	// Valid tokens are "v" followed by a positive decimal without leading
	// zeros, such as "v1" or "v42".
	ErrInvalidVersion = errors.Wrap(errors.ErrInvalidInput, "invalid key version")

	// ErrInvalidKeyMetadata indicates a stored key document is incomplete or
	// inconsistent and was rejected before reaching the registry.
	ErrInvalidKeyMetadata = errors.Wrap(errors.ErrInvalidInput, "invalid key metadata")

	// ErrKeyNotFound indicates the requested key version does not exist in
	// the secret store. This is an authoritative answer from a reachable
	// region and does not trigger failover.
	ErrKeyNotFound = errors.Wrap(errors.ErrNotFound, "encryption key not found")

	// ErrNoCurrentKey indicates the registry holds no current key, so writes
	// cannot proceed. Bootstrap or a first rotation is required.
	ErrNoCurrentKey = errors.Wrap(errors.ErrNotFound, "no current encryption key")

	// ErrKeyConflict indicates a key version already exists in the secret
	// store. Rotation treats this as a concurrent rotation by another
	// process, never as a reason to overwrite key material.
	ErrKeyConflict = errors.Wrap(errors.ErrConflict, "key version already exists")

	// ErrRotationFailed indicates a rotation attempt did not complete. The
	// previous current key remains in effect.
	ErrRotationFailed = errors.Wrap(errors.ErrUnavailable, "key rotation failed")

	// ErrKeyRecovery indicates key material could not be fetched from any
	// configured region. See KeyRecoveryError for the per-region causes.
	ErrKeyRecovery = errors.Wrap(errors.ErrUnavailable, "key recovery failed")
)

// RegionAttempt records one failed fetch attempt during regional failover.
type RegionAttempt struct {
	Region string
	Err    error
}

// KeyRecoveryError reports that every configured region failed to return a
// key version. It wraps ErrKeyRecovery and preserves the per-region causes in
// the order they were attempted, so operators can tell a regional outage from
// a global one.
type KeyRecoveryError struct {
	Version  Version
	Attempts []RegionAttempt
}

func (e *KeyRecoveryError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "key recovery failed for %s after %d region(s)", e.Version, len(e.Attempts))
	for i, attempt := range e.Attempts {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s: %v", attempt.Region, attempt.Err)
	}

	return b.String()
}

func (e *KeyRecoveryError) Unwrap() error {
	return ErrKeyRecovery
}

// Regions returns the attempted region names in order.
func (e *KeyRecoveryError) Regions() []string {
	regions := make([]string, len(e.Attempts))
	for i, attempt := range e.Attempts {
		regions[i] = attempt.Region
	}

	return regions
}
