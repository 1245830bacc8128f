package service

import (
	"context"

	cryptoDomain "github.com/carevault/fieldcrypt/internal/crypto/domain"
	"github.com/carevault/fieldcrypt/internal/errors"
)

// EnvelopeCodec translates between plaintext and the encrypted payload forms.
//
// Encryption always produces the versioned frame, with the frame header bound
// as associated data so the recorded version cannot be stripped or swapped
// without failing authentication. Decryption accepts all three historical
// forms: the versioned frame, the ASCII "v<N>:" prefix of earlier releases,
// and the raw legacy layout that predates versioning.
//
// The codec performs no I/O of its own. Key material either arrives as an
// argument or is looked up through the injected VersionResolver, which is the
// only collaborator DecryptAny touches.
type EnvelopeCodec struct {
	resolver VersionResolver
}

// NewEnvelopeCodec creates a codec that resolves payload versions through
// resolver.
func NewEnvelopeCodec(resolver VersionResolver) *EnvelopeCodec {
	return &EnvelopeCodec{resolver: resolver}
}

// Encrypt seals plaintext into the raw legacy layout: nonce || ciphertext ||
// tag, with no version information. Only the compatibility tests and the
// legacy write path of the previous scheme use this form; new writes go
// through EncryptVersioned.
func (c *EnvelopeCodec) Encrypt(plaintext, key []byte) ([]byte, error) {
	aead, err := NewAESGCM(key)
	if err != nil {
		return nil, err
	}

	return aead.Seal(plaintext, nil)
}

// Decrypt opens a raw legacy payload with the given key.
func (c *EnvelopeCodec) Decrypt(sealed, key []byte) ([]byte, error) {
	aead, err := NewAESGCM(key)
	if err != nil {
		return nil, err
	}

	return aead.Open(sealed, nil)
}

// EncryptVersioned seals plaintext into the versioned frame for the given
// version and key. The five header bytes are authenticated together with the
// payload, so any later modification of the recorded version is detected.
func (c *EnvelopeCodec) EncryptVersioned(plaintext []byte, version cryptoDomain.Version, key []byte) ([]byte, error) {
	if version == 0 {
		return nil, cryptoDomain.ErrInvalidVersion
	}

	aead, err := NewAESGCM(key)
	if err != nil {
		return nil, err
	}

	sealed, err := aead.Seal(plaintext, cryptoDomain.VersionedHeader(version))
	if err != nil {
		return nil, err
	}

	return cryptoDomain.EncodeVersioned(version, sealed), nil
}

// DecryptAny opens a payload of any historical form and reports which reading
// succeeded. The returned EncryptedPayload is authoritative: its form and
// version are the ones whose key actually authenticated the bytes.
//
// Structural detection alone cannot be trusted, because a legacy payload
// starts with random nonce bytes that may imitate a version marker. A marked
// payload whose version lookup or authentication fails therefore gets exactly
// one fallback attempt under the legacy key before being rejected.
//
// Error contract: tampered payloads surface ErrAuthentication; an unreachable
// secret store surfaces the provider's recovery error and is never
// misreported as tampering.
func (c *EnvelopeCodec) DecryptAny(ctx context.Context, payload []byte) ([]byte, *cryptoDomain.EncryptedPayload, error) {
	parsed, err := cryptoDomain.ParsePayload(payload)
	if err != nil {
		return nil, nil, err
	}

	if parsed.Form == cryptoDomain.FormLegacy {
		return c.decryptLegacy(ctx, payload)
	}

	metadata, resolveErr := c.resolver.KeyFor(ctx, parsed.Version)
	if resolveErr == nil {
		if plaintext, openErr := c.openSealed(parsed.Sealed, metadata.Key, parsed.Header); openErr == nil {
			return plaintext, parsed, nil
		}
	} else if !errors.Is(resolveErr, cryptoDomain.ErrKeyNotFound) {
		// The store could not answer for this version. The legacy reading
		// still gets its attempt from cache, but on failure the recovery
		// error is surfaced unchanged.
		if plaintext, legacy, legacyErr := c.decryptLegacy(ctx, payload); legacyErr == nil {
			return plaintext, legacy, nil
		}
		return nil, nil, resolveErr
	}

	// Unknown version, or a known key that did not authenticate the bytes.
	// Either way the payload may really be a legacy one whose nonce happens
	// to begin like a version marker.
	plaintext, legacy, legacyErr := c.decryptLegacy(ctx, payload)
	if legacyErr == nil {
		return plaintext, legacy, nil
	}
	if !errors.Is(legacyErr, cryptoDomain.ErrAuthentication) {
		return nil, nil, legacyErr
	}

	return nil, nil, errors.Wrap(cryptoDomain.ErrAuthentication, "payload marked "+parsed.Version.String())
}

func (c *EnvelopeCodec) decryptLegacy(ctx context.Context, payload []byte) ([]byte, *cryptoDomain.EncryptedPayload, error) {
	metadata, err := c.resolver.LegacyKey(ctx)
	if err != nil {
		return nil, nil, err
	}

	plaintext, err := c.Decrypt(payload, metadata.Key)
	if err != nil {
		return nil, nil, err
	}

	return plaintext, &cryptoDomain.EncryptedPayload{Form: cryptoDomain.FormLegacy, Sealed: payload}, nil
}

func (c *EnvelopeCodec) openSealed(sealed, key, aad []byte) ([]byte, error) {
	aead, err := NewAESGCM(key)
	if err != nil {
		return nil, err
	}

	return aead.Open(sealed, aad)
}
