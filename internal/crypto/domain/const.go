package domain

// Key and AEAD geometry for AES-256-GCM, the single algorithm used for field
// encryption. Payloads always lay out as nonce || ciphertext || tag, with the
// version header in front for the versioned form.
const (
	// KeySize is the required key length in bytes (AES-256).
	KeySize = 32

	// NonceSize is the AES-GCM nonce length in bytes.
	NonceSize = 12

	// TagSize is the AES-GCM authentication tag length in bytes.
	TagSize = 16

	// MinSealedSize is the smallest possible AEAD output: a nonce followed by
	// the authentication tag of an empty plaintext.
	MinSealedSize = NonceSize + TagSize
)
