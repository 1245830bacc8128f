package domain

import "context"

// KMSKeeper wraps and unwraps key material for storage at rest. It matches
// the surface of gocloud.dev/secrets.Keeper so any supported KMS provider can
// back it, and tests can use the local base64key provider.
type KMSKeeper interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
	Close() error
}
