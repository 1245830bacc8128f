package service

import (
	"crypto/rand"

	cryptoDomain "github.com/carevault/fieldcrypt/internal/crypto/domain"
	"github.com/carevault/fieldcrypt/internal/errors"
)

// GenerateKey draws a fresh 256-bit key from crypto/rand.
func GenerateKey() ([]byte, error) {
	key := make([]byte, cryptoDomain.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, errors.Wrap(cryptoDomain.ErrEncryption, "key generation failed")
	}

	return key, nil
}
