package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"

	cryptoDomain "github.com/carevault/fieldcrypt/internal/crypto/domain"
	"github.com/carevault/fieldcrypt/internal/errors"
)

// AESGCMCipher performs authenticated encryption with AES-256-GCM.
//
// Sealed output lays out as nonce || ciphertext || tag, the layout every
// payload form in this system shares. A fresh 12-byte nonce is drawn from
// crypto/rand on every Seal; nonce reuse under one key would void the mode's
// confidentiality guarantee.
//
// The cipher instance is stateless after construction and safe for
// concurrent use from multiple goroutines.
type AESGCMCipher struct {
	aead cipher.AEAD
}

// NewAESGCM creates a cipher for the given 32-byte key. Keys of any other
// length are rejected with ErrInvalidKeySize.
func NewAESGCM(key []byte) (*AESGCMCipher, error) {
	if len(key) != cryptoDomain.KeySize {
		return nil, cryptoDomain.ErrInvalidKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(cryptoDomain.ErrEncryption, err.Error())
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(cryptoDomain.ErrEncryption, err.Error())
	}

	return &AESGCMCipher{aead: aead}, nil
}

// Seal encrypts plaintext and returns nonce || ciphertext || tag.
//
// The additional authenticated data is bound into the tag but not encrypted;
// the same bytes must be presented to Open. Pass nil when nothing beyond the
// payload itself needs binding.
func (a *AESGCMCipher) Seal(plaintext, aad []byte) ([]byte, error) {
	nonce := make([]byte, cryptoDomain.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(cryptoDomain.ErrEncryption, "nonce generation failed")
	}

	return a.aead.Seal(nonce, nonce, plaintext, aad), nil
}

// Open authenticates and decrypts a sealed blob produced by Seal.
//
// It returns ErrInvalidPayload when the blob is too short to contain a nonce
// and tag, and ErrAuthentication when the tag does not verify. No plaintext
// is ever returned on failure.
func (a *AESGCMCipher) Open(sealed, aad []byte) ([]byte, error) {
	if len(sealed) < cryptoDomain.MinSealedSize {
		return nil, cryptoDomain.ErrInvalidPayload
	}

	nonce, body := sealed[:cryptoDomain.NonceSize], sealed[cryptoDomain.NonceSize:]
	plaintext, err := a.aead.Open(nil, nonce, body, aad)
	if err != nil {
		return nil, cryptoDomain.ErrAuthentication
	}

	return plaintext, nil
}
