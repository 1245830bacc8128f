// Package validation provides custom validation rules for the application.
package validation

import (
	"encoding/base64"

	validation "github.com/jellydator/validation"
)

// keySize is the fixed symmetric key length in bytes.
const keySize = 32

// Base64Key validates that a string is base64-encoded 32-byte key material.
var Base64Key = validation.By(func(value interface{}) error {
	s, ok := value.(string)
	if !ok {
		return validation.NewError("validation_base64_key_type", "must be a string")
	}
	if s == "" {
		return nil // Let Required handle empty strings
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return validation.NewError("validation_base64_key", "must be valid base64-encoded data")
	}
	if len(raw) != keySize {
		return validation.NewError("validation_base64_key_size", "must decode to exactly 32 bytes")
	}
	return nil
})
