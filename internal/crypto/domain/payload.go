package domain

import "encoding/binary"

// PayloadForm identifies the structural layout of an encrypted blob.
type PayloadForm int

const (
	// FormLegacy is the oldest layout: nonce || ciphertext || tag, with no
	// version information at all.
	FormLegacy PayloadForm = iota + 1

	// FormPrefixed is the historical ASCII layout: "v<N>:" followed by the
	// sealed bytes. The prefix is not covered by the authentication tag.
	FormPrefixed

	// FormVersioned is the current layout: a FormatVersioned byte and a
	// big-endian uint32 version, followed by the sealed bytes. The five
	// header bytes are bound as associated data.
	FormVersioned
)

func (f PayloadForm) String() string {
	switch f {
	case FormLegacy:
		return "legacy"
	case FormPrefixed:
		return "prefixed"
	case FormVersioned:
		return "versioned"
	default:
		return "unknown"
	}
}

// FormatVersioned is the first byte of every versioned payload frame.
const FormatVersioned byte = 0x01

// headerSize is the length of the versioned frame header: the format byte
// plus a big-endian uint32 version.
const headerSize = 5

// maxPrefixSize bounds the search for the ':' separator of a prefixed
// payload: "v" plus at most maxVersionDigits digits plus the separator.
const maxPrefixSize = 1 + maxVersionDigits + 1

// EncryptedPayload is the structural reading of an encrypted blob.
//
// A reading is a candidate, not a verdict: the byte layout alone cannot prove
// which writer produced the blob, since legacy payloads begin with random
// nonce bytes that may collide with either marker. Only a successful
// authenticated decryption settles the interpretation.
type EncryptedPayload struct {
	Form    PayloadForm
	Version Version // zero for FormLegacy
	Header  []byte  // associated data for FormVersioned, nil otherwise
	Sealed  []byte  // nonce || ciphertext || tag
}

// ParsePayload returns the most specific structural reading of data. It
// returns ErrInvalidPayload when data is too short to be any form.
func ParsePayload(data []byte) (*EncryptedPayload, error) {
	if len(data) < MinSealedSize {
		return nil, ErrInvalidPayload
	}

	if version, header, sealed, ok := ParseVersioned(data); ok {
		return &EncryptedPayload{Form: FormVersioned, Version: version, Header: header, Sealed: sealed}, nil
	}
	if version, sealed, ok := ParsePrefixed(data); ok {
		return &EncryptedPayload{Form: FormPrefixed, Version: version, Sealed: sealed}, nil
	}

	return &EncryptedPayload{Form: FormLegacy, Sealed: data}, nil
}

// EncodeVersioned frames sealed AEAD output with the versioned header. The
// same header bytes must have been bound as associated data when sealing.
func EncodeVersioned(version Version, sealed []byte) []byte {
	out := make([]byte, headerSize+len(sealed))
	copy(out, VersionedHeader(version))
	copy(out[headerSize:], sealed)

	return out
}

// VersionedHeader returns the five header bytes for a versioned payload.
func VersionedHeader(version Version) []byte {
	header := make([]byte, headerSize)
	header[0] = FormatVersioned
	binary.BigEndian.PutUint32(header[1:], uint32(version))

	return header
}

// ParseVersioned interprets data as a versioned frame. It returns the
// version, the header bytes to authenticate against, and the sealed body.
func ParseVersioned(data []byte) (Version, []byte, []byte, bool) {
	if len(data) < headerSize+MinSealedSize || data[0] != FormatVersioned {
		return 0, nil, nil, false
	}

	version := Version(binary.BigEndian.Uint32(data[1:headerSize]))
	if version == 0 {
		return 0, nil, nil, false
	}

	return version, data[:headerSize], data[headerSize:], true
}

// ParsePrefixed interprets data as a historical "v<N>:" prefixed payload.
func ParsePrefixed(data []byte) (Version, []byte, bool) {
	if len(data) < 2 || data[0] != 'v' {
		return 0, nil, false
	}

	limit := min(len(data), maxPrefixSize)
	for i := 2; i < limit; i++ {
		if data[i] != ':' {
			continue
		}

		version, ok := parseVersionDigits(string(data[:i]))
		if !ok {
			return 0, nil, false
		}
		sealed := data[i+1:]
		if len(sealed) < MinSealedSize {
			return 0, nil, false
		}

		return version, sealed, true
	}

	return 0, nil, false
}
