package domain

import "strconv"

// Version identifies one generation of an encryption key. Versions start at 1
// and increase by one on every rotation.
type Version uint32

// maxVersionDigits bounds the decimal rendering of a version. Nine digits keep
// every valid token within uint32 range without overflow checks.
const maxVersionDigits = 9

// String renders the version as its token form, for example "v3".
func (v Version) String() string {
	return "v" + strconv.FormatUint(uint64(v), 10)
}

// Next returns the version a rotation would produce.
func (v Version) Next() Version {
	return v + 1
}

// ParseVersion parses a version token of the form "v<digits>". The digits
// must be a positive decimal number without leading zeros and with at most
// nine digits. Anything else is rejected, including "v0", "v01" and "V2".
func ParseVersion(s string) (Version, error) {
	n, ok := parseVersionDigits(s)
	if !ok {
		return 0, ErrInvalidVersion
	}

	return n, nil
}

func parseVersionDigits(s string) (Version, bool) {
	if len(s) < 2 || len(s) > 1+maxVersionDigits || s[0] != 'v' {
		return 0, false
	}
	if s[1] == '0' {
		return 0, false
	}

	var n uint64
	for i := 1; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + uint64(c-'0')
	}

	return Version(n), true
}
