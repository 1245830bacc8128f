package domain

// Zero overwrites b with zeros so key material does not linger in memory
// longer than necessary. Safe to call with a nil slice.
func Zero(b []byte) {
	clear(b)
}
