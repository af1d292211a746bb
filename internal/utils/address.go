package utils

import "strings"

// addressBytes is the length of an account address before hex encoding.
const addressBytes = 20

// NewAddress returns a random lower-case "0x"-prefixed 20-byte hex address.
func NewAddress() (string, error) {
	h, err := randomHex(addressBytes)
	if err != nil {
		return "", err
	}
	return "0x" + h, nil
}

// NormalizeAddress lower-cases addr and reports whether it is a
// well-formed address.
func NormalizeAddress(addr string) (string, bool) {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if len(addr) != 2+2*addressBytes || !strings.HasPrefix(addr, "0x") {
		return "", false
	}
	for _, c := range addr[2:] {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", false
		}
	}
	return addr, true
}
