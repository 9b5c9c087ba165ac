package utils

import "strings"

// ShortAddress returns a display prefix for an operator wallet address,
// e.g. "0x12ab34cd…". Addresses shorter than the prefix are returned as is.
func ShortAddress(addr string) string {
	const prefixLen = 10
	if len(addr) <= prefixLen {
		return addr
	}
	return addr[:prefixLen] + "…"
}

// IsHexString reports whether s consists only of hexadecimal characters,
// ignoring an optional 0x prefix.
func IsHexString(s string) bool {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
