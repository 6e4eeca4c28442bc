// ABOUTME: Secret masking for log output and admin responses
// ABOUTME: Reveals only a fixed-length trailing suffix of sensitive values

package utils

import "strings"

// maskedSuffixLen is the number of trailing characters kept visible.
const maskedSuffixLen = 4

// MaskSecret renders a secret as "****<suffix>". Values too short to keep
// a distinguishing suffix are fully masked; empty input stays empty.
func MaskSecret(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= maskedSuffixLen {
		return strings.Repeat("*", len(value))
	}
	return "****" + value[len(value)-maskedSuffixLen:]
}
