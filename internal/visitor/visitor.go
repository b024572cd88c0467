// Package visitor derives cookie-less visitor identifiers.
//
// An identifier is a 32-bit rolling hash of "<ip>-<user agent>", rendered in
// base 36. It is stable for a given pair and carries no secret: collisions and
// spoofing are accepted because the dashboard only needs approximate
// uniqueness.
package visitor

import (
	"strconv"
	"strings"
	"unicode/utf16"
)

// Unknown replaces a missing IP address or user agent.
const Unknown = "unknown"

// ID returns the visitor identifier for an IP address and user agent.
// Empty inputs are treated as Unknown.
func ID(ip, userAgent string) string {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		ip = Unknown
	}
	if userAgent == "" {
		userAgent = Unknown
	}
	return strconv.FormatInt(abs(hash(ip+"-"+userAgent)), 36)
}

// hash is the classic h*31+c string hash over UTF-16 code units, wrapped to
// 32 bits, so identifiers match those already stored by the deployed site.
func hash(s string) int32 {
	var h int32
	for _, c := range utf16.Encode([]rune(s)) {
		h = (h << 5) - h + int32(c)
	}
	return h
}

func abs(h int32) int64 {
	v := int64(h)
	if v < 0 {
		return -v
	}
	return v
}
