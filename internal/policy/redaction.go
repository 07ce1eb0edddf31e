package policy

import (
	"regexp"
	"strings"
)

var (
	uriKeyPattern   = regexp.MustCompile(`(?i)([?&](?:key|symKey)=)[^&#]*`)
	uriTopicPattern = regexp.MustCompile(`^(wc:)([^@]{6})[^@]*(@)`)
)

// RedactPairingURI masks the symmetric key and most of the topic of a pairing
// URI so it can be logged. Anyone holding the key can decrypt the session.
func RedactPairingURI(uri string) string {
	out := strings.TrimSpace(uri)
	out = uriKeyPattern.ReplaceAllString(out, "${1}[REDACTED]")
	out = uriTopicPattern.ReplaceAllString(out, "${1}${2}…${3}")
	return out
}

// ShortAddress renders 0xCAFE…BABE style abbreviations for log lines.
func ShortAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}
