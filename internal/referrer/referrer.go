// Package referrer turns raw Referer headers into short source labels for the
// dashboard's referrer tally.
package referrer

import (
	"net/url"
	"strings"
)

// Direct labels visits that arrived without a Referer header.
const Direct = "direct"

// knownSources is checked in order; the first substring match wins.
var knownSources = []struct {
	needles []string
	label   string
}{
	{[]string{"tldr"}, "TLDR"},
	{[]string{"google"}, "Google"},
	{[]string{"twitter", "x.com"}, "Twitter/X"},
	{[]string{"linkedin"}, "LinkedIn"},
	{[]string{"github"}, "GitHub"},
}

// Normalize maps a raw referrer to a label. Known social and search sources
// get a friendly name, anything else is reduced to its host. The mapping is
// lossy and only meant for human-readable rollups.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Direct
	}

	lower := strings.ToLower(raw)
	for _, src := range knownSources {
		for _, needle := range src.needles {
			if strings.Contains(lower, needle) {
				return src.label
			}
		}
	}

	if host := hostOf(lower); host != "" {
		return host
	}
	return raw
}

func hostOf(raw string) string {
	if !strings.Contains(raw, "://") {
		raw = "//" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}
