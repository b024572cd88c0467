package useragent

import (
	"strings"

	"github.com/mssola/useragent"
)

// Client is the part of a user agent the dashboard cares about.
type Client struct {
	Browser string
	OS      string
	Device  string // desktop, mobile, tablet, bot, unknown
	IsBot   bool
}

// Label is the key used in the browser tally. Crawlers are listed by name so
// they stand out from real readers.
func (c Client) Label() string {
	if c.IsBot {
		return c.Browser + " (bot)"
	}
	return c.Browser
}

// knownBots is ordered from most to least specific; the first match wins.
var knownBots = []struct{ signature, name string }{
	{"googlebot", "Googlebot"},
	{"bingbot", "Bingbot"},
	{"duckduckbot", "DuckDuckBot"},
	{"yandexbot", "YandexBot"},
	{"baiduspider", "Baiduspider"},
	{"applebot", "Applebot"},
	{"facebookexternalhit", "Facebook"},
	{"twitterbot", "Twitterbot"},
	{"linkedinbot", "LinkedInBot"},
	{"slackbot", "Slackbot"},
	{"discordbot", "Discordbot"},
	{"gptbot", "GPTBot"},
	{"perplexitybot", "PerplexityBot"},
	{"bytespider", "ByteSpider"},
	{"ahrefsbot", "AhrefsBot"},
	{"semrushbot", "SemrushBot"},
	{"uptimerobot", "UptimeRobot"},
	{"ia_archiver", "Alexa"},
	{"archive.org_bot", "Internet Archive"},
}

// Parse classifies a user-agent string.
func Parse(ua string) Client {
	if strings.TrimSpace(ua) == "" || ua == "unknown" {
		return Client{Browser: "Unknown", OS: "Unknown", Device: "unknown"}
	}

	parsed := useragent.New(ua)
	lower := strings.ToLower(ua)

	if parsed.Bot() || containsAny(lower, "bot", "crawler", "spider", "crawl", "slurp", "headless") {
		return Client{Browser: botName(lower), OS: "Bot", Device: "bot", IsBot: true}
	}

	name, _ := parsed.Browser()
	c := Client{
		Browser: normalizeBrowser(name),
		OS:      normalizeOS(parsed.OS(), lower),
		Device:  "desktop",
	}
	switch {
	case containsAny(lower, "ipad", "tablet", "kindle", "silk"):
		c.Device = "tablet"
	case parsed.Mobile():
		c.Device = "mobile"
	}
	return c
}

func botName(lower string) string {
	for _, b := range knownBots {
		if strings.Contains(lower, b.signature) {
			return b.name
		}
	}
	return "Unknown Bot"
}

func normalizeBrowser(name string) string {
	switch strings.ToLower(name) {
	case "chrome", "google chrome":
		return "Chrome"
	case "firefox", "mozilla firefox":
		return "Firefox"
	case "safari", "mobile safari":
		return "Safari"
	case "edge", "microsoft edge":
		return "Edge"
	case "opera", "opera mini":
		return "Opera"
	case "ie", "internet explorer", "msie":
		return "Internet Explorer"
	case "samsung browser", "samsungbrowser":
		return "Samsung Browser"
	case "":
		return "Unknown"
	default:
		return name
	}
}

func normalizeOS(osInfo, lower string) string {
	osLower := strings.ToLower(osInfo)
	switch {
	case containsAny(lower, "iphone", "ipad") || strings.Contains(osLower, "ios"):
		return "iOS"
	case strings.Contains(osLower, "android"):
		return "Android"
	case strings.Contains(osLower, "windows"):
		return "Windows"
	case containsAny(osLower, "mac os", "macos") || strings.Contains(lower, "macintosh"):
		return "macOS"
	case strings.Contains(lower, "cros "):
		return "Chrome OS"
	case strings.Contains(osLower, "linux"):
		return "Linux"
	case osInfo == "":
		return "Unknown"
	default:
		return osInfo
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
