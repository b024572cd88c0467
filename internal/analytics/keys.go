package analytics

import "time"

// Store keys. Every backend uses this one schema; readers and writers must
// agree on it.
const (
	keyViews     = "analytics:views"     // hash page -> total views
	keyVisitors  = "analytics:visitors"  // set of visitor ids, site-wide
	keyReferrers = "analytics:referrers" // hash label -> visits
	keyBrowsers  = "analytics:browsers"  // hash browser -> visits
	keyOS        = "analytics:os"        // hash operating system -> visits
	keyDevices   = "analytics:devices"   // hash device class -> visits
	keyCountries = "analytics:countries" // hash ISO code -> visits
	keyVisitLog  = "analytics:visit-log" // list of JSON VisitRecord, newest first

	dailyPrefix       = "analytics:daily:"        // + day: hash page -> views
	dailyUniquePrefix = "analytics:daily-unique:" // + day: set of visitor ids
	uniquePrefix      = "analytics:unique:"       // + page: set of visitor ids
)

const dayLayout = "2006-01-02"

func dailyKey(day string) string { return dailyPrefix + day }

func dailyUniqueKey(day string) string { return dailyUniquePrefix + day }

func uniqueKey(pageID string) string { return uniquePrefix + pageID }

// dayKey is the UTC calendar day of t.
func dayKey(t time.Time) string { return t.UTC().Format(dayLayout) }
