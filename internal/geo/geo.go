// Package geo resolves client IPs to ISO country codes using a MaxMind
// database. Lookups are cached because the same reader tends to load several
// pages in a row.
package geo

import (
	"net"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/oschwald/maxminddb-golang"
)

const (
	defaultCacheSize = 10000
	defaultCacheTTL  = time.Hour
)

// Lookup resolves IPs to countries. A nil *Lookup is valid and resolves
// nothing, which is how the service runs without a database configured.
type Lookup struct {
	db    *maxminddb.Reader
	cache *expirable.LRU[string, string]
}

// Open loads the database at path. An empty path disables lookups and
// returns a nil *Lookup without error.
func Open(path string) (*Lookup, error) {
	if path == "" {
		return nil, nil
	}
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, err
	}
	return newLookup(db), nil
}

func newLookup(db *maxminddb.Reader) *Lookup {
	return &Lookup{
		db:    db,
		cache: expirable.NewLRU[string, string](defaultCacheSize, nil, defaultCacheTTL),
	}
}

// Country returns the ISO 3166-1 alpha-2 code for ip, or "" when unknown.
func (l *Lookup) Country(ip string) string {
	if l == nil || l.db == nil || ip == "" {
		return ""
	}
	if code, ok := l.cache.Get(ip); ok {
		return code
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	var record struct {
		Country struct {
			ISO string `maxminddb:"iso_code"`
		} `maxminddb:"country"`
	}
	if err := l.db.Lookup(parsed, &record); err != nil {
		return ""
	}
	l.cache.Add(ip, record.Country.ISO)
	return record.Country.ISO
}

// Close releases the database.
func (l *Lookup) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}
