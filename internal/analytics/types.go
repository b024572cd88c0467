package analytics

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// timestampLayout renders millisecond UTC timestamps such as
// 2024-05-01T09:30:00.000Z, the format already present in stored logs.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Visit is one page load reported by the browser.
type Visit struct {
	Slug      string
	Page      string
	IP        string
	UserAgent string
	Referrer  string
}

// Result is what the tracker tells the browser about a recorded visit.
type Result struct {
	Accepted     bool
	IsNewVisitor bool
}

// VisitRecord is an entry of the recent-visit log.
type VisitRecord struct {
	Timestamp    string `json:"timestamp"`
	PageID       string `json:"pageId"`
	VisitorID    string `json:"visitorId"`
	Referer      string `json:"referer"`
	IsNewVisitor bool   `json:"isNewVisitor"`
}

var errIncompleteRecord = errors.New("incomplete visit record")

// decodeVisitRecord parses a stored log entry. Entries missing the page,
// visitor or a valid timestamp are rejected.
func decodeVisitRecord(raw []byte) (VisitRecord, error) {
	var rec VisitRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return VisitRecord{}, err
	}
	if rec.PageID == "" || rec.VisitorID == "" {
		return VisitRecord{}, errIncompleteRecord
	}
	if _, err := time.Parse(time.RFC3339, rec.Timestamp); err != nil {
		return VisitRecord{}, fmt.Errorf("timestamp: %w", err)
	}
	return rec, nil
}

// Summary holds the headline numbers of a snapshot.
type Summary struct {
	TotalViews          int64 `json:"totalViews"`
	TotalUniqueVisitors int64 `json:"totalUniqueVisitors"`
	TodayViews          int64 `json:"todayViews"`
	TodayUniqueVisitors int64 `json:"todayUniqueVisitors"`
}

// PageStat is one row of the per-page breakdown.
type PageStat struct {
	Page           string `json:"page"`
	Views          int64  `json:"views"`
	UniqueVisitors int64  `json:"uniqueVisitors"`
}

// SourceCount is one row of a ranked tally (referrers, browsers, operating
// systems, devices, countries).
type SourceCount struct {
	Source string `json:"source"`
	Count  int64  `json:"count"`
}

// Snapshot is the dashboard read model. It is assembled from independent
// reads and may mix counters from slightly different instants.
type Snapshot struct {
	Summary          Summary                     `json:"summary"`
	PageBreakdown    []PageStat                  `json:"pageBreakdown"`
	Referrers        []SourceCount               `json:"referrers"`
	Browsers         []SourceCount               `json:"browsers"`
	OperatingSystems []SourceCount               `json:"operatingSystems"`
	Devices          []SourceCount               `json:"devices"`
	Countries        []SourceCount               `json:"countries"`
	Last7Days        map[string]map[string]int64 `json:"last7Days"`
	RecentVisits     []VisitRecord               `json:"recentVisits"`
	GeneratedAt      string                      `json:"generatedAt"`
}
