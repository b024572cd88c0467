package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/geddydukes/portfolio/internal/store"
	"github.com/geddydukes/portfolio/internal/store/memory"
	"github.com/geddydukes/portfolio/internal/visitor"
)

const (
	testIP = "203.0.113.7"
	testUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_1) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15"
)

// clock is a settable time source for tests.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newTestService(t *testing.T, opts Options) (*Service, *memory.Store, *clock) {
	t.Helper()
	clk := &clock{now: time.Date(2024, 5, 10, 14, 30, 0, 0, time.UTC)}
	opts.Now = clk.Now
	st := memory.New()
	return New(st, opts), st, clk
}

func record(t *testing.T, svc *Service, v Visit) Result {
	t.Helper()
	res, err := svc.RecordVisit(context.Background(), v)
	if err != nil {
		t.Fatalf("RecordVisit(%+v): %v", v, err)
	}
	return res
}

func stats(t *testing.T, svc *Service) *Snapshot {
	t.Helper()
	snap, err := svc.ComputeStats(context.Background())
	if err != nil {
		t.Fatalf("ComputeStats: %v", err)
	}
	return snap
}

func findPage(snap *Snapshot, page string) (PageStat, bool) {
	for _, p := range snap.PageBreakdown {
		if p.Page == page {
			return p, true
		}
	}
	return PageStat{}, false
}

func TestPageID(t *testing.T) {
	tests := []struct {
		slug, page, want string
	}{
		{"tiny-llm", "", "blog:tiny-llm"},
		{"", "home", "page:home"},
		{"tiny-llm", "home", "blog:tiny-llm"},
		{"", "", UnknownPage},
	}
	for _, tc := range tests {
		if got := PageID(tc.slug, tc.page); got != tc.want {
			t.Errorf("PageID(%q, %q) = %q, want %q", tc.slug, tc.page, got, tc.want)
		}
	}
}

func TestFreshVisitorFromGoogle(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})

	res := record(t, svc, Visit{
		Page:      "home",
		IP:        testIP,
		UserAgent: testUA,
		Referrer:  "https://www.google.com/search?q=x",
	})
	if !res.Accepted || !res.IsNewVisitor {
		t.Errorf("Result = %+v, want accepted new visitor", res)
	}

	snap := stats(t, svc)
	page, ok := findPage(snap, "page:home")
	if !ok {
		t.Fatalf("page:home missing from %+v", snap.PageBreakdown)
	}
	if page.Views != 1 || page.UniqueVisitors != 1 {
		t.Errorf("page:home = %+v, want views 1 unique 1", page)
	}
	if len(snap.Referrers) != 1 || snap.Referrers[0] != (SourceCount{Source: "Google", Count: 1}) {
		t.Errorf("Referrers = %+v, want [{Google 1}]", snap.Referrers)
	}
	if len(snap.Browsers) != 1 || snap.Browsers[0] != (SourceCount{Source: "Safari", Count: 1}) {
		t.Errorf("Browsers = %+v, want [{Safari 1}]", snap.Browsers)
	}
	want := Summary{TotalViews: 1, TotalUniqueVisitors: 1, TodayViews: 1, TodayUniqueVisitors: 1}
	if snap.Summary != want {
		t.Errorf("Summary = %+v, want %+v", snap.Summary, want)
	}
}

func TestRepeatVisitorCountsViewsNotVisitors(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	v := Visit{Slug: "tiny-llm", IP: testIP, UserAgent: testUA}

	first := record(t, svc, v)
	second := record(t, svc, v)
	if !first.IsNewVisitor {
		t.Error("first visit should be new")
	}
	if second.IsNewVisitor {
		t.Error("second visit from the same visitor should not be new")
	}

	snap := stats(t, svc)
	page, ok := findPage(snap, "blog:tiny-llm")
	if !ok {
		t.Fatal("blog:tiny-llm missing")
	}
	if page.Views != 2 || page.UniqueVisitors != 1 {
		t.Errorf("blog:tiny-llm = %+v, want views 2 unique 1", page)
	}
}

func TestNewVisitorIsSiteWide(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})

	record(t, svc, Visit{Page: "home", IP: testIP, UserAgent: testUA})
	res := record(t, svc, Visit{Slug: "tiny-llm", IP: testIP, UserAgent: testUA})
	if res.IsNewVisitor {
		t.Error("visitor already seen on another page reported as new")
	}

	snap := stats(t, svc)
	page, _ := findPage(snap, "blog:tiny-llm")
	if page.UniqueVisitors != 1 {
		t.Errorf("per-page unique = %d, want 1", page.UniqueVisitors)
	}
	if snap.Summary.TotalUniqueVisitors != 1 {
		t.Errorf("TotalUniqueVisitors = %d, want 1", snap.Summary.TotalUniqueVisitors)
	}
	if len(snap.RecentVisits) != 2 || snap.RecentVisits[0].IsNewVisitor {
		t.Errorf("newest log entry = %+v, want isNewVisitor false", snap.RecentVisits)
	}
}

func TestPlatformTallies(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	agents := []string{
		testUA,
		testUA,
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
		"Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
	}
	for i, ua := range agents {
		record(t, svc, Visit{Page: "home", IP: fmt.Sprintf("10.3.0.%d", i), UserAgent: ua})
	}

	snap := stats(t, svc)
	wantOS := []SourceCount{{"macOS", 2}, {"Bot", 1}, {"iOS", 1}}
	if fmt.Sprint(snap.OperatingSystems) != fmt.Sprint(wantOS) {
		t.Errorf("OperatingSystems = %v, want %v", snap.OperatingSystems, wantOS)
	}
	wantDevices := []SourceCount{{"desktop", 2}, {"bot", 1}, {"mobile", 1}}
	if fmt.Sprint(snap.Devices) != fmt.Sprint(wantDevices) {
		t.Errorf("Devices = %v, want %v", snap.Devices, wantDevices)
	}
	wantBrowsers := []SourceCount{{"Safari", 3}, {"Googlebot (bot)", 1}}
	if fmt.Sprint(snap.Browsers) != fmt.Sprint(wantBrowsers) {
		t.Errorf("Browsers = %v, want %v", snap.Browsers, wantBrowsers)
	}
}

func TestGeneratedAtMatchesLogTimestamps(t *testing.T) {
	svc, _, clk := newTestService(t, Options{})
	clk.Set(time.Date(2024, 5, 10, 14, 30, 0, 123456789, time.UTC))
	record(t, svc, Visit{Page: "home", IP: testIP, UserAgent: testUA})

	snap := stats(t, svc)
	if snap.GeneratedAt != "2024-05-10T14:30:00.123Z" {
		t.Errorf("GeneratedAt = %q, want millisecond precision", snap.GeneratedAt)
	}
	if snap.GeneratedAt != snap.RecentVisits[0].Timestamp {
		t.Errorf("GeneratedAt %q and log timestamp %q differ in format", snap.GeneratedAt, snap.RecentVisits[0].Timestamp)
	}
}

func TestMissingPageIsUnknown(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	res := record(t, svc, Visit{IP: testIP, UserAgent: testUA})
	if !res.Accepted {
		t.Fatal("visit without page should still be accepted")
	}
	if _, ok := findPage(stats(t, svc), UnknownPage); !ok {
		t.Errorf("%s missing from breakdown", UnknownPage)
	}
}

func TestDirectVisitsSkipReferrerTally(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	record(t, svc, Visit{Page: "home", IP: testIP, UserAgent: testUA})

	snap := stats(t, svc)
	if len(snap.Referrers) != 0 {
		t.Errorf("Referrers = %+v, want none for direct traffic", snap.Referrers)
	}
	if got := snap.RecentVisits[0].Referer; got != "direct" {
		t.Errorf("logged referer = %q, want %q", got, "direct")
	}
}

func TestVisitLogRoundTrip(t *testing.T) {
	svc, _, clk := newTestService(t, Options{})
	record(t, svc, Visit{Slug: "tiny-llm", IP: testIP, UserAgent: testUA, Referrer: "https://github.com/x"})

	snap := stats(t, svc)
	if len(snap.RecentVisits) != 1 {
		t.Fatalf("RecentVisits = %d entries, want 1", len(snap.RecentVisits))
	}
	got := snap.RecentVisits[0]
	want := VisitRecord{
		Timestamp:    clk.Now().Format(timestampLayout),
		PageID:       "blog:tiny-llm",
		VisitorID:    visitor.ID(testIP, testUA),
		Referer:      "GitHub",
		IsNewVisitor: true,
	}
	if got != want {
		t.Errorf("RecentVisits[0] = %+v, want %+v", got, want)
	}
	if got.Timestamp != "2024-05-10T14:30:00.000Z" {
		t.Errorf("Timestamp = %q", got.Timestamp)
	}
}

func TestVisitLogBounded(t *testing.T) {
	const bound = 10
	svc, st, clk := newTestService(t, Options{VisitLogMax: bound, RecentVisitsLimit: 100})
	start := clk.Now()

	for i := 0; i < bound+5; i++ {
		clk.Set(start.Add(time.Duration(i) * time.Second))
		record(t, svc, Visit{Page: fmt.Sprintf("p%d", i), IP: testIP, UserAgent: testUA})
	}

	raw, err := st.ListRange(context.Background(), keyVisitLog, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != bound {
		t.Fatalf("log length = %d, want %d", len(raw), bound)
	}

	snap := stats(t, svc)
	if len(snap.RecentVisits) != bound {
		t.Fatalf("RecentVisits = %d, want %d", len(snap.RecentVisits), bound)
	}
	for i, rec := range snap.RecentVisits {
		want := fmt.Sprintf("page:p%d", bound+4-i)
		if rec.PageID != want {
			t.Errorf("RecentVisits[%d].PageID = %q, want %q", i, rec.PageID, want)
		}
	}
}

func TestRecentVisitsLimit(t *testing.T) {
	svc, _, _ := newTestService(t, Options{RecentVisitsLimit: 3})
	for i := 0; i < 5; i++ {
		record(t, svc, Visit{Page: "home", IP: fmt.Sprintf("192.0.2.%d", i), UserAgent: testUA})
	}
	if n := len(stats(t, svc).RecentVisits); n != 3 {
		t.Errorf("RecentVisits = %d, want 3", n)
	}
}

func TestMalformedLogEntriesDropped(t *testing.T) {
	svc, st, _ := newTestService(t, Options{})
	ctx := context.Background()
	record(t, svc, Visit{Page: "home", IP: testIP, UserAgent: testUA})

	for _, junk := range []string{
		"not json",
		`{"pageId":"page:home"}`,
		`{"timestamp":"yesterday","pageId":"page:home","visitorId":"abc"}`,
		`["array"]`,
	} {
		if err := st.PushBounded(ctx, keyVisitLog, []byte(junk), 1000); err != nil {
			t.Fatal(err)
		}
	}

	snap := stats(t, svc)
	if len(snap.RecentVisits) != 1 {
		t.Fatalf("RecentVisits = %+v, want only the valid entry", snap.RecentVisits)
	}
	if snap.RecentVisits[0].PageID != "page:home" {
		t.Errorf("surviving entry = %+v", snap.RecentVisits[0])
	}
}

func TestLegacyLogEntryDecodes(t *testing.T) {
	raw := []byte(`{"timestamp":"2024-01-02T03:04:05.678Z","pageId":"blog:hello","visitorId":"1x2y3z","referer":"TLDR","isNewVisitor":true,"extra":1}`)
	rec, err := decodeVisitRecord(raw)
	if err != nil {
		t.Fatalf("decodeVisitRecord: %v", err)
	}
	if rec.PageID != "blog:hello" || rec.Referer != "TLDR" || !rec.IsNewVisitor {
		t.Errorf("decoded = %+v", rec)
	}
}

func TestPageBreakdownSorted(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	visits := map[string]int{"page:home": 3, "blog:a": 1, "blog:b": 3, "page:about": 2}
	for page, n := range visits {
		for i := 0; i < n; i++ {
			v := Visit{IP: fmt.Sprintf("10.0.0.%d", i), UserAgent: testUA}
			if kind, name, _ := strings.Cut(page, ":"); kind == "blog" {
				v.Slug = name
			} else {
				v.Page = name
			}
			record(t, svc, v)
		}
	}

	snap := stats(t, svc)
	var order []string
	for _, p := range snap.PageBreakdown {
		order = append(order, p.Page)
	}
	// Ties keep enumeration order, which is by page id.
	want := []string{"blog:b", "page:home", "page:about", "blog:a"}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Errorf("order = %v, want %v", order, want)
	}
	if snap.Summary.TotalViews != 9 {
		t.Errorf("TotalViews = %d, want 9", snap.Summary.TotalViews)
	}
}

func TestReferrersRanked(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	refs := []string{
		"https://news.ycombinator.com/item?id=1",
		"https://x.com/a", "https://x.com/b",
		"https://www.google.com/", "https://www.google.com/", "https://www.google.com/",
		"https://www.linkedin.com/",
	}
	for i, r := range refs {
		record(t, svc, Visit{Page: "home", IP: fmt.Sprintf("10.1.0.%d", i), UserAgent: testUA, Referrer: r})
	}

	got := stats(t, svc).Referrers
	want := []SourceCount{
		{"Google", 3}, {"Twitter/X", 2}, {"LinkedIn", 1}, {"news.ycombinator.com", 1},
	}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Referrers = %v, want %v", got, want)
	}
}

func TestLast7Days(t *testing.T) {
	svc, _, clk := newTestService(t, Options{})
	first := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 8; i++ {
		clk.Set(first.AddDate(0, 0, i))
		record(t, svc, Visit{Page: "home", IP: testIP, UserAgent: testUA})
	}

	snap := stats(t, svc)
	if len(snap.Last7Days) != 7 {
		t.Fatalf("Last7Days has %d days, want 7: %v", len(snap.Last7Days), snap.Last7Days)
	}
	if _, ok := snap.Last7Days["2024-05-01"]; ok {
		t.Error("oldest day 2024-05-01 should fall outside the window")
	}
	for d := 2; d <= 8; d++ {
		day := fmt.Sprintf("2024-05-%02d", d)
		if snap.Last7Days[day]["page:home"] != 1 {
			t.Errorf("Last7Days[%s] = %v, want page:home=1", day, snap.Last7Days[day])
		}
	}
	if snap.Summary.TodayViews != 1 {
		t.Errorf("TodayViews = %d, want 1", snap.Summary.TodayViews)
	}
	if snap.Summary.TotalViews != 8 {
		t.Errorf("TotalViews = %d, want 8", snap.Summary.TotalViews)
	}
}

func TestLast7DaysOmitsEmptyDays(t *testing.T) {
	svc, _, clk := newTestService(t, Options{})
	base := clk.Now()

	clk.Set(base.AddDate(0, 0, -3))
	record(t, svc, Visit{Page: "home", IP: testIP, UserAgent: testUA})
	clk.Set(base)

	snap := stats(t, svc)
	if len(snap.Last7Days) != 1 {
		t.Errorf("Last7Days = %v, want only the day with data", snap.Last7Days)
	}
	if snap.Summary.TodayViews != 0 {
		t.Errorf("TodayViews = %d, want 0", snap.Summary.TodayViews)
	}
	if snap.Summary.TodayUniqueVisitors != 0 {
		t.Errorf("TodayUniqueVisitors = %d, want 0", snap.Summary.TodayUniqueVisitors)
	}
}

func TestDayKeyIsUTC(t *testing.T) {
	loc := time.FixedZone("UTC-8", -8*3600)
	// 20:00 on May 9 in UTC-8 is already May 10 in UTC.
	if got := dayKey(time.Date(2024, 5, 9, 20, 0, 0, 0, loc)); got != "2024-05-10" {
		t.Errorf("dayKey = %q, want 2024-05-10", got)
	}
}

type staticGeo map[string]string

func (g staticGeo) Country(ip string) string { return g[ip] }

func TestCountriesTally(t *testing.T) {
	svc, _, _ := newTestService(t, Options{Geo: staticGeo{"192.0.2.1": "NZ", "192.0.2.2": "DE"}})
	record(t, svc, Visit{Page: "home", IP: "192.0.2.1", UserAgent: testUA})
	record(t, svc, Visit{Page: "home", IP: "192.0.2.1", UserAgent: testUA})
	record(t, svc, Visit{Page: "home", IP: "192.0.2.2", UserAgent: testUA})
	record(t, svc, Visit{Page: "home", IP: "198.51.100.1", UserAgent: testUA})

	got := stats(t, svc).Countries
	want := []SourceCount{{"NZ", 2}, {"DE", 1}}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Countries = %v, want %v", got, want)
	}
}

func TestConcurrentVisitsDoNotLoseCounts(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	const n = 50

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = svc.RecordVisit(context.Background(), Visit{
				Slug: "tiny-llm", IP: fmt.Sprintf("10.2.0.%d", i%10), UserAgent: testUA,
			})
		}(i)
	}
	wg.Wait()

	page, _ := findPage(stats(t, svc), "blog:tiny-llm")
	if page.Views != n || page.UniqueVisitors != 10 {
		t.Errorf("blog:tiny-llm = %+v, want views %d unique 10", page, n)
	}
}

func TestSnapshotJSONShape(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	buf, err := json.Marshal(stats(t, svc))
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(buf, &m); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{
		"summary", "pageBreakdown", "referrers", "browsers", "operatingSystems",
		"devices", "countries", "last7Days", "recentVisits", "generatedAt",
	} {
		if _, ok := m[key]; !ok {
			t.Errorf("snapshot JSON missing %q", key)
		}
	}
	// Empty collections encode as [] so the dashboard can iterate them.
	if _, ok := m["pageBreakdown"].([]any); !ok {
		t.Errorf("pageBreakdown = %v, want empty array", m["pageBreakdown"])
	}
	if _, ok := m["recentVisits"].([]any); !ok {
		t.Errorf("recentVisits = %v, want empty array", m["recentVisits"])
	}
}

func TestNotConfigured(t *testing.T) {
	svc := New(nil, Options{})
	if svc.Configured() {
		t.Error("Configured() = true with nil store")
	}
	if _, err := svc.RecordVisit(context.Background(), Visit{Page: "home"}); !errors.Is(err, store.ErrNotConfigured) {
		t.Errorf("RecordVisit error = %v, want ErrNotConfigured", err)
	}
	if _, err := svc.ComputeStats(context.Background()); !errors.Is(err, store.ErrNotConfigured) {
		t.Errorf("ComputeStats error = %v, want ErrNotConfigured", err)
	}
	if err := svc.Ping(context.Background()); !errors.Is(err, store.ErrNotConfigured) {
		t.Errorf("Ping error = %v, want ErrNotConfigured", err)
	}
}

// failingStore fails every call after the first `ok` calls.
type failingStore struct {
	store.Store
	mu    sync.Mutex
	calls int
	ok    int
}

var errStoreDown = errors.New("connection refused")

func (f *failingStore) fail() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls > f.ok {
		return errStoreDown
	}
	return nil
}

func (f *failingStore) HashIncr(ctx context.Context, key, field string, d int64) (int64, error) {
	if err := f.fail(); err != nil {
		return 0, err
	}
	return f.Store.HashIncr(ctx, key, field, d)
}

func (f *failingStore) HashGetAll(ctx context.Context, key string) (map[string]int64, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.Store.HashGetAll(ctx, key)
}

func (f *failingStore) SetCard(ctx context.Context, key string) (int64, error) {
	if err := f.fail(); err != nil {
		return 0, err
	}
	return f.Store.SetCard(ctx, key)
}

func TestStoreErrorsPropagate(t *testing.T) {
	svc := New(&failingStore{Store: memory.New()}, Options{})

	if _, err := svc.RecordVisit(context.Background(), Visit{Page: "home"}); !errors.Is(err, errStoreDown) {
		t.Errorf("RecordVisit error = %v, want wrapped store error", err)
	}
	if _, err := svc.ComputeStats(context.Background()); !errors.Is(err, errStoreDown) {
		t.Errorf("ComputeStats error = %v, want wrapped store error", err)
	}
}

func TestComputeStatsFailsOnPartialReadError(t *testing.T) {
	mem := memory.New()
	seed := New(mem, Options{})
	for i := 0; i < 3; i++ {
		record(t, seed, Visit{Page: fmt.Sprintf("p%d", i), IP: testIP, UserAgent: testUA})
	}

	// The views read succeeds; a later fan-out read fails.
	svc := New(&failingStore{Store: mem, ok: 2}, Options{})
	snap, err := svc.ComputeStats(context.Background())
	if !errors.Is(err, errStoreDown) {
		t.Fatalf("ComputeStats error = %v, want store error", err)
	}
	if snap != nil {
		t.Errorf("snapshot = %+v, want nil on failure", snap)
	}
}
