package analytics

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/geddydukes/portfolio/internal/store"
)

// ComputeStats assembles a Snapshot. Independent store reads run
// concurrently, at most Options.Concurrency at a time. Any store error fails
// the whole call; undecodable visit log entries are skipped.
func (s *Service) ComputeStats(ctx context.Context) (*Snapshot, error) {
	if s.store == nil {
		s.metrics.RecordStats(0, store.ErrNotConfigured)
		return nil, store.ErrNotConfigured
	}

	start := time.Now()
	snap, err := s.computeStats(ctx)
	s.metrics.RecordStats(time.Since(start).Seconds(), err)
	return snap, err
}

func (s *Service) computeStats(ctx context.Context) (*Snapshot, error) {
	now := s.now().UTC()

	views, err := s.store.HashGetAll(ctx, keyViews)
	if err != nil {
		return nil, fmt.Errorf("read views: %w", err)
	}
	pages := make([]string, 0, len(views))
	for k := range views {
		pages = append(pages, k)
	}
	slices.Sort(pages)

	var (
		uniques     = make([]int64, len(pages))
		days        = make([]map[string]int64, statsDays)
		totalUnique int64
		todayUnique int64
		refs        map[string]int64
		browsers    map[string]int64
		systems     map[string]int64
		devices     map[string]int64
		countries   map[string]int64
		rawVisits   [][]byte
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, page := range pages {
		i, page := i, page
		g.Go(func() error {
			n, err := s.store.SetCard(gctx, uniqueKey(page))
			if err != nil {
				return fmt.Errorf("read unique visitors for %s: %w", page, err)
			}
			uniques[i] = n
			return nil
		})
	}
	for i := 0; i < statsDays; i++ {
		i := i
		day := dayKey(now.AddDate(0, 0, -i))
		g.Go(func() error {
			counts, err := s.store.HashGetAll(gctx, dailyKey(day))
			if err != nil {
				return fmt.Errorf("read daily views for %s: %w", day, err)
			}
			days[i] = counts
			return nil
		})
	}
	g.Go(func() (err error) {
		totalUnique, err = s.store.SetCard(gctx, keyVisitors)
		return wrap(err, "read visitors")
	})
	g.Go(func() (err error) {
		todayUnique, err = s.store.SetCard(gctx, dailyUniqueKey(dayKey(now)))
		return wrap(err, "read today's visitors")
	})
	g.Go(func() (err error) {
		refs, err = s.store.HashGetAll(gctx, keyReferrers)
		return wrap(err, "read referrers")
	})
	g.Go(func() (err error) {
		browsers, err = s.store.HashGetAll(gctx, keyBrowsers)
		return wrap(err, "read browsers")
	})
	g.Go(func() (err error) {
		systems, err = s.store.HashGetAll(gctx, keyOS)
		return wrap(err, "read operating systems")
	})
	g.Go(func() (err error) {
		devices, err = s.store.HashGetAll(gctx, keyDevices)
		return wrap(err, "read devices")
	})
	g.Go(func() (err error) {
		countries, err = s.store.HashGetAll(gctx, keyCountries)
		return wrap(err, "read countries")
	})
	g.Go(func() (err error) {
		rawVisits, err = s.store.ListRange(gctx, keyVisitLog, s.recentVisitsLimit)
		return wrap(err, "read visit log")
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap := &Snapshot{
		PageBreakdown:    make([]PageStat, 0, len(pages)),
		Referrers:        rankSources(refs),
		Browsers:         rankSources(browsers),
		OperatingSystems: rankSources(systems),
		Devices:          rankSources(devices),
		Countries:        rankSources(countries),
		Last7Days:        make(map[string]map[string]int64),
		RecentVisits:     s.decodeVisits(rawVisits),
		GeneratedAt:      s.now().UTC().Format(timestampLayout),
	}

	for i, page := range pages {
		snap.PageBreakdown = append(snap.PageBreakdown, PageStat{
			Page:           page,
			Views:          views[page],
			UniqueVisitors: uniques[i],
		})
		snap.Summary.TotalViews += views[page]
	}
	slices.SortStableFunc(snap.PageBreakdown, func(a, b PageStat) int {
		return cmp.Compare(b.Views, a.Views)
	})

	for i, counts := range days {
		if len(counts) == 0 {
			continue
		}
		snap.Last7Days[dayKey(now.AddDate(0, 0, -i))] = counts
		if i == 0 {
			for _, n := range counts {
				snap.Summary.TodayViews += n
			}
		}
	}
	snap.Summary.TotalUniqueVisitors = totalUnique
	snap.Summary.TodayUniqueVisitors = todayUnique

	return snap, nil
}

func (s *Service) decodeVisits(raw [][]byte) []VisitRecord {
	out := make([]VisitRecord, 0, len(raw))
	dropped := 0
	for _, entry := range raw {
		rec, err := decodeVisitRecord(entry)
		if err != nil {
			dropped++
			slog.Debug("dropping malformed visit log entry", "error", err)
			continue
		}
		out = append(out, rec)
	}
	s.metrics.RecordVisitLogDropped(dropped)
	return out
}

// rankSources orders a tally by count, highest first, then by label.
func rankSources(tally map[string]int64) []SourceCount {
	out := make([]SourceCount, 0, len(tally))
	for source, n := range tally {
		out = append(out, SourceCount{Source: source, Count: n})
	}
	slices.SortFunc(out, func(a, b SourceCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Source, b.Source)
	})
	return out
}

func wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}
