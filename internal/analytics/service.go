// Package analytics records page visits and assembles the operator dashboard
// snapshot. All state lives in the injected store.Store; a Service holds no
// counters of its own, so any number of processes can share one store.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/geddydukes/portfolio/internal/metrics"
	"github.com/geddydukes/portfolio/internal/referrer"
	"github.com/geddydukes/portfolio/internal/store"
	"github.com/geddydukes/portfolio/internal/useragent"
	"github.com/geddydukes/portfolio/internal/visitor"
)

const (
	DefaultVisitLogMax       = 1000
	DefaultRecentVisitsLimit = 50
	DefaultConcurrency       = 8

	// UnknownPage is recorded when a visit names neither a post nor a page.
	UnknownPage = "page:unknown"

	statsDays = 7
)

// CountryResolver maps a client IP to an ISO country code, or "".
type CountryResolver interface {
	Country(ip string) string
}

// Options tunes a Service. Zero values select the defaults.
type Options struct {
	VisitLogMax       int
	RecentVisitsLimit int
	// Concurrency bounds the store reads a snapshot issues at once.
	Concurrency int
	Geo         CountryResolver
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

type Service struct {
	store             store.Store
	visitLogMax       int64
	recentVisitsLimit int64
	concurrency       int
	geo               CountryResolver
	metrics           *metrics.Metrics
	now               func() time.Time
}

// New returns a Service over st. A nil st is allowed and makes every call
// fail with store.ErrNotConfigured.
func New(st store.Store, opts Options) *Service {
	if opts.VisitLogMax <= 0 {
		opts.VisitLogMax = DefaultVisitLogMax
	}
	if opts.RecentVisitsLimit <= 0 {
		opts.RecentVisitsLimit = DefaultRecentVisitsLimit
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:             st,
		visitLogMax:       int64(opts.VisitLogMax),
		recentVisitsLimit: int64(opts.RecentVisitsLimit),
		concurrency:       opts.Concurrency,
		geo:               opts.Geo,
		metrics:           opts.Metrics,
		now:               opts.Now,
	}
}

// Configured reports whether a store is attached.
func (s *Service) Configured() bool {
	return s.store != nil
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	if s.store == nil {
		return store.ErrNotConfigured
	}
	return s.store.Ping(ctx)
}

// PageID tags a visit target: blog posts as blog:<slug>, other pages as
// page:<name>. With neither, the visit is filed under UnknownPage.
func PageID(slug, page string) string {
	switch {
	case slug != "":
		return "blog:" + slug
	case page != "":
		return "page:" + page
	default:
		return UnknownPage
	}
}

// RecordVisit writes one page view. It is not idempotent: each call counts.
// IsNewVisitor reports site-wide novelty, the same flag stored in the log.
// Errors leave earlier steps applied; callers on the page-render path should
// log and drop them.
func (s *Service) RecordVisit(ctx context.Context, v Visit) (Result, error) {
	if s.store == nil {
		s.metrics.RecordVisitSkipped(metrics.ResultNotConfigured)
		return Result{}, store.ErrNotConfigured
	}

	start := time.Now()
	res, err := s.recordVisit(ctx, v)
	if err != nil {
		s.metrics.RecordVisitSkipped(metrics.ResultError)
		return Result{}, err
	}
	s.metrics.RecordVisit(time.Since(start).Seconds(), res.IsNewVisitor, float64(s.now().Unix()))
	return res, nil
}

func (s *Service) recordVisit(ctx context.Context, v Visit) (Result, error) {
	now := s.now().UTC()
	pageID := PageID(v.Slug, v.Page)
	visitorID := visitor.ID(v.IP, v.UserAgent)
	day := dayKey(now)

	if _, err := s.store.HashIncr(ctx, keyViews, pageID, 1); err != nil {
		return Result{}, fmt.Errorf("count view: %w", err)
	}
	if _, err := s.store.HashIncr(ctx, dailyKey(day), pageID, 1); err != nil {
		return Result{}, fmt.Errorf("count daily view: %w", err)
	}
	if _, err := s.store.SetAdd(ctx, uniqueKey(pageID), visitorID); err != nil {
		return Result{}, fmt.Errorf("add page visitor: %w", err)
	}
	isNew, err := s.store.SetAdd(ctx, keyVisitors, visitorID)
	if err != nil {
		return Result{}, fmt.Errorf("add visitor: %w", err)
	}
	if _, err := s.store.SetAdd(ctx, dailyUniqueKey(day), visitorID); err != nil {
		return Result{}, fmt.Errorf("add daily visitor: %w", err)
	}

	source := referrer.Normalize(v.Referrer)
	if source != referrer.Direct {
		if _, err := s.store.HashIncr(ctx, keyReferrers, source, 1); err != nil {
			return Result{}, fmt.Errorf("count referrer: %w", err)
		}
	}
	client := useragent.Parse(v.UserAgent)
	if _, err := s.store.HashIncr(ctx, keyBrowsers, client.Label(), 1); err != nil {
		return Result{}, fmt.Errorf("count browser: %w", err)
	}
	if _, err := s.store.HashIncr(ctx, keyOS, client.OS, 1); err != nil {
		return Result{}, fmt.Errorf("count os: %w", err)
	}
	if _, err := s.store.HashIncr(ctx, keyDevices, client.Device, 1); err != nil {
		return Result{}, fmt.Errorf("count device: %w", err)
	}
	if s.geo != nil {
		if country := s.geo.Country(v.IP); country != "" {
			if _, err := s.store.HashIncr(ctx, keyCountries, country, 1); err != nil {
				return Result{}, fmt.Errorf("count country: %w", err)
			}
		}
	}

	entry, err := json.Marshal(VisitRecord{
		Timestamp:    now.Format(timestampLayout),
		PageID:       pageID,
		VisitorID:    visitorID,
		Referer:      source,
		IsNewVisitor: isNew,
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode visit: %w", err)
	}
	if err := s.store.PushBounded(ctx, keyVisitLog, entry, s.visitLogMax); err != nil {
		return Result{}, fmt.Errorf("log visit: %w", err)
	}

	return Result{Accepted: true, IsNewVisitor: isNew}, nil
}
