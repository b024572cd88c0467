// Package redis implements store.Store on a Redis server (or a hosted
// Redis-compatible service such as Upstash).
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/geddydukes/portfolio/internal/store"
)

var _ store.Store = (*Store)(nil)

// Options configures the client.
type Options struct {
	// URL is a redis:// or rediss:// URL. An http(s) endpoint, as handed out
	// for REST access by hosted providers, is mapped to the matching
	// redis(s) URL on port 6379 and needs Token to count as configured.
	URL string
	// Token, when set, is used as the password.
	Token        string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
}

type Store struct {
	client *goredis.Client
}

// New creates a client. It does not contact the server; call Ping to verify
// connectivity. Every command is bounded by its context deadline as well as
// the read and write timeouts.
func New(opts Options) (*Store, error) {
	if !Configured(opts.URL, opts.Token) {
		return nil, store.ErrNotConfigured
	}
	endpoint, err := normalizeURL(opts.URL)
	if err != nil {
		return nil, err
	}
	ropts, err := goredis.ParseURL(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.Token != "" {
		ropts.Password = opts.Token
	}
	if opts.DialTimeout > 0 {
		ropts.DialTimeout = opts.DialTimeout
	}
	if opts.ReadTimeout > 0 {
		ropts.ReadTimeout = opts.ReadTimeout
	}
	if opts.WriteTimeout > 0 {
		ropts.WriteTimeout = opts.WriteTimeout
	}
	if opts.PoolSize > 0 {
		ropts.PoolSize = opts.PoolSize
	}
	ropts.ContextTimeoutEnabled = true
	return &Store{client: goredis.NewClient(ropts)}, nil
}

// Configured reports whether url and token are enough to reach a server. A
// redis:// or rediss:// URL carries its own credentials; a REST-style http(s)
// endpoint is only usable together with its access token.
func Configured(rawURL, token string) bool {
	if rawURL == "" {
		return false
	}
	scheme, _, _ := strings.Cut(rawURL, "://")
	switch strings.ToLower(scheme) {
	case "http", "https":
		return token != ""
	default:
		return true
	}
}

func normalizeURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse redis url: %w", err)
	}
	switch u.Scheme {
	case "redis", "rediss", "unix":
		return raw, nil
	case "https":
		u.Scheme = "rediss"
	case "http":
		u.Scheme = "redis"
	default:
		return "", fmt.Errorf("unsupported redis url scheme %q", u.Scheme)
	}
	if u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), "6379")
	}
	u.Path = ""
	u.RawQuery = ""
	return u.String(), nil
}

func (s *Store) HashIncr(ctx context.Context, key, field string, delta int64) (int64, error) {
	n, err := s.client.HIncrBy(ctx, key, field, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("hincrby %s: %w", key, err)
	}
	return n, nil
}

func (s *Store) HashGetAll(ctx context.Context, key string) (map[string]int64, error) {
	raw, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", key, err)
	}
	out := make(map[string]int64, len(raw))
	for field, val := range raw {
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			slog.Debug("skipping non-numeric hash field", "key", key, "field", field)
			continue
		}
		out[field] = n
	}
	return out, nil
}

func (s *Store) SetAdd(ctx context.Context, key, member string) (bool, error) {
	n, err := s.client.SAdd(ctx, key, member).Result()
	if err != nil {
		return false, fmt.Errorf("sadd %s: %w", key, err)
	}
	return n == 1, nil
}

func (s *Store) SetCard(ctx context.Context, key string) (int64, error) {
	n, err := s.client.SCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("scard %s: %w", key, err)
	}
	return n, nil
}

// PushBounded runs LPUSH and LTRIM in one MULTI block so readers never see
// the list over its bound.
func (s *Store) PushBounded(ctx context.Context, key string, item []byte, maxLen int64) error {
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.LPush(ctx, key, item)
		if maxLen > 0 {
			pipe.LTrim(ctx, key, 0, maxLen-1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("lpush %s: %w", key, err)
	}
	return nil
}

func (s *Store) ListRange(ctx context.Context, key string, n int64) ([][]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	vals, err := s.client.LRange(ctx, key, 0, n-1).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}
