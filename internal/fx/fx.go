// Package fx keeps one PEN per USD rate per day.
package fx

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// Rate is the day's buy and sell quote.
type Rate struct {
	Day    time.Time       `json:"day"`
	Buy    decimal.Decimal `json:"buy"`
	Sell   decimal.Decimal `json:"sell"`
	Source string          `json:"source"`
}

// Repository stores daily rates.
type Repository interface {
	GetRate(ctx context.Context, day time.Time) (Rate, bool, error)
	// InsertRate stores r unless the day already has a rate.
	InsertRate(ctx context.Context, r Rate) error
}

// Provider quotes a day's rate.
type Provider interface {
	Fetch(ctx context.Context, day time.Time) (Rate, error)
}

// StubProvider returns fixed quotes.
type StubProvider struct{}

var (
	stubBuy  = decimal.RequireFromString("3.750")
	stubSell = decimal.RequireFromString("3.780")
)

// Fetch returns 3.750 buy and 3.780 sell for any day.
func (StubProvider) Fetch(_ context.Context, day time.Time) (Rate, error) {
	return Rate{Day: day, Buy: stubBuy, Sell: stubSell, Source: "STUB"}, nil
}

// Service resolves the rate of a day, fetching and storing it on first use.
type Service struct {
	repo     Repository
	provider Provider
	logger   *slog.Logger
	group    singleflight.Group
	now      func() time.Time
}

// NewService builds Service.
func NewService(repo Repository, provider Provider, logger *slog.Logger) *Service {
	if provider == nil {
		provider = StubProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, provider: provider, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// WithNow overrides the clock.
func (s *Service) WithNow(fn func() time.Time) *Service {
	if fn != nil {
		s.now = fn
	}
	return s
}

// Truncate reduces t to its calendar day in UTC.
func Truncate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ForDay returns the day's rate, creating it when missing. Concurrent
// callers asking for the same day share one lookup.
func (s *Service) ForDay(ctx context.Context, day time.Time) (Rate, error) {
	day = Truncate(day)
	key := day.Format("2006-01-02")
	v, err, _ := s.group.Do(key, func() (any, error) {
		r, ok, err := s.repo.GetRate(ctx, day)
		if err != nil {
			return Rate{}, err
		}
		if ok {
			return r, nil
		}
		r, err = s.provider.Fetch(ctx, day)
		if err != nil {
			return Rate{}, fmt.Errorf("fx: fetch %s: %w", key, err)
		}
		r.Day = day
		if err := s.repo.InsertRate(ctx, r); err != nil {
			return Rate{}, fmt.Errorf("fx: store %s: %w", key, err)
		}
		s.logger.Info("fx rate created", slog.String("day", key), slog.String("sell", r.Sell.String()), slog.String("source", r.Source))
		stored, ok, err := s.repo.GetRate(ctx, day)
		if err != nil || !ok {
			return r, err
		}
		return stored, nil
	})
	if err != nil {
		return Rate{}, err
	}
	return v.(Rate), nil
}

// Today returns the current day's rate.
func (s *Service) Today(ctx context.Context) (Rate, error) {
	return s.ForDay(ctx, s.now())
}

// SellRate returns the day's sell quote.
func (s *Service) SellRate(ctx context.Context, day time.Time) (decimal.Decimal, error) {
	r, err := s.ForDay(ctx, day)
	if err != nil {
		return decimal.Zero, err
	}
	return r.Sell, nil
}
