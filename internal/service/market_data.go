package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/GoPolymarket/venuegate/internal/exchange"
	"github.com/GoPolymarket/venuegate/internal/model"
	"github.com/GoPolymarket/venuegate/internal/pkg/apperrors"
	"github.com/GoPolymarket/venuegate/internal/pkg/logger"
	"github.com/GoPolymarket/venuegate/internal/pkg/retry"
	"github.com/GoPolymarket/venuegate/internal/repository"
)

// MarketService serves venue tickers and balances. Tickers are cached in the
// counter store for a short time.
type MarketService struct {
	venues    *exchange.Registry
	cache     repository.CounterStore
	policy    retry.Policy
	tickerTTL time.Duration
	log       *slog.Logger
}

func NewMarketService(venues *exchange.Registry, cache repository.CounterStore, policy retry.Policy, tickerTTL time.Duration) *MarketService {
	return &MarketService{
		venues:    venues,
		cache:     cache,
		policy:    policy,
		tickerTTL: tickerTTL,
		log:       logger.Component("market"),
	}
}

func (s *MarketService) connector(venue string) (exchange.Connector, error) {
	conn, ok := s.venues.Get(venue)
	if !ok {
		return nil, apperrors.NewValidation(apperrors.ReasonUnknownVenue, "unknown venue").WithDetail("venue", venue)
	}
	return conn, nil
}

func tickerKey(venue, symbol string) string {
	return "ticker:" + venue + ":" + strings.ToUpper(symbol)
}

func (s *MarketService) Ticker(ctx context.Context, venue, symbol string) (*model.Ticker, error) {
	conn, err := s.connector(venue)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(symbol) == "" {
		return nil, apperrors.NewValidation(apperrors.ReasonInvalidInput, "symbol is required")
	}

	key := tickerKey(venue, symbol)
	if s.cache != nil && s.tickerTTL > 0 {
		raw, err := s.cache.Get(ctx, key)
		if err == nil {
			var t model.Ticker
			if json.Unmarshal([]byte(raw), &t) == nil {
				return &t, nil
			}
		} else if !errors.Is(err, repository.ErrCacheMiss) {
			s.log.Warn("ticker cache read failed", "error", err)
		}
	}

	t, err := callVenue(ctx, s.policy, s.log, venue, "fetch_ticker", func(ctx context.Context) (*model.Ticker, error) {
		return conn.FetchTicker(ctx, symbol)
	})
	if err != nil {
		return nil, venueReadErr("ticker", err)
	}

	if s.cache != nil && s.tickerTTL > 0 {
		raw, _ := json.Marshal(t)
		if err := s.cache.Set(ctx, key, string(raw), s.tickerTTL); err != nil {
			s.log.Warn("ticker cache write failed", "error", err)
		}
	}
	return t, nil
}

func (s *MarketService) Balances(ctx context.Context, venue string) ([]model.Balance, error) {
	conn, err := s.connector(venue)
	if err != nil {
		return nil, err
	}
	bals, err := callVenue(ctx, s.policy, s.log, venue, "fetch_balance", conn.FetchBalance)
	if err != nil {
		return nil, venueReadErr("balances", err)
	}
	return bals, nil
}

func venueReadErr(what string, err error) error {
	if retry.Classify(err) == retry.InvalidRequest {
		return apperrors.NewValidation(apperrors.ReasonInvalidInput, err.Error())
	}
	return apperrors.NewExchange("fetch "+what+" from venue", err)
}
