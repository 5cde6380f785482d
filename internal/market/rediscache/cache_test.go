package rediscache

import (
	"context"
	"errors"
	"testing"
	"time"

	"eom_fund/internal/market"
	"eom_fund/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

type memStore struct {
	data    map[string]string
	failGet bool
}

func (m *memStore) Get(_ context.Context, key string) *redis.StringCmd {
	if m.failGet {
		return redis.NewStringResult("", errors.New("connection refused"))
	}
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memStore) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	m.data[key] = string(value.([]byte))
	return redis.NewStatusResult("OK", nil)
}

type countingSource struct {
	calls int
	err   error
}

func (s *countingSource) History(_ context.Context, tickers []string, _ models.Date) (market.History, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	h := market.History{}
	for _, t := range tickers {
		h.AddDecimal(t, models.NewDate(2025, time.March, 3), decimal.NewFromInt(10))
	}
	return h.Normalize(), nil
}

func newCache(st *memStore, src market.PriceSource) *Cache {
	c := New(st, src)
	c.Zone = time.UTC
	c.Now = func() time.Time { return time.Date(2025, 3, 4, 18, 0, 0, 0, time.UTC) }
	return c
}

func TestKeyIgnoresTickerOrder(t *testing.T) {
	day := models.NewDate(2025, time.March, 4)
	from := models.NewDate(2024, time.March, 4)
	a := Key(day, from, []string{"VAR.OL", "DNO.OL"})
	b := Key(day, from, []string{"DNO.OL", "VAR.OL"})
	if a != b {
		t.Errorf("keys differ: %q vs %q", a, b)
	}
	if want := "eom_fund:history:2025-03-04:2024-03-04:DNO.OL,VAR.OL"; a != want {
		t.Errorf("Key = %q, want %q", a, want)
	}
}

func TestHistoryServesSecondCallFromCache(t *testing.T) {
	st := &memStore{data: map[string]string{}}
	src := &countingSource{}
	c := newCache(st, src)

	for i := 0; i < 2; i++ {
		h, err := c.History(context.Background(), []string{"DNO.OL"}, models.Date{})
		if err != nil {
			t.Fatal(err)
		}
		if !h.LatestPrices()["DNO.OL"].Equal(decimal.NewFromInt(10)) {
			t.Fatalf("unexpected history on call %d: %v", i, h)
		}
	}
	if src.calls != 1 {
		t.Errorf("upstream called %d times, want 1", src.calls)
	}
}

func TestHistoryFallsBackWhenRedisDown(t *testing.T) {
	src := &countingSource{}
	c := newCache(&memStore{data: map[string]string{}, failGet: true}, src)
	if _, err := c.History(context.Background(), []string{"DNO.OL"}, models.Date{}); err != nil {
		t.Fatal(err)
	}
	if src.calls != 1 {
		t.Errorf("upstream called %d times, want 1", src.calls)
	}
}

func TestHistoryDoesNotCacheErrors(t *testing.T) {
	st := &memStore{data: map[string]string{}}
	c := newCache(st, &countingSource{err: errors.New("boom")})
	if _, err := c.History(context.Background(), []string{"DNO.OL"}, models.Date{}); err == nil {
		t.Fatal("expected upstream error")
	}
	if len(st.data) != 0 {
		t.Error("failed fetch should not be cached")
	}
}
