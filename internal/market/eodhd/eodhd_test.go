package eodhd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"eom_fund/internal/models"

	"github.com/shopspring/decimal"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("api_token") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case strings.HasSuffix(r.URL.Path, "/eod/DNO.OL"):
			w.Write([]byte(`[
				{"date":"2025-03-03","close":12.5,"adjusted_close":12.0},
				{"date":"2025-03-04","close":12.9,"adjusted_close":12.4}
			]`))
		case strings.HasSuffix(r.URL.Path, "/eod/VAR.OL"):
			w.Write([]byte(`[{"date":"2025-03-04","close":30.1}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHistory(t *testing.T) {
	srv := newServer(t)
	c := New("secret", true)
	c.BaseURL = srv.URL

	h, err := c.History(context.Background(), []string{"DNO.OL", "VAR.OL", "GONE.OL"}, models.NewDate(2025, time.January, 1))
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if _, ok := h["GONE.OL"]; ok {
		t.Error("unknown ticker should be absent")
	}
	latest := h.LatestPrices()
	if !latest["DNO.OL"].Equal(decimal.RequireFromString("12.4")) {
		t.Errorf("expected adjusted close, got %s", latest["DNO.OL"])
	}
	if !latest["VAR.OL"].Equal(decimal.RequireFromString("30.1")) {
		t.Errorf("missing adjusted_close should fall back to close, got %s", latest["VAR.OL"])
	}
}

func TestHistoryFailsOnServerError(t *testing.T) {
	srv := newServer(t)
	c := New("wrong", false)
	c.BaseURL = srv.URL

	if _, err := c.History(context.Background(), []string{"DNO.OL"}, models.NewDate(2025, time.January, 1)); err == nil {
		t.Fatal("expected error on 401")
	}
}
