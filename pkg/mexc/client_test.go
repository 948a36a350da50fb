package mexc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cryptoscreener/internal/model"
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	return New(Config{BaseURL: srv.URL, Timeout: 2 * time.Second}), srv
}

func TestAllTickers(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/ticker/24hr" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`[
			{"symbol":"BTCUSDT","lastPrice":"50123.45","volume":"1234.5"},
			{"symbol":"ETHUSDT","lastPrice":"3000.1","volume":"999"},
			{"symbol":"","lastPrice":"1","volume":"1"},
			{"symbol":"BROKENUSDT","lastPrice":"not-a-number","volume":""}
		]`))
	})
	defer srv.Close()

	tickers, err := c.AllTickers(context.Background())
	if err != nil {
		t.Fatalf("AllTickers: %v", err)
	}
	if len(tickers) != 3 {
		t.Fatalf("expected 3 tickers (empty symbol skipped), got %d", len(tickers))
	}
	if tickers[0].Symbol != "BTCUSDT" || tickers[0].Price != 50123.45 || tickers[0].Volume != 1234.5 {
		t.Errorf("ticker[0] = %+v", tickers[0])
	}
	// malformed numerics degrade to zero instead of failing the batch
	if tickers[2].Symbol != "BROKENUSDT" || tickers[2].Price != 0 {
		t.Errorf("ticker[2] = %+v", tickers[2])
	}
}

func TestAllTickers_HTTPError(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":429}`, http.StatusTooManyRequests)
	})
	defer srv.Close()

	if _, err := c.AllTickers(context.Background()); err == nil {
		t.Fatal("expected error on HTTP 429")
	}
}

func TestKlines(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/klines" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("symbol") != "BTCUSDT" || q.Get("interval") != "60m" || q.Get("limit") != "2" {
			t.Errorf("unexpected query %v", q)
		}
		// string and numeric field encodings both appear in the wild
		w.Write([]byte(`[
			[1717200000000,"100.5","110","99.5","105",42.5,1717203600000],
			[1717203600000,"105","112","104","111","10",1717207200000]
		]`))
	})
	defer srv.Close()

	candles, err := c.Klines(context.Background(), "BTCUSDT", model.TF1h, 2)
	if err != nil {
		t.Fatalf("Klines: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	c0 := candles[0]
	if !c0.OpenTime.Equal(time.UnixMilli(1717200000000).UTC()) {
		t.Errorf("openTime = %v", c0.OpenTime)
	}
	if c0.Open != 100.5 || c0.High != 110 || c0.Low != 99.5 || c0.Close != 105 || c0.Volume != 42.5 {
		t.Errorf("candle[0] = %+v", c0)
	}
	if !c0.Closed || c0.Symbol != "BTCUSDT" || c0.Timeframe != model.TF1h {
		t.Errorf("candle identity wrong: %+v", c0)
	}
}

func TestKlines_UnsupportedTimeframe(t *testing.T) {
	c := New(Config{})
	for _, tf := range []model.Timeframe{model.TF15s, model.TF30s} {
		_, err := c.Klines(context.Background(), "BTCUSDT", tf, 10)
		if !errors.Is(err, ErrUnsupportedTimeframe) {
			t.Errorf("%s: expected ErrUnsupportedTimeframe, got %v", tf, err)
		}
	}
}

func TestKlines_LimitClamped(t *testing.T) {
	var gotLimit string
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		gotLimit = r.URL.Query().Get("limit")
		w.Write([]byte(`[]`))
	})
	defer srv.Close()

	if _, err := c.Klines(context.Background(), "BTCUSDT", model.TF1m, 5000); err != nil {
		t.Fatalf("Klines: %v", err)
	}
	if gotLimit != "1000" {
		t.Errorf("expected limit clamped to 1000, got %s", gotLimit)
	}
}

func TestClient_ContextCancellation(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.AllTickers(ctx); err == nil {
		t.Fatal("expected context deadline error")
	}
}
