package binance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdcollector/internal/domain/model"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := NewClient(Options{SpotURL: srv.URL, FuturesURL: srv.URL, Timeout: 2 * time.Second, RateLimit: 1000, Burst: 100})
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return c
}

func TestClientKlines(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/klines", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ETHUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1h", r.URL.Query().Get("interval"))
		assert.Equal(t, "500", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`[
			[1699999200000,"2000.0","2010.0","1995.0","2005.0","100.5",1700002799999,"201000.0",1500,"50.0","100500.0","0"],
			[1700002800000,"2005.0","2020.0","2001.0","2018.0","80.0",1700006399999,"161000.0",1200,"40.0","80500.0","0"]
		]`))
	})
	c := newTestClient(t, mux)

	cs, err := c.Klines(context.Background(), "ethusdt", model.Interval1h, 0)
	require.NoError(t, err)
	require.Len(t, cs, 2)

	assert.Equal(t, model.Candle{
		Symbol: "ethusdt", Interval: model.Interval1h,
		OpenTime: 1699999200000, CloseTime: 1700002799999,
		Open: 2000, High: 2010, Low: 1995, Close: 2005,
		Volume: 100.5, QuoteVolume: 201000, TradeCount: 1500,
		TakerBuyVolume: 50, TakerBuyQuoteVolume: 100500,
	}, cs[0])
	assert.Less(t, cs[0].OpenTime, cs[1].OpenTime)
	for i := range cs {
		assert.NoError(t, cs[i].Validate())
	}
}

func TestClientKlinesShortRow(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/klines", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[[1,"1","1","1","1"]]`))
	})
	c := newTestClient(t, mux)

	_, err := c.Klines(context.Background(), "ethusdt", model.Interval1m, 10)
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestClientHTTPError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/ticker/24hr", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte(`{"code":-1003,"msg":"Too many requests"}`))
	})
	c := newTestClient(t, mux)

	_, err := c.Ticker24h(context.Background(), "ethusdt")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHTTPStatus)

	var herr *HTTPError
	require.True(t, errors.As(err, &herr))
	assert.Equal(t, http.StatusTeapot, herr.StatusCode)
	assert.Contains(t, herr.Body, "Too many requests")
}

func TestClientTicker24h(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/ticker/24hr", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ETHUSDT", r.URL.Query().Get("symbol"))
		_, _ = w.Write([]byte(`{"symbol":"ETHUSDT","priceChange":"-12.5","priceChangePercent":"-0.62",
			"weightedAvgPrice":"2003.1","lastPrice":"1990.0","volume":"350000.1","quoteVolume":"701000000.5"}`))
	})
	c := newTestClient(t, mux)

	tk, err := c.Ticker24h(context.Background(), "ethusdt")
	require.NoError(t, err)
	assert.Equal(t, model.Ticker24h{
		Symbol: "ethusdt", Timestamp: 1700000000000,
		PriceChange: -12.5, PriceChangePercent: -0.62, WeightedAvgPrice: 2003.1,
		LastPrice: 1990, Volume: 350000.1, QuoteVolume: 701000000.5,
	}, *tk)
	assert.NoError(t, tk.Validate())
}

func futuresMux(t *testing.T) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/openInterest", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"openInterest":"1000.5","symbol":"ETHUSDT","time":1700000000001}`))
	})
	mux.HandleFunc("/fapi/v1/ticker/price", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"symbol":"ETHUSDT","price":"2000"}`))
	})
	mux.HandleFunc("/fapi/v1/premiumIndex", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"symbol":"ETHUSDT","markPrice":"2000.1","lastFundingRate":"-0.00012","nextFundingTime":1700006400000}`))
	})
	mux.HandleFunc("/futures/data/globalLongShortAccountRatio", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5m", r.URL.Query().Get("period"))
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`[{"symbol":"ETHUSDT","longShortRatio":"1.8","longAccount":"0.6429","shortAccount":"0.3571","timestamp":"1699999800000"}]`))
	})
	mux.HandleFunc("/futures/data/topLongShortPositionRatio", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"symbol":"ETHUSDT","longShortRatio":"1.2","longAccount":"0.5455","shortAccount":"0.4545","timestamp":1699999800000}]`))
	})
	return mux
}

func TestClientFuturesMetrics(t *testing.T) {
	c := newTestClient(t, futuresMux(t))
	ctx := context.Background()

	m, err := c.FuturesMetric(ctx, model.MetricOpenInterest, "ethusdt")
	require.NoError(t, err)
	oi := m.(*model.OpenInterest)
	assert.Equal(t, 1000.5, oi.OpenInterest)
	assert.Equal(t, 2001000.0, oi.OpenInterestValue)
	assert.Equal(t, model.MetricMeta{Symbol: "ethusdt", Timestamp: 1700000000000}, oi.MetricMeta)

	m, err = c.FuturesMetric(ctx, model.MetricFundingRate, "ethusdt")
	require.NoError(t, err)
	fr := m.(*model.FundingRate)
	assert.Equal(t, -0.00012, fr.FundingRate)
	assert.Equal(t, int64(1700006400000), fr.NextFundingTime)
	assert.NoError(t, fr.Validate())

	m, err = c.FuturesMetric(ctx, model.MetricLongShortRatio, "ethusdt")
	require.NoError(t, err)
	lsr := m.(*model.LongShortRatio)
	assert.Equal(t, int64(1699999800000), lsr.Timestamp)
	assert.Equal(t, 1.8, lsr.LongShortRatio)
	assert.Equal(t, 0.6429, lsr.LongAccount)

	m, err = c.FuturesMetric(ctx, model.MetricTopTraderPosition, "ethusdt")
	require.NoError(t, err)
	ttp := m.(*model.TopTraderPosition)
	assert.Equal(t, 0.5455, ttp.LongPositionRatio)
	assert.Equal(t, 0.4545, ttp.ShortPositionRatio)
	assert.Equal(t, 0.5455, ttp.LongAccountRatio)

	_, err = c.FuturesMetric(ctx, "basis", "ethusdt")
	assert.Error(t, err)
}

func TestClientOpenInterestWithoutPrice(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/openInterest", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"openInterest":"10"}`))
	})
	mux.HandleFunc("/fapi/v1/ticker/price", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	})
	c := newTestClient(t, mux)

	m, err := c.FuturesMetric(context.Background(), model.MetricOpenInterest, "ethusdt")
	require.NoError(t, err)
	assert.Zero(t, m.(*model.OpenInterest).OpenInterestValue)
}

func TestClientEmptyRatio(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/futures/data/globalLongShortAccountRatio", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	c := newTestClient(t, mux)

	_, err := c.FuturesMetric(context.Background(), model.MetricLongShortRatio, "ethusdt")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestClientHonoursContext(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/ticker/24hr", func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	c := newTestClient(t, mux)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Ticker24h(ctx, "ethusdt")
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}
