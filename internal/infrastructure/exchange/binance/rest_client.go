package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"mdcollector/internal/application/port"
	"mdcollector/internal/domain/model"
)

const (
	DefaultSpotURL    = "https://api.binance.com"
	DefaultFuturesURL = "https://fapi.binance.com"

	defaultTimeout   = 10 * time.Second
	defaultRateLimit = 10 // requests per second, well under the 1200 weight/min budget
	defaultBurst     = 5

	// 多空比统计周期
	ratioPeriod = "5m"
)

// Options configures the REST client. Zero values take the defaults.
type Options struct {
	SpotURL    string
	FuturesURL string
	Timeout    time.Duration
	RateLimit  float64
	Burst      int
	HTTPClient *http.Client
}

// Client Binance 公共行情 REST 客户端（现货 + U 本位合约）
type Client struct {
	spotURL    string
	futuresURL string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time
}

func NewClient(opts Options) *Client {
	if opts.SpotURL == "" {
		opts.SpotURL = DefaultSpotURL
	}
	if opts.FuturesURL == "" {
		opts.FuturesURL = DefaultFuturesURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = defaultRateLimit
	}
	if opts.Burst <= 0 {
		opts.Burst = defaultBurst
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		spotURL:    opts.SpotURL,
		futuresURL: opts.FuturesURL,
		timeout:    opts.Timeout,
		httpClient: opts.HTTPClient,
		limiter:    rate.NewLimiter(rate.Limit(opts.RateLimit), opts.Burst),
		now:        time.Now,
	}
}

var (
	_ port.KlineSource   = (*Client)(nil)
	_ port.TickerSource  = (*Client)(nil)
	_ port.FuturesSource = (*Client)(nil)
)

func symbolParams(symbol string) url.Values {
	return url.Values{"symbol": {strings.ToUpper(symbol)}}
}

// Klines 获取最近 limit 根 K 线，按开盘时间升序
func (c *Client) Klines(ctx context.Context, symbol string, interval model.Interval, limit int) ([]model.Candle, error) {
	if !interval.Valid() {
		return nil, fmt.Errorf("klines: unsupported interval %q", interval)
	}
	if limit <= 0 {
		limit = interval.DefaultBackfillLimit()
	}
	params := symbolParams(symbol)
	params.Set("interval", string(interval))
	params.Set("limit", strconv.Itoa(limit))

	var rows [][]flexFloat
	if err := c.getJSON(ctx, c.spotURL, "/api/v3/klines", params, &rows); err != nil {
		return nil, err
	}

	symbol = strings.ToLower(symbol)
	out := make([]model.Candle, 0, len(rows))
	for i, r := range rows {
		if len(r) < 11 {
			return nil, fmt.Errorf("klines row %d: %w: %d fields", i, ErrMalformedMessage, len(r))
		}
		out = append(out, model.Candle{
			Symbol:              symbol,
			Interval:            interval,
			OpenTime:            r[0].Int(),
			Open:                r[1].Float(),
			High:                r[2].Float(),
			Low:                 r[3].Float(),
			Close:               r[4].Float(),
			Volume:              r[5].Float(),
			CloseTime:           r[6].Int(),
			QuoteVolume:         r[7].Float(),
			TradeCount:          r[8].Int(),
			TakerBuyVolume:      r[9].Float(),
			TakerBuyQuoteVolume: r[10].Float(),
		})
	}
	return out, nil
}

type ticker24hResp struct {
	PriceChange        flexFloat `json:"priceChange"`
	PriceChangePercent flexFloat `json:"priceChangePercent"`
	WeightedAvgPrice   flexFloat `json:"weightedAvgPrice"`
	LastPrice          flexFloat `json:"lastPrice"`
	Volume             flexFloat `json:"volume"`
	QuoteVolume        flexFloat `json:"quoteVolume"`
}

// Ticker24h 24 小时统计，时间戳为采集时刻
func (c *Client) Ticker24h(ctx context.Context, symbol string) (*model.Ticker24h, error) {
	var resp ticker24hResp
	if err := c.getJSON(ctx, c.spotURL, "/api/v3/ticker/24hr", symbolParams(symbol), &resp); err != nil {
		return nil, err
	}
	return &model.Ticker24h{
		Symbol:             strings.ToLower(symbol),
		Timestamp:          c.now().UnixMilli(),
		PriceChange:        resp.PriceChange.Float(),
		PriceChangePercent: resp.PriceChangePercent.Float(),
		WeightedAvgPrice:   resp.WeightedAvgPrice.Float(),
		LastPrice:          resp.LastPrice.Float(),
		Volume:             resp.Volume.Float(),
		QuoteVolume:        resp.QuoteVolume.Float(),
	}, nil
}

// ErrEmptyResponse 统计接口返回空数组
var ErrEmptyResponse = errors.New("binance empty response")
