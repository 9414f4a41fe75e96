package binance

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"mdcollector/internal/domain/model"
)

// FuturesMetric 拉取一项 U 本位合约指标
func (c *Client) FuturesMetric(ctx context.Context, kind model.MetricKind, symbol string) (model.FuturesMetric, error) {
	switch kind {
	case model.MetricOpenInterest:
		return c.openInterest(ctx, symbol)
	case model.MetricFundingRate:
		return c.fundingRate(ctx, symbol)
	case model.MetricLongShortRatio:
		return c.longShortRatio(ctx, symbol)
	case model.MetricTopTraderPosition:
		return c.topTraderPosition(ctx, symbol)
	default:
		return nil, fmt.Errorf("unsupported futures metric %q", kind)
	}
}

func (c *Client) meta(symbol string, ts int64) model.MetricMeta {
	if ts <= 0 {
		ts = c.now().UnixMilli()
	}
	return model.MetricMeta{Symbol: strings.ToLower(symbol), Timestamp: ts}
}

func (c *Client) openInterest(ctx context.Context, symbol string) (model.FuturesMetric, error) {
	var resp struct {
		OpenInterest flexFloat `json:"openInterest"`
	}
	if err := c.getJSON(ctx, c.futuresURL, "/fapi/v1/openInterest", symbolParams(symbol), &resp); err != nil {
		return nil, err
	}

	// 名义价值 = 持仓量 * 最新价，取价失败时记 0
	price, err := c.markPrice(ctx, symbol)
	if err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("futures price unavailable, open interest value set to 0")
	}

	oi := resp.OpenInterest.Float()
	return &model.OpenInterest{
		MetricMeta:        c.meta(symbol, 0),
		OpenInterest:      oi,
		OpenInterestValue: oi * price,
	}, nil
}

func (c *Client) markPrice(ctx context.Context, symbol string) (float64, error) {
	var resp struct {
		Price flexFloat `json:"price"`
	}
	if err := c.getJSON(ctx, c.futuresURL, "/fapi/v1/ticker/price", symbolParams(symbol), &resp); err != nil {
		return 0, err
	}
	return resp.Price.Float(), nil
}

func (c *Client) fundingRate(ctx context.Context, symbol string) (model.FuturesMetric, error) {
	var resp struct {
		LastFundingRate flexFloat `json:"lastFundingRate"`
		NextFundingTime int64     `json:"nextFundingTime"`
	}
	if err := c.getJSON(ctx, c.futuresURL, "/fapi/v1/premiumIndex", symbolParams(symbol), &resp); err != nil {
		return nil, err
	}
	return &model.FundingRate{
		MetricMeta:      c.meta(symbol, 0),
		FundingRate:     resp.LastFundingRate.Float(),
		NextFundingTime: resp.NextFundingTime,
	}, nil
}

type ratioRow struct {
	LongShortRatio flexFloat `json:"longShortRatio"`
	LongAccount    flexFloat `json:"longAccount"`
	ShortAccount   flexFloat `json:"shortAccount"`
	LongPosition   flexFloat `json:"longPosition"`
	ShortPosition  flexFloat `json:"shortPosition"`
	Timestamp      flexFloat `json:"timestamp"`
}

func (c *Client) latestRatio(ctx context.Context, path, symbol string) (*ratioRow, error) {
	params := symbolParams(symbol)
	params.Set("period", ratioPeriod)
	params.Set("limit", "1")

	var rows []ratioRow
	if err := c.getJSON(ctx, c.futuresURL, path, params, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s %s: %w", path, symbol, ErrEmptyResponse)
	}
	return &rows[len(rows)-1], nil
}

func (c *Client) longShortRatio(ctx context.Context, symbol string) (model.FuturesMetric, error) {
	row, err := c.latestRatio(ctx, "/futures/data/globalLongShortAccountRatio", symbol)
	if err != nil {
		return nil, err
	}
	return &model.LongShortRatio{
		MetricMeta:     c.meta(symbol, row.Timestamp.Int()),
		LongShortRatio: row.LongShortRatio.Float(),
		LongAccount:    row.LongAccount.Float(),
		ShortAccount:   row.ShortAccount.Float(),
	}, nil
}

func (c *Client) topTraderPosition(ctx context.Context, symbol string) (model.FuturesMetric, error) {
	row, err := c.latestRatio(ctx, "/futures/data/topLongShortPositionRatio", symbol)
	if err != nil {
		return nil, err
	}
	// the position endpoint reports position shares in longAccount/shortAccount
	longPos, shortPos := row.LongPosition.Float(), row.ShortPosition.Float()
	if longPos == 0 && shortPos == 0 {
		longPos, shortPos = row.LongAccount.Float(), row.ShortAccount.Float()
	}
	return &model.TopTraderPosition{
		MetricMeta:         c.meta(symbol, row.Timestamp.Int()),
		LongPositionRatio:  longPos,
		ShortPositionRatio: shortPos,
		LongAccountRatio:   row.LongAccount.Float(),
		ShortAccountRatio:  row.ShortAccount.Float(),
	}, nil
}
