package binance

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdcollector/internal/domain/model"
)

func TestTradeDecoder(t *testing.T) {
	raw := `{"e":"aggTrade","E":1700000000100,"s":"ETHUSDT","a":26129,"p":"2012.34","q":"0.500","f":100,"l":105,"T":1700000000099,"m":true,"M":true}`

	rec, err := TradeDecoder("ethusdt").Decode([]byte(raw))
	require.NoError(t, err)

	tr, ok := rec.(*model.Trade)
	require.True(t, ok, "expected *model.Trade, got %T", rec)
	assert.Equal(t, model.Trade{
		Symbol: "ethusdt", Timestamp: 1700000000099, Price: 2012.34, Quantity: 0.5,
		IsBuyerMaker: true, TradeID: 26129,
	}, *tr)
}

func TestTradeDecoderRejects(t *testing.T) {
	cases := map[string]string{
		"not json":       `{"e":"aggTrade",`,
		"bad price":      `{"s":"ETHUSDT","a":1,"p":"abc","q":"1","T":1}`,
		"missing time":   `{"s":"ETHUSDT","a":1,"p":"1","q":"1"}`,
		"zero quantity":  `{"s":"ETHUSDT","a":1,"p":"1","q":"0","T":1}`,
		"negative price": `{"s":"ETHUSDT","a":1,"p":"-1","q":"1","T":1}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := TradeDecoder("ethusdt").Decode([]byte(raw))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedMessage) || errors.Is(err, model.ErrInvalidRecord), "unexpected error %v", err)
		})
	}
}

func TestDepthDecoder(t *testing.T) {
	now := time.UnixMilli(1700000000500)
	raw := `{"lastUpdateId":160,"bids":[["2000.10","1.5"],["1999.90","0.25"]],"asks":[["2000.20","3.0"],["2000.50","0.1"]]}`

	rec, err := DepthDecoder("ethusdt", func() time.Time { return now }).Decode([]byte(raw))
	require.NoError(t, err)

	ob := rec.(*model.OrderBookSnapshot)
	assert.Equal(t, "ethusdt", ob.Symbol)
	assert.Equal(t, int64(1700000000500), ob.Timestamp)
	assert.Equal(t, []model.PriceLevel{{Price: 2000.10, Size: 1.5}, {Price: 1999.90, Size: 0.25}}, ob.Bids)
	assert.Equal(t, 2000.20, ob.Asks[0].Price)
}

func TestDepthDecoderTruncatesTo20(t *testing.T) {
	var bids, asks []string
	for i := 0; i < 30; i++ {
		bids = append(bids, fmt.Sprintf(`["%d","1"]`, 1000-i))
		asks = append(asks, fmt.Sprintf(`["%d","1"]`, 1001+i))
	}
	raw := `{"lastUpdateId":1,"bids":[` + strings.Join(bids, ",") + `],"asks":[` + strings.Join(asks, ",") + `]}`

	rec, err := DepthDecoder("ethusdt", nil).Decode([]byte(raw))
	require.NoError(t, err)

	ob := rec.(*model.OrderBookSnapshot)
	assert.Len(t, ob.Bids, model.MaxBookDepth)
	assert.Len(t, ob.Asks, model.MaxBookDepth)
	assert.Equal(t, 1000.0, ob.Bids[0].Price)
}

func TestDepthDecoderEmptySide(t *testing.T) {
	_, err := DepthDecoder("ethusdt", nil).Decode([]byte(`{"bids":[],"asks":[["1","1"]]}`))
	assert.ErrorIs(t, err, model.ErrInvalidRecord)
}

func TestKlineDecoder(t *testing.T) {
	raw := `{"e":"kline","E":1700000060001,"s":"ETHUSDT","k":{"t":1700000000000,"T":1700000059999,"s":"ETHUSDT","i":"1m",
		"f":100,"L":200,"o":"2000.00","c":"2001.50","h":"2002.00","l":"1999.00","v":"12.5","n":101,"x":true,
		"q":"25012.5","V":"6.0","Q":"12006.0","B":"0"}}`

	rec, err := KlineDecoder("ethusdt").Decode([]byte(raw))
	require.NoError(t, err)

	u := rec.(*model.CandleUpdate)
	assert.True(t, u.Closed)
	assert.Equal(t, model.Candle{
		Symbol: "ethusdt", Interval: model.Interval1m,
		OpenTime: 1700000000000, CloseTime: 1700000059999,
		Open: 2000, High: 2002, Low: 1999, Close: 2001.5,
		Volume: 12.5, QuoteVolume: 25012.5, TradeCount: 101,
		TakerBuyVolume: 6, TakerBuyQuoteVolume: 12006,
	}, u.Candle)
}

func TestKlineDecoderRejects(t *testing.T) {
	_, err := KlineDecoder("ethusdt").Decode([]byte(`{"e":"kline","s":"ETHUSDT"}`))
	assert.ErrorIs(t, err, ErrMalformedMessage)

	// high below close
	raw := `{"s":"ETHUSDT","k":{"t":1,"T":2,"i":"1m","o":"1","c":"3","h":"2","l":"1","v":"1","n":1,"x":false,"q":"1","V":"0","Q":"0"}}`
	_, err = KlineDecoder("ethusdt").Decode([]byte(raw))
	assert.ErrorIs(t, err, model.ErrInvalidRecord)
}

func TestCatalogStreams(t *testing.T) {
	specs := NewCatalog().Streams("ETHUSDT", []model.Interval{model.Interval1m, model.Interval1h})

	var names []string
	for _, s := range specs {
		names = append(names, s.Name)
		assert.NotNil(t, s.Decoder)
	}
	assert.Equal(t, []string{
		"ethusdt@aggTrade", "ethusdt@depth20@1000ms", "ethusdt@kline_1m", "ethusdt@kline_1h",
	}, names)
}

func TestFlexFloat(t *testing.T) {
	var row []flexFloat
	require.NoError(t, json.Unmarshal([]byte(`[1700000000000, "1.5", 2, "", null]`), &row))
	assert.Equal(t, int64(1700000000000), row[0].Int())
	assert.Equal(t, 1.5, row[1].Float())
	assert.Equal(t, 2.0, row[2].Float())
	assert.Zero(t, row[3].Float())
	assert.Zero(t, row[4].Float())

	var bad flexFloat
	assert.Error(t, json.Unmarshal([]byte(`"x1"`), &bad))
}
