package binance

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"mdcollector/internal/application/port"
	"mdcollector/internal/domain/model"
)

// ErrMalformedMessage 推送消息无法解析
var ErrMalformedMessage = errors.New("malformed binance message")

// Stream names, see https://binance-docs.github.io/apidocs/spot/en/#websocket-market-streams
func TradeStream(symbol string) string { return symbol + "@aggTrade" }
func DepthStream(symbol string) string { return symbol + "@depth20@1000ms" }
func KlineStream(symbol string, iv model.Interval) string {
	return symbol + "@kline_" + string(iv)
}

// Catalog builds the spot push channels for a symbol.
type Catalog struct {
	// now stamps depth snapshots, which carry no event time
	now func() time.Time
}

func NewCatalog() *Catalog {
	return &Catalog{now: time.Now}
}

func (c *Catalog) Streams(symbol string, intervals []model.Interval) []port.StreamSpec {
	symbol = strings.ToLower(symbol)
	specs := []port.StreamSpec{
		{Name: TradeStream(symbol), Channel: "trade", Decoder: TradeDecoder(symbol)},
		{Name: DepthStream(symbol), Channel: "depth", Decoder: DepthDecoder(symbol, c.now)},
	}
	for _, iv := range intervals {
		specs = append(specs, port.StreamSpec{
			Name:    KlineStream(symbol, iv),
			Channel: "kline_" + string(iv),
			Decoder: KlineDecoder(symbol),
		})
	}
	return specs
}

var _ port.StreamCatalog = (*Catalog)(nil)

// ========== aggTrade ==========

type aggTradeMsg struct {
	Event        string    `json:"e"`
	Symbol       string    `json:"s"`
	AggID        int64     `json:"a"`
	Price        flexFloat `json:"p"`
	Quantity     flexFloat `json:"q"`
	TradeTime    int64     `json:"T"`
	IsBuyerMaker bool      `json:"m"`
}

// TradeDecoder decodes <symbol>@aggTrade payloads.
func TradeDecoder(symbol string) port.StreamDecoder {
	return port.DecoderFunc(func(raw []byte) (model.StreamRecord, error) {
		var msg aggTradeMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, malformed("aggTrade", err)
		}
		if msg.TradeTime == 0 {
			return nil, malformed("aggTrade", errors.New("missing trade time"))
		}
		t := &model.Trade{
			Symbol:       symbolOr(msg.Symbol, symbol),
			Timestamp:    msg.TradeTime,
			Price:        msg.Price.Float(),
			Quantity:     msg.Quantity.Float(),
			IsBuyerMaker: msg.IsBuyerMaker,
			TradeID:      msg.AggID,
		}
		if err := t.Validate(); err != nil {
			return nil, err
		}
		return t, nil
	})
}

// ========== depth20 ==========

type depthMsg struct {
	LastUpdateID int64          `json:"lastUpdateId"`
	Bids         [][2]flexFloat `json:"bids"`
	Asks         [][2]flexFloat `json:"asks"`
}

// DepthDecoder decodes partial book depth payloads. Snapshots are stamped with
// the local receive time.
func DepthDecoder(symbol string, now func() time.Time) port.StreamDecoder {
	if now == nil {
		now = time.Now
	}
	return port.DecoderFunc(func(raw []byte) (model.StreamRecord, error) {
		var msg depthMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, malformed("depth", err)
		}
		ob := &model.OrderBookSnapshot{
			Symbol:    symbol,
			Timestamp: now().UnixMilli(),
			Bids:      levels(msg.Bids),
			Asks:      levels(msg.Asks),
		}
		ob.Truncate()
		if err := ob.Validate(); err != nil {
			return nil, err
		}
		return ob, nil
	})
}

func levels(raw [][2]flexFloat) []model.PriceLevel {
	out := make([]model.PriceLevel, len(raw))
	for i, lv := range raw {
		out[i] = model.PriceLevel{Price: lv[0].Float(), Size: lv[1].Float()}
	}
	return out
}

// ========== kline ==========

type klineMsg struct {
	Event  string `json:"e"`
	Symbol string `json:"s"`
	K      *struct {
		OpenTime            int64     `json:"t"`
		CloseTime           int64     `json:"T"`
		Interval            string    `json:"i"`
		Open                flexFloat `json:"o"`
		High                flexFloat `json:"h"`
		Low                 flexFloat `json:"l"`
		Close               flexFloat `json:"c"`
		Volume              flexFloat `json:"v"`
		QuoteVolume         flexFloat `json:"q"`
		TradeCount          int64     `json:"n"`
		TakerBuyVolume      flexFloat `json:"V"`
		TakerBuyQuoteVolume flexFloat `json:"Q"`
		Closed              bool      `json:"x"`
	} `json:"k"`
}

// KlineDecoder decodes <symbol>@kline_<interval> payloads into CandleUpdate.
func KlineDecoder(symbol string) port.StreamDecoder {
	return port.DecoderFunc(func(raw []byte) (model.StreamRecord, error) {
		var msg klineMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, malformed("kline", err)
		}
		if msg.K == nil {
			return nil, malformed("kline", errors.New("missing k"))
		}
		k := msg.K
		u := &model.CandleUpdate{
			Candle: model.Candle{
				Symbol:              symbolOr(msg.Symbol, symbol),
				Interval:            model.Interval(k.Interval),
				OpenTime:            k.OpenTime,
				Open:                k.Open.Float(),
				High:                k.High.Float(),
				Low:                 k.Low.Float(),
				Close:               k.Close.Float(),
				Volume:              k.Volume.Float(),
				CloseTime:           k.CloseTime,
				QuoteVolume:         k.QuoteVolume.Float(),
				TradeCount:          k.TradeCount,
				TakerBuyVolume:      k.TakerBuyVolume.Float(),
				TakerBuyQuoteVolume: k.TakerBuyQuoteVolume.Float(),
			},
			Closed: k.Closed,
		}
		if err := u.Validate(); err != nil {
			return nil, err
		}
		return u, nil
	})
}

func symbolOr(wire, fallback string) string {
	if wire == "" {
		return fallback
	}
	return strings.ToLower(wire)
}

func malformed(stream string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrMalformedMessage, stream, err)
}
