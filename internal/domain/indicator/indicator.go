// Package indicator computes technical indicators over a chronological candle
// window. Everything here is pure: the same window always yields the same Set.
package indicator

import (
	"math"

	"mdcollector/internal/domain/model"
)

// MinCandles 至少需要 MACD 慢线周期的 K 线数量
const MinCandles = 26

const (
	emaFastPeriod = 12
	emaSlowPeriod = 26
	signalPeriod  = 9
	rsiPeriod     = 14
	atrPeriod     = 14
	bollPeriod    = 20
	bollK         = 2.0
)

// Trend MACD 趋势判断
type Trend string

const (
	TrendBullish Trend = "bullish"
	TrendBearish Trend = "bearish"
	TrendNeutral Trend = "neutral"
)

// BandPosition 最新收盘价相对布林带的位置
type BandPosition string

const (
	AboveUpper  BandPosition = "above_upper"
	BelowLower  BandPosition = "below_lower"
	AboveMiddle BandPosition = "above_middle"
	BelowMiddle BandPosition = "below_middle"
	BandNeutral BandPosition = "neutral" // 样本不足
)

// MACDResult MACD 指标
type MACDResult struct {
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
	Trend     Trend   `json:"trend"`
}

// BollingerResult 布林带
type BollingerResult struct {
	Upper        float64      `json:"upper"`
	Middle       float64      `json:"middle"`
	Lower        float64      `json:"lower"`
	Width        float64      `json:"width"` // (upper-lower)/middle*100
	Position     BandPosition `json:"position"`
	CurrentPrice float64      `json:"current_price"`
}

// Set is the value handed to the analysis collaborator.
type Set struct {
	EMA12     float64         `json:"ema_12"`
	EMA26     float64         `json:"ema_26"`
	MACD      MACDResult      `json:"macd"`
	RSI       float64         `json:"rsi"`
	ATR       float64         `json:"atr"`
	Bollinger BollingerResult `json:"bollinger"`
	Available bool            `json:"available"`
}

// Unavailable is returned for windows shorter than MinCandles.
func Unavailable() Set {
	return Set{
		MACD:      MACDResult{Trend: TrendNeutral},
		RSI:       50,
		Bollinger: BollingerResult{Position: BandNeutral},
		Available: false,
	}
}

// Compute runs every indicator over candles, which must be in chronological
// order. Each indicator guards its own minimum sample count.
func Compute(candles []model.Candle) Set {
	if len(candles) < MinCandles {
		return Unavailable()
	}

	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}

	return Set{
		EMA12:     last(EMA(closes, emaFastPeriod)),
		EMA26:     last(EMA(closes, emaSlowPeriod)),
		MACD:      MACD(closes, emaFastPeriod, emaSlowPeriod, signalPeriod),
		RSI:       RSI(closes, rsiPeriod),
		ATR:       ATR(highs, lows, closes, atrPeriod),
		Bollinger: Bollinger(closes, bollPeriod, bollK),
		Available: true,
	}
}

// Rounded applies display precision: EMA and Bollinger to 2dp, MACD and ATR
// to 4dp, RSI to 2dp.
func (s Set) Rounded() Set {
	s.EMA12 = round(s.EMA12, 2)
	s.EMA26 = round(s.EMA26, 2)
	s.MACD.MACD = round(s.MACD.MACD, 4)
	s.MACD.Signal = round(s.MACD.Signal, 4)
	s.MACD.Histogram = round(s.MACD.Histogram, 4)
	s.RSI = round(s.RSI, 2)
	s.ATR = round(s.ATR, 4)
	s.Bollinger.Upper = round(s.Bollinger.Upper, 2)
	s.Bollinger.Middle = round(s.Bollinger.Middle, 2)
	s.Bollinger.Lower = round(s.Bollinger.Lower, 2)
	s.Bollinger.Width = round(s.Bollinger.Width, 2)
	s.Bollinger.CurrentPrice = round(s.Bollinger.CurrentPrice, 2)
	return s
}

func last(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return xs[len(xs)-1]
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
