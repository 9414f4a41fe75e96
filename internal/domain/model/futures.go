package model

// MetricKind 合约指标类型
type MetricKind string

const (
	MetricOpenInterest      MetricKind = "open_interest"
	MetricFundingRate       MetricKind = "funding_rate"
	MetricLongShortRatio    MetricKind = "long_short_ratio"
	MetricTopTraderPosition MetricKind = "top_trader_position"
)

// AllMetricKinds is the polling order used by the supervisor.
var AllMetricKinds = []MetricKind{
	MetricOpenInterest, MetricFundingRate, MetricLongShortRatio, MetricTopTraderPosition,
}

// FuturesMetric is one of the four append-only futures series.
type FuturesMetric interface {
	Kind() MetricKind
	Meta() MetricMeta
	Validate() error
}

// MetricMeta 所有合约指标共有的字段
type MetricMeta struct {
	Symbol    string `json:"symbol"`
	Timestamp int64  `json:"ts_ms"`
}

func (m MetricMeta) validate(kind MetricKind) error {
	if m.Symbol == "" || m.Timestamp <= 0 {
		return invalid("%s: symbol=%q ts=%d", kind, m.Symbol, m.Timestamp)
	}
	return nil
}

// OpenInterest 持仓量
type OpenInterest struct {
	MetricMeta
	OpenInterest      float64 `json:"open_interest"`
	OpenInterestValue float64 `json:"open_interest_value"` // OI * 最新价格，取不到价格时为 0
}

func (*OpenInterest) Kind() MetricKind    { return MetricOpenInterest }
func (o *OpenInterest) Meta() MetricMeta { return o.MetricMeta }

func (o *OpenInterest) Validate() error {
	if err := o.validate(MetricOpenInterest); err != nil {
		return err
	}
	if !nonNegative(o.OpenInterest) || !nonNegative(o.OpenInterestValue) {
		return invalid("open_interest %s: %v/%v", o.Symbol, o.OpenInterest, o.OpenInterestValue)
	}
	return nil
}

// FundingRate 资金费率
type FundingRate struct {
	MetricMeta
	FundingRate     float64 `json:"funding_rate"`
	NextFundingTime int64   `json:"next_funding_time"`
}

func (*FundingRate) Kind() MetricKind    { return MetricFundingRate }
func (f *FundingRate) Meta() MetricMeta { return f.MetricMeta }

func (f *FundingRate) Validate() error {
	if err := f.validate(MetricFundingRate); err != nil {
		return err
	}
	// funding rate is signed
	if !finite(f.FundingRate) || f.NextFundingTime < 0 {
		return invalid("funding_rate %s: %v next=%d", f.Symbol, f.FundingRate, f.NextFundingTime)
	}
	return nil
}

// LongShortRatio 全市场账户多空比
type LongShortRatio struct {
	MetricMeta
	LongShortRatio float64 `json:"long_short_ratio"`
	LongAccount    float64 `json:"long_account"`
	ShortAccount   float64 `json:"short_account"`
}

func (*LongShortRatio) Kind() MetricKind    { return MetricLongShortRatio }
func (l *LongShortRatio) Meta() MetricMeta { return l.MetricMeta }

func (l *LongShortRatio) Validate() error {
	if err := l.validate(MetricLongShortRatio); err != nil {
		return err
	}
	if !nonNegative(l.LongShortRatio) || !nonNegative(l.LongAccount) || !nonNegative(l.ShortAccount) {
		return invalid("long_short_ratio %s: negative or non-finite", l.Symbol)
	}
	return nil
}

// TopTraderPosition 大户持仓多空比
type TopTraderPosition struct {
	MetricMeta
	LongPositionRatio  float64 `json:"long_position_ratio"`
	ShortPositionRatio float64 `json:"short_position_ratio"`
	LongAccountRatio   float64 `json:"long_account_ratio"`
	ShortAccountRatio  float64 `json:"short_account_ratio"`
}

func (*TopTraderPosition) Kind() MetricKind    { return MetricTopTraderPosition }
func (t *TopTraderPosition) Meta() MetricMeta { return t.MetricMeta }

func (t *TopTraderPosition) Validate() error {
	if err := t.validate(MetricTopTraderPosition); err != nil {
		return err
	}
	for _, v := range []float64{t.LongPositionRatio, t.ShortPositionRatio, t.LongAccountRatio, t.ShortAccountRatio} {
		if !nonNegative(v) {
			return invalid("top_trader_position %s: %v", t.Symbol, v)
		}
	}
	return nil
}
