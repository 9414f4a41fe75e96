package port

import (
	"context"

	"mdcollector/internal/domain/model"
)

// StreamConn is one open push subscription.
type StreamConn interface {
	// ReadMessage blocks until the next message, a transport error, or ctx is done.
	ReadMessage(ctx context.Context) ([]byte, error)
	Close() error
}

// StreamDialer opens push subscriptions by stream name, e.g. "ethusdt@aggTrade".
type StreamDialer interface {
	Dial(ctx context.Context, stream string) (StreamConn, error)
}

// StreamDecoder turns a raw push message into a validated record.
type StreamDecoder interface {
	Decode(raw []byte) (model.StreamRecord, error)
}

// DecoderFunc adapts a function to StreamDecoder.
type DecoderFunc func(raw []byte) (model.StreamRecord, error)

func (f DecoderFunc) Decode(raw []byte) (model.StreamRecord, error) { return f(raw) }

// StreamSpec names one push channel and how to decode it.
type StreamSpec struct {
	Name    string // e.g. "ethusdt@aggTrade"
	Channel string // trade, depth, kline_1m ...
	Decoder StreamDecoder
}

// StreamCatalog lists the push channels collected for one symbol.
type StreamCatalog interface {
	Streams(symbol string, intervals []model.Interval) []StreamSpec
}
