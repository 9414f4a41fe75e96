package ingest

import "mdcollector/internal/domain/model"

// State 推送会话的重连状态
type State int32

const (
	StateConnecting State = iota
	StateStreaming
	StateClosing
	StateBackoff
	StateStopped
)

var stateNames = [...]string{
	StateConnecting: "CONNECTING",
	StateStreaming:  "STREAMING",
	StateClosing:    "CLOSING",
	StateBackoff:    "BACKOFF",
	StateStopped:    "STOPPED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// Observer receives session events. Metrics implement it; every method must
// be safe for concurrent use.
type Observer interface {
	StateChanged(stream string, from, to State)
	MessageStored(stream string)
	MessageDropped(stream string, reason string)
	StoreFailed(stream string)
	PollCompleted(job string, err error)
	BackfillCompleted(symbol string, interval model.Interval, stored int, err error)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) StateChanged(string, State, State)                    {}
func (NopObserver) MessageStored(string)                                 {}
func (NopObserver) MessageDropped(string, string)                        {}
func (NopObserver) StoreFailed(string)                                   {}
func (NopObserver) PollCompleted(string, error)                          {}
func (NopObserver) BackfillCompleted(string, model.Interval, int, error) {}
