package domain

// StreamEventKind tells a data event apart from channel control events.
type StreamEventKind int

const (
	// StreamData carries one decoded frame in Value.
	StreamData StreamEventKind = iota
	// StreamReconnected is emitted after the channel resubscribed following a
	// disconnect. Frames may have been missed during the gap.
	StreamReconnected
	// StreamClosed is the last event of a channel that gave up; Err says why.
	StreamClosed
)

func (k StreamEventKind) String() string {
	switch k {
	case StreamData:
		return "data"
	case StreamReconnected:
		return "reconnected"
	case StreamClosed:
		return "closed"
	}
	return "unknown"
}

// StreamEvent is one item of a streaming channel's event sequence.
type StreamEvent[T any] struct {
	Kind  StreamEventKind
	Value T
	Err   error
}
