package collector

import "encoding/json"

// Frame kind labels, used for logging and metrics.
const (
	KindAudio     = "audio"
	KindText      = "text"
	KindHeartbeat = "heartbeat"
	KindUnknown   = "unknown"
	KindClosed    = "closed"
)

// Frame is one decoded inbound unit from the duplex channel. Frames are
// processed strictly in arrival order; the collector never reorders them,
// only reacts to their kind.
//
// The set of implementations is closed: AudioFrame, TextFrame,
// HeartbeatFrame, UnknownFrame, and ClosedFrame.
type Frame interface {
	// Kind returns the frame kind label.
	Kind() string
}

// AudioFrame carries one piece of synthesized audio.
type AudioFrame struct {
	// Data is raw audio bytes, already decoded from the wire encoding.
	Data []byte
}

// Kind implements Frame.
func (AudioFrame) Kind() string { return KindAudio }

// TextFrame carries one piece of the textual reply. A reply may span many
// TextFrames; concatenation order matters.
type TextFrame struct {
	Text string
}

// Kind implements Frame.
func (TextFrame) Kind() string { return KindText }

// HeartbeatFrame is a content-free keep-alive. It exists purely to stop
// intermediate network elements from closing an idle connection and must
// never be treated as content.
type HeartbeatFrame struct {
	Sequence int64
}

// Kind implements Frame.
func (HeartbeatFrame) Kind() string { return KindHeartbeat }

// UnknownFrame is any undecodable or unrecognized payload. The wire format
// belongs to the remote endpoint and evolves; an event kind we do not yet
// understand must not crash the collector.
type UnknownFrame struct {
	Raw json.RawMessage
}

// Kind implements Frame.
func (UnknownFrame) Kind() string { return KindUnknown }

// ClosedFrame indicates the remote endpoint terminated the connection.
type ClosedFrame struct{}

// Kind implements Frame.
func (ClosedFrame) Kind() string { return KindClosed }
