package collector

import (
	"encoding/base64"
	"encoding/json"
)

// Wire envelope for messages from the voice endpoint. This is the single
// point of contact with the remote wire format; nothing outside Classify
// inspects raw payloads.
type serverMessage struct {
	Heartbeat     *heartbeatEvent `json:"heartbeat,omitempty"`
	ServerContent *serverContent  `json:"serverContent,omitempty"`
}

type heartbeatEvent struct {
	Sequence int64 `json:"sequence"`
}

type serverContent struct {
	ModelTurn *modelTurn `json:"modelTurn,omitempty"`
}

type modelTurn struct {
	Parts []contentPart `json:"parts,omitempty"`
}

type contentPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"` // base64-encoded
}

// Classify decodes one raw inbound message into frames, in wire order.
// It is a pure function with no state and no I/O.
//
// A single message may carry several content parts (text and inline audio
// interleaved); each part becomes its own frame so arrival order is
// preserved. Malformed or unrecognized payloads classify as a single
// UnknownFrame rather than an error, so the collector stays forward-compatible
// with event kinds it does not yet understand.
//
// Classify always returns at least one frame, so every received message
// counts as channel activity.
func Classify(data []byte) []Frame {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return []Frame{UnknownFrame{Raw: rawCopy(data)}}
	}

	if msg.Heartbeat != nil {
		return []Frame{HeartbeatFrame{Sequence: msg.Heartbeat.Sequence}}
	}

	if msg.ServerContent == nil || msg.ServerContent.ModelTurn == nil {
		return []Frame{UnknownFrame{Raw: rawCopy(data)}}
	}

	frames := make([]Frame, 0, len(msg.ServerContent.ModelTurn.Parts))
	for _, part := range msg.ServerContent.ModelTurn.Parts {
		switch {
		case part.Text != "":
			frames = append(frames, TextFrame{Text: part.Text})
		case part.InlineData != nil:
			decoded, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				// Undecodable audio payload; keep the turn alive but
				// don't corrupt the audio buffer.
				frames = append(frames, UnknownFrame{Raw: rawCopy(data)})
				continue
			}
			frames = append(frames, AudioFrame{Data: decoded})
		}
	}

	if len(frames) == 0 {
		return []Frame{UnknownFrame{Raw: rawCopy(data)}}
	}
	return frames
}

// rawCopy copies the payload so UnknownFrame does not alias a buffer the
// transport may reuse.
func rawCopy(data []byte) json.RawMessage {
	if len(data) == 0 {
		return nil
	}
	raw := make(json.RawMessage, len(data))
	copy(raw, data)
	return raw
}
