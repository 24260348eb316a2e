package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// FrameKind classifies an inbound frame
type FrameKind int

const (
	// KindUnknown is any valid JSON that is neither a response nor an event
	KindUnknown FrameKind = iota
	// KindResponse carries a correlation id and an ok flag
	KindResponse
	// KindEvent carries an event tag
	KindEvent
)

func (k FrameKind) String() string {
	switch k {
	case KindResponse:
		return "response"
	case KindEvent:
		return "event"
	default:
		return "unknown"
	}
}

// ErrMalformedFrame is returned for payloads that are not a JSON object
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is a decoded inbound frame. Exactly one of Response or Event is set
// unless Kind is KindUnknown.
type Frame struct {
	Kind     FrameKind
	Response *ResponseFrame
	Event    *EventFrame
}

// ParseFrame classifies and decodes a raw inbound frame.
//
// A response has a string "id" and a boolean "ok". An event has
// "type":"event" and a string "event" tag; "seq" defaults to zero.
func ParseFrame(data []byte) (*Frame, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrMalformedFrame
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, ErrMalformedFrame
	}

	typ := root.Get("type").String()
	if typ == FrameTypeEvent {
		if ev := root.Get("event"); ev.Type == gjson.String && ev.String() != "" {
			var frame EventFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
			}
			return &Frame{Kind: KindEvent, Event: &frame}, nil
		}
		return &Frame{Kind: KindUnknown}, nil
	}

	id := root.Get("id")
	ok := root.Get("ok")
	if id.Type == gjson.String && id.String() != "" && (ok.Type == gjson.True || ok.Type == gjson.False) {
		var frame ResponseFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return &Frame{Kind: KindResponse, Response: &frame}, nil
	}

	return &Frame{Kind: KindUnknown}, nil
}

// ErrorMessage returns the remote error message, falling back to a generic one
func (r *ResponseFrame) ErrorMessage() string {
	if r.Error != nil && r.Error.Message != "" {
		return r.Error.Message
	}
	return "request failed"
}
