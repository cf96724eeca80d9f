package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	FrameAction = "action"
	FrameResult = "result"
)

var ErrMalformedFrame = errors.New("malformed frame")

// Inbound is one decoded server frame. The concrete type is always one of
// PushedAction, ResultFrame or UnknownFrame.
type Inbound interface {
	frameType() string
}

// PushedAction is a server-originated state update not tied to any command.
// Raw holds the action object verbatim; ActionType is its own "type" field.
type PushedAction struct {
	ActionType string
	Raw        json.RawMessage
}

type ResultFrame struct {
	Result Result
}

type UnknownFrame struct {
	Type string
	Raw  json.RawMessage
}

func (PushedAction) frameType() string   { return FrameAction }
func (ResultFrame) frameType() string    { return FrameResult }
func (f UnknownFrame) frameType() string { return f.Type }

type inboundWire struct {
	Type          string          `json:"type"`
	Action        json.RawMessage `json:"action,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Result        ResultStatus    `json:"result,omitempty"`
	Response      json.RawMessage `json:"response,omitempty"`
	Reason        string          `json:"reason,omitempty"`
}

// DecodeInbound classifies a raw frame. Only JSON that cannot be parsed, or a
// recognised frame missing its mandatory fields, produces an error.
func DecodeInbound(data []byte) (Inbound, error) {
	var w inboundWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	switch w.Type {
	case FrameAction:
		var head struct {
			Type string `json:"type"`
		}
		if len(w.Action) == 0 {
			return nil, fmt.Errorf("%w: action frame without action", ErrMalformedFrame)
		}
		if err := json.Unmarshal(w.Action, &head); err != nil {
			return nil, fmt.Errorf("%w: action: %v", ErrMalformedFrame, err)
		}
		return PushedAction{ActionType: head.Type, Raw: w.Action}, nil
	case FrameResult:
		if w.CorrelationID == "" {
			return nil, fmt.Errorf("%w: result frame without correlationId", ErrMalformedFrame)
		}
		res := Result{Status: w.Result, CorrelationID: w.CorrelationID, Reason: w.Reason}
		switch w.Result {
		case StatusOK:
			res.Response = w.Response
		case StatusError:
			var cmd Command
			if len(w.Response) > 0 && json.Unmarshal(w.Response, &cmd) == nil && cmd.Kind != "" {
				res.Command = &cmd
			}
		default:
			return nil, fmt.Errorf("%w: result status %q", ErrMalformedFrame, w.Result)
		}
		return ResultFrame{Result: res}, nil
	default:
		return UnknownFrame{Type: w.Type, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}

// EncodeAction wraps a push payload into an action frame.
func EncodeAction(action any) ([]byte, error) {
	raw, err := json.Marshal(action)
	if err != nil {
		return nil, err
	}
	return json.Marshal(inboundWire{Type: FrameAction, Action: raw})
}

// EncodeResult renders r as a result frame, the inverse of DecodeInbound.
func EncodeResult(r Result) ([]byte, error) {
	w := inboundWire{
		Type:          FrameResult,
		CorrelationID: r.CorrelationID,
		Result:        r.Status,
		Reason:        r.Reason,
		Response:      r.Response,
	}
	if r.Status == StatusError && r.Command != nil {
		raw, err := json.Marshal(r.Command)
		if err != nil {
			return nil, err
		}
		w.Response = raw
	}
	return json.Marshal(w)
}
