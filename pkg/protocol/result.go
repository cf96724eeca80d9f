package protocol

import "encoding/json"

type ResultStatus string

const (
	StatusOK    ResultStatus = "ok"
	StatusError ResultStatus = "error"
)

// Reasons used for results synthesized locally rather than sent by the server.
const (
	ReasonTimeout        = "timeout"
	ReasonConnectionLost = "connection lost"
	ReasonWriteFailed    = "write failed"
)

// Result is the outcome of one Command. Ok results carry the server response;
// error results carry a reason and, when the server echoed it, the command.
type Result struct {
	Status        ResultStatus    `json:"result"`
	CorrelationID string          `json:"correlationId"`
	Response      json.RawMessage `json:"response,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Command       *Command        `json:"command,omitempty"`
}

func (r Result) OK() bool { return r.Status == StatusOK }

// ErrorResult builds a locally synthesized failure for cmd.
func ErrorResult(cmd Command, reason string) Result {
	c := cmd
	return Result{
		Status:        StatusError,
		CorrelationID: cmd.CorrelationID,
		Reason:        reason,
		Command:       &c,
	}
}

// OKResult builds a successful result. Mostly useful for servers and tests.
func OKResult(correlationID string, response any) (Result, error) {
	raw, err := json.Marshal(response)
	if err != nil {
		return Result{}, err
	}
	return Result{Status: StatusOK, CorrelationID: correlationID, Response: raw}, nil
}
