package events

import (
	"encoding/json"
	"time"

	otelx "github.com/nexaledger/platform/libs/otel"
)

// DeadLetter wraps a payload that exhausted its delivery policy. The trace
// context of the failed handling travels inline.
type DeadLetter struct {
	Channel  string          `json:"channel"`
	Payload  json.RawMessage `json:"payload"`
	Error    string          `json:"error"`
	FailedAt time.Time       `json:"failed_at"`
	otelx.TraceContext
}

// NewDeadLetter copies raw so the caller may reuse its buffer. Payloads that
// are not valid JSON are carried as a JSON string.
func NewDeadLetter(channel string, raw []byte, cause error, now time.Time) DeadLetter {
	payload := json.RawMessage(append([]byte(nil), raw...))
	if !json.Valid(payload) {
		quoted, _ := json.Marshal(string(raw))
		payload = quoted
	}
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	return DeadLetter{
		Channel:  channel,
		Payload:  payload,
		Error:    reason,
		FailedAt: now.UTC(),
	}
}
