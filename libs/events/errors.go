package events

import "errors"

var (
	// ErrTransportUnavailable is returned when the transport cannot accept a write.
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrDeserialization marks a malformed or incomplete message.
	ErrDeserialization = errors.New("deserialization failed")

	// ErrValidation marks a notification whose data misses template fields.
	ErrValidation = errors.New("validation failed")

	// ErrPersistence marks an audit storage write failure.
	ErrPersistence = errors.New("persistence failed")

	// ErrDelivery marks a mail send failure.
	ErrDelivery = errors.New("delivery failed")

	ErrUnknownChannel = errors.New("unknown channel")
	ErrSerialization  = errors.New("serialization failed")
)

// Retryable reports whether a delivery policy may try err again. Malformed
// and invalid messages never get better on a second attempt.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDeserialization) || errors.Is(err, ErrValidation) {
		return false
	}
	return errors.Is(err, ErrPersistence) ||
		errors.Is(err, ErrDelivery) ||
		errors.Is(err, ErrTransportUnavailable)
}
