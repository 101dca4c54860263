package events

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"
)

// EmailEvent is the notification channel payload: render Template with Data
// and mail it to Recipient.
type EmailEvent struct {
	Template  string         `json:"Template"`
	Recipient string         `json:"Recipient"`
	Subject   string         `json:"Subject"`
	Data      map[string]any `json:"Data"`
}

func (e EmailEvent) Validate() error {
	var missing []string
	if strings.TrimSpace(e.Template) == "" {
		missing = append(missing, "Template")
	}
	if strings.TrimSpace(e.Recipient) == "" {
		missing = append(missing, "Recipient")
	}
	if strings.TrimSpace(e.Subject) == "" {
		missing = append(missing, "Subject")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: email event missing %s", ErrDeserialization, strings.Join(missing, ", "))
	}
	if _, err := mail.ParseAddress(e.Recipient); err != nil {
		return fmt.Errorf("%w: invalid recipient %q: %v", ErrDeserialization, e.Recipient, err)
	}
	return nil
}

// DecodeEmailEvent parses and validates a notification channel payload.
// A missing Data object decodes as an empty map.
func DecodeEmailEvent(raw []byte) (EmailEvent, error) {
	var e EmailEvent
	if err := json.Unmarshal(raw, &e); err != nil {
		return EmailEvent{}, fmt.Errorf("%w: %v", ErrDeserialization, err)
	}
	if err := e.Validate(); err != nil {
		return EmailEvent{}, err
	}
	if e.Data == nil {
		e.Data = map[string]any{}
	}
	return e, nil
}
