package events

import (
	"errors"
	"testing"
)

func TestDecodeEmailEvent(t *testing.T) {
	evt, err := DecodeEmailEvent([]byte(`{"Template":"NewUserRegistration","Recipient":"a@b.com","Subject":"Welcome","Data":{"UserName":"Ana"}}`))
	if err != nil {
		t.Fatalf("DecodeEmailEvent failed: %v", err)
	}
	if evt.Template != "NewUserRegistration" || evt.Recipient != "a@b.com" || evt.Data["UserName"] != "Ana" {
		t.Fatalf("unexpected event: %+v", evt)
	}
}

func TestDecodeEmailEventDefaultsData(t *testing.T) {
	evt, err := DecodeEmailEvent([]byte(`{"Template":"AdminLogin","Recipient":"ops@nexaledger.io","Subject":"Login"}`))
	if err != nil {
		t.Fatalf("DecodeEmailEvent failed: %v", err)
	}
	if evt.Data == nil {
		t.Fatal("expected empty data map")
	}
}

func TestDecodeEmailEventRejects(t *testing.T) {
	cases := map[string]string{
		"not json":      `<html>`,
		"no template":   `{"Recipient":"a@b.com","Subject":"Hi","Data":{}}`,
		"no recipient":  `{"Template":"AdminLogin","Subject":"Hi","Data":{}}`,
		"no subject":    `{"Template":"AdminLogin","Recipient":"a@b.com","Data":{}}`,
		"bad recipient": `{"Template":"AdminLogin","Recipient":"not-an-address","Subject":"Hi","Data":{}}`,
		"data is array": `{"Template":"AdminLogin","Recipient":"a@b.com","Subject":"Hi","Data":[1,2]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeEmailEvent([]byte(raw)); !errors.Is(err, ErrDeserialization) {
				t.Fatalf("expected ErrDeserialization, got %v", err)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ErrDeserialization, false},
		{ErrValidation, false},
		{ErrPersistence, true},
		{ErrDelivery, true},
		{ErrTransportUnavailable, true},
		{errors.New("other"), false},
	}
	for _, tc := range cases {
		if got := Retryable(tc.err); got != tc.want {
			t.Fatalf("Retryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
