package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type recordingTransport struct {
	channel string
	payload []byte
	err     error
	calls   int
}

func (r *recordingTransport) Publish(_ context.Context, channel string, payload []byte) error {
	r.calls++
	r.channel = channel
	r.payload = payload
	return r.err
}

var testChannels = Channels{Audit: "action_logs", Notification: "email_notifications"}

func TestPublishAuditStampsTimestamp(t *testing.T) {
	tr := &recordingTransport{}
	pub := NewPublisher(tr, testChannels)
	fixed := time.Date(2024, 12, 4, 18, 0, 0, 0, time.FixedZone("BRT", -3*3600))
	pub.now = func() time.Time { return fixed }

	if err := pub.PublishAudit(context.Background(), AuditLog{Action: "Login"}); err != nil {
		t.Fatalf("PublishAudit failed: %v", err)
	}
	if tr.channel != "action_logs" {
		t.Fatalf("expected audit channel, got %q", tr.channel)
	}

	got, err := DecodeAuditLog(tr.payload)
	if err != nil {
		t.Fatalf("published payload does not decode: %v", err)
	}
	if !got.Timestamp.Equal(fixed) || got.Timestamp.Location() != time.UTC {
		t.Fatalf("expected UTC timestamp %s, got %s", fixed.UTC(), got.Timestamp)
	}
	if got.UserID != AnonymousActor || got.Tenant() != NoTenant {
		t.Fatalf("expected anonymous defaults, got %+v", got)
	}
}

func TestPublishRejectsUnknownChannel(t *testing.T) {
	tr := &recordingTransport{}
	pub := NewPublisher(tr, testChannels)

	for _, channel := range []string{"", "  ", "not_provisioned"} {
		err := pub.Publish(context.Background(), channel, map[string]string{"a": "b"})
		if !errors.Is(err, ErrUnknownChannel) {
			t.Fatalf("channel %q: expected ErrUnknownChannel, got %v", channel, err)
		}
	}
	if tr.calls != 0 {
		t.Fatalf("transport must not be called, got %d calls", tr.calls)
	}
}

func TestPublishExtraChannel(t *testing.T) {
	tr := &recordingTransport{}
	pub := NewPublisher(tr, testChannels, "events_dlq")
	if err := pub.Publish(context.Background(), "events_dlq", DeadLetter{Channel: "x"}); err != nil {
		t.Fatalf("expected extra channel to be accepted: %v", err)
	}
}

func TestPublishSerializationError(t *testing.T) {
	tr := &recordingTransport{}
	pub := NewPublisher(tr, testChannels)
	err := pub.Publish(context.Background(), "action_logs", map[string]any{"bad": make(chan int)})
	if !errors.Is(err, ErrSerialization) {
		t.Fatalf("expected ErrSerialization, got %v", err)
	}
}

func TestPublishWrapsTransportFailure(t *testing.T) {
	tr := &recordingTransport{err: errors.New("dial tcp: connection refused")}
	pub := NewPublisher(tr, testChannels)

	err := pub.PublishEmail(context.Background(), EmailEvent{Template: "UserLogin", Recipient: "a@b.com", Subject: "Hi"})
	if !errors.Is(err, ErrTransportUnavailable) {
		t.Fatalf("expected ErrTransportUnavailable, got %v", err)
	}
	if tr.channel != "email_notifications" {
		t.Fatalf("expected notification channel, got %q", tr.channel)
	}

	var evt map[string]any
	if err := json.Unmarshal(tr.payload, &evt); err != nil {
		t.Fatalf("payload is not json: %v", err)
	}
	for _, key := range []string{"Template", "Recipient", "Subject"} {
		if _, ok := evt[key]; !ok {
			t.Fatalf("expected wire key %s in %s", key, tr.payload)
		}
	}
}

func TestPublishWithoutTransport(t *testing.T) {
	pub := NewPublisher(nil, testChannels)
	if err := pub.Publish(context.Background(), "action_logs", AuditLog{}); !errors.Is(err, ErrTransportUnavailable) {
		t.Fatalf("expected ErrTransportUnavailable, got %v", err)
	}
}
