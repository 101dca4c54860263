package listener

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nexaledger/platform/libs/events"
	"github.com/nexaledger/platform/libs/pubsub"
	"github.com/nexaledger/platform/services/mailer-service/internal/email"
	"github.com/nexaledger/platform/services/mailer-service/internal/templates"
)

const notificationChannel = "email_notifications"

type fakeSender struct {
	mu    sync.Mutex
	sent  []email.Mail
	fail  int
	calls int
}

func (s *fakeSender) Send(_ context.Context, m email.Mail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail > 0 {
		s.fail--
		return fmt.Errorf("%w: 421 try again later", events.ErrDelivery)
	}
	s.sent = append(s.sent, m)
	return nil
}

func (s *fakeSender) snapshot() ([]email.Mail, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]email.Mail(nil), s.sent...), s.calls
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newListener(sender email.Sender, sub pubsub.Subscriber, logs *syncBuffer, opts ...Option) *Listener {
	logger := slog.New(slog.NewJSONHandler(logs, nil))
	return New(templates.DefaultRegistry(), sender, sub, notificationChannel, logger, opts...)
}

func message(t *testing.T, evt events.EmailEvent) pubsub.Message {
	t.Helper()
	raw, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return pubsub.Message{ID: "m1", Channel: notificationChannel, Payload: raw}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHandleNewUserRegistration(t *testing.T) {
	sender := &fakeSender{}
	var logs syncBuffer
	l := newListener(sender, nil, &logs)

	err := l.Handle(context.Background(), message(t, events.EmailEvent{
		Template:  "NewUserRegistration",
		Recipient: "a@b.com",
		Subject:   "Welcome",
		Data:      map[string]any{"UserName": "Ana"},
	}))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	sent, _ := sender.snapshot()
	if len(sent) != 1 {
		t.Fatalf("expected exactly one email, got %d", len(sent))
	}
	if sent[0].To != "a@b.com" || sent[0].Subject != "Welcome" || !strings.Contains(sent[0].HTML, "Ana") {
		t.Fatalf("unexpected mail %+v", sent[0])
	}
}

func TestHandleMissingRequiredFieldSkipsSend(t *testing.T) {
	sender := &fakeSender{}
	var logs syncBuffer
	l := newListener(sender, nil, &logs)

	err := l.Handle(context.Background(), message(t, events.EmailEvent{
		Template:  "NewUserRegistration",
		Recipient: "a@b.com",
		Subject:   "Welcome",
		Data:      map[string]any{"Name": "Ana"},
	}))
	if !errors.Is(err, events.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, calls := sender.snapshot(); calls != 0 {
		t.Fatalf("no email should be sent, got %d sends", calls)
	}
	out := logs.String()
	if !strings.Contains(out, "invalid template data") || !strings.Contains(out, "UserName") {
		t.Fatalf("expected validation failure log, got %s", out)
	}
}

func TestHandleUnknownTemplateSendsPlaceholder(t *testing.T) {
	sender := &fakeSender{}
	var logs syncBuffer
	l := newListener(sender, nil, &logs)

	err := l.Handle(context.Background(), message(t, events.EmailEvent{
		Template:  "Newsletter",
		Recipient: "a@b.com",
		Subject:   "News",
	}))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	sent, _ := sender.snapshot()
	if len(sent) != 1 || sent[0].HTML != templates.NotFoundBody {
		t.Fatalf("expected placeholder email, got %+v", sent)
	}
}

func TestHandleMalformedPayloads(t *testing.T) {
	cases := map[string]string{
		"not json":       `<<<`,
		"no template":    `{"Recipient":"a@b.com","Subject":"x","Data":{}}`,
		"no recipient":   `{"Template":"AdminLogin","Subject":"x","Data":{"Ip":"1.1.1.1"}}`,
		"bad recipient":  `{"Template":"AdminLogin","Recipient":"nobody","Subject":"x","Data":{"Ip":"1.1.1.1"}}`,
		"data not a map": `{"Template":"AdminLogin","Recipient":"a@b.com","Subject":"x","Data":[1,2]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			sender := &fakeSender{}
			var logs syncBuffer
			l := newListener(sender, nil, &logs)
			err := l.Handle(context.Background(), pubsub.Message{ID: "m1", Channel: notificationChannel, Payload: []byte(raw)})
			if !errors.Is(err, events.ErrDeserialization) {
				t.Fatalf("expected ErrDeserialization, got %v", err)
			}
			if _, calls := sender.snapshot(); calls != 0 {
				t.Fatalf("no email should be sent, got %d", calls)
			}
		})
	}
}

func TestRunSurvivesMalformedMessage(t *testing.T) {
	transport := pubsub.NewMemoryTransport()
	defer transport.Close()
	sender := &fakeSender{}
	var logs syncBuffer
	l := newListener(sender, transport, &logs)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	waitFor(t, "subscription", func() bool { return transport.Subscribers(notificationChannel) == 1 })

	if err := transport.Publish(ctx, notificationChannel, []byte(`{"Template":`)); err != nil {
		t.Fatalf("publish malformed: %v", err)
	}
	pub := events.NewPublisher(transport, events.Channels{Audit: "action_logs", Notification: notificationChannel})
	err := pub.PublishEmail(ctx, events.EmailEvent{
		Template:  "AdminLogin",
		Recipient: "ops@nexaledger.io",
		Subject:   "Admin login",
		Data:      map[string]any{"Ip": "10.1.2.3"},
	})
	if err != nil {
		t.Fatalf("PublishEmail failed: %v", err)
	}

	waitFor(t, "email", func() bool {
		sent, _ := sender.snapshot()
		return len(sent) == 1
	})
	sent, _ := sender.snapshot()
	if !strings.Contains(sent[0].HTML, "10.1.2.3") {
		t.Fatalf("unexpected body %s", sent[0].HTML)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestHandleRetriesDelivery(t *testing.T) {
	sender := &fakeSender{fail: 1}
	var logs syncBuffer
	l := newListener(sender, nil, &logs,
		WithPolicy(pubsub.Policy{MaxAttempts: 3, Backoff: time.Millisecond}, nil),
	)

	err := l.Handle(context.Background(), message(t, events.EmailEvent{
		Template:  "UserLogin",
		Recipient: "a@b.com",
		Subject:   "Login",
		Data:      map[string]any{"Ip": "10.0.0.1", "LoginTime": "2024-01-01 10:00"},
	}))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	sent, calls := sender.snapshot()
	if calls != 2 || len(sent) != 1 {
		t.Fatalf("expected one retry then success, got %d calls %+v", calls, sent)
	}
	// The sender owns the From address configured by SMTP_FROM.
	if sent[0].From != "" {
		t.Fatalf("listener should leave From to the sender, got %q", sent[0].From)
	}
}

func TestHandleDeadLettersAfterDeliveryFailure(t *testing.T) {
	transport := pubsub.NewMemoryTransport()
	defer transport.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var mu sync.Mutex
	var letters []events.DeadLetter
	go func() {
		_ = transport.Subscribe(ctx, "email_dlq", func(_ context.Context, msg pubsub.Message) error {
			var dl events.DeadLetter
			if err := json.Unmarshal(msg.Payload, &dl); err == nil {
				mu.Lock()
				letters = append(letters, dl)
				mu.Unlock()
			}
			return nil
		})
	}()
	waitFor(t, "dlq subscription", func() bool { return transport.Subscribers("email_dlq") == 1 })

	sender := &fakeSender{fail: 10}
	var logs syncBuffer
	l := newListener(sender, transport, &logs,
		WithPolicy(pubsub.Policy{MaxAttempts: 2, DeadLetterChannel: "email_dlq"}, transport),
	)
	err := l.Handle(context.Background(), message(t, events.EmailEvent{
		Template:  "AdminLogin",
		Recipient: "a@b.com",
		Subject:   "Admin login",
		Data:      map[string]any{"Ip": "10.0.0.1"},
	}))
	if !errors.Is(err, events.ErrDelivery) {
		t.Fatalf("expected ErrDelivery, got %v", err)
	}

	waitFor(t, "dead letter", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(letters) == 1
	})
	mu.Lock()
	defer mu.Unlock()
	if letters[0].Channel != notificationChannel || !strings.Contains(letters[0].Error, "try again later") {
		t.Fatalf("unexpected dead letter %+v", letters[0])
	}
}

type blockingSender struct {
	started chan struct{}
	release chan struct{}
	ctxErr  error
	mu      sync.Mutex
	sent    int
}

func (s *blockingSender) Send(ctx context.Context, _ email.Mail) error {
	close(s.started)
	<-s.release
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctxErr = ctx.Err()
	s.sent++
	return nil
}

func TestRunFinishesInFlightSendAfterCancel(t *testing.T) {
	transport := pubsub.NewMemoryTransport()
	defer transport.Close()
	sender := &blockingSender{started: make(chan struct{}), release: make(chan struct{})}
	var logs syncBuffer
	l := newListener(sender, transport, &logs, WithMessageTimeout(5*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	waitFor(t, "subscription", func() bool { return transport.Subscribers(notificationChannel) == 1 })

	pub := events.NewPublisher(transport, events.Channels{Audit: "action_logs", Notification: notificationChannel})
	if err := pub.PublishEmail(ctx, events.EmailEvent{
		Template:  "NewUserRegistration",
		Recipient: "a@b.com",
		Subject:   "Welcome",
		Data:      map[string]any{"UserName": "Ana"},
	}); err != nil {
		t.Fatalf("PublishEmail failed: %v", err)
	}
	select {
	case <-sender.started:
	case <-time.After(2 * time.Second):
		t.Fatal("send never started")
	}

	cancel()
	select {
	case <-done:
		t.Fatal("Run returned while a send was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(sender.release)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after the send finished")
	}
	sender.mu.Lock()
	defer sender.mu.Unlock()
	if sender.sent != 1 || sender.ctxErr != nil {
		t.Fatalf("send should complete with a live context, sent=%d ctxErr=%v", sender.sent, sender.ctxErr)
	}
}
