package listener

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nexaledger/platform/libs/events"
	"github.com/nexaledger/platform/libs/pubsub"
)

const auditChannel = "action_logs"

type fakeStore struct {
	mu      sync.Mutex
	records []events.AuditLog
	fail    int
	calls   int
}

func (s *fakeStore) Insert(_ context.Context, log events.AuditLog) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail > 0 {
		s.fail--
		return 0, errors.New("connection refused")
	}
	s.records = append(s.records, log)
	return int64(len(s.records)), nil
}

func (s *fakeStore) snapshot() ([]events.AuditLog, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]events.AuditLog(nil), s.records...), s.calls
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

func testLogger(w *syncBuffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, nil))
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

func TestHandleStoresRegisterEmpresa(t *testing.T) {
	store := &fakeStore{}
	var logs syncBuffer
	l := New(store, nil, auditChannel, testLogger(&logs))

	raw := []byte(`{"Action":"RegisterEmpresa","UserId":"N/A","EmpresaId":7,"AccessedEmpresaId":7,"Timestamp":"2024-01-01T00:00:00Z"}`)
	if err := l.Handle(context.Background(), pubsub.Message{ID: "m1", Channel: auditChannel, Payload: raw}); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	records, _ := store.snapshot()
	if len(records) != 1 {
		t.Fatalf("expected 1 stored record, got %d", len(records))
	}
	got := records[0]
	if got.Action != "RegisterEmpresa" || got.UserID != "N/A" || got.Tenant() != 7 {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.AccessedEmpresaID == nil || *got.AccessedEmpresaID != 7 || got.AccessedUsuarioID != nil {
		t.Fatalf("unexpected accessed ids: %+v", got)
	}
	if !got.Timestamp.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected timestamp %s", got.Timestamp)
	}
	if !strings.Contains(logs.String(), "processed audit log") {
		t.Fatalf("expected success log, got %s", logs.String())
	}
}

func TestHandleDropsMalformedPayload(t *testing.T) {
	store := &fakeStore{}
	var logs syncBuffer
	l := New(store, nil, auditChannel, testLogger(&logs))

	err := l.Handle(context.Background(), pubsub.Message{ID: "m1", Channel: auditChannel, Payload: []byte("not json")})
	if !errors.Is(err, events.ErrDeserialization) {
		t.Fatalf("expected ErrDeserialization, got %v", err)
	}
	if _, calls := store.snapshot(); calls != 0 {
		t.Fatalf("store should not be called, got %d calls", calls)
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(logs.String())), &entry); err != nil {
		t.Fatalf("log output is not a single JSON line: %v", err)
	}
	if entry["payload"] != "not json" || entry["channel"] != auditChannel || entry["err"] == nil {
		t.Fatalf("log entry misses context: %v", entry)
	}
}

func TestRunSurvivesMalformedMessage(t *testing.T) {
	transport := pubsub.NewMemoryTransport()
	defer transport.Close()
	store := &fakeStore{}
	var logs syncBuffer
	l := New(store, transport, auditChannel, testLogger(&logs))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	waitFor(t, "subscription", func() bool { return transport.Subscribers(auditChannel) == 1 })

	pub := events.NewPublisher(transport, events.Channels{Audit: auditChannel, Notification: "email_notifications"})
	if err := transport.Publish(ctx, auditChannel, []byte("{broken")); err != nil {
		t.Fatalf("publish malformed: %v", err)
	}
	err := pub.PublishAudit(ctx, events.AuditLog{
		Action:    "Login",
		UserID:    "42",
		EmpresaID: events.Int64(3),
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("PublishAudit failed: %v", err)
	}

	waitFor(t, "valid record", func() bool {
		records, _ := store.snapshot()
		return len(records) == 1
	})
	records, _ := store.snapshot()
	if records[0].Action != "Login" || records[0].Tenant() != 3 {
		t.Fatalf("unexpected record %+v", records[0])
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

func TestHandleRetriesThenDeadLetters(t *testing.T) {
	transport := pubsub.NewMemoryTransport()
	defer transport.Close()

	var dlq [][]byte
	var mu sync.Mutex
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = transport.Subscribe(ctx, "action_logs.dlq", func(_ context.Context, msg pubsub.Message) error {
			mu.Lock()
			dlq = append(dlq, msg.Payload)
			mu.Unlock()
			return nil
		})
	}()
	waitFor(t, "dlq subscription", func() bool { return transport.Subscribers("action_logs.dlq") == 1 })

	store := &fakeStore{fail: 5}
	var logs syncBuffer
	policy := pubsub.Policy{MaxAttempts: 3, Backoff: time.Millisecond, DeadLetterChannel: "action_logs.dlq"}
	l := New(store, transport, auditChannel, testLogger(&logs), WithPolicy(policy, transport))

	raw := []byte(`{"Action":"Login","UserId":"1","EmpresaId":1,"Timestamp":"2024-01-01T00:00:00Z"}`)
	err := l.Handle(context.Background(), pubsub.Message{ID: "m1", Channel: auditChannel, Payload: raw})
	if !errors.Is(err, events.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if _, calls := store.snapshot(); calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}

	waitFor(t, "dead letter", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(dlq) == 1
	})
	mu.Lock()
	defer mu.Unlock()
	var letter events.DeadLetter
	if err := json.Unmarshal(dlq[0], &letter); err != nil {
		t.Fatalf("dead letter is not JSON: %v", err)
	}
	if letter.Channel != auditChannel || !strings.Contains(letter.Error, "connection refused") {
		t.Fatalf("unexpected dead letter %+v", letter)
	}
}

func TestHandleRecoversAfterTransientFailure(t *testing.T) {
	store := &fakeStore{fail: 1}
	var logs syncBuffer
	l := New(store, nil, auditChannel, testLogger(&logs), WithPolicy(pubsub.Policy{MaxAttempts: 2}, nil))

	raw := []byte(`{"Action":"Login","UserId":"1","EmpresaId":1,"Timestamp":"2024-01-01T00:00:00Z"}`)
	if err := l.Handle(context.Background(), pubsub.Message{ID: "m1", Channel: auditChannel, Payload: raw}); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if records, calls := store.snapshot(); len(records) != 1 || calls != 2 {
		t.Fatalf("expected 1 record after 2 calls, got %d records / %d calls", len(records), calls)
	}
}
