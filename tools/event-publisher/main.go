package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nexaledger/platform/libs/config"
	"github.com/nexaledger/platform/libs/events"
	otelx "github.com/nexaledger/platform/libs/otel"
	"github.com/nexaledger/platform/libs/pubsub"
)

type options struct {
	kind              string
	action            string
	userID            string
	empresaID         int64
	accessedEmpresaID int64
	accessedUsuarioID int64
	template          string
	recipient         string
	subject           string
	data              string
	count             int
}

func main() {
	_ = config.LoadDotEnv()

	var opts options
	flag.StringVar(&opts.kind, "kind", "audit", "event kind: audit or email")
	flag.StringVar(&opts.action, "action", "RegisterEmpresa", "audit action")
	flag.StringVar(&opts.userID, "user-id", events.AnonymousActor, "audit actor id")
	flag.Int64Var(&opts.empresaID, "empresa-id", events.NoTenant, "tenant id (0 for none)")
	flag.Int64Var(&opts.accessedEmpresaID, "accessed-empresa-id", 0, "tenant acted upon, if any")
	flag.Int64Var(&opts.accessedUsuarioID, "accessed-usuario-id", 0, "user acted upon, if any")
	flag.StringVar(&opts.template, "template", "NewUserRegistration", "email template")
	flag.StringVar(&opts.recipient, "recipient", "", "email recipient")
	flag.StringVar(&opts.subject, "subject", "NexaLedger notification", "email subject")
	flag.StringVar(&opts.data, "data", "", `template data as JSON or key=value pairs, e.g. UserName=Ana`)
	flag.IntVar(&opts.count, "count", 1, "number of copies to publish")
	traceparent := flag.String("traceparent", "", "W3C traceparent to continue")
	flag.Parse()

	if err := run(context.Background(), opts, *traceparent, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

func run(ctx context.Context, opts options, traceparent string, out io.Writer) error {
	if opts.count < 1 {
		return fmt.Errorf("count must be at least 1")
	}
	msg, err := buildMessage(opts)
	if err != nil {
		return err
	}
	ctx, err = otelx.TraceContext{Traceparent: traceparent}.Attach(ctx)
	if err != nil {
		return fmt.Errorf("-traceparent: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	transport, err := pubsub.Open(ctx, pubsub.ConfigFromEnv(), logger)
	if err != nil {
		return fmt.Errorf("open transport: %w", err)
	}
	defer func() { _ = transport.Close() }()

	pub := events.NewPublisher(transport, events.Channels{
		Audit:        config.String("AUDIT_CHANNEL", "action_logs"),
		Notification: config.String("NOTIFICATION_CHANNEL", "email_notifications"),
	})
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for i := 0; i < opts.count; i++ {
		switch m := msg.(type) {
		case events.AuditLog:
			err = pub.PublishAudit(ctx, m)
		case events.EmailEvent:
			err = pub.PublishEmail(ctx, m)
		}
		if err != nil {
			return err
		}
	}
	fmt.Fprintf(out, "published kind=%s count=%d\n", opts.kind, opts.count)
	return nil
}

// buildMessage returns an events.AuditLog or events.EmailEvent.
func buildMessage(opts options) (any, error) {
	switch strings.ToLower(strings.TrimSpace(opts.kind)) {
	case "audit":
		if strings.TrimSpace(opts.action) == "" {
			return nil, fmt.Errorf("action is required")
		}
		log := events.AuditLog{
			Action:    opts.action,
			UserID:    opts.userID,
			EmpresaID: events.Int64(opts.empresaID),
		}
		if opts.accessedEmpresaID != 0 {
			log.AccessedEmpresaID = events.Int64(opts.accessedEmpresaID)
		}
		if opts.accessedUsuarioID != 0 {
			log.AccessedUsuarioID = events.Int64(opts.accessedUsuarioID)
		}
		return log, nil
	case "email":
		data, err := parseData(opts.data)
		if err != nil {
			return nil, err
		}
		evt := events.EmailEvent{
			Template:  opts.template,
			Recipient: opts.recipient,
			Subject:   opts.subject,
			Data:      data,
		}
		if err := evt.Validate(); err != nil {
			return nil, err
		}
		return evt, nil
	default:
		return nil, fmt.Errorf("unknown kind %q (want audit or email)", opts.kind)
	}
}

func parseData(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	data := map[string]any{}
	if raw == "" {
		return data, nil
	}
	if strings.HasPrefix(raw, "{") {
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return nil, fmt.Errorf("data: %w", err)
		}
		return data, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("data: expected key=value, got %q", pair)
		}
		v = strings.TrimSpace(v)
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			data[k] = n
			continue
		}
		data[k] = v
	}
	return data, nil
}
