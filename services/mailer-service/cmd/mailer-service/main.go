package main

import (
	"context"
	"net/http"
	"time"

	"github.com/nexaledger/platform/libs/config"
	"github.com/nexaledger/platform/libs/httpx"
	otelx "github.com/nexaledger/platform/libs/otel"
	"github.com/nexaledger/platform/libs/pubsub"
	"github.com/nexaledger/platform/libs/runtime"
	"github.com/nexaledger/platform/services/mailer-service/internal/email"
	"github.com/nexaledger/platform/services/mailer-service/internal/listener"
	"github.com/nexaledger/platform/services/mailer-service/internal/templates"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "mailer-service")
	port, err := config.Port("PORT", "8086")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext(logger)
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	smtpHost, err := config.RequiredString("SMTP_HOST")
	if err != nil {
		panic(err)
	}
	smtpPort, err := config.Port("SMTP_PORT", "587")
	if err != nil {
		panic(err)
	}
	smtpTimeout, err := config.Duration("SMTP_TIMEOUT", 15*time.Second)
	if err != nil {
		panic(err)
	}
	sender := email.NewSMTPSender(email.Config{
		Host:       smtpHost,
		Port:       smtpPort,
		Username:   config.String("SMTP_USERNAME", ""),
		Password:   config.String("SMTP_PASSWORD", ""),
		From:       config.String("SMTP_FROM", "no-reply@nexaledger.local"),
		RequireTLS: config.Bool("SMTP_STARTTLS", false),
		Timeout:    smtpTimeout,
	})

	transport, err := pubsub.Open(ctx, pubsub.ConfigFromEnv(), logger)
	if err != nil {
		logger.Error("transport connection failed", "err", err)
		panic(err)
	}
	defer func() { _ = transport.Close() }()

	policy, err := pubsub.PolicyFromEnv()
	if err != nil {
		panic(err)
	}
	timeout, err := config.Duration("MESSAGE_TIMEOUT", 30*time.Second)
	if err != nil {
		panic(err)
	}

	registry := templates.DefaultRegistry()
	logger.Info("email templates loaded", "templates", registry.Names())
	notificationListener := listener.New(registry, sender, transport, config.String("NOTIFICATION_CHANNEL", "email_notifications"), logger,
		listener.WithPolicy(policy, transport),
		listener.WithMessageTimeout(timeout),
	)
	worker := runtime.StartWorker(ctx, logger, "notification listener", notificationListener.Run, stop)

	mux := runtime.NewOpsMux(
		runtime.ReadyCheck{Name: "transport", Check: transport.Ping},
	)
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID(logger),
		httpx.WithAccessLog(logger, "/healthz", "/readyz", "/metrics"),
		httpx.WithRecover(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "mailer")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	runtime.Serve(ctx, logger, srv)
	// An email being sent when the signal arrives is finished before the
	// deferred transport close.
	worker.Wait(timeout + 5*time.Second)
}
