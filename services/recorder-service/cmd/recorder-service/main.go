package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/nexaledger/platform/libs/auth"
	"github.com/nexaledger/platform/libs/config"
	"github.com/nexaledger/platform/libs/db"
	"github.com/nexaledger/platform/libs/httpx"
	otelx "github.com/nexaledger/platform/libs/otel"
	"github.com/nexaledger/platform/libs/pubsub"
	"github.com/nexaledger/platform/libs/redisx"
	"github.com/nexaledger/platform/libs/runtime"
	"github.com/nexaledger/platform/services/recorder-service/internal/handlers"
	"github.com/nexaledger/platform/services/recorder-service/internal/listener"
	"github.com/nexaledger/platform/services/recorder-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "recorder-service")
	port, err := config.Port("PORT", "8085")
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

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	if config.Bool("DB_MIGRATE", true) {
		if err := storage.Migrate(ctx, pool); err != nil {
			logger.Error("schema migration failed", "err", err)
			panic(err)
		}
	}

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
	timeout, err := config.Duration("MESSAGE_TIMEOUT", 10*time.Second)
	if err != nil {
		panic(err)
	}

	repo := storage.NewRepository(pool)
	auditListener := listener.New(repo, transport, config.String("AUDIT_CHANNEL", "action_logs"), logger,
		listener.WithPolicy(policy, transport),
		listener.WithMessageTimeout(timeout),
	)
	worker := runtime.StartWorker(ctx, logger, "audit listener", auditListener.Run, stop)

	mux := runtime.NewOpsMux(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "transport", Check: transport.Ping},
	)
	logsHandler := handlers.NewLogsHandler(repo, logger)
	mux.Handle("/api/v1/logs", httpx.Chain(http.HandlerFunc(logsHandler.List), apiMiddleware(ctx, logger)...))

	requestTimeout, err := config.Duration("REQUEST_TIMEOUT", 10*time.Second)
	if err != nil {
		panic(err)
	}
	cors, err := httpx.CORSFromEnv()
	if err != nil {
		panic(err)
	}
	httpHandler := httpx.Chain(mux,
		httpx.WithCORS(cors),
		httpx.WithRequestID(logger),
		httpx.WithAccessLog(logger, "/healthz", "/readyz", "/metrics"),
		httpx.WithRecover(logger),
		httpx.WithTimeout(requestTimeout),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "recorder")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	runtime.Serve(ctx, logger, srv)
	// The listener finishes its in-flight message before the deferred
	// transport and pool closes run.
	worker.Wait(timeout + 5*time.Second)
}

// apiMiddleware authenticates and rate limits the query API. Bearer tokens
// are verified with JWT_SECRET. Without a secret the API rejects every
// request unless TRUST_GATEWAY_HEADERS is set.
func apiMiddleware(ctx context.Context, logger *slog.Logger) []httpx.Middleware {
	authCfg := auth.Config{
		Secret:   config.String("JWT_SECRET", ""),
		Issuer:   config.String("JWT_ISSUER", ""),
		Audience: config.String("JWT_AUDIENCE", ""),
	}
	trustGateway := config.Bool("TRUST_GATEWAY_HEADERS", false)
	switch {
	case authCfg.Secret != "":
		logger.Info("log api authentication: bearer tokens")
	case trustGateway:
		logger.Warn("log api authentication: trusting X-User-Id and X-Role from the gateway")
	default:
		logger.Error("JWT_SECRET not set and TRUST_GATEWAY_HEADERS off; /api/v1/logs will reject every request")
	}
	mws := []httpx.Middleware{auth.Identity(authCfg, trustGateway)}

	limit, err := config.Int("RATE_LIMIT_PER_MINUTE", 60)
	if err != nil {
		panic(err)
	}
	if url := config.String("RATE_LIMIT_REDIS_URL", ""); url != "" {
		rdb, err := redisx.Open(ctx, redisx.Config{URL: url})
		if err != nil {
			logger.Error("rate limit redis unavailable; using in-memory limiter", "err", err)
		} else {
			context.AfterFunc(ctx, func() { _ = rdb.Close() })
			rl := httpx.NewRedisRateLimiter(rdb, limit, time.Minute, "recorder")
			logger.Info("rate limiting enabled (redis)", "per_minute", limit)
			return append(mws, rl.Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true)))
		}
	}
	logger.Info("rate limiting enabled (in-memory)", "per_minute", limit)
	return append(mws, httpx.NewRateLimiter(limit, time.Minute).Middleware())
}
