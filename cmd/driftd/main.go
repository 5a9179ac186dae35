package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/driftchat/drift-server/internal/api"
	"github.com/driftchat/drift-server/internal/broker"
	"github.com/driftchat/drift-server/internal/config"
	"github.com/driftchat/drift-server/internal/httputil"
	"github.com/driftchat/drift-server/internal/hub"
)

func main() {
	// A missing .env file is fine; the environment wins either way.
	_ = godotenv.Load()

	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger()
	}

	log.Info().Str("env", cfg.ServerEnv).Msg("Starting Drift Server")

	if cfg.CORSAllowOrigins == "*" {
		log.Warn().Msg("CORS_ALLOW_ORIGINS is set to a wildcard \"*\". This allows any origin to open a connection to your server. Set an explicit origin (e.g. https://your-client.example.com) for production deployments.")
	}

	ctx := context.Background()

	// Connect the broker. Without REDIS_URL the node runs standalone; with it, a
	// failed connect is fatal only when REDIS_REQUIRED says so.
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = broker.Connect(ctx, cfg.RedisURL, broker.Options{
			Attempts:    cfg.RedisRetries,
			Delay:       cfg.RedisRetryDelay,
			DialTimeout: cfg.RedisDialTimeout,
		}, log.Logger)
		if err != nil {
			if cfg.RedisRequired {
				return fmt.Errorf("connect broker: %w", err)
			}
			log.Warn().Err(err).Msg("Broker unreachable, running in single-node mode")
		} else {
			defer func() { _ = rdb.Close() }()
			log.Info().Msg("Broker connected")
		}
	} else {
		log.Info().Msg("REDIS_URL not set, running in single-node mode")
	}

	chatHub := hub.New(cfg.JWTSecret, rdb, log.Logger)
	log.Info().Str("node_id", chatHub.NodeID()).Msg("Hub initialized")

	// Start the broker subscriber.
	subCtx, subCancel := context.WithCancel(ctx)
	defer subCancel()
	go func() {
		if err := chatHub.Run(subCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Broker subscriber stopped")
		}
	}()

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName: "Drift",
		// ErrorHandler catches errors returned by handlers that are not already mapped
		// to structured API responses (e.g. Fiber's built-in 404/405). errors.AsType is
		// a generic helper added in Go 1.26.
		ErrorHandler: func(c fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			message := "An internal error occurred"
			code := httputil.CodeInternalError
			if e, ok := errors.AsType[*fiber.Error](err); ok {
				status = e.Code
				message = e.Message
				code = fiberStatusToCode(e.Code)
			} else {
				log.Error().Err(err).
					Str("method", c.Method()).
					Str("path", c.Path()).
					Msg("Unhandled error")
			}
			return httputil.Fail(c, status, code, message)
		},
	})

	// Global middleware
	app.Use(requestid.New())
	var skipPaths []string
	if !cfg.LogHealthRequests {
		skipPaths = append(skipPaths, "/healthz")
	}
	app.Use(httputil.RequestLogger(log.Logger, skipPaths...))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  strings.Split(cfg.CORSAllowOrigins, ","),
		AllowMethods:  []string{"GET", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"X-Request-ID"},
	}))

	// Register routes
	gateway := api.NewGatewayHandler(chatHub)
	app.Get("/", gateway.Upgrade)
	app.Get("/ws", gateway.Upgrade)

	health := api.NewHealthHandler(pinger(rdb))
	app.Get("/healthz", health.Health)

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Shutting down server")
		subCancel()
		chatHub.Shutdown()
		_ = app.Shutdown()
	}()

	// Listen
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	log.Info().Str("addr", addr).Msg("Server listening")
	if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// pinger adapts *redis.Client to api.Pinger, keeping the nil client nil through the
// interface conversion.
func pinger(rdb *redis.Client) api.Pinger {
	if rdb == nil {
		return nil
	}
	return redisPinger{client: rdb}
}

type redisPinger struct{ client *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.client.Ping(ctx).Err() }

// fiberStatusToCode maps an HTTP status code from Fiber's built-in errors (404, 405,
// etc.) to the closest API error code.
func fiberStatusToCode(status int) httputil.Code {
	switch {
	case status == fiber.StatusNotFound:
		return httputil.CodeNotFound
	case status == fiber.StatusServiceUnavailable:
		return httputil.CodeServiceUnavailable
	case status >= 400 && status < 500:
		return httputil.CodeValidationError
	default:
		return httputil.CodeInternalError
	}
}
