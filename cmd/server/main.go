package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ecodeli-delivery/internal/auth"
	"ecodeli-delivery/internal/config"
	"ecodeli-delivery/internal/events"
	"ecodeli-delivery/internal/logger"
	"ecodeli-delivery/internal/metrics"
	"ecodeli-delivery/internal/modules/delivery"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		panic("loading config: " + err.Error())
	}

	log, err := logger.New("delivery-api", cfg.LogLevel)
	if err != nil {
		panic("building logger: " + err.Error())
	}
	defer log.Sync()

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("connecting to database", zap.Error(err))
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Fatal("pinging database", zap.Error(err))
	}

	metrics.Register()

	// Events are best effort: the API keeps serving without a broker.
	var publisher delivery.EventPublisher
	mq, err := events.Dial(cfg.AMQPURL)
	if err != nil {
		log.Warn("event broker unavailable, delivery events disabled", zap.Error(err))
	} else {
		defer mq.Close()
		if err := mq.DeclareTopology(cfg.EventsExchange, ""); err != nil {
			log.Fatal("declaring event exchange", zap.Error(err))
		}
		publisher = events.NewPublisher(mq.Channel(), cfg.EventsExchange)
	}

	repo := delivery.NewRepository(pool)
	svc := delivery.NewService(repo, log, cfg.ValidationWindow)
	handler := delivery.NewHandler(svc, publisher, log)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{cfg.ClientOrigin},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogMethod:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				log.Error("request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			log.Info("request", fields...)
			return nil
		},
	}))

	e.GET("/healthz", func(c echo.Context) error {
		if err := pool.Ping(c.Request().Context()); err != nil {
			return c.String(http.StatusServiceUnavailable, "database unavailable")
		}
		return c.String(http.StatusOK, "OK")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api", auth.JWT(cfg.JWTSecret), auth.Identify)
	handler.RegisterRoutes(api)

	go func() {
		log.Info("starting HTTP server", zap.String("port", cfg.ServerPort))
		if err := e.Start(":" + cfg.ServerPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
}
