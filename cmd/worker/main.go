package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"ecodeli-delivery/internal/config"
	"ecodeli-delivery/internal/events"
	"ecodeli-delivery/internal/logger"
	"ecodeli-delivery/internal/metrics"
	"ecodeli-delivery/internal/notification"
	"ecodeli-delivery/pkg/payment"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"go.uber.org/zap"
)

const prefetch = 10

func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		panic("loading config: " + err.Error())
	}

	log, err := logger.New("delivery-worker", cfg.LogLevel)
	if err != nil {
		panic("building logger: " + err.Error())
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Register()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		log.Fatal("loading AWS config", zap.Error(err))
	}
	notifier := notification.NewEmailNotifier(sesv2.NewFromConfig(awsCfg), cfg.SESFromAddress, log)

	handlers := []events.Handler{notifier.HandleEvent}
	if cfg.StripeAPIKey != "" {
		payouts := payment.NewStripePayoutService(cfg.StripeAPIKey, cfg.PayoutCurrency, log)
		handlers = append(handlers, payouts.HandleEvent)
	} else {
		log.Warn("STRIPE_API_KEY not set, payouts disabled")
	}

	mq, err := events.Dial(cfg.AMQPURL)
	if err != nil {
		log.Fatal("connecting to event broker", zap.Error(err))
	}
	defer mq.Close()

	if err := mq.DeclareTopology(cfg.EventsExchange, cfg.EventsQueue); err != nil {
		log.Fatal("declaring event topology", zap.Error(err))
	}
	deliveries, err := mq.Consume(cfg.EventsQueue, "delivery-worker", prefetch)
	if err != nil {
		log.Fatal("starting consumer", zap.Error(err))
	}

	log.Info("worker consuming", zap.String("queue", cfg.EventsQueue))
	err = events.NewConsumer(deliveries, log).Run(ctx, events.Chain(handlers...))
	if err != nil && ctx.Err() == nil {
		log.Error("consumer stopped", zap.Error(err))
	}
	log.Info("worker exited")
}
