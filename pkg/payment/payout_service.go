package payment

import (
	"context"
	"fmt"
	"math"

	"ecodeli-delivery/internal/events"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
	"go.uber.org/zap"
)

// transferAPI is the part of the Stripe transfers client used for payouts.
type transferAPI interface {
	New(params *stripe.TransferParams) (*stripe.Transfer, error)
}

// PayoutService moves a deliverer's earnings to their Stripe Connect account.
type PayoutService struct {
	transfers transferAPI
	currency  string
	log       *zap.Logger
}

func NewStripePayoutService(apiKey, currency string, log *zap.Logger) *PayoutService {
	sc := client.New(apiKey, nil)
	return newPayoutService(sc.Transfers, currency, log)
}

func newPayoutService(t transferAPI, currency string, log *zap.Logger) *PayoutService {
	return &PayoutService{transfers: t, currency: currency, log: log}
}

// toMinorUnits converts an amount to cents, rounding half away from zero.
func toMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// HandleEvent pays out on DELIVERED events and ignores everything else.
// The idempotency key makes a redelivered event a no-op on Stripe's side.
func (s *PayoutService) HandleEvent(ctx context.Context, ev events.DeliveryEvent) error {
	if ev.Type != events.TypeDelivered {
		return nil
	}
	cents := toMinorUnits(ev.Earnings)
	if cents <= 0 || ev.PayoutAccount == "" {
		s.log.Info("skipping payout",
			zap.String("delivery_id", ev.DeliveryID),
			zap.Int64("amount", cents),
			zap.Bool("has_account", ev.PayoutAccount != ""))
		return nil
	}

	params := &stripe.TransferParams{
		Amount:        stripe.Int64(cents),
		Currency:      stripe.String(s.currency),
		Destination:   stripe.String(ev.PayoutAccount),
		TransferGroup: stripe.String(ev.DeliveryID),
	}
	params.Context = ctx
	params.SetIdempotencyKey("payout-" + ev.DeliveryID)
	params.AddMetadata("delivery_id", ev.DeliveryID)
	params.AddMetadata("deliverer_id", ev.DelivererID)

	tr, err := s.transfers.New(params)
	if err != nil {
		return fmt.Errorf("payment.HandleEvent: stripe transfer: %w", err)
	}
	s.log.Info("payout transferred",
		zap.String("delivery_id", ev.DeliveryID),
		zap.String("transfer_id", tr.ID),
		zap.Int64("amount", cents))
	return nil
}
