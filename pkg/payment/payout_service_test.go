package payment

import (
	"context"
	"errors"
	"testing"

	"ecodeli-delivery/internal/events"

	"github.com/stripe/stripe-go/v74"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeTransfers struct {
	calls []*stripe.TransferParams
	err   error
}

func (f *fakeTransfers) New(params *stripe.TransferParams) (*stripe.Transfer, error) {
	f.calls = append(f.calls, params)
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.Transfer{ID: "tr_1"}, nil
}

func TestToMinorUnits(t *testing.T) {
	assert.Equal(t, int64(1850), toMinorUnits(18.5))
	assert.Equal(t, int64(30), toMinorUnits(0.1+0.2))
	assert.Equal(t, int64(0), toMinorUnits(0))
}

func TestHandleEventTransfersEarnings(t *testing.T) {
	ft := &fakeTransfers{}
	svc := newPayoutService(ft, "eur", zap.NewNop())

	err := svc.HandleEvent(context.Background(), events.DeliveryEvent{
		Type: events.TypeDelivered, DeliveryID: "D1", DelivererID: "U1", PayoutAccount: "acct_1", Earnings: 18.5,
	})
	require.NoError(t, err)
	require.Len(t, ft.calls, 1)

	p := ft.calls[0]
	assert.Equal(t, int64(1850), *p.Amount)
	assert.Equal(t, "eur", *p.Currency)
	assert.Equal(t, "acct_1", *p.Destination)
	assert.Equal(t, "payout-D1", *p.IdempotencyKey)
	assert.Equal(t, "D1", p.Metadata["delivery_id"])
}

func TestHandleEventSkips(t *testing.T) {
	ft := &fakeTransfers{}
	svc := newPayoutService(ft, "eur", zap.NewNop())
	ctx := context.Background()

	require.NoError(t, svc.HandleEvent(ctx, events.DeliveryEvent{Type: events.TypeStatusChanged, PayoutAccount: "acct_1", Earnings: 5}))
	require.NoError(t, svc.HandleEvent(ctx, events.DeliveryEvent{Type: events.TypeDelivered, PayoutAccount: "", Earnings: 5}))
	require.NoError(t, svc.HandleEvent(ctx, events.DeliveryEvent{Type: events.TypeDelivered, PayoutAccount: "acct_1", Earnings: 0}))
	assert.Empty(t, ft.calls)
}

func TestHandleEventStripeError(t *testing.T) {
	ft := &fakeTransfers{err: errors.New("card_declined")}
	svc := newPayoutService(ft, "eur", zap.NewNop())
	err := svc.HandleEvent(context.Background(), events.DeliveryEvent{
		Type: events.TypeDelivered, DeliveryID: "D1", PayoutAccount: "acct_1", Earnings: 1,
	})
	assert.Error(t, err)
}
