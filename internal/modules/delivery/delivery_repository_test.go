package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"ecodeli-delivery/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var deliveryColumnNames = []string{
	"id", "client_id", "deliverer_id", "status", "tracking_code", "validation_code", "price",
	"scheduled_at", "picked_up_at", "in_transit_at", "completed_at",
	"pickup_address", "pickup_lat", "pickup_lng",
	"delivery_address", "delivery_lat", "delivery_lng",
	"notes", "created_at", "updated_at",
}

func newMockRepo(t *testing.T) (*Repository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &Repository{db: mock}, mock
}

func deliveredRow(id string) *pgxmock.Rows {
	code := "482913"
	completed := testNow
	return pgxmock.NewRows(deliveryColumnNames).AddRow(
		id, "C1", "U1", "DELIVERED", "TRK-"+id, &code, 25.0,
		(*time.Time)(nil), (*time.Time)(nil), (*time.Time)(nil), &completed,
		(*string)(nil), (*float64)(nil), (*float64)(nil),
		(*string)(nil), (*float64)(nil), (*float64)(nil),
		(*string)(nil), testNow, testNow,
	)
}

func completion(photos ...string) models.Completion {
	return models.Completion{
		DeliveryID:     "D1",
		DelivererID:    "U1",
		ValidationCode: "482913",
		ProofPhotos:    photos,
		CompletedAt:    testNow,
	}
}

func expectCompleteUpdate(mock pgxmock.PgxPoolIface) *pgxmock.ExpectedQuery {
	return mock.ExpectQuery(`UPDATE deliveries`).
		WithArgs("D1", "U1", "482913", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg())
}

func TestRepositoryCompleteDeliveryCommitsAllWrites(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	expectCompleteUpdate(mock).WillReturnRows(deliveredRow("D1"))
	mock.ExpectExec(`INSERT INTO proofs_of_delivery`).
		WithArgs(pgxmock.AnyArg(), "D1", []string{"https://cdn.example.com/p.jpg"}, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "U1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`UPDATE payments`).
		WithArgs("D1", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"amount"}).AddRow(12.5))
	mock.ExpectExec(`INSERT INTO deliverers`).
		WithArgs("U1", 12.5).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO delivery_logs`).
		WithArgs(pgxmock.AnyArg(), "D1", "VALIDATED", "IN_TRANSIT", "DELIVERED", "U1",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	d, amount, err := repo.CompleteDelivery(context.Background(), completion("https://cdn.example.com/p.jpg"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, d.Status)
	assert.Equal(t, 12.5, amount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryCompleteDeliveryNoPaymentEarnsZero(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	expectCompleteUpdate(mock).WillReturnRows(deliveredRow("D1"))
	mock.ExpectQuery(`UPDATE payments`).
		WithArgs("D1", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"amount"}))
	mock.ExpectExec(`INSERT INTO deliverers`).
		WithArgs("U1", 0.0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO delivery_logs`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	_, amount, err := repo.CompleteDelivery(context.Background(), completion())
	require.NoError(t, err)
	assert.Zero(t, amount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryCompleteDeliveryNoMatchingRowIsConflict(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	expectCompleteUpdate(mock).WillReturnRows(pgxmock.NewRows(deliveryColumnNames))
	mock.ExpectRollback()

	_, _, err := repo.CompleteDelivery(context.Background(), completion("https://cdn.example.com/p.jpg"))
	assert.ErrorIs(t, err, models.ErrStatusConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryCompleteDeliveryRollsBackOnProofFailure(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	expectCompleteUpdate(mock).WillReturnRows(deliveredRow("D1"))
	mock.ExpectExec(`INSERT INTO proofs_of_delivery`).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, _, err := repo.CompleteDelivery(context.Background(), completion("https://cdn.example.com/p.jpg"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrStatusConflict)
	assert.Contains(t, err.Error(), "insert proof")
	// Payment, stats and log writes must never run after the failure.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryUpdateStatusNoMatchingRowIsConflict(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE deliveries`).
		WithArgs("D1", "U1", "ACCEPTED", "PICKED_UP", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(deliveryColumnNames))
	mock.ExpectRollback()

	_, err := repo.UpdateStatus(context.Background(), "D1", "U1", models.StatusAccepted, models.StatusPickedUp, testNow, nil)
	assert.ErrorIs(t, err, models.ErrStatusConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryCreateRatingDuplicate(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`INSERT INTO delivery_ratings`).
		WillReturnError(&pgconn.PgError{Code: uniqueViolation})

	err := repo.CreateRating(context.Background(), &models.DeliveryRating{DeliveryID: "D1", RatedByID: "C1", TargetID: "U1", Rating: 5})
	assert.ErrorIs(t, err, models.ErrAlreadyRated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryFindProofMissing(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`FROM proofs_of_delivery`).
		WithArgs("D1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "delivery_id", "photo_urls", "address", "lat", "lng", "validated_by", "created_at"}))

	_, err := repo.FindProof(context.Background(), "D1")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
