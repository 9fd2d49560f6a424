package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ecodeli-delivery/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RepositoryInterface defines the contract for the delivery repository.
type RepositoryInterface interface {
	FindByID(ctx context.Context, deliveryID string) (*models.Delivery, error)
	ListByDeliverer(ctx context.Context, delivererID string, status models.DeliveryStatus, page, limit int) ([]*models.Delivery, int, error)
	// CompleteDelivery applies every write of a successful validation in one
	// transaction and returns the updated delivery plus the payment amount.
	// It returns models.ErrStatusConflict when the delivery is no longer
	// IN_TRANSIT for this deliverer and code.
	CompleteDelivery(ctx context.Context, c models.Completion) (*models.Delivery, float64, error)
	// UpdateStatus moves a delivery from one status to another and appends
	// the log entry in the same transaction.
	UpdateStatus(ctx context.Context, deliveryID, delivererID string, from, to models.DeliveryStatus, at time.Time, location *models.Location) (*models.Delivery, error)
	AppendLog(ctx context.Context, entry *models.DeliveryLog) error
	// AssignValidationCode stores code only if none is set yet and returns
	// the code now held by the delivery.
	AssignValidationCode(ctx context.Context, deliveryID, code string) (string, error)
	CreateCoordinates(ctx context.Context, c *models.DeliveryCoordinates) error
	ListCoordinates(ctx context.Context, deliveryID string, since time.Time) ([]*models.DeliveryCoordinates, error)
	CountByStatus(ctx context.Context, from, to time.Time) (map[models.DeliveryStatus]int, error)
	FindParties(ctx context.Context, deliveryID string) (*models.DeliveryParties, error)
	// FindLogs returns the audit trail of a delivery, newest first.
	FindLogs(ctx context.Context, deliveryID string) ([]*models.DeliveryLog, error)
	// FindProof returns models.ErrNotFound when the delivery has no proof yet.
	FindProof(ctx context.Context, deliveryID string) (*models.ProofOfDelivery, error)
	LatestCoordinates(ctx context.Context, deliveryID string, limit int) ([]*models.DeliveryCoordinates, error)
	FindRatings(ctx context.Context, deliveryID string) ([]*models.DeliveryRating, error)
	// CreateRating returns models.ErrAlreadyRated if the rater already rated this delivery.
	CreateRating(ctx context.Context, rating *models.DeliveryRating) error
}

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// dbPool is the subset of *pgxpool.Pool the repository uses.
type dbPool interface {
	execer
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository implements the RepositoryInterface on PostgreSQL.
type Repository struct {
	db dbPool
}

// NewRepository creates a new delivery repository.
func NewRepository(db *pgxpool.Pool) RepositoryInterface {
	return &Repository{db: db}
}

const uniqueViolation = "23505"

const deliveryColumns = `
	id, client_id, deliverer_id, status, tracking_code, validation_code, price,
	scheduled_at, picked_up_at, in_transit_at, completed_at,
	pickup_address, pickup_lat, pickup_lng,
	delivery_address, delivery_lat, delivery_lng,
	notes, created_at, updated_at`

// inTx runs fn in a transaction, committing only if fn succeeds.
func (r *Repository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// scanDelivery is a helper function to scan a row into a Delivery model.
func scanDelivery(row pgx.Row) (*models.Delivery, error) {
	var d models.Delivery
	var status string
	var pickupAddr, dropAddr *string
	var pickupLat, pickupLng, dropLat, dropLng *float64
	err := row.Scan(
		&d.ID, &d.ClientID, &d.DelivererID, &status, &d.TrackingCode, &d.ValidationCode, &d.Price,
		&d.ScheduledAt, &d.PickedUpAt, &d.InTransitAt, &d.CompletedAt,
		&pickupAddr, &pickupLat, &pickupLng,
		&dropAddr, &dropLat, &dropLng,
		&d.Notes, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan delivery: %w", err)
	}
	d.Status = models.DeliveryStatus(status)
	d.PickupLocation = toLocation(pickupAddr, pickupLat, pickupLng)
	d.DeliveryLocation = toLocation(dropAddr, dropLat, dropLng)
	return &d, nil
}

func toLocation(addr *string, lat, lng *float64) *models.Location {
	if addr == nil && lat == nil && lng == nil {
		return nil
	}
	loc := &models.Location{Lat: lat, Lng: lng}
	if addr != nil {
		loc.Address = *addr
	}
	return loc
}

// locationArgs flattens an optional location into nullable column values.
func locationArgs(loc *models.Location) (*string, *float64, *float64) {
	if loc == nil {
		return nil, nil, nil
	}
	addr := loc.Address
	return &addr, loc.Lat, loc.Lng
}

// FindByID retrieves a single delivery by its ID.
func (r *Repository) FindByID(ctx context.Context, deliveryID string) (*models.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM deliveries WHERE id = $1`
	d, err := scanDelivery(r.db.QueryRow(ctx, query, deliveryID))
	if err != nil {
		return nil, fmt.Errorf("repository.FindByID: %w", err)
	}
	return d, nil
}

// ListByDeliverer retrieves the deliveries of a deliverer with pagination.
// An empty status lists every status.
func (r *Repository) ListByDeliverer(ctx context.Context, delivererID string, status models.DeliveryStatus, page, limit int) ([]*models.Delivery, int, error) {
	offset := (page - 1) * limit
	query := `SELECT ` + deliveryColumns + `
		FROM deliveries
		WHERE deliverer_id = $1 AND ($2::text = '' OR status = $2::text)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`

	rows, err := r.db.Query(ctx, query, delivererID, string(status), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("repository.ListByDeliverer.Query: %w", err)
	}
	defer rows.Close()

	var deliveries []*models.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("repository.ListByDeliverer.scanDelivery: %w", err)
		}
		deliveries = append(deliveries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("repository.ListByDeliverer.rows: %w", err)
	}

	var total int
	err = r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM deliveries WHERE deliverer_id = $1 AND ($2::text = '' OR status = $2::text)`,
		delivererID, string(status)).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("repository.ListByDeliverer.Count: %w", err)
	}
	return deliveries, total, nil
}

// CompleteDelivery marks the delivery DELIVERED, stores the proof, completes
// the payment, credits the deliverer and appends the VALIDATED log entry.
// The status change is conditional on status, owner and code so that two
// concurrent submissions cannot both succeed.
func (r *Repository) CompleteDelivery(ctx context.Context, c models.Completion) (*models.Delivery, float64, error) {
	var (
		delivered *models.Delivery
		amount    float64
	)
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		addr, lat, lng := locationArgs(c.Location)
		update := `
			UPDATE deliveries
			SET status = 'DELIVERED',
			    completed_at = $4,
			    delivery_address = COALESCE($5, delivery_address),
			    delivery_lat = COALESCE($6, delivery_lat),
			    delivery_lng = COALESCE($7, delivery_lng),
			    notes = COALESCE($8, notes),
			    updated_at = $4
			WHERE id = $1 AND deliverer_id = $2 AND status = 'IN_TRANSIT' AND validation_code = $3
			RETURNING ` + deliveryColumns
		d, err := scanDelivery(tx.QueryRow(ctx, update,
			c.DeliveryID, c.DelivererID, c.ValidationCode, c.CompletedAt, addr, lat, lng, c.Notes))
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return models.ErrStatusConflict
			}
			return err
		}
		delivered = d

		if len(c.ProofPhotos) > 0 {
			_, err = tx.Exec(ctx, `
				INSERT INTO proofs_of_delivery (id, delivery_id, photo_urls, address, lat, lng, validated_by, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				uuid.NewString(), c.DeliveryID, c.ProofPhotos, addr, lat, lng, c.DelivererID, c.CompletedAt)
			if err != nil {
				return fmt.Errorf("insert proof: %w", err)
			}
		}

		err = tx.QueryRow(ctx, `
			UPDATE payments
			SET status = 'COMPLETED', completed_at = $2
			WHERE delivery_id = $1
			RETURNING amount`, c.DeliveryID, c.CompletedAt).Scan(&amount)
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("complete payment: %w", err)
			}
			amount = 0
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO deliverers (id, total_deliveries, total_earnings)
			VALUES ($1, 1, $2)
			ON CONFLICT (id) DO UPDATE
			SET total_deliveries = deliverers.total_deliveries + 1,
			    total_earnings = deliverers.total_earnings + EXCLUDED.total_earnings`,
			c.DelivererID, amount)
		if err != nil {
			return fmt.Errorf("update deliverer stats: %w", err)
		}

		return insertLog(ctx, tx, &models.DeliveryLog{
			DeliveryID: c.DeliveryID,
			Action:     models.LogActionValidated,
			FromStatus: models.StatusInTransit,
			ToStatus:   models.StatusDelivered,
			ActorID:    c.DelivererID,
			Message:    "Delivery validated with code",
			Location:   c.Location,
			CreatedAt:  c.CompletedAt,
		})
	})
	if err != nil {
		return nil, 0, fmt.Errorf("repository.CompleteDelivery: %w", err)
	}
	return delivered, amount, nil
}

// UpdateStatus sets the new status and its timestamp column, then logs the
// transition. The pickup location is only recorded on PICKED_UP.
func (r *Repository) UpdateStatus(ctx context.Context, deliveryID, delivererID string, from, to models.DeliveryStatus, at time.Time, location *models.Location) (*models.Delivery, error) {
	var timestampColumn string
	switch to {
	case models.StatusPickedUp:
		timestampColumn = "picked_up_at"
	case models.StatusInTransit:
		timestampColumn = "in_transit_at"
	default:
		return nil, fmt.Errorf("repository.UpdateStatus: unsupported status %s", to)
	}

	var updated *models.Delivery
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var addr *string
		var lat, lng *float64
		if to == models.StatusPickedUp {
			addr, lat, lng = locationArgs(location)
		}
		update := `
			UPDATE deliveries
			SET status = $4, ` + timestampColumn + ` = $5,
			    pickup_address = COALESCE($6, pickup_address),
			    pickup_lat = COALESCE($7, pickup_lat),
			    pickup_lng = COALESCE($8, pickup_lng),
			    updated_at = $5
			WHERE id = $1 AND deliverer_id = $2 AND status = $3
			RETURNING ` + deliveryColumns
		d, err := scanDelivery(tx.QueryRow(ctx, update,
			deliveryID, delivererID, string(from), string(to), at, addr, lat, lng))
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return models.ErrStatusConflict
			}
			return err
		}
		updated = d

		return insertLog(ctx, tx, &models.DeliveryLog{
			DeliveryID: deliveryID,
			Action:     models.LogActionStatusChanged,
			FromStatus: from,
			ToStatus:   to,
			ActorID:    delivererID,
			Message:    fmt.Sprintf("Status updated: %s", to),
			Location:   location,
			CreatedAt:  at,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("repository.UpdateStatus: %w", err)
	}
	return updated, nil
}

// AppendLog writes a standalone audit entry, outside of any transaction.
func (r *Repository) AppendLog(ctx context.Context, entry *models.DeliveryLog) error {
	if err := insertLog(ctx, r.db, entry); err != nil {
		return fmt.Errorf("repository.AppendLog: %w", err)
	}
	return nil
}

func insertLog(ctx context.Context, db execer, entry *models.DeliveryLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	addr, lat, lng := locationArgs(entry.Location)
	_, err := db.Exec(ctx, `
		INSERT INTO delivery_logs (id, delivery_id, action, from_status, to_status, actor_id, message, address, lat, lng, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9, $10, $11)`,
		entry.ID, entry.DeliveryID, string(entry.Action), string(entry.FromStatus), string(entry.ToStatus),
		entry.ActorID, entry.Message, addr, lat, lng, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert delivery log: %w", err)
	}
	return nil
}

// AssignValidationCode stores the code unless one already exists.
func (r *Repository) AssignValidationCode(ctx context.Context, deliveryID, code string) (string, error) {
	const query = `
		UPDATE deliveries
		SET validation_code = COALESCE(validation_code, $2), updated_at = now()
		WHERE id = $1
		RETURNING validation_code`
	var stored string
	if err := r.db.QueryRow(ctx, query, deliveryID, code).Scan(&stored); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", models.ErrNotFound
		}
		return "", fmt.Errorf("repository.AssignValidationCode: %w", err)
	}
	return stored, nil
}

// CreateCoordinates inserts one GPS breadcrumb.
func (r *Repository) CreateCoordinates(ctx context.Context, c *models.DeliveryCoordinates) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	const query = `
		INSERT INTO delivery_coordinates (id, delivery_id, latitude, longitude)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`
	if err := r.db.QueryRow(ctx, query, c.ID, c.DeliveryID, c.Latitude, c.Longitude).Scan(&c.CreatedAt); err != nil {
		return fmt.Errorf("repository.CreateCoordinates: %w", err)
	}
	return nil
}

// ListCoordinates returns the breadcrumbs of a delivery after since, oldest first.
func (r *Repository) ListCoordinates(ctx context.Context, deliveryID string, since time.Time) ([]*models.DeliveryCoordinates, error) {
	const query = `
		SELECT id, delivery_id, latitude, longitude, created_at
		FROM delivery_coordinates
		WHERE delivery_id = $1 AND created_at > $2
		ORDER BY created_at`
	rows, err := r.db.Query(ctx, query, deliveryID, since)
	if err != nil {
		return nil, fmt.Errorf("repository.ListCoordinates: %w", err)
	}
	defer rows.Close()

	var out []*models.DeliveryCoordinates
	for rows.Next() {
		c := &models.DeliveryCoordinates{}
		if err := rows.Scan(&c.ID, &c.DeliveryID, &c.Latitude, &c.Longitude, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository.ListCoordinates.Scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository.ListCoordinates.rows: %w", err)
	}
	return out, nil
}

// CountByStatus counts deliveries created in [from, to] per status.
func (r *Repository) CountByStatus(ctx context.Context, from, to time.Time) (map[models.DeliveryStatus]int, error) {
	const query = `
		SELECT status, COUNT(*)
		FROM deliveries
		WHERE created_at BETWEEN $1 AND $2
		GROUP BY status`
	rows, err := r.db.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("repository.CountByStatus: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.DeliveryStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("repository.CountByStatus.Scan: %w", err)
		}
		counts[models.DeliveryStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository.CountByStatus.rows: %w", err)
	}
	return counts, nil
}

// FindParties loads the client email and the deliverer payout account.
func (r *Repository) FindParties(ctx context.Context, deliveryID string) (*models.DeliveryParties, error) {
	const query = `
		SELECT COALESCE(c.email, ''), COALESCE(dr.payout_account, '')
		FROM deliveries d
		LEFT JOIN clients c ON c.id = d.client_id
		LEFT JOIN deliverers dr ON dr.id = d.deliverer_id
		WHERE d.id = $1`
	var p models.DeliveryParties
	if err := r.db.QueryRow(ctx, query, deliveryID).Scan(&p.ClientEmail, &p.PayoutAccount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("repository.FindParties: %w", err)
	}
	return &p, nil
}

// FindLogs returns every audit entry of a delivery, newest first.
func (r *Repository) FindLogs(ctx context.Context, deliveryID string) ([]*models.DeliveryLog, error) {
	const query = `
		SELECT id, delivery_id, action, COALESCE(from_status, ''), COALESCE(to_status, ''),
		       actor_id, message, address, lat, lng, created_at
		FROM delivery_logs
		WHERE delivery_id = $1
		ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("repository.FindLogs: %w", err)
	}
	defer rows.Close()

	logs := []*models.DeliveryLog{}
	for rows.Next() {
		var l models.DeliveryLog
		var action, from, to string
		var addr *string
		var lat, lng *float64
		if err := rows.Scan(&l.ID, &l.DeliveryID, &action, &from, &to,
			&l.ActorID, &l.Message, &addr, &lat, &lng, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository.FindLogs.Scan: %w", err)
		}
		l.Action = models.LogAction(action)
		l.FromStatus = models.DeliveryStatus(from)
		l.ToStatus = models.DeliveryStatus(to)
		l.Location = toLocation(addr, lat, lng)
		logs = append(logs, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository.FindLogs.rows: %w", err)
	}
	return logs, nil
}

// FindProof retrieves the proof of delivery, if one was recorded.
func (r *Repository) FindProof(ctx context.Context, deliveryID string) (*models.ProofOfDelivery, error) {
	const query = `
		SELECT id, delivery_id, photo_urls, address, lat, lng, validated_by, created_at
		FROM proofs_of_delivery
		WHERE delivery_id = $1`
	var p models.ProofOfDelivery
	var addr *string
	var lat, lng *float64
	err := r.db.QueryRow(ctx, query, deliveryID).Scan(
		&p.ID, &p.DeliveryID, &p.PhotoURLs, &addr, &lat, &lng, &p.ValidatedBy, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("repository.FindProof: %w", err)
	}
	p.Location = toLocation(addr, lat, lng)
	return &p, nil
}

// LatestCoordinates returns the most recent breadcrumbs, newest first.
func (r *Repository) LatestCoordinates(ctx context.Context, deliveryID string, limit int) ([]*models.DeliveryCoordinates, error) {
	const query = `
		SELECT id, delivery_id, latitude, longitude, created_at
		FROM delivery_coordinates
		WHERE delivery_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	rows, err := r.db.Query(ctx, query, deliveryID, limit)
	if err != nil {
		return nil, fmt.Errorf("repository.LatestCoordinates: %w", err)
	}
	defer rows.Close()

	out := []*models.DeliveryCoordinates{}
	for rows.Next() {
		c := &models.DeliveryCoordinates{}
		if err := rows.Scan(&c.ID, &c.DeliveryID, &c.Latitude, &c.Longitude, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository.LatestCoordinates.Scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository.LatestCoordinates.rows: %w", err)
	}
	return out, nil
}

// FindRatings lists the ratings left on a delivery.
func (r *Repository) FindRatings(ctx context.Context, deliveryID string) ([]*models.DeliveryRating, error) {
	const query = `
		SELECT id, delivery_id, rated_by_id, target_id, rating, comment, created_at
		FROM delivery_ratings
		WHERE delivery_id = $1
		ORDER BY created_at`
	rows, err := r.db.Query(ctx, query, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("repository.FindRatings: %w", err)
	}
	defer rows.Close()

	out := []*models.DeliveryRating{}
	for rows.Next() {
		var rt models.DeliveryRating
		if err := rows.Scan(&rt.ID, &rt.DeliveryID, &rt.RatedByID, &rt.TargetID, &rt.Rating, &rt.Comment, &rt.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository.FindRatings.Scan: %w", err)
		}
		out = append(out, &rt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository.FindRatings.rows: %w", err)
	}
	return out, nil
}

// CreateRating inserts a rating. The (delivery_id, rated_by_id) unique key
// turns a second rating by the same user into models.ErrAlreadyRated.
func (r *Repository) CreateRating(ctx context.Context, rating *models.DeliveryRating) error {
	if rating.ID == "" {
		rating.ID = uuid.NewString()
	}
	const query = `
		INSERT INTO delivery_ratings (id, delivery_id, rated_by_id, target_id, rating, comment)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`
	err := r.db.QueryRow(ctx, query, rating.ID, rating.DeliveryID, rating.RatedByID,
		rating.TargetID, rating.Rating, rating.Comment).Scan(&rating.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return models.ErrAlreadyRated
		}
		return fmt.Errorf("repository.CreateRating: %w", err)
	}
	return nil
}
