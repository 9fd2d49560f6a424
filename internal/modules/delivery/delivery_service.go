package delivery

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"ecodeli-delivery/internal/metrics"
	"ecodeli-delivery/internal/models"

	"go.uber.org/zap"
)

// DefaultValidationWindow is how long after the scheduled time a code stays usable.
const DefaultValidationWindow = 24 * time.Hour

const defaultStatsRange = 30 * 24 * time.Hour

// detailCoordinates caps the breadcrumbs returned with a delivery's details.
const detailCoordinates = 20

// ServiceInterface defines the contract for the delivery service.
type ServiceInterface interface {
	ValidateDelivery(ctx context.Context, delivererID string, req models.ValidateDeliveryRequest) models.ValidationResult
	IsValidationCodeValid(ctx context.Context, deliveryID string) (bool, error)
	CheckValidationCode(ctx context.Context, deliveryID string, caller models.Identity) (bool, error)
	UpdateDeliveryStatus(ctx context.Context, deliveryID, delivererID string, status models.DeliveryStatus, location *models.Location) (*models.Delivery, error)
	GetValidationCode(ctx context.Context, deliveryID, clientID string) (string, error)
	RecordCoordinates(ctx context.Context, deliveryID, delivererID string, req models.CoordinatesRequest) (*models.DeliveryCoordinates, error)
	ListCoordinates(ctx context.Context, deliveryID string, caller models.Identity, since time.Time) ([]*models.DeliveryCoordinates, error)
	ListDelivererDeliveries(ctx context.Context, delivererID string, status models.DeliveryStatus, page, limit int) ([]*models.Delivery, int, error)
	GetStats(ctx context.Context, from, to time.Time) (*models.DeliveryStats, error)
	ResolveParties(ctx context.Context, deliveryID string) (*models.DeliveryParties, error)
	GetDelivery(ctx context.Context, deliveryID string, caller models.Identity) (*models.DeliveryDetails, error)
	RateDelivery(ctx context.Context, deliveryID string, caller models.Identity, req models.RateDeliveryRequest) (*models.DeliveryRating, error)
}

// Service implements the delivery lifecycle and code validation logic.
type Service struct {
	repo   RepositoryInterface
	log    *zap.Logger
	window time.Duration
	now    func() time.Time
}

// NewService creates a new delivery service. A non-positive window falls
// back to DefaultValidationWindow.
func NewService(repo RepositoryInterface, log *zap.Logger, window time.Duration) *Service {
	if window <= 0 {
		window = DefaultValidationWindow
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:   repo,
		log:    log,
		window: window,
		now:    time.Now,
	}
}

func reject(kind models.FailureKind, msg string) models.ValidationResult {
	metrics.ValidationAttemptsTotal.WithLabelValues(string(kind)).Inc()
	return models.ValidationResult{Success: false, Message: msg, Failure: kind}
}

func (s *Service) internalFailure(op, deliveryID string, err error) models.ValidationResult {
	s.log.Error("delivery validation failed",
		zap.String("op", op),
		zap.String("delivery_id", deliveryID),
		zap.Error(err))
	return reject(models.FailureInternal, "Internal error while validating delivery")
}

// ValidateDelivery checks a deliverer-submitted code and, on match, completes
// the delivery. Guards run in order: existence, assignment, status, code.
// A wrong code is recorded as VALIDATION_FAILED before returning.
func (s *Service) ValidateDelivery(ctx context.Context, delivererID string, req models.ValidateDeliveryRequest) models.ValidationResult {
	d, err := s.repo.FindByID(ctx, req.DeliveryID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return reject(models.FailureNotFound, "Delivery not found")
		}
		return s.internalFailure("find", req.DeliveryID, err)
	}

	if d.DelivererID != delivererID {
		return reject(models.FailureUnauthorized, "Delivery is not assigned to you")
	}

	if d.Status != models.StatusInTransit {
		return reject(models.FailureInvalidState,
			fmt.Sprintf("Delivery cannot be validated in status %s", d.Status))
	}

	if !codesEqual(d.ValidationCode, req.ValidationCode) {
		err := s.repo.AppendLog(ctx, &models.DeliveryLog{
			DeliveryID: d.ID,
			Action:     models.LogActionValidationFailed,
			FromStatus: d.Status,
			ActorID:    delivererID,
			Message:    "Incorrect validation code submitted",
			Location:   req.Location,
			CreatedAt:  s.now(),
		})
		if err != nil {
			return s.internalFailure("log_failed_attempt", d.ID, err)
		}
		return reject(models.FailureInvalidCode, "Validation code is incorrect")
	}

	delivered, amount, err := s.repo.CompleteDelivery(ctx, models.Completion{
		DeliveryID:     d.ID,
		DelivererID:    delivererID,
		ValidationCode: req.ValidationCode,
		Location:       req.Location,
		ProofPhotos:    req.ProofPhotos,
		Notes:          req.Notes,
		CompletedAt:    s.now(),
	})
	if err != nil {
		if errors.Is(err, models.ErrStatusConflict) {
			return reject(models.FailureInvalidState, "Delivery status changed before validation completed")
		}
		return s.internalFailure("complete", d.ID, err)
	}

	metrics.ValidationAttemptsTotal.WithLabelValues("success").Inc()
	metrics.StatusTransitionsTotal.WithLabelValues(string(models.StatusDelivered)).Inc()
	s.log.Info("delivery validated",
		zap.String("delivery_id", d.ID),
		zap.String("deliverer_id", delivererID),
		zap.Float64("earnings", amount))

	return models.ValidationResult{Success: true, Delivery: delivered, Earnings: &amount}
}

// codesEqual is exact string equality; no trimming or case folding.
func codesEqual(stored *string, submitted string) bool {
	if stored == nil || *stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(*stored), []byte(submitted)) == 1
}

// IsValidationCodeValid is an advisory pre-check. ValidateDelivery enforces
// the real guards regardless of its answer.
func (s *Service) IsValidationCodeValid(ctx context.Context, deliveryID string) (bool, error) {
	d, err := s.repo.FindByID(ctx, deliveryID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("service.IsValidationCodeValid: %w", err)
	}
	return s.codeUsable(d), nil
}

// CheckValidationCode is IsValidationCodeValid restricted to the delivery's
// participants and admins.
func (s *Service) CheckValidationCode(ctx context.Context, deliveryID string, caller models.Identity) (bool, error) {
	d, err := s.repo.FindByID(ctx, deliveryID)
	if err != nil {
		return false, fmt.Errorf("service.CheckValidationCode: %w", err)
	}
	if !canAccess(d, caller) {
		return false, models.ErrForbidden
	}
	return s.codeUsable(d), nil
}

func (s *Service) codeUsable(d *models.Delivery) bool {
	if !d.HasValidationCode() || d.Status != models.StatusInTransit {
		return false
	}
	if d.ScheduledAt != nil && s.now().After(d.ScheduledAt.Add(s.window)) {
		return false
	}
	return true
}

func canAccess(d *models.Delivery, caller models.Identity) bool {
	return caller.Role == models.RoleAdmin || caller.UserID == d.ClientID || caller.UserID == d.DelivererID
}

// UpdateDeliveryStatus moves the caller's delivery to PICKED_UP or IN_TRANSIT.
func (s *Service) UpdateDeliveryStatus(ctx context.Context, deliveryID, delivererID string, status models.DeliveryStatus, location *models.Location) (*models.Delivery, error) {
	if status != models.StatusPickedUp && status != models.StatusInTransit {
		return nil, fmt.Errorf("service.UpdateDeliveryStatus: %s: %w", status, models.ErrInvalidState)
	}

	d, err := s.repo.FindByID(ctx, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("service.UpdateDeliveryStatus: %w", err)
	}
	if d.DelivererID != delivererID {
		return nil, models.ErrForbidden
	}
	// A finished delivery never re-enters IN_TRANSIT, so its code stays spent.
	if d.Status.Terminal() {
		return nil, models.ErrInvalidState
	}

	updated, err := s.repo.UpdateStatus(ctx, deliveryID, delivererID, d.Status, status, s.now(), location)
	if err != nil {
		return nil, fmt.Errorf("service.UpdateDeliveryStatus: %w", err)
	}
	metrics.StatusTransitionsTotal.WithLabelValues(string(status)).Inc()
	return updated, nil
}

// GetValidationCode returns the code the client shows at handoff, issuing it
// on first request. Codes are never rotated.
func (s *Service) GetValidationCode(ctx context.Context, deliveryID, clientID string) (string, error) {
	d, err := s.repo.FindByID(ctx, deliveryID)
	if err != nil {
		return "", fmt.Errorf("service.GetValidationCode: %w", err)
	}
	if d.ClientID != clientID {
		return "", models.ErrForbidden
	}
	if d.Status.Terminal() {
		return "", models.ErrInvalidState
	}
	if d.HasValidationCode() {
		return *d.ValidationCode, nil
	}

	code, err := s.repo.AssignValidationCode(ctx, deliveryID, GenerateValidationCode())
	if err != nil {
		return "", fmt.Errorf("service.GetValidationCode: %w", err)
	}
	return code, nil
}

// RecordCoordinates stores a GPS breadcrumb from the assigned deliverer.
func (s *Service) RecordCoordinates(ctx context.Context, deliveryID, delivererID string, req models.CoordinatesRequest) (*models.DeliveryCoordinates, error) {
	d, err := s.repo.FindByID(ctx, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("service.RecordCoordinates: %w", err)
	}
	if d.DelivererID != delivererID {
		return nil, models.ErrForbidden
	}
	if d.Status.Terminal() {
		return nil, models.ErrInvalidState
	}

	c := &models.DeliveryCoordinates{
		DeliveryID: deliveryID,
		Latitude:   req.Latitude,
		Longitude:  req.Longitude,
	}
	if err := s.repo.CreateCoordinates(ctx, c); err != nil {
		return nil, fmt.Errorf("service.RecordCoordinates: %w", err)
	}
	return c, nil
}

// ListCoordinates is open to the delivery's client, its deliverer and admins.
func (s *Service) ListCoordinates(ctx context.Context, deliveryID string, caller models.Identity, since time.Time) ([]*models.DeliveryCoordinates, error) {
	d, err := s.repo.FindByID(ctx, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("service.ListCoordinates: %w", err)
	}
	if !canAccess(d, caller) {
		return nil, models.ErrForbidden
	}
	return s.repo.ListCoordinates(ctx, deliveryID, since)
}

// ListDelivererDeliveries retrieves a deliverer's deliveries, optionally by status.
func (s *Service) ListDelivererDeliveries(ctx context.Context, delivererID string, status models.DeliveryStatus, page, limit int) ([]*models.Delivery, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	deliveries, total, err := s.repo.ListByDeliverer(ctx, delivererID, status, page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("service.ListDelivererDeliveries: %w", err)
	}
	return deliveries, total, nil
}

// GetStats summarises deliveries created in [from, to]. Zero bounds default
// to the last 30 days.
func (s *Service) GetStats(ctx context.Context, from, to time.Time) (*models.DeliveryStats, error) {
	if to.IsZero() {
		to = s.now()
	}
	if from.IsZero() {
		from = to.Add(-defaultStatsRange)
	}
	if from.After(to) {
		return nil, fmt.Errorf("service.GetStats: from after to: %w", models.ErrInvalidState)
	}

	counts, err := s.repo.CountByStatus(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("service.GetStats: %w", err)
	}

	stats := &models.DeliveryStats{
		PendingDeliveries:    counts[models.StatusPending],
		InProgressDeliveries: counts[models.StatusPickedUp] + counts[models.StatusInTransit],
		CompletedDeliveries:  counts[models.StatusDelivered],
		CancelledDeliveries:  counts[models.StatusCancelled],
		From:                 from,
		To:                   to,
	}
	for _, n := range counts {
		stats.TotalDeliveries += n
	}
	if stats.TotalDeliveries > 0 {
		stats.CompletionRate = float64(stats.CompletedDeliveries) / float64(stats.TotalDeliveries) * 100
	}
	return stats, nil
}

// ResolveParties returns who the notification collaborators should reach.
func (s *Service) ResolveParties(ctx context.Context, deliveryID string) (*models.DeliveryParties, error) {
	p, err := s.repo.FindParties(ctx, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("service.ResolveParties: %w", err)
	}
	return p, nil
}

// GetDelivery returns the delivery with its logs, proof, latest breadcrumbs
// and ratings.
func (s *Service) GetDelivery(ctx context.Context, deliveryID string, caller models.Identity) (*models.DeliveryDetails, error) {
	d, err := s.repo.FindByID(ctx, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("service.GetDelivery: %w", err)
	}
	if !canAccess(d, caller) {
		return nil, models.ErrForbidden
	}

	details := &models.DeliveryDetails{Delivery: d}
	if details.Logs, err = s.repo.FindLogs(ctx, deliveryID); err != nil {
		return nil, fmt.Errorf("service.GetDelivery.logs: %w", err)
	}
	proof, err := s.repo.FindProof(ctx, deliveryID)
	switch {
	case err == nil:
		details.Proof = proof
	case !errors.Is(err, models.ErrNotFound):
		return nil, fmt.Errorf("service.GetDelivery.proof: %w", err)
	}
	if details.Coordinates, err = s.repo.LatestCoordinates(ctx, deliveryID, detailCoordinates); err != nil {
		return nil, fmt.Errorf("service.GetDelivery.coordinates: %w", err)
	}
	if details.Ratings, err = s.repo.FindRatings(ctx, deliveryID); err != nil {
		return nil, fmt.Errorf("service.GetDelivery.ratings: %w", err)
	}
	return details, nil
}

// RateDelivery lets the client rate the deliverer and the deliverer rate the
// client, once each, after the delivery is DELIVERED.
func (s *Service) RateDelivery(ctx context.Context, deliveryID string, caller models.Identity, req models.RateDeliveryRequest) (*models.DeliveryRating, error) {
	d, err := s.repo.FindByID(ctx, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("service.RateDelivery: %w", err)
	}

	var target string
	switch caller.UserID {
	case d.ClientID:
		target = d.DelivererID
	case d.DelivererID:
		target = d.ClientID
	default:
		return nil, models.ErrForbidden
	}
	if d.Status != models.StatusDelivered {
		return nil, models.ErrInvalidState
	}

	rating := &models.DeliveryRating{
		DeliveryID: deliveryID,
		RatedByID:  caller.UserID,
		TargetID:   target,
		Rating:     req.Rating,
		Comment:    req.Comment,
	}
	if err := s.repo.CreateRating(ctx, rating); err != nil {
		return nil, fmt.Errorf("service.RateDelivery: %w", err)
	}
	return rating, nil
}
