package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ecodeli-delivery/internal/models"
)

// ----------------------------------------------------------------------------
// fakeRepo mirrors the Postgres repository in memory, including the
// conditional updates, and records every write for assertions.
// ----------------------------------------------------------------------------
type fakeRepo struct {
	mu          sync.Mutex
	deliveries  map[string]*models.Delivery
	payments    map[string]*models.Payment
	stats       map[string]*models.DelivererStats
	proofs      []*models.ProofOfDelivery
	logs        []*models.DeliveryLog
	coordinates []*models.DeliveryCoordinates
	parties     map[string]*models.DeliveryParties
	ratings     []*models.DeliveryRating

	// lastPage and lastLimit record the paging of the latest ListByDeliverer call.
	lastPage, lastLimit int

	// failWith makes every method return this error when set.
	failWith error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		deliveries: make(map[string]*models.Delivery),
		payments:   make(map[string]*models.Payment),
		stats:      make(map[string]*models.DelivererStats),
		parties:    make(map[string]*models.DeliveryParties),
	}
}

func strPtr(s string) *string { return &s }

func (f *fakeRepo) addDelivery(d *models.Delivery) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries[d.ID] = d
}

func (f *fakeRepo) logsFor(deliveryID string, action models.LogAction) []*models.DeliveryLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.DeliveryLog
	for _, l := range f.logs {
		if l.DeliveryID == deliveryID && l.Action == action {
			out = append(out, l)
		}
	}
	return out
}

func (f *fakeRepo) FindByID(ctx context.Context, deliveryID string) (*models.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	d, ok := f.deliveries[deliveryID]
	if !ok {
		return nil, fmt.Errorf("fake.FindByID: %w", models.ErrNotFound)
	}
	cp := *d
	return &cp, nil
}

func (f *fakeRepo) ListByDeliverer(ctx context.Context, delivererID string, status models.DeliveryStatus, page, limit int) ([]*models.Delivery, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastPage, f.lastLimit = page, limit
	var out []*models.Delivery
	for _, d := range f.deliveries {
		if d.DelivererID == delivererID && (status == "" || d.Status == status) {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

func (f *fakeRepo) CompleteDelivery(ctx context.Context, c models.Completion) (*models.Delivery, float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, 0, f.failWith
	}
	d, ok := f.deliveries[c.DeliveryID]
	if !ok || d.DelivererID != c.DelivererID || d.Status != models.StatusInTransit ||
		d.ValidationCode == nil || *d.ValidationCode != c.ValidationCode {
		return nil, 0, fmt.Errorf("fake.CompleteDelivery: %w", models.ErrStatusConflict)
	}

	d.Status = models.StatusDelivered
	at := c.CompletedAt
	d.CompletedAt = &at
	if c.Location != nil {
		d.DeliveryLocation = c.Location
	}
	if c.Notes != nil {
		d.Notes = c.Notes
	}

	if len(c.ProofPhotos) > 0 {
		f.proofs = append(f.proofs, &models.ProofOfDelivery{
			ID:          fmt.Sprintf("proof-%d", len(f.proofs)+1),
			DeliveryID:  c.DeliveryID,
			PhotoURLs:   c.ProofPhotos,
			Location:    c.Location,
			ValidatedBy: c.DelivererID,
			CreatedAt:   at,
		})
	}

	var amount float64
	if p, ok := f.payments[c.DeliveryID]; ok {
		p.Status = models.PaymentCompleted
		p.CompletedAt = &at
		amount = p.Amount
	}

	st, ok := f.stats[c.DelivererID]
	if !ok {
		st = &models.DelivererStats{DelivererID: c.DelivererID}
		f.stats[c.DelivererID] = st
	}
	st.TotalDeliveries++
	st.TotalEarnings += amount

	f.logs = append(f.logs, &models.DeliveryLog{
		ID:         fmt.Sprintf("log-%d", len(f.logs)+1),
		DeliveryID: c.DeliveryID,
		Action:     models.LogActionValidated,
		FromStatus: models.StatusInTransit,
		ToStatus:   models.StatusDelivered,
		ActorID:    c.DelivererID,
		CreatedAt:  at,
	})

	cp := *d
	return &cp, amount, nil
}

func (f *fakeRepo) UpdateStatus(ctx context.Context, deliveryID, delivererID string, from, to models.DeliveryStatus, at time.Time, location *models.Location) (*models.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deliveries[deliveryID]
	if !ok || d.DelivererID != delivererID || d.Status != from {
		return nil, fmt.Errorf("fake.UpdateStatus: %w", models.ErrStatusConflict)
	}
	d.Status = to
	switch to {
	case models.StatusPickedUp:
		d.PickedUpAt = &at
		if location != nil {
			d.PickupLocation = location
		}
	case models.StatusInTransit:
		d.InTransitAt = &at
	default:
		return nil, errors.New("fake.UpdateStatus: unsupported status")
	}
	f.logs = append(f.logs, &models.DeliveryLog{
		ID:         fmt.Sprintf("log-%d", len(f.logs)+1),
		DeliveryID: deliveryID,
		Action:     models.LogActionStatusChanged,
		FromStatus: from,
		ToStatus:   to,
		ActorID:    delivererID,
		Location:   location,
		CreatedAt:  at,
	})
	cp := *d
	return &cp, nil
}

func (f *fakeRepo) AppendLog(ctx context.Context, entry *models.DeliveryLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.ID = fmt.Sprintf("log-%d", len(f.logs)+1)
	f.logs = append(f.logs, entry)
	return nil
}

func (f *fakeRepo) AssignValidationCode(ctx context.Context, deliveryID, code string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deliveries[deliveryID]
	if !ok {
		return "", models.ErrNotFound
	}
	if !d.HasValidationCode() {
		d.ValidationCode = &code
	}
	return *d.ValidationCode, nil
}

func (f *fakeRepo) CreateCoordinates(ctx context.Context, c *models.DeliveryCoordinates) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.ID = fmt.Sprintf("coord-%d", len(f.coordinates)+1)
	c.CreatedAt = time.Now()
	f.coordinates = append(f.coordinates, c)
	return nil
}

func (f *fakeRepo) ListCoordinates(ctx context.Context, deliveryID string, since time.Time) ([]*models.DeliveryCoordinates, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*models.DeliveryCoordinates{}
	for _, c := range f.coordinates {
		if c.DeliveryID == deliveryID && c.CreatedAt.After(since) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeRepo) CountByStatus(ctx context.Context, from, to time.Time) (map[models.DeliveryStatus]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[models.DeliveryStatus]int)
	for _, d := range f.deliveries {
		if !d.CreatedAt.Before(from) && !d.CreatedAt.After(to) {
			counts[d.Status]++
		}
	}
	return counts, nil
}

func (f *fakeRepo) FindParties(ctx context.Context, deliveryID string) (*models.DeliveryParties, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.parties[deliveryID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeRepo) FindLogs(ctx context.Context, deliveryID string) ([]*models.DeliveryLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*models.DeliveryLog{}
	for i := len(f.logs) - 1; i >= 0; i-- {
		if f.logs[i].DeliveryID == deliveryID {
			cp := *f.logs[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeRepo) FindProof(ctx context.Context, deliveryID string) (*models.ProofOfDelivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.proofs {
		if p.DeliveryID == deliveryID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeRepo) LatestCoordinates(ctx context.Context, deliveryID string, limit int) ([]*models.DeliveryCoordinates, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*models.DeliveryCoordinates{}
	for i := len(f.coordinates) - 1; i >= 0 && len(out) < limit; i-- {
		if f.coordinates[i].DeliveryID == deliveryID {
			cp := *f.coordinates[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeRepo) FindRatings(ctx context.Context, deliveryID string) ([]*models.DeliveryRating, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*models.DeliveryRating{}
	for _, r := range f.ratings {
		if r.DeliveryID == deliveryID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeRepo) CreateRating(ctx context.Context, rating *models.DeliveryRating) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.ratings {
		if r.DeliveryID == rating.DeliveryID && r.RatedByID == rating.RatedByID {
			return models.ErrAlreadyRated
		}
	}
	rating.ID = fmt.Sprintf("rating-%d", len(f.ratings)+1)
	rating.CreatedAt = time.Now()
	cp := *rating
	f.ratings = append(f.ratings, &cp)
	return nil
}
