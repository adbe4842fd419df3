package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BearBump/ShipSync/internal/apperr"
	"github.com/BearBump/ShipSync/internal/models"
)

// memRepo — in-memory реализация хранилища с той же семантикой, что у
// pgstore: идемпотентные вставки, only-if-changed апдейт статуса трекинга,
// delivered_at ставится один раз.
type memRepo struct {
	mu sync.Mutex

	shops        map[uint64]*models.Shop
	orders       map[string]*models.Order // shopID/externalID
	trackings    map[string]*models.Tracking
	fulfillments map[uint64]*models.Fulfillment

	nextOrderID       uint64
	nextTrackingID    uint64
	nextFulfillmentID uint64
}

func newMemRepo() *memRepo {
	return &memRepo{
		shops:        map[uint64]*models.Shop{},
		orders:       map[string]*models.Order{},
		trackings:    map[string]*models.Tracking{},
		fulfillments: map[uint64]*models.Fulfillment{},
	}
}

func orderKey(shopID uint64, externalID string) string {
	return fmt.Sprintf("%d/%s", shopID, externalID)
}

func (m *memRepo) addShop(sh *models.Shop) {
	m.shops[sh.ID] = sh
}

func (m *memRepo) GetShopByID(ctx context.Context, id uint64) (*models.Shop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sh, ok := m.shops[id]
	if !ok {
		return nil, apperr.NotFound("shop")
	}
	return sh, nil
}

func (m *memRepo) GetShopByDomain(ctx context.Context, domain string) (*models.Shop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sh := range m.shops {
		if sh.Domain == domain {
			return sh, nil
		}
	}
	return nil, apperr.NotFound("shop " + domain)
}

func (m *memRepo) SetShopWebhooksRegistered(ctx context.Context, shopID uint64, registered bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sh, ok := m.shops[shopID]; ok {
		sh.WebhooksRegistered = registered
	}
	return nil
}

func (m *memRepo) UpsertOrder(ctx context.Context, shopID uint64, externalID, name string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := orderKey(shopID, externalID)
	if o, ok := m.orders[key]; ok {
		if name != "" {
			o.Name = name
		}
		cp := *o
		return &cp, nil
	}
	m.nextOrderID++
	o := &models.Order{ID: m.nextOrderID, ShopID: shopID, ExternalID: externalID, Name: name}
	m.orders[key] = o
	cp := *o
	return &cp, nil
}

func (m *memRepo) GetOrderByExternalID(ctx context.Context, shopID uint64, externalID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderKey(shopID, externalID)]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (m *memRepo) GetTrackingByNumber(ctx context.Context, number string) (*models.Tracking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trackings[number]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (m *memRepo) CreateTracking(ctx context.Context, number, processStatus string) (*models.Tracking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.trackings[number]; ok {
		cp := *t
		return &cp, nil
	}
	m.nextTrackingID++
	t := &models.Tracking{ID: m.nextTrackingID, Number: number, ProcessStatus: processStatus, UpdatedAt: time.Now().UTC()}
	m.trackings[number] = t
	cp := *t
	return &cp, nil
}

func (m *memRepo) SetTrackingProcessStatus(ctx context.Context, number, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.trackings[number]; ok {
		t.ProcessStatus = status
		t.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (m *memRepo) ApplyTrackingStatus(ctx context.Context, number, mainStatus, subStatus string, eventAt *time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trackings[number]
	if !ok {
		return false, nil
	}
	if t.LastStatus == mainStatus && t.LastSubStatus == subStatus {
		return false, nil
	}
	t.LastStatus = mainStatus
	t.LastSubStatus = subStatus
	t.LastEventAt = eventAt
	t.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *memRepo) ListRunningTrackingsByOrder(ctx context.Context, orderID uint64) ([]*models.Tracking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[uint64]bool{}
	var out []*models.Tracking
	for _, f := range m.fulfillments {
		if f.OrderID != orderID || f.TrackingID == nil {
			continue
		}
		for _, t := range m.trackings {
			if t.ID == *f.TrackingID && t.ProcessStatus == models.ProcessStatusRunning && !seen[t.ID] {
				seen[t.ID] = true
				cp := *t
				out = append(out, &cp)
			}
		}
	}
	return out, nil
}

func (m *memRepo) CreateFulfillment(ctx context.Context, in models.FulfillmentCreateInput) (*models.Fulfillment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.fulfillments {
		if f.ShopID == in.ShopID && f.ExternalID == in.ExternalID {
			cp := *f
			return &cp, false, nil
		}
	}
	m.nextFulfillmentID++
	f := &models.Fulfillment{
		ID:             m.nextFulfillmentID,
		ShopID:         in.ShopID,
		ExternalID:     in.ExternalID,
		OrderID:        in.OrderID,
		TrackingNumber: in.TrackingNumber,
		TrackingID:     in.TrackingID,
		StatusCurrent:  in.StatusCurrent,
	}
	if in.StatusCurrent != nil {
		now := time.Now().UTC()
		f.StatusCurrentUpdatedAt = &now
	}
	m.fulfillments[f.ID] = f
	cp := *f
	return &cp, true, nil
}

func (m *memRepo) GetFulfillmentByID(ctx context.Context, id uint64) (*models.Fulfillment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.fulfillments[id]
	if !ok {
		return nil, apperr.NotFound("fulfillment")
	}
	cp := *f
	return &cp, nil
}

func (m *memRepo) GetFulfillmentByExternalID(ctx context.Context, shopID uint64, externalID string) (*models.Fulfillment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.fulfillments {
		if f.ShopID == shopID && f.ExternalID == externalID {
			cp := *f
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("fulfillment " + externalID)
}

func (m *memRepo) FindFulfillmentByOrderAndNumber(ctx context.Context, orderID uint64, trackingID *uint64, number string) (*models.Fulfillment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.fulfillments {
		if f.OrderID != orderID {
			continue
		}
		if trackingID != nil {
			if f.TrackingID != nil && *f.TrackingID == *trackingID {
				cp := *f
				return &cp, nil
			}
			continue
		}
		if f.TrackingNumber == number {
			cp := *f
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memRepo) ListFulfillmentsByTrackingID(ctx context.Context, trackingID uint64) ([]*models.Fulfillment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Fulfillment
	for _, f := range m.fulfillments {
		if f.TrackingID != nil && *f.TrackingID == trackingID {
			cp := *f
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memRepo) UpdateFulfillmentTracking(ctx context.Context, id uint64, number string, trackingID *uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.fulfillments[id]; ok {
		f.TrackingNumber = number
		f.TrackingID = trackingID
	}
	return nil
}

func (m *memRepo) CommitFulfillmentStatus(ctx context.Context, id uint64, status string, updatedAt time.Time, delivered bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.fulfillments[id]
	if !ok {
		return apperr.NotFound("fulfillment")
	}
	st := status
	at := updatedAt.UTC()
	f.StatusCurrent = &st
	f.StatusCurrentUpdatedAt = &at
	if delivered && f.DeliveredAt == nil {
		f.DeliveredAt = &at
	}
	return nil
}
