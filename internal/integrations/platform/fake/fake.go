package fake

import (
	"context"
	"sync"
	"time"

	"github.com/BearBump/ShipSync/internal/integrations/platform"
	"github.com/BearBump/ShipSync/internal/models"
)

type PushedEvent struct {
	ShopDomain            string
	FulfillmentExternalID string
	Status                string
	HappenedAt            time.Time
}

// FakeClient — заглушка платформы: запоминает отправленные события,
// ошибку пуша можно включить на время теста.
type FakeClient struct {
	mu sync.Mutex

	PushErr error
	Events  []PushedEvent

	Webhooks []platform.WebhookSubscription
	nextID   int
}

func New() *FakeClient { return &FakeClient{} }

func (f *FakeClient) CreateFulfillmentEvent(ctx context.Context, shop *models.Shop, fulfillmentExternalID, status string, happenedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PushErr != nil {
		return f.PushErr
	}
	f.Events = append(f.Events, PushedEvent{
		ShopDomain:            shop.Domain,
		FulfillmentExternalID: fulfillmentExternalID,
		Status:                status,
		HappenedAt:            happenedAt,
	})
	return nil
}

func (f *FakeClient) ListWebhooks(ctx context.Context, shop *models.Shop) ([]platform.WebhookSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]platform.WebhookSubscription{}, f.Webhooks...), nil
}

func (f *FakeClient) CreateWebhook(ctx context.Context, shop *models.Shop, topic, callbackURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := "gid://platform/WebhookSubscription/" + string(rune('0'+f.nextID))
	f.Webhooks = append(f.Webhooks, platform.WebhookSubscription{ID: id, Topic: topic, CallbackURL: callbackURL})
	return id, nil
}

func (f *FakeClient) DeleteWebhook(ctx context.Context, shop *models.Shop, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.Webhooks[:0]
	for _, w := range f.Webhooks {
		if w.ID != id {
			out = append(out, w)
		}
	}
	f.Webhooks = out
	return nil
}

// LastEvent — удобство для тестов.
func (f *FakeClient) LastEvent() *PushedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Events) == 0 {
		return nil
	}
	e := f.Events[len(f.Events)-1]
	return &e
}
