package platform

import (
	"context"
	"time"

	"github.com/BearBump/ShipSync/internal/models"
)

type WebhookSubscription struct {
	ID          string
	Topic       string
	CallbackURL string
}

type Client interface {
	// CreateFulfillmentEvent отправляет событие статуса в платформу.
	// Событие — неизменяемый факт с меткой времени: повторная отправка
	// с тем же happenedAt безопасна.
	CreateFulfillmentEvent(ctx context.Context, shop *models.Shop, fulfillmentExternalID, status string, happenedAt time.Time) error

	ListWebhooks(ctx context.Context, shop *models.Shop) ([]WebhookSubscription, error)
	CreateWebhook(ctx context.Context, shop *models.Shop, topic, callbackURL string) (string, error)
	DeleteWebhook(ctx context.Context, shop *models.Shop, id string) error
}
