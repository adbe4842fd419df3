package pgstore

import (
	"context"

	"github.com/BearBump/ShipSync/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// UpsertOrder идемпотентен по (shop_id, external_id). Имя заказа не затираем
// пустым значением: fulfillment-вебхук может прийти раньше orders/create.
func (s *Storage) UpsertOrder(ctx context.Context, shopID uint64, externalID, name string) (*models.Order, error) {
	var o models.Order
	err := s.db.QueryRow(ctx, `
INSERT INTO orders (shop_id, external_id, name)
VALUES ($1, $2, $3)
ON CONFLICT (shop_id, external_id)
DO UPDATE SET name = CASE WHEN EXCLUDED.name = '' THEN orders.name ELSE EXCLUDED.name END
RETURNING id, shop_id, external_id, name, created_at
`, shopID, externalID, name).Scan(&o.ID, &o.ShopID, &o.ExternalID, &o.Name, &o.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "upsert order")
	}
	return &o, nil
}

// GetOrderByExternalID возвращает (nil, nil), если заказа ещё нет:
// refund-вебхук для неизвестного заказа — легальная ситуация.
func (s *Storage) GetOrderByExternalID(ctx context.Context, shopID uint64, externalID string) (*models.Order, error) {
	var o models.Order
	err := s.db.QueryRow(ctx, `
SELECT id, shop_id, external_id, name, created_at
FROM orders
WHERE shop_id = $1 AND external_id = $2
`, shopID, externalID).Scan(&o.ID, &o.ShopID, &o.ExternalID, &o.Name, &o.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select order")
	}
	return &o, nil
}
