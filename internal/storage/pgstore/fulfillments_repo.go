package pgstore

import (
	"context"
	"time"

	"github.com/BearBump/ShipSync/internal/apperr"
	"github.com/BearBump/ShipSync/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const fulfillmentColumns = `
  id, shop_id, external_id, order_id,
  tracking_number, tracking_id,
  status_current, status_current_updated_at, delivered_at,
  created_at, updated_at`

func scanFulfillment(row pgx.Row) (*models.Fulfillment, error) {
	var f models.Fulfillment
	if err := row.Scan(
		&f.ID, &f.ShopID, &f.ExternalID, &f.OrderID,
		&f.TrackingNumber, &f.TrackingID,
		&f.StatusCurrent, &f.StatusCurrentUpdatedAt, &f.DeliveredAt,
		&f.CreatedAt, &f.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &f, nil
}

// CreateFulfillment вставляет строку; при конфликте по (shop_id, external_id)
// конфликт гасится перечитыванием существующей строки (created=false).
func (s *Storage) CreateFulfillment(ctx context.Context, in models.FulfillmentCreateInput) (*models.Fulfillment, bool, error) {
	f, err := scanFulfillment(s.db.QueryRow(ctx, `
INSERT INTO fulfillments (shop_id, external_id, order_id, tracking_number, tracking_id, status_current, status_current_updated_at)
VALUES ($1, $2, $3, $4, $5, $6, CASE WHEN $6::text IS NULL THEN NULL ELSE now() END)
ON CONFLICT (shop_id, external_id) DO NOTHING
RETURNING `+fulfillmentColumns,
		in.ShopID, in.ExternalID, in.OrderID, in.TrackingNumber, in.TrackingID, in.StatusCurrent))
	if err == nil {
		return f, true, nil
	}
	if err != pgx.ErrNoRows {
		return nil, false, errors.Wrap(err, "insert fulfillment")
	}

	existing, err := s.GetFulfillmentByExternalID(ctx, in.ShopID, in.ExternalID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *Storage) GetFulfillmentByID(ctx context.Context, id uint64) (*models.Fulfillment, error) {
	f, err := scanFulfillment(s.db.QueryRow(ctx, `SELECT `+fulfillmentColumns+` FROM fulfillments WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("fulfillment")
	}
	if err != nil {
		return nil, errors.Wrap(err, "select fulfillment")
	}
	return f, nil
}

func (s *Storage) GetFulfillmentByExternalID(ctx context.Context, shopID uint64, externalID string) (*models.Fulfillment, error) {
	f, err := scanFulfillment(s.db.QueryRow(ctx, `
SELECT `+fulfillmentColumns+` FROM fulfillments WHERE shop_id = $1 AND external_id = $2`, shopID, externalID))
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("fulfillment " + externalID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select fulfillment")
	}
	return f, nil
}

// FindFulfillmentByOrderAndNumber — основа duplicate guard: ищем существующий
// fulfillment по паре (заказ, трек-номер). Через tracking_id, если трекинг уже
// заведён, иначе по литеральному номеру. (nil, nil) = не найден.
func (s *Storage) FindFulfillmentByOrderAndNumber(ctx context.Context, orderID uint64, trackingID *uint64, number string) (*models.Fulfillment, error) {
	var row pgx.Row
	if trackingID != nil {
		row = s.db.QueryRow(ctx, `
SELECT `+fulfillmentColumns+` FROM fulfillments WHERE order_id = $1 AND tracking_id = $2 LIMIT 1`, orderID, *trackingID)
	} else {
		row = s.db.QueryRow(ctx, `
SELECT `+fulfillmentColumns+` FROM fulfillments WHERE order_id = $1 AND tracking_number = $2 LIMIT 1`, orderID, number)
	}
	f, err := scanFulfillment(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "find fulfillment")
	}
	return f, nil
}

func (s *Storage) ListFulfillmentsByTrackingID(ctx context.Context, trackingID uint64) ([]*models.Fulfillment, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+fulfillmentColumns+` FROM fulfillments WHERE tracking_id = $1 ORDER BY id`, trackingID)
	if err != nil {
		return nil, errors.Wrap(err, "select fulfillments")
	}
	defer rows.Close()

	var out []*models.Fulfillment
	for rows.Next() {
		f, err := scanFulfillment(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan fulfillment")
		}
		out = append(out, f)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) UpdateFulfillmentTracking(ctx context.Context, id uint64, number string, trackingID *uint64) error {
	_, err := s.db.Exec(ctx, `
UPDATE fulfillments SET tracking_number = $2, tracking_id = $3, updated_at = now() WHERE id = $1
`, id, number, trackingID)
	return errors.Wrap(err, "update fulfillment tracking")
}

// CommitFulfillmentStatus — локальная фаза двухфазной записи: вызывается
// только после того, как платформа подтвердила событие. delivered_at ставится
// ровно один раз и никогда не сбрасывается.
func (s *Storage) CommitFulfillmentStatus(ctx context.Context, id uint64, status string, updatedAt time.Time, delivered bool) error {
	var deliveredAt *time.Time
	if delivered {
		t := updatedAt.UTC()
		deliveredAt = &t
	}
	_, err := s.db.Exec(ctx, `
UPDATE fulfillments
SET
  status_current = $2,
  status_current_updated_at = $3,
  delivered_at = COALESCE(delivered_at, $4),
  updated_at = now()
WHERE id = $1
`, id, status, updatedAt.UTC(), deliveredAt)
	return errors.Wrap(err, "commit fulfillment status")
}
