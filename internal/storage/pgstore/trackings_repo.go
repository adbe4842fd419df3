package pgstore

import (
	"context"
	"time"

	"github.com/BearBump/ShipSync/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const trackingColumns = `
  id, number, process_status,
  last_status, last_sub_status, last_event_at,
  created_at, updated_at`

func scanTracking(row pgx.Row) (*models.Tracking, error) {
	var t models.Tracking
	if err := row.Scan(
		&t.ID, &t.Number, &t.ProcessStatus,
		&t.LastStatus, &t.LastSubStatus, &t.LastEventAt,
		&t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTrackingByNumber возвращает (nil, nil), если трекинга нет.
func (s *Storage) GetTrackingByNumber(ctx context.Context, number string) (*models.Tracking, error) {
	t, err := scanTracking(s.db.QueryRow(ctx, `SELECT `+trackingColumns+` FROM trackings WHERE number = $1`, number))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select tracking")
	}
	return t, nil
}

// CreateTracking идемпотентен по номеру: повторная вставка возвращает
// существующую строку, не двигая её состояние.
func (s *Storage) CreateTracking(ctx context.Context, number, processStatus string) (*models.Tracking, error) {
	t, err := scanTracking(s.db.QueryRow(ctx, `
INSERT INTO trackings (number, process_status)
VALUES ($1, $2)
ON CONFLICT (number)
DO UPDATE SET updated_at = trackings.updated_at
RETURNING `+trackingColumns, number, processStatus))
	if err != nil {
		return nil, errors.Wrap(err, "insert tracking")
	}
	return t, nil
}

func (s *Storage) SetTrackingProcessStatus(ctx context.Context, number, status string) error {
	_, err := s.db.Exec(ctx, `
UPDATE trackings SET process_status = $2, updated_at = now() WHERE number = $1
`, number, status)
	return errors.Wrap(err, "set tracking process status")
}

// ApplyTrackingStatus обновляет (status, sub_status, last_event_at) ТОЛЬКО если
// пара статусов реально изменилась. Повторная доставка идентичного вебхука не
// должна сбрасывать "часы свежести" (last_event_at) для алертинга.
func (s *Storage) ApplyTrackingStatus(ctx context.Context, number, mainStatus, subStatus string, eventAt *time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
UPDATE trackings
SET last_status = $2, last_sub_status = $3, last_event_at = $4, updated_at = now()
WHERE number = $1
  AND (last_status IS DISTINCT FROM $2 OR last_sub_status IS DISTINCT FROM $3)
`, number, mainStatus, subStatus, eventAt)
	if err != nil {
		return false, errors.Wrap(err, "apply tracking status")
	}
	return tag.RowsAffected() > 0, nil
}

// ListRunningTrackingsByOrder — все RUNNING-трекинги, привязанные к fulfillment'ам заказа.
func (s *Storage) ListRunningTrackingsByOrder(ctx context.Context, orderID uint64) ([]*models.Tracking, error) {
	rows, err := s.db.Query(ctx, `
SELECT DISTINCT t.id, t.number, t.process_status,
  t.last_status, t.last_sub_status, t.last_event_at,
  t.created_at, t.updated_at
FROM trackings t
JOIN fulfillments f ON f.tracking_id = t.id
WHERE f.order_id = $1 AND t.process_status = $2
`, orderID, models.ProcessStatusRunning)
	if err != nil {
		return nil, errors.Wrap(err, "select running trackings")
	}
	defer rows.Close()

	var out []*models.Tracking
	for rows.Next() {
		t, err := scanTracking(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan tracking")
		}
		out = append(out, t)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
