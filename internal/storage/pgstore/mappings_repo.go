package pgstore

import (
	"context"

	"github.com/BearBump/ShipSync/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func (s *Storage) ListStatusMappings(ctx context.Context) ([]*models.StatusMapping, error) {
	rows, err := s.db.Query(ctx, `
SELECT main_status, sub_status, platform_status FROM status_mappings`)
	if err != nil {
		return nil, errors.Wrap(err, "select status mappings")
	}
	defer rows.Close()

	var out []*models.StatusMapping
	for rows.Next() {
		var m models.StatusMapping
		if err := rows.Scan(&m.MainStatus, &m.SubStatus, &m.PlatformStatus); err != nil {
			return nil, errors.Wrap(err, "scan status mapping")
		}
		out = append(out, &m)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) GetAggregatorAPIKey(ctx context.Context) (string, error) {
	var key string
	err := s.db.QueryRow(ctx, `SELECT aggregator_api_key FROM app_config WHERE id = 1`).Scan(&key)
	if err == pgx.ErrNoRows {
		return "", errors.New("app_config row is missing")
	}
	if err != nil {
		return "", errors.Wrap(err, "select aggregator api key")
	}
	return key, nil
}
