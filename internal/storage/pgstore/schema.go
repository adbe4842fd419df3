package pgstore

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS shops (
  id BIGSERIAL PRIMARY KEY,
  domain TEXT NOT NULL,
  api_secret TEXT NOT NULL,
  client_id TEXT NOT NULL DEFAULT '',
  client_secret TEXT NOT NULL DEFAULT '',
  active BOOLEAN NOT NULL DEFAULT TRUE,
  webhooks_registered BOOLEAN NOT NULL DEFAULT FALSE,
  access_token TEXT NULL,
  token_expires_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  UNIQUE (domain)
)`,
		`
CREATE TABLE IF NOT EXISTS orders (
  id BIGSERIAL PRIMARY KEY,
  shop_id BIGINT NOT NULL REFERENCES shops(id),
  external_id TEXT NOT NULL,
  name TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  UNIQUE (shop_id, external_id)
)`,
		`
CREATE TABLE IF NOT EXISTS trackings (
  id BIGSERIAL PRIMARY KEY,
  number TEXT NOT NULL,
  process_status TEXT NOT NULL,
  last_status TEXT NOT NULL DEFAULT '',
  last_sub_status TEXT NOT NULL DEFAULT '',
  last_event_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  UNIQUE (number)
)`,
		`
CREATE TABLE IF NOT EXISTS fulfillments (
  id BIGSERIAL PRIMARY KEY,
  shop_id BIGINT NOT NULL REFERENCES shops(id),
  external_id TEXT NOT NULL,
  order_id BIGINT NOT NULL REFERENCES orders(id),
  tracking_number TEXT NOT NULL DEFAULT '',
  tracking_id BIGINT NULL REFERENCES trackings(id),
  status_current TEXT NULL,
  status_current_updated_at TIMESTAMPTZ NULL,
  delivered_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  UNIQUE (shop_id, external_id)
)`,
		`CREATE INDEX IF NOT EXISTS idx_fulfillments_order_id ON fulfillments(order_id)`,
		`CREATE INDEX IF NOT EXISTS idx_fulfillments_tracking_id ON fulfillments(tracking_id)`,
		`
CREATE TABLE IF NOT EXISTS status_mappings (
  id BIGSERIAL PRIMARY KEY,
  main_status TEXT NOT NULL,
  sub_status TEXT NULL,
  platform_status TEXT NOT NULL
)`,
		// NULLS NOT DISTINCT недоступен на старых PG, поэтому два частичных индекса.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_status_mappings_main_sub ON status_mappings(main_status, sub_status) WHERE sub_status IS NOT NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_status_mappings_fallback ON status_mappings(main_status) WHERE sub_status IS NULL`,
		`
CREATE TABLE IF NOT EXISTS app_config (
  id INT PRIMARY KEY,
  aggregator_api_key TEXT NOT NULL DEFAULT ''
)`,
		`INSERT INTO app_config (id) VALUES (1) ON CONFLICT (id) DO NOTHING`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}

	return s.seedStatusMappings(ctx)
}

// seedStatusMappings заполняет обязательные fallback-строки (sub_status IS NULL)
// для каждого главного статуса агрегатора плюс несколько точных соответствий.
// Существующие строки не трогаем: таблица редактируется через админку.
func (s *Storage) seedStatusMappings(ctx context.Context) error {
	type row struct {
		main     string
		sub      *string
		platform string
	}
	sp := func(v string) *string { return &v }

	rows := []row{
		{"NotFound", nil, "confirmed"},
		{"InfoReceived", nil, "confirmed"},
		{"InTransit", nil, "in_transit"},
		{"Expired", nil, "failure"},
		{"AvailableForPickup", nil, "ready_for_pickup"},
		{"OutForDelivery", nil, "out_for_delivery"},
		{"DeliveryFailure", nil, "failure"},
		{"Delivered", nil, "delivered"},
		{"Exception", nil, "failure"},

		{"InTransit", sp("InTransit_PickedUp"), "in_transit"},
		{"InTransit", sp("InTransit_CustomsProcessing"), "in_transit"},
		{"DeliveryFailure", sp("DeliveryFailure_NoBody"), "attempted_delivery"},
		{"DeliveryFailure", sp("DeliveryFailure_InvalidAddress"), "attempted_delivery"},
		{"Exception", sp("Exception_Delayed"), "in_transit"},
	}

	for _, r := range rows {
		if r.sub == nil {
			_, err := s.db.Exec(ctx, `
INSERT INTO status_mappings (main_status, sub_status, platform_status)
SELECT $1, NULL, $2
WHERE NOT EXISTS (SELECT 1 FROM status_mappings WHERE main_status = $1 AND sub_status IS NULL)
`, r.main, r.platform)
			if err != nil {
				return errors.Wrap(err, "seed fallback mapping")
			}
			continue
		}
		_, err := s.db.Exec(ctx, `
INSERT INTO status_mappings (main_status, sub_status, platform_status)
VALUES ($1, $2, $3)
ON CONFLICT (main_status, sub_status) WHERE sub_status IS NOT NULL DO NOTHING
`, r.main, *r.sub, r.platform)
		if err != nil {
			return errors.Wrap(err, "seed mapping")
		}
	}
	return nil
}
