package pgstore

import (
	"context"
	"time"

	"github.com/BearBump/ShipSync/internal/apperr"
	"github.com/BearBump/ShipSync/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const shopColumns = `
  id, domain, api_secret, client_id, client_secret,
  active, webhooks_registered,
  access_token, token_expires_at,
  created_at, updated_at`

func scanShop(row pgx.Row) (*models.Shop, error) {
	var sh models.Shop
	if err := row.Scan(
		&sh.ID, &sh.Domain, &sh.APISecret, &sh.ClientID, &sh.ClientSecret,
		&sh.Active, &sh.WebhooksRegistered,
		&sh.AccessToken, &sh.TokenExpiresAt,
		&sh.CreatedAt, &sh.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &sh, nil
}

func (s *Storage) GetShopByDomain(ctx context.Context, domain string) (*models.Shop, error) {
	sh, err := scanShop(s.db.QueryRow(ctx, `SELECT `+shopColumns+` FROM shops WHERE domain = $1`, domain))
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("shop " + domain)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shop")
	}
	return sh, nil
}

func (s *Storage) GetShopByID(ctx context.Context, id uint64) (*models.Shop, error) {
	sh, err := scanShop(s.db.QueryRow(ctx, `SELECT `+shopColumns+` FROM shops WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("shop")
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shop")
	}
	return sh, nil
}

func (s *Storage) UpdateShopToken(ctx context.Context, shopID uint64, token string, expiresAt time.Time) error {
	_, err := s.db.Exec(ctx, `
UPDATE shops SET access_token = $2, token_expires_at = $3, updated_at = now() WHERE id = $1
`, shopID, token, expiresAt.UTC())
	return errors.Wrap(err, "update shop token")
}

func (s *Storage) ClearShopToken(ctx context.Context, shopID uint64) error {
	_, err := s.db.Exec(ctx, `
UPDATE shops SET access_token = NULL, token_expires_at = NULL, updated_at = now() WHERE id = $1
`, shopID)
	return errors.Wrap(err, "clear shop token")
}

func (s *Storage) SetShopWebhooksRegistered(ctx context.Context, shopID uint64, registered bool) error {
	_, err := s.db.Exec(ctx, `
UPDATE shops SET webhooks_registered = $2, updated_at = now() WHERE id = $1
`, shopID, registered)
	return errors.Wrap(err, "set shop webhooks registered")
}
