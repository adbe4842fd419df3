package shopgql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/BearBump/ShipSync/internal/models"
	"github.com/pkg/errors"
)

// Токен считаем живым, только если до истечения больше 5 минут:
// иначе он может протухнуть посреди запроса.
const tokenExpiryBuffer = 5 * time.Minute

// TokenStore персистит bearer-токен на строке магазина.
type TokenStore interface {
	UpdateShopToken(ctx context.Context, shopID uint64, token string, expiresAt time.Time) error
	ClearShopToken(ctx context.Context, shopID uint64) error
}

type tokenResp struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// token отдаёт валидный bearer-токен магазина, лениво запрашивая новый
// по client credentials, когда кэшированный отсутствует или скоро истечёт.
func (c *Client) token(ctx context.Context, shop *models.Shop) (string, error) {
	if shop.AccessToken != nil && shop.TokenExpiresAt != nil &&
		time.Until(*shop.TokenExpiresAt) > tokenExpiryBuffer {
		return *shop.AccessToken, nil
	}
	return c.fetchToken(ctx, shop)
}

func (c *Client) fetchToken(ctx context.Context, shop *models.Shop) (string, error) {
	body, err := json.Marshal(map[string]string{
		"client_id":     shop.ClientID,
		"client_secret": shop.ClientSecret,
		"grant_type":    "client_credentials",
	})
	if err != nil {
		return "", errors.Wrap(err, "marshal token request")
	}

	u := fmt.Sprintf("%s://%s/admin/oauth/access_token", c.scheme, shop.Domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "new token request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "fetch token")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("token endpoint http %d for shop %s", resp.StatusCode, shop.Domain)
	}

	var tr tokenResp
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", errors.Wrap(err, "decode token response")
	}
	if tr.AccessToken == "" {
		return "", errors.New("token endpoint returned empty access_token")
	}

	expiresAt := time.Now().UTC().Add(time.Duration(tr.ExpiresIn) * time.Second)
	if err := c.store.UpdateShopToken(ctx, shop.ID, tr.AccessToken, expiresAt); err != nil {
		return "", err
	}
	shop.AccessToken = &tr.AccessToken
	shop.TokenExpiresAt = &expiresAt
	return tr.AccessToken, nil
}

func (c *Client) invalidateToken(ctx context.Context, shop *models.Shop) error {
	shop.AccessToken = nil
	shop.TokenExpiresAt = nil
	return c.store.ClearShopToken(ctx, shop.ID)
}
