package shopgql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/BearBump/ShipSync/internal/models"
	"github.com/pkg/errors"
)

type Client struct {
	scheme     string
	apiVersion string
	store      TokenStore
	httpc      *http.Client
}

func New(scheme, apiVersion string, store TokenStore) *Client {
	if scheme == "" {
		scheme = "https"
	}
	if apiVersion == "" {
		apiVersion = "2024-07"
	}
	return &Client{
		scheme:     scheme,
		apiVersion: apiVersion,
		store:      store,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

// do шлёт GraphQL-запрос с bearer-токеном магазина. На 401 токен
// инвалидируется и делается ровно одна повторная попытка со свежим
// токеном; второй 401 — жёсткая ошибка.
func (c *Client) do(ctx context.Context, shop *models.Shop, query string, variables map[string]any, out any) error {
	status, err := c.doOnce(ctx, shop, query, variables, out)
	if err == nil {
		return nil
	}
	if status != http.StatusUnauthorized {
		return err
	}

	if ierr := c.invalidateToken(ctx, shop); ierr != nil {
		return ierr
	}
	status, err = c.doOnce(ctx, shop, query, variables, out)
	if status == http.StatusUnauthorized {
		return errors.Wrap(err, "platform rejected freshly fetched token")
	}
	return err
}

func (c *Client) doOnce(ctx context.Context, shop *models.Shop, query string, variables map[string]any, out any) (int, error) {
	token, err := c.token(ctx, shop)
	if err != nil {
		return 0, err
	}

	body, err := json.Marshal(gqlRequest{Query: query, Variables: variables})
	if err != nil {
		return 0, errors.Wrap(err, "marshal graphql request")
	}

	u := fmt.Sprintf("%s://%s/admin/api/%s/graphql.json", c.scheme, shop.Domain, c.apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return 0, errors.Wrap(err, "new graphql request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Platform-Access-Token", token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "do graphql request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return resp.StatusCode, fmt.Errorf("platform http 401 for shop %s", shop.Domain)
	}
	if resp.StatusCode/100 != 2 {
		return resp.StatusCode, fmt.Errorf("platform http %d for shop %s", resp.StatusCode, shop.Domain)
	}

	var gr gqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return resp.StatusCode, errors.Wrap(err, "decode graphql response")
	}
	if len(gr.Errors) > 0 {
		return resp.StatusCode, fmt.Errorf("graphql error: %s", gr.Errors[0].Message)
	}
	if out != nil && gr.Data != nil {
		if err := json.Unmarshal(gr.Data, out); err != nil {
			return resp.StatusCode, errors.Wrap(err, "unmarshal graphql data")
		}
	}
	return resp.StatusCode, nil
}

const fulfillmentEventCreateMutation = `
mutation fulfillmentEventCreate($fulfillmentId: ID!, $status: FulfillmentEventStatus!, $happenedAt: DateTime!) {
  fulfillmentEventCreate(fulfillmentEvent: {fulfillmentId: $fulfillmentId, status: $status, happenedAt: $happenedAt}) {
    fulfillmentEvent { id }
    userErrors { field message }
  }
}`

type fulfillmentEventCreateData struct {
	FulfillmentEventCreate struct {
		UserErrors []struct {
			Message string `json:"message"`
		} `json:"userErrors"`
	} `json:"fulfillmentEventCreate"`
}

func (c *Client) CreateFulfillmentEvent(ctx context.Context, shop *models.Shop, fulfillmentExternalID, status string, happenedAt time.Time) error {
	vars := map[string]any{
		"fulfillmentId": "gid://platform/Fulfillment/" + fulfillmentExternalID,
		"status":        strings.ToUpper(status),
		"happenedAt":    happenedAt.UTC().Format(time.RFC3339),
	}
	var data fulfillmentEventCreateData
	if err := c.do(ctx, shop, fulfillmentEventCreateMutation, vars, &data); err != nil {
		return err
	}
	if ue := data.FulfillmentEventCreate.UserErrors; len(ue) > 0 {
		return fmt.Errorf("fulfillmentEventCreate: %s", ue[0].Message)
	}
	return nil
}
