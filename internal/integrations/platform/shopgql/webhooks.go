package shopgql

import (
	"context"
	"fmt"

	"github.com/BearBump/ShipSync/internal/integrations/platform"
	"github.com/BearBump/ShipSync/internal/models"
)

// Управление подписками вызывается при активации магазина, вне горячего пути.

const webhookListQuery = `
query {
  webhookSubscriptions(first: 50) {
    edges {
      node {
        id
        topic
        endpoint { __typename ... on WebhookHttpEndpoint { callbackUrl } }
      }
    }
  }
}`

type webhookListData struct {
	WebhookSubscriptions struct {
		Edges []struct {
			Node struct {
				ID       string `json:"id"`
				Topic    string `json:"topic"`
				Endpoint struct {
					CallbackURL string `json:"callbackUrl"`
				} `json:"endpoint"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"webhookSubscriptions"`
}

func (c *Client) ListWebhooks(ctx context.Context, shop *models.Shop) ([]platform.WebhookSubscription, error) {
	var data webhookListData
	if err := c.do(ctx, shop, webhookListQuery, nil, &data); err != nil {
		return nil, err
	}
	out := make([]platform.WebhookSubscription, 0, len(data.WebhookSubscriptions.Edges))
	for _, e := range data.WebhookSubscriptions.Edges {
		out = append(out, platform.WebhookSubscription{
			ID:          e.Node.ID,
			Topic:       e.Node.Topic,
			CallbackURL: e.Node.Endpoint.CallbackURL,
		})
	}
	return out, nil
}

const webhookCreateMutation = `
mutation webhookSubscriptionCreate($topic: WebhookSubscriptionTopic!, $webhookSubscription: WebhookSubscriptionInput!) {
  webhookSubscriptionCreate(topic: $topic, webhookSubscription: $webhookSubscription) {
    webhookSubscription { id }
    userErrors { field message }
  }
}`

type webhookCreateData struct {
	WebhookSubscriptionCreate struct {
		WebhookSubscription struct {
			ID string `json:"id"`
		} `json:"webhookSubscription"`
		UserErrors []struct {
			Message string `json:"message"`
		} `json:"userErrors"`
	} `json:"webhookSubscriptionCreate"`
}

func (c *Client) CreateWebhook(ctx context.Context, shop *models.Shop, topic, callbackURL string) (string, error) {
	vars := map[string]any{
		"topic": topic,
		"webhookSubscription": map[string]any{
			"callbackUrl": callbackURL,
			"format":      "JSON",
		},
	}
	var data webhookCreateData
	if err := c.do(ctx, shop, webhookCreateMutation, vars, &data); err != nil {
		return "", err
	}
	if ue := data.WebhookSubscriptionCreate.UserErrors; len(ue) > 0 {
		return "", fmt.Errorf("webhookSubscriptionCreate: %s", ue[0].Message)
	}
	return data.WebhookSubscriptionCreate.WebhookSubscription.ID, nil
}

const webhookDeleteMutation = `
mutation webhookSubscriptionDelete($id: ID!) {
  webhookSubscriptionDelete(id: $id) {
    deletedWebhookSubscriptionId
    userErrors { field message }
  }
}`

type webhookDeleteData struct {
	WebhookSubscriptionDelete struct {
		UserErrors []struct {
			Message string `json:"message"`
		} `json:"userErrors"`
	} `json:"webhookSubscriptionDelete"`
}

func (c *Client) DeleteWebhook(ctx context.Context, shop *models.Shop, id string) error {
	var data webhookDeleteData
	if err := c.do(ctx, shop, webhookDeleteMutation, map[string]any{"id": id}, &data); err != nil {
		return err
	}
	if ue := data.WebhookSubscriptionDelete.UserErrors; len(ue) > 0 {
		return fmt.Errorf("webhookSubscriptionDelete: %s", ue[0].Message)
	}
	return nil
}
