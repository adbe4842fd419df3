package shopgql

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/ShipSync/internal/models"
	"github.com/stretchr/testify/require"
)

type memTokenStore struct {
	mu      sync.Mutex
	updates int
	clears  int
}

func (s *memTokenStore) UpdateShopToken(ctx context.Context, shopID uint64, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	return nil
}

func (s *memTokenStore) ClearShopToken(ctx context.Context, shopID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
	return nil
}

// testPlatform — минимальный эмулятор платформы: oauth-токены + graphql.
type testPlatform struct {
	srv *httptest.Server

	mu           sync.Mutex
	tokensIssued int
	gqlCalls     int
	// сколько первых graphql-вызовов ответить 401
	reject401 int
	userError  string
}

func newTestPlatform(t *testing.T) *testPlatform {
	p := &testPlatform{}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/admin/oauth/access_token":
			p.mu.Lock()
			p.tokensIssued++
			n := p.tokensIssued
			p.mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "tok-" + string(rune('0'+n)),
				"expires_in":   3600,
			})
		case "/admin/api/2024-07/graphql.json":
			p.mu.Lock()
			p.gqlCalls++
			reject := p.reject401 > 0
			if reject {
				p.reject401--
			}
			userError := p.userError
			p.mu.Unlock()
			if r.Header.Get("X-Platform-Access-Token") == "" || reject {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			resp := map[string]any{"data": map[string]any{
				"fulfillmentEventCreate": map[string]any{
					"fulfillmentEvent": map[string]any{"id": "gid://platform/FulfillmentEvent/1"},
					"userErrors":       []map[string]any{},
				},
			}}
			if userError != "" {
				resp = map[string]any{"data": map[string]any{
					"fulfillmentEventCreate": map[string]any{
						"userErrors": []map[string]any{{"message": userError}},
					},
				}}
			}
			_ = json.NewEncoder(w).Encode(resp)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *testPlatform) shop() *models.Shop {
	return &models.Shop{
		ID:           1,
		Domain:       p.srv.Listener.Addr().String(),
		ClientID:     "cid",
		ClientSecret: "csec",
		Active:       true,
	}
}

func TestClient_CreateFulfillmentEvent_FetchesTokenOnce(t *testing.T) {
	p := newTestPlatform(t)
	store := &memTokenStore{}
	c := New("http", "2024-07", store)
	shop := p.shop()

	require.NoError(t, c.CreateFulfillmentEvent(context.Background(), shop, "42", "in_transit", time.Now().UTC()))
	require.NoError(t, c.CreateFulfillmentEvent(context.Background(), shop, "42", "delivered", time.Now().UTC()))

	// токен запрошен один раз и переиспользован из структуры магазина
	require.Equal(t, 1, p.tokensIssued)
	require.Equal(t, 1, store.updates)
	require.NotNil(t, shop.AccessToken)
}

func TestClient_TokenExpiryBuffer(t *testing.T) {
	p := newTestPlatform(t)
	c := New("http", "2024-07", &memTokenStore{})
	shop := p.shop()

	// токен формально жив, но истекает раньше буфера — должен быть обновлён
	tok := "stale"
	exp := time.Now().UTC().Add(time.Minute)
	shop.AccessToken = &tok
	shop.TokenExpiresAt = &exp

	require.NoError(t, c.CreateFulfillmentEvent(context.Background(), shop, "42", "in_transit", time.Now().UTC()))
	require.Equal(t, 1, p.tokensIssued)
	require.NotEqual(t, "stale", *shop.AccessToken)
}

func TestClient_Unauthorized_RetriesOnceWithFreshToken(t *testing.T) {
	p := newTestPlatform(t)
	p.reject401 = 1
	store := &memTokenStore{}
	c := New("http", "2024-07", store)
	shop := p.shop()

	require.NoError(t, c.CreateFulfillmentEvent(context.Background(), shop, "42", "in_transit", time.Now().UTC()))
	require.Equal(t, 2, p.tokensIssued)
	require.Equal(t, 1, store.clears)
	require.Equal(t, 2, p.gqlCalls)
}

func TestClient_Unauthorized_SecondTimeIsHardFailure(t *testing.T) {
	p := newTestPlatform(t)
	p.reject401 = 2
	c := New("http", "2024-07", &memTokenStore{})

	err := c.CreateFulfillmentEvent(context.Background(), p.shop(), "42", "in_transit", time.Now().UTC())
	require.Error(t, err)
	require.Contains(t, err.Error(), "freshly fetched token")
	require.Equal(t, 2, p.gqlCalls)
}

func TestClient_UserErrorsSurface(t *testing.T) {
	p := newTestPlatform(t)
	p.userError = "Fulfillment does not exist"
	c := New("http", "2024-07", &memTokenStore{})

	err := c.CreateFulfillmentEvent(context.Background(), p.shop(), "42", "in_transit", time.Now().UTC())
	require.Error(t, err)
	require.Contains(t, err.Error(), "Fulfillment does not exist")
}
