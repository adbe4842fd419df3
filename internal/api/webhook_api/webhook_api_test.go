package webhook_api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/BearBump/ShipSync/internal/apperr"
	"github.com/BearBump/ShipSync/internal/models"
	"github.com/BearBump/ShipSync/internal/services/events"
	"github.com/BearBump/ShipSync/internal/services/signatures"
	"github.com/BearBump/ShipSync/internal/services/syncer"
)

type stubService struct {
	orderCreates       []events.OrderCreate
	fulfillmentCreates []events.FulfillmentCreate
	fulfillmentUpdates []events.FulfillmentUpdate
	refunds            []events.RefundCreate
	trackingWebhooks   []events.TrackingWebhook
	resyncs            []uint64
	activated          []string
	toggled            []string
	ensured            []string

	refundResult syncer.RefundResult
	err          error
}

func (s *stubService) HandleOrderCreate(ctx context.Context, shop *models.Shop, ev events.OrderCreate) error {
	s.orderCreates = append(s.orderCreates, ev)
	return s.err
}

func (s *stubService) HandleFulfillmentCreate(ctx context.Context, shop *models.Shop, ev events.FulfillmentCreate) error {
	s.fulfillmentCreates = append(s.fulfillmentCreates, ev)
	return s.err
}

func (s *stubService) HandleFulfillmentUpdate(ctx context.Context, shop *models.Shop, ev events.FulfillmentUpdate) error {
	s.fulfillmentUpdates = append(s.fulfillmentUpdates, ev)
	return s.err
}

func (s *stubService) HandleRefundCreate(ctx context.Context, shop *models.Shop, ev events.RefundCreate) (syncer.RefundResult, error) {
	s.refunds = append(s.refunds, ev)
	return s.refundResult, s.err
}

func (s *stubService) HandleTrackingWebhook(ctx context.Context, ev events.TrackingWebhook) error {
	s.trackingWebhooks = append(s.trackingWebhooks, ev)
	return s.err
}

func (s *stubService) SyncFulfillment(ctx context.Context, id uint64) error {
	s.resyncs = append(s.resyncs, id)
	return s.err
}

func (s *stubService) Activate(ctx context.Context, number string) error {
	s.activated = append(s.activated, number)
	return s.err
}

func (s *stubService) Toggle(ctx context.Context, number string) (string, error) {
	s.toggled = append(s.toggled, number)
	return models.ProcessStatusStopped, s.err
}

func (s *stubService) GetTrackingState(ctx context.Context, number string) (*syncer.TrackingState, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &syncer.TrackingState{Number: number, ProcessStatus: models.ProcessStatusRunning}, nil
}

func (s *stubService) EnsureShopWebhooks(ctx context.Context, domain string) error {
	s.ensured = append(s.ensured, domain)
	return s.err
}

func (s *stubService) ResyncStats() syncer.ResyncStats { return syncer.ResyncStats{Submitted: 7} }

func (s *stubService) mutations() int {
	return len(s.orderCreates) + len(s.fulfillmentCreates) + len(s.fulfillmentUpdates) +
		len(s.refunds) + len(s.trackingWebhooks)
}

type stubShops struct{ shop *models.Shop }

func (s stubShops) GetShopByDomain(ctx context.Context, domain string) (*models.Shop, error) {
	if s.shop != nil && s.shop.Domain == domain {
		return s.shop, nil
	}
	return nil, apperr.NotFound("shop " + domain)
}

type stubKeys struct{ key string }

func (s stubKeys) APIKey(ctx context.Context) (string, error) { return s.key, nil }

func newTestHandler(t *testing.T) (*stubService, *models.Shop, http.Handler) {
	t.Helper()
	shop := &models.Shop{ID: 1, Domain: "demo.example.com", APISecret: "shop-secret", Active: true}
	svc := &stubService{}
	h := New(svc, stubShops{shop: shop}, stubKeys{key: "agg-key"}, slog.Default())
	r := chi.NewRouter()
	h.Register(r)
	return svc, shop, r
}

func platformReq(t *testing.T, path, domain, secret string, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set(headerShopDomain, domain)
	req.Header.Set(headerPlatformHMAC, signatures.SignPlatform(secret, body))
	return req
}

func TestPlatformWebhook_ValidSignature(t *testing.T) {
	svc, shop, r := newTestHandler(t)

	body := []byte(`{"id":111,"order_id":222,"tracking_number":"RR1"}`)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, platformReq(t, "/webhooks/fulfillments/create", shop.Domain, shop.APISecret, body))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, svc.fulfillmentCreates, 1)
	require.Equal(t, "111", svc.fulfillmentCreates[0].ExternalID)
	require.Equal(t, "RR1", svc.fulfillmentCreates[0].TrackingNumber)
}

func TestPlatformWebhook_BadSignatureNoSideEffects(t *testing.T) {
	svc, shop, r := newTestHandler(t)

	body := []byte(`{"id":111,"order_id":222}`)
	req := platformReq(t, "/webhooks/fulfillments/create", shop.Domain, "wrong-secret", body)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Zero(t, svc.mutations())
}

func TestPlatformWebhook_UniformUnauthorizedBody(t *testing.T) {
	svc, shop, r := newTestHandler(t)
	body := []byte(`{"id":1,"order_id":2}`)

	// Неизвестный домен, неверная подпись и отсутствующий заголовок
	// дают байт-в-байт одинаковый ответ.
	var bodies []string
	for _, req := range []*http.Request{
		platformReq(t, "/webhooks/orders/create", "ghost.example.com", shop.APISecret, body),
		platformReq(t, "/webhooks/orders/create", shop.Domain, "wrong", body),
		httptest.NewRequest(http.MethodPost, "/webhooks/orders/create", bytes.NewReader(body)),
	} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		bodies = append(bodies, rec.Body.String())
	}
	require.Equal(t, bodies[0], bodies[1])
	require.Equal(t, bodies[1], bodies[2])
	require.Zero(t, svc.mutations())
}

func TestPlatformWebhook_MalformedPayload(t *testing.T) {
	svc, shop, r := newTestHandler(t)

	// Подпись валидна, но обязательного id нет: 400, без побочных эффектов.
	body := []byte(`{"name":"#1001"}`)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, platformReq(t, "/webhooks/orders/create", shop.Domain, shop.APISecret, body))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Zero(t, svc.mutations())
}

func TestRefundWebhook_ReportsCounts(t *testing.T) {
	svc, shop, r := newTestHandler(t)
	svc.refundResult = syncer.RefundResult{Total: 3, StoppedRemote: 2, FailedRemote: 1}

	body := []byte(`{"id":5,"order_id":42}`)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, platformReq(t, "/webhooks/refunds/create", shop.Domain, shop.APISecret, body))

	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, 3, got["total"])
	require.Equal(t, 2, got["stoppedRemote"])
	require.Equal(t, 1, got["failedRemote"])
}

func TestTrackingsWebhook(t *testing.T) {
	svc, _, r := newTestHandler(t)

	body := []byte(`{"event":"TRACKING_UPDATED","data":{"number":"RR1","track_info":{"latest_status":{"status":"InTransit"}}}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/trackings", bytes.NewReader(body))
	req.Header.Set(headerAggSign, signatures.SignAggregator("agg-key", body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, svc.trackingWebhooks, 1)
	require.Equal(t, "RR1", svc.trackingWebhooks[0].Number)
}

func TestTrackingsWebhook_BadSign(t *testing.T) {
	svc, _, r := newTestHandler(t)

	body := []byte(`{"event":"TRACKING_UPDATED","data":{"number":"RR1"}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/trackings", bytes.NewReader(body))
	req.Header.Set(headerAggSign, signatures.SignAggregator("other-key", body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Zero(t, svc.mutations())
}

func TestAdminResync(t *testing.T) {
	svc, _, r := newTestHandler(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/fulfillments/42/resync", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []uint64{42}, svc.resyncs)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/fulfillments/abc/resync", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminResync_ExternalFailureIs500(t *testing.T) {
	svc, _, r := newTestHandler(t)
	svc.err = apperr.External(apperr.ErrExternal, "gettrackinfo")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/fulfillments/42/resync", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAdminTrackingEndpoints(t *testing.T) {
	svc, _, r := newTestHandler(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/trackings/RR1/activate", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"RR1"}, svc.activated)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/trackings/RR1/toggle", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var toggled map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &toggled))
	require.Equal(t, models.ProcessStatusStopped, toggled["processStatus"])

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/trackings/RR1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var st syncer.TrackingState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	require.Equal(t, "RR1", st.Number)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/resync/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var stats syncer.ResyncStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.EqualValues(t, 7, stats.Submitted)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/shops/demo.example.com/webhooks/ensure", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"demo.example.com"}, svc.ensured)
}

func TestAdminNotFound(t *testing.T) {
	svc, _, r := newTestHandler(t)
	svc.err = apperr.NotFound("tracking RR1")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/trackings/RR1/activate", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
