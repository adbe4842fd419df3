package webhook_api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BearBump/ShipSync/internal/apperr"
	"github.com/BearBump/ShipSync/internal/models"
	"github.com/BearBump/ShipSync/internal/services/events"
	"github.com/BearBump/ShipSync/internal/services/signatures"
	"github.com/BearBump/ShipSync/internal/services/syncer"
)

// Заголовки подписи входящих вебхуков.
const (
	headerPlatformHMAC = "X-Platform-Hmac-Sha256"
	headerShopDomain   = "X-Shop-Domain"
	headerAggSign      = "sign"
)

const maxBodyBytes = 1 << 20

type SyncService interface {
	HandleOrderCreate(ctx context.Context, shop *models.Shop, ev events.OrderCreate) error
	HandleFulfillmentCreate(ctx context.Context, shop *models.Shop, ev events.FulfillmentCreate) error
	HandleFulfillmentUpdate(ctx context.Context, shop *models.Shop, ev events.FulfillmentUpdate) error
	HandleRefundCreate(ctx context.Context, shop *models.Shop, ev events.RefundCreate) (syncer.RefundResult, error)
	HandleTrackingWebhook(ctx context.Context, ev events.TrackingWebhook) error

	SyncFulfillment(ctx context.Context, fulfillmentID uint64) error
	Activate(ctx context.Context, number string) error
	Toggle(ctx context.Context, number string) (string, error)
	GetTrackingState(ctx context.Context, number string) (*syncer.TrackingState, error)
	EnsureShopWebhooks(ctx context.Context, domain string) error
	ResyncStats() syncer.ResyncStats
}

type ShopSource interface {
	GetShopByDomain(ctx context.Context, domain string) (*models.Shop, error)
}

type KeyProvider interface {
	APIKey(ctx context.Context) (string, error)
}

type Handler struct {
	svc   SyncService
	shops ShopSource
	keys  KeyProvider
	log   *slog.Logger
}

func New(svc SyncService, shops ShopSource, keys KeyProvider, log *slog.Logger) *Handler {
	return &Handler{svc: svc, shops: shops, keys: keys, log: log}
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/webhooks", func(r chi.Router) {
		// Источники вебхуков ждут ответ около пяти секунд, дальше
		// считают доставку неудачной и повторяют её сами.
		r.Use(middleware.Timeout(5 * time.Second))
		r.Post("/orders/create", h.platformWebhook(h.ordersCreate))
		r.Post("/fulfillments/create", h.platformWebhook(h.fulfillmentsCreate))
		r.Post("/fulfillments/update", h.platformWebhook(h.fulfillmentsUpdate))
		r.Post("/refunds/create", h.platformWebhook(h.refundsCreate))
		r.Post("/trackings", h.trackingsWebhook)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/fulfillments/{id}/resync", h.adminResync)
		r.Post("/trackings/{number}/activate", h.adminActivate)
		r.Post("/trackings/{number}/toggle", h.adminToggle)
		r.Get("/trackings/{number}", h.adminTrackingState)
		r.Get("/resync/stats", h.adminResyncStats)
		r.Post("/shops/{domain}/webhooks/ensure", h.adminEnsureWebhooks)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeUnauthorized — единый ответ на любую проблему аутентификации.
// Тело не намекает, что именно не совпало и существует ли магазин.
func writeUnauthorized(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := apperr.HTTPStatus(err)
	if code == http.StatusUnauthorized {
		writeUnauthorized(w)
		return
	}
	if code >= http.StatusInternalServerError {
		h.log.Error("request failed", "error", err.Error())
		writeJSON(w, code, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}

type platformHandler func(ctx context.Context, shop *models.Shop, body []byte) (any, error)

// platformWebhook проверяет подпись до любого разбора тела. Подпись
// считается по сырым байтам; X-Shop-Domain лишь выбирает, каким секретом
// проверять.
func (h *Handler) platformWebhook(next platformHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(w, r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body"})
			return
		}

		domain := r.Header.Get(headerShopDomain)
		if domain == "" {
			writeUnauthorized(w)
			return
		}
		shop, err := h.shops.GetShopByDomain(r.Context(), domain)
		if err != nil {
			writeUnauthorized(w)
			return
		}
		if !signatures.VerifyPlatform(shop.APISecret, r.Header.Get(headerPlatformHMAC), body) {
			writeUnauthorized(w)
			return
		}

		resp, err := next(r.Context(), shop, body)
		if err != nil {
			h.writeError(w, err)
			return
		}
		if resp == nil {
			resp = map[string]bool{"ok": true}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (h *Handler) ordersCreate(ctx context.Context, shop *models.Shop, body []byte) (any, error) {
	ev, err := events.ParseOrderCreate(body)
	if err != nil {
		return nil, err
	}
	return nil, h.svc.HandleOrderCreate(ctx, shop, ev)
}

func (h *Handler) fulfillmentsCreate(ctx context.Context, shop *models.Shop, body []byte) (any, error) {
	ev, err := events.ParseFulfillmentCreate(body)
	if err != nil {
		return nil, err
	}
	return nil, h.svc.HandleFulfillmentCreate(ctx, shop, ev)
}

func (h *Handler) fulfillmentsUpdate(ctx context.Context, shop *models.Shop, body []byte) (any, error) {
	ev, err := events.ParseFulfillmentUpdate(body)
	if err != nil {
		return nil, err
	}
	return nil, h.svc.HandleFulfillmentUpdate(ctx, shop, ev)
}

func (h *Handler) refundsCreate(ctx context.Context, shop *models.Shop, body []byte) (any, error) {
	ev, err := events.ParseRefundCreate(body)
	if err != nil {
		return nil, err
	}
	res, err := h.svc.HandleRefundCreate(ctx, shop, ev)
	if err != nil {
		return nil, err
	}
	return map[string]int{
		"total":         res.Total,
		"stoppedRemote": res.StoppedRemote,
		"failedRemote":  res.FailedRemote,
	}, nil
}

func (h *Handler) trackingsWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body"})
		return
	}

	apiKey, err := h.keys.APIKey(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !signatures.VerifyAggregator(apiKey, r.Header.Get(headerAggSign), body) {
		writeUnauthorized(w)
		return
	}

	ev, err := events.ParseTrackingWebhook(body)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.svc.HandleTrackingWebhook(r.Context(), ev); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) adminResync(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad fulfillment id"})
		return
	}
	if err := h.svc.SyncFulfillment(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) adminActivate(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Activate(r.Context(), chi.URLParam(r, "number")); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"processStatus": models.ProcessStatusRunning})
}

func (h *Handler) adminToggle(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Toggle(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"processStatus": st})
}

func (h *Handler) adminTrackingState(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.GetTrackingState(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) adminResyncStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.ResyncStats())
}

func (h *Handler) adminEnsureWebhooks(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.EnsureShopWebhooks(r.Context(), chi.URLParam(r, "domain")); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
