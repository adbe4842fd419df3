package syncer

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/ShipSync/internal/apperr"
	"github.com/BearBump/ShipSync/internal/broker/messages"
	"github.com/BearBump/ShipSync/internal/cache"
	"github.com/BearBump/ShipSync/internal/integrations/aggregator"
	"github.com/BearBump/ShipSync/internal/integrations/platform"
	"github.com/BearBump/ShipSync/internal/models"
	"github.com/BearBump/ShipSync/internal/services/events"
)

type Repository interface {
	GetShopByID(ctx context.Context, id uint64) (*models.Shop, error)
	GetShopByDomain(ctx context.Context, domain string) (*models.Shop, error)
	SetShopWebhooksRegistered(ctx context.Context, shopID uint64, registered bool) error

	UpsertOrder(ctx context.Context, shopID uint64, externalID, name string) (*models.Order, error)
	GetOrderByExternalID(ctx context.Context, shopID uint64, externalID string) (*models.Order, error)

	GetTrackingByNumber(ctx context.Context, number string) (*models.Tracking, error)
	SetTrackingProcessStatus(ctx context.Context, number, status string) error
	ApplyTrackingStatus(ctx context.Context, number, mainStatus, subStatus string, eventAt *time.Time) (bool, error)
	ListRunningTrackingsByOrder(ctx context.Context, orderID uint64) ([]*models.Tracking, error)

	CreateFulfillment(ctx context.Context, in models.FulfillmentCreateInput) (*models.Fulfillment, bool, error)
	GetFulfillmentByID(ctx context.Context, id uint64) (*models.Fulfillment, error)
	GetFulfillmentByExternalID(ctx context.Context, shopID uint64, externalID string) (*models.Fulfillment, error)
	FindFulfillmentByOrderAndNumber(ctx context.Context, orderID uint64, trackingID *uint64, number string) (*models.Fulfillment, error)
	ListFulfillmentsByTrackingID(ctx context.Context, trackingID uint64) ([]*models.Fulfillment, error)
	UpdateFulfillmentTracking(ctx context.Context, id uint64, number string, trackingID *uint64) error
	CommitFulfillmentStatus(ctx context.Context, id uint64, status string, updatedAt time.Time, delivered bool) error
}

type Registrar interface {
	Ensure(ctx context.Context, shop *models.Shop, number string) (*models.Tracking, error)
	Activate(ctx context.Context, number string) error
	Stop(ctx context.Context, number string) (bool, error)
}

type StatusResolver interface {
	Resolve(ctx context.Context, main, sub string) (string, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Service — оркестратор синхронизации: вебхуки обеих сторон, ручные
// resync/activate/toggle и refund-каскад сходятся сюда.
type Service struct {
	repo     Repository
	reg      Registrar
	resolver StatusResolver
	platform platform.Client
	agg      aggregator.Client
	producer Producer
	topic    string

	stateCache cache.BytesCache
	stateTTL   time.Duration

	publicBaseURL string

	pool *ResyncPool
	log  *slog.Logger
}

func New(
	repo Repository,
	reg Registrar,
	resolver StatusResolver,
	platformClient platform.Client,
	agg aggregator.Client,
	log *slog.Logger,
) *Service {
	return &Service{
		repo:     repo,
		reg:      reg,
		resolver: resolver,
		platform: platformClient,
		agg:      agg,
		log:      log,
	}
}

// WithProducer включает публикацию fulfillment.status.changed в kafka.
func (s *Service) WithProducer(p Producer, topic string) *Service {
	s.producer = p
	s.topic = topic
	return s
}

// WithStateCache включает redis-кэш текущего состояния трекинга для админки.
func (s *Service) WithStateCache(c cache.BytesCache, ttl time.Duration) *Service {
	s.stateCache = c
	s.stateTTL = ttl
	return s
}

// WithPublicBaseURL задаёт базовый адрес для callback'ов вебхуков платформы.
func (s *Service) WithPublicBaseURL(u string) *Service {
	s.publicBaseURL = u
	return s
}

// SetResyncPool подключает фоновый пул. Пул зовёт SyncFulfillment сервиса,
// поэтому связывается после конструктора.
func (s *Service) SetResyncPool(p *ResyncPool) {
	s.pool = p
}

func (s *Service) ResyncStats() ResyncStats {
	if s.pool == nil {
		return ResyncStats{}
	}
	return s.pool.Stats()
}

func (s *Service) submitResync(fulfillmentID uint64) {
	if s.pool != nil {
		s.pool.Submit(fulfillmentID)
	}
}

// HandleOrderCreate заводит заказ. Идемпотентен: повторный вебхук
// упирается в upsert.
func (s *Service) HandleOrderCreate(ctx context.Context, shop *models.Shop, ev events.OrderCreate) error {
	_, err := s.repo.UpsertOrder(ctx, shop.ID, ev.ExternalID, ev.Name)
	return err
}

// HandleFulfillmentCreate — основной входной путь. Duplicate guard по паре
// (заказ, трек-номер) срабатывает до любых внешних вызовов: повторная
// доставка не регистрирует номер заново и не плодит строки.
func (s *Service) HandleFulfillmentCreate(ctx context.Context, shop *models.Shop, ev events.FulfillmentCreate) error {
	// Вебхук заказа мог потеряться или прийти позже: заводим заказ сами.
	order, err := s.repo.GetOrderByExternalID(ctx, shop.ID, ev.OrderExternalID)
	if err != nil {
		return err
	}
	if order == nil {
		if order, err = s.repo.UpsertOrder(ctx, shop.ID, ev.OrderExternalID, ""); err != nil {
			return err
		}
	}

	var statusCurrent *string
	if ev.ShipmentStatus != "" {
		statusCurrent = &ev.ShipmentStatus
	}

	if ev.TrackingNumber == "" {
		// Fulfillment без номера: фиксируем строку, подписки нет.
		_, _, err := s.repo.CreateFulfillment(ctx, models.FulfillmentCreateInput{
			ShopID:        shop.ID,
			ExternalID:    ev.ExternalID,
			OrderID:       order.ID,
			StatusCurrent: statusCurrent,
		})
		return err
	}

	existingTracking, err := s.repo.GetTrackingByNumber(ctx, ev.TrackingNumber)
	if err != nil {
		return err
	}
	var trackingID *uint64
	if existingTracking != nil {
		trackingID = &existingTracking.ID
	}
	dup, err := s.repo.FindFulfillmentByOrderAndNumber(ctx, order.ID, trackingID, ev.TrackingNumber)
	if err != nil {
		return err
	}
	if dup != nil {
		s.log.Info("duplicate fulfillment webhook, already processed",
			"shop", shop.Domain, "order", ev.OrderExternalID, "number", ev.TrackingNumber)
		return nil
	}

	tracking, err := s.reg.Ensure(ctx, shop, ev.TrackingNumber)
	if err != nil {
		return err
	}

	f, created, err := s.repo.CreateFulfillment(ctx, models.FulfillmentCreateInput{
		ShopID:         shop.ID,
		ExternalID:     ev.ExternalID,
		OrderID:        order.ID,
		TrackingNumber: ev.TrackingNumber,
		TrackingID:     &tracking.ID,
		StatusCurrent:  statusCurrent,
	})
	if err != nil {
		return err
	}
	if created {
		// Агрегатор мог уже что-то знать про номер: догоняем в фоне,
		// не тратя дедлайн вебхука.
		s.submitResync(f.ID)
	}
	return nil
}

// HandleFulfillmentUpdate обрабатывает смену трек-номера: старая подписка
// останавливается, новая заводится, fulfillment перепривязывается.
func (s *Service) HandleFulfillmentUpdate(ctx context.Context, shop *models.Shop, ev events.FulfillmentUpdate) error {
	f, err := s.repo.GetFulfillmentByExternalID(ctx, shop.ID, ev.ExternalID)
	if err != nil {
		return err
	}

	if ev.TrackingNumber == "" || ev.TrackingNumber == f.TrackingNumber {
		if f.TrackingID != nil {
			s.submitResync(f.ID)
		}
		return nil
	}

	if f.TrackingNumber != "" && f.TrackingID != nil {
		if _, err := s.reg.Stop(ctx, f.TrackingNumber); err != nil {
			s.log.Warn("stop old tracking on number change",
				"number", f.TrackingNumber, "error", err)
		}
	}

	tracking, err := s.reg.Ensure(ctx, shop, ev.TrackingNumber)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateFulfillmentTracking(ctx, f.ID, ev.TrackingNumber, &tracking.ID); err != nil {
		return err
	}
	s.submitResync(f.ID)
	return nil
}

type RefundResult struct {
	Total         int
	StoppedRemote int
	FailedRemote  int
}

// HandleRefundCreate — refund-каскад: каждый RUNNING-трекинг заказа
// останавливается локально, удалённые стопы независимы друг от друга.
// Неизвестный заказ считается уже обработанным.
func (s *Service) HandleRefundCreate(ctx context.Context, shop *models.Shop, ev events.RefundCreate) (RefundResult, error) {
	var res RefundResult

	order, err := s.repo.GetOrderByExternalID(ctx, shop.ID, ev.OrderExternalID)
	if err != nil {
		return res, err
	}
	if order == nil {
		s.log.Info("refund for unknown order, nothing to stop",
			"shop", shop.Domain, "order", ev.OrderExternalID)
		return res, nil
	}

	trackings, err := s.repo.ListRunningTrackingsByOrder(ctx, order.ID)
	if err != nil {
		return res, err
	}
	res.Total = len(trackings)

	for _, t := range trackings {
		remote, err := s.reg.Stop(ctx, t.Number)
		if err != nil {
			res.FailedRemote++
			s.log.Error("refund cascade stop", "number", t.Number, "error", err)
			continue
		}
		if remote {
			res.StoppedRemote++
		} else {
			res.FailedRemote++
		}
		s.invalidateState(ctx, t.Number)
	}
	return res, nil
}

// HandleTrackingWebhook применяет push-событие агрегатора. Статус берётся
// прямо из payload'а, без обратного похода за gettrackinfo. Неизвестный
// номер — не ошибка: подписку могли остановить, пока событие было в пути.
func (s *Service) HandleTrackingWebhook(ctx context.Context, ev events.TrackingWebhook) error {
	tracking, err := s.repo.GetTrackingByNumber(ctx, ev.Number)
	if err != nil {
		return err
	}
	if tracking == nil {
		s.log.Warn("tracking webhook for unknown number", "number", ev.Number)
		return nil
	}

	if ev.Event == events.EventTrackingStopped {
		if err := s.repo.SetTrackingProcessStatus(ctx, ev.Number, models.ProcessStatusStopped); err != nil {
			return err
		}
	}

	if ev.Status == "" {
		s.invalidateState(ctx, ev.Number)
		return nil
	}

	if _, err := s.repo.ApplyTrackingStatus(ctx, ev.Number, ev.Status, ev.SubStatus, ev.LatestAt); err != nil {
		return err
	}
	s.invalidateState(ctx, ev.Number)

	// Fulfillment'ы проверяем и на повторной доставке того же наблюдения:
	// прошлый заход мог упасть на пуше в платформу уже после того, как
	// статус трекинга записался. pushStatus сам гасит no-op, когда
	// status_current уже совпадает.
	fulfillments, err := s.repo.ListFulfillmentsByTrackingID(ctx, tracking.ID)
	if err != nil {
		return err
	}
	for _, f := range fulfillments {
		if err := s.pushStatus(ctx, f, ev.Status, ev.SubStatus); err != nil {
			return err
		}
	}
	return nil
}

// SyncFulfillment — ручной и фоновый ресинк: состояние берётся у агрегатора
// через gettrackinfo, дальше тот же путь, что и у вебхука.
func (s *Service) SyncFulfillment(ctx context.Context, fulfillmentID uint64) error {
	f, err := s.repo.GetFulfillmentByID(ctx, fulfillmentID)
	if err != nil {
		return err
	}
	if f.TrackingNumber == "" {
		s.log.Info("fulfillment has no tracking number, nothing to sync", "fulfillment_id", f.ID)
		return nil
	}

	infos, err := s.agg.GetTrackInfo(ctx, []string{f.TrackingNumber})
	if err != nil {
		return apperr.External(err, "gettrackinfo")
	}
	if len(infos) == 0 {
		return errors.Wrap(apperr.ErrExternal, "gettrackinfo returned no data")
	}
	info := infos[0]
	if info.Status == "" || info.Status == models.AggStatusNotFound {
		// Агрегатор ещё ничего не знает про номер.
		return nil
	}

	if _, err := s.repo.ApplyTrackingStatus(ctx, f.TrackingNumber, info.Status, info.SubStatus, info.LatestEventAt); err != nil {
		return err
	}
	s.invalidateState(ctx, f.TrackingNumber)
	return s.pushStatus(ctx, f, info.Status, info.SubStatus)
}

// pushStatus резолвит статус платформы и, если он изменился, делает
// двухфазную запись: событие в платформу, затем локальный коммит.
func (s *Service) pushStatus(ctx context.Context, f *models.Fulfillment, main, sub string) error {
	status, err := s.resolver.Resolve(ctx, main, sub)
	if err != nil {
		return err
	}
	if f.StatusCurrent != nil && *f.StatusCurrent == status {
		return nil
	}

	shop, err := s.repo.GetShopByID(ctx, f.ShopID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	delivered := status == models.PlatformStatusDelivered

	err = twophaseDo(ctx,
		func(ctx context.Context) error {
			return s.platform.CreateFulfillmentEvent(ctx, shop, f.ExternalID, status, now)
		},
		func(ctx context.Context) error {
			return s.repo.CommitFulfillmentStatus(ctx, f.ID, status, now, delivered)
		},
	)
	if err != nil {
		return err
	}

	var oldStatus string
	if f.StatusCurrent != nil {
		oldStatus = *f.StatusCurrent
	}
	f.StatusCurrent = &status
	f.StatusCurrentUpdatedAt = &now

	s.publishStatusChanged(ctx, f, shop.Domain, oldStatus, status, now)
	s.invalidateState(ctx, f.TrackingNumber)

	if delivered {
		// Посылка доставлена, апдейтов больше не будет.
		if _, err := s.reg.Stop(ctx, f.TrackingNumber); err != nil {
			s.log.Warn("stop delivered tracking", "number", f.TrackingNumber, "error", err)
		}
	}
	return nil
}

// publishStatusChanged — best effort: упавшая kafka не должна валить
// уже закоммиченную синхронизацию.
func (s *Service) publishStatusChanged(ctx context.Context, f *models.Fulfillment, shopDomain, oldStatus, newStatus string, at time.Time) {
	if s.producer == nil {
		return
	}
	msg := messages.FulfillmentStatusChanged{
		FulfillmentID:  f.ID,
		ShopDomain:     shopDomain,
		TrackingNumber: f.TrackingNumber,
		OldStatus:      oldStatus,
		NewStatus:      newStatus,
		OccurredAt:     at,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("marshal status changed", "error", err)
		return
	}
	if err := s.producer.Publish(ctx, s.topic, []byte(f.TrackingNumber), b); err != nil {
		s.log.Error("publish status changed", "fulfillment_id", f.ID, "error", err)
	}
}

// Activate — ручная (ре)активация подписки на номер.
func (s *Service) Activate(ctx context.Context, number string) error {
	if err := s.reg.Activate(ctx, number); err != nil {
		return err
	}
	s.invalidateState(ctx, number)
	return nil
}

// Toggle переключает RUNNING/STOPPED. Возвращает новый процессный статус.
func (s *Service) Toggle(ctx context.Context, number string) (string, error) {
	tracking, err := s.repo.GetTrackingByNumber(ctx, number)
	if err != nil {
		return "", err
	}
	if tracking == nil {
		return "", apperr.NotFound("tracking " + number)
	}

	if tracking.ProcessStatus == models.ProcessStatusRunning {
		if _, err := s.reg.Stop(ctx, number); err != nil {
			return "", err
		}
		s.invalidateState(ctx, number)
		return models.ProcessStatusStopped, nil
	}
	if err := s.reg.Activate(ctx, number); err != nil {
		return "", err
	}
	s.invalidateState(ctx, number)
	return models.ProcessStatusRunning, nil
}

// TrackingState — снимок трекинга для админки.
type TrackingState struct {
	Number        string     `json:"number"`
	ProcessStatus string     `json:"processStatus"`
	LastStatus    string     `json:"lastStatus,omitempty"`
	LastSubStatus string     `json:"lastSubStatus,omitempty"`
	LastEventAt   *time.Time `json:"lastEventAt,omitempty"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

func stateKey(number string) string { return "tracking:state:" + number }

// GetTrackingState отдаёт состояние через кэш; промах читает базу и
// прогревает ключ. Каждый применённый апдейт инвалидирует ключ.
func (s *Service) GetTrackingState(ctx context.Context, number string) (*TrackingState, error) {
	if s.stateCache != nil {
		if b, ok, err := s.stateCache.Get(ctx, stateKey(number)); err == nil && ok {
			var st TrackingState
			if err := json.Unmarshal(b, &st); err == nil {
				return &st, nil
			}
		}
	}

	tracking, err := s.repo.GetTrackingByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if tracking == nil {
		return nil, apperr.NotFound("tracking " + number)
	}

	st := &TrackingState{
		Number:        tracking.Number,
		ProcessStatus: tracking.ProcessStatus,
		LastStatus:    tracking.LastStatus,
		LastSubStatus: tracking.LastSubStatus,
		LastEventAt:   tracking.LastEventAt,
		UpdatedAt:     tracking.UpdatedAt,
	}
	if s.stateCache != nil {
		if b, err := json.Marshal(st); err == nil {
			if err := s.stateCache.Set(ctx, stateKey(number), b, s.stateTTL); err != nil {
				s.log.Warn("cache tracking state", "number", number, "error", err)
			}
		}
	}
	return st, nil
}

func (s *Service) invalidateState(ctx context.Context, number string) {
	if s.stateCache == nil || number == "" {
		return
	}
	if err := s.stateCache.Del(ctx, stateKey(number)); err != nil {
		s.log.Warn("invalidate tracking state", "number", number, "error", err)
	}
}

// Топики платформы, на которые подписывается сервис.
var requiredWebhookTopics = map[string]string{
	"orders/create":       "/webhooks/orders/create",
	"fulfillments/create": "/webhooks/fulfillments/create",
	"fulfillments/update": "/webhooks/fulfillments/update",
	"refunds/create":      "/webhooks/refunds/create",
}

// EnsureShopWebhooks досоздаёт недостающие подписки платформы для магазина.
// Существующие не трогаем: повторный вызов безопасен.
func (s *Service) EnsureShopWebhooks(ctx context.Context, domain string) error {
	shop, err := s.repo.GetShopByDomain(ctx, domain)
	if err != nil {
		return err
	}

	existing, err := s.platform.ListWebhooks(ctx, shop)
	if err != nil {
		return apperr.External(err, "list webhooks")
	}
	have := make(map[string]bool, len(existing))
	for _, w := range existing {
		have[w.Topic] = true
	}

	for topic, path := range requiredWebhookTopics {
		if have[topic] {
			continue
		}
		if _, err := s.platform.CreateWebhook(ctx, shop, topic, s.publicBaseURL+path); err != nil {
			return apperr.External(err, "create webhook "+topic)
		}
		s.log.Info("webhook subscription created", "shop", domain, "topic", topic)
	}
	return s.repo.SetShopWebhooksRegistered(ctx, shop.ID, true)
}
