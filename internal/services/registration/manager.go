package registration

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/BearBump/ShipSync/internal/apperr"
	"github.com/BearBump/ShipSync/internal/integrations/aggregator"
	"github.com/BearBump/ShipSync/internal/models"
)

type TrackingsRepo interface {
	GetTrackingByNumber(ctx context.Context, number string) (*models.Tracking, error)
	CreateTracking(ctx context.Context, number, processStatus string) (*models.Tracking, error)
	SetTrackingProcessStatus(ctx context.Context, number, status string) error
}

type RateLimiter interface {
	AllowPerMinute(ctx context.Context, scope string, limit int64) (bool, int64, error)
}

// Manager владеет жизненным циклом подписки на трек-номер у агрегатора
// и процессным статусом RUNNING/STOPPED локальной строки trackings.
type Manager struct {
	repo    TrackingsRepo
	agg     aggregator.Client
	limiter RateLimiter
	limit   int64
	log     *slog.Logger
}

func NewManager(repo TrackingsRepo, agg aggregator.Client, limiter RateLimiter, limitPerMinute int64, log *slog.Logger) *Manager {
	return &Manager{repo: repo, agg: agg, limiter: limiter, limit: limitPerMinute, log: log}
}

func (m *Manager) allow(ctx context.Context) error {
	if m.limiter == nil || m.limit <= 0 {
		return nil
	}
	ok, n, err := m.limiter.AllowPerMinute(ctx, "aggregator", m.limit)
	if err != nil {
		// Редис лёг — не блокируем исходящие вызовы.
		m.log.Warn("rate limiter unavailable", "error", err)
		return nil
	}
	if !ok {
		return errors.Wrapf(apperr.ErrExternal, "aggregator rate limit exceeded: %d/%d", n, m.limit)
	}
	return nil
}

// Ensure приводит номер к состоянию "подписка есть и работает".
// Идемпотентен: RUNNING-строка — no-op, STOPPED — реактивация,
// отсутствие строки — регистрация. Для неактивного магазина строка
// создаётся сразу STOPPED, без похода к агрегатору.
func (m *Manager) Ensure(ctx context.Context, shop *models.Shop, number string) (*models.Tracking, error) {
	existing, err := m.repo.GetTrackingByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.ProcessStatus == models.ProcessStatusRunning {
			return existing, nil
		}
		if err := m.Activate(ctx, number); err != nil {
			return nil, err
		}
		existing.ProcessStatus = models.ProcessStatusRunning
		return existing, nil
	}

	if !shop.Active {
		return m.repo.CreateTracking(ctx, number, models.ProcessStatusStopped)
	}

	if err := m.register(ctx, number); err != nil {
		return nil, err
	}
	return m.repo.CreateTracking(ctx, number, models.ProcessStatusRunning)
}

func (m *Manager) register(ctx context.Context, number string) error {
	if err := m.allow(ctx); err != nil {
		return err
	}
	res, err := m.agg.Register(ctx, []string{number})
	if err != nil {
		return apperr.External(err, "register tracking")
	}
	for _, rej := range res.Rejected {
		if rej.Number == number {
			return errors.Wrapf(apperr.ErrExternal, "register rejected: %d %s", rej.Code, rej.Message)
		}
	}
	return nil
}

// Activate переводит существующий трекинг в RUNNING. Повторная подписка
// идёт через retrack; на отказ "retrack not allowed" ровно один раз
// пробуем register, для вызывающего это прозрачно.
func (m *Manager) Activate(ctx context.Context, number string) error {
	t, err := m.repo.GetTrackingByNumber(ctx, number)
	if err != nil {
		return err
	}
	if t == nil {
		return apperr.NotFound("tracking " + number)
	}

	if err := m.allow(ctx); err != nil {
		return err
	}
	err = m.agg.Retrack(ctx, number)
	if errors.Is(err, aggregator.ErrRetrackNotAllowed) {
		m.log.Info("retrack not allowed, falling back to register", "number", number)
		err = m.register(ctx, number)
	} else if err != nil {
		err = apperr.External(err, "retrack")
	}
	if err != nil {
		return err
	}
	return m.repo.SetTrackingProcessStatus(ctx, number, models.ProcessStatusRunning)
}

// Stop останавливает подписку. Удалённый stoptrack — best effort:
// локальный переход в STOPPED происходит в любом случае, иначе
// упавший агрегатор заблокировал бы и refund, и ручную остановку.
// Возвращает, удалось ли остановить подписку на стороне агрегатора.
func (m *Manager) Stop(ctx context.Context, number string) (bool, error) {
	t, err := m.repo.GetTrackingByNumber(ctx, number)
	if err != nil {
		return false, err
	}
	if t == nil {
		return false, apperr.NotFound("tracking " + number)
	}

	remoteStopped := false
	if err := m.allow(ctx); err != nil {
		m.log.Warn("stoptrack skipped remote call", "number", number, "error", err)
	} else if err := m.agg.StopTrack(ctx, number); err != nil {
		m.log.Warn("stoptrack failed, stopping locally anyway", "number", number, "error", err)
	} else {
		remoteStopped = true
	}
	return remoteStopped, m.repo.SetTrackingProcessStatus(ctx, number, models.ProcessStatusStopped)
}
