package statusmap

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/BearBump/ShipSync/internal/apperr"
	"github.com/BearBump/ShipSync/internal/models"
)

type MappingsRepo interface {
	ListStatusMappings(ctx context.Context) ([]*models.StatusMapping, error)
}

// Resolver переводит пару (главный статус, суб-статус) агрегатора в статус
// платформы по таблице status_mappings. Таблица кэшируется в памяти,
// Reload перечитывает её без рестарта.
type Resolver struct {
	repo MappingsRepo

	mu       sync.RWMutex
	exact    map[string]string // main + "\x00" + sub -> platform status
	fallback map[string]string // main -> platform status (sub IS NULL)
	loaded   bool
}

func NewResolver(repo MappingsRepo) *Resolver {
	return &Resolver{repo: repo}
}

func (r *Resolver) load(ctx context.Context) error {
	rows, err := r.repo.ListStatusMappings(ctx)
	if err != nil {
		return errors.Wrap(err, "load status mappings")
	}
	exact := make(map[string]string, len(rows))
	fallback := make(map[string]string)
	for _, m := range rows {
		if m.SubStatus == nil {
			fallback[m.MainStatus] = m.PlatformStatus
			continue
		}
		exact[m.MainStatus+"\x00"+*m.SubStatus] = m.PlatformStatus
	}
	r.exact = exact
	r.fallback = fallback
	r.loaded = true
	return nil
}

func (r *Resolver) ensureLoaded(ctx context.Context) error {
	r.mu.RLock()
	loaded := r.loaded
	r.mu.RUnlock()
	if loaded {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return nil
	}
	return r.load(ctx)
}

// Reload перечитывает таблицу. При ошибке старый кэш остаётся рабочим.
func (r *Resolver) Reload(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load(ctx)
}

// Resolve: классификация сырого суб-статуса, точное совпадение,
// затем fallback главного статуса. Молчаливого дефолта нет: дыра
// в таблице — это ошибка, а не "какой-нибудь" статус.
func (r *Resolver) Resolve(ctx context.Context, main, rawSub string) (string, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return "", err
	}
	sub := Classify(main, rawSub)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if sub != "" {
		if ps, ok := r.exact[main+"\x00"+sub]; ok {
			return ps, nil
		}
	}
	if ps, ok := r.fallback[main]; ok {
		return ps, nil
	}
	return "", errors.Wrapf(apperr.ErrUnresolved, "no mapping for %s/%s", main, rawSub)
}
