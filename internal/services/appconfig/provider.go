package appconfig

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

type Repository interface {
	GetAggregatorAPIKey(ctx context.Context) (string, error)
}

// Provider — узкий кэш API-ключа агрегатора: load-on-miss плюс явный Reset.
// Никакого глобального синглтона, в тестах подменяется целиком.
type Provider struct {
	repo Repository

	mu     sync.Mutex
	key    string
	loaded bool
}

func New(repo Repository) *Provider {
	return &Provider{repo: repo}
}

func (p *Provider) APIKey(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.loaded {
		return p.key, nil
	}

	key, err := p.repo.GetAggregatorAPIKey(ctx)
	if err != nil {
		return "", errors.Wrap(err, "load aggregator api key")
	}
	p.key = key
	p.loaded = true
	return key, nil
}

// Reset сбрасывает кэш: следующий APIKey перечитает ключ из хранилища.
func (p *Provider) Reset() {
	p.mu.Lock()
	p.loaded = false
	p.key = ""
	p.mu.Unlock()
}
