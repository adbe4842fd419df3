package aggregator

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// MaxBatch — лимит агрегатора на количество номеров в одном запросе.
const MaxBatch = 40

// ErrRetrackNotAllowed — класс отказа "повторный retrack запрещён".
// Предсказать его на клиенте нельзя, поэтому retrack всегда может
// провалиться этим классом, и вызывающий делает fallback на register.
var ErrRetrackNotAllowed = errors.New("retrack not allowed")

type Rejection struct {
	Number  string
	Code    int
	Message string
}

type RegisterResult struct {
	Accepted []string
	Rejected []Rejection
}

type TrackInfo struct {
	Number         string
	Status         string
	SubStatus      string
	LatestEventAt  *time.Time
	LatestEventDes string
}

type Client interface {
	Register(ctx context.Context, numbers []string) (RegisterResult, error)
	Retrack(ctx context.Context, number string) error
	StopTrack(ctx context.Context, number string) error
	GetTrackInfo(ctx context.Context, numbers []string) ([]TrackInfo, error)
}
