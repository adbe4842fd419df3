package fake

import (
	"context"
	"sync"

	"github.com/BearBump/ShipSync/internal/integrations/aggregator"
)

// FakeClient — управляемая заглушка агрегатора для тестов и локального стенда.
// Все вызовы записываются; поведение настраивается полями.
type FakeClient struct {
	mu sync.Mutex

	// Номера, которые register должен отклонить.
	RejectRegister map[string]string
	// Ошибка retrack на номер (например aggregator.ErrRetrackNotAllowed).
	RetrackErr map[string]error
	StopErr    map[string]error

	// Ответ gettrackinfo на номер.
	Info map[string]aggregator.TrackInfo

	Registered []string
	Retracked  []string
	Stopped    []string
}

func New() *FakeClient {
	return &FakeClient{
		RejectRegister: map[string]string{},
		RetrackErr:     map[string]error{},
		StopErr:        map[string]error{},
		Info:           map[string]aggregator.TrackInfo{},
	}
}

func (f *FakeClient) Register(ctx context.Context, numbers []string) (aggregator.RegisterResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var res aggregator.RegisterResult
	for _, n := range numbers {
		if msg, ok := f.RejectRegister[n]; ok {
			res.Rejected = append(res.Rejected, aggregator.Rejection{Number: n, Code: -18010012, Message: msg})
			continue
		}
		f.Registered = append(f.Registered, n)
		res.Accepted = append(res.Accepted, n)
	}
	return res, nil
}

func (f *FakeClient) Retrack(ctx context.Context, number string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.RetrackErr[number]; ok {
		return err
	}
	f.Retracked = append(f.Retracked, number)
	return nil
}

func (f *FakeClient) StopTrack(ctx context.Context, number string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.StopErr[number]; ok {
		return err
	}
	f.Stopped = append(f.Stopped, number)
	return nil
}

func (f *FakeClient) GetTrackInfo(ctx context.Context, numbers []string) ([]aggregator.TrackInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]aggregator.TrackInfo, 0, len(numbers))
	for _, n := range numbers {
		if info, ok := f.Info[n]; ok {
			out = append(out, info)
			continue
		}
		out = append(out, aggregator.TrackInfo{Number: n, Status: "NotFound"})
	}
	return out, nil
}
