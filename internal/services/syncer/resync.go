package syncer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ResyncPool выполняет фоновые ресинки fulfillment'ов: фиксированное число
// воркеров, буферизованная очередь. Ошибки задач только логируются, ретраев
// нет (следующий вебхук или ручной resync догонит состояние). Submit никогда
// не блокирует обработчик вебхука: при полной очереди задача отбрасывается.
type ResyncPool struct {
	sync    func(ctx context.Context, fulfillmentID uint64) error
	queue   chan uint64
	workers int

	startedAtUnixNano int64
	submitted         atomic.Int64
	dropped           atomic.Int64
	processed         atomic.Int64
	failed            atomic.Int64
	inFlight          atomic.Int64
	lastErrorMu       sync.Mutex
	lastError         string
}

func NewResyncPool(syncFn func(ctx context.Context, fulfillmentID uint64) error, workers, queueSize int) *ResyncPool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &ResyncPool{
		sync:              syncFn,
		queue:             make(chan uint64, queueSize),
		workers:           workers,
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

// Submit ставит ресинк в очередь. Fire-and-forget: результат вызывающему
// не возвращается, переполнение очереди — не ошибка запроса.
func (p *ResyncPool) Submit(fulfillmentID uint64) {
	p.submitted.Add(1)
	select {
	case p.queue <- fulfillmentID:
	default:
		p.dropped.Add(1)
		slog.Warn("resync queue full, dropping task", "fulfillment_id", fulfillmentID)
	}
}

func (p *ResyncPool) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (p *ResyncPool) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-p.queue:
			p.inFlight.Add(1)
			if err := p.sync(ctx, id); err != nil {
				p.failed.Add(1)
				p.lastErrorMu.Lock()
				p.lastError = err.Error()
				p.lastErrorMu.Unlock()
				slog.Error("background resync", "fulfillment_id", id, "error", err.Error())
			}
			p.processed.Add(1)
			p.inFlight.Add(-1)
		}
	}
}

type ResyncStats struct {
	StartedAt time.Time `json:"startedAt"`
	Submitted int64     `json:"submitted"`
	Dropped   int64     `json:"dropped"`
	Processed int64     `json:"processed"`
	Failed    int64     `json:"failed"`
	InFlight  int64     `json:"inFlight"`
	QueueLen  int       `json:"queueLen"`
	LastError string    `json:"lastError,omitempty"`
}

func (p *ResyncPool) Stats() ResyncStats {
	st := ResyncStats{
		StartedAt: time.Unix(0, p.startedAtUnixNano).UTC(),
		Submitted: p.submitted.Load(),
		Dropped:   p.dropped.Load(),
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
		InFlight:  p.inFlight.Load(),
		QueueLen:  len(p.queue),
	}
	p.lastErrorMu.Lock()
	st.LastError = p.lastError
	p.lastErrorMu.Unlock()
	return st
}
