package darkpool

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// MultiSink fans an event out to every sink. A failing sink does not stop
// the others; the joined error is returned for logging only.
type MultiSink []EventSink

func (m MultiSink) Emit(ctx context.Context, ev MatchEvent) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes the public outcome of each job to the logger.
type LogSink struct {
	Log *zap.SugaredLogger
}

func (l LogSink) Emit(_ context.Context, ev MatchEvent) error {
	l.Log.Infow("match_event",
		"computation_id", ev.ComputationID,
		"maker", ev.Maker.Hex(),
		"taker", ev.Taker.Hex(),
		"success", ev.Success,
	)
	return nil
}

// MemorySink keeps every event; used by tests and the devnet API.
type MemorySink struct {
	mu     sync.Mutex
	events []MatchEvent
}

func (m *MemorySink) Emit(_ context.Context, ev MatchEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *MemorySink) Events() []MatchEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MatchEvent(nil), m.events...)
}
