package job

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"conviction-engine/internal/domain"
	"conviction-engine/internal/learning"
	"conviction-engine/internal/queue"

	"go.opentelemetry.io/otel/trace"
)

var testTracer = trace.NewNoopTracerProvider().Tracer("test")

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

type stubConsumer struct {
	mu         sync.Mutex
	deliveries []queue.Delivery
	acked      []string
}

func (s *stubConsumer) push(outcome domain.TradeOutcome, decodeErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := queue.NewDelivery(outcome, func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.acked = append(s.acked, outcome.ID)
		return nil
	})
	d.DecodeErr = decodeErr
	s.deliveries = append(s.deliveries, d)
}

func (s *stubConsumer) Receive(ctx context.Context) (queue.Delivery, error) {
	for {
		s.mu.Lock()
		if len(s.deliveries) > 0 {
			d := s.deliveries[0]
			s.deliveries = s.deliveries[1:]
			s.mu.Unlock()
			return d, nil
		}
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			return queue.Delivery{}, ctx.Err()
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func (s *stubConsumer) ackedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.acked...)
}

type stubProcessor struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    int
	applied  []string
}

func (s *stubProcessor) ProcessTradeOutcome(ctx context.Context, outcome domain.TradeOutcome) (learning.Applied, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return learning.Applied{}, s.err
	}
	if s.failures > 0 {
		s.failures--
		return learning.Applied{}, errors.New("store unavailable")
	}
	s.applied = append(s.applied, outcome.ID)
	return learning.Applied{OutcomeID: outcome.ID}, nil
}

func (s *stubProcessor) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestConsumerJob(consumer queue.Consumer, processor OutcomeProcessor) *OutcomeConsumerJob {
	j := NewOutcomeConsumerJob(testTracer, consumer, processor, 3)
	j.initialDelay = time.Millisecond
	j.maxDelay = 4 * time.Millisecond
	return j
}

func runJob(t *testing.T, start func(ctx context.Context)) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		start(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func TestOutcomeConsumerAppliesAndAcks(t *testing.T) {
	consumer := &stubConsumer{}
	consumer.push(domain.TradeOutcome{ID: "o-1", Ticker: "AAPL"}, nil)
	consumer.push(domain.TradeOutcome{ID: "o-2", Ticker: "MSFT"}, nil)
	processor := &stubProcessor{}

	runJob(t, newTestConsumerJob(consumer, processor).Start)

	eventually(t, func() bool { return len(consumer.ackedIDs()) == 2 })
	acked := consumer.ackedIDs()
	if acked[0] != "o-1" || acked[1] != "o-2" {
		t.Fatalf("expected in-order acks, got %v", acked)
	}
}

func TestOutcomeConsumerRetriesBeforeAck(t *testing.T) {
	consumer := &stubConsumer{}
	consumer.push(domain.TradeOutcome{ID: "o-1", Ticker: "AAPL"}, nil)
	processor := &stubProcessor{failures: 5}

	runJob(t, newTestConsumerJob(consumer, processor).Start)

	eventually(t, func() bool { return len(consumer.ackedIDs()) == 1 })
	if got := processor.callCount(); got != 6 {
		t.Fatalf("expected 6 attempts past the retry max, got %d", got)
	}
}

func TestOutcomeConsumerNeverAcksPersistentFailure(t *testing.T) {
	consumer := &stubConsumer{}
	consumer.push(domain.TradeOutcome{ID: "o-1", Ticker: "AAPL"}, nil)
	processor := &stubProcessor{err: errors.New("db down")}

	cancel := runJob(t, newTestConsumerJob(consumer, processor).Start)

	eventually(t, func() bool { return processor.callCount() > 5 })
	cancel()
	if acked := consumer.ackedIDs(); len(acked) != 0 {
		t.Fatalf("failing outcome must stay unacked, got %v", acked)
	}
}

func TestOutcomeConsumerDropsInvalidAndUndecodable(t *testing.T) {
	consumer := &stubConsumer{}
	consumer.push(domain.TradeOutcome{ID: "bad-json"}, errors.New("unexpected EOF"))
	consumer.push(domain.TradeOutcome{ID: "invalid"}, nil)
	processor := &stubProcessor{err: learning.ErrInvalidOutcome}

	runJob(t, newTestConsumerJob(consumer, processor).Start)

	eventually(t, func() bool { return len(consumer.ackedIDs()) == 2 })
	if got := processor.callCount(); got != 1 {
		t.Fatalf("undecodable payload must not reach the learning loop, got %d calls", got)
	}
}

func TestOutcomeConsumerWithMemoryQueue(t *testing.T) {
	q := queue.NewMemoryQueue(4)
	processor := &stubProcessor{}
	done := make(chan struct{})
	go func() {
		newTestConsumerJob(q, processor).Start(context.Background())
		close(done)
	}()

	for _, id := range []string{"a", "b", "c"} {
		if err := q.Publish(context.Background(), domain.TradeOutcome{ID: id, Ticker: "X"}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	eventually(t, func() bool {
		processor.mu.Lock()
		defer processor.mu.Unlock()
		return len(processor.applied) == 3
	})

	_ = q.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumer should stop when the queue closes")
	}
}

func TestOutcomeConsumerDisabled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	NewOutcomeConsumerJob(testTracer, nil, nil, 0).Start(ctx)
}

func TestOutcomeConsumerWithLearningLoop(t *testing.T) {
	store := learning.NewMemoryStore()
	loop := learning.NewLoop(store, learning.DefaultRules(), testTracer)
	q := queue.NewMemoryQueue(8)

	runJob(t, newTestConsumerJob(q, loop).Start)

	for i := 0; i < 5; i++ {
		_ = q.Publish(context.Background(), domain.TradeOutcome{
			ID:                    string(rune('a' + i)),
			Ticker:                "AAPL",
			PnLPercent:            2,
			ContributingSourceIDs: []string{"technical"},
			ClosedAt:              time.Now(),
		})
	}
	eventually(t, func() bool {
		state, _ := store.LoadState(context.Background())
		return state.Weights["technical"].Wins == 5
	})
}

type stubCalibrator struct {
	calls  int32
	factor float64
	ok     bool
	err    error
}

func (s *stubCalibrator) Recompute(ctx context.Context) (float64, bool, error) {
	atomic.AddInt32(&s.calls, 1)
	return s.factor, s.ok, s.err
}

func TestDriftSchedulerRunOnce(t *testing.T) {
	for _, c := range []*stubCalibrator{
		{factor: 0.9, ok: true},
		{ok: false},
		{err: errors.New("db down")},
	} {
		NewDriftScheduler(testTracer, c, "").RunOnce(context.Background())
		if atomic.LoadInt32(&c.calls) != 1 {
			t.Fatalf("expected one recompute, got %d", c.calls)
		}
	}
}

func TestDriftSchedulerRejectsBadSchedule(t *testing.T) {
	s := NewDriftScheduler(testTracer, &stubCalibrator{}, "not a cron")
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected schedule parse error")
	}
}

func TestDriftSchedulerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewDriftScheduler(testTracer, &stubCalibrator{}, "@every 1h")
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

type stubLoader struct{ calls int32 }

func (s *stubLoader) Load(ctx context.Context) (domain.LearningState, string) {
	atomic.AddInt32(&s.calls, 1)
	return domain.DefaultLearningState(), "defaults"
}

func TestStateRefresherPolls(t *testing.T) {
	loader := &stubLoader{}
	r := NewStateRefresher(testTracer, loader, 10*time.Millisecond)

	runJob(t, r.Start)

	eventually(t, func() bool { return atomic.LoadInt32(&loader.calls) >= 3 })
}
