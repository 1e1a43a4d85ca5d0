package publisher

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/messaging"
	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/models"
)

var testQueue = messaging.QueueSpec{Name: "order_queue", Durable: true}

// flakyTransport fails every publish after the first failAfter calls.
type flakyTransport struct {
	*messaging.MemoryBroker
	mu        sync.Mutex
	calls     int
	failAfter int
}

var errBrokerGone = errors.New("broker gone")

func (f *flakyTransport) Publish(ctx context.Context, queue string, msg messaging.Message) error {
	f.mu.Lock()
	f.calls++
	calls := f.calls
	f.mu.Unlock()
	if calls > f.failAfter {
		return errBrokerGone
	}
	return f.MemoryBroker.Publish(ctx, queue, msg)
}

func drain(t *testing.T, b *messaging.MemoryBroker, n int) []models.Order {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ch, err := b.Consume(ctx, testQueue.Name, messaging.ConsumeOptions{AutoAck: true})
	if err != nil {
		t.Fatalf("Consume error: %v", err)
	}
	orders := make([]models.Order, 0, n)
	for len(orders) < n {
		select {
		case d := <-ch:
			o, err := models.Decode(d.Body)
			if err != nil {
				t.Fatalf("Decode error: %v", err)
			}
			orders = append(orders, o)
		case <-ctx.Done():
			t.Fatalf("got %d orders, want %d", len(orders), n)
		}
	}
	return orders
}

func noPace(context.Context, time.Duration) error { return nil }

func TestRandomOrder_Ranges(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for i := 1; i <= 500; i++ {
		o := RandomOrder(r, i, models.DefaultCatalog)
		if err := o.Validate(); err != nil {
			t.Fatalf("order %d invalid: %v (%+v)", i, err, o)
		}
		if o.OrderID != i {
			t.Errorf("OrderID = %d, want %d", o.OrderID, i)
		}
		if !models.DefaultCatalog.Contains(o.Product) {
			t.Errorf("product %q not in catalog", o.Product)
		}
	}
}

func TestRandomOrder_Deterministic(t *testing.T) {
	a := RandomOrder(rand.New(rand.NewPCG(42, 42)), 1, models.DefaultCatalog)
	b := RandomOrder(rand.New(rand.NewPCG(42, 42)), 1, models.DefaultCatalog)
	if a != b {
		t.Errorf("same seed produced %+v and %+v", a, b)
	}
}

func TestGenerateAndPublish(t *testing.T) {
	broker := messaging.NewMemoryBroker()
	g, err := NewOrderGenerator(context.Background(), broker, GeneratorConfig{Queue: testQueue, Seed: 7}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewOrderGenerator error: %v", err)
	}

	report, err := g.GenerateAndPublish(context.Background(), 10, models.DefaultCatalog)
	if err != nil {
		t.Fatalf("GenerateAndPublish error: %v", err)
	}
	if report.Requested != 10 || report.Published != 10 || report.LastOrderID != 10 {
		t.Errorf("report = %+v", report)
	}

	orders := drain(t, broker, 10)
	for i, o := range orders {
		if o.OrderID != i+1 {
			t.Errorf("orders[%d].OrderID = %d, want %d", i, o.OrderID, i+1)
		}
	}
}

func TestGenerateAndPublish_SingleOrder(t *testing.T) {
	broker := messaging.NewMemoryBroker()
	var waits int
	pace := func(context.Context, time.Duration) error { waits++; return nil }
	g, err := NewOrderGenerator(context.Background(), broker,
		GeneratorConfig{Queue: testQueue, Interval: time.Second, Seed: 1},
		zaptest.NewLogger(t), WithPacer(pace))
	if err != nil {
		t.Fatalf("NewOrderGenerator error: %v", err)
	}

	report, err := g.GenerateAndPublish(context.Background(), 1, models.Catalog{"Laptop"})
	if err != nil {
		t.Fatalf("GenerateAndPublish error: %v", err)
	}
	if report.Published != 1 || waits != 0 {
		t.Errorf("published %d with %d waits, want 1 with 0", report.Published, waits)
	}
	if o := drain(t, broker, 1)[0]; o.Product != "Laptop" {
		t.Errorf("product = %q", o.Product)
	}
}

func TestGenerateAndPublish_PacesBetweenPublishes(t *testing.T) {
	broker := messaging.NewMemoryBroker()
	var waits []time.Duration
	pace := func(_ context.Context, d time.Duration) error { waits = append(waits, d); return nil }
	g, err := NewOrderGenerator(context.Background(), broker,
		GeneratorConfig{Queue: testQueue, Interval: 500 * time.Millisecond},
		zaptest.NewLogger(t), WithPacer(pace))
	if err != nil {
		t.Fatalf("NewOrderGenerator error: %v", err)
	}

	if _, err := g.GenerateAndPublish(context.Background(), 4, models.DefaultCatalog); err != nil {
		t.Fatalf("GenerateAndPublish error: %v", err)
	}
	if len(waits) != 3 {
		t.Fatalf("waits = %v, want 3", waits)
	}
	for _, w := range waits {
		if w != 500*time.Millisecond {
			t.Errorf("wait = %v", w)
		}
	}
}

func TestGenerateAndPublish_StopsAtFirstFailure(t *testing.T) {
	ft := &flakyTransport{MemoryBroker: messaging.NewMemoryBroker(), failAfter: 3}
	g, err := NewOrderGenerator(context.Background(), ft, GeneratorConfig{Queue: testQueue}, zaptest.NewLogger(t), WithPacer(noPace))
	if err != nil {
		t.Fatalf("NewOrderGenerator error: %v", err)
	}

	report, err := g.GenerateAndPublish(context.Background(), 10, models.DefaultCatalog)
	if !errors.Is(err, ErrPublishFailed) || !errors.Is(err, errBrokerGone) {
		t.Fatalf("err = %v, want ErrPublishFailed wrapping the transport error", err)
	}
	var pe *PublishError
	if !errors.As(err, &pe) {
		t.Fatalf("err is not *PublishError: %T", err)
	}
	if pe.Published != 3 || pe.OrderID != 4 {
		t.Errorf("PublishError = %+v, want 3 published, failing order 4", pe)
	}
	if report.Published != 3 || report.LastOrderID != 3 {
		t.Errorf("report = %+v", report)
	}
	if ft.calls != 4 {
		t.Errorf("publish calls = %d, want 4", ft.calls)
	}
	if n := ft.Len(testQueue.Name); n != 3 {
		t.Errorf("queue length = %d, want 3", n)
	}
}

func TestGenerateAndPublish_InvalidInput(t *testing.T) {
	broker := messaging.NewMemoryBroker()
	g, err := NewOrderGenerator(context.Background(), broker, GeneratorConfig{Queue: testQueue}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewOrderGenerator error: %v", err)
	}

	if _, err := g.GenerateAndPublish(context.Background(), 0, models.DefaultCatalog); err == nil {
		t.Error("expected error for zero count")
	}
	if _, err := g.GenerateAndPublish(context.Background(), 3, models.Catalog{}); err == nil {
		t.Error("expected error for empty catalog")
	}
	if n := broker.Len(testQueue.Name); n != 0 {
		t.Errorf("queue length = %d, want 0", n)
	}
}

func TestGenerateAndPublish_Canceled(t *testing.T) {
	broker := messaging.NewMemoryBroker()
	ctx, cancel := context.WithCancel(context.Background())
	pace := func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}
	g, err := NewOrderGenerator(context.Background(), broker,
		GeneratorConfig{Queue: testQueue, Interval: time.Second},
		zaptest.NewLogger(t), WithPacer(pace))
	if err != nil {
		t.Fatalf("NewOrderGenerator error: %v", err)
	}

	report, err := g.GenerateAndPublish(ctx, 5, models.DefaultCatalog)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if report.Published != 1 {
		t.Errorf("Published = %d, want 1", report.Published)
	}
}

func TestNewOrderGenerator_QueueMismatch(t *testing.T) {
	broker := messaging.NewMemoryBroker()
	if err := broker.DeclareQueue(context.Background(), messaging.QueueSpec{Name: testQueue.Name}); err != nil {
		t.Fatalf("DeclareQueue error: %v", err)
	}
	_, err := NewOrderGenerator(context.Background(), broker, GeneratorConfig{Queue: testQueue}, zaptest.NewLogger(t))
	if !errors.Is(err, messaging.ErrQueueMismatch) {
		t.Errorf("err = %v, want ErrQueueMismatch", err)
	}
}
