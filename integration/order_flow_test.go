package integration

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/config"
	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/consumer"
	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/messaging"
	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/models"
	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/pipeline"
	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/publisher"
)

// recordingHandler wraps the pipeline and remembers every order it saw.
type recordingHandler struct {
	inner consumer.OrderHandler
	mu    sync.Mutex
	seen  []models.Order
}

func (h *recordingHandler) Process(ctx context.Context, o models.Order) error {
	h.mu.Lock()
	h.seen = append(h.seen, o)
	h.mu.Unlock()
	return h.inner.Process(ctx, o)
}

func (h *recordingHandler) orders() []models.Order {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.Order(nil), h.seen...)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Broker.Kind = config.BrokerMemory
	cfg.Producer.Interval = time.Millisecond
	cfg.Producer.Seed = 2024
	cfg.Consumer.StepDuration = time.Millisecond
	return cfg
}

var _ = Describe("Order flow", func() {
	var (
		ctx       context.Context
		cancel    context.CancelFunc
		cfg       *config.Config
		broker    *messaging.MemoryBroker
		logger    *zap.Logger
		handler   *recordingHandler
		processor *consumer.OrderConsumer
		runErr    chan error
	)

	startConsumer := func() {
		ctx, processor, handler, runErr := ctx, processor, handler, runErr
		go func() {
			defer GinkgoRecover()
			runErr <- processor.Run(ctx, handler)
		}()
	}

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		cfg = testConfig()
		broker = messaging.NewMemoryBroker()
		logger = zap.NewNop()
		steps := pipeline.NewBuilder(cfg.Consumer.ShippingRate, nil, logger).Build(pipeline.StepsFromConfig(cfg.Consumer))
		handler = &recordingHandler{inner: pipeline.New(steps, logger)}
		runErr = make(chan error, 1)
	})

	AfterEach(func() {
		cancel()
		broker.Close()
	})

	Context("with immediate acknowledgement", func() {
		BeforeEach(func() {
			processor = consumer.NewOrderConsumer(broker, consumer.ConsumerConfigFrom(cfg), logger)
		})

		It("processes a generated batch in publish order", func() {
			generator, err := publisher.NewOrderGenerator(ctx, broker, publisher.GeneratorConfigFrom(cfg), logger)
			Expect(err).NotTo(HaveOccurred())

			report, err := generator.GenerateAndPublish(ctx, 10, models.DefaultCatalog)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Published).To(Equal(10))

			startConsumer()
			Eventually(func() int64 {
				return processor.Stats().Snapshot().Succeeded
			}, 5*time.Second, 10*time.Millisecond).Should(Equal(int64(10)))

			orders := handler.orders()
			Expect(orders).To(HaveLen(10))
			for i, o := range orders {
				Expect(o.OrderID).To(Equal(i + 1))
				Expect(o.Validate()).To(Succeed())
			}
			Expect(broker.Len(cfg.Queue.Name)).To(BeZero())

			cancel()
			Eventually(runErr, 3*time.Second).Should(Receive(BeNil()))
		})

		It("keeps going after a malformed payload", func() {
			Expect(broker.DeclareQueue(ctx, messaging.QueueSpecFrom(cfg.Queue))).To(Succeed())
			Expect(broker.Publish(ctx, cfg.Queue.Name, messaging.NewMessage([]byte(`{"orderId":"x"}`)))).To(Succeed())

			valid, err := models.Encode(models.Order{OrderID: 1, Product: "Laptop", Quantity: 2, UnitPrice: 100})
			Expect(err).NotTo(HaveOccurred())
			Expect(broker.Publish(ctx, cfg.Queue.Name, messaging.NewMessage(valid))).To(Succeed())

			startConsumer()
			Eventually(func() consumer.StatsSnapshot {
				return processor.Stats().Snapshot()
			}, 5*time.Second, 10*time.Millisecond).Should(And(
				HaveField("Malformed", int64(1)),
				HaveField("Succeeded", int64(1)),
			))
			Expect(handler.orders()).To(HaveLen(1))
		})

		It("stops with a fatal error when the broker goes away", func() {
			startConsumer()
			time.Sleep(20 * time.Millisecond)
			broker.Disconnect(errors.New("node down"))

			var err error
			Eventually(runErr, 3*time.Second).Should(Receive(&err))
			Expect(errors.Is(err, messaging.ErrFatalTransport)).To(BeTrue())
		})
	})

	Context("with acknowledgement after success", func() {
		BeforeEach(func() {
			cfg.Consumer.AckMode = config.AckAfterSuccess
			processor = consumer.NewOrderConsumer(broker, consumer.ConsumerConfigFrom(cfg), logger)
		})

		It("redelivers a failed order once and then drops it", func() {
			failing := pipeline.New([]pipeline.Step{{
				Name: pipeline.StepInventoryValidation,
				Run: func(context.Context, models.Order) error {
					return errors.New("inventory unavailable")
				},
			}}, logger)
			handler = &recordingHandler{inner: failing}

			generator, err := publisher.NewOrderGenerator(ctx, broker, publisher.GeneratorConfigFrom(cfg), logger)
			Expect(err).NotTo(HaveOccurred())
			_, err = generator.GenerateAndPublish(ctx, 1, models.DefaultCatalog)
			Expect(err).NotTo(HaveOccurred())

			startConsumer()
			Eventually(func() int64 {
				return processor.Stats().Snapshot().Failed
			}, 5*time.Second, 10*time.Millisecond).Should(Equal(int64(2)))

			Consistently(func() int {
				return len(handler.orders())
			}, 200*time.Millisecond, 20*time.Millisecond).Should(Equal(2))
			Expect(broker.Len(cfg.Queue.Name)).To(BeZero())
			Expect(broker.Unacked(cfg.Queue.Name)).To(BeZero())
		})
	})
})
